package updates

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/DIMO-Network/updates-client/pkg/codesigning"
	"github.com/DIMO-Network/updates-client/pkg/config"
	"github.com/DIMO-Network/updates-client/pkg/statemachine"
	"github.com/DIMO-Network/updates-client/pkg/watchdog"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Service holds the collaborators shared by the update procedures.
type Service struct {
	settings   *config.UpdatesSettings
	downloader Downloader
	db         Database
	verifier   *Verifier
	signing    *codesigning.Configuration
	watchdog   *watchdog.Watchdog
	reloader   Reloader
}

// NewService creates a Service. signing may be nil to disable code signing.
func NewService(settings *config.UpdatesSettings, downloader Downloader, db Database, signing *codesigning.Configuration, reloader Reloader) (*Service, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid updates settings: %w", err)
	}
	dog, err := watchdog.New(&settings.Watchdog)
	if err != nil {
		return nil, fmt.Errorf("failed to create download watchdog: %w", err)
	}
	return &Service{
		settings:   settings,
		downloader: downloader,
		db:         db,
		verifier:   NewVerifier(signing),
		signing:    signing,
		watchdog:   dog,
		reloader:   reloader,
	}, nil
}

// RequestHeaders returns the headers sent with every manifest request.
func (s *Service) RequestHeaders(ctx context.Context) (http.Header, error) {
	headers := http.Header{}
	headers.Set("Accept", AcceptManifestMediaType)
	headers.Set(HeaderProtocolVersion, "1")
	headers.Set(HeaderPlatform, s.settings.Platform)
	headers.Set(HeaderRuntimeVersion, s.settings.RuntimeVersion)
	if s.settings.Channel != "" {
		headers.Set(HeaderChannelName, s.settings.Channel)
	}
	if s.signing != nil {
		expect, err := s.signing.AcceptSignatureHeader()
		if err != nil {
			return nil, err
		}
		headers.Set(HeaderExpectSignature, expect)
	}
	launched, err := s.launchedUpdateID(ctx)
	if err != nil {
		return nil, err
	}
	if launched != "" && launched != EmbeddedUpdateID {
		headers.Set(HeaderCurrentUpdateID, launched)
	}
	return headers, nil
}

// FetchUpdateResponse requests, parses and verifies the current manifest response.
func (s *Service) FetchUpdateResponse(ctx context.Context) (*UpdateResponse, error) {
	headers, err := s.RequestHeaders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build request headers: %w", err)
	}
	res, err := s.downloader.FetchManifest(ctx, s.settings.UpdateURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	if res.StatusCode == http.StatusNoContent {
		return &UpdateResponse{}, nil
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", ErrInvalidResponse, res.StatusCode)
	}
	parsed, err := ParseResponse(res.Header, res.Body)
	if err != nil {
		return nil, err
	}
	return s.verifier.Verify(ctx, parsed)
}

func (s *Service) launchedUpdateID(ctx context.Context) (string, error) {
	var id string
	err := s.db.Transaction(ctx, func(tx Tx) error {
		var err error
		id, err = tx.LaunchedUpdateID()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to read launched update: %w", err)
	}
	return id, nil
}

// check runs a check and returns the event that completes it.
func (s *Service) check(ctx context.Context) (statemachine.Event, error) {
	logger := zerolog.Ctx(ctx)
	resp, err := s.FetchUpdateResponse(ctx)
	if err != nil {
		return nil, err
	}
	if resp.Directive != nil {
		switch resp.Directive.Type {
		case DirectiveRollBackToEmbedded:
			return statemachine.CheckCompleteWithRollbackEvent{CommitTime: resp.Directive.CommitTime()}, nil
		case DirectiveNoUpdateAvailable:
			return statemachine.CheckCompleteUnavailableEvent{}, nil
		}
	}
	if resp.Manifest == nil {
		return statemachine.CheckCompleteUnavailableEvent{}, nil
	}
	if resp.Manifest.RuntimeVersion != s.settings.RuntimeVersion {
		logger.Warn().
			Str("updateId", resp.Manifest.ID).
			Str("runtimeVersion", resp.Manifest.RuntimeVersion).
			Msg("Ignoring update for another runtime version.")
		return statemachine.CheckCompleteUnavailableEvent{}, nil
	}
	launched, err := s.launchedUpdateID(ctx)
	if err != nil {
		return nil, err
	}
	if resp.Manifest.ID == launched {
		return statemachine.CheckCompleteUnavailableEvent{}, nil
	}
	return statemachine.CheckCompleteWithUpdateEvent{Manifest: resp.Manifest.Raw}, nil
}

// fetch downloads and stores the current update and returns the event that completes the download.
func (s *Service) fetch(ctx context.Context, pc statemachine.ProcedureContext) (statemachine.Event, error) {
	resp, err := s.FetchUpdateResponse(ctx)
	if err != nil {
		return nil, err
	}
	if resp.Directive != nil && resp.Directive.Type == DirectiveRollBackToEmbedded {
		err := s.db.Transaction(ctx, func(tx Tx) error {
			return tx.SetPendingUpdateID(EmbeddedUpdateID)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to store rollback: %w", err)
		}
		return statemachine.DownloadCompleteWithRollbackEvent{}, nil
	}
	if resp.Manifest == nil || (resp.Directive != nil && resp.Directive.Type == DirectiveNoUpdateAvailable) {
		return nil, ErrNoUpdateAvailable
	}
	manifest := resp.Manifest

	var launched, pending string
	var missing []Asset
	err = s.db.Transaction(ctx, func(tx Tx) error {
		var err error
		if launched, err = tx.LaunchedUpdateID(); err != nil {
			return err
		}
		if pending, err = tx.PendingUpdateID(); err != nil {
			return err
		}
		missing, err = missingAssets(tx, manifest.AllAssets())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read stored update: %w", err)
	}
	if manifest.ID == launched {
		return nil, fmt.Errorf("%w: update %s is already running", ErrNoUpdateAvailable, manifest.ID)
	}
	if manifest.ID == pending {
		return statemachine.DownloadCompleteEvent{}, nil
	}

	downloaded, err := s.downloadAssets(ctx, pc, missing)
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(ctx, func(tx Tx) error {
		for _, asset := range missing {
			if err := tx.PutAsset(asset.Key, downloaded[asset.Key]); err != nil {
				return err
			}
		}
		if err := tx.PutUpdate(manifest.ID, manifest.Raw); err != nil {
			return err
		}
		return tx.SetPendingUpdateID(manifest.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store update %s: %w", manifest.ID, err)
	}
	return statemachine.DownloadCompleteWithUpdateEvent{Manifest: manifest.Raw}, nil
}

func missingAssets(tx Tx, assets []Asset) ([]Asset, error) {
	var missing []Asset
	seen := map[string]struct{}{}
	for _, asset := range assets {
		if _, ok := seen[asset.Key]; ok {
			continue
		}
		seen[asset.Key] = struct{}{}
		ok, err := tx.HasAsset(asset.Key)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, asset)
		}
	}
	return missing, nil
}

// downloadAssets fetches assets in parallel, reporting progress after each one.
// The watchdog fails the download when no asset completes within its interval.
func (s *Service) downloadAssets(ctx context.Context, pc statemachine.ProcedureContext, assets []Asset) (map[string][]byte, error) {
	results := make(map[string][]byte, len(assets))
	if len(assets) == 0 {
		return results, nil
	}

	var mu sync.Mutex
	completed := 0
	heartbeat := make(chan struct{}, 1)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.watchdog.Watch(groupCtx, heartbeat)
	})
	group.Go(func() error {
		defer close(heartbeat)
		downloads, downloadCtx := errgroup.WithContext(groupCtx)
		downloads.SetLimit(s.settings.MaxConcurrentDownloads)
		for _, asset := range assets {
			downloads.Go(func() error {
				if err := downloadCtx.Err(); err != nil {
					return err
				}
				data, err := s.downloader.FetchAsset(downloadCtx, asset.URL)
				if err != nil {
					return fmt.Errorf("failed to download asset %s: %w", asset.Key, err)
				}
				if err := verifyAssetHash(asset, data); err != nil {
					return err
				}

				mu.Lock()
				results[asset.Key] = data
				completed++
				progressErr := pc.ProcessStateEvent(statemachine.DownloadProgressEvent{Progress: float64(completed) / float64(len(assets))})
				mu.Unlock()
				if progressErr != nil {
					zerolog.Ctx(ctx).Warn().Err(progressErr).Msg("Failed to report download progress.")
				}

				select {
				case heartbeat <- struct{}{}:
				default:
				}
				return nil
			})
		}
		return downloads.Wait()
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func verifyAssetHash(asset Asset, data []byte) error {
	if asset.Hash == "" {
		return nil
	}
	sum := sha256.Sum256(data)
	got := base64.RawURLEncoding.EncodeToString(sum[:])
	if got != strings.TrimRight(asset.Hash, "=") {
		return fmt.Errorf("%w: asset %s expected %s, got %s", ErrAssetHashMismatch, asset.Key, asset.Hash, got)
	}
	return nil
}

// relaunch promotes the pending update and reloads the application on it.
func (s *Service) relaunch(ctx context.Context) (string, error) {
	var launched string
	err := s.db.Transaction(ctx, func(tx Tx) error {
		pending, err := tx.PendingUpdateID()
		if err != nil {
			return err
		}
		if pending != "" {
			if err := tx.SetLaunchedUpdateID(pending); err != nil {
				return err
			}
			if err := tx.SetPendingUpdateID(""); err != nil {
				return err
			}
		}
		launched, err = tx.LaunchedUpdateID()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to promote pending update: %w", err)
	}
	if s.reloader == nil {
		return launched, errors.New("no reloader configured")
	}
	return launched, s.reloader.Reload(ctx, launched)
}
