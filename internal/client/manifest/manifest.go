// Package manifest fetches manifests and assets from an updates server over HTTP.
package manifest

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/DIMO-Network/updates-client/pkg/client"
	"github.com/DIMO-Network/updates-client/pkg/config"
	"github.com/DIMO-Network/updates-client/pkg/updates"
)

// Response bodies larger than these limits are rejected.
const (
	maxManifestSize = 8 << 20
	maxAssetSize    = 256 << 20
)

// Service implements updates.Downloader.
type Service struct {
	httpClient *http.Client
}

// NewService creates a new instance of Service with the TLS settings applied.
func NewService(settings *config.ClientTLSConfig) (*Service, error) {
	httpClient, err := client.NewHTTPClient(settings)
	if err != nil {
		return nil, err
	}
	return &Service{httpClient: httpClient}, nil
}

// NewServiceWithClient creates a Service that sends requests with httpClient.
func NewServiceWithClient(httpClient *http.Client) *Service {
	return &Service{httpClient: httpClient}
}

// FetchManifest requests the manifest at url. Any status code is returned to the
// caller; only transport failures are errors.
func (s *Service) FetchManifest(ctx context.Context, url string, headers http.Header) (*updates.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest request: %w", err)
	}
	req.Header = headers.Clone()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send manifest request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // ignore error

	body, err := readLimited(resp.Body, maxManifestSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest response body: %w", err)
	}
	return &updates.FetchResult{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// FetchAsset downloads the asset at url.
func (s *Service) FetchAsset(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send asset request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // ignore error

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("non-200 response for asset: %d", resp.StatusCode)
	}
	body, err := readLimited(resp.Body, maxAssetSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset body: %w", err)
	}
	return body, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return body, nil
}
