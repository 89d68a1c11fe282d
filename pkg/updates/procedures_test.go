package updates_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/DIMO-Network/updates-client/pkg/config"
	"github.com/DIMO-Network/updates-client/pkg/statemachine"
	"github.com/DIMO-Network/updates-client/pkg/updates"
	"github.com/DIMO-Network/updates-client/pkg/watchdog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu        sync.Mutex
	events    []statemachine.EventType
	snapshots []statemachine.Context
}

func (s *recordingSink) Notify(eventType statemachine.EventType, snapshot statemachine.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, eventType)
	s.snapshots = append(s.snapshots, snapshot)
}

func (s *recordingSink) recorded() ([]statemachine.EventType, []statemachine.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]statemachine.EventType(nil), s.events...), append([]statemachine.Context(nil), s.snapshots...)
}

type harness struct {
	service    *updates.Service
	machine    *statemachine.Machine
	queue      *statemachine.SerialExecutorQueue
	sink       *recordingSink
	downloader *fakeDownloader
	db         *memDB

	mu      sync.Mutex
	reloads []string
}

func newHarness(t *testing.T, settings *config.UpdatesSettings) *harness {
	t.Helper()
	h := &harness{
		sink:       &recordingSink{},
		downloader: &fakeDownloader{},
		db:         newMemDB(),
	}
	reloader := updates.ReloaderFunc(func(_ context.Context, updateID string) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.reloads = append(h.reloads, updateID)
		return nil
	})
	service, err := updates.NewService(settings, h.downloader, h.db, nil, reloader)
	require.NoError(t, err)
	h.service = service
	h.machine = statemachine.NewMachine(h.sink)
	h.queue = statemachine.NewSerialExecutorQueue(h.machine, zerolog.Nop())

	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)
	go func() {
		_ = h.queue.Start(ctx)
	}()
	return h
}

func (h *harness) run(t *testing.T, proc statemachine.Procedure) error {
	t.Helper()
	select {
	case err := <-h.queue.QueueExecution(proc):
		return err
	case <-time.After(10 * time.Second):
		t.Fatalf("procedure %s did not finish", proc.Name())
		return nil
	}
}

func (h *harness) serveManifest(body []byte) {
	header := http.Header{}
	header.Set("Content-Type", "application/expo+json")
	header.Set("expo-protocol-version", "1")
	h.downloader.manifest = &updates.FetchResult{StatusCode: http.StatusOK, Header: header, Body: body}
}

func TestCheckForUpdate_WithUpdate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSettings())
	body := manifestJSON(t, "a")
	h.serveManifest(body)

	require.NoError(t, h.run(t, h.service.CheckForUpdate()))

	events, _ := h.sink.recorded()
	require.Equal(t, []statemachine.EventType{statemachine.EventTypeCheck, statemachine.EventTypeCheckCompleteWithUpdate}, events)
	state, ctx := h.machine.Snapshot()
	require.Equal(t, statemachine.StateIdle, state)
	require.True(t, ctx.IsUpdateAvailable)
	require.JSONEq(t, string(body), string(ctx.LatestManifest))
	require.NotNil(t, ctx.LastCheckForUpdateTime)

	require.Len(t, h.downloader.requests, 1)
	headers := h.downloader.requests[0]
	require.Equal(t, updates.AcceptManifestMediaType, headers.Get("Accept"))
	require.Equal(t, "1", headers.Get(updates.HeaderProtocolVersion))
	require.Equal(t, "ios", headers.Get(updates.HeaderPlatform))
	require.Equal(t, testRuntimeVersion, headers.Get(updates.HeaderRuntimeVersion))
	require.Equal(t, "production", headers.Get(updates.HeaderChannelName))
	require.Empty(t, headers.Get(updates.HeaderCurrentUpdateID))
	require.Empty(t, headers.Get(updates.HeaderExpectSignature))
}

func TestCheckForUpdate_Unavailable(t *testing.T) {
	t.Parallel()
	t.Run("already launched", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testSettings())
		h.db.launched = "a"
		h.serveManifest(manifestJSON(t, "a"))

		require.NoError(t, h.run(t, h.service.CheckForUpdate()))
		require.False(t, h.machine.Context().IsUpdateAvailable)
		require.Equal(t, "a", h.downloader.requests[0].Get(updates.HeaderCurrentUpdateID))
	})
	t.Run("no content", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testSettings())
		h.downloader.manifest = &updates.FetchResult{StatusCode: http.StatusNoContent, Header: http.Header{}}

		require.NoError(t, h.run(t, h.service.CheckForUpdate()))
		events, _ := h.sink.recorded()
		require.Equal(t, statemachine.EventTypeCheckCompleteUnavailable, events[len(events)-1])
	})
	t.Run("directive", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testSettings())
		header, body := multipartBody(t, multipartPart{name: "directive", body: []byte(`{"type":"noUpdateAvailable"}`)})
		h.downloader.manifest = &updates.FetchResult{StatusCode: http.StatusOK, Header: header, Body: body}

		require.NoError(t, h.run(t, h.service.CheckForUpdate()))
		require.False(t, h.machine.Context().IsUpdateAvailable)
	})
}

func TestCheckForUpdate_Rollback(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSettings())
	header, body := multipartBody(t, multipartPart{
		name: "directive",
		body: []byte(`{"type":"rollBackToEmbedded","parameters":{"commitTime":"2024-04-30T08:00:00.000Z"}}`),
	})
	h.downloader.manifest = &updates.FetchResult{StatusCode: http.StatusOK, Header: header, Body: body}

	require.NoError(t, h.run(t, h.service.CheckForUpdate()))
	ctx := h.machine.Context()
	require.True(t, ctx.IsUpdateAvailable)
	require.True(t, ctx.IsRollback())
	require.Equal(t, time.Date(2024, 4, 30, 8, 0, 0, 0, time.UTC), ctx.Rollback.CommitTime.UTC())
}

func TestCheckForUpdate_Error(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSettings())

	require.Error(t, h.run(t, h.service.CheckForUpdate()))
	state, ctx := h.machine.Snapshot()
	require.Equal(t, statemachine.StateIdle, state)
	require.NotNil(t, ctx.CheckError)
	require.Contains(t, ctx.CheckError.Message, "connection refused")
	require.False(t, ctx.IsChecking)

	h.downloader.manifest = &updates.FetchResult{StatusCode: http.StatusInternalServerError}
	require.ErrorIs(t, h.run(t, h.service.CheckForUpdate()), updates.ErrInvalidResponse)
}

func TestCheckAndFetch_DownloadsAssets(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSettings())
	icon := testAsset{key: "icon", data: []byte("png")}
	body := manifestJSON(t, "a", icon)
	h.serveManifest(body)
	h.downloader.serveAssets("a", icon)

	require.NoError(t, h.run(t, h.service.CheckAndFetch()))

	events, snapshots := h.sink.recorded()
	require.Equal(t, []statemachine.EventType{
		statemachine.EventTypeCheck,
		statemachine.EventTypeCheckCompleteWithUpdate,
		statemachine.EventTypeDownload,
		statemachine.EventTypeDownloadProgress,
		statemachine.EventTypeDownloadProgress,
		statemachine.EventTypeDownloadCompleteWithUpdate,
	}, events)
	require.InDelta(t, 0.5, snapshots[3].DownloadProgress, 1e-9)
	require.InDelta(t, 1.0, snapshots[4].DownloadProgress, 1e-9)

	ctx := h.machine.Context()
	require.True(t, ctx.IsUpdatePending)
	require.JSONEq(t, string(body), string(ctx.DownloadedManifest))
	require.Equal(t, "a", h.db.pending)
	require.Contains(t, h.db.updates, "a")
	require.Equal(t, []byte("png"), h.db.assets["icon"])
	require.Equal(t, []byte("bundle-a"), h.db.assets["bundle"])
}

func TestFetchUpdate_SkipsStoredAssets(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSettings())
	icon := testAsset{key: "icon", data: []byte("png")}
	h.serveManifest(manifestJSON(t, "a", icon))
	h.downloader.serveAssets("a", icon)
	h.db.assets["icon"] = []byte("png")

	require.NoError(t, h.run(t, h.service.FetchUpdate()))
	require.Equal(t, 1, h.downloader.assetRequests)
	require.Equal(t, "a", h.db.pending)
}

func TestFetchUpdate_AssetHashMismatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSettings())
	icon := testAsset{key: "icon", data: []byte("png")}
	h.serveManifest(manifestJSON(t, "a", icon))
	h.downloader.serveAssets("a", testAsset{key: "icon", data: []byte("tampered")})

	require.ErrorIs(t, h.run(t, h.service.FetchUpdate()), updates.ErrAssetHashMismatch)
	ctx := h.machine.Context()
	require.NotNil(t, ctx.DownloadError)
	require.False(t, ctx.IsDownloading)
	require.False(t, ctx.IsUpdatePending)
	require.Empty(t, h.db.pending)
	require.Empty(t, h.db.updates)
}

func TestFetchUpdate_Stalled(t *testing.T) {
	t.Parallel()
	settings := testSettings()
	settings.Watchdog.Interval = 50 * time.Millisecond
	h := newHarness(t, settings)
	h.serveManifest(manifestJSON(t, "a"))
	h.downloader.block = true

	require.ErrorIs(t, h.run(t, h.service.FetchUpdate()), watchdog.ErrDownloadStalled)
	state, ctx := h.machine.Snapshot()
	require.Equal(t, statemachine.StateIdle, state)
	require.NotNil(t, ctx.DownloadError)
}

func TestFetchUpdate_AlreadyPending(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSettings())
	h.db.pending = "a"
	h.serveManifest(manifestJSON(t, "a"))

	require.NoError(t, h.run(t, h.service.FetchUpdate()))
	events, _ := h.sink.recorded()
	require.Equal(t, []statemachine.EventType{statemachine.EventTypeDownload, statemachine.EventTypeDownloadComplete}, events)
	require.Zero(t, h.downloader.assetRequests)
	require.True(t, h.machine.Context().IsUpdatePending)
}

func TestFetchUpdate_NoUpdate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSettings())
	h.downloader.manifest = &updates.FetchResult{StatusCode: http.StatusNoContent}

	require.ErrorIs(t, h.run(t, h.service.FetchUpdate()), updates.ErrNoUpdateAvailable)
	require.NotNil(t, h.machine.Context().DownloadError)
}

func TestFetchUpdate_Rollback(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSettings())
	header, body := multipartBody(t, multipartPart{
		name: "directive",
		body: []byte(`{"type":"rollBackToEmbedded","parameters":{"commitTime":"2024-04-30T08:00:00.000Z"}}`),
	})
	h.downloader.manifest = &updates.FetchResult{StatusCode: http.StatusOK, Header: header, Body: body}

	require.NoError(t, h.run(t, h.service.CheckAndFetch()))
	events, _ := h.sink.recorded()
	require.Equal(t, statemachine.EventTypeDownloadCompleteWithRollback, events[len(events)-1])
	require.Equal(t, updates.EmbeddedUpdateID, h.db.pending)
	ctx := h.machine.Context()
	require.True(t, ctx.IsUpdatePending)
	require.True(t, ctx.IsRollback())
}

func TestStartup(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSettings())
	h.downloader.manifest = &updates.FetchResult{StatusCode: http.StatusNoContent}

	require.NoError(t, h.run(t, h.service.Startup()))
	events, snapshots := h.sink.recorded()
	require.Equal(t, []statemachine.EventType{
		statemachine.EventTypeStartStartup,
		statemachine.EventTypeCheck,
		statemachine.EventTypeCheckCompleteUnavailable,
		statemachine.EventTypeEndStartup,
	}, events)
	require.True(t, snapshots[1].IsStartupProcedureRunning)
	require.False(t, snapshots[3].IsStartupProcedureRunning)

	settings := testSettings()
	settings.CheckOnLaunch = false
	quiet := newHarness(t, settings)
	require.NoError(t, quiet.run(t, quiet.service.Startup()))
	events, _ = quiet.sink.recorded()
	require.Equal(t, []statemachine.EventType{statemachine.EventTypeStartStartup, statemachine.EventTypeEndStartup}, events)
	require.Empty(t, quiet.downloader.requests)
}

func TestStartup_CheckErrorStillEnds(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSettings())

	require.Error(t, h.run(t, h.service.Startup()))
	events, _ := h.sink.recorded()
	require.Equal(t, statemachine.EventTypeEndStartup, events[len(events)-1])
	require.False(t, h.machine.Context().IsStartupProcedureRunning)
}

func TestRelaunch(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSettings())
	icon := testAsset{key: "icon", data: []byte("png")}
	h.serveManifest(manifestJSON(t, "a", icon))
	h.downloader.serveAssets("a", icon)
	require.NoError(t, h.run(t, h.service.CheckAndFetch()))
	seq := h.machine.Context().SequenceNumber

	require.NoError(t, h.run(t, h.service.Relaunch()))

	state, ctx := h.machine.Snapshot()
	require.Equal(t, statemachine.StateIdle, state)
	require.Equal(t, 1, ctx.RestartCount)
	require.Equal(t, seq+2, ctx.SequenceNumber)
	require.False(t, ctx.IsUpdatePending)
	require.Nil(t, ctx.LatestManifest)
	require.Equal(t, "a", h.db.launched)
	require.Empty(t, h.db.pending)
	h.mu.Lock()
	require.Equal(t, []string{"a"}, h.reloads)
	h.mu.Unlock()

	events, _ := h.sink.recorded()
	require.Equal(t, []statemachine.EventType{statemachine.EventTypeRestart, statemachine.EventTypeReset}, events[len(events)-2:])

	// the relaunched update is now reported to the server
	require.NoError(t, h.run(t, h.service.CheckForUpdate()))
	require.Equal(t, "a", h.downloader.requests[len(h.downloader.requests)-1].Get(updates.HeaderCurrentUpdateID))
	require.False(t, h.machine.Context().IsUpdateAvailable)
}
