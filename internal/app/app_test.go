package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/DIMO-Network/updates-client/internal/app"
	"github.com/DIMO-Network/updates-client/internal/store"
	"github.com/DIMO-Network/updates-client/pkg/statemachine"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeProcedures struct{}

func event(name string, events ...statemachine.Event) statemachine.Procedure {
	return statemachine.ProcedureFunc{ProcedureName: name, Func: func(_ context.Context, pc statemachine.ProcedureContext) error {
		for _, e := range events {
			if err := pc.ProcessStateEvent(e); err != nil {
				return err
			}
		}
		return nil
	}}
}

func (fakeProcedures) CheckForUpdate() statemachine.Procedure {
	return event("check-for-update", statemachine.CheckEvent{}, statemachine.CheckCompleteWithUpdateEvent{Manifest: json.RawMessage(`{"id":"a"}`)})
}

func (fakeProcedures) FetchUpdate() statemachine.Procedure {
	return event("fetch-update", statemachine.DownloadEvent{}, statemachine.DownloadErrorEvent{Message: "offline"})
}

func (fakeProcedures) CheckAndFetch() statemachine.Procedure {
	return event("check-and-fetch", statemachine.CheckEvent{}, statemachine.CheckCompleteUnavailableEvent{})
}

func (fakeProcedures) Relaunch() statemachine.Procedure {
	// a completion event in Idle is rejected
	return event("relaunch", statemachine.DownloadCompleteEvent{})
}

type fakeUpdates struct{}

func (fakeUpdates) Update(_ context.Context, id string) (*store.UpdateRecord, error) {
	switch id {
	case "a":
		return &store.UpdateRecord{ID: "a", Manifest: json.RawMessage(`{"id":"a"}`)}, nil
	case "broken":
		return nil, errors.New("disk on fire")
	}
	return nil, store.ErrNotFound
}

func newTestApp(t *testing.T) (*fiber.App, *statemachine.SerialExecutorQueue) {
	t.Helper()
	logger := zerolog.Nop()
	latest := &statemachine.Latest{}
	machine := statemachine.NewMachine(latest)
	queue := statemachine.NewSerialExecutorQueue(machine, logger)
	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)
	go func() {
		_ = queue.Start(ctx)
	}()
	ctrl := app.NewController(fakeProcedures{}, queue, machine, latest, fakeUpdates{}, &logger)
	return app.CreateWebServer(&logger, ctrl), queue
}

func doRequest(t *testing.T, fiberApp *fiber.App, method, target string) (int, map[string]any) {
	t.Helper()
	resp, err := fiberApp.Test(httptest.NewRequest(method, target, nil), 5000)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	var out map[string]any
	if len(body) > 0 {
		require.NoError(t, json.Unmarshal(body, &out), string(body))
	}
	return resp.StatusCode, out
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	fiberApp, _ := newTestApp(t)
	code, body := doRequest(t, fiberApp, fiber.MethodGet, "/")
	require.Equal(t, fiber.StatusOK, code)
	require.Equal(t, "Server is up and running", body["data"])
}

func TestCheckAndState(t *testing.T) {
	t.Parallel()
	fiberApp, _ := newTestApp(t)

	code, body := doRequest(t, fiberApp, fiber.MethodPost, "/check?wait=true")
	require.Equal(t, fiber.StatusOK, code)
	require.Equal(t, "check-for-update", body["procedure"])
	require.Equal(t, "done", body["status"])

	code, body = doRequest(t, fiberApp, fiber.MethodGet, "/state")
	require.Equal(t, fiber.StatusOK, code)
	require.Equal(t, "idle", body["state"])
	require.Equal(t, "checkCompleteWithUpdate", body["lastEvent"])
	machineCtx := body["context"].(map[string]any)
	require.Equal(t, true, machineCtx["isUpdateAvailable"])
	require.InDelta(t, 2, machineCtx["sequenceNumber"], 0)
}

func TestEnqueueWithoutWait(t *testing.T) {
	t.Parallel()
	fiberApp, _ := newTestApp(t)
	code, body := doRequest(t, fiberApp, fiber.MethodPost, "/check-and-fetch")
	require.Equal(t, fiber.StatusAccepted, code)
	require.Equal(t, "queued", body["status"])
}

func TestFailedProcedures(t *testing.T) {
	t.Parallel()
	fiberApp, _ := newTestApp(t)

	code, body := doRequest(t, fiberApp, fiber.MethodPost, "/relaunch?wait=true")
	require.Equal(t, fiber.StatusConflict, code)
	require.Equal(t, "failed", body["status"])
	require.Contains(t, body["error"], "invalid state transition")

	code, body = doRequest(t, fiberApp, fiber.MethodPost, "/fetch?wait=true")
	require.Equal(t, fiber.StatusOK, code)
	require.Equal(t, "done", body["status"])
	_, body = doRequest(t, fiberApp, fiber.MethodGet, "/state")
	machineCtx := body["context"].(map[string]any)
	require.Equal(t, map[string]any{"message": "offline"}, machineCtx["downloadError"])
}

func TestGetUpdate(t *testing.T) {
	t.Parallel()
	fiberApp, _ := newTestApp(t)

	code, body := doRequest(t, fiberApp, fiber.MethodGet, "/updates/a")
	require.Equal(t, fiber.StatusOK, code)
	require.Equal(t, "a", body["id"])

	code, body = doRequest(t, fiberApp, fiber.MethodGet, "/updates/b")
	require.Equal(t, fiber.StatusNotFound, code)
	require.Equal(t, "Update not found", body["message"])

	code, _ = doRequest(t, fiberApp, fiber.MethodGet, "/updates/broken")
	require.Equal(t, fiber.StatusInternalServerError, code)
}
