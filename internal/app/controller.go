package app

import (
	"context"
	"errors"

	"github.com/DIMO-Network/updates-client/internal/store"
	"github.com/DIMO-Network/updates-client/pkg/statemachine"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Procedures builds the procedures the API can enqueue.
type Procedures interface {
	CheckForUpdate() statemachine.Procedure
	FetchUpdate() statemachine.Procedure
	CheckAndFetch() statemachine.Procedure
	Relaunch() statemachine.Procedure
}

// Queue runs procedures one at a time.
type Queue interface {
	QueueExecution(proc statemachine.Procedure) <-chan error
	Len() int
}

// StateReader exposes the current machine state.
type StateReader interface {
	Snapshot() (statemachine.StateValue, statemachine.Context)
}

// UpdateReader loads stored manifests.
type UpdateReader interface {
	Update(ctx context.Context, id string) (*store.UpdateRecord, error)
}

type Controller struct {
	procedures Procedures
	queue      Queue
	state      StateReader
	latest     *statemachine.Latest
	updates    UpdateReader
	logger     *zerolog.Logger
}

func NewController(procedures Procedures, queue Queue, state StateReader, latest *statemachine.Latest, updates UpdateReader, logger *zerolog.Logger) *Controller {
	return &Controller{
		procedures: procedures,
		queue:      queue,
		state:      state,
		latest:     latest,
		updates:    updates,
		logger:     logger,
	}
}

type stateResp struct {
	State     statemachine.StateValue `json:"state"`
	LastEvent statemachine.EventType  `json:"lastEvent,omitempty"`
	Context   statemachine.Context    `json:"context"`
}

// GetState returns the machine state and context.
func (c *Controller) GetState(ctx *fiber.Ctx) error {
	state, machineCtx := c.state.Snapshot()
	resp := stateResp{State: state, Context: machineCtx}
	if c.latest != nil {
		if snapshot, ok := c.latest.Load(); ok && snapshot.Context.SequenceNumber == machineCtx.SequenceNumber {
			resp.LastEvent = snapshot.EventType
		}
	}
	return ctx.JSON(resp)
}

// GetUpdate returns a stored manifest.
func (c *Controller) GetUpdate(ctx *fiber.Ctx) error {
	record, err := c.updates.Update(ctx.Context(), ctx.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "Update not found")
		}
		c.logger.Error().Err(err).Msg("Failed to load update")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to load update")
	}
	ctx.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return ctx.Send(record.Manifest)
}

func (c *Controller) Check(ctx *fiber.Ctx) error {
	return c.enqueue(ctx, c.procedures.CheckForUpdate())
}

func (c *Controller) Fetch(ctx *fiber.Ctx) error {
	return c.enqueue(ctx, c.procedures.FetchUpdate())
}

func (c *Controller) CheckAndFetch(ctx *fiber.Ctx) error {
	return c.enqueue(ctx, c.procedures.CheckAndFetch())
}

func (c *Controller) Relaunch(ctx *fiber.Ctx) error {
	return c.enqueue(ctx, c.procedures.Relaunch())
}

type procedureResp struct {
	Procedure string `json:"procedure"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// enqueue queues proc. With ?wait=true it responds once the procedure has run.
func (c *Controller) enqueue(ctx *fiber.Ctx, proc statemachine.Procedure) error {
	done := c.queue.QueueExecution(proc)
	if !ctx.QueryBool("wait") {
		return ctx.Status(fiber.StatusAccepted).JSON(procedureResp{Procedure: proc.Name(), Status: "queued"})
	}
	select {
	case err := <-done:
		if err != nil {
			return ctx.Status(fiber.StatusConflict).JSON(procedureResp{Procedure: proc.Name(), Status: "failed", Error: err.Error()})
		}
		return ctx.JSON(procedureResp{Procedure: proc.Name(), Status: "done"})
	case <-ctx.Context().Done():
		return fiber.NewError(fiber.StatusRequestTimeout, "Request cancelled")
	}
}
