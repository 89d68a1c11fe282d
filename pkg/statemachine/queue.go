package statemachine

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var proceduresRun = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "updates",
	Subsystem: "statemachine",
	Name:      "procedures_total",
	Help:      "Procedures run by the serial executor queue by outcome.",
}, []string{"procedure", "result"})

type queuedProcedure struct {
	id   uuid.UUID
	proc Procedure
	done chan error
}

// SerialExecutorQueue runs procedures one at a time in the order they were queued.
// A failing or panicking procedure does not stop the queue.
type SerialExecutorQueue struct {
	machine *Machine
	logger  zerolog.Logger

	mu      sync.Mutex
	pending []queuedProcedure
	signal  chan struct{}
}

// NewSerialExecutorQueue creates a queue whose procedures drive machine.
func NewSerialExecutorQueue(machine *Machine, logger zerolog.Logger) *SerialExecutorQueue {
	return &SerialExecutorQueue{
		machine: machine,
		logger:  logger.With().Str("component", "procedure_queue").Logger(),
		signal:  make(chan struct{}, 1),
	}
}

// QueueExecution adds proc to the queue without blocking. The returned channel
// receives the procedure's result once it has run.
func (q *SerialExecutorQueue) QueueExecution(proc Procedure) <-chan error {
	item := queuedProcedure{
		id:   uuid.Must(uuid.NewV4()),
		proc: proc,
		done: make(chan error, 1),
	}
	q.mu.Lock()
	q.pending = append(q.pending, item)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return item.done
}

// Len returns the number of procedures waiting to run.
func (q *SerialExecutorQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Start runs queued procedures until ctx is cancelled. Procedures still queued
// at that point receive ctx.Err().
func (q *SerialExecutorQueue) Start(ctx context.Context) error {
	for {
		item, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				q.drain(ctx.Err())
				return nil
			case <-q.signal:
				continue
			}
		}
		if ctx.Err() != nil {
			item.done <- ctx.Err()
			q.drain(ctx.Err())
			return nil
		}
		item.done <- q.run(ctx, item)
	}
}

func (q *SerialExecutorQueue) next() (queuedProcedure, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return queuedProcedure{}, false
	}
	item := q.pending[0]
	q.pending[0] = queuedProcedure{}
	q.pending = q.pending[1:]
	return item, true
}

func (q *SerialExecutorQueue) drain(err error) {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, item := range pending {
		item.done <- err
	}
}

func (q *SerialExecutorQueue) run(ctx context.Context, item queuedProcedure) (err error) {
	logger := q.logger.With().
		Str("procedure", item.proc.Name()).
		Str("procedureId", item.id.String()).
		Logger()
	ctx = logger.WithContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("procedure %s panicked: %v", item.proc.Name(), r)
		}
		if err != nil {
			proceduresRun.WithLabelValues(item.proc.Name(), "error").Inc()
			logger.Error().Err(err).Msg("Procedure failed.")
			return
		}
		proceduresRun.WithLabelValues(item.proc.Name(), "success").Inc()
		logger.Debug().Msg("Procedure finished.")
	}()

	logger.Debug().Msg("Procedure started.")
	return item.proc.Run(ctx, machineProcedureContext{machine: q.machine})
}
