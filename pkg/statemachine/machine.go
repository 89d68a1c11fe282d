package statemachine

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// StateMachineError is a typed error for rejected state machine operations.
type StateMachineError string

func (e StateMachineError) Error() string { return string(e) }

const (
	// ErrInvalidTransition is returned when an event is not accepted in the current state,
	// or its destination state is not enabled for this machine.
	ErrInvalidTransition = StateMachineError("invalid state transition")
	// ErrInvalidState is returned when an operation requires a different current state.
	ErrInvalidState = StateMachineError("operation not allowed in current state")
)

var (
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "updates",
		Subsystem: "statemachine",
		Name:      "events_processed_total",
		Help:      "Events applied to the updates state machine.",
	}, []string{"event"})
	transitionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "updates",
		Subsystem: "statemachine",
		Name:      "transitions_rejected_total",
		Help:      "Events rejected because they are not legal in the current state.",
	}, []string{"state", "event"})
)

// stateEventTypes lists the events each state accepts.
var stateEventTypes = map[StateValue][]EventType{
	StateIdle: {
		EventTypeStartStartup,
		EventTypeEndStartup,
		EventTypeCheck,
		EventTypeDownload,
		EventTypeRestart,
	},
	StateChecking: {
		EventTypeCheckCompleteWithUpdate,
		EventTypeCheckCompleteWithRollback,
		EventTypeCheckCompleteUnavailable,
		EventTypeCheckError,
	},
	StateDownloading: {
		EventTypeDownloadComplete,
		EventTypeDownloadCompleteWithUpdate,
		EventTypeDownloadCompleteWithRollback,
		EventTypeDownloadError,
		EventTypeDownloadProgress,
	},
	StateRestarting: {},
}

// eventDestinations maps each event to the state it leads to.
var eventDestinations = map[EventType]StateValue{
	EventTypeStartStartup:                 StateIdle,
	EventTypeEndStartup:                   StateIdle,
	EventTypeCheck:                        StateChecking,
	EventTypeCheckCompleteWithUpdate:      StateIdle,
	EventTypeCheckCompleteWithRollback:    StateIdle,
	EventTypeCheckCompleteUnavailable:     StateIdle,
	EventTypeCheckError:                   StateIdle,
	EventTypeDownload:                     StateDownloading,
	EventTypeDownloadProgress:             StateDownloading,
	EventTypeDownloadComplete:             StateIdle,
	EventTypeDownloadCompleteWithUpdate:   StateIdle,
	EventTypeDownloadCompleteWithRollback: StateIdle,
	EventTypeDownloadError:                StateIdle,
	EventTypeRestart:                      StateRestarting,
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the machine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger.With().Str("component", "statemachine").Logger()
	}
}

// WithValidStates restricts the states the machine may enter. Events leading
// anywhere else are rejected. All states are valid by default.
func WithValidStates(states ...StateValue) Option {
	return func(m *Machine) {
		m.validStates = slices.Clone(states)
	}
}

// WithAssertions makes rejected transitions panic. Use it in development builds.
func WithAssertions() Option {
	return func(m *Machine) {
		m.assertions = true
	}
}

// WithClock sets the time source for lastCheckForUpdateTime.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// Machine owns the updates lifecycle state and its context. All transitions are
// serialized; sinks are notified in transition order.
type Machine struct {
	mu      sync.RWMutex
	state   StateValue
	context Context

	// held while notifying so deliveries cannot overtake each other
	notifyMu sync.Mutex
	sink     EventSink

	validStates []StateValue
	assertions  bool
	logger      zerolog.Logger
	now         func() time.Time
}

// NewMachine creates a machine in StateIdle with an empty context. sink may be nil.
// Sinks are called synchronously and must not call back into the machine.
func NewMachine(sink EventSink, opts ...Option) *Machine {
	m := &Machine{
		state:       StateIdle,
		sink:        sink,
		validStates: slices.Clone(AllStates),
		logger:      zerolog.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() StateValue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Context returns the current context snapshot.
func (m *Machine) Context() Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.context
}

// Snapshot returns the current state and context together.
func (m *Machine) Snapshot() (StateValue, Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.context
}

// ProcessEvent applies e if the current state accepts it. A rejected event leaves
// state and context untouched and returns ErrInvalidTransition.
func (m *Machine) ProcessEvent(e Event) error {
	m.mu.Lock()
	current := m.state
	if err := m.checkTransition(current, e.Type()); err != nil {
		m.mu.Unlock()
		return m.reject(current, e, err)
	}
	next, ok := reduce(m.context, e, m.now())
	if !ok {
		m.mu.Unlock()
		return m.reject(current, e, fmt.Errorf("%w: unsupported event value %T", ErrInvalidTransition, e))
	}
	m.state = eventDestinations[e.Type()]
	m.context = next
	snapshot := m.context
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	eventsProcessed.WithLabelValues(string(e.Type())).Inc()
	m.logger.Debug().
		Str("event", string(e.Type())).
		Stringer("from", current).
		Stringer("to", eventDestinations[e.Type()]).
		Int("sequenceNumber", snapshot.SequenceNumber).
		Msg("Processed state event.")
	if m.sink != nil {
		m.sink.Notify(e.Type(), snapshot)
	}
	return nil
}

// ResetAndIncrementRestartCount returns a restarted machine to StateIdle with a
// fresh context that keeps only the incremented restart count and sequence number.
func (m *Machine) ResetAndIncrementRestartCount() error {
	m.mu.Lock()
	if m.state != StateRestarting {
		current := m.state
		m.mu.Unlock()
		err := fmt.Errorf("%w: reset requires state %s, current state is %s", ErrInvalidState, StateRestarting, current)
		m.logger.Error().Err(err).Msg("Failed to reset state machine.")
		return err
	}
	m.state = StateIdle
	m.context = Context{
		RestartCount:   m.context.RestartCount + 1,
		SequenceNumber: m.context.SequenceNumber + 1,
	}
	snapshot := m.context
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	m.logger.Info().Int("restartCount", snapshot.RestartCount).Msg("State machine reset after restart.")
	if m.sink != nil {
		m.sink.Notify(EventTypeReset, snapshot)
	}
	return nil
}

func (m *Machine) checkTransition(current StateValue, eventType EventType) error {
	if !slices.Contains(stateEventTypes[current], eventType) {
		return fmt.Errorf("%w: event %s not accepted in state %s", ErrInvalidTransition, eventType, current)
	}
	dest, ok := eventDestinations[eventType]
	if !ok {
		return fmt.Errorf("%w: no destination for event %s", ErrInvalidTransition, eventType)
	}
	if !slices.Contains(m.validStates, dest) {
		return fmt.Errorf("%w: destination state %s is not enabled", ErrInvalidTransition, dest)
	}
	return nil
}

func (m *Machine) reject(current StateValue, e Event, err error) error {
	transitionsRejected.WithLabelValues(current.String(), string(e.Type())).Inc()
	m.logger.Error().Err(err).
		Stringer("state", current).
		Str("event", string(e.Type())).
		Msg("Rejected state event.")
	if m.assertions {
		panic(err)
	}
	return err
}
