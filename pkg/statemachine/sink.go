package statemachine

import "sync/atomic"

// EventSink receives every context produced by the machine, in order.
type EventSink interface {
	Notify(eventType EventType, snapshot Context)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(eventType EventType, snapshot Context)

// Notify calls f.
func (f EventSinkFunc) Notify(eventType EventType, snapshot Context) { f(eventType, snapshot) }

// MultiSink fans notifications out to several sinks in order.
type MultiSink []EventSink

// Notify forwards to every non-nil sink.
func (s MultiSink) Notify(eventType EventType, snapshot Context) {
	for _, sink := range s {
		if sink != nil {
			sink.Notify(eventType, snapshot)
		}
	}
}

// Snapshot is a context together with the event that produced it.
type Snapshot struct {
	EventType EventType `json:"type"`
	Context   Context   `json:"context"`
}

// Latest keeps the newest snapshot it has observed. Snapshots that arrive out of
// order are dropped by sequence number. It is safe for concurrent use.
type Latest struct {
	current atomic.Pointer[Snapshot]
}

// Notify implements EventSink.
func (l *Latest) Notify(eventType EventType, snapshot Context) {
	l.Observe(eventType, snapshot)
}

// Observe stores the snapshot if it is newer than the stored one and reports whether it was kept.
func (l *Latest) Observe(eventType EventType, snapshot Context) bool {
	next := &Snapshot{EventType: eventType, Context: snapshot}
	for {
		old := l.current.Load()
		if old != nil && old.Context.SequenceNumber >= snapshot.SequenceNumber {
			return false
		}
		if l.current.CompareAndSwap(old, next) {
			return true
		}
	}
}

// Load returns the newest snapshot, if any.
func (l *Latest) Load() (Snapshot, bool) {
	s := l.current.Load()
	if s == nil {
		return Snapshot{}, false
	}
	return *s, true
}
