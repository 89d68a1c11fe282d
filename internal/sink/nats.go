// Package sink publishes state machine snapshots to NATS.
package sink

import (
	"encoding/json"
	"fmt"

	"github.com/DIMO-Network/updates-client/pkg/statemachine"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "updates.state"

// Publisher is the part of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// NATSSink publishes every snapshot as JSON to "<subject>.<event type>".
type NATSSink struct {
	pub     Publisher
	subject string
	logger  zerolog.Logger
}

// NewNATSSink creates a sink publishing through pub.
func NewNATSSink(pub Publisher, subject string, logger zerolog.Logger) *NATSSink {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{
		pub:     pub,
		subject: subject,
		logger:  logger.With().Str("component", "nats-sink").Logger(),
	}
}

// Connect dials the NATS server at url.
func Connect(url, name string, logger zerolog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("Disconnected from NATS.")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("Reconnected to NATS.")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return conn, nil
}

// Subject returns the subject a snapshot for eventType is published on.
func (s *NATSSink) Subject(eventType statemachine.EventType) string {
	return s.subject + "." + string(eventType)
}

// Notify implements statemachine.EventSink. Publish failures are logged.
func (s *NATSSink) Notify(eventType statemachine.EventType, snapshot statemachine.Context) {
	data, err := json.Marshal(statemachine.Snapshot{EventType: eventType, Context: snapshot})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal state snapshot.")
		return
	}
	if err := s.pub.Publish(s.Subject(eventType), data); err != nil {
		s.logger.Error().Err(err).Str("event", string(eventType)).Msg("Failed to publish state snapshot.")
	}
}
