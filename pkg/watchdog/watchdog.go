package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/DIMO-Network/updates-client/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// WatchdogError is a typed error for watchdog-related errors.
type WatchdogError string

func (e WatchdogError) Error() string { return string(e) }

const (
	// ErrIntervalRequired is returned when the interval is missing in the settings.
	ErrIntervalRequired = WatchdogError("watchdog interval is required")
	// ErrDownloadStalled is returned when no heartbeat arrives within the interval.
	ErrDownloadStalled = WatchdogError("download stalled")
)

var stalls = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "updates",
	Subsystem: "watchdog",
	Name:      "stalls_total",
	Help:      "Downloads failed by the stall watchdog.",
})

// Watchdog fails a long running operation that stops sending heartbeats.
type Watchdog struct {
	settings *config.WatchdogSettings
}

// New creates a new watchdog.
func New(settings *config.WatchdogSettings) (*Watchdog, error) {
	if settings.Interval <= 0 {
		return nil, ErrIntervalRequired
	}
	return &Watchdog{settings: settings}, nil
}

// Watch blocks until heartbeat is closed, the context is cancelled, or the interval
// elapses without a heartbeat. Only the last case returns an error.
func (w *Watchdog) Watch(ctx context.Context, heartbeat <-chan struct{}) error {
	logger := zerolog.Ctx(ctx).With().Str("component", "watchdog").Logger()
	timer := time.NewTimer(w.settings.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-heartbeat:
			if !ok {
				return nil
			}
			timer.Reset(w.settings.Interval)
		case <-timer.C:
			stalls.Inc()
			logger.Warn().Dur("interval", w.settings.Interval).Msg("No download progress within interval.")
			return fmt.Errorf("%w: no progress within %s", ErrDownloadStalled, w.settings.Interval)
		}
	}
}

// NewStandardSettings returns a standard watchdog settings.
func NewStandardSettings() config.WatchdogSettings {
	return config.WatchdogSettings{
		Interval: time.Second * 30,
	}
}
