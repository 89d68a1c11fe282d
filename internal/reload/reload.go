// Package reload restarts the host application on a new update.
package reload

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

const defaultTimeout = 30 * time.Second

// CommandReloader runs an external command with the update id as its argument.
type CommandReloader struct {
	command string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewCommandReloader creates a reloader for command. An empty command only logs.
func NewCommandReloader(command string, timeout time.Duration, logger zerolog.Logger) *CommandReloader {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &CommandReloader{
		command: command,
		timeout: timeout,
		logger:  logger.With().Str("component", "reloader").Logger(),
	}
}

// Reload implements updates.Reloader.
func (r *CommandReloader) Reload(ctx context.Context, updateID string) error {
	if r.command == "" {
		r.logger.Info().Str("updateId", updateID).Msg("No reload command configured, skipping reload.")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, r.command, updateID).CombinedOutput()
	if err != nil {
		return fmt.Errorf("reload command %s failed: %w: %s", r.command, err, out)
	}
	r.logger.Debug().Str("updateId", updateID).Bytes("output", out).Msg("Reload command finished.")
	return nil
}
