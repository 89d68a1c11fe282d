package server

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// DefaultLogger creates the process logger, tagged with the app name and, when the
// binary was built from a git checkout, the short commit hash.
func DefaultLogger(appName string) *zerolog.Logger {
	return NewLogger(os.Stdout, appName)
}

// NewLogger is DefaultLogger writing to w.
func NewLogger(w io.Writer, appName string) *zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Str("app", appName).Logger()
	if commit := vcsRevision(); commit != "" {
		logger = logger.With().Str("commit", commit).Logger()
	}
	return &logger
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) == 40 {
			return s.Value[:7]
		}
	}
	return ""
}

// SetLevel sets the global log level. An empty level leaves it unchanged.
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}
