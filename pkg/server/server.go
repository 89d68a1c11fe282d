package server

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds how long a server waits for in-flight requests on shutdown.
const ShutdownTimeout = 10 * time.Second

type fiberApp interface {
	ShutdownWithTimeout(timeout time.Duration) error
	Listen(addr string) error
}

// RunFiber serves app on addr in group until ctx is done.
func RunFiber(ctx context.Context, app fiberApp, addr string, group *errgroup.Group) {
	group.Go(func() error {
		if err := app.Listen(addr); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		if err := app.ShutdownWithTimeout(ShutdownTimeout); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	})
}
