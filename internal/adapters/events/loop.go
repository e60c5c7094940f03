package events

import (
	"context"
	"log/slog"
	"time"
)

// tickLoop runs step once immediately and then on every tick until ctx ends. A failing
// step is logged and the loop carries on.
func tickLoop(ctx context.Context, logger *slog.Logger, module string, every time.Duration, step func(context.Context) error) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := step(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorContext(ctx, "worker iteration failed",
				"module", module,
				"layer", "adapter",
				"operation", "run",
				"outcome", "failure",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
