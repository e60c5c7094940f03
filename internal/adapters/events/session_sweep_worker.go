package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/application"
)

// SessionSweepWorker frees chunk buffers held by the API process for sessions that were
// closed elsewhere. It runs whether or not the embedded worker does.
type SessionSweepWorker struct {
	logger   *slog.Logger
	service  *application.Service
	interval time.Duration
}

func NewSessionSweepWorker(logger *slog.Logger, service *application.Service, interval time.Duration) *SessionSweepWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SessionSweepWorker{logger: logger, service: service, interval: interval}
}

func (w *SessionSweepWorker) Run(ctx context.Context) error {
	return tickLoop(ctx, w.logger, "events.session_sweep_worker", w.interval, w.sweep)
}

func (w *SessionSweepWorker) sweep(ctx context.Context) error {
	released, err := w.service.SweepLocalSessions(ctx)
	if released > 0 {
		w.logger.InfoContext(ctx, "released local session buffers",
			"module", "events.session_sweep_worker",
			"layer", "adapter",
			"operation", "sweep",
			"outcome", "success",
			"released", released,
			"remaining", w.service.BufferedSessions(),
		)
	}
	return err
}
