package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/application"
)

// ReaperWorker expires overdue upload sessions and recovers jobs abandoned by a lost worker.
type ReaperWorker struct {
	logger   *slog.Logger
	service  *application.Service
	interval time.Duration
}

func NewReaperWorker(logger *slog.Logger, service *application.Service, interval time.Duration) *ReaperWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ReaperWorker{logger: logger, service: service, interval: interval}
}

func (w *ReaperWorker) Run(ctx context.Context) error {
	return tickLoop(ctx, w.logger, "events.reaper_worker", w.interval, w.sweep)
}

func (w *ReaperWorker) sweep(ctx context.Context) error {
	expired, expireErr := w.service.ExpireSessions(ctx)
	recovered, recoverErr := w.service.RecoverStaleJobs(ctx)
	if expired > 0 || recovered > 0 {
		w.logger.InfoContext(ctx, "reaper sweep completed",
			"module", "events.reaper_worker",
			"layer", "adapter",
			"operation", "sweep",
			"outcome", "success",
			"sessions_expired", expired,
			"jobs_recovered", recovered,
		)
	}
	if expireErr != nil {
		expireErr = fmt.Errorf("expire sessions: %w", expireErr)
	}
	if recoverErr != nil {
		recoverErr = fmt.Errorf("recover stale jobs: %w", recoverErr)
	}
	return errors.Join(expireErr, recoverErr)
}
