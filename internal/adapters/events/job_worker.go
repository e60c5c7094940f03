package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/application"
)

type JobWorker struct {
	logger       *slog.Logger
	service      *application.Service
	pollInterval time.Duration
}

func NewJobWorker(logger *slog.Logger, service *application.Service, pollInterval time.Duration) *JobWorker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &JobWorker{logger: logger, service: service, pollInterval: pollInterval}
}

func (w *JobWorker) Run(ctx context.Context) error {
	return tickLoop(ctx, w.logger, "events.job_worker", w.pollInterval, w.drain)
}

// drain executes due jobs back to back until the queue reports idle.
func (w *JobWorker) drain(ctx context.Context) error {
	for ctx.Err() == nil {
		err := w.service.ProcessNextJob(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return nil
		default:
			return err
		}
	}
	return nil
}
