package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/ports"
)

// OutboxWorker relays committed outbox records to the broker.
type OutboxWorker struct {
	logger    *slog.Logger
	outbox    ports.OutboxRepository
	publisher ports.EventPublisher
	interval  time.Duration
	batchSize int
}

func NewOutboxWorker(logger *slog.Logger, outbox ports.OutboxRepository, publisher ports.EventPublisher, interval time.Duration, batchSize int) *OutboxWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxWorker{
		logger:    logger,
		outbox:    outbox,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
	}
}

func (w *OutboxWorker) Run(ctx context.Context) error {
	return tickLoop(ctx, w.logger, "events.outbox_worker", w.interval, func(ctx context.Context) error {
		_, err := w.ProcessOnce(ctx)
		return err
	})
}

// ProcessOnce relays one batch in insertion order and reports how many records were
// published. Once a record fails, later records with the same partition key wait for
// the next pass so a file's events never overtake each other.
func (w *OutboxWorker) ProcessOnce(ctx context.Context) (int, error) {
	records, err := w.outbox.FetchUnpublished(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch outbox batch: %w", err)
	}
	held := make(map[string]bool)
	published := 0
	for _, rec := range records {
		if held[rec.PartitionKey] {
			continue
		}
		now := time.Now().UTC()
		if err := w.publisher.Publish(ctx, rec.EventType, rec.Payload, rec.PartitionKey); err != nil {
			held[rec.PartitionKey] = true
			if markErr := w.outbox.MarkFailed(ctx, rec.OutboxID, err.Error(), now); markErr != nil {
				w.logger.WarnContext(ctx, "failed to record outbox publish failure",
					"module", "events.outbox_worker",
					"outbox_id", rec.OutboxID.String(),
					"error", markErr,
				)
			}
			continue
		}
		if err := w.outbox.MarkPublished(ctx, rec.OutboxID, now); err != nil {
			return published, fmt.Errorf("mark outbox record %s published: %w", rec.OutboxID, err)
		}
		published++
	}
	return published, nil
}
