package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/application"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/contracts"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
)

// Message is one record read from the event log.
type Message struct {
	EventType string
	Topic     string
	Key       string
	Payload   []byte
	// Attempts counts earlier deliveries that were handed back for retry.
	Attempts int

	record kafka.Message
}

type Consumer interface {
	Poll(ctx context.Context, max int) ([]Message, error)
	// Settle acknowledges handled and hands retry back; the next Poll returns retry
	// first, in the same order.
	Settle(ctx context.Context, handled, retry []Message) error
}

type eventHandler func(ctx context.Context, payload []byte) error

type ConsumerWorker struct {
	logger    *slog.Logger
	consumer  Consumer
	handlers  map[string]eventHandler
	interval  time.Duration
	batchSize int
}

func NewConsumerWorker(logger *slog.Logger, consumer Consumer, service *application.Service, interval time.Duration) *ConsumerWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ConsumerWorker{
		logger:   logger,
		consumer: consumer,
		handlers: map[string]eventHandler{
			contracts.EventFileReady: service.HandleFileReady,
		},
		interval:  interval,
		batchSize: 50,
	}
}

func (w *ConsumerWorker) Run(ctx context.Context) error {
	return tickLoop(ctx, w.logger, "events.consumer_worker", w.interval, w.processOnce)
}

// permanent reports handler errors that a redelivery would hit again.
func permanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidRequest) || errors.Is(err, domain.ErrNotFound)
}

// processOnce handles the batch in order and stops at the first retryable failure.
// Everything before it is acknowledged, the failed message and the rest are handed
// back for the next pass.
func (w *ConsumerWorker) processOnce(ctx context.Context) error {
	msgs, pollErr := w.consumer.Poll(ctx, w.batchSize)
	handled := 0
	var handleErr error
	for _, msg := range msgs {
		err := w.dispatch(ctx, msg)
		if err != nil && !permanent(err) {
			handleErr = fmt.Errorf("handle %s (attempt %d): %w", msg.EventType, msg.Attempts+1, err)
			break
		}
		if err != nil {
			w.logger.WarnContext(ctx, "dropping event that cannot be handled",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "handle_event",
				"outcome", "failure",
				"event_type", msg.EventType,
				"partition_key", msg.Key,
				"error", err,
			)
		}
		handled++
	}

	if len(msgs) > 0 {
		retry := slices.Clone(msgs[handled:])
		for i := range retry {
			retry[i].Attempts++
		}
		if err := w.consumer.Settle(ctx, msgs[:handled], retry); err != nil {
			return errors.Join(handleErr, fmt.Errorf("settle consumed batch: %w", err))
		}
	}
	if pollErr != nil {
		pollErr = fmt.Errorf("poll events: %w", pollErr)
	}
	return errors.Join(handleErr, pollErr)
}

func (w *ConsumerWorker) dispatch(ctx context.Context, msg Message) error {
	handle, ok := w.handlers[msg.EventType]
	if !ok {
		w.logger.DebugContext(ctx, "ignoring unrouted event", "event_type", msg.EventType, "topic", msg.Topic)
		return nil
	}
	return handle(ctx, msg.Payload)
}

func takeFront(queue *[]Message, max int) []Message {
	n := min(max, len(*queue))
	out := slices.Clone((*queue)[:n])
	*queue = (*queue)[n:]
	return out
}

func requeueFront(queue *[]Message, msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	*queue = append(slices.Clone(msgs), *queue...)
}
