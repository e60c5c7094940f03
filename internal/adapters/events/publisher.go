package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/contracts"
)

// LoggingPublisher is the sink used when no broker is configured.
type LoggingPublisher struct {
	logger *slog.Logger
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	var envelope contracts.EventEnvelope
	_ = json.Unmarshal(payload, &envelope)
	p.logger.InfoContext(ctx, "event emitted without broker",
		"module", "events.logging_publisher",
		"layer", "adapter",
		"operation", "publish",
		"outcome", "success",
		"event_type", eventType,
		"event_id", envelope.EventID,
		"partition_key", partitionKey,
		"payload_bytes", len(payload),
	)
	return nil
}
