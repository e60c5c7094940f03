package application

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/contracts"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/ports"
)

// newSessionToken returns 32 random bytes, URL-safe encoded.
func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (s *Service) newOutboxEvent(eventType, partitionKey string, data any) (ports.OutboxEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return ports.OutboxEvent{}, err
	}
	occurredAt := s.nowFn()
	eventID := uuid.New()
	payload, err := json.Marshal(contracts.EventEnvelope{
		EventID:          eventID.String(),
		EventType:        eventType,
		OccurredAt:       occurredAt,
		SourceService:    s.cfg.ServiceName,
		SchemaVersion:    "1.0",
		PartitionKeyPath: "data.file_id",
		PartitionKey:     partitionKey,
		Data:             raw,
	})
	if err != nil {
		return ports.OutboxEvent{}, err
	}
	return ports.OutboxEvent{
		EventID:      eventID,
		EventType:    eventType,
		PartitionKey: partitionKey,
		Payload:      payload,
		OccurredAt:   occurredAt,
	}, nil
}

func (s *Service) enqueueOutbox(ctx context.Context, eventType, partitionKey string, data any) {
	if s.outbox == nil {
		return
	}
	event, err := s.newOutboxEvent(eventType, partitionKey, data)
	if err == nil {
		err = s.outbox.Enqueue(ctx, event)
	}
	if err != nil {
		slog.Default().WarnContext(ctx, "failed to enqueue outbox event",
			"module", "application",
			"operation", "enqueue_outbox",
			"outcome", "failure",
			"event_type", eventType,
			"error", err,
		)
	}
}

// notify is best effort: subscribers that miss a message re-query state.
func (s *Service) notify(ctx context.Context, userID string, message any) {
	if s.notifier == nil || userID == "" {
		return
	}
	raw, err := json.Marshal(message)
	if err == nil {
		err = s.notifier.Publish(ctx, domain.UserTopic(userID), raw)
	}
	if err != nil {
		slog.Default().WarnContext(ctx, "failed to publish notification",
			"module", "application",
			"operation", "notify",
			"outcome", "failure",
			"user_id", userID,
			"error", err,
		)
	}
}

func (s *Service) publishJobTransition(ctx context.Context, job domain.AnalysisJob, from domain.JobStatus, detail string) {
	msg := domain.JobStatusChanged{
		Event:      domain.JobEventName(from, job.Status),
		JobID:      job.JobID,
		FileID:     job.FileID,
		Kind:       job.Kind,
		OldStatus:  from,
		NewStatus:  job.Status,
		Attempts:   job.Attempts,
		Detail:     detail,
		OccurredAt: s.nowFn(),
	}
	if job.Status == domain.JobStatusCompleted {
		msg.Result = job.Result
	}
	s.notify(ctx, job.UserID, msg)
}
