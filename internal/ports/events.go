package ports

import (
	"context"
	"time"
)

type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

// JobQueue hands job ids to workers. Dequeue returns io.EOF when nothing is due.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string, notBefore time.Time) error
	Dequeue(ctx context.Context, now time.Time) (string, error)
}

// NotificationPublisher is the write side of the notification bus.
type NotificationPublisher interface {
	Publish(ctx context.Context, topic string, message []byte) error
}
