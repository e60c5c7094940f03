package events

import (
	"context"
	"slices"
	"sync"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/ports"
)

// MemoryBroker stands in for Kafka when no brokers are configured. Events whose type
// is in the routed set are held for the consumer worker of the same process; all
// others are forwarded to the fallback publisher.
type MemoryBroker struct {
	mu       sync.Mutex
	pending  []Message
	routed   map[string]bool
	fallback ports.EventPublisher
}

func NewMemoryBroker(fallback ports.EventPublisher, routedEventTypes ...string) *MemoryBroker {
	routed := make(map[string]bool, len(routedEventTypes))
	for _, t := range routedEventTypes {
		routed[t] = true
	}
	return &MemoryBroker{routed: routed, fallback: fallback}
}

func (b *MemoryBroker) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	if !b.routed[eventType] {
		if b.fallback == nil {
			return nil
		}
		return b.fallback.Publish(ctx, eventType, payload, partitionKey)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, Message{EventType: eventType, Topic: eventType, Payload: slices.Clone(payload)})
	return nil
}

func (b *MemoryBroker) Poll(_ context.Context, max int) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if max <= 0 {
		max = len(b.pending)
	}
	return takeFront(&b.pending, max), nil
}

// Settle puts retry back at the head of the queue. There is nothing to acknowledge
// because Poll already removed the messages.
func (b *MemoryBroker) Settle(_ context.Context, _, retry []Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	requeueFront(&b.pending, retry)
	return nil
}

// Pending reports how many routed events wait for the consumer.
func (b *MemoryBroker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
