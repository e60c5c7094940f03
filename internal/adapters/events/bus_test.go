package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBusDeliversToLiveSubscribersOnly(t *testing.T) {
	t.Parallel()
	bus := NewBus(4)
	ctx := context.Background()

	if err := bus.Publish(ctx, "user:a", []byte("early")); err != nil {
		t.Fatalf("publish without subscribers: %v", err)
	}
	first := bus.Subscribe("user:a")
	second := bus.Subscribe("user:a")
	other := bus.Subscribe("user:b")
	defer bus.Unsubscribe(other)

	_ = bus.Publish(ctx, "user:a", []byte("one"))
	_ = bus.Publish(ctx, "user:a", []byte("two"))

	for _, sub := range []*Subscription{first, second} {
		for _, want := range []string{"one", "two"} {
			msg, err := sub.Next(ctx)
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			if string(msg) != want {
				t.Fatalf("expected %q, got %q", want, msg)
			}
		}
	}
	select {
	case msg := <-other.C():
		t.Fatalf("unexpected cross-topic delivery %q", msg)
	default:
	}
	if bus.SubscriberCount("user:a") != 2 {
		t.Fatalf("expected two subscribers, got %d", bus.SubscriberCount("user:a"))
	}

	bus.Unsubscribe(first)
	bus.Unsubscribe(first)
	if _, err := first.Next(ctx); !errors.Is(err, ErrSubscriptionClosed) {
		t.Fatalf("expected closed subscription, got %v", err)
	}
	if bus.SubscriberCount("user:a") != 1 {
		t.Fatalf("expected one subscriber after unsubscribe")
	}
	bus.Unsubscribe(second)
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()
	bus := NewBus(1)
	sub := bus.Subscribe("user:slow")
	defer bus.Unsubscribe(sub)

	for i := 0; i < 3; i++ {
		_ = bus.Publish(context.Background(), "user:slow", []byte{byte(i)})
	}
	if bus.Dropped() != 2 {
		t.Fatalf("expected two dropped messages, got %d", bus.Dropped())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	msg, err := sub.Next(ctx)
	if err != nil || msg[0] != 0 {
		t.Fatalf("expected first buffered message, got %v %v", msg, err)
	}
	if _, err := sub.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline with empty buffer, got %v", err)
	}
}

func TestMemoryJobQueueOrdersByDueTime(t *testing.T) {
	t.Parallel()
	q := NewMemoryJobQueue()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_ = q.Enqueue(ctx, "late", base.Add(time.Minute))
	_ = q.Enqueue(ctx, "early", base)
	_ = q.Enqueue(ctx, "mid", base.Add(30*time.Second))
	_ = q.Enqueue(ctx, "early", base.Add(2*time.Minute))
	if q.Len() != 3 {
		t.Fatalf("expected re-enqueue to replace the entry, got %d items", q.Len())
	}

	if _, err := q.Dequeue(ctx, base); !IsIdleError(err) {
		t.Fatalf("expected nothing due at base, got %v", err)
	}
	order := []string{}
	now := base.Add(3 * time.Minute)
	for {
		id, err := q.Dequeue(ctx, now)
		if IsIdleError(err) {
			break
		}
		order = append(order, id)
	}
	if len(order) != 3 || order[0] != "mid" || order[1] != "late" || order[2] != "early" {
		t.Fatalf("unexpected dequeue order %v", order)
	}
}
