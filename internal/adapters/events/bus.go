package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var ErrSubscriptionClosed = errors.New("subscription closed")

// Bus is a live, in-process fan-out. Messages go only to subscribers attached at
// publish time; nothing is buffered for late joiners. Each topic guards its own
// subscriber set, so publishers on different topics never contend.
type Bus struct {
	topics    sync.Map // topic name -> *busTopic
	bufferLen int
	dropped   atomic.Int64
}

type busTopic struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// Subscription is a handle bound to exactly one topic.
type Subscription struct {
	topic  string
	ch     chan []byte
	once   sync.Once
	closed chan struct{}
}

func NewBus(bufferLen int) *Bus {
	if bufferLen <= 0 {
		bufferLen = 64
	}
	return &Bus{bufferLen: bufferLen}
}

func (b *Bus) topic(name string) *busTopic {
	if t, ok := b.topics.Load(name); ok {
		return t.(*busTopic)
	}
	t, _ := b.topics.LoadOrStore(name, &busTopic{subs: make(map[*Subscription]struct{})})
	return t.(*busTopic)
}

func (b *Bus) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		topic:  topic,
		ch:     make(chan []byte, b.bufferLen),
		closed: make(chan struct{}),
	}
	t := b.topic(topic)
	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()
	return sub
}

func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	if t, ok := b.topics.Load(sub.topic); ok {
		bt := t.(*busTopic)
		bt.mu.Lock()
		delete(bt.subs, sub)
		bt.mu.Unlock()
	}
	sub.once.Do(func() { close(sub.closed) })
}

// Publish delivers message to every current subscriber of topic. A subscriber whose
// buffer is full misses the message; delivery is best effort.
func (b *Bus) Publish(_ context.Context, topic string, message []byte) error {
	t, ok := b.topics.Load(topic)
	if !ok {
		return nil
	}
	bt := t.(*busTopic)
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	for sub := range bt.subs {
		select {
		case sub.ch <- message:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

func (b *Bus) SubscriberCount(topic string) int {
	t, ok := b.topics.Load(topic)
	if !ok {
		return 0
	}
	bt := t.(*busTopic)
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return len(bt.subs)
}

func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

func (s *Subscription) Topic() string {
	return s.topic
}

// Next blocks until a message arrives, the subscription is closed or ctx ends.
func (s *Subscription) Next(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.closed:
		return nil, ErrSubscriptionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Subscription) C() <-chan []byte {
	return s.ch
}

func (s *Subscription) Done() <-chan struct{} {
	return s.closed
}
