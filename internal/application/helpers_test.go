package application_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/events"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/application"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
)

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}}
}

func (s *memStorage) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = raw
	return nil
}

func (s *memStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *memStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memStorage) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.objects[key]
	return raw, ok
}

func (s *memStorage) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type notification struct {
	topic string
	event string
	raw   []byte
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notification
}

func (n *recordingNotifier) Publish(_ context.Context, topic string, message []byte) error {
	var head struct {
		Event string `json:"event"`
	}
	_ = json.Unmarshal(message, &head)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, notification{topic: topic, event: head.Event, raw: message})
	return nil
}

func (n *recordingNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.msgs))
	for _, m := range n.msgs {
		out = append(out, m.event)
	}
	return out
}

func (n *recordingNotifier) count(event string) int {
	total := 0
	for _, e := range n.events() {
		if e == event {
			total++
		}
	}
	return total
}

type scriptedAnalyzer struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, file domain.StoredFile, kind string) (json.RawMessage, error)
}

func (a *scriptedAnalyzer) Analyze(_ context.Context, file domain.StoredFile, kind string) (json.RawMessage, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	a.mu.Unlock()
	return a.fn(call, file, kind)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc      *application.Service
	repos    *memory.Repositories
	storage  *memStorage
	notifier *recordingNotifier
	analyzer *scriptedAnalyzer
	queue    *events.MemoryJobQueue
	clock    *testClock
}

func newHarness(t *testing.T, mutate func(*application.Config)) *harness {
	t.Helper()
	cfg := application.Config{
		ServiceName:         "M07-Media-Upload-Service",
		WorkerID:            "worker-test",
		MaxUploadBytes:      64 << 20,
		AllowedContentTypes: []string{"video/"},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		repos:    memory.NewRepositories(),
		storage:  newMemStorage(),
		notifier: &recordingNotifier{},
		analyzer: &scriptedAnalyzer{fn: func(int, domain.StoredFile, string) (json.RawMessage, error) {
			return json.RawMessage(`{"ok":true}`), nil
		}},
		queue: events.NewMemoryJobQueue(),
		clock: &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.svc = application.NewService(application.Dependencies{
		Config:   cfg,
		Sessions: h.repos.Sessions,
		Files:    h.repos.Files,
		Jobs:     h.repos.Jobs,
		Outbox:   h.repos.Outbox,
		Storage:  h.storage,
		Analyzer: h.analyzer,
		Queue:    h.queue,
		Notifier: h.notifier,
	})
	h.svc.SetClock(h.clock.Now)
	return h
}

func (h *harness) outboxTypes() []string {
	records := h.repos.Outbox.Records()
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.EventType)
	}
	return out
}

func patterned(size int) []byte {
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(i*31 + i/7)
	}
	return out
}

func chunkOf(payload []byte, chunkSize, index int) []byte {
	start := index * chunkSize
	end := min(start+chunkSize, len(payload))
	return payload[start:end]
}
