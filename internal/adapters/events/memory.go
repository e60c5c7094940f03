package events

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"
)

type queuedJob struct {
	jobID     string
	notBefore time.Time
}

// MemoryJobQueue orders job ids by due time. A job id appears at most once; enqueueing
// it again moves it to the new due time.
type MemoryJobQueue struct {
	mu    sync.Mutex
	items []queuedJob
}

func NewMemoryJobQueue() *MemoryJobQueue {
	return &MemoryJobQueue{items: make([]queuedJob, 0, 128)}
}

func (q *MemoryJobQueue) Enqueue(_ context.Context, jobID string, notBefore time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].jobID == jobID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	idx := sort.Search(len(q.items), func(i int) bool {
		return q.items[i].notBefore.After(notBefore)
	})
	q.items = append(q.items, queuedJob{})
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = queuedJob{jobID: jobID, notBefore: notBefore}
	return nil
}

func (q *MemoryJobQueue) Dequeue(_ context.Context, now time.Time) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].notBefore.After(now) {
		return "", io.EOF
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item.jobID, nil
}

func (q *MemoryJobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func IsIdleError(err error) bool {
	return errors.Is(err, io.EOF)
}
