package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
)

type SessionRepository interface {
	Create(ctx context.Context, session domain.UploadSession) error
	GetByToken(ctx context.Context, token string) (domain.UploadSession, error)
	// Transition moves an active session to a terminal status. It returns
	// domain.ErrInvalidState when the session is no longer active.
	Transition(ctx context.Context, token string, to domain.SessionStatus, at time.Time) error
	// Complete atomically marks the session completed, records the file and
	// enqueues the outbox event. Same ErrInvalidState contract as Transition.
	Complete(ctx context.Context, token string, file domain.StoredFile, event OutboxEvent) error
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]domain.UploadSession, error)
}

type FileRepository interface {
	// Create records a file that did not come from a session, together with its outbox event.
	Create(ctx context.Context, file domain.StoredFile, event OutboxEvent) error
	GetByID(ctx context.Context, fileID string) (domain.StoredFile, error)
}

type JobRepository interface {
	// Create returns a *domain.JobConflictError when a pending or running job
	// already exists for the same file and kind.
	Create(ctx context.Context, job domain.AnalysisJob) error
	GetByID(ctx context.Context, jobID string) (domain.AnalysisJob, error)
	ListByFile(ctx context.Context, fileID string) ([]domain.AnalysisJob, error)
	LatestCompleted(ctx context.Context, fileID, kind string) (domain.AnalysisJob, error)
	// CompareAndSwap persists job only if the stored status still equals expected.
	// A lost race yields domain.ErrInvalidState.
	CompareAndSwap(ctx context.Context, job domain.AnalysisJob, expected domain.JobStatus) error
	// DeleteTerminal removes a completed or failed job; in-flight jobs yield domain.ErrInvalidState.
	DeleteTerminal(ctx context.Context, jobID string) error
	ListStaleRunning(ctx context.Context, startedBefore time.Time, limit int) ([]domain.AnalysisJob, error)
	ListOverduePending(ctx context.Context, dueBefore time.Time, limit int) ([]domain.AnalysisJob, error)
}

type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

type OutboxRecord struct {
	OutboxID     uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	RetryCount   int
	PublishedAt  *time.Time
	LastError    string
	LastErrorAt  *time.Time
	FirstSeenAt  time.Time
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) error
	FetchUnpublished(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, errMsg string, at time.Time) error
}
