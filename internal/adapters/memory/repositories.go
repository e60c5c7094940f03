package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/ports"
)

// Repositories keeps every record in process memory. Sessions, files and the outbox
// share one lock so Complete stays atomic the way the Postgres transaction is.
type Repositories struct {
	Sessions *SessionRepository
	Files    *FileRepository
	Jobs     *JobRepository
	Outbox   *OutboxRepository
}

type store struct {
	mu       sync.RWMutex
	sessions map[string]domain.UploadSession
	files    map[string]domain.StoredFile
	outbox   []ports.OutboxRecord
}

func NewRepositories() *Repositories {
	st := &store{
		sessions: map[string]domain.UploadSession{},
		files:    map[string]domain.StoredFile{},
	}
	return &Repositories{
		Sessions: &SessionRepository{store: st},
		Files:    &FileRepository{store: st},
		Jobs:     &JobRepository{records: map[string]domain.AnalysisJob{}, inFlight: map[string]string{}},
		Outbox:   &OutboxRepository{store: st},
	}
}

func (s *store) appendOutbox(event ports.OutboxEvent) {
	if event.EventType == "" {
		return
	}
	id := event.EventID
	if id == uuid.Nil {
		id = uuid.New()
	}
	s.outbox = append(s.outbox, ports.OutboxRecord{
		OutboxID:     id,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      slices.Clone(event.Payload),
		FirstSeenAt:  event.OccurredAt,
	})
}

type SessionRepository struct {
	store *store
}

func (r *SessionRepository) Create(_ context.Context, session domain.UploadSession) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.sessions[session.Token]; exists {
		return domain.ErrConflict
	}
	r.store.sessions[session.Token] = session
	return nil
}

func (r *SessionRepository) GetByToken(_ context.Context, token string) (domain.UploadSession, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	session, ok := r.store.sessions[token]
	if !ok {
		return domain.UploadSession{}, domain.ErrNotFound
	}
	return session, nil
}

func (r *SessionRepository) Transition(_ context.Context, token string, to domain.SessionStatus, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	session, ok := r.store.sessions[token]
	if !ok {
		return domain.ErrNotFound
	}
	if session.Status != domain.SessionStatusActive {
		return domain.ErrInvalidState
	}
	session.Status = to
	session.UpdatedAt = at
	r.store.sessions[token] = session
	return nil
}

func (r *SessionRepository) Complete(_ context.Context, token string, file domain.StoredFile, event ports.OutboxEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	session, ok := r.store.sessions[token]
	if !ok {
		return domain.ErrNotFound
	}
	if session.Status != domain.SessionStatusActive {
		return domain.ErrInvalidState
	}
	session.Status = domain.SessionStatusCompleted
	session.FileID = file.FileID
	session.UpdatedAt = file.CreatedAt
	r.store.sessions[token] = session
	r.store.files[file.FileID] = file
	r.store.appendOutbox(event)
	return nil
}

func (r *SessionRepository) ListExpiredActive(_ context.Context, now time.Time, limit int) ([]domain.UploadSession, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.UploadSession, 0)
	for _, session := range r.store.sessions {
		if session.Status == domain.SessionStatusActive && session.IsExpired(now) {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type FileRepository struct {
	store *store
}

func (r *FileRepository) Create(_ context.Context, file domain.StoredFile, event ports.OutboxEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.files[file.FileID]; exists {
		return domain.ErrConflict
	}
	r.store.files[file.FileID] = file
	r.store.appendOutbox(event)
	return nil
}

func (r *FileRepository) GetByID(_ context.Context, fileID string) (domain.StoredFile, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	file, ok := r.store.files[fileID]
	if !ok {
		return domain.StoredFile{}, domain.ErrNotFound
	}
	return file, nil
}

// Remove drops a file record; tests use it to simulate storage loss.
func (r *FileRepository) Remove(fileID string) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.files, fileID)
}

type JobRepository struct {
	mu       sync.RWMutex
	records  map[string]domain.AnalysisJob
	inFlight map[string]string // file_id::kind -> job_id
}

func inFlightKey(fileID, kind string) string {
	return fileID + "::" + kind
}

func (r *JobRepository) Create(_ context.Context, job domain.AnalysisJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := inFlightKey(job.FileID, job.Kind)
	if existing, ok := r.inFlight[key]; ok {
		return &domain.JobConflictError{JobID: existing}
	}
	r.records[job.JobID] = job
	if domain.IsInFlight(job.Status) {
		r.inFlight[key] = job.JobID
	}
	return nil
}

func (r *JobRepository) GetByID(_ context.Context, jobID string) (domain.AnalysisJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.records[jobID]
	if !ok {
		return domain.AnalysisJob{}, domain.ErrNotFound
	}
	return job, nil
}

func (r *JobRepository) ListByFile(_ context.Context, fileID string) ([]domain.AnalysisJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AnalysisJob, 0)
	for _, job := range r.records {
		if job.FileID == fileID {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *JobRepository) LatestCompleted(_ context.Context, fileID, kind string) (domain.AnalysisJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		latest domain.AnalysisJob
		found  bool
	)
	for _, job := range r.records {
		if job.FileID != fileID || job.Kind != kind || job.Status != domain.JobStatusCompleted || job.CompletedAt == nil {
			continue
		}
		if !found || job.CompletedAt.After(*latest.CompletedAt) {
			latest, found = job, true
		}
	}
	if !found {
		return domain.AnalysisJob{}, domain.ErrNotFound
	}
	return latest, nil
}

func (r *JobRepository) CompareAndSwap(_ context.Context, job domain.AnalysisJob, expected domain.JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.records[job.JobID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Status != expected {
		return domain.ErrInvalidState
	}
	key := inFlightKey(job.FileID, job.Kind)
	if domain.IsInFlight(job.Status) {
		if holder, ok := r.inFlight[key]; ok && holder != job.JobID {
			return &domain.JobConflictError{JobID: holder}
		}
		r.inFlight[key] = job.JobID
	} else if r.inFlight[key] == job.JobID {
		delete(r.inFlight, key)
	}
	r.records[job.JobID] = job
	return nil
}

func (r *JobRepository) DeleteTerminal(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.records[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if !domain.IsTerminal(job.Status) {
		return domain.ErrInvalidState
	}
	delete(r.records, jobID)
	return nil
}

func (r *JobRepository) ListStaleRunning(_ context.Context, startedBefore time.Time, limit int) ([]domain.AnalysisJob, error) {
	return r.filter(limit, func(job domain.AnalysisJob) bool {
		return job.Status == domain.JobStatusRunning && job.StartedAt != nil && job.StartedAt.Before(startedBefore)
	}), nil
}

func (r *JobRepository) ListOverduePending(_ context.Context, dueBefore time.Time, limit int) ([]domain.AnalysisJob, error) {
	return r.filter(limit, func(job domain.AnalysisJob) bool {
		return job.Status == domain.JobStatusPending && job.NextAttemptAt.Before(dueBefore)
	}), nil
}

func (r *JobRepository) filter(limit int, keep func(domain.AnalysisJob) bool) []domain.AnalysisJob {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AnalysisJob, 0)
	for _, job := range r.records {
		if keep(job) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type OutboxRepository struct {
	store *store
}

func (r *OutboxRepository) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.appendOutbox(event)
	return nil
}

func (r *OutboxRepository) FetchUnpublished(_ context.Context, limit int) ([]ports.OutboxRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]ports.OutboxRecord, 0)
	for _, rec := range r.store.outbox {
		if rec.PublishedAt != nil {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// publishedRetention is how many published records the outbox keeps for inspection.
const publishedRetention = 256

func (r *OutboxRepository) MarkPublished(_ context.Context, outboxID uuid.UUID, at time.Time) error {
	err := r.update(outboxID, func(rec *ports.OutboxRecord) {
		published := at
		rec.PublishedAt = &published
	})
	if err != nil {
		return err
	}
	r.store.mu.Lock()
	r.store.trimPublished(publishedRetention)
	r.store.mu.Unlock()
	return nil
}

// trimPublished drops the oldest published records beyond keep. Unpublished records
// are never removed.
func (s *store) trimPublished(keep int) {
	published := 0
	for _, rec := range s.outbox {
		if rec.PublishedAt != nil {
			published++
		}
	}
	excess := published - keep
	if excess <= 0 {
		return
	}
	s.outbox = slices.DeleteFunc(s.outbox, func(rec ports.OutboxRecord) bool {
		if excess > 0 && rec.PublishedAt != nil {
			excess--
			return true
		}
		return false
	})
}

func (r *OutboxRepository) MarkFailed(_ context.Context, outboxID uuid.UUID, errMsg string, at time.Time) error {
	return r.update(outboxID, func(rec *ports.OutboxRecord) {
		failedAt := at
		rec.RetryCount++
		rec.LastError = errMsg
		rec.LastErrorAt = &failedAt
	})
}

func (r *OutboxRepository) update(outboxID uuid.UUID, apply func(*ports.OutboxRecord)) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for i := range r.store.outbox {
		if r.store.outbox[i].OutboxID == outboxID {
			apply(&r.store.outbox[i])
			return nil
		}
	}
	return domain.ErrNotFound
}

// Records returns a copy of every outbox record, published or not.
func (r *OutboxRepository) Records() []ports.OutboxRecord {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return slices.Clone(r.store.outbox)
}
