package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/contracts"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
)

func (s *Service) SubmitJob(ctx context.Context, actor Actor, fileID, kind string) (domain.AnalysisJob, error) {
	kind = domain.NormalizeJobKind(kind)
	if kind == "" || fileID == "" {
		return domain.AnalysisJob{}, domain.ErrInvalidRequest
	}
	file, err := s.GetFile(ctx, actor, fileID)
	if err != nil {
		return domain.AnalysisJob{}, err
	}
	return s.submitJob(ctx, file, kind)
}

func (s *Service) submitJob(ctx context.Context, file domain.StoredFile, kind string) (domain.AnalysisJob, error) {
	now := s.nowFn()
	job := domain.AnalysisJob{
		JobID:         uuid.NewString(),
		FileID:        file.FileID,
		UserID:        file.UserID,
		Kind:          kind,
		Status:        domain.JobStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return domain.AnalysisJob{}, err
	}
	s.publishJobTransition(ctx, job, "", "")
	if err := s.queue.Enqueue(ctx, job.JobID, now); err != nil {
		// The stale-job sweep re-enqueues pending jobs whose queue entry went missing.
		slog.Default().WarnContext(ctx, "failed to enqueue analysis job",
			"module", "application",
			"operation", "submit_job",
			"outcome", "degraded",
			"job_id", job.JobID,
			"error", err,
		)
	}
	return job, nil
}

func (s *Service) GetJob(ctx context.Context, actor Actor, jobID string) (domain.AnalysisJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return domain.AnalysisJob{}, err
	}
	if job.UserID != actor.UserID {
		return domain.AnalysisJob{}, domain.ErrNotFound
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context, actor Actor, fileID string) ([]domain.AnalysisJob, error) {
	if _, err := s.GetFile(ctx, actor, fileID); err != nil {
		return nil, err
	}
	return s.jobs.ListByFile(ctx, fileID)
}

func (s *Service) DeleteJob(ctx context.Context, actor Actor, jobID string) error {
	job, err := s.GetJob(ctx, actor, jobID)
	if err != nil {
		return err
	}
	if !domain.IsTerminal(job.Status) {
		return fmt.Errorf("%w: cannot delete %s analysis", domain.ErrInvalidState, job.Status)
	}
	return s.jobs.DeleteTerminal(ctx, jobID)
}

// GetAnalysisResult serves the cached result document, falling back to the most
// recent completed job for the file and kind.
func (s *Service) GetAnalysisResult(ctx context.Context, actor Actor, fileID, kind string) (json.RawMessage, error) {
	kind = domain.NormalizeJobKind(kind)
	if _, err := s.GetFile(ctx, actor, fileID); err != nil {
		return nil, err
	}
	if s.cache != nil {
		cached, err := s.cache.GetResult(ctx, fileID, kind)
		if err != nil {
			slog.Default().WarnContext(ctx, "analysis result cache unavailable",
				"module", "application",
				"operation", "get_analysis_result",
				"outcome", "degraded",
				"error", err,
			)
		} else if cached != nil {
			return cached, nil
		}
	}
	job, err := s.jobs.LatestCompleted(ctx, fileID, kind)
	if err != nil {
		return nil, err
	}
	s.cacheResult(ctx, job)
	return job.Result, nil
}

// ProcessNextJob executes at most one due job. It returns io.EOF when the queue is idle.
func (s *Service) ProcessNextJob(ctx context.Context) error {
	jobID, err := s.queue.Dequeue(ctx, s.nowFn())
	if err != nil {
		return err
	}
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if job.Status != domain.JobStatusPending {
		return nil
	}
	now := s.nowFn()
	if job.NextAttemptAt.After(now) {
		return s.queue.Enqueue(ctx, job.JobID, job.NextAttemptAt)
	}

	claimed := job
	claimed.Status = domain.JobStatusRunning
	claimed.Attempts++
	claimed.WorkerID = s.cfg.WorkerID
	claimed.StartedAt = &now
	claimed.CompletedAt = nil
	claimed.ErrorMessage = ""
	if err := s.jobs.CompareAndSwap(ctx, claimed, domain.JobStatusPending); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return nil
		}
		return err
	}
	s.publishJobTransition(ctx, claimed, domain.JobStatusPending, "")

	file, err := s.files.GetByID(ctx, claimed.FileID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.failJob(ctx, claimed, domain.FailureFileMissing)
		}
		return s.failJob(ctx, claimed, err.Error())
	}

	analyzeCtx, cancel := context.WithTimeout(ctx, s.cfg.AnalyzerTimeout)
	result, err := s.analyzer.Analyze(analyzeCtx, file, claimed.Kind)
	cancel()
	finished := s.nowFn()
	if err != nil {
		if ctx.Err() != nil {
			ctx = context.WithoutCancel(ctx)
		}
		return s.failJob(ctx, claimed, failureReason(err))
	}

	completed := claimed
	completed.Status = domain.JobStatusCompleted
	completed.Result = result
	completed.CompletedAt = &finished
	completed.ProcessingMS = finished.Sub(now).Milliseconds()
	if err := s.jobs.CompareAndSwap(ctx, completed, domain.JobStatusRunning); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			slog.Default().WarnContext(ctx, "analysis result discarded after losing job ownership",
				"module", "application",
				"operation", "process_next_job",
				"outcome", "stale",
				"job_id", completed.JobID,
			)
			return nil
		}
		return err
	}
	s.publishJobTransition(ctx, completed, domain.JobStatusRunning, "")
	s.cacheResult(ctx, completed)
	s.enqueueOutbox(ctx, contracts.EventAnalysisCompleted, completed.FileID, contracts.AnalysisCompletedEvent{
		JobID:        completed.JobID,
		FileID:       completed.FileID,
		UserID:       completed.UserID,
		Kind:         completed.Kind,
		Attempts:     completed.Attempts,
		ProcessingMS: completed.ProcessingMS,
		Result:       completed.Result,
	})
	return nil
}

// failJob moves a running job to failed and, while attempts remain, back to pending
// behind the configured backoff. Losing either conditional update means another
// actor already moved the job on, which is not an error here.
func (s *Service) failJob(ctx context.Context, running domain.AnalysisJob, reason string) error {
	now := s.nowFn()
	failed := running
	failed.Status = domain.JobStatusFailed
	failed.ErrorMessage = reason
	failed.CompletedAt = &now
	if err := s.jobs.CompareAndSwap(ctx, failed, domain.JobStatusRunning); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return nil
		}
		return err
	}
	s.publishJobTransition(ctx, failed, domain.JobStatusRunning, reason)

	if domain.IsRetryableJobFailure(reason) && failed.Attempts < s.cfg.MaxJobAttempts {
		retry := failed
		retry.Status = domain.JobStatusPending
		retry.ErrorMessage = ""
		retry.CompletedAt = nil
		retry.NextAttemptAt = now.Add(s.cfg.JobBackoff)
		if err := s.jobs.CompareAndSwap(ctx, retry, domain.JobStatusFailed); err != nil {
			if errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}
		s.publishJobTransition(ctx, retry, domain.JobStatusFailed, fmt.Sprintf("retry %d of %d scheduled: %s", retry.Attempts+1, s.cfg.MaxJobAttempts, reason))
		if err := s.queue.Enqueue(ctx, retry.JobID, retry.NextAttemptAt); err != nil {
			slog.Default().WarnContext(ctx, "failed to enqueue analysis retry",
				"module", "application",
				"operation", "fail_job",
				"outcome", "degraded",
				"job_id", retry.JobID,
				"error", err,
			)
		}
		return nil
	}

	s.enqueueOutbox(ctx, contracts.EventAnalysisDeadLettered, failed.FileID, contracts.AnalysisDeadLetterRecord{
		JobID:        failed.JobID,
		FileID:       failed.FileID,
		UserID:       failed.UserID,
		Kind:         failed.Kind,
		ErrorSummary: reason,
		RetryCount:   failed.Attempts,
		FirstSeenAt:  failed.CreatedAt,
		LastErrorAt:  now,
	})
	return nil
}

// RecoverStaleJobs fails jobs whose worker stopped reporting and re-enqueues pending
// jobs that have been due for longer than the liveness timeout.
func (s *Service) RecoverStaleJobs(ctx context.Context) (int, error) {
	now := s.nowFn()
	cutoff := now.Add(-s.cfg.JobLivenessTimeout)
	recovered := 0
	var errs []error

	stale, err := s.jobs.ListStaleRunning(ctx, cutoff, s.cfg.ReaperBatchSize)
	if err != nil {
		errs = append(errs, err)
	}
	for _, job := range stale {
		if err := s.failJob(ctx, job, domain.FailureWorkerLost); err != nil {
			errs = append(errs, err)
			continue
		}
		recovered++
	}

	overdue, err := s.jobs.ListOverduePending(ctx, cutoff, s.cfg.ReaperBatchSize)
	if err != nil {
		errs = append(errs, err)
	}
	for _, job := range overdue {
		if err := s.queue.Enqueue(ctx, job.JobID, now); err != nil {
			errs = append(errs, err)
			continue
		}
		recovered++
	}
	return recovered, errors.Join(errs...)
}

// HandleFileReady consumes the FileReady work item and applies the automatic
// metadata extraction policy.
func (s *Service) HandleFileReady(ctx context.Context, payload []byte) error {
	var envelope contracts.EventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("%w: decode file ready envelope: %v", domain.ErrInvalidRequest, err)
	}
	var event domain.FileReady
	if err := json.Unmarshal(envelope.Data, &event); err != nil {
		return fmt.Errorf("%w: decode file ready: %v", domain.ErrInvalidRequest, err)
	}
	if !s.cfg.AutoMetadataExtraction {
		return nil
	}
	file, err := s.files.GetByID(ctx, event.FileID)
	if err != nil {
		return err
	}
	if _, err := s.submitJob(ctx, file, domain.JobKindMetadataExtraction); err != nil && !errors.Is(err, domain.ErrConflict) {
		return err
	}
	return nil
}

func (s *Service) cacheResult(ctx context.Context, job domain.AnalysisJob) {
	if s.cache == nil || len(job.Result) == 0 {
		return
	}
	if err := s.cache.PutResult(ctx, job.FileID, job.Kind, job.Result, s.cfg.ResultCacheTTL); err != nil {
		slog.Default().WarnContext(ctx, "failed to cache analysis result",
			"module", "application",
			"operation", "cache_result",
			"outcome", "failure",
			"job_id", job.JobID,
			"error", err,
		)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnsupportedKind):
		return domain.FailureUnsupportedKind
	case errors.Is(err, domain.ErrNotFound):
		return domain.FailureFileMissing
	case errors.Is(err, context.DeadlineExceeded):
		return "analyzer timed out"
	default:
		return err.Error()
	}
}

