package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
	"gorm.io/gorm"
)

var inFlightStatuses = []string{string(domain.JobStatusPending), string(domain.JobStatusRunning)}

type jobRepository struct {
	db *gorm.DB
}

func (r *jobRepository) Create(ctx context.Context, job domain.AnalysisJob) error {
	rec, err := fromDomainJob(job)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return r.conflict(ctx, rec)
		}
		return err
	}
	return nil
}

// conflict resolves the unique-index violation into the id of the job holding the slot.
func (r *jobRepository) conflict(ctx context.Context, rec analysisJobModel) error {
	var holder analysisJobModel
	err := r.db.WithContext(ctx).
		Where("file_id = ? AND kind = ? AND status IN ? AND job_id <> ?", rec.FileID, rec.Kind, inFlightStatuses, rec.JobID).
		Take(&holder).Error
	if err != nil {
		return domain.ErrConflict
	}
	return &domain.JobConflictError{JobID: holder.JobID.String()}
}

func (r *jobRepository) GetByID(ctx context.Context, jobID string) (domain.AnalysisJob, error) {
	id, err := parseID(jobID)
	if err != nil {
		return domain.AnalysisJob{}, err
	}
	var rec analysisJobModel
	if err := r.db.WithContext(ctx).Where("job_id = ?", id).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.AnalysisJob{}, domain.ErrNotFound
		}
		return domain.AnalysisJob{}, err
	}
	return toDomainJob(rec), nil
}

func (r *jobRepository) ListByFile(ctx context.Context, fileID string) ([]domain.AnalysisJob, error) {
	id, err := parseID(fileID)
	if err != nil {
		return nil, err
	}
	var rows []analysisJobModel
	if err := r.db.WithContext(ctx).Where("file_id = ?", id).Order("created_at desc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainJobs(rows), nil
}

func (r *jobRepository) LatestCompleted(ctx context.Context, fileID, kind string) (domain.AnalysisJob, error) {
	id, err := parseID(fileID)
	if err != nil {
		return domain.AnalysisJob{}, err
	}
	var rec analysisJobModel
	if err := r.db.WithContext(ctx).
		Where("file_id = ? AND kind = ? AND status = ?", id, kind, string(domain.JobStatusCompleted)).
		Order("completed_at desc").
		Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.AnalysisJob{}, domain.ErrNotFound
		}
		return domain.AnalysisJob{}, err
	}
	return toDomainJob(rec), nil
}

func (r *jobRepository) CompareAndSwap(ctx context.Context, job domain.AnalysisJob, expected domain.JobStatus) error {
	rec, err := fromDomainJob(job)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&analysisJobModel{}).
		Where("job_id = ? AND status = ?", rec.JobID, string(expected)).
		Updates(map[string]any{
			"status":          rec.Status,
			"result":          rec.Result,
			"error_message":   rec.ErrorMessage,
			"attempts":        rec.Attempts,
			"worker_id":       rec.WorkerID,
			"processing_ms":   rec.ProcessingMS,
			"next_attempt_at": rec.NextAttemptAt,
			"started_at":      rec.StartedAt,
			"completed_at":    rec.CompletedAt,
		})
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return r.conflict(ctx, rec)
		}
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&analysisJobModel{}).Where("job_id = ?", rec.JobID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrInvalidState
}

func (r *jobRepository) DeleteTerminal(ctx context.Context, jobID string) error {
	id, err := parseID(jobID)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).
		Where("job_id = ? AND status NOT IN ?", id, inFlightStatuses).
		Delete(&analysisJobModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&analysisJobModel{}).Where("job_id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrInvalidState
}

func (r *jobRepository) ListStaleRunning(ctx context.Context, startedBefore time.Time, limit int) ([]domain.AnalysisJob, error) {
	var rows []analysisJobModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", string(domain.JobStatusRunning), startedBefore).
		Order("started_at asc").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainJobs(rows), nil
}

func (r *jobRepository) ListOverduePending(ctx context.Context, dueBefore time.Time, limit int) ([]domain.AnalysisJob, error) {
	var rows []analysisJobModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at < ?", string(domain.JobStatusPending), dueBefore).
		Order("next_attempt_at asc").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainJobs(rows), nil
}

func toDomainJobs(rows []analysisJobModel) []domain.AnalysisJob {
	out := make([]domain.AnalysisJob, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainJob(row))
	}
	return out
}
