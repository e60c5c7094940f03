package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/ports"
	"gorm.io/gorm"
)

type sessionRepository struct {
	db *gorm.DB
}

func (r *sessionRepository) Create(ctx context.Context, session domain.UploadSession) error {
	rec := fromDomainSession(session)
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (r *sessionRepository) GetByToken(ctx context.Context, token string) (domain.UploadSession, error) {
	var rec uploadSessionModel
	if err := r.db.WithContext(ctx).Where("token = ?", token).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.UploadSession{}, domain.ErrNotFound
		}
		return domain.UploadSession{}, err
	}
	return toDomainSession(rec), nil
}

func (r *sessionRepository) Transition(ctx context.Context, token string, to domain.SessionStatus, at time.Time) error {
	return transitionActive(r.db.WithContext(ctx), token, map[string]any{
		"status":     string(to),
		"updated_at": at,
	})
}

func (r *sessionRepository) Complete(ctx context.Context, token string, file domain.StoredFile, event ports.OutboxEvent) error {
	fileRec, err := fromDomainFile(file)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := transitionActive(tx, token, map[string]any{
			"status":     string(domain.SessionStatusCompleted),
			"file_id":    fileRec.FileID,
			"updated_at": file.CreatedAt,
		}); err != nil {
			return err
		}
		if err := tx.Create(&fileRec).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return err
		}
		outbox := fromOutboxEvent(event)
		return tx.Create(&outbox).Error
	})
}

// transitionActive applies updates only while the session is still active. Zero rows
// means another actor already finished it, or the token never existed.
func transitionActive(db *gorm.DB, token string, updates map[string]any) error {
	res := db.Model(&uploadSessionModel{}).
		Where("token = ? AND status = ?", token, string(domain.SessionStatusActive)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := db.Model(&uploadSessionModel{}).Where("token = ?", token).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrInvalidState
}

func (r *sessionRepository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]domain.UploadSession, error) {
	var rows []uploadSessionModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", string(domain.SessionStatusActive), now).
		Order("expires_at asc").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.UploadSession, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainSession(row))
	}
	return out, nil
}
