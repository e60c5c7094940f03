package postgres

import (
	"context"
	"errors"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/ports"
	"gorm.io/gorm"
)

type fileRepository struct {
	db *gorm.DB
}

func (r *fileRepository) Create(ctx context.Context, file domain.StoredFile, event ports.OutboxEvent) error {
	rec, err := fromDomainFile(file)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return err
		}
		outbox := fromOutboxEvent(event)
		return tx.Create(&outbox).Error
	})
}

func (r *fileRepository) GetByID(ctx context.Context, fileID string) (domain.StoredFile, error) {
	id, err := parseID(fileID)
	if err != nil {
		return domain.StoredFile{}, err
	}
	var rec storedFileModel
	if err := r.db.WithContext(ctx).Where("file_id = ?", id).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.StoredFile{}, domain.ErrNotFound
		}
		return domain.StoredFile{}, err
	}
	return toDomainFile(rec), nil
}
