package postgres

import (
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Sessions ports.SessionRepository
	Files    ports.FileRepository
	Jobs     ports.JobRepository
	Outbox   ports.OutboxRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Sessions: &sessionRepository{db: db},
		Files:    &fileRepository{db: db},
		Jobs:     &jobRepository{db: db},
		Outbox:   &outboxRepository{db: db},
	}
}
