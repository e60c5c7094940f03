package postgres

import (
	"time"

	"github.com/google/uuid"
)

type uploadSessionModel struct {
	Token       string     `gorm:"column:token;primaryKey"`
	UserID      string     `gorm:"column:user_id"`
	Filename    string     `gorm:"column:filename"`
	TotalSize   int64      `gorm:"column:total_size"`
	ChunkSize   int64      `gorm:"column:chunk_size"`
	TotalChunks int        `gorm:"column:total_chunks"`
	Status      string     `gorm:"column:status"`
	FileID      *uuid.UUID `gorm:"column:file_id;type:uuid"`
	ExpiresAt   time.Time  `gorm:"column:expires_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

func (uploadSessionModel) TableName() string { return "upload_sessions" }

type storedFileModel struct {
	FileID      uuid.UUID `gorm:"column:file_id;type:uuid;primaryKey"`
	UserID      string    `gorm:"column:user_id"`
	Filename    string    `gorm:"column:filename"`
	StorageKey  string    `gorm:"column:storage_key"`
	SizeBytes   int64     `gorm:"column:size_bytes"`
	ContentType string    `gorm:"column:content_type"`
	Checksum    string    `gorm:"column:checksum"`
	Source      string    `gorm:"column:source"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (storedFileModel) TableName() string { return "stored_files" }

type analysisJobModel struct {
	JobID         uuid.UUID  `gorm:"column:job_id;type:uuid;primaryKey"`
	FileID        uuid.UUID  `gorm:"column:file_id;type:uuid"`
	UserID        string     `gorm:"column:user_id"`
	Kind          string     `gorm:"column:kind"`
	Status        string     `gorm:"column:status"`
	Result        *string    `gorm:"column:result;type:jsonb"`
	ErrorMessage  string     `gorm:"column:error_message"`
	Attempts      int        `gorm:"column:attempts"`
	WorkerID      string     `gorm:"column:worker_id"`
	ProcessingMS  int64      `gorm:"column:processing_ms"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	StartedAt     *time.Time `gorm:"column:started_at"`
	CompletedAt   *time.Time `gorm:"column:completed_at"`
}

func (analysisJobModel) TableName() string { return "analysis_jobs" }

type outboxModel struct {
	OutboxID     uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      string     `gorm:"column:payload;type:jsonb"`
	RetryCount   int        `gorm:"column:retry_count"`
	LastError    string     `gorm:"column:last_error"`
	LastErrorAt  *time.Time `gorm:"column:last_error_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
	FirstSeenAt  time.Time  `gorm:"column:first_seen_at"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
}

func (outboxModel) TableName() string { return "media_upload_outbox" }
