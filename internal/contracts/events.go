package contracts

import (
	"encoding/json"
	"time"
)

const (
	EventFileReady              = "media.file_ready"
	EventAnalysisCompleted      = "media.analysis.completed"
	EventAnalysisDeadLettered   = "media.analysis.dead_lettered"
	NotificationUploadCompleted = "upload_completed"
	NotificationUploadCancelled = "upload_cancelled"
	NotificationUploadExpired   = "upload_expired"
)

// EventEnvelope wraps every payload written to the outbox.
type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	SourceService    string          `json:"source_service"`
	SchemaVersion    string          `json:"schema_version"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	Data             json.RawMessage `json:"data"`
}

type UploadNotification struct {
	Event        string    `json:"event"`
	SessionToken string    `json:"session_token"`
	FileID       string    `json:"file_id,omitempty"`
	Filename     string    `json:"filename"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type AnalysisCompletedEvent struct {
	JobID        string          `json:"job_id"`
	FileID       string          `json:"file_id"`
	UserID       string          `json:"user_id"`
	Kind         string          `json:"kind"`
	Attempts     int             `json:"attempts"`
	ProcessingMS int64           `json:"processing_ms"`
	Result       json.RawMessage `json:"result"`
}

type AnalysisDeadLetterRecord struct {
	JobID        string    `json:"job_id"`
	FileID       string    `json:"file_id"`
	UserID       string    `json:"user_id"`
	Kind         string    `json:"kind"`
	ErrorSummary string    `json:"error_summary"`
	RetryCount   int       `json:"retry_count"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
	LastErrorAt  time.Time `json:"last_error_at"`
}
