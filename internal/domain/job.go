package domain

import (
	"encoding/json"
	"strings"
	"time"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

const (
	MaxJobAttempts    = 3
	DefaultJobBackoff = 60 * time.Second

	JobKindMetadataExtraction = "metadata_extraction"
)

// Failure reasons that never benefit from another attempt.
const (
	FailureUnsupportedKind = "unsupported_kind"
	FailureFileMissing     = "file_missing"
	FailureWorkerLost      = "worker_lost"
)

type AnalysisJob struct {
	JobID         string          `json:"job_id"`
	FileID        string          `json:"file_id"`
	UserID        string          `json:"user_id"`
	Kind          string          `json:"kind"`
	Status        JobStatus       `json:"status"`
	Result        json.RawMessage `json:"result,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Attempts      int             `json:"attempts"`
	WorkerID      string          `json:"worker_id,omitempty"`
	ProcessingMS  int64           `json:"processing_ms,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

func IsTerminal(status JobStatus) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

func IsInFlight(status JobStatus) bool {
	return status == JobStatusPending || status == JobStatusRunning
}

func NormalizeJobKind(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func IsRetryableJobFailure(reason string) bool {
	switch reason {
	case FailureUnsupportedKind, FailureFileMissing:
		return false
	default:
		return true
	}
}

// JobStatusChanged is published on the owner's topic for every transition.
type JobStatusChanged struct {
	Event      string          `json:"event"`
	JobID      string          `json:"job_id"`
	FileID     string          `json:"file_id"`
	Kind       string          `json:"kind"`
	OldStatus  JobStatus       `json:"old_status,omitempty"`
	NewStatus  JobStatus       `json:"new_status"`
	Attempts   int             `json:"attempts"`
	Detail     string          `json:"detail,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// JobEventName maps a transition onto the event names clients already listen for.
func JobEventName(from, to JobStatus) string {
	switch to {
	case JobStatusPending:
		if from == JobStatusFailed {
			return "analysis_retry_scheduled"
		}
		return "analysis_queued"
	case JobStatusRunning:
		return "analysis_started"
	case JobStatusCompleted:
		return "analysis_completed"
	case JobStatusFailed:
		return "analysis_failed"
	default:
		return "analysis_status_changed"
	}
}
