package domain

import (
	"fmt"
	"strings"
	"time"
)

type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusExpired   SessionStatus = "expired"
)

const (
	DefaultSessionTTL = 24 * time.Hour
	DefaultChunkSize  = 1 << 20

	DefaultMaxChunks = 10_000
	// MaxChunksCeiling bounds every configured limit. total_chunks is stored as a
	// 32-bit integer and the resume query lists up to that many indices.
	MaxChunksCeiling = 1 << 20
)

type UploadSession struct {
	Token       string        `json:"token"`
	UserID      string        `json:"user_id"`
	Filename    string        `json:"filename"`
	TotalSize   int64         `json:"total_size"`
	ChunkSize   int64         `json:"chunk_size"`
	TotalChunks int           `json:"total_chunks"`
	Status      SessionStatus `json:"status"`
	FileID      string        `json:"file_id,omitempty"`
	ExpiresAt   time.Time     `json:"expires_at"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type OpenSessionInput struct {
	Filename  string
	TotalSize int64
	ChunkSize int64
}

// SessionLimits caps what a caller may ask for when opening a session. Zero values
// mean no size cap, no chunk size floor and DefaultMaxChunks.
type SessionLimits struct {
	MaxUploadBytes int64
	MinChunkSize   int64
	MaxChunks      int
}

func (l SessionLimits) maxChunks() int64 {
	if l.MaxChunks <= 0 {
		return DefaultMaxChunks
	}
	return int64(min(l.MaxChunks, MaxChunksCeiling))
}

func ValidateOpenSession(input OpenSessionInput, limits SessionLimits) error {
	if strings.TrimSpace(input.Filename) == "" || input.TotalSize <= 0 || input.ChunkSize <= 0 {
		return ErrInvalidRequest
	}
	if limits.MaxUploadBytes > 0 && input.TotalSize > limits.MaxUploadBytes {
		return ErrPayloadTooLarge
	}
	// A file that fits in one chunk may use any chunk size that covers it.
	if input.ChunkSize < limits.MinChunkSize && input.ChunkSize < input.TotalSize {
		return fmt.Errorf("%w: chunk_size must be at least %d bytes", ErrInvalidRequest, limits.MinChunkSize)
	}
	if n, limit := totalChunks(input.TotalSize, input.ChunkSize), limits.maxChunks(); n > limit {
		return fmt.Errorf("%w: %d chunks requested, at most %d allowed", ErrInvalidRequest, n, limit)
	}
	return nil
}

func totalChunks(totalSize, chunkSize int64) int64 {
	n := totalSize / chunkSize
	if totalSize%chunkSize != 0 {
		n++
	}
	return n
}

func TotalChunks(totalSize, chunkSize int64) int {
	if totalSize <= 0 || chunkSize <= 0 {
		return 0
	}
	return int(totalChunks(totalSize, chunkSize))
}

// ExpectedChunkLen is the exact byte length chunk index must carry. Every chunk but the
// last is chunk_size long; the last one holds the remainder.
func (s UploadSession) ExpectedChunkLen(index int) int64 {
	if index < s.TotalChunks-1 {
		return s.ChunkSize
	}
	return s.TotalSize - int64(s.TotalChunks-1)*s.ChunkSize
}

func (s UploadSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func IsTerminalSession(status SessionStatus) bool {
	return status != SessionStatusActive
}

// SessionProgress is the result of a single accepted chunk.
type SessionProgress struct {
	Token          string
	ChunkIndex     int
	UploadedChunks int
	TotalChunks    int
	Completed      bool
	File           *StoredFile
}

func (p SessionProgress) Percent() float64 {
	if p.TotalChunks == 0 {
		return 0
	}
	return float64(p.UploadedChunks) / float64(p.TotalChunks) * 100
}

// SessionView answers the resume query: what the server holds right now.
type SessionView struct {
	Session        UploadSession
	ReceivedChunks []int
	MissingChunks  []int
}

func (v SessionView) Progress() float64 {
	if v.Session.TotalChunks == 0 {
		return 0
	}
	return float64(len(v.ReceivedChunks)) / float64(v.Session.TotalChunks) * 100
}
