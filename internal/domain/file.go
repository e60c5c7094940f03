package domain

import (
	"fmt"
	"path"
	"strings"
	"time"
)

type FileSource string

const (
	FileSourceSession FileSource = "session"
	FileSourceSimple  FileSource = "simple"
)

type StoredFile struct {
	FileID      string     `json:"file_id"`
	UserID      string     `json:"user_id"`
	Filename    string     `json:"filename"`
	StorageKey  string     `json:"storage_key"`
	Size        int64      `json:"size"`
	ContentType string     `json:"content_type"`
	Checksum    string     `json:"checksum"`
	Source      FileSource `json:"source"`
	CreatedAt   time.Time  `json:"created_at"`
}

// FileReady is enqueued once a file has landed in durable storage.
type FileReady struct {
	FileID     string    `json:"file_id"`
	UserID     string    `json:"user_id"`
	Token      string    `json:"session_token,omitempty"`
	StorageKey string    `json:"storage_key"`
	Size       int64     `json:"size"`
	OccurredAt time.Time `json:"occurred_at"`
}

// StorageKeyFor keeps objects grouped per user while preserving the original extension.
func StorageKeyFor(userID, fileID, filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(filename, "\\", "/"))))
	if len(ext) > 16 {
		ext = ""
	}
	return fmt.Sprintf("%s/%s%s", userID, fileID, ext)
}

func IsAllowedContentType(contentType string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	for _, p := range prefixes {
		if strings.HasPrefix(ct, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func UserTopic(userID string) string {
	return "user:" + userID
}
