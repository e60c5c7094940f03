package ports

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
)

type FileStorage interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// ContentAnalyzer runs one analysis kind against a stored file.
type ContentAnalyzer interface {
	Analyze(ctx context.Context, file domain.StoredFile, kind string) (json.RawMessage, error)
}

type ResultCache interface {
	PutResult(ctx context.Context, fileID, kind string, result json.RawMessage, ttl time.Duration) error
	GetResult(ctx context.Context, fileID, kind string) (json.RawMessage, error)
}
