package analyzer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/ports"
	"golang.org/x/crypto/blake2b"
)

// Router runs metadata extraction in process and hands every other kind to the
// remote analysis service when one is configured.
type Router struct {
	storage ports.FileStorage
	remote  *RemoteAnalyzer
	nowFn   func() time.Time
}

func NewRouter(storage ports.FileStorage, remote *RemoteAnalyzer) *Router {
	return &Router{storage: storage, remote: remote, nowFn: func() time.Time { return time.Now().UTC() }}
}

func (r *Router) Analyze(ctx context.Context, file domain.StoredFile, kind string) (json.RawMessage, error) {
	if kind == domain.JobKindMetadataExtraction {
		return r.extractMetadata(ctx, file)
	}
	if r.remote == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedKind, kind)
	}
	return r.remote.Analyze(ctx, file, kind)
}

type metadataResult struct {
	AnalysisType    string    `json:"analysis_type"`
	FileID          string    `json:"file_id"`
	Filename        string    `json:"filename"`
	Extension       string    `json:"extension,omitempty"`
	SizeBytes       int64     `json:"size_bytes"`
	ContentType     string    `json:"content_type"`
	Checksum        string    `json:"checksum"`
	ChecksumAlgo    string    `json:"checksum_algorithm"`
	ChecksumMatches bool      `json:"checksum_matches"`
	ExtractedAt     time.Time `json:"extracted_at"`
}

// extractMetadata re-reads the stored object, so the result reflects what is actually
// in storage rather than what the catalog believes.
func (r *Router) extractMetadata(ctx context.Context, file domain.StoredFile) (json.RawMessage, error) {
	body, err := r.storage.Open(ctx, file.StorageKey)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	hash, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	sniff := make([]byte, 512)
	n, err := io.ReadFull(body, sniff)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, domain.Transient("read stored file", err)
	}
	sniff = sniff[:n]
	hash.Write(sniff)
	rest, err := io.Copy(hash, contextReader{ctx: ctx, r: body})
	if err != nil {
		return nil, domain.Transient("read stored file", err)
	}
	checksum := hex.EncodeToString(hash.Sum(nil))

	return json.Marshal(metadataResult{
		AnalysisType:    domain.JobKindMetadataExtraction,
		FileID:          file.FileID,
		Filename:        file.Filename,
		Extension:       strings.TrimPrefix(strings.ToLower(path.Ext(file.Filename)), "."),
		SizeBytes:       int64(n) + rest,
		ContentType:     http.DetectContentType(sniff),
		Checksum:        checksum,
		ChecksumAlgo:    "blake2b-256",
		ChecksumMatches: file.Checksum == "" || file.Checksum == checksum,
		ExtractedAt:     r.nowFn(),
	})
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
