package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
)

// RemoteAnalyzer posts analysis requests to the content analysis service.
type RemoteAnalyzer struct {
	baseURL string
	client  *http.Client
}

func NewRemoteAnalyzer(baseURL string, timeout time.Duration) *RemoteAnalyzer {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &RemoteAnalyzer{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type analyzeRequest struct {
	FileID      string `json:"file_id"`
	StorageKey  string `json:"storage_key"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Kind        string `json:"analysis_type"`
}

func (a *RemoteAnalyzer) Analyze(ctx context.Context, file domain.StoredFile, kind string) (json.RawMessage, error) {
	raw, err := json.Marshal(analyzeRequest{
		FileID:      file.FileID,
		StorageKey:  file.StorageKey,
		ContentType: file.ContentType,
		Size:        file.Size,
		Kind:        kind,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/analyze", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, domain.Transient("call analyzer", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, domain.Transient("read analyzer response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotImplemented || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedKind, kind)
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	default:
		return nil, domain.Transient("call analyzer", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	if !json.Valid(body) {
		return nil, domain.Transient("decode analyzer response", fmt.Errorf("response is not JSON"))
	}
	return json.RawMessage(body), nil
}
