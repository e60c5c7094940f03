package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/analyzer"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/events"
	httpadapter "github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/http"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/adapters/storage"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/application"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/ports"
)

type apiHarness struct {
	server   *httptest.Server
	signer   *security.JWTVerifier
	service  *application.Service
	notReady error
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	fs, err := storage.NewFilesystemStorage(t.TempDir())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	repos := memory.NewRepositories()
	service := application.NewService(application.Dependencies{
		Config: application.Config{
			MaxUploadBytes:      4 << 20,
			AllowedContentTypes: []string{"video/"},
		},
		Sessions: repos.Sessions,
		Files:    repos.Files,
		Jobs:     repos.Jobs,
		Outbox:   repos.Outbox,
		Storage:  fs,
		Analyzer: analyzer.NewRouter(fs, nil),
		Queue:    events.NewMemoryJobQueue(),
		Notifier: events.NewBus(8),
	})
	signer, err := security.NewEphemeralJWTVerifier("test-key")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	h := &apiHarness{signer: signer, service: service}
	handler := httpadapter.NewHandler(service, signer, map[string]httpadapter.ReadinessCheck{
		"storage": func(context.Context) error { return h.notReady },
	})
	h.server = httptest.NewServer(httpadapter.NewRouter(handler, nil))
	t.Cleanup(h.server.Close)
	return h
}

func (h *apiHarness) token(t *testing.T, userID string) string {
	t.Helper()
	now := time.Now().UTC()
	token, err := h.signer.Sign(ports.AuthClaims{UserID: userID, IssuedAt: now, ExpiresAt: now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

type envelope struct {
	Status  string          `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	JobID   string          `json:"job_id"`
	Data    json.RawMessage `json:"data"`
}

func (h *apiHarness) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, h.server.URL+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	var env envelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	if status, _ := h.do(t, http.MethodGet, "/healthz", "", nil); status != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", status)
	}
	if status, _ := h.do(t, http.MethodGet, "/readyz", "", nil); status != http.StatusOK {
		t.Fatalf("expected readyz 200, got %d", status)
	}
	h.notReady = errors.New("disk unavailable")
	status, env := h.do(t, http.MethodGet, "/readyz", "", nil)
	if status != http.StatusServiceUnavailable || env.Code != "NOT_READY" {
		t.Fatalf("expected NOT_READY 503, got %d %+v", status, env)
	}
}

func TestAuthIsRequired(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	status, env := h.do(t, http.MethodPost, "/v1/uploads/sessions", "", map[string]any{"filename": "a.mp4", "total_size": 10})
	if status != http.StatusUnauthorized || env.Code != "UNAUTHORIZED" {
		t.Fatalf("expected 401 without token, got %d %+v", status, env)
	}
	status, _ = h.do(t, http.MethodPost, "/v1/uploads/sessions", "garbage", map[string]any{"filename": "a.mp4", "total_size": 10})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", status)
	}
}

func TestSessionEndpoints(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)
	alice := h.token(t, "alice")

	status, env := h.do(t, http.MethodPost, "/v1/uploads/sessions", alice, map[string]any{
		"filename": "clip.mp4", "total_size": 10, "chunk_size": 4,
	})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d %+v", status, env)
	}
	var session struct {
		Token       string `json:"token"`
		TotalChunks int    `json:"total_chunks"`
		UploadURL   string `json:"upload_url"`
	}
	_ = json.Unmarshal(env.Data, &session)
	if session.TotalChunks != 3 || session.UploadURL != "/ws/upload/"+session.Token {
		t.Fatalf("unexpected session %+v", session)
	}

	if _, err := h.service.AcceptChunk(context.Background(), session.Token, 1, []byte("efgh")); err != nil {
		t.Fatalf("accept chunk: %v", err)
	}
	status, env = h.do(t, http.MethodGet, "/v1/uploads/sessions/"+session.Token, alice, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var view struct {
		Received []int `json:"received_chunks"`
		Missing  []int `json:"missing_chunks"`
	}
	_ = json.Unmarshal(env.Data, &view)
	if len(view.Received) != 1 || view.Received[0] != 1 || len(view.Missing) != 2 {
		t.Fatalf("unexpected resume view %+v", view)
	}

	bob := h.token(t, "bob")
	if status, _ := h.do(t, http.MethodGet, "/v1/uploads/sessions/"+session.Token, bob, nil); status != http.StatusNotFound {
		t.Fatalf("expected 404 for another user, got %d", status)
	}
	if status, _ := h.do(t, http.MethodDelete, "/v1/uploads/sessions/"+session.Token, alice, nil); status != http.StatusOK {
		t.Fatalf("expected cancel 200, got %d", status)
	}
	status, env = h.do(t, http.MethodDelete, "/v1/uploads/sessions/"+session.Token, alice, nil)
	if status != http.StatusBadRequest || env.Code != "INVALID_STATE" {
		t.Fatalf("expected INVALID_STATE on second cancel, got %d %+v", status, env)
	}

	status, env = h.do(t, http.MethodPost, "/v1/uploads/sessions", alice, map[string]any{"filename": "big.mp4", "total_size": 5 << 20})
	if status != http.StatusRequestEntityTooLarge || env.Code != "PAYLOAD_TOO_LARGE" {
		t.Fatalf("expected 413, got %d %+v", status, env)
	}
	status, env = h.do(t, http.MethodPost, "/v1/uploads/sessions", alice, map[string]any{"filename": "", "total_size": 10})
	if status != http.StatusBadRequest || env.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected 400 validation error, got %d %+v", status, env)
	}
}

func simpleUploadRequest(t *testing.T, url, token, filename, contentType string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write(body)
	_ = mw.Close()
	req, _ := http.NewRequest(http.MethodPost, url+"/v1/uploads/simple", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestSimpleUploadAndJobEndpoints(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)
	alice := h.token(t, "alice")

	status, env := send(t, simpleUploadRequest(t, h.server.URL, alice, "clip.mp4", "video/mp4", bytes.Repeat([]byte("v"), 1024)))
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d %+v", status, env)
	}
	var file struct {
		FileID string `json:"file_id"`
		Size   int64  `json:"size"`
	}
	_ = json.Unmarshal(env.Data, &file)
	if file.FileID == "" || file.Size != 1024 {
		t.Fatalf("unexpected file %+v", file)
	}
	if status, _ := send(t, simpleUploadRequest(t, h.server.URL, alice, "notes.txt", "text/plain", []byte("hi"))); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for rejected content type, got %d", status)
	}
	if status, _ := h.do(t, http.MethodGet, "/v1/files/"+file.FileID, alice, nil); status != http.StatusOK {
		t.Fatalf("expected file lookup 200, got %d", status)
	}

	status, env = h.do(t, http.MethodPost, "/v1/files/"+file.FileID+"/jobs", alice, map[string]string{"kind": "metadata_extraction"})
	if status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %+v", status, env)
	}
	var job struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	_ = json.Unmarshal(env.Data, &job)
	status, env = h.do(t, http.MethodPost, "/v1/files/"+file.FileID+"/jobs", alice, map[string]string{"kind": "metadata_extraction"})
	if status != http.StatusConflict || env.JobID != job.JobID {
		t.Fatalf("expected 409 naming %s, got %d %+v", job.JobID, status, env)
	}
	status, env = h.do(t, http.MethodDelete, "/v1/jobs/"+job.JobID, alice, nil)
	if status != http.StatusBadRequest || env.Code != "INVALID_STATE" {
		t.Fatalf("expected in-flight delete to be refused, got %d %+v", status, env)
	}
	status, _ = h.do(t, http.MethodGet, "/v1/files/"+file.FileID+"/analysis/metadata_extraction", alice, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 before the job completes, got %d", status)
	}

	if err := h.service.ProcessNextJob(context.Background()); err != nil {
		t.Fatalf("process job: %v", err)
	}
	status, env = h.do(t, http.MethodGet, "/v1/files/"+file.FileID+"/analysis/metadata_extraction", alice, nil)
	if status != http.StatusOK {
		t.Fatalf("expected analysis result, got %d %+v", status, env)
	}
	var result struct {
		SizeBytes int64 `json:"size_bytes"`
	}
	_ = json.Unmarshal(env.Data, &result)
	if result.SizeBytes != 1024 {
		t.Fatalf("unexpected analysis result %s", env.Data)
	}
	if status, _ := h.do(t, http.MethodGet, "/v1/jobs/"+job.JobID, h.token(t, "bob"), nil); status != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's job, got %d", status)
	}
	if status, _ := h.do(t, http.MethodDelete, "/v1/jobs/"+job.JobID, alice, nil); status != http.StatusOK {
		t.Fatalf("expected delete 200, got %d", status)
	}
}
