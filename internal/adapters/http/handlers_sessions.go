package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/application"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
)

type openSessionRequest struct {
	Filename  string `json:"filename"`
	TotalSize int64  `json:"total_size"`
	ChunkSize int64  `json:"chunk_size"`
}

type sessionResponse struct {
	Token       string    `json:"token"`
	Filename    string    `json:"filename"`
	TotalSize   int64     `json:"total_size"`
	ChunkSize   int64     `json:"chunk_size"`
	TotalChunks int       `json:"total_chunks"`
	Status      string    `json:"status"`
	FileID      string    `json:"file_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	UploadURL   string    `json:"upload_url"`
}

func toSessionResponse(session domain.UploadSession) sessionResponse {
	return sessionResponse{
		Token:       session.Token,
		Filename:    session.Filename,
		TotalSize:   session.TotalSize,
		ChunkSize:   session.ChunkSize,
		TotalChunks: session.TotalChunks,
		Status:      string(session.Status),
		FileID:      session.FileID,
		ExpiresAt:   session.ExpiresAt,
		UploadURL:   "/ws/upload/" + session.Token,
	}
}

func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeMissingBearerError(r.Context(), w, "open_session")
		return
	}
	var req openSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "open_session", err)
		return
	}
	if req.ChunkSize == 0 {
		req.ChunkSize = domain.DefaultChunkSize
	}
	session, err := h.service.OpenSession(r.Context(), actor, domain.OpenSessionInput{
		Filename:  req.Filename,
		TotalSize: req.TotalSize,
		ChunkSize: req.ChunkSize,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "open_session", err)
		return
	}
	writeSuccess(w, http.StatusCreated, toSessionResponse(session))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeMissingBearerError(r.Context(), w, "get_session")
		return
	}
	view, err := h.service.GetSession(r.Context(), actor, chi.URLParam(r, "token"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_session", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"session":         toSessionResponse(view.Session),
		"received_chunks": view.ReceivedChunks,
		"missing_chunks":  view.MissingChunks,
		"progress":        view.Progress(),
	})
}

func (h *Handler) cancelSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeMissingBearerError(r.Context(), w, "cancel_session")
		return
	}
	if err := h.service.CancelSession(r.Context(), actor, chi.URLParam(r, "token")); err != nil {
		writeMappedError(r.Context(), w, "cancel_session", err)
		return
	}
	writeMessage(w, http.StatusOK, "Upload cancelled")
}

// simpleUploadMemory bounds how much of a multipart body is buffered in memory before
// spilling to a temp file.
const simpleUploadMemory = 32 << 20

func (h *Handler) uploadSimple(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeMissingBearerError(r.Context(), w, "upload_simple")
		return
	}
	if limit := h.service.Config().MaxUploadBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	}
	if err := r.ParseMultipartForm(simpleUploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMappedError(r.Context(), w, "upload_simple", domain.ErrPayloadTooLarge)
			return
		}
		writeValidationError(r.Context(), w, "upload_simple", errors.New("expected multipart form with a file field"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	part, header, err := r.FormFile("file")
	if err != nil {
		writeValidationError(r.Context(), w, "upload_simple", errors.New("file field is required"))
		return
	}
	defer part.Close()

	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	file, err := h.service.UploadSimple(r.Context(), actor, application.SimpleUploadInput{
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Body:        part,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "upload_simple", err)
		return
	}
	writeSuccess(w, http.StatusCreated, file)
}

func (h *Handler) getFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeMissingBearerError(r.Context(), w, "get_file")
		return
	}
	file, err := h.service.GetFile(r.Context(), actor, chi.URLParam(r, "file_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_file", err)
		return
	}
	writeSuccess(w, http.StatusOK, file)
}
