package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/application"
)

// envelope is the body of every JSON response. Successful calls fill Data or Message,
// failures fill Code and Message.
type envelope struct {
	Status  string            `json:"status"`
	Data    any               `json:"data,omitempty"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message,omitempty"`
	JobID   string            `json:"job_id,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger().Debug("response body not written", "error", err)
	}
}

func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, envelope{Status: "success", Data: data})
}

func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, envelope{Status: "success", Message: message})
}

func logger() *slog.Logger {
	return slog.Default().With("module", "http", "layer", "adapter")
}

// decodeBody reads exactly one JSON document with no unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

func actorFromRequest(r *http.Request) (application.Actor, bool) {
	claims, ok := claimsFromContext(r.Context())
	if !ok || claims.UserID == "" {
		return application.Actor{}, false
	}
	return application.Actor{UserID: claims.UserID, RequestID: requestID(r.Context())}, true
}
