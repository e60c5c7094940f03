package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/domain"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string // empty means the error text is safe to show
}

// Order matters: ErrOutOfRange wraps ErrInvalidRequest.
var errorMappings = []errorMapping{
	{domain.ErrOutOfRange, http.StatusBadRequest, "OUT_OF_RANGE", "chunk index out of range"},
	{domain.ErrInvalidRequest, http.StatusBadRequest, "VALIDATION_ERROR", ""},
	{domain.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "upload exceeds the maximum allowed size"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials"},
	{domain.ErrExpired, http.StatusGone, "SESSION_EXPIRED", "upload session expired"},
	{domain.ErrInvalidState, http.StatusBadRequest, "INVALID_STATE", ""},
	{domain.ErrConflict, http.StatusConflict, "CONFLICT", ""},
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "resource not found"},
	{domain.ErrTransientFailure, http.StatusServiceUnavailable, "TEMPORARILY_UNAVAILABLE", "storage temporarily unavailable, retry the request"},
}

func mapDomainError(err error) (int, string, string) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		if m.message == "" {
			return m.status, m.code, err.Error()
		}
		return m.status, m.code, m.message
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
}

func writeFailure(ctx context.Context, w http.ResponseWriter, operation string, statusCode int, body envelope, cause error) {
	body.Status = "error"
	fields := []any{
		"operation", operation,
		"outcome", "failure",
		"status_code", statusCode,
		"error_code", body.Code,
		"request_id", requestID(ctx),
	}
	if cause != nil {
		fields = append(fields, "error", cause.Error())
	}
	level := slogLevelFor(statusCode)
	logger().Log(ctx, level, "http operation failed", fields...)
	writeJSON(w, statusCode, body)
}

func writeMappedError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	status, code, msg := mapDomainError(err)
	body := envelope{Code: code, Message: msg}
	var conflict *domain.JobConflictError
	if errors.As(err, &conflict) {
		body.JobID = conflict.JobID
	}
	writeFailure(ctx, w, operation, status, body, err)
}

func writeValidationError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	writeFailure(ctx, w, operation, http.StatusBadRequest, envelope{Code: "VALIDATION_ERROR", Message: err.Error()}, err)
}

func writeMissingBearerError(ctx context.Context, w http.ResponseWriter, operation string) {
	writeFailure(ctx, w, operation, http.StatusUnauthorized, envelope{Code: "UNAUTHORIZED", Message: "missing bearer token"}, nil)
}
