package http

import (
	"context"
	"net/http"
	"time"
)

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failing := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		writeFailure(r.Context(), w, "readyz", http.StatusServiceUnavailable,
			envelope{Code: "NOT_READY", Message: "dependency check failed", Checks: failing}, nil)
		return
	}
	writeMessage(w, http.StatusOK, "ready")
}
