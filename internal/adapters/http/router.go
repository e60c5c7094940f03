package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/application"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/ports"
)

// ReadinessCheck reports whether one backing dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Sockets is implemented by the websocket gateway.
type Sockets interface {
	ServeUpload(w http.ResponseWriter, r *http.Request)
	ServeNotifications(w http.ResponseWriter, r *http.Request)
}

type Handler struct {
	service  *application.Service
	verifier ports.TokenVerifier
	checks   map[string]ReadinessCheck
}

func NewHandler(service *application.Service, verifier ports.TokenVerifier, checks map[string]ReadinessCheck) *Handler {
	return &Handler{service: service, verifier: verifier, checks: checks}
}

func NewRouter(handler *Handler, sockets Sockets) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(accessLogMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)

	if sockets != nil {
		r.Get("/ws/upload/{token}", sockets.ServeUpload)
		r.Get("/ws/notifications", sockets.ServeNotifications)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(handler.authMiddleware)

		r.Post("/uploads/sessions", handler.openSession)
		r.Get("/uploads/sessions/{token}", handler.getSession)
		r.Delete("/uploads/sessions/{token}", handler.cancelSession)
		r.Post("/uploads/simple", handler.uploadSimple)

		r.Get("/files/{file_id}", handler.getFile)
		r.Post("/files/{file_id}/jobs", handler.submitJob)
		r.Get("/files/{file_id}/jobs", handler.listJobs)
		r.Get("/files/{file_id}/analysis/{kind}", handler.getAnalysisResult)

		r.Get("/jobs/{job_id}", handler.getJob)
		r.Delete("/jobs/{job_id}", handler.deleteJob)
	})

	return r
}
