package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type submitJobRequest struct {
	Kind string `json:"kind"`
}

func (h *Handler) submitJob(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeMissingBearerError(r.Context(), w, "submit_job")
		return
	}
	var req submitJobRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "submit_job", err)
		return
	}
	job, err := h.service.SubmitJob(r.Context(), actor, chi.URLParam(r, "file_id"), req.Kind)
	if err != nil {
		writeMappedError(r.Context(), w, "submit_job", err)
		return
	}
	writeSuccess(w, http.StatusAccepted, job)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeMissingBearerError(r.Context(), w, "list_jobs")
		return
	}
	jobs, err := h.service.ListJobs(r.Context(), actor, chi.URLParam(r, "file_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "list_jobs", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeMissingBearerError(r.Context(), w, "get_job")
		return
	}
	job, err := h.service.GetJob(r.Context(), actor, chi.URLParam(r, "job_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_job", err)
		return
	}
	writeSuccess(w, http.StatusOK, job)
}

func (h *Handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeMissingBearerError(r.Context(), w, "delete_job")
		return
	}
	if err := h.service.DeleteJob(r.Context(), actor, chi.URLParam(r, "job_id")); err != nil {
		writeMappedError(r.Context(), w, "delete_job", err)
		return
	}
	writeMessage(w, http.StatusOK, "Analysis deleted")
}

func (h *Handler) getAnalysisResult(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeMissingBearerError(r.Context(), w, "get_analysis_result")
		return
	}
	result, err := h.service.GetAnalysisResult(r.Context(), actor, chi.URLParam(r, "file_id"), chi.URLParam(r, "kind"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_analysis_result", err)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}
