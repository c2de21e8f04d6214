package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/shopglance/syncengine/pkg/core"
	"github.com/shopglance/syncengine/pkg/security"
)

// server exposes the ops HTTP surface: enqueue sync jobs, inspect job
// state and audit trails, and read tenant stats.
type server struct {
	store  core.Store
	logger *slog.Logger

	countEnqueued func()
}

func newRouter(s *server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/v1/jobs", s.createJob)
	r.Get("/v1/jobs", s.listJobs)
	r.Get("/v1/jobs/{id}", s.getJob)
	r.Get("/v1/jobs/{id}/audit", s.getAudit)
	r.Get("/v1/stats", s.getStats)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

type createJobRequest struct {
	TenantID   string          `json:"tenantId"`
	Kind       string          `json:"kind"`
	TargetKey  string          `json:"targetKey"`
	Payload    json.RawMessage `json:"payload"`
	MaxRetries int             `json:"maxRetries"`
}

func (s *server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if err := security.ValidateTenantID(req.TenantID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := security.ValidateKindName(req.Kind); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := security.ValidateTargetKey(req.TargetKey); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Payload) > security.MaxPayloadSize {
		http.Error(w, core.ErrPayloadTooLarge.Error(), http.StatusBadRequest)
		return
	}

	maxRetries := core.DefaultMaxRetries
	if req.MaxRetries > 0 {
		maxRetries = security.ClampRetries(req.MaxRetries)
	}

	job := &core.Job{
		ID:         uuid.New().String(),
		TenantID:   req.TenantID,
		Kind:       req.Kind,
		TargetKey:  req.TargetKey,
		Payload:    req.Payload,
		MaxRetries: maxRetries,
		Status:     core.StatusQueued,
	}

	if err := s.store.Enqueue(r.Context(), job); err != nil {
		if errors.Is(err, core.ErrDuplicateActiveJob) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		s.logger.Error("enqueue failed", "tenant", req.TenantID, "kind", req.Kind, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if s.countEnqueued != nil {
		s.countEnqueued()
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (s *server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("job lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *server) listJobs(w http.ResponseWriter, r *http.Request) {
	status := core.JobStatus(r.URL.Query().Get("status"))
	switch status {
	case core.StatusQueued, core.StatusProcessing, core.StatusSuccess, core.StatusFailed:
	default:
		http.Error(w, "status must be one of queued, processing, success, failed", http.StatusBadRequest)
		return
	}

	limit := 100
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}

	jobs, err := s.store.GetJobsByStatus(r.Context(), status, limit)
	if err != nil {
		s.logger.Error("job list failed", "status", status, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *server) getAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	trail, err := s.store.AuditTrail(r.Context(), id)
	if err != nil {
		s.logger.Error("audit lookup failed", "job_id", id, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, trail)
}

func (s *server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context(), r.URL.Query().Get("tenant"))
	if err != nil {
		s.logger.Error("stats failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
