package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/promptq/internal/queue"
)

// DefaultPlatform is used when POST /jobs omits platform.
const DefaultPlatform = "api"

const maxBodyBytes = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st, err := s.jobs.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to compute queue stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute queue stats")
		return
	}

	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Queue:         st,
	}
	if s.worker != nil {
		resp.WorkerRunning = s.worker.IsRunning()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleEnqueue handles POST /jobs.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	platform := strings.TrimSpace(req.Platform)
	if platform == "" {
		platform = DefaultPlatform
	}

	job, err := s.jobs.Enqueue(r.Context(), queue.EnqueueRequest{
		Prompt:           req.Prompt,
		ProviderName:     req.Provider,
		WorkingDirectory: req.WorkingDirectory,
		ChannelID:        strings.TrimSpace(req.ChannelID),
		ChannelPlatform:  platform,
	})
	if err != nil {
		s.writeQueueError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

// handleListJobs handles GET /jobs?status=&channel_id=&limit=.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := queue.ListFilter{
		Status:    queue.Status(q.Get("status")),
		ChannelID: q.Get("channel_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	jobs, err := s.jobs.List(r.Context(), f)
	if err != nil {
		s.writeQueueError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*queue.Job{}
	}
	respondJSON(w, http.StatusOK, JobListResponse{Jobs: jobs, Count: len(jobs)})
}

// handleGetJob handles GET /jobs/{id}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.writeQueueError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// handleCancel handles POST /jobs/{id}/cancel. Only pending jobs can be
// cancelled; anything else is a 409 carrying the current status.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	cancelled, err := s.jobs.Cancel(r.Context(), id)
	if err != nil {
		s.writeQueueError(w, err)
		return
	}
	if cancelled {
		respondJSON(w, http.StatusOK, CancelResponse{JobID: id, Cancelled: true, Status: queue.StatusFailed})
		return
	}

	resp := CancelResponse{JobID: id}
	if job, err := s.jobs.Get(r.Context(), id); err == nil {
		resp.Status = job.Status
	}
	respondJSON(w, http.StatusConflict, resp)
}

// handleRetry handles POST /jobs/{id}/retry.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	job, err := s.jobs.Retry(r.Context(), id)
	if err != nil {
		s.writeQueueError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

// handleClearFinished handles DELETE /jobs/finished?older_than=24h.
func (s *Server) handleClearFinished(w http.ResponseWriter, r *http.Request) {
	var olderThan time.Duration
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			s.writeError(w, http.StatusBadRequest, "older_than must be a non-negative duration such as 24h")
			return
		}
		olderThan = d
	}
	n, err := s.jobs.ClearFinished(r.Context(), olderThan)
	if err != nil {
		s.writeQueueError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ClearResponse{Deleted: n})
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.jobs.Stats(r.Context())
	if err != nil {
		s.writeQueueError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) jobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "job id must be a positive integer")
		return 0, false
	}
	return id, true
}

// writeQueueError maps queue sentinel errors to status codes.
func (s *Server) writeQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrInvalidRequest), errors.Is(err, queue.ErrUnknownProvider):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, queue.ErrNotTerminal):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
