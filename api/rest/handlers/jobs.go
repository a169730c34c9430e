package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	trkerrors "experiment-tracker/core/errors"
	"experiment-tracker/core/models"
	"experiment-tracker/core/scheduler"
	"experiment-tracker/core/store"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
}

// NewJobHandler creates a new job handler
func NewJobHandler(s *store.Store, sched *scheduler.Scheduler) *JobHandler {
	return &JobHandler{store: s, scheduler: sched}
}

// CreateJobRequest represents the request to create a job
type CreateJobRequest struct {
	Name         string            `json:"name"`
	ExperimentID int64             `json:"experiment_id"`
	Parameters   models.Parameters `json:"parameters"`
}

// CreateJob handles POST /v1/jobs. Creating a job with parameters identical
// to an existing job for the same experiment returns the existing job.
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	job, created, err := h.store.Create(r.Context(), req.Name, req.ExperimentID, req.Parameters)
	if err != nil {
		writeError(w, err)
		return
	}

	if created {
		h.scheduler.Enqueue(job.ID)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, job)
}

// GetJob handles GET /v1/jobs/{id}, returning the full snapshot with history
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := h.store.Snapshot(jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /v1/jobs, without history, optionally filtered by
// experiment
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	var experimentID *int64
	if param := r.URL.Query().Get("experiment_id"); param != "" {
		id, err := strconv.ParseInt(param, 10, 64)
		if err != nil {
			http.Error(w, "invalid experiment_id", http.StatusBadRequest)
			return
		}
		experimentID = &id
	}

	jobs := h.store.List(experimentID)
	if jobs == nil {
		jobs = []*models.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": jobs})
}

// StartJob handles POST /v1/jobs/{id}/start
func (h *JobHandler) StartJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := h.store.Start(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// CancelJob handles POST /v1/jobs/{id}/cancel
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := h.store.Cancel(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// DeleteJob handles DELETE /v1/jobs/{id}
func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	if err := h.store.Delete(r.Context(), jobID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "job deleted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, trkerrors.HTTPStatus(err), map[string]string{"detail": err.Error()})
}
