package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"experiment-tracker/core/models"
	"experiment-tracker/core/repository"
)

// ExperimentHandler handles experiment-related HTTP requests
type ExperimentHandler struct {
	experiments *repository.ExperimentRepository
}

// NewExperimentHandler creates a new experiment handler
func NewExperimentHandler(experiments *repository.ExperimentRepository) *ExperimentHandler {
	return &ExperimentHandler{experiments: experiments}
}

// CreateExperimentRequest represents the request to create an experiment
type CreateExperimentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateExperiment handles POST /v1/experiments
func (h *ExperimentHandler) CreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req CreateExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	exp, err := h.experiments.CreateExperiment(r.Context(), req.Name, req.Description)
	if err != nil {
		http.Error(w, "failed to create experiment: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, exp)
}

// GetExperiment handles GET /v1/experiments/{id}
func (h *ExperimentHandler) GetExperiment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid experiment id", http.StatusBadRequest)
		return
	}

	exp, err := h.experiments.GetExperiment(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "experiment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to fetch experiment: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, exp)
}

// ListExperiments handles GET /v1/experiments
func (h *ExperimentHandler) ListExperiments(w http.ResponseWriter, r *http.Request) {
	exps, err := h.experiments.ListExperiments(r.Context())
	if err != nil {
		http.Error(w, "failed to list experiments: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if exps == nil {
		exps = []*models.Experiment{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": exps})
}

// DeleteExperiment handles DELETE /v1/experiments/{id}
func (h *ExperimentHandler) DeleteExperiment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid experiment id", http.StatusBadRequest)
		return
	}

	if err := h.experiments.DeleteExperiment(r.Context(), id); err != nil {
		http.Error(w, "failed to delete experiment: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "experiment deleted"})
}
