package routes

import (
	"github.com/gorilla/mux"

	"experiment-tracker/api/rest/handlers"
	"experiment-tracker/core/hub"
	"experiment-tracker/core/repository"
	"experiment-tracker/core/scheduler"
	"experiment-tracker/core/store"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, s *store.Store, sched *scheduler.Scheduler, experiments *repository.ExperimentRepository, h *hub.Hub) {
	jobHandler := handlers.NewJobHandler(s, sched)
	experimentHandler := handlers.NewExperimentHandler(experiments)
	wsHandler := handlers.NewWSHandler(h)

	api := r.PathPrefix("/v1").Subrouter()

	// Experiment endpoints
	api.HandleFunc("/experiments", experimentHandler.CreateExperiment).Methods("POST")
	api.HandleFunc("/experiments", experimentHandler.ListExperiments).Methods("GET")
	api.HandleFunc("/experiments/{id}", experimentHandler.GetExperiment).Methods("GET")
	api.HandleFunc("/experiments/{id}", experimentHandler.DeleteExperiment).Methods("DELETE")

	// Job endpoints
	api.HandleFunc("/jobs", jobHandler.CreateJob).Methods("POST")
	api.HandleFunc("/jobs", jobHandler.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", jobHandler.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}", jobHandler.DeleteJob).Methods("DELETE")
	api.HandleFunc("/jobs/{id}/start", jobHandler.StartJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/cancel", jobHandler.CancelJob).Methods("POST")

	// Push channel
	r.HandleFunc("/ws/{client_id}", wsHandler.Serve).Methods("GET")
	r.HandleFunc("/ws", wsHandler.Serve).Methods("GET")
}
