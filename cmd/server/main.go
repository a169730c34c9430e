package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"

	"experiment-tracker/api/rest/routes"
	"experiment-tracker/config"
	"experiment-tracker/core/broadcast"
	"experiment-tracker/core/hub"
	"experiment-tracker/core/monitoring"
	"experiment-tracker/core/repository"
	"experiment-tracker/core/scheduler"
	"experiment-tracker/core/store"
	"experiment-tracker/core/trainer"
	"experiment-tracker/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := config.NewLogger(cfg.Log)

	// Initialize database
	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("database connected")

	persistence := repository.NewPersistence(db)

	// Fan-out and connection management
	broadcaster := broadcast.NewBroadcaster(log)
	connHub := hub.NewHub(broadcaster, cfg.SendBuffer, log)

	// Checkpoint tracking
	checkpoints := storage.NewCheckpointManager(persistence.Artifacts, log)

	// Authoritative job store over the simulated trainer
	simTrainer := trainer.NewSimTrainer(cfg.EpochDuration, log)
	jobStore := store.NewStore(persistence, simTrainer, broadcaster, checkpoints, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := jobStore.Load(ctx); err != nil {
		log.Error("failed to load jobs", "error", err)
		os.Exit(1)
	}

	// Dispatch pending jobs to the trainer
	sched := scheduler.NewScheduler(jobStore, cfg.SchedulerTick, log)
	go sched.Start(ctx)
	defer sched.Stop()

	// Stall detection
	monitor := monitoring.NewJobMonitor(jobStore, cfg.MonitorInterval, cfg.StallAfter, log)
	go monitor.Start(ctx)

	// Setup routes
	r := mux.NewRouter()
	routes.SetupRoutes(r, jobStore, sched, persistence.Experiments, connHub)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		log.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	if err := server.Shutdown(context.Background()); err != nil {
		log.Error("forced shutdown", "error", err)
	}
	log.Info("server exited")
}
