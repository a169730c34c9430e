// Package scheduler dispatches pending jobs to the trainer.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"experiment-tracker/core/models"
	"experiment-tracker/core/store"
)

// Scheduler drains the pending-job queue on a fixed tick and starts each
// job against the trainer.
type Scheduler struct {
	store    *store.Store
	queue    *JobQueue
	tick     time.Duration
	stopChan chan struct{}
	log      *slog.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(s *store.Store, tick time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if tick <= 0 {
		tick = time.Second
	}
	return &Scheduler{
		store:    s,
		queue:    NewJobQueue(),
		tick:     tick,
		stopChan: make(chan struct{}),
		log:      log,
	}
}

// Start runs the dispatch loop until ctx is done or Stop is called
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.loadPendingJobs()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.processQueue(ctx)
		}
	}
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// Enqueue adds a job id to the dispatch queue
func (s *Scheduler) Enqueue(jobID string) {
	s.queue.Enqueue(jobID)
}

// loadPendingJobs re-queues jobs that were pending at startup
func (s *Scheduler) loadPendingJobs() {
	for _, job := range s.store.List(nil) {
		if job.Status == models.JobStatusPending {
			s.queue.Enqueue(job.ID)
		}
	}

	if n := s.queue.Len(); n > 0 {
		s.log.Info("re-queued pending jobs", "count", n)
	}
}

// processQueue starts every queued job that is still pending
func (s *Scheduler) processQueue(ctx context.Context) {
	for {
		jobID := s.queue.Pop()
		if jobID == "" {
			return
		}

		// Re-fetch to get the latest state: the job may have been
		// cancelled or deleted while queued.
		job, err := s.store.Snapshot(jobID)
		if err != nil {
			s.log.Warn("skipping vanished job", "job_id", jobID, "error", err)
			continue
		}
		if job.Status != models.JobStatusPending {
			continue
		}

		if _, err := s.store.Start(ctx, jobID); err != nil {
			s.log.Error("failed to start job", "job_id", jobID, "error", err)
		}
	}
}
