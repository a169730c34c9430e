// Package monitoring watches running jobs for stalled progress.
package monitoring

import (
	"context"
	"log/slog"
	"time"

	"experiment-tracker/core/models"
	"experiment-tracker/core/store"
)

// JobMonitor periodically scans running jobs and flags those whose epoch
// counter has not advanced within the stall window.
type JobMonitor struct {
	store      *store.Store
	interval   time.Duration
	stallAfter time.Duration
	lastSeen   map[string]progressMark
	log        *slog.Logger
}

type progressMark struct {
	epoch int
	at    time.Time
}

// NewJobMonitor creates a new job monitor
func NewJobMonitor(s *store.Store, interval, stallAfter time.Duration, log *slog.Logger) *JobMonitor {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if stallAfter <= 0 {
		stallAfter = 5 * time.Minute
	}
	return &JobMonitor{
		store:      s,
		interval:   interval,
		stallAfter: stallAfter,
		lastSeen:   make(map[string]progressMark),
		log:        log,
	}
}

// Start runs the monitoring loop until ctx is done
func (m *JobMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkRunningJobs()
		}
	}
}

func (m *JobMonitor) checkRunningJobs() {
	running := make(map[string]struct{})

	for _, job := range m.store.List(nil) {
		if job.Status != models.JobStatusRunning {
			continue
		}
		running[job.ID] = struct{}{}

		mark, seen := m.lastSeen[job.ID]
		if !seen || mark.epoch != job.EpochsCompleted {
			m.lastSeen[job.ID] = progressMark{epoch: job.EpochsCompleted, at: time.Now()}
			continue
		}

		if stalled := time.Since(mark.at); stalled > m.stallAfter {
			m.log.Warn("job appears stalled",
				"job_id", job.ID,
				"epochs_completed", job.EpochsCompleted,
				"epochs_total", job.Parameters.Epochs,
				"stalled_for", stalled.Round(time.Second))
		}
	}

	// Forget jobs that finished or were deleted.
	for id := range m.lastSeen {
		if _, ok := running[id]; !ok {
			delete(m.lastSeen, id)
		}
	}
}
