package store

import (
	"context"
	"time"

	trkerrors "experiment-tracker/core/errors"
	"experiment-tracker/core/models"
)

// cancelledError is the error text distinguishing user cancellation from a
// trainer-originated failure. Cancellation shares the failure path.
const cancelledError = "cancelled by user"

// ApplyProgress is the single authorized mutator of a running job's state.
// Trainer failures are absorbed into the job's terminal state and never
// returned; only persistence failures surface, as storage errors.
func (s *Store) ApplyProgress(ctx context.Context, jobID string, ev models.ProgressEvent) error {
	entry, ok := s.jobs.Get(jobID)
	if !ok {
		return trkerrors.NotFoundf("job %s not found", jobID)
	}

	entry.mu.Lock()
	job := entry.job

	if job.Status.Terminal() {
		entry.mu.Unlock()
		s.log.Debug("ignoring progress event for terminal job",
			"job_id", jobID, "status", job.Status, "epoch", ev.Epoch)
		return nil
	}

	changed := false

	// A pending job reporting progress has been accepted by the trainer.
	if ev.Status == models.JobStatusRunning && job.Status == models.JobStatusPending {
		if err := entry.transition(eventStart); err == nil {
			if job.StartedAt == nil {
				now := time.Now()
				job.StartedAt = &now
			}
			changed = true
		}
	}

	// Append a metric row only for the exact next epoch with a complete row.
	// Out-of-order or duplicate trainer events are logged and dropped.
	if ev.Epoch > 0 && ev.HasMetrics() {
		switch {
		case entry.cancelled.Load():
			s.log.Info("discarding epoch metrics after cancellation",
				"job_id", jobID, "epoch", ev.Epoch)
		case ev.Epoch == job.EpochsCompleted+1:
			job.History.Append(ev.MetricRow())
			job.EpochsCompleted = ev.Epoch
			changed = true
		case ev.Epoch <= job.EpochsCompleted:
			s.log.Warn("ignoring replayed epoch",
				"job_id", jobID, "epoch", ev.Epoch, "epochs_completed", job.EpochsCompleted)
		default:
			s.log.Warn("ignoring epoch gap",
				"job_id", jobID, "epoch", ev.Epoch, "epochs_completed", job.EpochsCompleted)
		}
	}

	// Best accuracy never decreases once set.
	var improved *float64
	if ev.BestAccuracy != nil && (job.BestAccuracy == nil || *ev.BestAccuracy > *job.BestAccuracy) {
		v := *ev.BestAccuracy
		job.BestAccuracy = &v
		improved = &v
		changed = true
	}

	switch ev.Status {
	case models.JobStatusCompleted:
		if err := entry.transition(eventComplete); err == nil {
			s.stampTerminal(job, ev.TotalTime)
			changed = true
		}
	case models.JobStatusFailed:
		if err := entry.transition(eventFail); err == nil {
			job.Error = ev.Error
			if job.Error == "" {
				job.Error = "training failed"
			}
			s.stampTerminal(job, ev.TotalTime)
			changed = true
		}
	}

	var saveErr error
	if changed {
		if err := s.db.SaveJob(ctx, job); err != nil {
			saveErr = trkerrors.Storage("save job progress", err)
		}
	}

	out := ev
	out.JobID = job.ID
	out.Status = job.Status
	out.EpochsTotal = job.Parameters.Epochs
	out.BestAccuracy = job.BestAccuracy
	entry.mu.Unlock()

	if improved != nil && s.checkpoints != nil {
		if err := s.checkpoints.RecordBestModel(ctx, jobID, *improved); err != nil {
			s.log.Error("failed to record best model checkpoint",
				"job_id", jobID, "error", err)
		}
	}

	s.publish(out)
	return saveErr
}

// stampTerminal sets completed_at and total_time exactly once. The caller
// holds the entry lock.
func (s *Store) stampTerminal(job *models.Job, totalTime *float64) {
	if job.CompletedAt == nil {
		now := time.Now()
		job.CompletedAt = &now
	}
	if job.TotalTime == nil {
		switch {
		case totalTime != nil:
			job.TotalTime = totalTime
		case job.StartedAt != nil:
			elapsed := job.CompletedAt.Sub(*job.StartedAt).Seconds()
			job.TotalTime = &elapsed
		}
	}
	s.log.Info("job reached terminal state",
		"job_id", job.ID, "status", job.Status,
		"epochs_completed", job.EpochsCompleted)
}

// consumeTrainer drives the trainer event sequence for one job. A sequence
// ending without a terminal event fails the job: the trainer contract was
// broken.
func (s *Store) consumeTrainer(job *models.Job, cancelled func() bool) {
	ctx := context.Background()
	sawTerminal := false

	for ev := range s.trainer.Run(ctx, job, cancelled) {
		if ev.Status.Terminal() {
			sawTerminal = true
		}
		if err := s.ApplyProgress(ctx, job.ID, ev); err != nil {
			s.log.Error("failed to apply progress event",
				"job_id", job.ID, "epoch", ev.Epoch, "error", err)
		}
	}

	if !sawTerminal {
		err := s.ApplyProgress(ctx, job.ID, models.ProgressEvent{
			JobID:  job.ID,
			Status: models.JobStatusFailed,
			Error:  "trainer terminated without a final event",
		})
		if err != nil {
			s.log.Error("failed to fail abandoned job", "job_id", job.ID, "error", err)
		}
	}
}
