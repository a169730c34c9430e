// Package trainer provides the training collaborator consumed by the job
// store. SimTrainer stands in for a real training backend: it emits one
// complete metric row per epoch and a terminal event, and observes
// cooperative cancellation between epochs.
package trainer

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"experiment-tracker/core/models"
)

// SimTrainer simulates a training run with model-type-dependent convergence.
type SimTrainer struct {
	epochDuration time.Duration
	log           *slog.Logger
}

// NewSimTrainer creates a simulated trainer. epochDuration controls how long
// one epoch takes to "train".
func NewSimTrainer(epochDuration time.Duration, log *slog.Logger) *SimTrainer {
	if log == nil {
		log = slog.Default()
	}
	return &SimTrainer{epochDuration: epochDuration, log: log}
}

// Run emits the progress event sequence for a job. The sequence always ends
// with a terminal completed or failed event, then the channel closes.
func (t *SimTrainer) Run(ctx context.Context, job *models.Job, cancelled func() bool) <-chan models.ProgressEvent {
	ch := make(chan models.ProgressEvent)

	go func() {
		defer close(ch)

		params := job.Parameters
		rng := rand.New(rand.NewSource(seed(job.ID)))
		start := time.Now()
		best := 0.0

		t.log.Info("simulated training started",
			"job_id", job.ID, "model_type", params.ModelType, "epochs", params.Epochs)

		ch <- models.ProgressEvent{
			JobID:       job.ID,
			Status:      models.JobStatusRunning,
			EpochsTotal: params.Epochs,
		}

		for epoch := 1; epoch <= params.Epochs; epoch++ {
			select {
			case <-ctx.Done():
				ch <- terminalEvent(job, models.JobStatusFailed, epoch-1, best, start, ctx.Err().Error())
				return
			case <-time.After(t.epochDuration):
			}

			if cancelled() {
				t.log.Info("training cancelled", "job_id", job.ID, "epoch", epoch)
				ch <- terminalEvent(job, models.JobStatusFailed, epoch-1, best, start, "cancelled by user")
				return
			}

			row := t.epochMetrics(params, epoch, rng)
			if row.ValAccuracy > best {
				best = row.ValAccuracy
			}

			ch <- models.ProgressEvent{
				JobID:         job.ID,
				Status:        models.JobStatusRunning,
				Epoch:         epoch,
				EpochsTotal:   params.Epochs,
				TrainLoss:     &row.TrainLoss,
				TrainAccuracy: &row.TrainAccuracy,
				ValLoss:       &row.ValLoss,
				ValAccuracy:   &row.ValAccuracy,
				EpochTime:     &row.EpochTime,
				BestAccuracy:  &best,
			}
		}

		ch <- terminalEvent(job, models.JobStatusCompleted, params.Epochs, best, start, "")
	}()

	return ch
}

// epochMetrics produces a plausible metric row: losses decay exponentially,
// accuracy approaches an architecture-dependent ceiling, with a little noise.
func (t *SimTrainer) epochMetrics(params models.Parameters, epoch int, rng *rand.Rand) models.MetricRow {
	ceiling := 97.5
	rate := 0.55
	switch params.ModelType {
	case models.ModelTypeCNN:
		ceiling = 99.1
		rate = 0.7
	case models.ModelTypeRNN:
		ceiling = 98.0
		rate = 0.45
	}
	// Aggressive learning rates converge faster but plateau lower.
	rate *= 1 + math.Log10(params.LearningRate*100)/4
	if params.LearningRate > 0.5 {
		ceiling -= 5
	}

	progress := 1 - math.Exp(-rate*float64(epoch))
	noise := func(scale float64) float64 { return (rng.Float64() - 0.5) * scale }

	trainAcc := ceiling*progress + noise(0.6)
	valAcc := trainAcc - 0.8 + noise(0.8)
	trainLoss := 2.3*math.Exp(-rate*float64(epoch)) + 0.02 + noise(0.01)
	valLoss := trainLoss + 0.05 + noise(0.02)
	epochTime := t.epochDuration.Seconds() * (1 + noise(0.1))

	return models.MetricRow{
		TrainLoss:     trainLoss,
		ValLoss:       valLoss,
		TrainAccuracy: clamp(trainAcc, 0, 100),
		ValAccuracy:   clamp(valAcc, 0, 100),
		EpochTime:     epochTime,
	}
}

func terminalEvent(job *models.Job, status models.JobStatus, epochs int, best float64, start time.Time, errText string) models.ProgressEvent {
	total := time.Since(start).Seconds()
	ev := models.ProgressEvent{
		JobID:       job.ID,
		Status:      status,
		Epoch:       epochs,
		EpochsTotal: job.Parameters.Epochs,
		TotalTime:   &total,
		Error:       errText,
	}
	if best > 0 {
		ev.BestAccuracy = &best
	}
	return ev
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func seed(jobID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(jobID))
	return int64(h.Sum64())
}
