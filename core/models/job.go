package models

import "time"

// Job represents one parameterized training run tracked through its lifecycle
type Job struct {
	ID              string        `json:"job_id"`
	Name            string        `json:"name"`
	ExperimentID    int64         `json:"experiment_id"`
	Parameters      Parameters    `json:"parameters"`
	Status          JobStatus     `json:"status"`
	EpochsCompleted int           `json:"epochs_completed"`
	BestAccuracy    *float64      `json:"best_accuracy,omitempty"`
	Error           string        `json:"error,omitempty"`
	TotalTime       *float64      `json:"total_time,omitempty"` // seconds, set on terminal transition
	CreatedAt       time.Time     `json:"created_at"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	History         MetricHistory `json:"history"` // populated only in full snapshots
}

// JobStatus represents the current status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is a sink state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Active reports whether the job is queued or consuming trainer events.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// Clone returns a deep copy safe to hand out across goroutines.
func (j *Job) Clone() *Job {
	c := *j
	if j.BestAccuracy != nil {
		v := *j.BestAccuracy
		c.BestAccuracy = &v
	}
	if j.TotalTime != nil {
		v := *j.TotalTime
		c.TotalTime = &v
	}
	if j.StartedAt != nil {
		v := *j.StartedAt
		c.StartedAt = &v
	}
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		c.CompletedAt = &v
	}
	c.Parameters = j.Parameters.clone()
	c.History = j.History.Clone()
	return &c
}

// MetricHistory holds the per-epoch metric series for a job. All five series
// stay the same length, equal to the job's epochs_completed.
type MetricHistory struct {
	TrainLoss     []float64 `json:"train_loss"`
	ValLoss       []float64 `json:"val_loss"`
	TrainAccuracy []float64 `json:"train_accuracy"`
	ValAccuracy   []float64 `json:"val_accuracy"`
	EpochTimes    []float64 `json:"epoch_times"`
}

// MetricRow is one complete epoch of metrics.
type MetricRow struct {
	TrainLoss     float64
	ValLoss       float64
	TrainAccuracy float64
	ValAccuracy   float64
	EpochTime     float64
}

// Len returns the number of completed epochs recorded.
func (h *MetricHistory) Len() int {
	return len(h.TrainLoss)
}

// Append adds one full metric row.
func (h *MetricHistory) Append(row MetricRow) {
	h.TrainLoss = append(h.TrainLoss, row.TrainLoss)
	h.ValLoss = append(h.ValLoss, row.ValLoss)
	h.TrainAccuracy = append(h.TrainAccuracy, row.TrainAccuracy)
	h.ValAccuracy = append(h.ValAccuracy, row.ValAccuracy)
	h.EpochTimes = append(h.EpochTimes, row.EpochTime)
}

// Clone returns an independent copy of the history.
func (h MetricHistory) Clone() MetricHistory {
	return MetricHistory{
		TrainLoss:     append([]float64(nil), h.TrainLoss...),
		ValLoss:       append([]float64(nil), h.ValLoss...),
		TrainAccuracy: append([]float64(nil), h.TrainAccuracy...),
		ValAccuracy:   append([]float64(nil), h.ValAccuracy...),
		EpochTimes:    append([]float64(nil), h.EpochTimes...),
	}
}

// Experiment is a named grouping of jobs.
type Experiment struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
