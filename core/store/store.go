// Package store holds the authoritative job state: identity, parameters,
// status lifecycle and the append-only metric history. All mutation of a job
// is serialized through its entry; cross-job operations only touch the job
// index.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	trkerrors "experiment-tracker/core/errors"
	"experiment-tracker/core/models"
)

// Persistence is the job CRUD collaborator the store writes through.
type Persistence interface {
	ExperimentExists(ctx context.Context, id int64) (bool, error)
	CreateJob(ctx context.Context, job *models.Job) error
	SaveJob(ctx context.Context, job *models.Job) error
	DeleteJob(ctx context.Context, id string) error
	ListJobs(ctx context.Context, experimentID *int64) ([]*models.Job, error)
}

// Trainer drives one training run. The returned sequence ends with a
// terminal completed/failed event; the cancelled func is checked between
// epochs by the implementation.
type Trainer interface {
	Run(ctx context.Context, job *models.Job, cancelled func() bool) <-chan models.ProgressEvent
}

// Publisher receives every progress event the store emits.
type Publisher interface {
	Publish(ev models.ProgressEvent)
}

// CheckpointRecorder is notified whenever a job's best accuracy improves.
type CheckpointRecorder interface {
	RecordBestModel(ctx context.Context, jobID string, accuracy float64) error
}

// Store is the authoritative job lifecycle store.
type Store struct {
	jobs        cmap.ConcurrentMap[string, *jobEntry]
	createMu    sync.Mutex
	db          Persistence
	trainer     Trainer
	pub         Publisher
	checkpoints CheckpointRecorder
	log         *slog.Logger
}

// NewStore creates a job store. pub and checkpoints may be nil.
func NewStore(db Persistence, trainer Trainer, pub Publisher, checkpoints CheckpointRecorder, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		jobs:        cmap.New[*jobEntry](),
		db:          db,
		trainer:     trainer,
		pub:         pub,
		checkpoints: checkpoints,
		log:         log,
	}
}

// Load restores persisted jobs into the in-memory index. Jobs that were
// running when the previous process died are failed: their trainer is gone
// and no further events will arrive.
func (s *Store) Load(ctx context.Context) error {
	jobs, err := s.db.ListJobs(ctx, nil)
	if err != nil {
		return trkerrors.Storage("load jobs", err)
	}

	for _, job := range jobs {
		if job.Status == models.JobStatusRunning {
			job.Status = models.JobStatusFailed
			job.Error = "interrupted by server restart"
			now := time.Now()
			job.CompletedAt = &now
			if err := s.db.SaveJob(ctx, job); err != nil {
				s.log.Error("failed to persist interrupted job", "job_id", job.ID, "error", err)
			}
		}
		s.jobs.Set(job.ID, newJobEntry(job))
	}

	s.log.Info("job store loaded", "jobs", len(jobs))
	return nil
}

// Create registers a new pending job, or returns the existing job when one
// with deeply equal parameters already exists for the experiment.
func (s *Store) Create(ctx context.Context, name string, experimentID int64, params models.Parameters) (*models.Job, bool, error) {
	if err := params.Validate(); err != nil {
		return nil, false, trkerrors.Validationf("invalid parameters: %v", err)
	}

	exists, err := s.db.ExperimentExists(ctx, experimentID)
	if err != nil {
		return nil, false, trkerrors.Storage("check experiment", err)
	}
	if !exists {
		return nil, false, trkerrors.NotFoundf("experiment %d not found", experimentID)
	}

	// The create lock serializes fingerprint checks so two identical
	// concurrent creates cannot both insert.
	s.createMu.Lock()
	defer s.createMu.Unlock()

	if existing := s.findDuplicate(experimentID, params); existing != nil {
		s.log.Info("returning existing job for duplicate parameters",
			"job_id", existing.ID, "experiment_id", experimentID)
		return existing, false, nil
	}

	job := &models.Job{
		ID:           uuid.NewString(),
		Name:         name,
		ExperimentID: experimentID,
		Parameters:   params,
		Status:       models.JobStatusPending,
		CreatedAt:    time.Now(),
	}

	if err := s.db.CreateJob(ctx, job); err != nil {
		return nil, false, trkerrors.Storage("create job", err)
	}

	s.jobs.Set(job.ID, newJobEntry(job))
	s.log.Info("job created", "job_id", job.ID, "experiment_id", experimentID,
		"model_type", params.ModelType)

	return job.Clone(), true, nil
}

// findDuplicate returns a snapshot of a non-deleted job with identical
// parameters for the experiment, nil when none exists.
func (s *Store) findDuplicate(experimentID int64, params models.Parameters) *models.Job {
	for item := range s.jobs.IterBuffered() {
		entry := item.Val
		entry.mu.Lock()
		match := entry.job.ExperimentID == experimentID && entry.job.Parameters.Equal(params)
		var clone *models.Job
		if match {
			clone = entry.job.Clone()
		}
		entry.mu.Unlock()
		if clone != nil {
			return clone
		}
	}
	return nil
}

// Start transitions a pending job to running and begins consuming trainer
// events. Starting a job that is already running or terminal is a no-op.
func (s *Store) Start(ctx context.Context, jobID string) (*models.Job, error) {
	entry, ok := s.jobs.Get(jobID)
	if !ok {
		return nil, trkerrors.NotFoundf("job %s not found", jobID)
	}

	entry.mu.Lock()
	if entry.job.Status != models.JobStatusPending {
		clone := entry.job.Clone()
		entry.mu.Unlock()
		return clone, nil
	}

	if err := entry.transition(eventStart); err != nil {
		entry.mu.Unlock()
		return nil, trkerrors.Conflictf("cannot start job %s: %v", jobID, err)
	}
	now := time.Now()
	entry.job.StartedAt = &now

	// The in-memory transition stands either way; a write-through failure
	// surfaces so the caller knows the persisted state is behind.
	var saveErr error
	if err := s.db.SaveJob(ctx, entry.job); err != nil {
		saveErr = trkerrors.Storage("save job start", err)
	}

	clone := entry.job.Clone()
	ev := statusEvent(entry.job)
	entry.mu.Unlock()

	s.publish(ev)
	go s.consumeTrainer(clone, entry.cancelled.Load)

	s.log.Info("job started", "job_id", jobID)
	return clone, saveErr
}

// Cancel requests cooperative cancellation. A pending job fails immediately;
// a running job keeps its state until the trainer observes the flag at the
// next epoch boundary.
func (s *Store) Cancel(ctx context.Context, jobID string) (*models.Job, error) {
	entry, ok := s.jobs.Get(jobID)
	if !ok {
		return nil, trkerrors.NotFoundf("job %s not found", jobID)
	}

	entry.mu.Lock()
	if entry.job.Status.Terminal() {
		status := entry.job.Status
		entry.mu.Unlock()
		return nil, trkerrors.Conflictf("job %s is already %s", jobID, status)
	}

	entry.cancelled.Store(true)

	var ev *models.ProgressEvent
	var saveErr error
	if entry.job.Status == models.JobStatusPending {
		// Never handed to the trainer, so nothing will observe the flag.
		if err := entry.transition(eventFail); err == nil {
			entry.job.Error = cancelledError
			now := time.Now()
			entry.job.CompletedAt = &now
			if err := s.db.SaveJob(ctx, entry.job); err != nil {
				saveErr = trkerrors.Storage("save job cancellation", err)
			}
			e := statusEvent(entry.job)
			ev = &e
		}
	}

	clone := entry.job.Clone()
	entry.mu.Unlock()

	if ev != nil {
		s.publish(*ev)
	}

	s.log.Info("job cancellation requested", "job_id", jobID, "status", clone.Status)
	return clone, saveErr
}

// Delete removes a job and its history irrevocably. Active jobs must be
// cancelled first.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	entry, ok := s.jobs.Get(jobID)
	if !ok {
		return trkerrors.NotFoundf("job %s not found", jobID)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.job.Status.Active() {
		return trkerrors.Conflictf("job %s is %s, cancel it before deleting", jobID, entry.job.Status)
	}

	if err := s.db.DeleteJob(ctx, jobID); err != nil {
		return trkerrors.Storage("delete job", err)
	}

	s.jobs.Remove(jobID)
	s.log.Info("job deleted", "job_id", jobID)
	return nil
}

// Snapshot returns the full authoritative state of a job including history.
func (s *Store) Snapshot(jobID string) (*models.Job, error) {
	entry, ok := s.jobs.Get(jobID)
	if !ok {
		return nil, trkerrors.NotFoundf("job %s not found", jobID)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.job.Clone(), nil
}

// List returns jobs without history, optionally filtered by experiment.
func (s *Store) List(experimentID *int64) []*models.Job {
	var jobs []*models.Job
	for item := range s.jobs.IterBuffered() {
		entry := item.Val
		entry.mu.Lock()
		if experimentID == nil || entry.job.ExperimentID == *experimentID {
			clone := entry.job.Clone()
			clone.History = models.MetricHistory{}
			jobs = append(jobs, clone)
		}
		entry.mu.Unlock()
	}
	return jobs
}

func (s *Store) publish(ev models.ProgressEvent) {
	if s.pub != nil {
		s.pub.Publish(ev)
	}
}

// statusEvent builds a status-only delta from the current job state. The
// caller holds the entry lock.
func statusEvent(job *models.Job) models.ProgressEvent {
	return models.ProgressEvent{
		JobID:        job.ID,
		Status:       job.Status,
		Epoch:        job.EpochsCompleted,
		EpochsTotal:  job.Parameters.Epochs,
		BestAccuracy: job.BestAccuracy,
		TotalTime:    job.TotalTime,
		Error:        job.Error,
	}
}
