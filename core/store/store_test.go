package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	trkerrors "experiment-tracker/core/errors"
	"experiment-tracker/core/models"
)

type fakePersistence struct {
	mu          sync.Mutex
	jobs        map[string]*models.Job
	experiments map[int64]bool
	createErr   error
	saveErr     error
	deleteErr   error
}

func newFakePersistence(experimentIDs ...int64) *fakePersistence {
	p := &fakePersistence{
		jobs:        make(map[string]*models.Job),
		experiments: make(map[int64]bool),
	}
	for _, id := range experimentIDs {
		p.experiments[id] = true
	}
	return p
}

func (p *fakePersistence) ExperimentExists(_ context.Context, id int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.experiments[id], nil
}

func (p *fakePersistence) CreateJob(_ context.Context, job *models.Job) error {
	if p.createErr != nil {
		return p.createErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs[job.ID] = job.Clone()
	return nil
}

func (p *fakePersistence) SaveJob(_ context.Context, job *models.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.jobs[job.ID] = job.Clone()
	return nil
}

func (p *fakePersistence) failSaves(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saveErr = err
}

func (p *fakePersistence) DeleteJob(_ context.Context, id string) error {
	if p.deleteErr != nil {
		return p.deleteErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.jobs, id)
	return nil
}

func (p *fakePersistence) ListJobs(_ context.Context, _ *int64) ([]*models.Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var jobs []*models.Job
	for _, job := range p.jobs {
		jobs = append(jobs, job.Clone())
	}
	return jobs, nil
}

// blockingTrainer never emits: the job stays running until the test mutates
// it through ApplyProgress directly.
type blockingTrainer struct{}

func (blockingTrainer) Run(context.Context, *models.Job, func() bool) <-chan models.ProgressEvent {
	return make(chan models.ProgressEvent)
}

// scriptedTrainer replays a fixed event sequence.
type scriptedTrainer struct {
	events []models.ProgressEvent
}

func (t *scriptedTrainer) Run(_ context.Context, job *models.Job, cancelled func() bool) <-chan models.ProgressEvent {
	ch := make(chan models.ProgressEvent)
	go func() {
		defer close(ch)
		for _, ev := range t.events {
			if cancelled() {
				ch <- models.ProgressEvent{JobID: job.ID, Status: models.JobStatusFailed, Error: "cancelled by user"}
				return
			}
			ev.JobID = job.ID
			ch <- ev
		}
	}()
	return ch
}

type capturePublisher struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (p *capturePublisher) Publish(ev models.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturePublisher) all() []models.ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ProgressEvent(nil), p.events...)
}

func validParams() models.Parameters {
	kernel := 3
	return models.Parameters{
		ModelType:    models.ModelTypeCNN,
		Optimizer:    "adam",
		LearningRate: 0.001,
		BatchSize:    64,
		Epochs:       5,
		KernelSize:   &kernel,
	}
}

func f64(v float64) *float64 { return &v }

func epochEvent(epoch int, valAcc float64) models.ProgressEvent {
	return models.ProgressEvent{
		Status:        models.JobStatusRunning,
		Epoch:         epoch,
		TrainLoss:     f64(0.5 / float64(epoch)),
		TrainAccuracy: f64(90 + float64(epoch)),
		ValLoss:       f64(0.6 / float64(epoch)),
		ValAccuracy:   &valAcc,
		EpochTime:     f64(1.5),
		BestAccuracy:  &valAcc,
	}
}

func newTestStore(t *testing.T, trainer Trainer) (*Store, *fakePersistence, *capturePublisher) {
	t.Helper()
	db := newFakePersistence(1)
	pub := &capturePublisher{}
	return NewStore(db, trainer, pub, nil, nil), db, pub
}

func startedJob(t *testing.T, s *Store) *models.Job {
	t.Helper()
	ctx := context.Background()
	job, created, err := s.Create(ctx, "test", 1, validParams())
	require.NoError(t, err)
	require.True(t, created)
	job, err = s.Start(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusRunning, job.Status)
	return job
}

func TestCreateValidatesParameters(t *testing.T) {
	s, _, _ := newTestStore(t, blockingTrainer{})

	tests := []struct {
		name   string
		mutate func(*models.Parameters)
	}{
		{"learning rate zero", func(p *models.Parameters) { p.LearningRate = 0 }},
		{"learning rate above one", func(p *models.Parameters) { p.LearningRate = 1.5 }},
		{"batch size too large", func(p *models.Parameters) { p.BatchSize = 2048 }},
		{"epochs zero", func(p *models.Parameters) { p.Epochs = 0 }},
		{"epochs too many", func(p *models.Parameters) { p.Epochs = 101 }},
		{"cnn missing kernel size", func(p *models.Parameters) { p.KernelSize = nil }},
		{"unknown model type", func(p *models.Parameters) { p.ModelType = "transformer" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validParams()
			tt.mutate(&params)
			_, _, err := s.Create(context.Background(), "bad", 1, params)
			require.Error(t, err)
			assert.Equal(t, trkerrors.KindValidation, trkerrors.KindOf(err))
		})
	}
}

func TestCreateUnknownExperiment(t *testing.T) {
	s, _, _ := newTestStore(t, blockingTrainer{})

	_, _, err := s.Create(context.Background(), "orphan", 42, validParams())
	require.Error(t, err)
	assert.Equal(t, trkerrors.KindNotFound, trkerrors.KindOf(err))
}

func TestCreateIdempotentByParameterFingerprint(t *testing.T) {
	s, _, _ := newTestStore(t, blockingTrainer{})
	ctx := context.Background()

	a, created, err := s.Create(ctx, "job-a", 1, validParams())
	require.NoError(t, err)
	require.True(t, created)

	b, created, err := s.Create(ctx, "job-b", 1, validParams())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, b.ID)

	// A different variant field is a different fingerprint.
	params := validParams()
	kernel := 5
	params.KernelSize = &kernel
	c, created, err := s.Create(ctx, "job-c", 1, params)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestCreateStorageErrorSurfaces(t *testing.T) {
	db := newFakePersistence(1)
	db.createErr = errors.New("connection refused")
	s := NewStore(db, blockingTrainer{}, nil, nil, nil)

	_, _, err := s.Create(context.Background(), "doomed", 1, validParams())
	require.Error(t, err)
	assert.Equal(t, trkerrors.KindStorage, trkerrors.KindOf(err))
}

func TestStartSurfacesSaveFailure(t *testing.T) {
	s, db, _ := newTestStore(t, blockingTrainer{})
	ctx := context.Background()

	job, _, err := s.Create(ctx, "start-save", 1, validParams())
	require.NoError(t, err)

	db.failSaves(errors.New("connection reset"))
	_, err = s.Start(ctx, job.ID)
	require.Error(t, err)
	assert.Equal(t, trkerrors.KindStorage, trkerrors.KindOf(err))

	// The in-memory transition stands: the trainer is already consuming.
	snap, err := s.Snapshot(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, snap.Status)
}

func TestCancelSurfacesSaveFailure(t *testing.T) {
	s, db, _ := newTestStore(t, blockingTrainer{})
	ctx := context.Background()

	job, _, err := s.Create(ctx, "cancel-save", 1, validParams())
	require.NoError(t, err)

	db.failSaves(errors.New("connection reset"))
	_, err = s.Cancel(ctx, job.ID)
	require.Error(t, err)
	assert.Equal(t, trkerrors.KindStorage, trkerrors.KindOf(err))

	snap, err := s.Snapshot(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, snap.Status)
	assert.Equal(t, "cancelled by user", snap.Error)
}

func TestApplyProgressAppendsExactNextEpochOnly(t *testing.T) {
	s, _, _ := newTestStore(t, blockingTrainer{})
	job := startedJob(t, s)
	ctx := context.Background()

	for epoch := 1; epoch <= 3; epoch++ {
		require.NoError(t, s.ApplyProgress(ctx, job.ID, epochEvent(epoch, 90+float64(epoch))))
	}

	snap, err := s.Snapshot(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.EpochsCompleted)
	assert.Equal(t, 3, snap.History.Len())

	// Duplicate epoch 2: history length and values unchanged.
	require.NoError(t, s.ApplyProgress(ctx, job.ID, epochEvent(2, 99)))
	snap2, err := s.Snapshot(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, snap2.History.Len())
	assert.Equal(t, snap.History.ValAccuracy, snap2.History.ValAccuracy)
	assert.Equal(t, 3, snap2.EpochsCompleted)

	// Epoch gap: ignored, not applied.
	require.NoError(t, s.ApplyProgress(ctx, job.ID, epochEvent(6, 95)))
	snap3, err := s.Snapshot(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, snap3.History.Len())
	assert.Equal(t, 3, snap3.EpochsCompleted)
}

func TestApplyProgressStatusOnlyNeverAppends(t *testing.T) {
	s, _, _ := newTestStore(t, blockingTrainer{})
	job := startedJob(t, s)
	ctx := context.Background()

	require.NoError(t, s.ApplyProgress(ctx, job.ID, epochEvent(1, 91)))

	// Next epoch number but no metrics attached: pure status delta.
	ev := models.ProgressEvent{Status: models.JobStatusRunning, Epoch: 2}
	require.NoError(t, s.ApplyProgress(ctx, job.ID, ev))

	snap, err := s.Snapshot(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.History.Len())
	assert.Equal(t, 1, snap.EpochsCompleted)
}

func TestHistoryLengthMatchesEpochsCompleted(t *testing.T) {
	s, _, _ := newTestStore(t, blockingTrainer{})
	job := startedJob(t, s)
	ctx := context.Background()

	events := []models.ProgressEvent{
		epochEvent(1, 90),
		epochEvent(3, 95), // gap, ignored
		epochEvent(2, 93),
		epochEvent(2, 93), // replay, ignored
		{Status: models.JobStatusRunning, Epoch: 3},
		epochEvent(3, 95),
	}
	for _, ev := range events {
		require.NoError(t, s.ApplyProgress(ctx, job.ID, ev))
		snap, err := s.Snapshot(job.ID)
		require.NoError(t, err)
		assert.Equal(t, snap.EpochsCompleted, snap.History.Len())
	}
}

func TestBestAccuracyNeverDecreases(t *testing.T) {
	s, _, _ := newTestStore(t, blockingTrainer{})
	job := startedJob(t, s)
	ctx := context.Background()

	require.NoError(t, s.ApplyProgress(ctx, job.ID, epochEvent(1, 95)))
	ev := epochEvent(2, 80)
	ev.BestAccuracy = f64(80)
	require.NoError(t, s.ApplyProgress(ctx, job.ID, ev))

	snap, err := s.Snapshot(job.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.BestAccuracy)
	assert.Equal(t, 95.0, *snap.BestAccuracy)
}

type recordingCheckpoints struct {
	mu    sync.Mutex
	calls []float64
}

func (r *recordingCheckpoints) RecordBestModel(_ context.Context, _ string, accuracy float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, accuracy)
	return nil
}

func TestCheckpointRecordedOnlyOnImprovement(t *testing.T) {
	db := newFakePersistence(1)
	rec := &recordingCheckpoints{}
	s := NewStore(db, blockingTrainer{}, nil, rec, nil)
	job := startedJob(t, s)
	ctx := context.Background()

	require.NoError(t, s.ApplyProgress(ctx, job.ID, epochEvent(1, 91)))
	require.NoError(t, s.ApplyProgress(ctx, job.ID, epochEvent(2, 90))) // worse
	require.NoError(t, s.ApplyProgress(ctx, job.ID, epochEvent(3, 94)))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []float64{91, 94}, rec.calls)
}

func TestTerminalStateIsSink(t *testing.T) {
	s, _, _ := newTestStore(t, blockingTrainer{})
	job := startedJob(t, s)
	ctx := context.Background()

	require.NoError(t, s.ApplyProgress(ctx, job.ID, epochEvent(1, 91)))
	require.NoError(t, s.ApplyProgress(ctx, job.ID, models.ProgressEvent{
		Status: models.JobStatusCompleted, Epoch: 1, TotalTime: f64(12.5),
	}))

	snap, err := s.Snapshot(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, snap.Status)
	require.NotNil(t, snap.CompletedAt)
	require.NotNil(t, snap.TotalTime)
	assert.Equal(t, 12.5, *snap.TotalTime)

	// Late events neither append nor flip status.
	require.NoError(t, s.ApplyProgress(ctx, job.ID, epochEvent(2, 99)))
	require.NoError(t, s.ApplyProgress(ctx, job.ID, models.ProgressEvent{Status: models.JobStatusFailed}))

	after, err := s.Snapshot(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, after.Status)
	assert.Equal(t, 1, after.History.Len())
}

func TestCancelPendingFailsImmediately(t *testing.T) {
	s, _, pub := newTestStore(t, blockingTrainer{})
	ctx := context.Background()

	job, _, err := s.Create(ctx, "queued", 1, validParams())
	require.NoError(t, err)

	cancelled, err := s.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, cancelled.Status)
	assert.Equal(t, "cancelled by user", cancelled.Error)
	require.NotNil(t, cancelled.CompletedAt)

	events := pub.all()
	require.NotEmpty(t, events)
	assert.Equal(t, models.JobStatusFailed, events[len(events)-1].Status)
}

func TestCancelRunningStopsHistoryAppends(t *testing.T) {
	s, _, _ := newTestStore(t, blockingTrainer{})
	job := startedJob(t, s)
	ctx := context.Background()

	require.NoError(t, s.ApplyProgress(ctx, job.ID, epochEvent(1, 91)))

	cancelled, err := s.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, cancelled.Status) // cooperative, not preemptive

	// Events still arriving from the trainer must not grow history.
	require.NoError(t, s.ApplyProgress(ctx, job.ID, epochEvent(2, 93)))
	require.NoError(t, s.ApplyProgress(ctx, job.ID, epochEvent(3, 94)))

	snap, err := s.Snapshot(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.History.Len())
}

func TestCancelTerminalConflicts(t *testing.T) {
	s, _, _ := newTestStore(t, blockingTrainer{})
	job := startedJob(t, s)
	ctx := context.Background()

	require.NoError(t, s.ApplyProgress(ctx, job.ID, models.ProgressEvent{Status: models.JobStatusCompleted}))

	_, err := s.Cancel(ctx, job.ID)
	require.Error(t, err)
	assert.Equal(t, trkerrors.KindConflict, trkerrors.KindOf(err))
}

func TestDeleteActiveConflicts(t *testing.T) {
	s, db, _ := newTestStore(t, blockingTrainer{})
	ctx := context.Background()

	job, _, err := s.Create(ctx, "active", 1, validParams())
	require.NoError(t, err)

	err = s.Delete(ctx, job.ID)
	require.Error(t, err)
	assert.Equal(t, trkerrors.KindConflict, trkerrors.KindOf(err))

	// After cancellation the job is terminal and deletable.
	_, err = s.Cancel(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, job.ID))

	_, err = s.Snapshot(job.ID)
	assert.Equal(t, trkerrors.KindNotFound, trkerrors.KindOf(err))
	db.mu.Lock()
	assert.NotContains(t, db.jobs, job.ID)
	db.mu.Unlock()
}

func TestStartIsIdempotent(t *testing.T) {
	s, _, _ := newTestStore(t, blockingTrainer{})
	job := startedJob(t, s)

	again, err := s.Start(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, again.Status)
	assert.Equal(t, job.StartedAt.Unix(), again.StartedAt.Unix())
}

func TestTrainerDrivenRunCompletes(t *testing.T) {
	trainer := &scriptedTrainer{events: []models.ProgressEvent{
		{Status: models.JobStatusRunning},
		epochEvent(1, 91),
		epochEvent(2, 94),
		{Status: models.JobStatusCompleted, Epoch: 2, BestAccuracy: f64(94), TotalTime: f64(3.2)},
	}}
	s, _, _ := newTestStore(t, trainer)
	ctx := context.Background()

	job, _, err := s.Create(ctx, "run", 1, validParams())
	require.NoError(t, err)
	_, err = s.Start(ctx, job.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := s.Snapshot(job.ID)
		return err == nil && snap.Status == models.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := s.Snapshot(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.History.Len())
	assert.Equal(t, 2, snap.EpochsCompleted)
	require.NotNil(t, snap.BestAccuracy)
	assert.Equal(t, 94.0, *snap.BestAccuracy)
	require.NotNil(t, snap.TotalTime)
}

func TestTrainerAbandonedRunFails(t *testing.T) {
	// Sequence ends without a terminal event.
	trainer := &scriptedTrainer{events: []models.ProgressEvent{
		{Status: models.JobStatusRunning},
		epochEvent(1, 91),
	}}
	s, _, _ := newTestStore(t, trainer)
	ctx := context.Background()

	job, _, err := s.Create(ctx, "abandoned", 1, validParams())
	require.NoError(t, err)
	_, err = s.Start(ctx, job.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := s.Snapshot(job.ID)
		return err == nil && snap.Status == models.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := s.Snapshot(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.History.Len())
	assert.NotEmpty(t, snap.Error)
}

func TestLoadFailsInterruptedRunningJobs(t *testing.T) {
	db := newFakePersistence(1)
	now := time.Now()
	db.jobs["running-job"] = &models.Job{
		ID: "running-job", ExperimentID: 1, Status: models.JobStatusRunning,
		Parameters: validParams(), CreatedAt: now, StartedAt: &now,
	}
	db.jobs["pending-job"] = &models.Job{
		ID: "pending-job", ExperimentID: 1, Status: models.JobStatusPending,
		Parameters: validParams(), CreatedAt: now,
	}

	s := NewStore(db, blockingTrainer{}, nil, nil, nil)
	require.NoError(t, s.Load(context.Background()))

	interrupted, err := s.Snapshot("running-job")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, interrupted.Status)
	assert.NotEmpty(t, interrupted.Error)

	pending, err := s.Snapshot("pending-job")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, pending.Status)
}
