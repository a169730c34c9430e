package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"experiment-tracker/core/models"
)

func f64(v float64) *float64 { return &v }

func metricEvent(jobID string, epoch int, valAcc float64) models.ProgressEvent {
	return models.ProgressEvent{
		JobID:         jobID,
		Status:        models.JobStatusRunning,
		Epoch:         epoch,
		EpochsTotal:   10,
		TrainLoss:     f64(0.4 / float64(epoch)),
		TrainAccuracy: f64(88 + float64(epoch)),
		ValLoss:       f64(0.5 / float64(epoch)),
		ValAccuracy:   &valAcc,
		EpochTime:     f64(1.2),
		BestAccuracy:  &valAcc,
	}
}

func snapshotAt(jobID string, epochs int) *models.Job {
	job := &models.Job{
		ID:              jobID,
		Status:          models.JobStatusRunning,
		EpochsCompleted: epochs,
		Parameters:      models.Parameters{Epochs: 10},
	}
	for i := 1; i <= epochs; i++ {
		job.History.Append(models.MetricRow{
			TrainLoss: 0.4 / float64(i), ValLoss: 0.5 / float64(i),
			TrainAccuracy: 88 + float64(i), ValAccuracy: 90 + float64(i), EpochTime: 1.2,
		})
	}
	best := 90 + float64(epochs)
	job.BestAccuracy = &best
	return job
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	view := *snapshotAt("job-1", 2)

	out := Reduce(view, metricEvent("job-1", 3, 93))

	assert.Equal(t, 2, view.History.Len())
	assert.Equal(t, 2, view.EpochsCompleted)
	assert.Equal(t, 3, out.History.Len())
}

func TestReduceAppendsOnlyCompleteInOrderRows(t *testing.T) {
	view := models.Job{ID: "job-1", Status: models.JobStatusPending}

	view = Reduce(view, metricEvent("job-1", 1, 91))
	require.Equal(t, 1, view.History.Len())
	assert.Equal(t, models.JobStatusRunning, view.Status)

	// Duplicate row: no growth, values untouched.
	before := view.History.ValAccuracy[0]
	view = Reduce(view, metricEvent("job-1", 1, 99))
	assert.Equal(t, 1, view.History.Len())
	assert.Equal(t, before, view.History.ValAccuracy[0])

	// Out-of-order gap: counters advance, series does not.
	view = Reduce(view, metricEvent("job-1", 4, 94))
	assert.Equal(t, 1, view.History.Len())
	assert.Equal(t, 4, view.EpochsCompleted)

	// Partial row for the next slot: status-only merge.
	partial := models.ProgressEvent{JobID: "job-1", Status: models.JobStatusRunning, Epoch: 2}
	view = Reduce(view, partial)
	assert.Equal(t, 1, view.History.Len())
}

func TestReduceLeavesParametersUntouched(t *testing.T) {
	view := *snapshotAt("job-1", 1) // snapshot says 10 epochs total

	ev := metricEvent("job-1", 2, 92)
	ev.EpochsTotal = 50 // a delta must never rewrite immutable parameters
	out := Reduce(view, ev)

	assert.Equal(t, 10, out.Parameters.Epochs)
	assert.Equal(t, view.Parameters, out.Parameters)
}

func TestReduceBestAccuracyIsMax(t *testing.T) {
	view := models.Job{ID: "job-1", BestAccuracy: f64(95)}

	view = Reduce(view, models.ProgressEvent{JobID: "job-1", BestAccuracy: f64(80)})
	require.NotNil(t, view.BestAccuracy)
	assert.Equal(t, 95.0, *view.BestAccuracy)

	view = Reduce(view, models.ProgressEvent{JobID: "job-1", BestAccuracy: f64(97)})
	assert.Equal(t, 97.0, *view.BestAccuracy)
}

func TestReduceTerminalFields(t *testing.T) {
	view := models.Job{ID: "job-1", Status: models.JobStatusRunning}

	view = Reduce(view, models.ProgressEvent{
		JobID:  "job-1",
		Status: models.JobStatusFailed,
		Error:  "cancelled by user",
	})
	assert.Equal(t, models.JobStatusFailed, view.Status)
	assert.Equal(t, "cancelled by user", view.Error)

	view = Reduce(view, models.ProgressEvent{JobID: "job-1", TotalTime: f64(42)})
	require.NotNil(t, view.TotalTime)
	assert.Equal(t, 42.0, *view.TotalTime)

	// First total time wins.
	view = Reduce(view, models.ProgressEvent{JobID: "job-1", TotalTime: f64(50)})
	assert.Equal(t, 42.0, *view.TotalTime)
}

func TestApplyEventSeedsUnknownJob(t *testing.T) {
	s := NewStore()
	s.ApplyEvent(metricEvent("job-new", 1, 91))

	view, ok := s.Get("job-new")
	require.True(t, ok)
	assert.Equal(t, models.JobStatusRunning, view.Status)
	assert.Equal(t, 1, view.History.Len())

	// Events without a job id are not trackable and are dropped.
	s.ApplyEvent(models.ProgressEvent{Status: models.JobStatusRunning, Epoch: 1})
	assert.Len(t, s.JobIDs(), 1)
}

func TestMergeJobsReplacesWholeEntry(t *testing.T) {
	s := NewStore()
	stale := snapshotAt("job-1", 2)
	stale.Name = "old-name"
	s.SetSnapshot(stale)

	fresh := snapshotAt("job-1", 5)
	fresh.Name = "new-name"
	s.MergeJobs([]*models.Job{fresh, snapshotAt("job-2", 1)})

	require.Len(t, s.List(), 2)
	got, ok := s.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, "new-name", got.Name)
	assert.Equal(t, 5, got.EpochsCompleted)
	assert.Equal(t, 5, got.History.Len())
}

// A client that misses epochs while offline must pull a snapshot before
// trusting deltas again: the snapshot closes the gap and the next streamed
// epoch extends the series seamlessly.
func TestReconnectSnapshotThenDelta(t *testing.T) {
	s := NewStore()

	// Connected: epochs 1 and 2 arrive live.
	s.ApplyEvent(metricEvent("job-1", 1, 91))
	s.ApplyEvent(metricEvent("job-1", 2, 92))
	view, _ := s.Get("job-1")
	require.Equal(t, 2, view.History.Len())

	// Disconnected: epochs 3 and 4 happen on the server unseen.

	// Reconnect: snapshot pull shows 4 completed epochs.
	s.SetSnapshot(snapshotAt("job-1", 4))

	// Deltas resume with epoch 5.
	s.ApplyEvent(metricEvent("job-1", 5, 95))

	final, ok := s.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, 5, final.History.Len())
	assert.Equal(t, 5, final.EpochsCompleted)
	require.NotNil(t, final.BestAccuracy)
	assert.Equal(t, 95.0, *final.BestAccuracy)
}

// Without the snapshot pull the gap makes the delta unusable; the reducer
// must refuse to append rather than record a hole.
func TestDeltaAfterGapWithoutSnapshotIsNotAppended(t *testing.T) {
	s := NewStore()
	s.ApplyEvent(metricEvent("job-1", 1, 91))
	s.ApplyEvent(metricEvent("job-1", 2, 92))

	s.ApplyEvent(metricEvent("job-1", 5, 95))

	view, _ := s.Get("job-1")
	assert.Equal(t, 2, view.History.Len())
}

func TestRemoveDropsView(t *testing.T) {
	s := NewStore()
	s.SetSnapshot(snapshotAt("job-1", 1))
	s.Remove("job-1")

	_, ok := s.Get("job-1")
	assert.False(t, ok)
	assert.Empty(t, s.JobIDs())
}
