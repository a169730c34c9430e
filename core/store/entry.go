package store

import (
	"sync"

	"github.com/looplab/fsm"
	"go.uber.org/atomic"

	"experiment-tracker/core/models"
)

const (
	// eventStart transitions pending -> running.
	eventStart = "start"

	// eventComplete transitions running -> completed.
	eventComplete = "complete"

	// eventFail transitions pending/running -> failed. Covers trainer
	// failures, rejected jobs and user cancellation.
	eventFail = "fail"
)

// jobEntry is the single-writer unit for one job: every mutation of the job
// or its history happens under mu.
type jobEntry struct {
	mu        sync.Mutex
	job       *models.Job
	fsm       *fsm.FSM
	cancelled *atomic.Bool
}

func newJobEntry(job *models.Job) *jobEntry {
	e := &jobEntry{
		job:       job,
		cancelled: atomic.NewBool(false),
	}

	e.fsm = fsm.NewFSM(
		string(job.Status),
		fsm.Events{
			{Name: eventStart, Src: []string{string(models.JobStatusPending)}, Dst: string(models.JobStatusRunning)},
			{Name: eventComplete, Src: []string{string(models.JobStatusRunning)}, Dst: string(models.JobStatusCompleted)},
			{Name: eventFail, Src: []string{
				string(models.JobStatusPending),
				string(models.JobStatusRunning),
			}, Dst: string(models.JobStatusFailed)},
		},
		fsm.Callbacks{
			"enter_state": func(ev *fsm.Event) {
				e.job.Status = models.JobStatus(ev.FSM.Current())
			},
		},
	)

	return e
}

// transition fires a state machine event. The caller holds e.mu.
func (e *jobEntry) transition(event string) error {
	return e.fsm.Event(event)
}
