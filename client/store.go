// Package client is the observer side of the tracker: a pull client for
// snapshots, a reconciliation store merging snapshots with streamed deltas,
// and a reconnecting push-channel subscriber.
package client

import (
	"sync"

	"experiment-tracker/core/models"
)

// Reduce merges one streamed delta into a job view and returns the new view.
// Pure: the input view is not mutated.
func Reduce(view models.Job, ev models.ProgressEvent) models.Job {
	v := *view.Clone()

	if ev.Status != "" && ev.Status != v.Status {
		v.Status = ev.Status
	}

	if ev.BestAccuracy != nil && (v.BestAccuracy == nil || *ev.BestAccuracy > *v.BestAccuracy) {
		best := *ev.BestAccuracy
		v.BestAccuracy = &best
	}

	// Append only a complete, in-order row. Anything else updates counters
	// and status alone, so partial or duplicated deltas cannot corrupt the
	// series.
	if ev.Epoch > 0 && ev.Epoch == v.History.Len()+1 && ev.HasMetrics() {
		v.History.Append(ev.MetricRow())
	}

	if ev.Epoch >= v.EpochsCompleted {
		v.EpochsCompleted = ev.Epoch
	}

	// Parameters are immutable after creation; the epoch total a delta
	// carries is never written into them. Snapshots bring the real thing.
	if ev.Error != "" {
		v.Error = ev.Error
	}
	if ev.TotalTime != nil && v.TotalTime == nil {
		t := *ev.TotalTime
		v.TotalTime = &t
	}

	return v
}

// Store is the client-side reconciliation store: one merged view per job.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// NewStore creates an empty reconciliation store
func NewStore() *Store {
	return &Store{jobs: make(map[string]*models.Job)}
}

// ApplyEvent merges a streamed delta into the view for its job. A delta for
// an unknown job seeds a minimal view; the next snapshot pull completes it.
func (s *Store) ApplyEvent(ev models.ProgressEvent) {
	if ev.JobID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	view, ok := s.jobs[ev.JobID]
	if !ok {
		view = &models.Job{ID: ev.JobID, Status: models.JobStatusPending}
	}

	next := Reduce(*view, ev)
	s.jobs[ev.JobID] = &next
}

// SetSnapshot replaces a job's view with an authoritative snapshot.
func (s *Store) SetSnapshot(job *models.Job) {
	if job == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
}

// MergeJobs merges a pulled job list. A job already present is fully
// replaced by the incoming copy; no field-level merge across copies.
func (s *Store) MergeJobs(jobs []*models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range jobs {
		s.jobs[job.ID] = job.Clone()
	}
}

// Remove drops a job's view.
func (s *Store) Remove(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
}

// Get returns a copy of a job's merged view.
func (s *Store) Get(jobID string) (*models.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	return view.Clone(), true
}

// List returns copies of all merged views.
func (s *Store) List() []*models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, view := range s.jobs {
		jobs = append(jobs, view.Clone())
	}
	return jobs
}

// JobIDs returns the ids of every tracked view.
func (s *Store) JobIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}
