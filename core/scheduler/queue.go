package scheduler

import "sync"

// JobQueue is a FIFO queue of job ids awaiting dispatch. Enqueueing an id
// already queued is a no-op.
type JobQueue struct {
	mu     sync.Mutex
	ids    []string
	queued map[string]struct{}
}

// NewJobQueue creates an empty job queue
func NewJobQueue() *JobQueue {
	return &JobQueue{queued: make(map[string]struct{})}
}

// Enqueue adds a job id to the back of the queue
func (q *JobQueue) Enqueue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queued[id]; ok {
		return
	}
	q.queued[id] = struct{}{}
	q.ids = append(q.ids, id)
}

// Pop removes and returns the front job id, or "" when the queue is empty
func (q *JobQueue) Pop() string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ids) == 0 {
		return ""
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	delete(q.queued, id)
	return id
}

// Len returns the number of queued job ids
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}
