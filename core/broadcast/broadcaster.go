// Package broadcast fans progress events out to subscribed connections.
// Delivery is at-most-once and best-effort: a full subscriber buffer drops
// the message rather than blocking the producing job.
package broadcast

import (
	"log/slog"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/atomic"

	"experiment-tracker/core/models"
)

// Wildcard subscribes a connection to every job's events.
const Wildcard = "*"

// Sink is one subscriber endpoint. Offer must not block; it returns false
// when the message was dropped.
type Sink interface {
	ID() string
	Offer(env models.Envelope) bool
}

// subscriberSet is the set of sinks attached to one topic.
type subscriberSet struct {
	mu    sync.RWMutex
	sinks map[string]Sink
}

// Broadcaster routes progress events to topic and wildcard subscribers.
type Broadcaster struct {
	topics  cmap.ConcurrentMap[string, *subscriberSet]
	dropped *atomic.Int64
	log     *slog.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		topics:  cmap.New[*subscriberSet](),
		dropped: atomic.NewInt64(0),
		log:     log,
	}
}

// Subscribe attaches a sink to a topic. A sink may subscribe to any number
// of topics; re-subscribing to the same topic is a no-op.
func (b *Broadcaster) Subscribe(topic string, s Sink) {
	set := b.topics.Upsert(topic, nil, func(exists bool, current, _ *subscriberSet) *subscriberSet {
		if !exists {
			return &subscriberSet{sinks: make(map[string]Sink)}
		}
		return current
	})

	set.mu.Lock()
	set.sinks[s.ID()] = s
	set.mu.Unlock()

	b.log.Debug("subscribed", "topic", topic, "sink", s.ID())
}

// Unsubscribe detaches a sink from one topic.
func (b *Broadcaster) Unsubscribe(topic, sinkID string) {
	set, ok := b.topics.Get(topic)
	if !ok {
		return
	}

	set.mu.Lock()
	delete(set.sinks, sinkID)
	empty := len(set.sinks) == 0
	set.mu.Unlock()

	if empty {
		b.topics.RemoveCb(topic, func(_ string, current *subscriberSet, exists bool) bool {
			if !exists {
				return false
			}
			current.mu.RLock()
			defer current.mu.RUnlock()
			return len(current.sinks) == 0
		})
	}
}

// UnsubscribeAll detaches a sink from every topic, used when its connection
// dies.
func (b *Broadcaster) UnsubscribeAll(sinkID string) {
	for _, topic := range b.topics.Keys() {
		b.Unsubscribe(topic, sinkID)
	}
}

// Publish delivers an event to the job's subscribers and to wildcard
// subscribers. Never blocks: slow subscribers miss the event.
func (b *Broadcaster) Publish(ev models.ProgressEvent) {
	env := models.Envelope{JobID: ev.JobID, Data: ev}
	b.deliver(ev.JobID, env)
	b.deliver(Wildcard, env)
}

func (b *Broadcaster) deliver(topic string, env models.Envelope) {
	set, ok := b.topics.Get(topic)
	if !ok {
		return
	}

	set.mu.RLock()
	defer set.mu.RUnlock()
	for _, s := range set.sinks {
		if !s.Offer(env) {
			b.dropped.Inc()
			b.log.Warn("dropped event for slow subscriber",
				"topic", topic, "sink", s.ID(), "job_id", env.JobID)
		}
	}
}

// Dropped returns the total number of messages dropped on full buffers.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribers returns the subscriber count for a topic.
func (b *Broadcaster) Subscribers(topic string) int {
	set, ok := b.topics.Get(topic)
	if !ok {
		return 0
	}
	set.mu.RLock()
	defer set.mu.RUnlock()
	return len(set.sinks)
}
