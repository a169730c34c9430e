package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"experiment-tracker/core/broadcast"
	"experiment-tracker/core/models"
)

// Subscriber maintains the push channel: it dials, subscribes, feeds deltas
// into the reconciliation store, and reconnects with a fixed delay. After
// every successful reconnect it re-pulls the full snapshot for each job it
// cares about before trusting further deltas.
type Subscriber struct {
	api            *Client
	store          *Store
	wsBaseURL      string // e.g. "ws://localhost:8000"
	reconnectDelay time.Duration
	log            *slog.Logger

	mu     sync.Mutex
	topics map[string]struct{}
	conn   *websocket.Conn
}

// NewSubscriber creates a subscriber feeding store via the push channel at
// wsBaseURL, using api for snapshot pulls.
func NewSubscriber(api *Client, store *Store, wsBaseURL string, reconnectDelay time.Duration, log *slog.Logger) *Subscriber {
	if log == nil {
		log = slog.Default()
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	return &Subscriber{
		api:            api,
		store:          store,
		wsBaseURL:      wsBaseURL,
		reconnectDelay: reconnectDelay,
		log:            log,
		topics:         make(map[string]struct{}),
	}
}

// Subscribe adds a topic (a job id or broadcast.Wildcard). Applied
// immediately when connected, and replayed after every reconnect.
func (s *Subscriber) Subscribe(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		s.send(conn, models.SubscribeRequest{Type: "subscribe", Topic: topic})
	}
}

// Unsubscribe removes a topic.
func (s *Subscriber) Unsubscribe(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		s.send(conn, models.SubscribeRequest{Type: "unsubscribe", Topic: topic})
	}
}

// Run drives the connect/resync/consume loop until ctx is done. Reconnect
// attempts never retry tighter than the fixed delay.
func (s *Subscriber) Run(ctx context.Context) {
	for {
		if err := s.connectAndConsume(ctx); err != nil {
			s.log.Warn("push channel lost", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *Subscriber) connectAndConsume(ctx context.Context) error {
	// A dead connection's identity is never resumed; dial with a fresh id.
	url := s.wsBaseURL + "/ws/" + uuid.NewString()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	topics := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		topics = append(topics, topic)
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	for _, topic := range topics {
		if err := s.send(conn, models.SubscribeRequest{Type: "subscribe", Topic: topic}); err != nil {
			return err
		}
	}

	// Snapshots first: deltas emitted during the gap are gone, and the
	// reducer needs a consistent base to append to.
	if err := s.resync(ctx, topics); err != nil {
		return err
	}

	s.log.Info("push channel established", "topics", len(topics))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		s.store.ApplyEvent(env.Data)
	}
}

// resync re-pulls authoritative state for every job the subscriber cares
// about: explicitly subscribed jobs, plus every locally tracked job when
// the wildcard is subscribed.
func (s *Subscriber) resync(ctx context.Context, topics []string) error {
	wildcard := false
	jobIDs := make(map[string]struct{})
	for _, topic := range topics {
		if topic == broadcast.Wildcard {
			wildcard = true
			continue
		}
		jobIDs[topic] = struct{}{}
	}

	if wildcard {
		jobs, err := s.api.ListJobs(ctx, nil)
		if err != nil {
			return err
		}
		s.store.MergeJobs(jobs)
		for _, id := range s.store.JobIDs() {
			jobIDs[id] = struct{}{}
		}
	}

	for id := range jobIDs {
		job, err := s.api.GetJob(ctx, id)
		if err != nil {
			// The job may have been deleted during the gap.
			s.log.Warn("snapshot pull failed", "job_id", id, "error", err)
			continue
		}
		s.store.SetSnapshot(job)
	}

	return nil
}

func (s *Subscriber) send(conn *websocket.Conn, req models.SubscribeRequest) error {
	return conn.WriteJSON(req)
}
