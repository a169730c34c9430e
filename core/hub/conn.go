package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"experiment-tracker/core/broadcast"
	"experiment-tracker/core/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Conceptual subjects for subscription replacement: a connection holds at
// most one job-scoped topic and at most the wildcard.
const (
	subjectJob = "job"
	subjectAll = "all"
)

// Conn is one live client connection. It implements broadcast.Sink with a
// bounded outbound buffer drained by the write pump.
type Conn struct {
	id  string
	ws  *websocket.Conn
	hub *Hub
	log *slog.Logger

	send      chan models.Envelope
	done      chan struct{}
	dropped   *atomic.Int64
	closeOnce sync.Once

	mu       sync.Mutex
	subjects map[string]string // subject -> current topic
}

func newConn(id string, ws *websocket.Conn, h *Hub) *Conn {
	return &Conn{
		id:       id,
		ws:       ws,
		hub:      h,
		log:      h.log.With("client_id", id),
		send:     make(chan models.Envelope, h.sendBuffer),
		done:     make(chan struct{}),
		dropped:  atomic.NewInt64(0),
		subjects: make(map[string]string),
	}
}

// ID returns the opaque client identifier assigned at connect time.
func (c *Conn) ID() string { return c.id }

// Offer enqueues an envelope without blocking. Returns false when the
// outbound buffer is full and the message was dropped, or when the
// connection has been torn down. The send channel is never closed, so a
// publisher racing against teardown cannot panic.
func (c *Conn) Offer(env models.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		c.dropped.Inc()
		return false
	}
}

// Dropped returns how many messages this connection has missed on a full
// buffer.
func (c *Conn) Dropped() int64 { return c.dropped.Load() }

// subscribe attaches the connection to a topic, replacing any previous
// topic for the same conceptual subject. A connection that has been
// displaced or torn down must not rejoin the broadcaster: its read pump may
// still be handling a frame read before the teardown.
func (c *Conn) subscribe(topic string) {
	select {
	case <-c.done:
		return
	default:
	}
	if current, ok := c.hub.conns.Get(c.id); !ok || current != c {
		return
	}

	subject := subjectJob
	if topic == broadcast.Wildcard {
		subject = subjectAll
	}

	c.mu.Lock()
	prev, had := c.subjects[subject]
	c.subjects[subject] = topic
	c.mu.Unlock()

	if had && prev != topic {
		c.hub.broadcaster.Unsubscribe(prev, c.id)
	}
	c.hub.broadcaster.Subscribe(topic, c)
	c.log.Debug("subscription updated", "topic", topic)
}

func (c *Conn) unsubscribe(topic string) {
	subject := subjectJob
	if topic == broadcast.Wildcard {
		subject = subjectAll
	}

	c.mu.Lock()
	if c.subjects[subject] == topic {
		delete(c.subjects, subject)
	}
	c.mu.Unlock()

	c.hub.broadcaster.Unsubscribe(topic, c.id)
}

// readPump consumes subscription requests until the transport fails, then
// tears the connection down. The observer reconnects with a fresh identity.
func (c *Conn) readPump() {
	defer c.hub.unregister(c)

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("connection read failed", "error", err)
			}
			return
		}

		var req models.SubscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.log.Warn("ignoring malformed subscription request", "error", err)
			continue
		}

		switch req.Type {
		case "subscribe":
			c.subscribe(req.Topic)
		case "unsubscribe":
			c.unsubscribe(req.Topic)
		default:
			c.log.Warn("ignoring unknown request type", "type", req.Type)
		}
	}
}

// writePump drains the outbound buffer and keeps the connection alive with
// pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.unregister(c)
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case env := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(env); err != nil {
				c.log.Warn("connection write failed", "error", err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}
