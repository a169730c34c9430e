// Package hub owns the set of live push-channel connections: identity
// assignment, the subscription registry and transport failure handling.
package hub

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	cmap "github.com/orcaman/concurrent-map/v2"

	"experiment-tracker/core/broadcast"
)

// Hub is the connection manager.
type Hub struct {
	conns       cmap.ConcurrentMap[string, *Conn]
	broadcaster *broadcast.Broadcaster
	upgrader    websocket.Upgrader
	sendBuffer  int
	log         *slog.Logger
}

// NewHub creates a connection manager publishing through b. sendBuffer is
// the per-connection outbound buffer size.
func NewHub(b *broadcast.Broadcaster, sendBuffer int, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if sendBuffer < 1 {
		sendBuffer = 64
	}
	return &Hub{
		conns:       cmap.New[*Conn](),
		broadcaster: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sendBuffer: sendBuffer,
		log:        log,
	}
}

// ServeWS upgrades an inbound request and registers the connection. The
// client id is taken from the path when present, otherwise generated; a dead
// connection's identity is never resumed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, clientID string) {
	if clientID == "" {
		clientID = uuid.NewString()
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	// A stale connection reusing the id is displaced, not resumed.
	if old, ok := h.conns.Get(clientID); ok {
		h.unregister(old)
	}

	c := newConn(clientID, ws, h)
	h.conns.Set(clientID, c)
	h.log.Info("client connected", "client_id", clientID)

	go c.writePump()
	go c.readPump()
}

// unregister removes a connection from the registry and the broadcaster and
// tears its transport down. Safe to call more than once; publishers racing
// against the teardown see Offer fail instead of a closed channel.
func (h *Hub) unregister(c *Conn) {
	removed := h.conns.RemoveCb(c.id, func(_ string, current *Conn, exists bool) bool {
		return exists && current == c
	})

	h.broadcaster.UnsubscribeAll(c.id)
	c.close()

	if removed {
		h.log.Info("client disconnected", "client_id", c.id, "dropped", c.Dropped())
	}
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	return h.conns.Count()
}
