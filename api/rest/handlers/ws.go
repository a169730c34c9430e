package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"experiment-tracker/core/hub"
)

// WSHandler handles push-channel upgrade requests
type WSHandler struct {
	hub *hub.Hub
}

// NewWSHandler creates a new websocket handler
func NewWSHandler(h *hub.Hub) *WSHandler {
	return &WSHandler{hub: h}
}

// Serve handles GET /ws/{client_id}
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeWS(w, r, mux.Vars(r)["client_id"])
}
