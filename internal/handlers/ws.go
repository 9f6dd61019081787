package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/HammerMeetNail/nearby/internal/logging"
	"github.com/HammerMeetNail/nearby/internal/ws"
)

type WSHandler struct {
	hub            *ws.Hub
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// NewWSHandler accepts the same origin list as CORS. An empty list or "*"
// allows every origin.
func NewWSHandler(hub *ws.Hub, allowedOrigins []string) *WSHandler {
	h := &WSHandler{hub: hub}
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			h.allowedOrigins = append(h.allowedOrigins, o)
		}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "Origin not allowed")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed", map[string]interface{}{
			"user_id": userID.String(),
			"error":   err.Error(),
		})
		return
	}

	if err := h.hub.Connect(conn, userID); err != nil {
		logging.Error("WebSocket session failed to start", map[string]interface{}{
			"user_id": userID.String(),
			"error":   err.Error(),
		})
	}
}
