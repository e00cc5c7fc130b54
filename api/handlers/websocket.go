package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ConnectionHandler upgrades and serves one viewer connection.
type ConnectionHandler interface {
	HandleConnection(w http.ResponseWriter, r *http.Request) error
}

// WebSocketHandler attaches viewers to the live session stream.
type WebSocketHandler struct {
	conns ConnectionHandler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(conns ConnectionHandler) *WebSocketHandler {
	return &WebSocketHandler{conns: conns}
}

// Attach handles GET /ws. Authentication happens inside the handshake so
// that browsers, which cannot set upgrade headers, can send an auth frame.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	if err := h.conns.HandleConnection(c.Writer, c.Request); err != nil {
		// The upgrader has already written the HTTP error.
		c.Error(err)
		return
	}
}

// RegisterRoutes registers the WebSocket route.
func (h *WebSocketHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws", h.Attach)
}
