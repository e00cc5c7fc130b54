// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/dashboard/internal/model"
)

// SessionLister reads the tracked session table.
type SessionLister interface {
	Sessions() []model.Session
	Session(name string) (model.Session, error)
}

// SessionHandler serves the read-only session list.
type SessionHandler struct {
	sessions SessionLister
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions SessionLister) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
	}
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	Name      string `json:"name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Age       string `json:"age"`
	CreatedAt string `json:"createdAt"`
}

// ListSessionsResponse is the body of GET /api/sessions.
type ListSessionsResponse struct {
	Sessions []*SessionResponse `json:"sessions"`
	Total    int                `json:"total"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toSessionResponse(s *model.Session) *SessionResponse {
	return &SessionResponse{
		Name:      s.Name,
		Width:     s.Width,
		Height:    s.Height,
		Age:       formatDuration(s.Age()),
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
}

// List handles GET /api/sessions. Sessions are returned in table order.
func (h *SessionHandler) List(c *gin.Context) {
	sessions := h.sessions.Sessions()

	resp := &ListSessionsResponse{
		Sessions: make([]*SessionResponse, 0, len(sessions)),
		Total:    len(sessions),
	}
	for i := range sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(&sessions[i]))
	}

	c.JSON(http.StatusOK, resp)
}

// Get handles GET /api/sessions/:name.
func (h *SessionHandler) Get(c *gin.Context) {
	name := c.Param("name")
	if err := model.AssertSafeSessionName(name); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	s, err := h.sessions.Session(name)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+name+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get session: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(&s))
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/sessions", h.List)
	rg.GET("/sessions/:name", h.Get)
}
