package model

import (
	"time"
)

// SessionStatus represents the approval/activity state reported for a tmux session.
type SessionStatus string

const (
	SessionStatusUnknown         SessionStatus = "unknown"
	SessionStatusWaitingApproval SessionStatus = "waiting-approval"
	SessionStatusRunning         SessionStatus = "running"
	SessionStatusIdle            SessionStatus = "idle"
)

// Session represents one live tmux session as reported by the inventory.
type Session struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
}

// Age returns how long the session has existed.
func (s *Session) Age() time.Duration {
	return time.Since(s.CreatedAt)
}

// Snapshot is the full rendered state of a session at one tick.
// It is rebuilt every tick and never stored.
type Snapshot struct {
	Name    string        `json:"name"`
	Content string        `json:"content"`
	Status  SessionStatus `json:"status"`
	Details string        `json:"details"`
	Width   int           `json:"width"`
	Height  int           `json:"height"`
}

// ApprovalAction is the decision a viewer sends for a pending approval prompt.
type ApprovalAction string

const (
	ApprovalApprove ApprovalAction = "approve"
	ApprovalAlways  ApprovalAction = "always"
	ApprovalDeny    ApprovalAction = "deny"
)

// SendTextCommand injects literal text followed by Enter into a session.
type SendTextCommand struct {
	Name string
	Text string
}

// Validate validates the send-text command.
func (c *SendTextCommand) Validate() error {
	return AssertSafeSessionName(c.Name)
}

// ApprovalCommand forwards an approval decision to the approval script.
type ApprovalCommand struct {
	Name   string
	Action string
}

// Validate validates the approval command. The action is checked first so that
// an unknown action is reported even when the name is also bad.
func (c *ApprovalCommand) Validate() error {
	if err := AssertSafeAction(c.Action); err != nil {
		return err
	}
	return AssertSafeSessionName(c.Name)
}

// CommandResult is the outcome of a dispatched command.
type CommandResult struct {
	Success bool
	Error   string
}
