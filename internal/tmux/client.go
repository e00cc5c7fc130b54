// Package tmux is the dashboard's typed view of a tmux server: listing
// sessions, capturing panes, and injecting keys. Every operation is a single
// argv handed to an executor.Runner; nothing is ever passed through a shell.
//
// When SocketPath is set, -S <socket> is prepended to every invocation so the
// dashboard can be pointed at a dedicated server instead of the user's default.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/remote-agent-terminal/dashboard/internal/executor"
	"github.com/remote-agent-terminal/dashboard/internal/model"
)

// listFormat is the list-sessions -F format. Session names cannot contain
// '|' once they pass validation, so the delimiter is unambiguous.
const listFormat = "#{session_name}|#{session_created}|#{window_width}|#{window_height}"

// KeyEnter is the tmux key name sent after literal text.
const KeyEnter = "Enter"

// benignListErrors are list-sessions failures that mean "zero sessions".
var benignListErrors = []string{
	"no server running",
	"error connecting to",
	"no sessions",
}

// Client issues tmux commands through a Runner.
type Client struct {
	Binary     string
	SocketPath string

	runner executor.Runner
	logger *zap.Logger
}

// NewClient creates a Client. An empty binary defaults to "tmux".
func NewClient(runner executor.Runner, binary, socketPath string, logger *zap.Logger) *Client {
	if binary == "" {
		binary = "tmux"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		Binary:     binary,
		SocketPath: socketPath,
		runner:     runner,
		logger:     logger,
	}
}

// argv builds the full argument vector for a tmux subcommand.
func (c *Client) argv(args ...string) []string {
	full := make([]string, 0, len(args)+3)
	full = append(full, c.Binary)
	if c.SocketPath != "" {
		full = append(full, "-S", c.SocketPath)
	}
	return append(full, args...)
}

// ListSessions returns the live sessions in the order tmux reports them.
//
// A tmux server with no sessions (or no server at all) yields an empty slice
// and a nil error. Any other execution failure, or any malformed line, yields
// an empty slice and a non-nil error.
func (c *Client) ListSessions(ctx context.Context) ([]model.Session, error) {
	out, err := c.runner.Run(ctx, c.argv("list-sessions", "-F", listFormat))
	if err != nil {
		if isBenignListError(err) {
			return []model.Session{}, nil
		}
		return []model.Session{}, fmt.Errorf("tmux list-sessions: %w", err)
	}

	sessions, skipped, err := ParseSessionList(out)
	if err != nil {
		return []model.Session{}, fmt.Errorf("tmux list-sessions: %w", err)
	}
	for _, name := range skipped {
		c.logger.Debug("ignoring session with unsafe name", zap.String("session", name))
	}
	return sessions, nil
}

func isBenignListError(err error) bool {
	var execErr *executor.ExecutionError
	if !errors.As(err, &execErr) || execErr.Kind != executor.KindNonZeroExit {
		return false
	}
	for _, msg := range benignListErrors {
		if strings.Contains(execErr.Stderr, msg) {
			return true
		}
	}
	return false
}

// ParseSessionList parses list-sessions output in listFormat.
//
// Blank lines are ignored. Sessions whose names fail validation are left out
// and returned in skipped. Duplicate names keep the position of their first
// appearance and the values of their last. Any line that does not parse makes
// the whole listing invalid.
func ParseSessionList(out string) (sessions []model.Session, skipped []string, err error) {
	index := make(map[string]int)
	for lineNumber, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		session, parseErr := parseSessionLine(line)
		if parseErr != nil {
			return nil, nil, fmt.Errorf("line %d %q: %w", lineNumber+1, line, parseErr)
		}
		if !model.IsSafeSessionName(session.Name) {
			skipped = append(skipped, session.Name)
			continue
		}
		if i, ok := index[session.Name]; ok {
			sessions[i] = session
			continue
		}
		index[session.Name] = len(sessions)
		sessions = append(sessions, session)
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	return sessions, skipped, nil
}

func parseSessionLine(line string) (model.Session, error) {
	// The name is everything before the last three fields, so an unsafe name
	// containing '|' still parses and is then rejected by validation.
	parts := strings.Split(line, "|")
	if len(parts) < 4 {
		return model.Session{}, fmt.Errorf("expected 4 fields, got %d", len(parts))
	}
	n := len(parts)
	name := strings.Join(parts[:n-3], "|")
	if name == "" {
		return model.Session{}, fmt.Errorf("empty session name")
	}

	created, err := strconv.ParseInt(strings.TrimSpace(parts[n-3]), 10, 64)
	if err != nil {
		return model.Session{}, fmt.Errorf("parsing session_created: %w", err)
	}
	width, err := strconv.Atoi(strings.TrimSpace(parts[n-2]))
	if err != nil {
		return model.Session{}, fmt.Errorf("parsing window_width: %w", err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(parts[n-1]))
	if err != nil {
		return model.Session{}, fmt.Errorf("parsing window_height: %w", err)
	}
	if width <= 0 || height <= 0 {
		return model.Session{}, fmt.Errorf("invalid geometry %dx%d", width, height)
	}

	return model.Session{
		Name:      name,
		CreatedAt: time.Unix(created, 0).UTC(),
		Width:     width,
		Height:    height,
	}, nil
}

// target addresses the session named exactly name. A bare -t value is
// resolved by prefix or pattern when no session has that exact name, so
// "worker" would otherwise hit "worker-1".
func target(name string) string {
	return "=" + name + ":"
}

// CapturePane returns the visible area of the session's active pane with
// escape sequences preserved (-e) and trailing whitespace removed. Scrollback
// is not included.
func (c *Client) CapturePane(ctx context.Context, name string) (string, error) {
	out, err := c.runner.Run(ctx, c.argv("capture-pane", "-t", target(name), "-p", "-e"))
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane %q: %w", name, err)
	}
	return strings.TrimRight(out, " \t\r\n"), nil
}

// SendLiteral types text into the session without interpreting key names.
// The "--" stops tmux from treating text that starts with '-' as a flag.
func (c *Client) SendLiteral(ctx context.Context, name, text string) error {
	if _, err := c.runner.Run(ctx, c.argv("send-keys", "-t", target(name), "-l", "--", text)); err != nil {
		return fmt.Errorf("tmux send-keys %q: %w", name, err)
	}
	return nil
}

// SendEnter presses Enter in the session.
func (c *Client) SendEnter(ctx context.Context, name string) error {
	if _, err := c.runner.Run(ctx, c.argv("send-keys", "-t", target(name), KeyEnter)); err != nil {
		return fmt.Errorf("tmux send-keys %q %s: %w", name, KeyEnter, err)
	}
	return nil
}
