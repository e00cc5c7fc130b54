// Package status determines what a tmux session is currently doing.
//
// The primary source is an external status script invoked as
// "<script> <session> --json" that prints {"status": ..., "details": ...}.
// When no script is configured, a Classifier infers the status from the
// captured pane instead.
package status

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/remote-agent-terminal/dashboard/internal/executor"
	"github.com/remote-agent-terminal/dashboard/internal/model"
)

// Result is the structured status for one session.
type Result struct {
	Status  model.SessionStatus `json:"status"`
	Details string              `json:"details"`
}

// Unknown is returned whenever the status cannot be determined.
var Unknown = Result{Status: model.SessionStatusUnknown, Details: ""}

// Prober resolves the status of a session. Implementations never fail; they
// degrade to Unknown.
type Prober interface {
	Probe(ctx context.Context, name, content string) Result
}

// ScriptProber runs the status script.
type ScriptProber struct {
	script string
	runner executor.Runner
	logger *zap.Logger
}

// NewScriptProber creates a prober that invokes script through runner.
func NewScriptProber(runner executor.Runner, script string, logger *zap.Logger) *ScriptProber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScriptProber{script: script, runner: runner, logger: logger}
}

// Probe runs "<script> <name> --json". name must already be validated by the
// caller. The pane content is not used.
func (p *ScriptProber) Probe(ctx context.Context, name, _ string) Result {
	out, err := p.runner.Run(ctx, []string{p.script, name, "--json"})
	if err != nil {
		p.logger.Debug("status probe failed", zap.String("session", name), zap.Error(err))
		return Unknown
	}
	return ParseResult(out)
}

// ParseResult decodes status script output. Malformed JSON or a missing
// status yields Unknown; any other non-empty status passes through.
func ParseResult(out string) Result {
	var raw struct {
		Status  *string `json:"status"`
		Details any     `json:"details"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &raw); err != nil {
		return Unknown
	}
	if raw.Status == nil || strings.TrimSpace(*raw.Status) == "" {
		return Unknown
	}

	result := Result{Status: model.SessionStatus(strings.TrimSpace(*raw.Status))}
	switch d := raw.Details.(type) {
	case nil:
	case string:
		result.Details = d
	default:
		if b, err := json.Marshal(d); err == nil {
			result.Details = string(b)
		}
	}
	return result
}
