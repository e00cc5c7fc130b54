// Package command validates viewer commands and dispatches them to tmux or
// the approval script. Nothing reaches an external process before the session
// name (and, for approvals, the action) has been validated.
package command

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/remote-agent-terminal/dashboard/internal/executor"
	"github.com/remote-agent-terminal/dashboard/internal/model"
)

// logTextLimit is how much of sent text appears in logs.
const logTextLimit = 50

// ErrApprovalDisabled is reported when no approval script is configured.
var ErrApprovalDisabled = errors.New("approval script not configured")

// KeySender types into a tmux session.
type KeySender interface {
	SendLiteral(ctx context.Context, name, text string) error
	SendEnter(ctx context.Context, name string) error
}

// Router dispatches validated commands.
type Router struct {
	keys           KeySender
	runner         executor.Runner
	approvalScript string
	logger         *zap.Logger
}

// NewRouter creates a Router. approvalScript may be empty, in which case
// approvals fail with ErrApprovalDisabled.
func NewRouter(keys KeySender, runner executor.Runner, approvalScript string, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		keys:           keys,
		runner:         runner,
		approvalScript: approvalScript,
		logger:         logger,
	}
}

// Approve runs "<approval-script> <action> <name>".
func (r *Router) Approve(ctx context.Context, cmd model.ApprovalCommand) model.CommandResult {
	if err := cmd.Validate(); err != nil {
		r.logger.Warn("rejected approval", zap.String("session", cmd.Name), zap.String("action", cmd.Action), zap.Error(err))
		return failure(err)
	}
	if r.approvalScript == "" {
		return failure(ErrApprovalDisabled)
	}

	r.logger.Info("approval", zap.String("session", cmd.Name), zap.String("action", cmd.Action))
	if _, err := r.runner.Run(ctx, []string{r.approvalScript, cmd.Action, cmd.Name}); err != nil {
		r.logger.Error("approval failed", zap.String("session", cmd.Name), zap.Error(err))
		return failure(err)
	}
	return model.CommandResult{Success: true}
}

// SendText types text into the session and presses Enter.
//
// The two keystrokes are separate tmux calls. When the literal text fails,
// Enter is not sent. When Enter fails, the text has already been delivered
// and the result says so; nothing is rolled back.
func (r *Router) SendText(ctx context.Context, cmd model.SendTextCommand) model.CommandResult {
	if err := cmd.Validate(); err != nil {
		r.logger.Warn("rejected send", zap.String("session", cmd.Name), zap.Error(err))
		return failure(err)
	}

	r.logger.Info("sending text", zap.String("session", cmd.Name), zap.String("text", truncate(cmd.Text, logTextLimit)))
	if err := r.keys.SendLiteral(ctx, cmd.Name, cmd.Text); err != nil {
		r.logger.Error("send failed", zap.String("session", cmd.Name), zap.Error(err))
		return failure(err)
	}
	if err := r.keys.SendEnter(ctx, cmd.Name); err != nil {
		r.logger.Error("send partially delivered", zap.String("session", cmd.Name), zap.Error(err))
		return failure(fmt.Errorf("text delivered but Enter failed: %w", err))
	}
	return model.CommandResult{Success: true}
}

func failure(err error) model.CommandResult {
	return model.CommandResult{Success: false, Error: err.Error()}
}

// truncate cuts s to at most n runes, appending "..." when it was cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
