// Package executor runs external processes from explicit argument vectors.
//
// Commands are never built from interpolated shell strings: argv[0] is
// resolved on PATH and the remaining elements are passed to the process
// verbatim. Every call is bounded by a timeout and reports failures as an
// *ExecutionError instead of retrying.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single invocation when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// Kind classifies why an invocation failed.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindNonZeroExit Kind = "non-zero-exit"
	KindNotFound    Kind = "not-found"
)

var (
	// ErrTimeout matches an ExecutionError of KindTimeout via errors.Is.
	ErrTimeout = errors.New("command timed out")

	// ErrNonZeroExit matches an ExecutionError of KindNonZeroExit via errors.Is.
	ErrNonZeroExit = errors.New("command exited with non-zero status")

	// ErrNotFound matches an ExecutionError of KindNotFound via errors.Is.
	ErrNotFound = errors.New("command not found")
)

// ExecutionError describes a failed invocation.
type ExecutionError struct {
	Kind     Kind
	Argv     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	name := ""
	if len(e.Argv) > 0 {
		name = e.Argv[0]
	}
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("%s: timed out", name)
	case KindNotFound:
		return fmt.Sprintf("%s: command not found", name)
	}
	if e.Stderr != "" {
		return fmt.Sprintf("%s: exit status %d: %s", name, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s: exit status %d", name, e.ExitCode)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the Kind sentinels.
func (e *ExecutionError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrNonZeroExit:
		return e.Kind == KindNonZeroExit
	case ErrNotFound:
		return e.Kind == KindNotFound
	}
	return false
}

// Runner executes argv and returns its standard output.
type Runner interface {
	Run(ctx context.Context, argv []string) (string, error)
}

// Executor is the os/exec backed Runner.
type Executor struct {
	// Timeout bounds each invocation. Zero means DefaultTimeout.
	Timeout time.Duration

	lookPath func(file string) (string, error)
}

// New creates an Executor with the given per-call timeout.
func New(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{
		Timeout:  timeout,
		lookPath: exec.LookPath,
	}
}

// Run starts argv[0] with argv[1:] as literal arguments and waits for it to
// exit. A deadline on ctx that is earlier than the executor timeout wins.
func (e *Executor) Run(ctx context.Context, argv []string) (string, error) {
	if len(argv) == 0 || argv[0] == "" {
		return "", fmt.Errorf("empty argument vector")
	}

	lookPath := e.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	path, err := lookPath(argv[0])
	if err != nil {
		return "", &ExecutionError{Kind: KindNotFound, Argv: argv, ExitCode: -1, Err: err}
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path, argv[1:]...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Don't wait on grandchildren holding the pipes open after a kill.
	cmd.WaitDelay = 500 * time.Millisecond

	err = cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return "", &ExecutionError{Kind: KindTimeout, Argv: argv, ExitCode: -1, Err: runCtx.Err()}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return "", &ExecutionError{
			Kind:     KindNonZeroExit,
			Argv:     argv,
			ExitCode: exitErr.ExitCode(),
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}

	if errors.Is(err, exec.ErrNotFound) {
		return "", &ExecutionError{Kind: KindNotFound, Argv: argv, ExitCode: -1, Err: err}
	}

	// Parent context cancellation or a start failure (permission denied and
	// the like). Neither produced an exit status.
	return "", &ExecutionError{
		Kind:     KindNonZeroExit,
		Argv:     argv,
		ExitCode: -1,
		Stderr:   strings.TrimSpace(stderr.String()),
		Err:      err,
	}
}

// Func adapts a function to the Runner interface.
type Func func(ctx context.Context, argv []string) (string, error)

// Run calls f(ctx, argv).
func (f Func) Run(ctx context.Context, argv []string) (string, error) {
	return f(ctx, argv)
}
