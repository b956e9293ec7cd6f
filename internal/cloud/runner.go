package cloud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout applies to vendor CLI calls that don't set their own.
const DefaultTimeout = 30 * time.Second

// LongTimeout is used for image builds and service rollouts.
const LongTimeout = 15 * time.Minute

// ErrNotInstalled is returned when the vendor CLI binary is not on PATH.
var ErrNotInstalled = errors.New("cli not found in PATH")

// Command is a single vendor CLI invocation. Args are passed as an argument vector and
// are never interpreted by a shell.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string
	Stdin   []byte
	Timeout time.Duration
}

func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\n\"'") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Output is what a finished command produced. Success is ExitCode == 0.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes vendor CLI commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// CommandError reports a non-zero exit, a timeout or a failure to start.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *CommandError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("%s timed out", e.Command)
	case e.Stderr != "":
		return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, e.Stderr)
	default:
		return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	}
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	timeout time.Duration
	logger  *zap.Logger
}

func NewExecRunner(timeout time.Duration, logger *zap.Logger) *ExecRunner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{timeout: timeout, logger: logger}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (Output, error) {
	path, err := exec.LookPath(c.Name)
	if err != nil {
		return Output{ExitCode: -1}, fmt.Errorf("%s: %w", c.Name, ErrNotInstalled)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if len(c.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	out := Output{
		Stdout: stdout.String(),
		Stderr: strings.TrimSpace(stderr.String()),
	}

	r.logger.Debug("cli command finished",
		zap.String("command", c.String()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(runErr),
	)

	if runErr == nil {
		return out, nil
	}

	cmdErr := &CommandError{Command: c.Name + " " + firstArgs(c.Args, 2), Stderr: out.Stderr, Err: runErr}
	var exitErr *exec.ExitError
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		cmdErr.TimedOut = true
		out.ExitCode = -1
	case errors.As(runErr, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	default:
		out.ExitCode = -1
	}
	cmdErr.ExitCode = out.ExitCode
	return out, cmdErr
}

func firstArgs(args []string, n int) string {
	if len(args) < n {
		n = len(args)
	}
	return strings.Join(args[:n], " ")
}

// DefaultBackoffs is the retry schedule for transient vendor errors.
var DefaultBackoffs = []time.Duration{200 * time.Millisecond, 500 * time.Millisecond, 1200 * time.Millisecond}

// RetryPolicy decides which failures are worth repeating and how to annotate the final error.
type RetryPolicy struct {
	Backoffs  []time.Duration
	Retryable func(stderr string) bool
	Hint      func(stderr string) string
}

// RunWithRetry runs c, repeating it while the failure looks transient.
func RunWithRetry(ctx context.Context, r Runner, c Command, policy RetryPolicy) (Output, error) {
	backoffs := policy.Backoffs
	if backoffs == nil {
		backoffs = DefaultBackoffs
	}

	var (
		out     Output
		lastErr error
	)
	for attempt := 0; attempt <= len(backoffs); attempt++ {
		out, lastErr = r.Run(ctx, c)
		if lastErr == nil {
			return out, nil
		}
		if errors.Is(lastErr, ErrNotInstalled) || ctx.Err() != nil {
			break
		}
		if policy.Retryable == nil || !policy.Retryable(out.Stderr) {
			break
		}
		if attempt == len(backoffs) {
			break
		}
		select {
		case <-ctx.Done():
			return out, fmt.Errorf("%s command failed: %w", c.Name, ctx.Err())
		case <-time.After(backoffs[attempt]):
		}
	}

	hint := ""
	if policy.Hint != nil {
		hint = policy.Hint(out.Stderr)
	}
	return out, fmt.Errorf("%s command failed: %w%s", c.Name, lastErr, hint)
}

// IsTransient matches the rate-limit and availability errors the vendor CLIs print.
func IsTransient(stderr string) bool {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "rate") && strings.Contains(lower, "limit"):
		return true
	case strings.Contains(lower, "throttl"):
		return true
	case strings.Contains(lower, "too many requests") || strings.Contains(lower, "429"):
		return true
	case strings.Contains(lower, "resource_exhausted"):
		return true
	case strings.Contains(lower, "deadline exceeded") || strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		return true
	case strings.Contains(lower, "temporarily unavailable") || strings.Contains(lower, "internal error"):
		return true
	}
	return false
}

// StepError formats a failed provisioning step for DeploymentResult.Error.
func StepError(step string, err error) string {
	if err == nil {
		return step + " failed"
	}
	return fmt.Sprintf("%s: %v", step, err)
}
