package toolrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Error kinds.
var (
	ErrSpawn = errors.New("tool failed to start")
	ErrExit  = errors.New("tool exited with non-zero status")
)

const stderrTail = 2048

// defaultWaitDelay bounds how long Run waits for output pipes after the tool is killed.
const defaultWaitDelay = 5 * time.Second

// Command is one child-process invocation.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Stdin io.Reader
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the captured output of a finished process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner spawns external tools.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Error describes a failed invocation.
type Error struct {
	Tool     string
	ExitCode int
	Stderr   string
	Kind     error
	Err      error
}

func (e *Error) Error() string {
	if e.Kind == ErrSpawn {
		return fmt.Sprintf("%s: %v: %v", e.Tool, e.Kind, e.Err)
	}
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger    *zap.Logger
	waitDelay time.Duration
}

// NewExecRunner creates a runner that logs each invocation at debug level.
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{logger: logger, waitDelay: defaultWaitDelay}
}

// Run starts cmd and waits for it. A non-zero exit returns the Result alongside an *Error.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdin = cmd.Stdin
	c.WaitDelay = r.waitDelay
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		r.logger.Debug("tool finished", zap.String("tool", cmd.Name), zap.Duration("duration", res.Duration))
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		r.logger.Debug("tool failed",
			zap.String("tool", cmd.Name),
			zap.Int("exit_code", res.ExitCode),
			zap.Duration("duration", res.Duration),
		)
		return res, &Error{Tool: cmd.Name, ExitCode: res.ExitCode, Stderr: tail(res.Stderr), Kind: ErrExit, Err: err}
	}
	res.ExitCode = -1
	return res, &Error{Tool: cmd.Name, ExitCode: -1, Kind: ErrSpawn, Err: err}
}

// tail keeps the last stderrTail bytes, starting on a character boundary.
// The result is always valid UTF-8 so it can be stored as an error message.
func tail(s string) string {
	if len(s) > stderrTail {
		i := len(s) - stderrTail
		for i < len(s) && !utf8.RuneStart(s[i]) {
			i++
		}
		s = s[i:]
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}
