// Package executor defines the Test Executor contract SHDE consumes as a
// black box and a default subprocess-based implementation: CommandContext,
// pipe std streams, classify *exec.ExitError, the same shape an editor
// launcher would use, applied here to running a test suite and capturing
// its output.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Result is the black-box outcome of one executor invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Combined returns stdout and stderr concatenated, the shape the Failure
// Parser (C1) consumes.
func (r Result) Combined() string {
	return r.Stdout + "\n" + r.Stderr
}

// Executor is the Test Executor contract: invoked with an optional set of
// target files (restricting a re-run to just the files implicated by one
// failure's signature) and returning a structured Result. A timeout is
// treated by the Debug Loop Controller as APPLIED_AND_FAILED for the
// current patch.
type Executor interface {
	Run(ctx context.Context, targets []string) (Result, error)
}

var _ Executor = (*Command)(nil)

// ErrTimeout is returned by Command when the subprocess is killed for
// exceeding its timeout.
var ErrTimeout = errors.New("executor: command timed out")

// Command runs an arbitrary test-runner command line as the default
// Executor implementation. Args is the base command (e.g. ["pytest"]);
// targets, if non-empty, are appended verbatim so the runner can restrict
// itself to specific files when it supports that, falling back to a full
// run otherwise.
type Command struct {
	Dir     string
	Args    []string
	Timeout time.Duration
}

// NewCommand constructs a Command executor. A zero timeout means no
// per-invocation deadline beyond ctx's own.
func NewCommand(dir string, args []string, timeout time.Duration) *Command {
	return &Command{Dir: dir, Args: args, Timeout: timeout}
}

// Run implements Executor.
func (c *Command) Run(ctx context.Context, targets []string) (Result, error) {
	if len(c.Args) == 0 {
		return Result{}, errors.New("executor: no command configured")
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, c.Args[1:]...), targets...)
	cmd := exec.CommandContext(ctx, c.Args[0], args...)
	cmd.Dir = c.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result, ErrTimeout
	}

	if runErr == nil {
		result.ExitCode = 0
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	return result, fmt.Errorf("executor: run %q: %w", c.Args[0], runErr)
}
