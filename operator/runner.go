package operator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
	"unicode/utf8"
)

// Subcommands understood by the proving tool.
const (
	SubcommandProve  = "prove"
	SubcommandVerify = "verify"
)

// invalidOutput replaces tool output that is not valid UTF-8.
const invalidOutput = "Error"

// Output is what a finished tool invocation produced. A non-zero ExitCode is
// not an error: the tool reports success through its text output.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Text decodes Stdout for the client. Output that is not valid UTF-8 is
// replaced by a fixed placeholder rather than failing the request.
func (o *Output) Text() string {
	if !utf8.Valid(o.Stdout) {
		return invalidOutput
	}
	return string(o.Stdout)
}

// Runner executes the external proving tool.
type Runner interface {
	// Run invokes binary with subcommand and args and waits for it to exit.
	// It returns an error only when the process could not be launched or ctx
	// ended before it finished.
	Run(ctx context.Context, binary, subcommand string, args ...string) (*Output, error)
}

// ExecRunner runs the tool as a child process. The process is killed when ctx
// is cancelled. Output is left to the caller to log.
type ExecRunner struct {
	Log *slog.Logger
	// WaitDelay bounds how long Run waits for output pipes after the process
	// is killed.
	WaitDelay time.Duration
}

// NewExecRunner returns a runner logging through log.
func NewExecRunner(log *slog.Logger) *ExecRunner {
	return &ExecRunner{Log: log, WaitDelay: 5 * time.Second}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, binary, subcommand string, args ...string) (*Output, error) {
	command := exec.CommandContext(ctx, binary, append([]string{subcommand}, args...)...)
	command.WaitDelay = r.WaitDelay

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if r.Log != nil {
		r.Log.Debug("Running tool", "binary", binary, "subcommand", subcommand, "args", args)
	}

	start := time.Now()
	err := command.Run()
	out := &Output{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: command.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%s %s interrupted: %w", binary, subcommand, ctxErr)
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("launching %s %s: %w", binary, subcommand, err)
	}

	return out, nil
}
