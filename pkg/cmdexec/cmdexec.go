// Package cmdexec runs shell command lines such as mount and unmount commands
// and isolates subprocesses in their own process group.
package cmdexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-spool/pkg/plog"
)

// killGrace is how long a canceled command may take to exit after SIGTERM
// before its pipes are closed and Wait returns.
const killGrace = 5 * time.Second

// CommandContextFunc matches exec.CommandContext and can be replaced in tests.
type CommandContextFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

// CommandError is returned when a command ran but did not exit cleanly.
type CommandError struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("command %q failed (exit %d): %s", e.Command, e.ExitCode, e.Output)
	}
	return fmt.Sprintf("command %q failed (exit %d): %v", e.Command, e.ExitCode, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

type Runner struct {
	// commandContext allows mocking os/exec for testing.
	commandContext CommandContextFunc
}

// NewRunner returns a Runner. A nil commandContext uses exec.CommandContext.
func NewRunner(commandContext CommandContextFunc) *Runner {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &Runner{commandContext: commandContext}
}

// Run executes command through the shell and returns its combined output,
// trimmed. Cancellation of ctx terminates the whole process group.
func (r *Runner) Run(ctx context.Context, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", errors.New("empty command")
	}

	var out bytes.Buffer
	cmd := r.createCommand(ctx, command)
	cmd.Stdout = &out
	cmd.Stderr = &out

	plog.Debug("Executing command", "command", command)
	err := cmd.Run()
	output := strings.TrimSpace(out.String())
	if err == nil {
		return output, nil
	}

	// A canceled context makes Wait return a kill error; report the cancellation instead.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return output, ctxErr
	}
	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	return output, &CommandError{Command: command, ExitCode: exitCode, Output: output, Err: err}
}
