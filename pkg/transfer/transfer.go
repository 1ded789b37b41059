// Package transfer mirrors a remote tree into a target's current directory
// with rsync over ssh.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"time"

	"github.com/paulschiretz/pgl-spool/pkg/cmdexec"
	"github.com/paulschiretz/pgl-spool/pkg/plog"
	"github.com/paulschiretz/pgl-spool/pkg/target"
	"github.com/paulschiretz/pgl-spool/pkg/translog"
	"github.com/paulschiretz/pgl-spool/pkg/util"
)

const stderrTailBytes = 4096

// LogSettings controls the per-run transfer logs. A zero value disables them.
type LogSettings struct {
	Enabled bool
	Dir     string
	Format  translog.Format
	Keep    int
}

type Settings struct {
	Binary          string
	Options         Options
	AcceptExitCodes []int
	Logs            LogSettings
}

// Result describes a transfer that counts as successful.
type Result struct {
	ExitCode int
	Duration time.Duration
	LogPath  string
	// Warning is set when the transport exited with an accepted nonzero code.
	Warning string
}

type Executor struct {
	settings Settings
	// commandContext allows mocking os/exec for testing.
	commandContext cmdexec.CommandContextFunc
}

func NewExecutor(settings Settings, commandContext cmdexec.CommandContextFunc) *Executor {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	if settings.Binary == "" {
		settings.Binary = "rsync"
	}
	return &Executor{settings: settings, commandContext: commandContext}
}

// Transfer runs the transport for t. Any exit status other than zero or an
// accepted code yields a *TransferError; cancellation yields ctx.Err().
func (e *Executor) Transfer(ctx context.Context, t target.Target, startUTC time.Time) (Result, error) {
	log := plog.With("target", t.Name)
	args := BuildArgs(t, e.settings.Options)

	if err := os.MkdirAll(t.Layout().TargetDir(t.Name), util.UserWritableDirPerms); err != nil {
		return Result{}, &TransferError{Target: t.Name, ExitCode: -1, Err: fmt.Errorf("failed to create target directory: %w", err)}
	}

	var logSink io.Writer = io.Discard
	var logWriter *translog.Writer
	if e.settings.Logs.Enabled {
		w, err := translog.Create(e.settings.Logs.Dir, t.Name, startUTC, e.settings.Logs.Format)
		if err != nil {
			log.Warn("Could not create transfer log, continuing without it", "error", err)
		} else {
			logWriter = w
			logSink = w
		}
	}

	tail := newTailBuffer(stderrTailBytes)
	cmd := e.commandContext(ctx, e.settings.Binary, args...)
	cmdexec.Isolate(cmd)
	cmd.Stdout = logSink
	cmd.Stderr = io.MultiWriter(logSink, tail)

	log.Info("Starting transfer", "source", t.Remote.Spec(), "dry_run", e.settings.Options.DryRun)
	log.Debug("Transfer command", "command", CommandLine(e.settings.Binary, args))
	started := time.Now()
	runErr := cmd.Run()
	result := Result{Duration: time.Since(started)}

	if logWriter != nil {
		if err := logWriter.Close(); err != nil {
			log.Warn("Failed to finish transfer log", "error", err)
		}
		result.LogPath = logWriter.Path()
		if err := translog.Prune(e.settings.Logs.Dir, t.Name, e.settings.Logs.Keep); err != nil {
			log.Warn("Failed to prune transfer logs", "error", err)
		}
	}

	if runErr == nil {
		log.Info("Transfer finished", "duration", result.Duration.Round(time.Millisecond))
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return Result{}, &TransferError{Target: t.Name, ExitCode: -1, Stderr: tail.String(), Err: runErr}
	}
	result.ExitCode = exitErr.ExitCode()
	if slices.Contains(e.settings.AcceptExitCodes, result.ExitCode) {
		result.Warning = fmt.Sprintf("transport exited with accepted code %d", result.ExitCode)
		log.Warn("Transfer finished with accepted exit code", "exit_code", result.ExitCode, "stderr", tail.String())
		return result, nil
	}
	return Result{}, &TransferError{Target: t.Name, ExitCode: result.ExitCode, Stderr: tail.String(), Err: runErr}
}
