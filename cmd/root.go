// Package cmd wires the pkg components into the pgl-spool command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-spool/pkg/buildinfo"
	"github.com/paulschiretz/pgl-spool/pkg/plog"
)

// ExitError makes a command terminate with a specific exit status. Err may be
// nil when the output already says everything.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewRootCommand returns the pgl-spool command tree.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "pgl-spool",
		Short:         "Pull remote hosts into a local rsync spool with rotated hard-link snapshots",
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	root.PersistentFlags().String("log-file", "", "Also write the log to this file (rotated).")

	root.AddCommand(
		newBackupCommand(),
		newCheckCommand(stdout),
		newStatusCommand(stdout),
		newInitCommand(),
		newVersionCommand(stdout),
	)
	return root
}

// NewCheckRootCommand returns the standalone check_spool command, which is the
// check subcommand promoted to the root.
func NewCheckRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := newCheckCommand(stdout)
	root.Use = "check_spool"
	root.Version = buildinfo.Version
	root.SilenceUsage = true
	root.SilenceErrors = true
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root
}

// Execute runs root and returns the process exit status. Errors that carry no
// explicit status map to failureCode.
func Execute(ctx context.Context, root *cobra.Command, failureCode int) int {
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			plog.Error(buildinfo.Name+" exited with error", "error", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	return failureCode
}

// setFlags collects the explicitly set flags of cmd (including inherited
// persistent flags) into the map consumed by config.MergeFlags.
func setFlags(cmd *cobra.Command) map[string]any {
	flagMap := make(map[string]any)
	flags := cmd.Flags()

	addString := func(name string) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			v, _ := flags.GetString(name)
			flagMap[name] = v
		}
	}
	addBool := func(name string) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			v, _ := flags.GetBool(name)
			flagMap[name] = v
		}
	}
	addInt := func(name string) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			v, _ := flags.GetInt(name)
			flagMap[name] = v
		}
	}
	addStrings := func(name string) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			v, _ := flags.GetStringArray(name)
			flagMap[name] = v
		}
	}

	addString("config")
	addString("log-level")
	addString("log-file")
	addString("spool")
	addString("metrics-textfile")
	addBool("dry-run")
	addBool("force")
	addInt("parallel")
	addStrings("target")
	return flagMap
}

// applyLogging sets the global log level and, if configured, the file sink.
func applyLogging(level, file string) {
	plog.SetLevel(plog.LevelFromString(level))
	if file != "" {
		plog.SetFile(file, 50, 5)
	}
}
