//go:build !windows

package cmdexec

import (
	"context"
	"os/exec"

	"golang.org/x/sys/unix"
)

// createCommand wraps command in /bin/sh.
func (r *Runner) createCommand(ctx context.Context, command string) *exec.Cmd {
	cmd := r.commandContext(ctx, "/bin/sh", "-c", command)
	Isolate(cmd)
	return cmd
}

// Isolate puts cmd into its own process group and makes context cancellation
// send SIGTERM to the whole group, so children of a shell or of ssh are
// terminated too. Call it before Start.
func Isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
	}
	cmd.WaitDelay = killGrace
}
