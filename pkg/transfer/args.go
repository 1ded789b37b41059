package transfer

import (
	"strconv"
	"strings"

	"github.com/paulschiretz/pgl-spool/pkg/target"
)

// baseArgs preserve hard links, numeric ownership and deletions of the remote
// tree in current.
var baseArgs = []string{
	"--archive",
	"--hard-links",
	"--numeric-ids",
	"--delete",
	"--delete-excluded",
	"--compress",
}

// Options are the transport settings shared by all targets.
type Options struct {
	SSHCommand     string
	TimeoutSeconds int
	ExtraArgs      []string
	DryRun         bool
}

// BuildArgs returns the transport argument list for one target. The result
// only depends on t, opts and which snapshot generations exist on disk.
func BuildArgs(t target.Target, opts Options) []string {
	layout := t.Layout()
	args := append([]string{}, baseArgs...)

	if opts.DryRun {
		args = append(args, "--dry-run")
	}
	if opts.SSHCommand != "" {
		args = append(args, "-e", opts.SSHCommand)
	}
	if opts.TimeoutSeconds > 0 {
		args = append(args, "--timeout="+strconv.Itoa(opts.TimeoutSeconds))
	}
	args = append(args, opts.ExtraArgs...)
	args = append(args, t.RsyncArgs...)

	for _, pattern := range t.Excludes {
		args = append(args, "--exclude="+pattern)
	}

	// Unchanged files are hard-linked against the newest snapshot, but only
	// once a previous transfer has produced a current tree.
	if layout.HasCurrent(t.Name) {
		if ref, ok := layout.NewestSnapshot(t.Name); ok {
			args = append(args, "--link-dest="+ref)
		}
	}

	args = append(args, t.Remote.Spec(), layout.CurrentPath(t.Name)+"/")
	return args
}

// CommandLine renders args for logging.
func CommandLine(binary string, args []string) string {
	line := binary
	for _, a := range args {
		if strings.ContainsAny(a, " \t\"'") {
			a = strconv.Quote(a)
		}
		line += " " + a
	}
	return line
}
