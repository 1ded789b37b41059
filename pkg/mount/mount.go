// Package mount brackets a backup run with the mount and unmount commands of
// its target. Once Acquire has returned successfully, the returned release
// func must be called on every exit path; it unmounts at most once, and only
// after every target sharing the mountpoint has released it.
package mount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/paulschiretz/pgl-spool/pkg/plog"
	"github.com/paulschiretz/pgl-spool/pkg/target"
	"github.com/paulschiretz/pgl-spool/pkg/util"
)

// CommandRunner executes a shell command line.
type CommandRunner interface {
	Run(ctx context.Context, command string) (string, error)
}

// ReleaseFunc undoes a successful Acquire.
type ReleaseFunc func() error

func noopRelease() error { return nil }

// Guard mounts filesystems for targets. Targets that share a mountpoint share
// one mount: the first Acquire mounts, the last release unmounts.
type Guard struct {
	runner CommandRunner
	// isMountPoint is replaceable in tests.
	isMountPoint func(path string) (bool, error)

	// mu serializes mount and unmount commands and guards held.
	mu   sync.Mutex
	held map[string]*hold
}

// hold is a live mount and the number of unreleased acquisitions of it.
type hold struct {
	refs           int
	owner          string
	mountCommand   string
	unmountCommand string
}

func NewGuard(runner CommandRunner) *Guard {
	return &Guard{
		runner:       runner,
		isMountPoint: IsMountPoint,
		held:         make(map[string]*hold),
	}
}

// Acquire mounts the target's filesystem if it declares one. If another
// target already holds the same mountpoint, the existing mount is reused. On
// error nothing is left mounted and no release is needed.
func (g *Guard) Acquire(ctx context.Context, t target.Target) (ReleaseFunc, error) {
	if !t.HasMount() {
		return noopRelease, nil
	}
	spec := t.Mount
	log := plog.With("target", t.Name, "mountpoint", spec.Mountpoint)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if h, ok := g.held[spec.Mountpoint]; ok {
		h.refs++
		if h.mountCommand != spec.MountCommand {
			log.Warn("Mountpoint is shared with a different mount command, reusing the existing mount", "mountedBy", h.owner)
		}
		log.Info("Reusing mounted filesystem", "mountedBy", h.owner, "holders", h.refs)
		return g.releaseFunc(ctx, t.Name, spec.Mountpoint, log), nil
	}

	if err := os.MkdirAll(spec.Mountpoint, util.UserWritableDirPerms); err != nil {
		return nil, &MountError{Target: t.Name, Mountpoint: spec.Mountpoint, Err: fmt.Errorf("failed to create mountpoint: %w", err)}
	}

	log.Info("Mounting filesystem", "command", spec.MountCommand)
	if _, err := g.runner.Run(ctx, spec.MountCommand); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &MountError{Target: t.Name, Mountpoint: spec.Mountpoint, Err: err}
	}

	if spec.VerifyMountpoint {
		mounted, err := g.isMountPoint(spec.Mountpoint)
		if err == nil && !mounted {
			err = fmt.Errorf("%s is not a mount point after the mount command succeeded", spec.Mountpoint)
		}
		if err != nil {
			if uerr := g.unmount(ctx, t.Name, spec.Mountpoint, spec.UnmountCommand, log); uerr != nil {
				log.Warn("Unmount after failed verification also failed", "error", uerr)
			}
			return nil, &MountError{Target: t.Name, Mountpoint: spec.Mountpoint, Err: err}
		}
	}

	g.held[spec.Mountpoint] = &hold{
		refs:           1,
		owner:          t.Name,
		mountCommand:   spec.MountCommand,
		unmountCommand: spec.UnmountCommand,
	}
	return g.releaseFunc(ctx, t.Name, spec.Mountpoint, log), nil
}

// releaseFunc drops one acquisition of mountpoint and unmounts when it was
// the last one. Calling it again is a no-op that returns the first result.
func (g *Guard) releaseFunc(ctx context.Context, name, mountpoint string, log *slog.Logger) ReleaseFunc {
	var once sync.Once
	var releaseErr error
	return func() error {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()

			h, ok := g.held[mountpoint]
			if !ok {
				return
			}
			h.refs--
			if h.refs > 0 {
				log.Info("Leaving filesystem mounted for other targets", "holders", h.refs)
				return
			}
			delete(g.held, mountpoint)
			releaseErr = g.unmount(ctx, name, mountpoint, h.unmountCommand, log)
		})
		return releaseErr
	}
}

// unmount runs command even when ctx was canceled. Callers hold g.mu.
func (g *Guard) unmount(ctx context.Context, name, mountpoint, command string, log *slog.Logger) error {
	log.Info("Unmounting filesystem", "command", command)
	if _, err := g.runner.Run(context.WithoutCancel(ctx), command); err != nil {
		return &UnmountWarning{Target: name, Mountpoint: mountpoint, Err: err}
	}
	return nil
}
