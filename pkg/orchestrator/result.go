package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/paulschiretz/pgl-spool/pkg/lockfile"
	"github.com/paulschiretz/pgl-spool/pkg/marker"
	"github.com/paulschiretz/pgl-spool/pkg/mount"
	"github.com/paulschiretz/pgl-spool/pkg/rotate"
	"github.com/paulschiretz/pgl-spool/pkg/spool"
	"github.com/paulschiretz/pgl-spool/pkg/transfer"
)

// Kind classifies the outcome of one target run.
type Kind int

const (
	Success Kind = iota
	MountError
	LockError
	TransferError
	RotationError
	RecorderError
	Canceled
	InternalError
)

var kindNames = map[Kind]string{
	Success:       "success",
	MountError:    "mount_error",
	LockError:     "lock_error",
	TransferError: "transfer_error",
	RotationError: "rotation_error",
	RecorderError: "recorder_error",
	Canceled:      "canceled",
	InternalError: "internal_error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Result is the outcome of one target in one pass.
type Result struct {
	Target   string
	RunID    string
	Kind     Kind
	Err      error
	Warnings []error
	Started  time.Time
	Finished time.Time
	DryRun   bool
	Promoted []spool.Tier
	LogPath  string
}

func (r Result) OK() bool { return r.Kind == Success }

func (r Result) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// AnyFailed reports whether at least one result is not a success.
func AnyFailed(results []Result) bool {
	for _, r := range results {
		if !r.OK() {
			return true
		}
	}
	return false
}

// classify maps an error to a Kind. Errors without a known type get the
// kind of the stage that produced them.
func classify(err error, stage Kind) Kind {
	var (
		mountErr    *mount.MountError
		lockErr     *lockfile.ErrLockActive
		transferErr *transfer.TransferError
		rotationErr *rotate.RotationError
		recorderErr *marker.RecorderError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Canceled
	case errors.As(err, &mountErr):
		return MountError
	case errors.As(err, &lockErr):
		return LockError
	case errors.As(err, &transferErr):
		return TransferError
	case errors.As(err, &rotationErr):
		return RotationError
	case errors.As(err, &recorderErr):
		return RecorderError
	default:
		return stage
	}
}
