// Package orchestrator runs the per-target backup pipeline:
//
//	mount -> lock -> transfer -> rotate -> record -> unlock -> unmount
//
// A target is successful only when every step up to and including record
// succeeded. The marker is written last, so any earlier failure leaves the
// previous marker in place and the health check keeps reporting its age.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-spool/pkg/lockfile"
	"github.com/paulschiretz/pgl-spool/pkg/metrics"
	"github.com/paulschiretz/pgl-spool/pkg/mount"
	"github.com/paulschiretz/pgl-spool/pkg/plog"
	"github.com/paulschiretz/pgl-spool/pkg/spool"
	"github.com/paulschiretz/pgl-spool/pkg/target"
	"github.com/paulschiretz/pgl-spool/pkg/transfer"
	"github.com/paulschiretz/pgl-spool/pkg/util"
)

type Mounter interface {
	Acquire(ctx context.Context, t target.Target) (mount.ReleaseFunc, error)
}

// Locker returns an unlock func on success.
type Locker interface {
	Lock(ctx context.Context, dir, targetName, runID string) (func() error, error)
}

type Transferer interface {
	Transfer(ctx context.Context, t target.Target, startUTC time.Time) (transfer.Result, error)
}

type Rotator interface {
	Rotate(ctx context.Context, t target.Target, now time.Time, runCount int) ([]spool.Tier, error)
}

type Recorder interface {
	RecordSuccess(t target.Target, now time.Time, runID string, runCount int) error
	LastRunCount(t target.Target) int
	LastSuccess(t target.Target) (time.Time, bool)
}

// FileLocker adapts a lockfile.Locker.
type FileLocker struct {
	Locker *lockfile.Locker
}

func (f FileLocker) Lock(ctx context.Context, dir, targetName, runID string) (func() error, error) {
	lock, err := f.Locker.Acquire(ctx, dir, targetName, runID)
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}

type Options struct {
	DryRun   bool
	Parallel int
}

type Runner struct {
	clock      clock.Clock
	mounter    Mounter
	locker     Locker
	transferer Transferer
	rotator    Rotator
	recorder   Recorder
	metrics    metrics.Metrics
	opts       Options
}

func NewRunner(clk clock.Clock, mounter Mounter, locker Locker, transferer Transferer, rotator Rotator, recorder Recorder, m metrics.Metrics, opts Options) *Runner {
	if clk == nil {
		clk = clock.WallClock
	}
	if m == nil {
		m = metrics.NoopMetrics{}
	}
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	return &Runner{
		clock:      clk,
		mounter:    mounter,
		locker:     locker,
		transferer: transferer,
		rotator:    rotator,
		recorder:   recorder,
		metrics:    m,
		opts:       opts,
	}
}

// RunAll runs every target and returns one result per target in the order
// given. now is the pass start time used for promotion decisions. A failure
// of one target never stops the others.
func (r *Runner) RunAll(ctx context.Context, targets []target.Target, now time.Time) []Result {
	results := make([]Result, len(targets))

	g := new(errgroup.Group)
	g.SetLimit(r.opts.Parallel)
	for i, t := range targets {
		g.Go(func() error {
			results[i] = r.RunTarget(ctx, t, now)
			return nil
		})
	}
	_ = g.Wait()

	if err := r.metrics.Flush(); err != nil {
		plog.Warn("Failed to publish metrics", "error", err)
	}
	return results
}

// RunTarget runs the pipeline for a single target.
func (r *Runner) RunTarget(ctx context.Context, t target.Target, now time.Time) (res Result) {
	res = Result{
		Target:  t.Name,
		RunID:   uuid.NewString(),
		Started: r.clock.Now(),
		DryRun:  r.opts.DryRun,
	}
	log := plog.With("target", t.Name, "run_id", res.RunID)

	// Registered first so it runs after every other deferred step, including
	// the mount release.
	defer func() {
		if p := recover(); p != nil {
			res.Kind = InternalError
			res.Err = fmt.Errorf("panic during run: %v", p)
		}
		res.Finished = r.clock.Now()
		r.report(log, t, res)
	}()

	fail := func(err error, stage Kind) Result {
		res.Kind = classify(err, stage)
		res.Err = err
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(err, Canceled)
	}

	release, err := r.mounter.Acquire(ctx, t)
	if err != nil {
		return fail(err, MountError)
	}
	defer func() {
		if err := release(); err != nil {
			log.Warn("Unmount failed", "error", err)
			res.Warnings = append(res.Warnings, err)
		}
	}()

	layout := t.Layout()
	if err := os.MkdirAll(layout.TargetDir(t.Name), util.UserWritableDirPerms); err != nil {
		return fail(fmt.Errorf("failed to create target directory: %w", err), LockError)
	}
	unlock, err := r.locker.Lock(ctx, layout.TargetDir(t.Name), t.Name, res.RunID)
	if err != nil {
		return fail(err, LockError)
	}
	defer func() {
		if err := unlock(); err != nil {
			log.Warn("Failed to release lock", "error", err)
			res.Warnings = append(res.Warnings, err)
		}
	}()

	tr, err := r.transferer.Transfer(ctx, t, now.UTC())
	res.LogPath = tr.LogPath
	if err != nil {
		return fail(err, TransferError)
	}
	if tr.Warning != "" {
		res.Warnings = append(res.Warnings, errors.New(tr.Warning))
	}

	if r.opts.DryRun {
		log.Info("[DRY RUN] Skipping rotation and marker")
		res.Kind = Success
		return res
	}

	runCount := r.recorder.LastRunCount(t) + 1
	promoted, err := r.rotator.Rotate(ctx, t, now, runCount)
	res.Promoted = promoted
	if err != nil {
		return fail(err, RotationError)
	}

	if err := r.recorder.RecordSuccess(t, r.clock.Now(), res.RunID, runCount); err != nil {
		return fail(err, RecorderError)
	}
	res.Kind = Success
	return res
}

func (r *Runner) report(log *slog.Logger, t target.Target, res Result) {
	if res.OK() {
		log.Info("Backup finished", "result", res.Kind, "duration", res.Duration().Round(time.Millisecond), "promoted", res.Promoted, "warnings", len(res.Warnings))
	} else {
		log.Error("Backup failed", "result", res.Kind, "error", res.Err, "duration", res.Duration().Round(time.Millisecond))
	}

	sample := metrics.TargetSample{
		Target:      t.Name,
		Result:      res.Kind.String(),
		Success:     res.OK(),
		Duration:    res.Duration(),
		Generations: make(map[spool.Tier]int),
	}
	if last, ok := r.recorder.LastSuccess(t); ok {
		sample.LastSuccess = last
	}
	layout := t.Layout()
	for _, tier := range spool.Tiers() {
		if gens, err := layout.Generations(t.Name, tier); err == nil {
			sample.Generations[tier] = len(gens)
		}
	}
	r.metrics.Observe(sample)
}
