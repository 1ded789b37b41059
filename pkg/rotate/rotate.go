// Package rotate turns the current tree of a target into retained snapshot
// generations after a successful transfer.
package rotate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/paulschiretz/pgl-spool/pkg/hints"
	"github.com/paulschiretz/pgl-spool/pkg/plog"
	"github.com/paulschiretz/pgl-spool/pkg/spool"
	"github.com/paulschiretz/pgl-spool/pkg/target"
)

type Rotator struct {
	policy  Policy
	workers int
	// link is replaceable in tests.
	link LinkFunc
}

// NewRotator returns a Rotator that clones with up to workers concurrent
// hard-link operations.
func NewRotator(policy Policy, workers int) *Rotator {
	if policy == nil {
		policy = CalendarPolicy{}
	}
	return &Rotator{policy: policy, workers: workers, link: HardLink}
}

// Rotate processes the tiers monthly, weekly, daily in that order and returns
// the tiers that received a new generation 0. A failing tier does not stop
// the others; all failures are joined as *RotationError values. The current
// tree is only read.
func (r *Rotator) Rotate(ctx context.Context, t target.Target, now time.Time, runCount int) ([]spool.Tier, error) {
	var promoted []spool.Tier
	var errs []error
	for _, tier := range spool.Tiers() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		err := r.rotateTier(ctx, t, tier, now, runCount)
		switch {
		case err == nil:
			promoted = append(promoted, tier)
		case hints.IsHint(err):
			plog.Debug("Skipping tier", "target", t.Name, "tier", tier, "reason", err)
		default:
			errs = append(errs, err)
		}
	}
	return promoted, errors.Join(errs...)
}

func (r *Rotator) rotateTier(ctx context.Context, t target.Target, tier spool.Tier, now time.Time, runCount int) error {
	depth := t.Retention.Depth(tier)
	if depth <= 0 {
		return errTierDisabled
	}
	if !r.policy.ShouldPromote(tier, t.Retention, now, runCount) {
		return errNotDue
	}

	layout := t.Layout()
	fail := func(op string, err error) error {
		return &RotationError{Target: t.Name, Tier: tier, Op: op, Err: err}
	}
	log := plog.With("target", t.Name, "tier", tier)

	// Build the new generation first, so a failed clone leaves the existing
	// generations untouched.
	partial := layout.PartialPath(t.Name, tier)
	if err := removeTree(partial); err != nil {
		return fail(OpClone, fmt.Errorf("failed to remove stale partial %s: %w", partial, err))
	}
	if err := CloneTree(ctx, layout.CurrentPath(t.Name), partial, r.workers, r.link); err != nil {
		if rmErr := removeTree(partial); rmErr != nil {
			log.Warn("Failed to remove partial generation", "path", partial, "error", rmErr)
		}
		return fail(OpClone, err)
	}

	gens, err := layout.Generations(t.Name, tier)
	if err != nil {
		return fail(OpList, err)
	}
	for _, n := range gens {
		if n < depth-1 {
			continue
		}
		p := layout.GenerationPath(t.Name, tier, n)
		log.Debug("Discarding generation", "path", p)
		if err := removeTree(p); err != nil {
			return fail(OpDiscard, err)
		}
	}

	for k := depth - 2; k >= 0; k-- {
		from := layout.GenerationPath(t.Name, tier, k)
		if _, err := os.Lstat(from); os.IsNotExist(err) {
			continue
		}
		if err := os.Rename(from, layout.GenerationPath(t.Name, tier, k+1)); err != nil {
			return fail(OpShift, err)
		}
	}

	if err := os.Rename(partial, layout.GenerationPath(t.Name, tier, 0)); err != nil {
		return fail(OpPublish, err)
	}
	log.Info("Promoted current tree", "generation", spool.GenerationName(tier, 0), "depth", depth)
	return nil
}
