package rotate

import (
	"fmt"

	"github.com/paulschiretz/pgl-spool/pkg/hints"
	"github.com/paulschiretz/pgl-spool/pkg/spool"
)

// Rotation step names reported in RotationError.Op.
const (
	OpList    = "list"
	OpClone   = "clone"
	OpDiscard = "discard"
	OpShift   = "shift"
	OpPublish = "publish"
)

var (
	errTierDisabled = hints.New("tier disabled")
	errNotDue       = hints.New("promotion not due")
)

type RotationError struct {
	Target string
	Tier   spool.Tier
	Op     string
	Err    error
}

func (e *RotationError) Error() string {
	return fmt.Sprintf("rotation of %s tier for target %s failed during %s: %v", e.Tier, e.Target, e.Op, e.Err)
}

func (e *RotationError) Unwrap() error { return e.Err }
