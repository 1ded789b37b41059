// Package target holds the resolved, immutable description of one backup
// target. Values are produced once by the config package and passed by value
// down the pipeline; nothing mutates them during a run.
package target

import (
	"fmt"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-spool/pkg/spool"
)

// Remote is the source endpoint of a transfer.
type Remote struct {
	User string
	Host string
	Path string
}

// Spec renders the transport source argument. The trailing slash makes the
// transport copy the contents of Path rather than the directory itself.
func (r Remote) Spec() string {
	p := r.Path
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	if r.User != "" {
		return fmt.Sprintf("%s@%s:%s", r.User, r.Host, p)
	}
	return fmt.Sprintf("%s:%s", r.Host, p)
}

func (r Remote) String() string {
	return r.Spec()
}

// MountSpec describes a filesystem that must be mounted around a run.
type MountSpec struct {
	Device         string
	Mountpoint     string
	MountCommand   string
	UnmountCommand string
	// VerifyMountpoint checks after mounting that Mountpoint is on a different
	// device than its parent.
	VerifyMountpoint bool
}

// RetentionPolicy is the depth of every tier plus the calendar anchors used
// by the calendar promotion policy.
type RetentionPolicy struct {
	Daily    int
	Weekly   int
	Monthly  int
	Weekday  time.Weekday
	MonthDay int
}

// Depth returns the retention depth of a tier.
func (r RetentionPolicy) Depth(tier spool.Tier) int {
	switch tier {
	case spool.Daily:
		return r.Daily
	case spool.Weekly:
		return r.Weekly
	case spool.Monthly:
		return r.Monthly
	default:
		return 0
	}
}

// Target is one resolved backup target.
type Target struct {
	Name        string
	Remote      Remote
	Destination string
	Excludes    []string
	RsyncArgs   []string
	Mount       *MountSpec
	Retention   RetentionPolicy
}

// Layout returns the spool layout rooted at the target's destination.
func (t Target) Layout() spool.Layout {
	return spool.New(t.Destination)
}

// HasMount reports whether the target requests a mount guard.
func (t Target) HasMount() bool {
	return t.Mount != nil
}
