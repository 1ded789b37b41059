// Package health evaluates the age of every target's last_run marker below a
// spool root and renders a monitoring-plugin style verdict. Evaluation is
// read-only and never descends below the immediate children of the root.
package health

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/paulschiretz/pgl-spool/pkg/spool"
)

// Default thresholds of the check command, in seconds.
const (
	DefaultWarningSeconds  = 43200
	DefaultCriticalSeconds = 86400
)

const (
	ReasonNoBackup          = "NO BACKUP"
	ReasonUnreadableMarker  = "UNREADABLE MARKER"
	timestampLayout         = time.DateTime
	noTargetsSummaryMessage = "No backup targets found."
)

// Status is a verdict in monitoring-plugin terms.
type Status int

const (
	OK Status = iota
	Warning
	Critical
	Unknown
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case Warning:
		return "WARNING"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ExitCode is the plugin exit status: 0 OK, 1 WARNING, 2 CRITICAL, 3 UNKNOWN.
func (s Status) ExitCode() int {
	return int(s)
}

// TargetVerdict is the classification of one target.
type TargetVerdict struct {
	Name    string
	Status  Status
	Reason  string
	LastRun time.Time
	Age     time.Duration
}

// Verdict is the aggregate result of one evaluation.
type Verdict struct {
	Status  Status
	Targets []TargetVerdict
	Now     time.Time
	// Err is set when the spool root itself could not be listed.
	Err error
}

// Evaluate classifies every target below root. now is only used to compute
// ages and to pick the time zone of reported timestamps.
func Evaluate(root string, warningAge, criticalAge time.Duration, now time.Time) Verdict {
	layout := spool.New(root)
	names, err := layout.ListTargets()
	if err != nil {
		return Verdict{Status: Unknown, Now: now, Err: err}
	}

	v := Verdict{Status: OK, Now: now}
	if len(names) == 0 {
		v.Status = Unknown
		return v
	}

	for _, name := range names {
		tv := EvaluateTarget(layout, name, warningAge, criticalAge, now)
		v.Targets = append(v.Targets, tv)
		if tv.Status > v.Status {
			v.Status = tv.Status
		}
	}
	return v
}

// EvaluateTarget classifies a single target of layout.
func EvaluateTarget(layout spool.Layout, name string, warningAge, criticalAge time.Duration, now time.Time) TargetVerdict {
	tv := TargetVerdict{Name: name}
	info, err := os.Stat(layout.MarkerPath(name))
	switch {
	case os.IsNotExist(err):
		tv.Status = Critical
		tv.Reason = ReasonNoBackup
		return tv
	case err != nil:
		tv.Status = Critical
		tv.Reason = ReasonUnreadableMarker
		return tv
	}

	tv.LastRun = info.ModTime()
	tv.Age = now.Sub(tv.LastRun)
	switch {
	case tv.Age >= criticalAge:
		tv.Status = Critical
	case tv.Age >= warningAge:
		tv.Status = Warning
	default:
		tv.Status = OK
	}
	tv.Reason = tv.LastRun.In(now.Location()).Format(timestampLayout)
	return tv
}

// Summary is the first line of the report.
func (v Verdict) Summary() string {
	if v.Err != nil {
		return fmt.Sprintf("%s - cannot read spool: %v", Unknown, v.Err)
	}
	if len(v.Targets) == 0 {
		return fmt.Sprintf("%s - %s", Unknown, noTargetsSummaryMessage)
	}
	n := len(v.InState(v.Status))
	switch v.Status {
	case Critical:
		return fmt.Sprintf("%s - %d of %d backup targets critical", v.Status, n, len(v.Targets))
	case Warning:
		return fmt.Sprintf("%s - %d of %d backup targets outdated", v.Status, n, len(v.Targets))
	default:
		return fmt.Sprintf("%s - all %d backup targets up to date", v.Status, len(v.Targets))
	}
}

// InState returns the targets classified as s.
func (v Verdict) InState(s Status) []TargetVerdict {
	var out []TargetVerdict
	for _, tv := range v.Targets {
		if tv.Status == s {
			out = append(out, tv)
		}
	}
	return out
}

// Report renders the summary line followed by one "name: reason" line for
// every target in the dominant state. A CRITICAL report does not list
// WARNING targets; an OK report has no detail lines.
func (v Verdict) Report() string {
	lines := []string{v.Summary()}
	if v.Status == Critical || v.Status == Warning {
		for _, tv := range v.InState(v.Status) {
			lines = append(lines, tv.Name+": "+v.describe(tv))
		}
	}
	return strings.Join(lines, "\n")
}

func (v Verdict) describe(tv TargetVerdict) string {
	if tv.LastRun.IsZero() {
		return tv.Reason
	}
	return fmt.Sprintf("%s (%s)", tv.Reason, humanize.RelTime(tv.LastRun, v.Now, "ago", "from now"))
}
