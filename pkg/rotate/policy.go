package rotate

import (
	"time"

	"github.com/paulschiretz/pgl-spool/pkg/spool"
	"github.com/paulschiretz/pgl-spool/pkg/target"
)

// Policy decides whether a tier receives a new generation in this run.
// runCount is the number of this run, counting every successful run of the
// target including this one.
type Policy interface {
	ShouldPromote(tier spool.Tier, r target.RetentionPolicy, now time.Time, runCount int) bool
}

// CalendarPolicy promotes daily on every run, weekly on the configured
// weekday and monthly on the configured day of the month. A month day past
// the end of a short month falls on that month's last day.
type CalendarPolicy struct{}

func (CalendarPolicy) ShouldPromote(tier spool.Tier, r target.RetentionPolicy, now time.Time, _ int) bool {
	switch tier {
	case spool.Daily:
		return true
	case spool.Weekly:
		return now.Weekday() == r.Weekday
	case spool.Monthly:
		day := r.MonthDay
		if day < 1 {
			day = 1
		}
		if last := lastDayOfMonth(now); day > last {
			day = last
		}
		return now.Day() == day
	default:
		return false
	}
}

func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// RunCountPolicy promotes daily on every run, weekly every WeeklyEvery runs
// and monthly every MonthlyEvery runs.
type RunCountPolicy struct {
	WeeklyEvery  int
	MonthlyEvery int
}

func (p RunCountPolicy) ShouldPromote(tier spool.Tier, _ target.RetentionPolicy, _ time.Time, runCount int) bool {
	switch tier {
	case spool.Daily:
		return true
	case spool.Weekly:
		return every(runCount, p.WeeklyEvery)
	case spool.Monthly:
		return every(runCount, p.MonthlyEvery)
	default:
		return false
	}
}

func every(runCount, n int) bool {
	return n > 0 && runCount > 0 && runCount%n == 0
}
