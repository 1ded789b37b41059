package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-spool/pkg/health"
)

func newCheckCommand(stdout io.Writer) *cobra.Command {
	var (
		dir      string
		warning  int
		critical int
	)
	c := &cobra.Command{
		Use:   "check",
		Short: "Report the freshness of every target below a spool root (monitoring plugin)",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.NoArgs(cmd, args); err != nil {
				return checkUsageError(stdout, err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				return checkUsageError(stdout, errors.New("the --dir flag is required"))
			}
			if warning < 0 || critical < 0 {
				return checkUsageError(stdout, errors.New("thresholds cannot be negative"))
			}
			code := RunCheck(stdout, dir, seconds(warning), seconds(critical), clock.WallClock.Now())
			if code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}
	c.Flags().StringVar(&dir, "dir", "", "Spool root to inspect (required).")
	c.Flags().IntVar(&warning, "warning", health.DefaultWarningSeconds, "Age in seconds at which a target is WARNING.")
	c.Flags().IntVar(&critical, "critical", health.DefaultCriticalSeconds, "Age in seconds at which a target is CRITICAL.")
	c.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return checkUsageError(stdout, err)
	})
	return c
}

// checkUsageError reports a usage problem the way a monitoring plugin must:
// one UNKNOWN line on stdout and exit status 3, whichever binary was called.
func checkUsageError(stdout io.Writer, err error) error {
	fmt.Fprintf(stdout, "%s - %v\n", health.Unknown, err)
	return &ExitError{Code: health.Unknown.ExitCode()}
}

// RunCheck evaluates root, prints the report and returns the plugin exit
// status.
func RunCheck(stdout io.Writer, root string, warningAge, criticalAge time.Duration, now time.Time) int {
	v := health.Evaluate(root, warningAge, criticalAge, now)
	fmt.Fprintln(stdout, v.Report())
	return v.Status.ExitCode()
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
