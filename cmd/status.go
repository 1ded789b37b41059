package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-spool/pkg/config"
	"github.com/paulschiretz/pgl-spool/pkg/health"
	"github.com/paulschiretz/pgl-spool/pkg/spool"
)

func newStatusCommand(stdout io.Writer) *cobra.Command {
	c := &cobra.Command{
		Use:   "status",
		Short: "Show last run, age and snapshot generations of every configured target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return RunStatus(stdout, setFlags(cmd), clock.WallClock.Now())
		},
	}
	c.Flags().String("config", "", "Path to the config file (.yaml, .yml or .json).")
	c.Flags().StringArray("target", nil, "Only show this target. Can be repeated.")
	_ = c.MarkFlagRequired("config")
	return c
}

// RunStatus prints one table row per configured target. It reads the spool
// only; targets that were never backed up show "never".
func RunStatus(stdout io.Writer, flagMap map[string]any, now time.Time) error {
	configPath, ok := flagMap["config"].(string)
	if !ok || configPath == "" {
		return fmt.Errorf("the --config flag is required for status")
	}
	loadedConfig, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	runConfig := config.MergeFlags(loadedConfig, flagMap)
	applyLogging(runConfig.LogLevel, "")

	targets, err := runConfig.ResolveTargets()
	if err != nil {
		return err
	}

	table := uitable.New()
	table.MaxColWidth = 40
	header := []any{"TARGET", "LAST RUN", "AGE"}
	for _, tier := range spool.Tiers() {
		header = append(header, tier.String())
	}
	header = append(header, "STATUS")
	table.AddRow(header...)

	for _, t := range targets {
		layout := t.Layout()
		tv := health.EvaluateTarget(layout, t.Name, seconds(health.DefaultWarningSeconds), seconds(health.DefaultCriticalSeconds), now)

		lastRun, age := "never", "-"
		if !tv.LastRun.IsZero() {
			lastRun = tv.LastRun.In(now.Location()).Format(time.DateTime)
			age = humanize.RelTime(tv.LastRun, now, "ago", "from now")
		}
		row := []any{t.Name, lastRun, age}
		for _, tier := range spool.Tiers() {
			gens, err := layout.Generations(t.Name, tier)
			if err != nil {
				row = append(row, "?")
				continue
			}
			row = append(row, strconv.Itoa(len(gens))+"/"+strconv.Itoa(t.Retention.Depth(tier)))
		}
		row = append(row, tv.Status.String())
		table.AddRow(row...)
	}

	_, err = fmt.Fprintln(stdout, table)
	return err
}
