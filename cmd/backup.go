package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-spool/pkg/buildinfo"
	"github.com/paulschiretz/pgl-spool/pkg/cmdexec"
	"github.com/paulschiretz/pgl-spool/pkg/config"
	"github.com/paulschiretz/pgl-spool/pkg/lockfile"
	"github.com/paulschiretz/pgl-spool/pkg/marker"
	"github.com/paulschiretz/pgl-spool/pkg/metrics"
	"github.com/paulschiretz/pgl-spool/pkg/mount"
	"github.com/paulschiretz/pgl-spool/pkg/orchestrator"
	"github.com/paulschiretz/pgl-spool/pkg/plog"
	"github.com/paulschiretz/pgl-spool/pkg/rotate"
	"github.com/paulschiretz/pgl-spool/pkg/transfer"
	"github.com/paulschiretz/pgl-spool/pkg/translog"
)

func newBackupCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "backup",
		Short: "Pull every configured target and rotate its snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return RunBackup(cmd.Context(), setFlags(cmd))
		},
	}
	c.Flags().String("config", "", "Path to the config file (.yaml, .yml or .json).")
	c.Flags().StringArray("target", nil, "Only back up this target. Can be repeated.")
	c.Flags().Bool("dry-run", false, "Run the transport in dry-run mode and skip rotation and marker.")
	c.Flags().Int("parallel", 1, "Number of targets processed concurrently.")
	c.Flags().String("spool", "", "Override the global spool root.")
	c.Flags().String("metrics-textfile", "", "Write Prometheus metrics to this .prom file.")
	_ = c.MarkFlagRequired("config")
	return c
}

// RunBackup handles the logic for the main backup execution. It returns an
// *ExitError with status 1 if any target failed.
func RunBackup(ctx context.Context, flagMap map[string]any) error {
	configPath, ok := flagMap["config"].(string)
	if !ok || configPath == "" {
		return fmt.Errorf("the --config flag is required to run a backup")
	}

	loadedConfig, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Merge the flag values over the loaded config to get the final run config.
	runConfig := config.MergeFlags(loadedConfig, flagMap)
	if err := runConfig.Validate(); err != nil {
		return err
	}
	applyLogging(runConfig.LogLevel, runConfig.LogFile)
	defer plog.Close()

	targets, err := runConfig.ResolveTargets()
	if err != nil {
		return err
	}
	runConfig.LogSummary()

	runner, err := newOrchestrator(runConfig, clock.WallClock)
	if err != nil {
		return err
	}

	startTime := time.Now()
	results := runner.RunAll(ctx, targets, startTime)
	duration := time.Since(startTime).Round(time.Millisecond)

	failed := 0
	for _, res := range results {
		if !res.OK() {
			failed++
		}
	}
	if orchestrator.AnyFailed(results) {
		return &ExitError{Code: 1, Err: fmt.Errorf("%d of %d targets failed", failed, len(results))}
	}
	plog.Info(buildinfo.Name+" finished successfully.", "targets", len(results), "duration", duration)
	return nil
}

// newOrchestrator builds the pipeline components from a validated config.
func newOrchestrator(cfg config.Config, clk clock.Clock) (*orchestrator.Runner, error) {
	logFormat := translog.None
	if cfg.TransferLogs.Enabled {
		f, err := translog.ParseFormat(cfg.TransferLogs.Format)
		if err != nil {
			return nil, err
		}
		logFormat = f
	}

	executor := transfer.NewExecutor(transfer.Settings{
		Binary: cfg.Rsync.Binary,
		Options: transfer.Options{
			SSHCommand:     cfg.Rsync.SSHCommand,
			TimeoutSeconds: cfg.Rsync.TimeoutSeconds,
			ExtraArgs:      cfg.Rsync.ExtraArgs,
			DryRun:         cfg.Runtime.DryRun,
		},
		AcceptExitCodes: cfg.Rsync.AcceptExitCodes,
		Logs: transfer.LogSettings{
			Enabled: cfg.TransferLogs.Enabled,
			Dir:     cfg.TransferLogs.Dir,
			Format:  logFormat,
			Keep:    cfg.TransferLogs.Keep,
		},
	}, nil)

	var policy rotate.Policy = rotate.CalendarPolicy{}
	if cfg.Promotion == config.PromotionRunCount {
		policy = rotate.RunCountPolicy{
			WeeklyEvery:  cfg.RunCount.WeeklyEvery,
			MonthlyEvery: cfg.RunCount.MonthlyEvery,
		}
	}

	var m metrics.Metrics = metrics.NoopMetrics{}
	if cfg.Metrics.Textfile != "" {
		m = metrics.NewTextfileMetrics(cfg.Metrics.Textfile)
	}

	return orchestrator.NewRunner(
		clk,
		mount.NewGuard(cmdexec.NewRunner(nil)),
		orchestrator.FileLocker{Locker: lockfile.NewLocker(clk, 0)},
		executor,
		rotate.NewRotator(policy, cfg.Performance.LinkWorkers),
		marker.NewRecorder(buildinfo.Version),
		m,
		orchestrator.Options{
			DryRun:   cfg.Runtime.DryRun,
			Parallel: cfg.Parallel,
		},
	), nil
}
