package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/paulschiretz/pgl-spool/pkg/buildinfo"
	"github.com/paulschiretz/pgl-spool/pkg/plog"
	"github.com/paulschiretz/pgl-spool/pkg/translog"
	"github.com/paulschiretz/pgl-spool/pkg/util"
)

// Promotion policy names accepted in the config file.
const (
	PromotionCalendar = "calendar"
	PromotionRunCount = "runcount"
)

type RsyncConfig struct {
	Binary         string   `json:"binary" yaml:"binary"`
	SSHCommand     string   `json:"sshCommand" yaml:"sshCommand"`
	TimeoutSeconds int      `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	ExtraArgs      []string `json:"extraArgs" yaml:"extraArgs"`
	// AcceptExitCodes lists nonzero transport exit codes that still count as a
	// successful transfer, e.g. 24 (source files vanished during transfer).
	AcceptExitCodes []int `json:"acceptExitCodes" yaml:"acceptExitCodes"`
}

type TransferLogsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Dir     string `json:"dir" yaml:"dir"`
	Format  string `json:"format" yaml:"format"`
	Keep    int    `json:"keep" yaml:"keep"`
}

type MetricsConfig struct {
	// Textfile is written in the Prometheus text format after every backup
	// pass, for node_exporter's textfile collector. Empty disables it.
	Textfile string `json:"textfile" yaml:"textfile"`
}

type PerformanceConfig struct {
	LinkWorkers int `json:"linkWorkers" yaml:"linkWorkers"`
}

type RunCountConfig struct {
	WeeklyEvery  int `json:"weeklyEvery" yaml:"weeklyEvery"`
	MonthlyEvery int `json:"monthlyEvery" yaml:"monthlyEvery"`
}

// RetentionConfig uses pointers so a target can override single fields of the
// defaults.
type RetentionConfig struct {
	Daily    *int   `json:"daily,omitempty" yaml:"daily,omitempty"`
	Weekly   *int   `json:"weekly,omitempty" yaml:"weekly,omitempty"`
	Monthly  *int   `json:"monthly,omitempty" yaml:"monthly,omitempty"`
	Weekday  string `json:"weekday,omitempty" yaml:"weekday,omitempty"`
	MonthDay *int   `json:"monthDay,omitempty" yaml:"monthDay,omitempty"`
}

type DefaultsConfig struct {
	Excludes  []string        `json:"excludes" yaml:"excludes"`
	Retention RetentionConfig `json:"retention" yaml:"retention"`
}

type MountConfig struct {
	Device         string `json:"device" yaml:"device"`
	Mountpoint     string `json:"mountpoint" yaml:"mountpoint"`
	MountCommand   string `json:"mountCommand,omitempty" yaml:"mountCommand,omitempty"`
	UnmountCommand string `json:"unmountCommand,omitempty" yaml:"unmountCommand,omitempty"`
	Verify         bool   `json:"verify,omitempty" yaml:"verify,omitempty"`
}

type TargetConfig struct {
	Name        string           `json:"name" yaml:"name"`
	Host        string           `json:"host" yaml:"host"`
	User        string           `json:"user,omitempty" yaml:"user,omitempty"`
	Path        string           `json:"path" yaml:"path"`
	Destination string           `json:"destination,omitempty" yaml:"destination,omitempty"`
	Excludes    []string         `json:"excludes,omitempty" yaml:"excludes,omitempty"`
	RsyncArgs   []string         `json:"rsyncArgs,omitempty" yaml:"rsyncArgs,omitempty"`
	Retention   *RetentionConfig `json:"retention,omitempty" yaml:"retention,omitempty"`
	Mount       *MountConfig     `json:"mount,omitempty" yaml:"mount,omitempty"`
}

// RuntimeConfig holds per-invocation settings that never come from the file.
type RuntimeConfig struct {
	DryRun bool
	Only   []string
}

type Config struct {
	Version      string             `json:"version" yaml:"version"`
	Spool        string             `json:"spool" yaml:"spool"`
	LogLevel     string             `json:"logLevel" yaml:"logLevel"`
	LogFile      string             `json:"logFile" yaml:"logFile"`
	Parallel     int                `json:"parallel" yaml:"parallel"`
	Promotion    string             `json:"promotion" yaml:"promotion"`
	RunCount     RunCountConfig     `json:"runCount" yaml:"runCount"`
	Rsync        RsyncConfig        `json:"rsync" yaml:"rsync"`
	TransferLogs TransferLogsConfig `json:"transferLogs" yaml:"transferLogs"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics"`
	Performance  PerformanceConfig  `json:"performance" yaml:"performance"`
	Defaults     DefaultsConfig     `json:"defaults" yaml:"defaults"`
	Targets      []TargetConfig     `json:"targets" yaml:"targets"`
	Runtime      RuntimeConfig      `json:"-" yaml:"-"`
}

// NewDefault returns a Config with every optional setting filled in. Retention
// depths default to zero (no snapshot tiers) and no target mounts anything.
func NewDefault() Config {
	return Config{
		Version:   buildinfo.Version,
		Spool:     "", // Intentionally empty: every target then needs an explicit destination.
		LogLevel:  "info",
		Parallel:  1,
		Promotion: PromotionCalendar,
		RunCount: RunCountConfig{
			WeeklyEvery:  7,
			MonthlyEvery: 30,
		},
		Rsync: RsyncConfig{
			Binary:          "rsync",
			SSHCommand:      "ssh -o BatchMode=yes",
			TimeoutSeconds:  0,
			ExtraArgs:       []string{},
			AcceptExitCodes: []int{},
		},
		TransferLogs: TransferLogsConfig{
			Enabled: false,
			Format:  translog.Zstd.String(),
			Keep:    14,
		},
		Performance: PerformanceConfig{
			LinkWorkers: 4,
		},
		Defaults: DefaultsConfig{
			Excludes: []string{
				"/proc/*",
				"/sys/*",
				"/dev/*",
				"/run/*",
				"/tmp/*",
				"lost+found",
			},
			Retention: RetentionConfig{
				Weekday:  "sunday",
				MonthDay: intPtr(1),
			},
		},
		Targets: []TargetConfig{},
	}
}

func intPtr(v int) *int { return &v }

// Load reads a config file. YAML is used for .yaml/.yml, JSON for .json.
// Missing fields keep their NewDefault values; unknown fields are an error.
func Load(path string) (Config, error) {
	absPath, err := util.AbsPath(path)
	if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("error opening config file %s: %w", absPath, err)
	}

	plog.Info("Loading configuration", "path", absPath)
	cfg := NewDefault()
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("error parsing config file %s: %w", absPath, err)
		}
	case ".json":
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("error parsing config file %s: %w", absPath, err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config file extension %q (use .yaml, .yml or .json)", filepath.Ext(absPath))
	}

	// NOTE: if cfg.Version differs from the binary a migration step belongs here.
	cfg.Version = buildinfo.Version
	return cfg, nil
}

// Generate writes cfg to path in the format implied by the extension.
func Generate(path string, cfg Config) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	default:
		return fmt.Errorf("unsupported config file extension %q (use .yaml, .yml or .json)", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", path)
	return nil
}

// Example returns the starter configuration written by the init command.
func Example(spoolRoot string) Config {
	cfg := NewDefault()
	cfg.Spool = spoolRoot
	cfg.TransferLogs.Enabled = true
	cfg.TransferLogs.Dir = filepath.Join(spoolRoot, ".transfer-logs")
	cfg.Defaults.Retention.Daily = intPtr(7)
	cfg.Defaults.Retention.Weekly = intPtr(4)
	cfg.Defaults.Retention.Monthly = intPtr(6)
	cfg.Targets = []TargetConfig{
		{
			Name: "web1",
			Host: "web1.example.com",
			User: "root",
			Path: "/",
			Excludes: []string{
				"/var/cache/*",
			},
		},
	}
	return cfg
}

// Validate checks the global settings. Per-target checks happen in ResolveTargets.
func (c *Config) Validate() error {
	if c.Parallel < 1 {
		return &ConfigError{Field: "parallel", Reason: "must be at least 1"}
	}
	switch c.Promotion {
	case PromotionCalendar, PromotionRunCount:
	default:
		return &ConfigError{Field: "promotion", Reason: fmt.Sprintf("invalid value %q, must be %q or %q", c.Promotion, PromotionCalendar, PromotionRunCount)}
	}
	if c.Promotion == PromotionRunCount {
		if c.RunCount.WeeklyEvery < 1 {
			return &ConfigError{Field: "runCount.weeklyEvery", Reason: "must be at least 1"}
		}
		if c.RunCount.MonthlyEvery < 1 {
			return &ConfigError{Field: "runCount.monthlyEvery", Reason: "must be at least 1"}
		}
	}
	if strings.TrimSpace(c.Rsync.Binary) == "" {
		return &ConfigError{Field: "rsync.binary", Reason: "cannot be empty"}
	}
	if c.Rsync.TimeoutSeconds < 0 {
		return &ConfigError{Field: "rsync.timeoutSeconds", Reason: "cannot be negative"}
	}
	for _, code := range c.Rsync.AcceptExitCodes {
		if code <= 0 || code > 255 {
			return &ConfigError{Field: "rsync.acceptExitCodes", Reason: fmt.Sprintf("invalid exit code %d", code)}
		}
	}
	if c.TransferLogs.Enabled {
		if c.TransferLogs.Dir == "" {
			return &ConfigError{Field: "transferLogs.dir", Reason: "cannot be empty when transfer logs are enabled"}
		}
		if _, err := translog.ParseFormat(c.TransferLogs.Format); err != nil {
			return &ConfigError{Field: "transferLogs.format", Reason: err.Error()}
		}
		if c.TransferLogs.Keep < 1 {
			return &ConfigError{Field: "transferLogs.keep", Reason: "must be at least 1"}
		}
	}
	if c.Performance.LinkWorkers < 1 {
		return &ConfigError{Field: "performance.linkWorkers", Reason: "must be at least 1"}
	}
	if err := validateGlobPatterns("", "defaults.excludes", c.Defaults.Excludes); err != nil {
		return err
	}
	return nil
}

// LogSummary prints the effective global settings.
func (c *Config) LogSummary() {
	logArgs := []interface{}{
		"spool", c.Spool,
		"log_level", c.LogLevel,
		"targets", len(c.Targets),
		"parallel", c.Parallel,
		"promotion", c.Promotion,
		"dry_run", c.Runtime.DryRun,
		"rsync", c.Rsync.Binary,
		"link_workers", c.Performance.LinkWorkers,
	}
	if c.TransferLogs.Enabled {
		logArgs = append(logArgs, "transfer_logs", fmt.Sprintf("enabled (f:%s k:%d)", c.TransferLogs.Format, c.TransferLogs.Keep))
	}
	if c.Metrics.Textfile != "" {
		logArgs = append(logArgs, "metrics_textfile", c.Metrics.Textfile)
	}
	if len(c.Runtime.Only) > 0 {
		logArgs = append(logArgs, "only", strings.Join(c.Runtime.Only, ", "))
	}
	if len(c.Defaults.Excludes) > 0 {
		logArgs = append(logArgs, "default_excludes", strings.Join(c.Defaults.Excludes, ", "))
	}
	plog.Info("Configuration loaded", logArgs...)
}

// MergeFlags overlays the values of explicitly set command-line flags.
func MergeFlags(base Config, setFlags map[string]any) Config {
	merged := base
	for name, value := range setFlags {
		switch name {
		case "log-level":
			merged.LogLevel = value.(string)
		case "log-file":
			merged.LogFile = value.(string)
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "parallel":
			merged.Parallel = value.(int)
		case "spool":
			merged.Spool = value.(string)
		case "target":
			merged.Runtime.Only = value.([]string)
		case "metrics-textfile":
			merged.Metrics.Textfile = value.(string)
		case "config", "force":
			// Handled by the command itself.
		default:
			plog.Debug("unhandled flag in MergeFlags", "flag", name)
		}
	}
	return merged
}

// validateGlobPatterns checks if a list of strings are valid glob patterns.
func validateGlobPatterns(targetName, field string, patterns []string) error {
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return &ConfigError{Target: targetName, Field: field, Reason: fmt.Sprintf("invalid glob pattern %q: %v", pattern, err)}
		}
	}
	return nil
}
