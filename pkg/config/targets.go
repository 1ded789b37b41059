package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/paulschiretz/pgl-spool/pkg/target"
	"github.com/paulschiretz/pgl-spool/pkg/util"
)

var targetNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ResolveTargets resolves the configured targets against the defaults and
// validates each one. If Runtime.Only is set, only the named targets are
// returned; an unknown name is an error. Order follows the config file.
func (c *Config) ResolveTargets() ([]target.Target, error) {
	seen := make(map[string]bool, len(c.Targets))
	resolved := make([]target.Target, 0, len(c.Targets))

	for i, tc := range c.Targets {
		if tc.Name == "" {
			return nil, &ConfigError{Field: fmt.Sprintf("targets[%d].name", i), Reason: "cannot be empty"}
		}
		if seen[tc.Name] {
			return nil, &ConfigError{Target: tc.Name, Reason: "duplicate target name"}
		}
		seen[tc.Name] = true

		t, err := c.resolveTarget(tc)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, t)
	}

	if len(c.Runtime.Only) == 0 {
		return resolved, nil
	}
	for _, name := range c.Runtime.Only {
		if !seen[name] {
			return nil, &ConfigError{Target: name, Reason: "no such target in config"}
		}
	}
	filtered := resolved[:0]
	for _, t := range resolved {
		if slices.Contains(c.Runtime.Only, t.Name) {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

func (c *Config) resolveTarget(tc TargetConfig) (target.Target, error) {
	if !targetNamePattern.MatchString(tc.Name) {
		return target.Target{}, &ConfigError{Target: tc.Name, Field: "name", Reason: "must start with a letter or digit and contain only letters, digits, '.', '_' or '-'"}
	}
	if strings.TrimSpace(tc.Host) == "" {
		return target.Target{}, &ConfigError{Target: tc.Name, Field: "host", Reason: "cannot be empty"}
	}
	if strings.TrimSpace(tc.Path) == "" {
		return target.Target{}, &ConfigError{Target: tc.Name, Field: "path", Reason: "cannot be empty"}
	}

	dest := tc.Destination
	if dest == "" {
		dest = c.Spool
	}
	if dest == "" {
		return target.Target{}, &ConfigError{Target: tc.Name, Field: "destination", Reason: "no destination and no global spool root configured"}
	}
	dest, err := util.ExpandPath(dest)
	if err != nil {
		return target.Target{}, &ConfigError{Target: tc.Name, Field: "destination", Reason: err.Error()}
	}
	if !filepath.IsAbs(dest) {
		return target.Target{}, &ConfigError{Target: tc.Name, Field: "destination", Reason: fmt.Sprintf("must be an absolute path, got %q", dest)}
	}

	if err := validateGlobPatterns(tc.Name, "excludes", tc.Excludes); err != nil {
		return target.Target{}, err
	}

	retention, err := resolveRetention(tc.Name, c.Defaults.Retention, tc.Retention)
	if err != nil {
		return target.Target{}, err
	}

	t := target.Target{
		Name: tc.Name,
		Remote: target.Remote{
			User: tc.User,
			Host: tc.Host,
			Path: tc.Path,
		},
		Destination: filepath.Clean(dest),
		Excludes:    util.MergeAndDeduplicate(c.Defaults.Excludes, tc.Excludes),
		RsyncArgs:   slices.Clone(tc.RsyncArgs),
		Retention:   retention,
	}

	if tc.Mount != nil {
		m, err := resolveMount(tc.Name, *tc.Mount)
		if err != nil {
			return target.Target{}, err
		}
		t.Mount = m
	}
	return t, nil
}

func resolveRetention(name string, defaults RetentionConfig, override *RetentionConfig) (target.RetentionPolicy, error) {
	merged := defaults
	if override != nil {
		if override.Daily != nil {
			merged.Daily = override.Daily
		}
		if override.Weekly != nil {
			merged.Weekly = override.Weekly
		}
		if override.Monthly != nil {
			merged.Monthly = override.Monthly
		}
		if override.Weekday != "" {
			merged.Weekday = override.Weekday
		}
		if override.MonthDay != nil {
			merged.MonthDay = override.MonthDay
		}
	}

	policy := target.RetentionPolicy{
		Daily:    deref(merged.Daily),
		Weekly:   deref(merged.Weekly),
		Monthly:  deref(merged.Monthly),
		Weekday:  time.Sunday,
		MonthDay: 1,
	}
	for field, depth := range map[string]int{"retention.daily": policy.Daily, "retention.weekly": policy.Weekly, "retention.monthly": policy.Monthly} {
		if depth < 0 {
			return target.RetentionPolicy{}, &ConfigError{Target: name, Field: field, Reason: "cannot be negative"}
		}
	}
	if merged.Weekday != "" {
		wd, ok := weekdays[strings.ToLower(merged.Weekday)]
		if !ok {
			return target.RetentionPolicy{}, &ConfigError{Target: name, Field: "retention.weekday", Reason: fmt.Sprintf("unknown weekday %q", merged.Weekday)}
		}
		policy.Weekday = wd
	}
	if merged.MonthDay != nil {
		if *merged.MonthDay < 1 || *merged.MonthDay > 31 {
			return target.RetentionPolicy{}, &ConfigError{Target: name, Field: "retention.monthDay", Reason: "must be between 1 and 31"}
		}
		policy.MonthDay = *merged.MonthDay
	}
	return policy, nil
}

func resolveMount(name string, mc MountConfig) (*target.MountSpec, error) {
	if strings.TrimSpace(mc.Mountpoint) == "" {
		return nil, &ConfigError{Target: name, Field: "mount.mountpoint", Reason: "cannot be empty"}
	}
	mountCmd := mc.MountCommand
	if mountCmd == "" {
		if strings.TrimSpace(mc.Device) == "" {
			return nil, &ConfigError{Target: name, Field: "mount.device", Reason: "required when no mountCommand is given"}
		}
		mountCmd = shellquote.Join("mount", mc.Device, mc.Mountpoint)
	}
	unmountCmd := mc.UnmountCommand
	if unmountCmd == "" {
		unmountCmd = shellquote.Join("umount", mc.Mountpoint)
	}
	return &target.MountSpec{
		Device:           mc.Device,
		Mountpoint:       filepath.Clean(mc.Mountpoint),
		MountCommand:     mountCmd,
		UnmountCommand:   unmountCmd,
		VerifyMountpoint: mc.Verify,
	}, nil
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
