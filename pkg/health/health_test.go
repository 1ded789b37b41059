package health

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now         = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	warningAge  = DefaultWarningSeconds * time.Second
	criticalAge = DefaultCriticalSeconds * time.Second
)

func addTarget(t *testing.T, root, name string, age time.Duration) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "current"), 0o755))
	if age < 0 {
		return
	}
	marker := filepath.Join(dir, "last_run")
	require.NoError(t, os.WriteFile(marker, nil, 0o644))
	mtime := now.Add(-age)
	require.NoError(t, os.Chtimes(marker, mtime, mtime))
}

func TestEvaluateScenario(t *testing.T) {
	root := t.TempDir()
	addTarget(t, root, "web1", 50000*time.Second)
	addTarget(t, root, "db1", -1)

	v := Evaluate(root, warningAge, criticalAge, now)

	require.Len(t, v.Targets, 2)
	assert.Equal(t, Critical, v.Status)
	assert.Equal(t, 2, v.Status.ExitCode())

	byName := map[string]TargetVerdict{}
	for _, tv := range v.Targets {
		byName[tv.Name] = tv
	}
	assert.Equal(t, Warning, byName["web1"].Status)
	assert.Equal(t, Critical, byName["db1"].Status)
	assert.Equal(t, ReasonNoBackup, byName["db1"].Reason)

	report := v.Report()
	assert.Contains(t, report, "db1: NO BACKUP")
	assert.NotContains(t, report, "web1")
	assert.True(t, strings.HasPrefix(report, "CRITICAL - 1 of 2"), report)
}

func TestEvaluateEmptyRoot(t *testing.T) {
	v := Evaluate(t.TempDir(), warningAge, criticalAge, now)
	assert.Equal(t, Unknown, v.Status)
	assert.Equal(t, 3, v.Status.ExitCode())
	assert.Equal(t, "UNKNOWN - No backup targets found.", v.Report())
}

func TestEvaluateMissingRoot(t *testing.T) {
	v := Evaluate(filepath.Join(t.TempDir(), "missing"), warningAge, criticalAge, now)
	assert.Equal(t, Unknown, v.Status)
	assert.Error(t, v.Err)
	assert.True(t, strings.HasPrefix(v.Report(), "UNKNOWN - cannot read spool"))
}

func TestEvaluateThresholds(t *testing.T) {
	tests := []struct {
		name string
		age  time.Duration
		want Status
	}{
		{"fresh", time.Hour, OK},
		{"just below warning", warningAge - time.Second, OK},
		{"at warning", warningAge, Warning},
		{"at critical", criticalAge, Critical},
		{"in the future", -time.Hour, OK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			dir := filepath.Join(root, "web1")
			require.NoError(t, os.MkdirAll(dir, 0o755))
			marker := filepath.Join(dir, "last_run")
			require.NoError(t, os.WriteFile(marker, nil, 0o644))
			mtime := now.Add(-tc.age)
			require.NoError(t, os.Chtimes(marker, mtime, mtime))

			v := Evaluate(root, warningAge, criticalAge, now)
			require.Len(t, v.Targets, 1)
			assert.Equal(t, tc.want, v.Targets[0].Status)
			assert.Equal(t, mtime.Format(time.DateTime), v.Targets[0].Reason)
		})
	}
}

func TestWarningReport(t *testing.T) {
	root := t.TempDir()
	addTarget(t, root, "web1", 50000*time.Second)
	addTarget(t, root, "mail1", time.Hour)

	v := Evaluate(root, warningAge, criticalAge, now)
	assert.Equal(t, Warning, v.Status)
	assert.Equal(t, 1, v.Status.ExitCode())

	lines := strings.Split(v.Report(), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "WARNING - 1 of 2 backup targets outdated", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "web1: 2024-03-09 22:06:40 ("), lines[1])
}

func TestOKReport(t *testing.T) {
	root := t.TempDir()
	addTarget(t, root, "web1", time.Minute)
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".transfer-logs"), 0o755))

	v := Evaluate(root, warningAge, criticalAge, now)
	assert.Equal(t, OK, v.Status)
	assert.Equal(t, 0, v.Status.ExitCode())
	assert.Equal(t, "OK - all 1 backup targets up to date", v.Report())
}

func TestUnreadableMarker(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "web1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	// A self-referencing symlink fails to stat with ELOOP rather than ENOENT.
	require.NoError(t, os.Symlink("last_run", filepath.Join(dir, "last_run")))

	v := Evaluate(root, warningAge, criticalAge, now)
	require.Len(t, v.Targets, 1)
	assert.Equal(t, Critical, v.Status)
	assert.Equal(t, ReasonUnreadableMarker, v.Targets[0].Reason)
	assert.Contains(t, v.Report(), "web1: UNREADABLE MARKER")
}
