package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-spool/pkg/spool"
)

func TestTextfileMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pgl_spool.prom")
	m := NewTextfileMetrics(path)

	m.Observe(TargetSample{
		Target:      "web1",
		Result:      "success",
		Success:     true,
		Duration:    90 * time.Second,
		LastSuccess: time.Unix(1710039600, 0),
		Generations: map[spool.Tier]int{spool.Daily: 3},
	})
	m.Observe(TargetSample{Target: "db1", Result: "transfer_error", Duration: time.Second})
	require.NoError(t, m.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, `pgl_spool_last_run_success{target="web1"} 1`)
	assert.Contains(t, text, `pgl_spool_last_run_success{target="db1"} 0`)
	assert.Contains(t, text, `pgl_spool_last_run_duration_seconds{target="web1"} 90`)
	assert.Contains(t, text, `pgl_spool_generations{target="web1",tier="daily"} 3`)
	assert.Contains(t, text, `pgl_spool_runs_total{result="transfer_error",target="db1"} 1`)
	assert.Contains(t, text, `pgl_spool_last_success_timestamp_seconds{target="web1"} 1.7100396e+09`)
	assert.NotContains(t, text, `pgl_spool_last_success_timestamp_seconds{target="db1"}`)
}

func TestNoopMetrics(t *testing.T) {
	var m Metrics = NoopMetrics{}
	m.Observe(TargetSample{Target: "web1"})
	assert.NoError(t, m.Flush())
}
