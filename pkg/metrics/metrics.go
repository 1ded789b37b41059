// Package metrics exports per-target run results in the Prometheus text
// format, for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/paulschiretz/pgl-spool/pkg/plog"
	"github.com/paulschiretz/pgl-spool/pkg/spool"
)

const namespace = "pgl_spool"

// TargetSample is the outcome of one target in one backup pass.
type TargetSample struct {
	Target   string
	Result   string
	Success  bool
	Duration time.Duration
	// LastSuccess is the mtime of the target's marker after the run; zero if
	// the target never succeeded.
	LastSuccess time.Time
	Generations map[spool.Tier]int
}

// Metrics collects target samples and publishes them.
type Metrics interface {
	Observe(s TargetSample)
	Flush() error
}

// TextfileMetrics writes all samples atomically to one .prom file on Flush.
type TextfileMetrics struct {
	mu       sync.Mutex
	path     string
	registry *prometheus.Registry

	lastSuccess *prometheus.GaugeVec
	lastResult  *prometheus.GaugeVec
	duration    *prometheus.GaugeVec
	generations *prometheus.GaugeVec
	runs        *prometheus.CounterVec
}

func NewTextfileMetrics(path string) *TextfileMetrics {
	m := &TextfileMetrics{
		path:     path,
		registry: prometheus.NewRegistry(),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful backup of a target.",
		}, []string{"target"}),
		lastResult: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the last backup run of a target succeeded, 0 otherwise.",
		}, []string{"target"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Duration of the last backup run of a target.",
		}, []string{"target"}),
		generations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generations",
			Help:      "Number of retained snapshot generations per tier.",
		}, []string{"target", "tier"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Backup runs in this pass by target and result.",
		}, []string{"target", "result"}),
	}
	m.registry.MustRegister(m.lastSuccess, m.lastResult, m.duration, m.generations, m.runs)
	return m
}

func (m *TextfileMetrics) Observe(s TargetSample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs.WithLabelValues(s.Target, s.Result).Inc()
	m.duration.WithLabelValues(s.Target).Set(s.Duration.Seconds())
	if s.Success {
		m.lastResult.WithLabelValues(s.Target).Set(1)
	} else {
		m.lastResult.WithLabelValues(s.Target).Set(0)
	}
	if !s.LastSuccess.IsZero() {
		m.lastSuccess.WithLabelValues(s.Target).Set(float64(s.LastSuccess.Unix()))
	}
	for tier, n := range s.Generations {
		m.generations.WithLabelValues(s.Target, tier.String()).Set(float64(n))
	}
}

// Flush writes the textfile. The file is replaced atomically.
func (m *TextfileMetrics) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := prometheus.WriteToTextfile(m.path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", m.path, err)
	}
	plog.Debug("Metrics textfile written", "path", m.path)
	return nil
}

// NoopMetrics discards everything. It is used when no textfile is configured.
type NoopMetrics struct{}

func (NoopMetrics) Observe(TargetSample) {}
func (NoopMetrics) Flush() error         { return nil }

var _ Metrics = (*TextfileMetrics)(nil)
var _ Metrics = NoopMetrics{}
