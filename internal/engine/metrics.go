package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bitsnark/charms/internal/charms"
)

const (
	pathFast    = "fast"
	pathSandbox = "sandbox"

	outcomeAccepted = "accepted"
)

// Metrics collects verification counters. A nil *Metrics records nothing.
type Metrics struct {
	verifications *prometheus.CounterVec
	appRuns       *prometheus.CounterVec
	cycles        prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charms_verifications_total",
			Help: "spell verifications by outcome (accepted or error code)",
		}, []string{"variant", "outcome"}),
		appRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charms_app_runs_total",
			Help: "per-app verifications by path (fast or sandbox) and outcome",
		}, []string{"path", "outcome"}),
		cycles: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "charms_app_cycles",
			Help:    "execution cost of successful sandboxed contract runs",
			Buckets: prometheus.ExponentialBuckets(1_000, 10, 7),
		}),
	}
	reg.MustRegister(m.verifications, m.appRuns, m.cycles)
	return m
}

func outcome(err error) string {
	if err == nil {
		return outcomeAccepted
	}
	if code := charms.CodeOf(err); code != "" {
		return string(code)
	}
	return "ERROR"
}

func (m *Metrics) appRun(path string, err error, cycles uint64) {
	if m == nil {
		return
	}
	m.appRuns.WithLabelValues(path, outcome(err)).Inc()
	if err == nil && path == pathSandbox {
		m.cycles.Observe(float64(cycles))
	}
}

func (m *Metrics) verification(variant string, err error) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(variant, outcome(err)).Inc()
}
