package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "payroll"

// Evaluation outcomes, used as the "outcome" label.
const (
	OutcomeSuccess       = "success"
	OutcomeNotApplicable = "not_applicable"
	OutcomeError         = "error"
)

// ComponentUnknown replaces component codes no rule in the snapshot computes.
const ComponentUnknown = "unknown"

// evalBuckets start at 10µs: a single component evaluation is a map lookup
// and a few decimal operations.
var evalBuckets = []float64{.00001, .000025, .00005, .0001, .00025, .0005, .001, .005, .01}

// Metrics groups the engine's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Evaluations        *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	RunDuration        prometheus.Histogram
	RunEmployees       prometheus.Counter
}

// NewMetrics registers the collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() so runs don't collide on the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Metric: payroll_engine_evaluations_total
		Evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "evaluations_total",
			Help:      "Component evaluations by component code and outcome",
		}, []string{"component", "outcome"}),

		// Metric: payroll_engine_evaluation_duration_seconds
		EvaluationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "evaluation_duration_seconds",
			Help:      "Time taken to resolve and evaluate one component",
			Buckets:   evalBuckets,
		}, []string{"rule_type"}),

		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "program_cache_hits_total",
			Help:      "Parsed formula cache hits",
		}),

		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "program_cache_misses_total",
			Help:      "Parsed formula cache misses",
		}),

		// Metric: payroll_engine_run_duration_seconds
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a payroll run",
			Buckets:   prometheus.DefBuckets,
		}),

		RunEmployees: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "run_employees_total",
			Help:      "Employees processed by payroll runs",
		}),
	}
}

func (m *Metrics) observeEvaluation(component, outcome, ruleType string, d time.Duration) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(component, outcome).Inc()
	if ruleType != "" {
		m.EvaluationDuration.WithLabelValues(ruleType).Observe(d.Seconds())
	}
}

func (m *Metrics) observeRun(employees int, d time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(d.Seconds())
	m.RunEmployees.Add(float64(employees))
}

func (m *Metrics) cacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) cacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}
