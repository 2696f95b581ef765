package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the harness-level counters. Collectors are registered on the
// registerer passed in by the caller, never on a process-global registry, so
// each harness (or test) owns its own metric state. All methods are nil-safe.
type Metrics struct {
	steps       *prometheus.CounterVec
	tokensIn    prometheus.Counter
	tokensOut   prometheus.Counter
	stepLatency prometheus.Histogram
	dedupReuse  prometheus.Counter
}

// NewMetrics creates and registers the harness collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harness",
			Name:      "steps_total",
			Help:      "Steps executed, by terminal decision.",
		}, []string{"decision"}),
		tokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "harness",
			Name:      "tokens_in_total",
			Help:      "Estimated input tokens across all steps.",
		}),
		tokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "harness",
			Name:      "tokens_out_total",
			Help:      "Estimated output tokens across all steps.",
		}),
		stepLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "harness",
			Name:      "step_latency_seconds",
			Help:      "Wall-clock latency of step execution.",
			Buckets:   prometheus.DefBuckets,
		}),
		dedupReuse: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "harness",
			Name:      "dedup_signal_reuse_total",
			Help:      "Guardrail signals satisfied from the deduplication service.",
		}),
	}
	reg.MustRegister(m.steps, m.tokensIn, m.tokensOut, m.stepLatency, m.dedupReuse)
	return m
}

// ObserveStep records one finished step.
func (m *Metrics) ObserveStep(step *Step) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(string(step.Decision)).Inc()
	m.tokensIn.Add(float64(step.TokensIn))
	m.tokensOut.Add(float64(step.TokensOut))
	m.stepLatency.Observe(float64(step.LatencyMs) / 1000)
}

// ObserveReuse records one deduplicated guardrail signal.
func (m *Metrics) ObserveReuse() {
	if m == nil {
		return
	}
	m.dedupReuse.Inc()
}
