package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"promptsmith/pkg/agent"
	"promptsmith/pkg/proto"
)

// Metrics are the loop's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	sessionsTotal  *prometheus.CounterVec
	activeSessions prometheus.Gauge
	iterations     prometheus.Histogram
	finalScore     prometheus.Histogram
	stepDuration   *prometheus.HistogramVec
	stepErrors     *prometheus.CounterVec
	cacheHits      *prometheus.CounterVec
}

// NewMetrics registers the loop collectors on reg under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Finished optimisation sessions by terminal status",
			},
			[]string{"status"},
		),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently running",
		}),
		iterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_iterations",
			Help:      "Completed iterations per session",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		finalScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_final_score",
			Help:      "Best combined score per session",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_step_duration_seconds",
				Help:      "Duration of agent steps",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"agent"},
		),
		stepErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_step_errors_total",
				Help:      "Agent steps that failed or panicked",
			},
			[]string{"agent"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pattern_cache_hits_total",
				Help:      "Prompt and chart spec lookups served from the pattern store",
			},
			[]string{"agent"},
		),
	}
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) sessionFinished(status proto.Status, iterations int, best float64) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionsTotal.WithLabelValues(string(status)).Inc()
	m.iterations.Observe(float64(iterations))
	if iterations > 0 {
		m.finalScore.Observe(best)
	}
}

func (m *Metrics) observeStep(kind agent.Kind, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(kind.String()).Observe(d.Seconds())
	if failed {
		m.stepErrors.WithLabelValues(kind.String()).Inc()
	}
}

func (m *Metrics) cacheHit(kind agent.Kind) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(kind.String()).Inc()
}
