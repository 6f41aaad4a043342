// Package metrics registers the pipeline's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chunkdaddy"

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	stageDuration    *prometheus.HistogramVec
	stageOutcome     *prometheus.CounterVec
	runs             *prometheus.CounterVec
	briefsDropped    prometheus.Counter
	summaryFallbacks prometheus.Counter
	zeroCells        prometheus.Counter
	embeddingCalls   *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		stageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		stageOutcome: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_outcomes_total",
				Help:      "Pipeline stage completions by outcome",
			},
			[]string{"stage", "outcome"},
		),
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Optimization runs by mode and final step",
			},
			[]string{"mode", "result"},
		),
		briefsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "briefs_dropped_total",
			Help:      "Content briefs dropped after a failed generation",
		}),
		summaryFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_fallbacks_total",
			Help:      "Summaries computed arithmetically after the provider failed",
		}),
		zeroCells: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zero_score_cells_total",
			Help:      "Chunk/query cells scored zero because a vector was missing",
		}),
		embeddingCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_calls_total",
				Help:      "Embedding provider calls by status",
			},
			[]string{"provider", "status"},
		),
	}
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(stage string, d time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	m.stageOutcome.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) RunFinished(mode, result string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(mode, result).Inc()
}

func (m *Metrics) BriefDropped() {
	if m == nil {
		return
	}
	m.briefsDropped.Inc()
}

func (m *Metrics) SummaryFallback() {
	if m == nil {
		return
	}
	m.summaryFallbacks.Inc()
}

func (m *Metrics) ZeroCell() {
	if m == nil {
		return
	}
	m.zeroCells.Inc()
}

func (m *Metrics) EmbeddingCall(provider, status string) {
	if m == nil {
		return
	}
	m.embeddingCalls.WithLabelValues(provider, status).Inc()
}
