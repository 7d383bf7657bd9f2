// Package metrics exposes pipeline counters and stage latencies to Prometheus.
package metrics

import (
	"net/http"
	"strings"

	"github.com/ppiankov/policyrag/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "policyrag"

// Outcome labels for the queries counter
const (
	OutcomeAnswered  = "answered"
	OutcomeAbstained = "abstained"
	OutcomeError     = "error"
)

// Metrics holds the collectors on a private registry. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry       *prometheus.Registry
	queries        *prometheus.CounterVec
	notes          *prometheus.CounterVec
	stageLatency   *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
	contradictions prometheus.Counter
}

// New creates the collectors and registers them with a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries processed, by outcome",
		}, []string{"outcome"}),
		notes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notes_total",
			Help:      "Notes attached to responses, by flag",
		}, []string{"note"}),
		stageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Per-stage wall time",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"stage"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_cache_lookups_total",
			Help:      "Judge cache lookups, by stage and result",
		}, []string{"stage", "result"}),
		contradictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contradictions_total",
			Help:      "Contradiction records reported",
		}),
	}
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRecord counts one finished response
func (m *Metrics) ObserveRecord(rec *model.ResponseRecord) {
	if m == nil || rec == nil {
		return
	}

	m.queries.WithLabelValues(Outcome(rec)).Inc()
	for _, n := range rec.Notes {
		m.notes.WithLabelValues(noteLabel(n)).Inc()
	}
	m.contradictions.Add(float64(len(rec.Contradictions)))

	l := rec.LatencyMs
	for stage, ms := range map[string]float64{
		"retrieval":      l.Retrieval,
		"rerank":         l.Rerank,
		"llm_gen":        l.LLMGen,
		"verify":         l.Verify,
		"contradictions": l.Contradictions,
	} {
		if ms > 0 {
			m.stageLatency.WithLabelValues(stage).Observe(ms / 1000)
		}
	}
}

// ObserveCache matches cache.Observer
func (m *Metrics) ObserveCache(stage string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(stage, result).Inc()
}

// Outcome classifies a record for the queries counter
func Outcome(rec *model.ResponseRecord) string {
	switch {
	case rec.IsError():
		return OutcomeError
	case rec.IsAbstained():
		return OutcomeAbstained
	default:
		return OutcomeAnswered
	}
}

// noteLabel folds every "ERROR: <reason>" note into one label value
func noteLabel(n model.Note) string {
	if strings.HasPrefix(string(n), model.AnswerError+": ") {
		return model.AnswerError
	}
	return string(n)
}
