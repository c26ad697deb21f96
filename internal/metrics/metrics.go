// Package metrics exposes engine counters to prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	eventsIngested   *prometheus.CounterVec
	analyses         *prometheus.CounterVec
	analyzerRetries  prometheus.Counter
	artifactsCreated *prometheus.CounterVec
	inFlight         prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "followup_events_ingested_total",
			Help: "Inbound events by ingestion result.",
		}, []string{"result"}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "followup_analyses_total",
			Help: "Analysis attempts by outcome.",
		}, []string{"outcome"}),
		analyzerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "followup_analyzer_retries_total",
			Help: "Analyzer calls retried after a transient failure.",
		}),
		artifactsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "followup_artifacts_created_total",
			Help: "Reminders and notifications created.",
		}, []string{"kind"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "followup_analyses_in_flight",
			Help: "Analyses currently waiting on the analyzer.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsIngested,
		m.analyses,
		m.analyzerRetries,
		m.artifactsCreated,
		m.inFlight,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) EventIngested(result string) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(result).Inc()
}

func (m *Metrics) AnalysisDone(outcome string) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AnalyzerRetried() {
	if m == nil {
		return
	}
	m.analyzerRetries.Inc()
}

func (m *Metrics) ArtifactCreated(kind string) {
	if m == nil {
		return
	}
	m.artifactsCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}
