// Package metrics holds the Prometheus instrumentation for the ingest
// API and the worker pipeline. Both binaries expose the same registry
// through /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline stage label values.
const (
	StageDecode    = "decode"
	StageNormalize = "normalize"
	StageEnrich    = "enrich"
	StageRules     = "rules"
	StageAnomaly   = "anomaly"
	StageCorrelate = "correlate"
	StageRespond   = "respond"
	StagePersist   = "persist"
)

// Metrics holds all Prometheus collectors for the event pipeline.
type Metrics struct {
	// Ingest side.
	EventsIngested *prometheus.CounterVec
	IngestRejected *prometheus.CounterVec

	// Worker side.
	EventsProcessed  *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	PipelineDuration prometheus.Histogram
	AlertsRaised     prometheus.Counter
	IncidentsRaised  prometheus.Counter
	IPsBlocked       prometheus.Counter
}

// New creates and registers all collectors on the given registerer. Pass
// prometheus.DefaultRegisterer in the binaries; tests use a fresh
// registry so repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siem_events_ingested_total",
				Help: "Events accepted by the ingest API and queued",
			},
			[]string{"source"},
		),
		IngestRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siem_ingest_rejected_total",
				Help: "Ingest requests rejected before queuing",
			},
			[]string{"reason"}, // reason: blocked, rate_limited, invalid
		),
		EventsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siem_events_processed_total",
				Help: "Events pulled off the stream and run through the pipeline",
			},
			[]string{"status"}, // status: ok, error
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "siem_pipeline_stage_duration_seconds",
				Help:    "Duration of individual pipeline stages",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		PipelineDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "siem_pipeline_duration_seconds",
				Help:    "End-to-end duration of one event through the pipeline",
				Buckets: prometheus.DefBuckets,
			},
		),
		AlertsRaised: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "siem_alerts_raised_total",
				Help: "Alerts attached to events by detection stages",
			},
		),
		IncidentsRaised: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "siem_incidents_raised_total",
				Help: "Incidents raised by the correlator",
			},
		),
		IPsBlocked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "siem_ips_blocked_total",
				Help: "Automated block decisions taken by the responder",
			},
		),
	}
}

// RecordIngested counts accepted events for one source.
func (m *Metrics) RecordIngested(source string, count int) {
	m.EventsIngested.WithLabelValues(source).Add(float64(count))
}

// RecordRejected counts a rejected ingest request.
func (m *Metrics) RecordRejected(reason string) {
	m.IngestRejected.WithLabelValues(reason).Inc()
}

// RecordProcessed counts one pipeline pass and its total duration.
func (m *Metrics) RecordProcessed(status string, seconds float64) {
	m.EventsProcessed.WithLabelValues(status).Inc()
	m.PipelineDuration.Observe(seconds)
}

// ObserveStage records the duration of a single pipeline stage.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordFindings counts the detection output of one event.
func (m *Metrics) RecordFindings(alerts, incidents int, blocked bool) {
	if alerts > 0 {
		m.AlertsRaised.Add(float64(alerts))
	}
	if incidents > 0 {
		m.IncidentsRaised.Add(float64(incidents))
	}
	if blocked {
		m.IPsBlocked.Inc()
	}
}
