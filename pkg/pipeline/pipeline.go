// Package pipeline wires the detection stages into the worker's event
// processor: decode, normalize, enrich, rules, anomaly scoring,
// correlation, response, and persistence. Stages mutate the event in
// place; a failed stage leaves the message unacked for redelivery.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aegis-siem/aegis/pkg/anomaly"
	"github.com/aegis-siem/aegis/pkg/correlation"
	"github.com/aegis-siem/aegis/pkg/enrichment"
	"github.com/aegis-siem/aegis/pkg/metrics"
	"github.com/aegis-siem/aegis/pkg/models"
	"github.com/aegis-siem/aegis/pkg/normalization"
	"github.com/aegis-siem/aegis/pkg/response"
	"github.com/aegis-siem/aegis/pkg/rules"
	"github.com/aegis-siem/aegis/pkg/storage"
)

// anomalyAlertThreshold is the score above which an event is flagged as
// an ML anomaly and the explanation lands on the alert list.
const anomalyAlertThreshold = 0.7

// Pipeline runs the full detection pass for one event. It implements
// queue.EventProcessor.
type Pipeline struct {
	normalizer *normalization.Normalizer
	enricher   *enrichment.Enricher
	rules      *rules.Engine
	scorer     *anomaly.Scorer
	correlator *correlation.Correlator
	responder  *response.Responder
	index      *storage.EventIndex
	metrics    *metrics.Metrics
}

// New creates a pipeline. All stages are required.
func New(
	normalizer *normalization.Normalizer,
	enricher *enrichment.Enricher,
	engine *rules.Engine,
	scorer *anomaly.Scorer,
	correlator *correlation.Correlator,
	responder *response.Responder,
	index *storage.EventIndex,
	m *metrics.Metrics,
) *Pipeline {
	if normalizer == nil {
		panic("normalizer cannot be nil")
	}
	if enricher == nil {
		panic("enricher cannot be nil")
	}
	if engine == nil {
		panic("rule engine cannot be nil")
	}
	if scorer == nil {
		panic("anomaly scorer cannot be nil")
	}
	if correlator == nil {
		panic("correlator cannot be nil")
	}
	if responder == nil {
		panic("responder cannot be nil")
	}
	if index == nil {
		panic("event index cannot be nil")
	}
	if m == nil {
		panic("metrics cannot be nil")
	}
	return &Pipeline{
		normalizer: normalizer,
		enricher:   enricher,
		rules:      engine,
		scorer:     scorer,
		correlator: correlator,
		responder:  responder,
		index:      index,
		metrics:    m,
	}
}

// ProcessEvent runs one queued payload through every stage. A non-nil
// return means the message stays pending and will be redelivered, so
// only transient failures (state store, event store) propagate; bad
// payloads are bounded by the dead-letter budget.
func (p *Pipeline) ProcessEvent(ctx context.Context, data []byte) error {
	started := time.Now()

	err := p.process(ctx, data)

	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordProcessed(status, time.Since(started).Seconds())
	return err
}

func (p *Pipeline) process(ctx context.Context, data []byte) error {
	// 1. Decode.
	event, err := p.decode(data)
	if err != nil {
		return err
	}

	// 2. Normalize: parse the raw message into structured fields.
	p.normalize(event)

	// 3. Enrich: geolocation, threat intel, user agent. Enrichment
	// failures degrade to missing fields, never to a lost event.
	p.enrich(ctx, event)

	// 4. Rule detection.
	if err := p.detect(ctx, event); err != nil {
		return err
	}

	// 5. Anomaly scoring.
	p.score(ctx, event)

	// 6. Correlation across events.
	if err := p.correlate(ctx, event); err != nil {
		return err
	}

	// 7. Automated response.
	if err := p.respond(ctx, event); err != nil {
		return err
	}

	// 8. Persist exactly one document per processed event.
	if err := p.persist(ctx, event); err != nil {
		return err
	}

	blocked := event.Response != nil && event.Response.Action == "block"
	p.metrics.RecordFindings(len(event.Alerts), len(event.Incidents), blocked)

	if len(event.Alerts) > 0 || len(event.Incidents) > 0 {
		slog.Info("Event processed with findings",
			"event_id", event.ID,
			"source", event.Source,
			"severity", event.Severity,
			"alerts", len(event.Alerts),
			"incidents", len(event.Incidents),
			"blocked", blocked)
	}
	return nil
}

func (p *Pipeline) decode(data []byte) (*models.Event, error) {
	defer p.observe(metrics.StageDecode, time.Now())

	var event models.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("decoding event payload: %w", err)
	}
	return &event, nil
}

func (p *Pipeline) normalize(event *models.Event) {
	defer p.observe(metrics.StageNormalize, time.Now())

	fields := p.normalizer.Parse(event.Message, event.Source)
	if len(fields) > 0 {
		event.Merge(fields)
	}

	// Resolve the effective IP once so every later stage reads the
	// top-level field.
	if event.IP == "" {
		event.IP = event.EffectiveIP()
	}
}

func (p *Pipeline) enrich(ctx context.Context, event *models.Event) {
	defer p.observe(metrics.StageEnrich, time.Now())
	p.enricher.Enrich(ctx, event)
}

func (p *Pipeline) detect(ctx context.Context, event *models.Event) error {
	defer p.observe(metrics.StageRules, time.Now())

	alerts, severity, err := p.rules.Evaluate(ctx, event)
	if err != nil {
		return err
	}
	for _, alert := range alerts {
		event.AppendAlert(alert)
	}
	if len(alerts) > 0 {
		event.EscalateSeverity(severity)
	}
	return nil
}

func (p *Pipeline) score(ctx context.Context, event *models.Event) {
	defer p.observe(metrics.StageAnomaly, time.Now())

	result := p.scorer.Score(ctx, event)
	event.AnomalyScore = result.Score
	event.AnomalyExplanation = result.Explanation
	if result.Score > anomalyAlertThreshold {
		event.MLAnomaly = true
		event.AppendAlert("ML Detection: " + result.Explanation)
	}
}

func (p *Pipeline) correlate(ctx context.Context, event *models.Event) error {
	defer p.observe(metrics.StageCorrelate, time.Now())

	incidents, err := p.correlator.Process(ctx, event)
	if err != nil {
		return err
	}
	if len(incidents) > 0 {
		event.EscalateSeverity(models.SeverityCritical)
	}
	return nil
}

func (p *Pipeline) respond(ctx context.Context, event *models.Event) error {
	defer p.observe(metrics.StageRespond, time.Now())

	action, err := p.responder.Respond(ctx, event)
	if err != nil {
		return err
	}
	if action != nil {
		event.Response = action
	}
	return nil
}

func (p *Pipeline) persist(ctx context.Context, event *models.Event) error {
	defer p.observe(metrics.StagePersist, time.Now())
	return p.index.Persist(ctx, event)
}

func (p *Pipeline) observe(stage string, started time.Time) {
	p.metrics.ObserveStage(stage, time.Since(started).Seconds())
}
