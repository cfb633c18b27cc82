// Package storage provides the Elasticsearch-backed event index: the
// append-only home for processed logs, alerts, and incidents.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/aegis-siem/aegis/pkg/models"
)

// Write aliases for the three document families. ILM rolls the backing
// indices; writers only ever see the alias.
const (
	LogsWriteAlias      = "logs-write"
	AlertsWriteAlias    = "alerts-write"
	IncidentsWriteAlias = "incidents-write"
)

// Read patterns covering every generation of each family.
const (
	LogsPattern      = "logs-*"
	AlertsPattern    = "alerts-*"
	IncidentsPattern = "incidents-*"
)

// EventIndex is the write/read interface to the event store.
type EventIndex struct {
	es *elasticsearch.Client
}

// NewClient creates an Elasticsearch client for the given URL.
func NewClient(esURL string) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{esURL},
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return client, nil
}

// NewEventIndex creates the event index on an existing client.
// Panics if es is nil (programming error).
func NewEventIndex(es *elasticsearch.Client) *EventIndex {
	if es == nil {
		panic("elasticsearch client is required")
	}
	return &EventIndex{es: es}
}

// Ping verifies the store is reachable.
func (ei *EventIndex) Ping(ctx context.Context) error {
	res, err := ei.es.Ping(ei.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("pinging elasticsearch: %w", err)
	}
	defer closeResponse(res)
	if res.IsError() {
		return fmt.Errorf("pinging elasticsearch: %s", res.Status())
	}
	return nil
}

// Persist writes a processed event to the store: the full document to the
// log family, one lightweight document per alert, and one document per
// incident. The worker calls this exactly once per successfully processed
// event.
func (ei *EventIndex) Persist(ctx context.Context, event *models.Event) error {
	if err := ei.index(ctx, LogsWriteAlias, event); err != nil {
		return err
	}

	for _, rule := range event.Alerts {
		doc := map[string]any{
			"timestamp": event.Timestamp,
			"source_ip": event.EffectiveIP(),
			"rule_name": rule,
			"severity":  event.Severity,
			"metadata":  event.Metadata,
		}
		if err := ei.index(ctx, AlertsWriteAlias, doc); err != nil {
			return err
		}
	}

	for _, incident := range event.Incidents {
		doc := map[string]any{
			"timestamp":     event.Timestamp,
			"incident":      incident,
			"severity":      models.SeverityCritical,
			"log_reference": event,
		}
		if err := ei.index(ctx, IncidentsWriteAlias, doc); err != nil {
			return err
		}
	}

	return nil
}

// index writes a single document to the given alias.
func (ei *EventIndex) index(ctx context.Context, alias string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("serializing document for %s: %w", alias, err)
	}
	res, err := ei.es.Index(alias, bytes.NewReader(body), ei.es.Index.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("indexing to %s: %w", alias, err)
	}
	defer closeResponse(res)
	if res.IsError() {
		return fmt.Errorf("indexing to %s: %s", alias, res.Status())
	}
	return nil
}

// closeResponse drains and closes a response body so the underlying
// connection can be reused.
func closeResponse(res *esapi.Response) {
	if res != nil && res.Body != nil {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}
}
