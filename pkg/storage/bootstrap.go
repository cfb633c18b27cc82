package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// indexFamily declares one document family: its lifecycle policy, index
// template, and the bootstrap index ILM rolls over from.
type indexFamily struct {
	policyName     string
	templateName   string
	pattern        string
	writeAlias     string
	bootstrapIndex string
	rolloverMaxAge string
	retention      string
	mappings       map[string]any
}

// families is the full set of document families the pipeline writes.
// Retention is enforced by ILM, not by the engine.
var families = []indexFamily{
	{
		policyName:     "siem_logs_policy",
		templateName:   "siem_logs_template",
		pattern:        LogsPattern,
		writeAlias:     LogsWriteAlias,
		bootstrapIndex: "logs-000001",
		rolloverMaxAge: "1d",
		retention:      "7d",
		mappings: map[string]any{
			"timestamp": map[string]any{"type": "date"},
			"ip":        map[string]any{"type": "ip"},
			"location":  map[string]any{"type": "geo_point"},
		},
	},
	{
		policyName:     "siem_alerts_policy",
		templateName:   "siem_alerts_template",
		pattern:        AlertsPattern,
		writeAlias:     AlertsWriteAlias,
		bootstrapIndex: "alerts-000001",
		rolloverMaxAge: "30d",
		retention:      "30d",
		mappings: map[string]any{
			"timestamp": map[string]any{"type": "date"},
			"severity":  map[string]any{"type": "keyword"},
			"rule_name": map[string]any{"type": "keyword"},
		},
	},
	{
		policyName:     "siem_incidents_policy",
		templateName:   "siem_incidents_template",
		pattern:        IncidentsPattern,
		writeAlias:     IncidentsWriteAlias,
		bootstrapIndex: "incidents-000001",
		rolloverMaxAge: "30d",
		retention:      "90d",
		mappings: map[string]any{
			"timestamp": map[string]any{"type": "date"},
			"status":    map[string]any{"type": "keyword"},
		},
	},
}

// EnsureIndexes installs the lifecycle policies and index templates, then
// bootstraps the first index of each family with its write alias. Families
// whose alias already exists are left untouched, so this is safe to run on
// every startup.
func (ei *EventIndex) EnsureIndexes(ctx context.Context) error {
	for _, fam := range families {
		if err := ei.putLifecyclePolicy(ctx, fam); err != nil {
			return err
		}
		if err := ei.putIndexTemplate(ctx, fam); err != nil {
			return err
		}
		if err := ei.bootstrapIndex(ctx, fam); err != nil {
			return err
		}
	}
	slog.Info("Event index ready", "families", len(families))
	return nil
}

// putLifecyclePolicy installs the hot-rollover-then-delete policy for one
// family.
func (ei *EventIndex) putLifecyclePolicy(ctx context.Context, fam indexFamily) error {
	policy := map[string]any{
		"policy": map[string]any{
			"phases": map[string]any{
				"hot": map[string]any{
					"min_age": "0ms",
					"actions": map[string]any{
						"rollover": map[string]any{
							"max_size": "50gb",
							"max_age":  fam.rolloverMaxAge,
						},
					},
				},
				"delete": map[string]any{
					"min_age": fam.retention,
					"actions": map[string]any{
						"delete": map[string]any{},
					},
				},
			},
		},
	}

	body, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("serializing policy %s: %w", fam.policyName, err)
	}
	res, err := ei.es.ILM.PutLifecycle(fam.policyName,
		ei.es.ILM.PutLifecycle.WithBody(bytes.NewReader(body)),
		ei.es.ILM.PutLifecycle.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("installing policy %s: %w", fam.policyName, err)
	}
	defer closeResponse(res)
	if res.IsError() {
		return fmt.Errorf("installing policy %s: %s", fam.policyName, res.Status())
	}
	return nil
}

// putIndexTemplate installs the template binding new indices of a family to
// its policy, write alias, and mappings.
func (ei *EventIndex) putIndexTemplate(ctx context.Context, fam indexFamily) error {
	template := map[string]any{
		"index_patterns": []string{fam.pattern},
		"template": map[string]any{
			"settings": map[string]any{
				"number_of_shards":               1,
				"number_of_replicas":             0,
				"index.lifecycle.name":           fam.policyName,
				"index.lifecycle.rollover_alias": fam.writeAlias,
			},
			"mappings": map[string]any{
				"properties": fam.mappings,
			},
		},
	}

	body, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("serializing template %s: %w", fam.templateName, err)
	}
	res, err := ei.es.Indices.PutIndexTemplate(fam.templateName, bytes.NewReader(body),
		ei.es.Indices.PutIndexTemplate.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("installing template %s: %w", fam.templateName, err)
	}
	defer closeResponse(res)
	if res.IsError() {
		return fmt.Errorf("installing template %s: %s", fam.templateName, res.Status())
	}
	return nil
}

// bootstrapIndex creates the first generation index with its write alias.
// ILM needs the alias to exist before it can roll anything over. Skipped
// when the alias is already present.
func (ei *EventIndex) bootstrapIndex(ctx context.Context, fam indexFamily) error {
	res, err := ei.es.Indices.ExistsAlias([]string{fam.writeAlias},
		ei.es.Indices.ExistsAlias.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("checking alias %s: %w", fam.writeAlias, err)
	}
	closeResponse(res)
	if res.StatusCode == 200 {
		return nil
	}

	create := map[string]any{
		"aliases": map[string]any{
			fam.writeAlias: map[string]any{
				"is_write_index": true,
			},
		},
	}
	body, err := json.Marshal(create)
	if err != nil {
		return fmt.Errorf("serializing bootstrap for %s: %w", fam.bootstrapIndex, err)
	}
	createRes, err := ei.es.Indices.Create(fam.bootstrapIndex,
		ei.es.Indices.Create.WithBody(bytes.NewReader(body)),
		ei.es.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bootstrapping %s: %w", fam.bootstrapIndex, err)
	}
	defer closeResponse(createRes)
	if createRes.IsError() {
		return fmt.Errorf("bootstrapping %s: %s", fam.bootstrapIndex, createRes.Status())
	}

	slog.Info("Bootstrapped index", "index", fam.bootstrapIndex, "alias", fam.writeAlias)
	return nil
}
