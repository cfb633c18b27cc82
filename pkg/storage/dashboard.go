package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/aegis-siem/aegis/pkg/models"
)

// Stats is the aggregate summary shown at the top of the dashboard.
type Stats struct {
	TotalLogs       int64 `json:"total_logs"`
	TotalAlerts     int64 `json:"total_alerts"`
	TotalIncidents  int64 `json:"total_incidents"`
	CriticalLast24h int64 `json:"critical_last_24h"`
}

// ActivityPoint is one hourly bucket of the ingest timeline.
type ActivityPoint struct {
	Name string `json:"name"`
	Logs int64  `json:"logs"`
}

// MapPoint is one geo-located event for the attack map.
type MapPoint struct {
	IP       string  `json:"ip"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Severity string  `json:"severity"`
}

// defaultFeedLimit bounds feed queries when the caller does not give a
// usable limit.
const defaultFeedLimit = 10

// Stats returns document totals per family plus the count of critical
// alerts raised in the last 24 hours.
func (ei *EventIndex) Stats(ctx context.Context) (*Stats, error) {
	totalLogs, err := ei.count(ctx, LogsPattern, nil)
	if err != nil {
		return nil, err
	}
	totalAlerts, err := ei.count(ctx, AlertsPattern, nil)
	if err != nil {
		return nil, err
	}
	totalIncidents, err := ei.count(ctx, IncidentsPattern, nil)
	if err != nil {
		return nil, err
	}
	critical, err := ei.count(ctx, AlertsPattern, map[string]any{
		"bool": map[string]any{
			"filter": []any{
				map[string]any{"term": map[string]any{"severity": models.SeverityCritical}},
				map[string]any{"range": map[string]any{"timestamp": map[string]any{"gte": "now-24h"}}},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	return &Stats{
		TotalLogs:       totalLogs,
		TotalAlerts:     totalAlerts,
		TotalIncidents:  totalIncidents,
		CriticalLast24h: critical,
	}, nil
}

// RecentAlerts returns the newest alert documents, newest first.
func (ei *EventIndex) RecentAlerts(ctx context.Context, limit int) ([]map[string]any, error) {
	return ei.recent(ctx, AlertsPattern, limit)
}

// RecentIncidents returns the newest incident documents, newest first.
func (ei *EventIndex) RecentIncidents(ctx context.Context, limit int) ([]map[string]any, error) {
	return ei.recent(ctx, IncidentsPattern, limit)
}

// SearchLogs returns the newest log documents, optionally filtered by a
// query string, newest first.
func (ei *EventIndex) SearchLogs(ctx context.Context, limit int, query string) ([]map[string]any, error) {
	body := map[string]any{
		"size": clampLimit(limit),
		"sort": []any{map[string]any{"timestamp": "desc"}},
	}
	if query != "" {
		body["query"] = map[string]any{
			"query_string": map[string]any{"query": query},
		}
	}

	res, err := ei.search(ctx, LogsPattern, body)
	if err != nil {
		return nil, err
	}
	return decodeSources(res)
}

// HourlyActivity returns the hourly event volume for the timeline chart.
func (ei *EventIndex) HourlyActivity(ctx context.Context) ([]ActivityPoint, error) {
	body := map[string]any{
		"size": 0,
		"aggs": map[string]any{
			"logs_over_time": map[string]any{
				"date_histogram": map[string]any{
					"field":             "timestamp",
					"calendar_interval": "hour",
				},
			},
		},
	}

	res, err := ei.search(ctx, LogsPattern, body)
	if err != nil {
		return nil, err
	}

	points := make([]ActivityPoint, 0, len(res.Aggregations.LogsOverTime.Buckets))
	for _, bucket := range res.Aggregations.LogsOverTime.Buckets {
		points = append(points, ActivityPoint{Name: bucket.KeyAsString, Logs: bucket.DocCount})
	}
	return points, nil
}

// AttackMap returns up to 100 recent geo-located events. Events whose
// latitude is zero carry no usable location and are dropped.
func (ei *EventIndex) AttackMap(ctx context.Context) ([]MapPoint, error) {
	body := map[string]any{
		"size":    100,
		"query":   map[string]any{"exists": map[string]any{"field": "geo"}},
		"_source": []string{"ip", "geo", "severity"},
	}

	res, err := ei.search(ctx, LogsPattern, body)
	if err != nil {
		return nil, err
	}

	var points []MapPoint
	for _, hit := range res.Hits.Hits {
		var doc struct {
			IP       string      `json:"ip"`
			Severity string      `json:"severity"`
			Geo      *models.Geo `json:"geo"`
		}
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			continue
		}
		if doc.Geo == nil || doc.Geo.Lat == 0 {
			continue
		}
		severity := doc.Severity
		if severity == "" {
			severity = models.SeverityInfo
		}
		points = append(points, MapPoint{
			IP:       doc.IP,
			Lat:      doc.Geo.Lat,
			Lon:      doc.Geo.Lon,
			Severity: severity,
		})
	}
	return points, nil
}

// recent runs a newest-first feed query against one family.
func (ei *EventIndex) recent(ctx context.Context, pattern string, limit int) ([]map[string]any, error) {
	body := map[string]any{
		"size": clampLimit(limit),
		"sort": []any{map[string]any{"timestamp": "desc"}},
	}
	res, err := ei.search(ctx, pattern, body)
	if err != nil {
		return nil, err
	}
	return decodeSources(res)
}

// searchResponse is the subset of the search API response the dashboard
// reads.
type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations struct {
		LogsOverTime struct {
			Buckets []struct {
				KeyAsString string `json:"key_as_string"`
				DocCount    int64  `json:"doc_count"`
			} `json:"buckets"`
		} `json:"logs_over_time"`
	} `json:"aggregations"`
}

// search runs one search request and decodes the response envelope.
func (ei *EventIndex) search(ctx context.Context, pattern string, body map[string]any) (*searchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("serializing search for %s: %w", pattern, err)
	}
	res, err := ei.es.Search(
		ei.es.Search.WithContext(ctx),
		ei.es.Search.WithIndex(pattern),
		ei.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", pattern, err)
	}
	defer closeResponse(res)
	if res.IsError() {
		return nil, fmt.Errorf("searching %s: %s", pattern, res.Status())
	}

	var out searchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding search response from %s: %w", pattern, err)
	}
	return &out, nil
}

// count runs one count request, optionally filtered.
func (ei *EventIndex) count(ctx context.Context, pattern string, query map[string]any) (int64, error) {
	opts := []func(*esapi.CountRequest){
		ei.es.Count.WithContext(ctx),
		ei.es.Count.WithIndex(pattern),
	}
	if query != nil {
		body, err := json.Marshal(map[string]any{"query": query})
		if err != nil {
			return 0, fmt.Errorf("serializing count query for %s: %w", pattern, err)
		}
		opts = append(opts, ei.es.Count.WithBody(bytes.NewReader(body)))
	}

	res, err := ei.es.Count(opts...)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", pattern, err)
	}
	defer closeResponse(res)
	if res.IsError() {
		return 0, fmt.Errorf("counting %s: %s", pattern, res.Status())
	}

	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decoding count response from %s: %w", pattern, err)
	}
	return out.Count, nil
}

// decodeSources flattens search hits to their source documents.
func decodeSources(res *searchResponse) ([]map[string]any, error) {
	docs := make([]map[string]any, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		var doc map[string]any
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			return nil, fmt.Errorf("decoding document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// clampLimit applies the default feed size for non-positive limits.
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultFeedLimit
	}
	return limit
}
