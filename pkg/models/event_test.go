package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventJSONRoundTrip(t *testing.T) {
	t.Run("preserves passthrough keys", func(t *testing.T) {
		wire := `{"source":"nginx","message":"GET /","level":"INFO","trace_id":"abc-123","custom":{"a":1}}`

		var e Event
		require.NoError(t, json.Unmarshal([]byte(wire), &e))

		assert.Equal(t, "nginx", e.Source)
		assert.Equal(t, "GET /", e.Message)
		assert.Equal(t, "abc-123", e.Extra["trace_id"])
		require.Contains(t, e.Extra, "custom")

		out, err := json.Marshal(&e)
		require.NoError(t, err)

		var m map[string]any
		require.NoError(t, json.Unmarshal(out, &m))
		assert.Equal(t, "abc-123", m["trace_id"])
		assert.Equal(t, "nginx", m["source"])
	})

	t.Run("known fields win over extra keys of the same name", func(t *testing.T) {
		e := Event{
			Source:  "ssh",
			Message: "ok",
			IP:      "10.1.1.1",
			Extra:   map[string]any{"ip": "6.6.6.6"},
		}

		out, err := json.Marshal(&e)
		require.NoError(t, err)

		var m map[string]any
		require.NoError(t, json.Unmarshal(out, &m))
		assert.Equal(t, "10.1.1.1", m["ip"])
	})

	t.Run("detection fields survive a round trip", func(t *testing.T) {
		e := Event{
			Source:    "ssh",
			Message:   "Failed password",
			Severity:  SeverityHigh,
			Alerts:    []string{"SSH Brute Force Detected from 1.2.3.4 (5 failures)"},
			Incidents: []string{"Suspicious Login after Brute Force (1.2.3.4)"},
			Response:  &ResponseAction{Action: "block", Score: 100, Reason: "Risk Score 100 > Threshold 80"},
			Geo:       &Geo{Country: "DE", City: "Berlin", Lat: 52.52, Lon: 13.4, ISP: "AS3320"},
		}

		out, err := json.Marshal(&e)
		require.NoError(t, err)

		var back Event
		require.NoError(t, json.Unmarshal(out, &back))
		assert.Equal(t, e.Alerts, back.Alerts)
		assert.Equal(t, e.Incidents, back.Incidents)
		assert.Equal(t, e.Severity, back.Severity)
		require.NotNil(t, back.Response)
		assert.Equal(t, "block", back.Response.Action)
		require.NotNil(t, back.Geo)
		assert.Equal(t, 52.52, back.Geo.Lat)
	})
}

func TestEffectiveIP(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name:  "top-level ip wins",
			event: Event{IP: "1.1.1.1", Metadata: map[string]any{"ip": "2.2.2.2"}},
			want:  "1.1.1.1",
		},
		{
			name:  "falls back to metadata",
			event: Event{Metadata: map[string]any{"ip": "2.2.2.2"}},
			want:  "2.2.2.2",
		},
		{
			name:  "non-string metadata ip ignored",
			event: Event{Metadata: map[string]any{"ip": 42}},
			want:  "",
		},
		{
			name:  "no ip anywhere",
			event: Event{},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.EffectiveIP())
		})
	}
}

func TestMerge(t *testing.T) {
	t.Run("existing top-level values win", func(t *testing.T) {
		e := Event{Source: "ssh", Message: "m", IP: "9.9.9.9"}
		e.Merge(map[string]any{
			"ip":         "1.2.3.4",
			"user":       "root",
			"event_type": "ssh_login_failed",
		})

		assert.Equal(t, "9.9.9.9", e.IP)
		assert.Equal(t, "root", e.User)
		assert.Equal(t, "ssh_login_failed", e.EventType)
	})

	t.Run("integer fields coerce from float64", func(t *testing.T) {
		e := Event{Source: "nginx", Message: "m"}
		e.Merge(map[string]any{"status": float64(404), "bytes": 512})

		assert.Equal(t, 404, e.Status)
		assert.Equal(t, 512, e.Bytes)
	})

	t.Run("unknown keys land in extra without clobbering", func(t *testing.T) {
		e := Event{Source: "ssh", Message: "m", Extra: map[string]any{"tag": "keep"}}
		e.Merge(map[string]any{"tag": "drop", "other": "v"})

		assert.Equal(t, "keep", e.Extra["tag"])
		assert.Equal(t, "v", e.Extra["other"])
	})
}

func TestEscalateSeverity(t *testing.T) {
	e := Event{}

	e.EscalateSeverity(SeverityMedium)
	assert.Equal(t, SeverityMedium, e.Severity)

	// Lower severity never downgrades.
	e.EscalateSeverity(SeverityLow)
	assert.Equal(t, SeverityMedium, e.Severity)

	e.EscalateSeverity(SeverityCritical)
	assert.Equal(t, SeverityCritical, e.Severity)
}

func TestMaxSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, MaxSeverity(SeverityHigh, SeverityCritical))
	assert.Equal(t, SeverityHigh, MaxSeverity(SeverityHigh, SeverityMedium))
	assert.Equal(t, SeverityInfo, MaxSeverity("", SeverityInfo))
	assert.Equal(t, SeverityLow, MaxSeverity(SeverityLow, "unknown"))
}
