package models

import (
	"encoding/json"
)

// Geo holds geolocation enrichment for an event's source IP.
type Geo struct {
	Country string  `json:"country"`
	City    string  `json:"city"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	ISP     string  `json:"isp"`
}

// ThreatIntel holds reputation enrichment for an event's source IP.
type ThreatIntel struct {
	AbuseScore int    `json:"abuse_score"`
	IsTor      bool   `json:"is_tor"`
	UsageType  string `json:"usage_type"`
}

// UADetails holds the parsed user-agent breakdown.
type UADetails struct {
	Browser string `json:"browser"`
	OS      string `json:"os"`
	Device  string `json:"device"`
}

// ResponseAction is the automated response decision attached to an event.
type ResponseAction struct {
	Action string `json:"action"`
	Score  int    `json:"score,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Event is the mutable envelope that flows through the pipeline: created by
// the ingest API, mutated in place by the worker stages, persisted once.
//
// Unknown wire fields survive a decode/encode round trip via Extra, so
// producers may attach keys the pipeline does not model (they are preserved
// in the indexed document).
type Event struct {
	ID        string         `json:"id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Source    string         `json:"source"`
	Level     string         `json:"level,omitempty"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Set by the normalizer (merge is non-destructive: existing values win).
	IP         string `json:"ip,omitempty"`
	User       string `json:"user,omitempty"`
	RemoteUser string `json:"remote_user,omitempty"`
	EventType  string `json:"event_type,omitempty"`
	Status     int    `json:"status,omitempty"`
	Bytes      int    `json:"bytes,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	Path       string `json:"path,omitempty"`
	Verb       string `json:"verb,omitempty"`
	Referrer   string `json:"referrer,omitempty"`
	Dst        string `json:"dst,omitempty"`
	Proto      string `json:"proto,omitempty"`
	Action     string `json:"action,omitempty"`

	// Set by the enricher.
	Geo         *Geo         `json:"geo,omitempty"`
	ThreatIntel *ThreatIntel `json:"threat_intel,omitempty"`
	UADetails   *UADetails   `json:"ua_details,omitempty"`

	// Detection outputs. Alerts and Incidents are append-only within a
	// single event lifetime; Severity only escalates.
	Alerts             []string        `json:"alerts,omitempty"`
	Severity           string          `json:"severity,omitempty"`
	AnomalyScore       float64         `json:"anomaly_score,omitempty"`
	AnomalyExplanation string          `json:"anomaly_explanation,omitempty"`
	MLAnomaly          bool            `json:"ml_anomaly,omitempty"`
	Incidents          []string        `json:"incidents,omitempty"`
	Response           *ResponseAction `json:"response_action,omitempty"`

	// Extra carries wire fields the pipeline does not model.
	Extra map[string]any `json:"-"`
}

// knownEventKeys lists every JSON key the Event struct models; anything else
// on the wire lands in Extra.
var knownEventKeys = []string{
	"id", "timestamp", "source", "level", "message", "metadata",
	"ip", "user", "remote_user", "event_type", "status", "bytes",
	"user_agent", "path", "verb", "referrer", "dst", "proto", "action",
	"geo", "threat_intel", "ua_details",
	"alerts", "severity", "anomaly_score", "anomaly_explanation",
	"ml_anomaly", "incidents", "response_action",
}

// eventAlias avoids infinite recursion in the custom JSON methods.
type eventAlias Event

// UnmarshalJSON decodes the known fields and captures the remainder in Extra.
func (e *Event) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, (*eventAlias)(e)); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownEventKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		e.Extra = raw
	}
	return nil
}

// MarshalJSON re-attaches Extra at the top level. Known fields win over
// Extra keys of the same name, so passthrough data can never shadow
// pipeline output.
func (e *Event) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal((*eventAlias)(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return b, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range e.Extra {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// EffectiveIP resolves the event's source IP with a fixed precedence:
// the top-level field, else metadata["ip"]. Every stage resolves the IP
// through this one helper.
func (e *Event) EffectiveIP() string {
	if e.IP != "" {
		return e.IP
	}
	if e.Metadata != nil {
		if ip, ok := e.Metadata["ip"].(string); ok {
			return ip
		}
	}
	return ""
}

// SetMeta sets a metadata key, allocating the map on first use.
func (e *Event) SetMeta(key string, value any) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
}

// AppendAlert appends a finding to the alert list.
func (e *Event) AppendAlert(msg string) {
	e.Alerts = append(e.Alerts, msg)
}

// AppendIncidents appends correlator findings to the incident list.
func (e *Event) AppendIncidents(msgs ...string) {
	e.Incidents = append(e.Incidents, msgs...)
}

// EscalateSeverity raises the event severity to s if s ranks higher.
// Severity never goes down.
func (e *Event) EscalateSeverity(s string) {
	if SeverityRank(s) > SeverityRank(e.Severity) {
		e.Severity = s
	}
}

// Merge applies normalizer-extracted fields non-destructively: a field is
// set only when the event does not already carry a value for it. Keys the
// struct does not model go to Extra under the same rule.
func (e *Event) Merge(fields map[string]any) {
	for k, v := range fields {
		switch k {
		case "source":
			setString(&e.Source, v)
		case "ip":
			setString(&e.IP, v)
		case "user":
			setString(&e.User, v)
		case "remote_user":
			setString(&e.RemoteUser, v)
		case "event_type":
			setString(&e.EventType, v)
		case "status":
			setInt(&e.Status, v)
		case "bytes":
			setInt(&e.Bytes, v)
		case "user_agent":
			setString(&e.UserAgent, v)
		case "path":
			setString(&e.Path, v)
		case "verb":
			setString(&e.Verb, v)
		case "referrer":
			setString(&e.Referrer, v)
		case "dst":
			setString(&e.Dst, v)
		case "proto":
			setString(&e.Proto, v)
		case "action":
			setString(&e.Action, v)
		default:
			if e.Extra == nil {
				e.Extra = make(map[string]any)
			}
			if _, ok := e.Extra[k]; !ok {
				e.Extra[k] = v
			}
		}
	}
}

func setString(dst *string, v any) {
	if *dst != "" {
		return
	}
	if s, ok := v.(string); ok {
		*dst = s
	}
}

func setInt(dst *int, v any) {
	if *dst != 0 {
		return
	}
	switch n := v.(type) {
	case int:
		*dst = n
	case float64:
		*dst = int(n)
	}
}
