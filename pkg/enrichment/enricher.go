// Package enrichment decorates events with geolocation, threat
// reputation, and user-agent details from external intelligence sources.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mssola/useragent"

	"github.com/aegis-siem/aegis/pkg/config"
	"github.com/aegis-siem/aegis/pkg/models"
)

const (
	// geoCacheSize bounds the per-IP geolocation cache, saving API quota
	// on repeat offenders.
	geoCacheSize = 1000

	// lookupTimeout is the hard deadline for each external call. The
	// pipeline prefers a missing field over a stalled worker.
	lookupTimeout = 2 * time.Second
)

// Enricher adds intelligence fields to events. Every lookup failure is
// swallowed: the field is omitted and the event continues unchanged.
type Enricher struct {
	settings   *config.Settings
	httpClient *http.Client
	geoCache   *lru.Cache[string, *models.Geo]
}

// New creates an Enricher.
// Panics if settings is nil (programming error).
func New(settings *config.Settings) *Enricher {
	if settings == nil {
		panic("settings are required")
	}
	// lru.New only fails for a non-positive size.
	cache, err := lru.New[string, *models.Geo](geoCacheSize)
	if err != nil {
		panic(fmt.Sprintf("creating geo cache: %v", err))
	}
	return &Enricher{
		settings:   settings,
		httpClient: &http.Client{Timeout: lookupTimeout},
		geoCache:   cache,
	}
}

// Enrich decorates the event in place. Geolocation and threat lookups run
// only when the matching credential is configured; user-agent parsing is
// local and always on.
func (e *Enricher) Enrich(ctx context.Context, event *models.Event) {
	ip := event.EffectiveIP()

	if ip != "" && e.settings.IPInfoToken != "" {
		if geo := e.lookupGeo(ctx, ip); geo != nil {
			event.Geo = geo
		}
	}

	if ip != "" && e.settings.AbuseIPDBKey != "" {
		e.applyThreatIntel(ctx, event, ip)
	}

	if event.UserAgent != "" {
		event.UADetails = parseUserAgent(event.UserAgent)
	}
}

// lookupGeo resolves an IP's location through the cache. Failed lookups
// are cached too, so a dead geolocation API is not hammered once per
// event.
func (e *Enricher) lookupGeo(ctx context.Context, ip string) *models.Geo {
	if geo, ok := e.geoCache.Get(ip); ok {
		return geo
	}
	geo := e.fetchGeo(ctx, ip)
	e.geoCache.Add(ip, geo)
	return geo
}

// fetchGeo queries the IPinfo-style endpoint for one IP.
func (e *Enricher) fetchGeo(ctx context.Context, ip string) *models.Geo {
	endpoint := fmt.Sprintf("%s/%s?token=%s", e.settings.IPInfoBaseURL, ip, url.QueryEscape(e.settings.IPInfoToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		slog.Warn("GeoIP lookup failed", "ip", ip, "error", err)
		return nil
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		slog.Warn("GeoIP lookup failed", "ip", ip, "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Warn("GeoIP lookup failed", "ip", ip, "status", resp.StatusCode)
		return nil
	}

	var payload struct {
		Country string `json:"country"`
		City    string `json:"city"`
		Loc     string `json:"loc"`
		Org     string `json:"org"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		slog.Warn("GeoIP lookup returned malformed body", "ip", ip, "error", err)
		return nil
	}

	lat, lon := parseLoc(payload.Loc)
	return &models.Geo{
		Country: orUnknown(payload.Country),
		City:    orUnknown(payload.City),
		Lat:     lat,
		Lon:     lon,
		ISP:     orUnknown(payload.Org),
	}
}

// applyThreatIntel queries the AbuseIPDB-style reputation endpoint and
// raises an alert for high-confidence abusers.
func (e *Enricher) applyThreatIntel(ctx context.Context, event *models.Event, ip string) {
	endpoint := fmt.Sprintf("%s/api/v2/check?ipAddress=%s&maxAgeInDays=90", e.settings.AbuseIPDBBaseURL, url.QueryEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		slog.Warn("Threat intel lookup failed", "ip", ip, "error", err)
		return
	}
	req.Header.Set("Key", e.settings.AbuseIPDBKey)
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		slog.Warn("Threat intel lookup failed", "ip", ip, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Warn("Threat intel lookup failed", "ip", ip, "status", resp.StatusCode)
		return
	}

	var payload struct {
		Data struct {
			AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
			IsTor                bool   `json:"isTor"`
			UsageType            string `json:"usageType"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		slog.Warn("Threat intel lookup returned malformed body", "ip", ip, "error", err)
		return
	}

	score := payload.Data.AbuseConfidenceScore
	event.ThreatIntel = &models.ThreatIntel{
		AbuseScore: score,
		IsTor:      payload.Data.IsTor,
		UsageType:  orUnknown(payload.Data.UsageType),
	}

	if score > 80 {
		event.AppendAlert(fmt.Sprintf("High-Risk IP Detected (AbuseIPDB Score: %d)", score))
		event.EscalateSeverity(models.SeverityHigh)
	}
}

// parseUserAgent extracts browser, OS, and platform families locally.
func parseUserAgent(raw string) *models.UADetails {
	ua := useragent.New(raw)
	browser, _ := ua.Browser()
	return &models.UADetails{
		Browser: browser,
		OS:      ua.OSInfo().Name,
		Device:  ua.Platform(),
	}
}

// parseLoc splits an "lat,lon" pair, yielding zeros for anything
// malformed.
func parseLoc(loc string) (float64, float64) {
	parts := strings.Split(loc, ",")
	if len(parts) != 2 {
		return 0, 0
	}
	lat, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		lat = 0
	}
	lon, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		lon = 0
	}
	return lat, lon
}

// orUnknown substitutes the placeholder for missing values.
func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
