package enrichment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-siem/aegis/pkg/config"
	"github.com/aegis-siem/aegis/pkg/models"
)

func testSettings() *config.Settings {
	return &config.Settings{
		IPInfoBaseURL:    "http://geo.invalid",
		AbuseIPDBBaseURL: "http://abuse.invalid",
	}
}

func TestEnrichGeo(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/10.0.0.1", r.URL.Path)
		assert.Equal(t, "test-token", r.URL.Query().Get("token"))
		_, _ = w.Write([]byte(`{"country":"FR","city":"Paris","loc":"48.8566,2.3522","org":"AS1234 Example ISP"}`))
	}))
	defer srv.Close()

	settings := testSettings()
	settings.IPInfoBaseURL = srv.URL
	settings.IPInfoToken = "test-token"
	e := New(settings)

	event := &models.Event{Source: "ssh", Message: "x", IP: "10.0.0.1"}
	e.Enrich(context.Background(), event)

	require.NotNil(t, event.Geo)
	assert.Equal(t, "FR", event.Geo.Country)
	assert.Equal(t, "Paris", event.Geo.City)
	assert.Equal(t, 48.8566, event.Geo.Lat)
	assert.Equal(t, 2.3522, event.Geo.Lon)
	assert.Equal(t, "AS1234 Example ISP", event.Geo.ISP)

	// Same IP again hits the cache, not the API.
	e.Enrich(context.Background(), &models.Event{Source: "ssh", Message: "y", IP: "10.0.0.1"})
	assert.Equal(t, int32(1), calls.Load())
}

func TestEnrichGeoDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"loc":"not-a-pair"}`))
	}))
	defer srv.Close()

	settings := testSettings()
	settings.IPInfoBaseURL = srv.URL
	settings.IPInfoToken = "tok"
	e := New(settings)

	event := &models.Event{Source: "ssh", Message: "x", IP: "10.0.0.2"}
	e.Enrich(context.Background(), event)

	require.NotNil(t, event.Geo)
	assert.Equal(t, "Unknown", event.Geo.Country)
	assert.Equal(t, "Unknown", event.Geo.City)
	assert.Zero(t, event.Geo.Lat)
	assert.Zero(t, event.Geo.Lon)
	assert.Equal(t, "Unknown", event.Geo.ISP)
}

func TestEnrichGeoFailureOmitsFieldAndIsCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	settings := testSettings()
	settings.IPInfoBaseURL = srv.URL
	settings.IPInfoToken = "tok"
	e := New(settings)

	event := &models.Event{Source: "ssh", Message: "x", IP: "10.0.0.3"}
	e.Enrich(context.Background(), event)
	assert.Nil(t, event.Geo)

	// The failure is cached: the dead API is not retried per event.
	e.Enrich(context.Background(), &models.Event{Source: "ssh", Message: "y", IP: "10.0.0.3"})
	assert.Equal(t, int32(1), calls.Load())
}

func TestEnrichSkipsGeoWithoutToken(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	settings := testSettings()
	settings.IPInfoBaseURL = srv.URL
	e := New(settings)

	e.Enrich(context.Background(), &models.Event{Source: "ssh", Message: "x", IP: "10.0.0.4"})
	assert.Zero(t, calls.Load())
}

func TestEnrichThreatIntelHighScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/check", r.URL.Path)
		assert.Equal(t, "203.0.113.9", r.URL.Query().Get("ipAddress"))
		assert.Equal(t, "90", r.URL.Query().Get("maxAgeInDays"))
		assert.Equal(t, "secret-key", r.Header.Get("Key"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"data":{"abuseConfidenceScore":95,"isTor":true,"usageType":"Data Center/Web Hosting/Transit"}}`))
	}))
	defer srv.Close()

	settings := testSettings()
	settings.AbuseIPDBBaseURL = srv.URL
	settings.AbuseIPDBKey = "secret-key"
	e := New(settings)

	event := &models.Event{Source: "ssh", Message: "x", IP: "203.0.113.9"}
	e.Enrich(context.Background(), event)

	require.NotNil(t, event.ThreatIntel)
	assert.Equal(t, 95, event.ThreatIntel.AbuseScore)
	assert.True(t, event.ThreatIntel.IsTor)
	assert.Equal(t, "Data Center/Web Hosting/Transit", event.ThreatIntel.UsageType)

	require.Len(t, event.Alerts, 1)
	assert.Equal(t, "High-Risk IP Detected (AbuseIPDB Score: 95)", event.Alerts[0])
	assert.Equal(t, models.SeverityHigh, event.Severity)
}

func TestEnrichThreatIntelLowScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"abuseConfidenceScore":10,"isTor":false}}`))
	}))
	defer srv.Close()

	settings := testSettings()
	settings.AbuseIPDBBaseURL = srv.URL
	settings.AbuseIPDBKey = "secret-key"
	e := New(settings)

	event := &models.Event{Source: "ssh", Message: "x", IP: "203.0.113.10"}
	e.Enrich(context.Background(), event)

	require.NotNil(t, event.ThreatIntel)
	assert.Equal(t, 10, event.ThreatIntel.AbuseScore)
	assert.Equal(t, "Unknown", event.ThreatIntel.UsageType)
	assert.Empty(t, event.Alerts)
	assert.Empty(t, event.Severity)
}

func TestEnrichUserAgent(t *testing.T) {
	e := New(testSettings())

	event := &models.Event{
		Source:    "nginx",
		Message:   "x",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	}
	e.Enrich(context.Background(), event)

	require.NotNil(t, event.UADetails)
	assert.Equal(t, "Chrome", event.UADetails.Browser)
	assert.Contains(t, event.UADetails.OS, "Windows")
}

func TestEnrichNoUserAgent(t *testing.T) {
	e := New(testSettings())

	event := &models.Event{Source: "nginx", Message: "x"}
	e.Enrich(context.Background(), event)
	assert.Nil(t, event.UADetails)
}

func TestEnrichMetadataIPFallback(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"country":"DE","city":"Berlin","loc":"52.52,13.40","org":"ISP"}`))
	}))
	defer srv.Close()

	settings := testSettings()
	settings.IPInfoBaseURL = srv.URL
	settings.IPInfoToken = "tok"
	e := New(settings)

	event := &models.Event{
		Source:   "nginx",
		Message:  "x",
		Metadata: map[string]any{"ip": "198.51.100.7"},
	}
	e.Enrich(context.Background(), event)

	assert.Equal(t, "/198.51.100.7", path)
	require.NotNil(t, event.Geo)
	assert.Equal(t, "DE", event.Geo.Country)
}
