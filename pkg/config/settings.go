package config

import (
	"os"
	"strconv"
)

// Settings holds process-level configuration read from the environment.
// YAML-based detection and response policy live in RulesConfig and
// ResponseConfig; Settings covers endpoints, credentials, and naming.
type Settings struct {
	ProjectName string
	APIV1Prefix string

	RedisURL         string
	ElasticsearchURL string

	// Enrichment providers. The base URLs are overridable so tests can
	// point the enricher at local stubs; empty credentials disable the
	// corresponding lookup.
	IPInfoBaseURL   string
	IPInfoToken     string
	AbuseIPDBBaseURL string
	AbuseIPDBKey    string

	// ModelPath locates the anomaly model artifact. A missing file
	// disables scoring rather than failing startup.
	ModelPath string

	// RateLimitPerMinute caps ingest requests per client IP per minute.
	RateLimitPerMinute int
}

// LoadSettingsFromEnv builds Settings from the environment, applying
// defaults for anything unset.
func LoadSettingsFromEnv() *Settings {
	return &Settings{
		ProjectName:      getEnv("PROJECT_NAME", "Aegis – Intelligent SIEM & Intrusion Detection System"),
		APIV1Prefix:      getEnv("API_V1_STR", "/api/v1"),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		ElasticsearchURL: getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
		IPInfoBaseURL:    getEnv("IPINFO_URL", "https://ipinfo.io"),
		IPInfoToken:      getEnv("IPINFO_TOKEN", ""),
		AbuseIPDBBaseURL: getEnv("ABUSEIPDB_URL", "https://api.abuseipdb.com"),
		AbuseIPDBKey:     getEnv("ABUSEIPDB_API_KEY", ""),
		ModelPath:        getEnv("MODEL_PATH", "model/isoforest.json"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 1000),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
