package api

// IngestResponse is returned by POST /api/v1/ingest/logs and /ingest/raw.
type IngestResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// RootResponse is returned by GET /.
type RootResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// HealthCheck is one dependency check inside HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}
