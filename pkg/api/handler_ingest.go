package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/aegis-siem/aegis/pkg/models"
	"github.com/aegis-siem/aegis/pkg/services"
)

// ingestLogsHandler handles POST /api/v1/ingest/logs.
// Accepts a single event or an array of events. The access gate
// (blocklist, rate limit) has already run as middleware.
func (s *Server) ingestLogsHandler(c *echo.Context) error {
	// 1. Read the body.
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	// 2. Decode single event or batch.
	events, err := decodeEvents(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body: "+err.Error())
	}

	// 3. Collect forwarder metadata from headers.
	headerMeta := map[string]string{
		"source_host": c.Request().Header.Get("X-Source-Host"),
		"app_name":    c.Request().Header.Get("X-App-Name"),
	}

	// 4. Validate and queue the batch.
	count, err := s.ingestService.SubmitEvents(c.Request().Context(), events, headerMeta)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusAccepted, &IngestResponse{
		Status: "queued",
		Count:  count,
	})
}

// ingestRawHandler handles POST /api/v1/ingest/raw.
// The plain-text body is wrapped into an event; the worker-side
// normalizer decides what to make of it.
func (s *Server) ingestRawHandler(c *echo.Context) error {
	// 1. Read the plain-text body.
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	// 2. Wrap and queue.
	_, err = s.ingestService.SubmitRaw(c.Request().Context(), services.RawIngestInput{
		Body:     string(body),
		ClientIP: clientIP(c.Request()),
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusAccepted, &IngestResponse{
		Status: "queued",
		Count:  1,
	})
}

// decodeEvents parses the request body as either a single event object
// or an array of events.
func decodeEvents(body []byte) ([]*models.Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	if trimmed[0] == '[' {
		var events []*models.Event
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, err
		}
		return events, nil
	}

	var event models.Event
	if err := json.Unmarshal(trimmed, &event); err != nil {
		return nil, err
	}
	return []*models.Event{&event}, nil
}
