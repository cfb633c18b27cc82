package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/aegis-siem/aegis/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// The state store and the queue are hard dependencies of the ingest
// path, so either failing makes the server unhealthy. An unreachable
// event index only degrades the read surface; ingest keeps working.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if err := s.store.Ping(reqCtx); err != nil {
		status = healthStatusUnhealthy
		checks["statestore"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["statestore"] = HealthCheck{Status: healthStatusHealthy}
	}

	if err := s.queue.Ping(reqCtx); err != nil {
		status = healthStatusUnhealthy
		checks["queue"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["queue"] = HealthCheck{Status: healthStatusHealthy}
	}

	if err := s.eventIndex.Ping(reqCtx); err != nil {
		if status == healthStatusHealthy {
			status = healthStatusDegraded
		}
		checks["event_index"] = HealthCheck{Status: healthStatusDegraded, Message: err.Error()}
	} else {
		checks["event_index"] = HealthCheck{Status: healthStatusHealthy}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}

// rootHandler handles GET /.
func (s *Server) rootHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &RootResponse{
		Status:  "ok",
		Service: s.settings.ProjectName,
	})
}
