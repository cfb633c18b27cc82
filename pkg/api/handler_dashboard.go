package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// parseLimit reads the ?limit= query parameter, keeping def when the
// value is absent or out of range.
func parseLimit(c *echo.Context, def int) int {
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			return n
		}
	}
	return def
}

// dashboardStatsHandler handles GET /api/v1/dashboard/stats.
func (s *Server) dashboardStatsHandler(c *echo.Context) error {
	stats, err := s.dashboardService.Overview(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// recentAlertsHandler handles GET /api/v1/dashboard/alerts.
func (s *Server) recentAlertsHandler(c *echo.Context) error {
	alerts, err := s.dashboardService.RecentAlerts(c.Request().Context(), parseLimit(c, 20))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, alerts)
}

// recentIncidentsHandler handles GET /api/v1/dashboard/incidents.
func (s *Server) recentIncidentsHandler(c *echo.Context) error {
	incidents, err := s.dashboardService.RecentIncidents(c.Request().Context(), parseLimit(c, 10))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, incidents)
}

// searchLogsHandler handles GET /api/v1/dashboard/logs.
// An optional ?query= is matched against all log fields.
func (s *Server) searchLogsHandler(c *echo.Context) error {
	logs, err := s.dashboardService.SearchLogs(c.Request().Context(), parseLimit(c, 50), c.QueryParam("query"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, logs)
}

// activityHandler handles GET /api/v1/dashboard/activity.
func (s *Server) activityHandler(c *echo.Context) error {
	points, err := s.dashboardService.HourlyActivity(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, points)
}

// attackMapHandler handles GET /api/v1/dashboard/map.
func (s *Server) attackMapHandler(c *echo.Context) error {
	points, err := s.dashboardService.AttackMap(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, points)
}
