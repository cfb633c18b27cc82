// Package api exposes the HTTP surface: the ingest endpoints producers
// push events to, the dashboard read endpoints, and health/metrics.
// Handlers stay thin; access gating and queueing live in pkg/services.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aegis-siem/aegis/pkg/config"
	"github.com/aegis-siem/aegis/pkg/queue"
	"github.com/aegis-siem/aegis/pkg/services"
	"github.com/aegis-siem/aegis/pkg/statestore"
	"github.com/aegis-siem/aegis/pkg/storage"
)

// Server is the API server. It never runs detection or persistence
// itself; events are pushed to the queue and picked up by workers.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	settings         *config.Settings
	ingestService    *services.IngestService
	dashboardService *services.DashboardService
	store            *statestore.Store
	eventIndex       *storage.EventIndex
	queue            *queue.Queue
}

// NewServer creates the API server and registers all routes.
func NewServer(
	settings *config.Settings,
	ingestService *services.IngestService,
	dashboardService *services.DashboardService,
	store *statestore.Store,
	eventIndex *storage.EventIndex,
	q *queue.Queue,
) *Server {
	e := echo.New()

	s := &Server{
		echo:             e,
		settings:         settings,
		ingestService:    ingestService,
		dashboardService: dashboardService,
		store:            store,
		eventIndex:       eventIndex,
		queue:            q,
	}

	s.httpServer = &http.Server{
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.registerRoutes()
	return s
}

// SetMetricsRegistry exposes the given registry on GET /metrics.
func (s *Server) SetMetricsRegistry(reg *prometheus.Registry) {
	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	s.echo.GET("/metrics", func(c *echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	})
}

func (s *Server) registerRoutes() {
	s.echo.Use(securityHeaders())

	s.echo.GET("/", s.rootHandler)
	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group(s.settings.APIV1Prefix)

	// The access gate runs before any body parsing: blocklisted sources
	// get 403 without ever touching the rate counter.
	ingest := v1.Group("/ingest", s.ingestGate())
	ingest.POST("/logs", s.ingestLogsHandler)
	ingest.POST("/raw", s.ingestRawHandler)

	dashboard := v1.Group("/dashboard")
	dashboard.GET("/stats", s.dashboardStatsHandler)
	dashboard.GET("/alerts", s.recentAlertsHandler)
	dashboard.GET("/incidents", s.recentIncidentsHandler)
	dashboard.GET("/logs", s.searchLogsHandler)
	dashboard.GET("/activity", s.activityHandler)
	dashboard.GET("/map", s.attackMapHandler)
}

// Start listens on addr and serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer.Addr = addr
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on an existing listener. Used by tests that
// need a random port.
func (s *Server) StartWithListener(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
