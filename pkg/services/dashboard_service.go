package services

import (
	"context"
	"fmt"

	"github.com/aegis-siem/aegis/pkg/storage"
)

// DashboardService is the read side for the UI: thin queries over the
// event index with service-level error mapping. An unreachable index maps
// to ErrUnavailable so the API answers 503 instead of a bare 500.
type DashboardService struct {
	index *storage.EventIndex
}

// NewDashboardService creates a new DashboardService.
func NewDashboardService(index *storage.EventIndex) *DashboardService {
	if index == nil {
		panic("NewDashboardService: index must not be nil")
	}
	return &DashboardService{index: index}
}

// Overview returns the headline counters for the dashboard cards.
func (s *DashboardService) Overview(ctx context.Context) (*storage.Stats, error) {
	stats, err := s.index.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return stats, nil
}

// RecentAlerts returns the newest alert documents.
func (s *DashboardService) RecentAlerts(ctx context.Context, limit int) ([]map[string]any, error) {
	docs, err := s.index.RecentAlerts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return docs, nil
}

// RecentIncidents returns the newest incident documents.
func (s *DashboardService) RecentIncidents(ctx context.Context, limit int) ([]map[string]any, error) {
	docs, err := s.index.RecentIncidents(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return docs, nil
}

// SearchLogs returns the newest log documents matching an optional query
// string.
func (s *DashboardService) SearchLogs(ctx context.Context, limit int, query string) ([]map[string]any, error) {
	docs, err := s.index.SearchLogs(ctx, limit, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return docs, nil
}

// HourlyActivity returns the hourly ingest volume for the timeline chart.
func (s *DashboardService) HourlyActivity(ctx context.Context) ([]storage.ActivityPoint, error) {
	points, err := s.index.HourlyActivity(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return points, nil
}

// AttackMap returns recent geo-located events for the map widget.
func (s *DashboardService) AttackMap(ctx context.Context) ([]storage.MapPoint, error) {
	points, err := s.index.AttackMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return points, nil
}
