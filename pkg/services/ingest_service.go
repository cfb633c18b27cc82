package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-siem/aegis/pkg/metrics"
	"github.com/aegis-siem/aegis/pkg/models"
	"github.com/aegis-siem/aegis/pkg/queue"
	"github.com/aegis-siem/aegis/pkg/statestore"
)

// rateWindow is the rate-limit counter TTL. The same counter doubles as
// the anomaly scorer's request-frequency feature, so the window must stay
// at one minute.
const rateWindow = time.Minute

// RawIngestInput carries a text/plain submission and its transport
// context. Transformed from the HTTP request by the handler.
type RawIngestInput struct {
	Body     string
	ClientIP string
}

// IngestService validates, defaults, and queues inbound events. It also
// owns the per-client admission gates the API runs before reading the
// request body.
type IngestService struct {
	queue              *queue.Queue
	store              *statestore.Store
	metrics            *metrics.Metrics
	rateLimitPerMinute int
}

// NewIngestService creates a new IngestService.
func NewIngestService(q *queue.Queue, store *statestore.Store, m *metrics.Metrics, rateLimitPerMinute int) *IngestService {
	if q == nil {
		panic("NewIngestService: queue must not be nil")
	}
	if store == nil {
		panic("NewIngestService: store must not be nil")
	}
	if m == nil {
		panic("NewIngestService: metrics must not be nil")
	}
	return &IngestService{
		queue:              q,
		store:              store,
		metrics:            m,
		rateLimitPerMinute: rateLimitPerMinute,
	}
}

// CheckAccess runs the admission gates for a client address, blocklist
// first, then the rate limit. A blocked client never touches the rate
// counter, so the order of the two gates is observable.
func (s *IngestService) CheckAccess(ctx context.Context, clientIP string) error {
	if clientIP == "" {
		return nil
	}

	blocked, err := s.store.Exists(ctx, statestore.BlockKey(clientIP))
	if err != nil {
		return fmt.Errorf("%w: blocklist check: %v", ErrUnavailable, err)
	}
	if blocked {
		s.metrics.RecordRejected("blocked")
		return fmt.Errorf("%w: %s", ErrBlocked, clientIP)
	}

	count, err := s.store.IncrWithTTLOnFirst(ctx, statestore.RateLimitKey(clientIP), rateWindow)
	if err != nil {
		return fmt.Errorf("%w: rate limit check: %v", ErrUnavailable, err)
	}
	if count > int64(s.rateLimitPerMinute) {
		s.metrics.RecordRejected("rate_limited")
		return fmt.Errorf("%w: %s sent %d requests this minute", ErrRateLimited, clientIP, count)
	}
	return nil
}

// SubmitEvents validates the batch, fills in defaults, and queues every
// event. Validation failure on any item rejects the whole batch before
// anything is queued. Returns the number of queued events.
func (s *IngestService) SubmitEvents(ctx context.Context, events []*models.Event, headerMeta map[string]string) (int, error) {
	if len(events) == 0 {
		return 0, NewValidationError("events", "at least one event is required")
	}
	for i, event := range events {
		if err := validateEvent(i, event); err != nil {
			return 0, err
		}
	}
	for _, event := range events {
		applyDefaults(event, headerMeta)
	}

	queued := 0
	for _, event := range events {
		if err := s.queue.Push(ctx, event); err != nil {
			return queued, fmt.Errorf("queueing event %s: %w", event.ID, err)
		}
		queued++
		s.metrics.RecordIngested(event.Source, 1)
	}
	return queued, nil
}

// SubmitRaw wraps a plain-text body as an event and queues it. The
// normalizer downstream decides whether the line matches a known format.
func (s *IngestService) SubmitRaw(ctx context.Context, input RawIngestInput) (*models.Event, error) {
	if strings.TrimSpace(input.Body) == "" {
		return nil, NewValidationError("body", "request body is required")
	}

	event := &models.Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    models.SourceRawIngest,
		Level:     models.LevelDefault,
		Message:   input.Body,
		Metadata: map[string]any{
			"source_ip":  input.ClientIP,
			"raw_format": "text",
		},
	}
	if err := s.queue.Push(ctx, event); err != nil {
		return nil, fmt.Errorf("queueing raw event: %w", err)
	}
	s.metrics.RecordIngested(models.SourceRawIngest, 1)
	return event, nil
}

func validateEvent(i int, event *models.Event) error {
	if event == nil {
		return NewValidationError(fmt.Sprintf("events[%d]", i), "event must be an object")
	}
	if strings.TrimSpace(event.Source) == "" {
		return NewValidationError(fmt.Sprintf("events[%d].source", i), "source is required")
	}
	if event.Message == "" {
		return NewValidationError(fmt.Sprintf("events[%d].message", i), "message is required")
	}
	return nil
}

// applyDefaults fills the server-assigned fields and merges transport
// metadata. Producer-supplied values always win.
func applyDefaults(event *models.Event, headerMeta map[string]string) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if event.Level == "" {
		event.Level = models.LevelDefault
	}
	for key, value := range headerMeta {
		if value == "" {
			continue
		}
		if _, exists := event.Metadata[key]; !exists {
			event.SetMeta(key, value)
		}
	}
}
