package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-siem/aegis/pkg/metrics"
	"github.com/aegis-siem/aegis/pkg/models"
	"github.com/aegis-siem/aegis/pkg/queue"
	"github.com/aegis-siem/aegis/pkg/statestore"
)

type ingestFixture struct {
	service *IngestService
	queue   *queue.Queue
	store   *statestore.Store
	mr      *miniredis.Miniredis
}

func newIngestFixture(t *testing.T, rateLimit int) *ingestFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := queue.New(client)
	require.NoError(t, q.EnsureGroup(context.Background()))
	store := statestore.NewWithClient(client)
	return &ingestFixture{
		service: NewIngestService(q, store, metrics.New(prometheus.NewRegistry()), rateLimit),
		queue:   q,
		store:   store,
		mr:      mr,
	}
}

// drain reads everything currently on the stream and decodes it.
func (f *ingestFixture) drain(t *testing.T) []*models.Event {
	t.Helper()
	msgs, err := f.queue.Read(context.Background(), "test-consumer", 100, -1)
	require.NoError(t, err)
	events := make([]*models.Event, 0, len(msgs))
	for _, msg := range msgs {
		var event models.Event
		require.NoError(t, json.Unmarshal(msg.Data, &event))
		events = append(events, &event)
	}
	return events
}

func TestSubmitEventsQueuesBatch(t *testing.T) {
	f := newIngestFixture(t, 1000)

	batch := []*models.Event{
		{Source: "nginx", Message: "GET / 200"},
		{Source: "ssh", Message: "Accepted password for deploy from 10.0.0.4 port 22 ssh2"},
	}
	queued, err := f.service.SubmitEvents(context.Background(), batch, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, queued)

	events := f.drain(t)
	require.Len(t, events, 2)
	assert.Equal(t, "nginx", events[0].Source)
	assert.Equal(t, "ssh", events[1].Source)
}

func TestSubmitEventsAssignsDefaults(t *testing.T) {
	f := newIngestFixture(t, 1000)

	_, err := f.service.SubmitEvents(context.Background(), []*models.Event{
		{Source: "nginx", Message: "GET / 200"},
	}, nil)
	require.NoError(t, err)

	events := f.drain(t)
	require.Len(t, events, 1)
	event := events[0]

	_, err = uuid.Parse(event.ID)
	assert.NoError(t, err, "server assigns a UUID")
	assert.Equal(t, models.LevelDefault, event.Level)

	ts, err := time.Parse(time.RFC3339, event.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), ts, 5*time.Second)
}

func TestSubmitEventsKeepsProducerValues(t *testing.T) {
	f := newIngestFixture(t, 1000)

	_, err := f.service.SubmitEvents(context.Background(), []*models.Event{
		{
			ID:        "evt-1",
			Timestamp: "2026-01-02T10:00:00Z",
			Source:    "nginx",
			Level:     "ERROR",
			Message:   "upstream timed out",
		},
	}, nil)
	require.NoError(t, err)

	events := f.drain(t)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-1", events[0].ID)
	assert.Equal(t, "2026-01-02T10:00:00Z", events[0].Timestamp)
	assert.Equal(t, "ERROR", events[0].Level)
}

func TestSubmitEventsMergesHeaderMetadata(t *testing.T) {
	f := newIngestFixture(t, 1000)

	batch := []*models.Event{
		{Source: "nginx", Message: "GET / 200"},
		{Source: "nginx", Message: "GET / 200", Metadata: map[string]any{"source_host": "override-me-not"}},
	}
	_, err := f.service.SubmitEvents(context.Background(), batch, map[string]string{
		"source_host": "web-01",
		"app_name":    "frontdoor",
		"empty":       "",
	})
	require.NoError(t, err)

	events := f.drain(t)
	require.Len(t, events, 2)
	assert.Equal(t, "web-01", events[0].Metadata["source_host"])
	assert.Equal(t, "frontdoor", events[0].Metadata["app_name"])
	assert.NotContains(t, events[0].Metadata, "empty")
	// Producer metadata wins over transport headers.
	assert.Equal(t, "override-me-not", events[1].Metadata["source_host"])
}

func TestSubmitEventsValidation(t *testing.T) {
	tests := []struct {
		name  string
		batch []*models.Event
	}{
		{"empty batch", nil},
		{"nil event", []*models.Event{nil}},
		{"missing source", []*models.Event{{Message: "hello"}}},
		{"blank source", []*models.Event{{Source: "   ", Message: "hello"}}},
		{"missing message", []*models.Event{{Source: "nginx"}}},
		{
			"invalid item rejects whole batch",
			[]*models.Event{{Source: "nginx", Message: "ok"}, {Source: "nginx"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newIngestFixture(t, 1000)

			_, err := f.service.SubmitEvents(context.Background(), tt.batch, nil)
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "expected validation error, got %v", err)

			depth, err := f.queue.Depth(context.Background())
			require.NoError(t, err)
			assert.Zero(t, depth, "nothing may be queued on validation failure")
		})
	}
}

func TestSubmitRaw(t *testing.T) {
	f := newIngestFixture(t, 1000)

	event, err := f.service.SubmitRaw(context.Background(), RawIngestInput{
		Body:     "Failed password for root from 10.0.0.1 port 22 ssh2",
		ClientIP: "198.51.100.7",
	})
	require.NoError(t, err)
	require.NotNil(t, event)

	events := f.drain(t)
	require.Len(t, events, 1)
	got := events[0]
	assert.Equal(t, models.SourceRawIngest, got.Source)
	assert.Equal(t, models.LevelDefault, got.Level)
	assert.Equal(t, "Failed password for root from 10.0.0.1 port 22 ssh2", got.Message)
	assert.Equal(t, "198.51.100.7", got.Metadata["source_ip"])
	assert.Equal(t, "text", got.Metadata["raw_format"])
}

func TestSubmitRawRejectsEmptyBody(t *testing.T) {
	f := newIngestFixture(t, 1000)

	_, err := f.service.SubmitRaw(context.Background(), RawIngestInput{Body: "  \n", ClientIP: "198.51.100.7"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestCheckAccessAllows(t *testing.T) {
	f := newIngestFixture(t, 1000)

	require.NoError(t, f.service.CheckAccess(context.Background(), "203.0.113.5"))
	assert.True(t, f.mr.Exists(statestore.RateLimitKey("203.0.113.5")))
	assert.Equal(t, time.Minute, f.mr.TTL(statestore.RateLimitKey("203.0.113.5")))
}

func TestCheckAccessBlocklistWinsOverRateLimit(t *testing.T) {
	f := newIngestFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.store.SetFlag(ctx, statestore.BlockKey("203.0.113.5"), "Risk Score: 100", time.Minute))

	err := f.service.CheckAccess(ctx, "203.0.113.5")
	require.ErrorIs(t, err, ErrBlocked)
	// The blocked gate runs first, so the rate counter is never touched.
	assert.False(t, f.mr.Exists(statestore.RateLimitKey("203.0.113.5")))
}

func TestCheckAccessRateLimits(t *testing.T) {
	f := newIngestFixture(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, f.service.CheckAccess(ctx, "203.0.113.5"))
	}
	err := f.service.CheckAccess(ctx, "203.0.113.5")
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestCheckAccessRateLimitWindowResets(t *testing.T) {
	f := newIngestFixture(t, 1)
	ctx := context.Background()

	require.NoError(t, f.service.CheckAccess(ctx, "203.0.113.5"))
	require.ErrorIs(t, f.service.CheckAccess(ctx, "203.0.113.5"), ErrRateLimited)

	f.mr.FastForward(61 * time.Second)
	assert.NoError(t, f.service.CheckAccess(ctx, "203.0.113.5"))
}

func TestCheckAccessUnavailableStore(t *testing.T) {
	f := newIngestFixture(t, 1000)
	f.mr.SetError("connection refused")

	err := f.service.CheckAccess(context.Background(), "203.0.113.5")
	require.ErrorIs(t, err, ErrUnavailable)
}
