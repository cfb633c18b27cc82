// Package queue provides the Redis-stream event queue and the worker pool
// that drains it.
package queue

import (
	"context"
	"time"
)

// Stream names and the consumer group shared by all pipeline workers.
const (
	// LogStream is the stream ingest producers append raw events to.
	LogStream = "logs_stream"

	// ConsumerGroup is the group all pipeline workers read through, so each
	// event is delivered to exactly one worker at a time.
	ConsumerGroup = "ingest_group"

	// DeadLetterStream receives events that exhausted their delivery budget.
	DeadLetterStream = "logs_stream_dead"
)

// Message is a single queued event as read from the stream.
type Message struct {
	// ID is the stream entry ID, used to acknowledge the message.
	ID string

	// Data is the serialized event payload.
	Data []byte
}

// EventProcessor is the interface for event processing.
//
// The processor owns the ENTIRE detection pass for one event: parsing,
// enrichment, rule evaluation, scoring, correlation, response, and
// persistence. The worker only handles delivery: reading, dispatching,
// and acknowledging. A nil error acknowledges the message; a non-nil
// error leaves it pending for redelivery.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, data []byte) error
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	QueueReachable   bool           `json:"queue_reachable"`
	QueueError       string         `json:"queue_error,omitempty"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	QueueDepth       int64          `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastReclaimScan  time.Time      `json:"last_reclaim_scan"`
	EventsReclaimed  int            `json:"events_reclaimed"`
	EventsDeadLetter int            `json:"events_dead_letter"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"` // "idle" or "working"
	EventsProcessed int       `json:"events_processed"`
	EventsFailed    int       `json:"events_failed"`
	LastActivity    time.Time `json:"last_activity"`
}
