package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aegis-siem/aegis/pkg/models"
)

// payloadField is the stream entry field holding the serialized event.
const payloadField = "data"

// Queue wraps the Redis stream used to hand events from the ingest API to
// the pipeline workers.
type Queue struct {
	client *redis.Client
}

// New creates a Queue on an existing Redis client.
func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// EnsureGroup creates the consumer group, tolerating a group that already
// exists. Safe to call from every pod at startup.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, LogStream, ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

// Push appends an event to the log stream.
func (q *Queue) Push(ctx context.Context, event *models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing event: %w", err)
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: LogStream,
		Values: map[string]any{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("appending to %s: %w", LogStream, err)
	}
	return nil
}

// Read fetches up to count undelivered messages for the given consumer,
// blocking up to block when the stream is empty. Returns an empty slice
// when the block expires with nothing to read.
func (q *Queue) Read(ctx context.Context, consumer string, count int64, block time.Duration) ([]Message, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: consumer,
		Streams:  []string{LogStream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", LogStream, err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, entry := range stream.Messages {
			msg, ok := decodeEntry(entry)
			if !ok {
				// Entry without a payload field cannot be processed, drop it.
				_ = q.Ack(ctx, entry.ID)
				continue
			}
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

// Ack acknowledges a message, removing it from the pending entries list.
func (q *Queue) Ack(ctx context.Context, id string) error {
	if err := q.client.XAck(ctx, LogStream, ConsumerGroup, id).Err(); err != nil {
		return fmt.Errorf("acking %s: %w", id, err)
	}
	return nil
}

// Depth returns the current length of the log stream.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.XLen(ctx, LogStream).Result()
	if err != nil {
		return 0, fmt.Errorf("reading stream length: %w", err)
	}
	return n, nil
}

// Ping verifies the queue backend is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Reclaim takes over pending messages idle for at least minIdle, claiming
// them for the given consumer. Messages whose delivery count exceeds
// maxDeliveries are moved to the dead-letter stream and acknowledged
// instead of being returned.
//
// All pods run this independently; claiming is atomic, so a message is
// only ever handed to one reclaimer.
func (q *Queue) Reclaim(ctx context.Context, consumer string, minIdle time.Duration, maxDeliveries int64) (reclaimed []Message, deadLettered int, err error) {
	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   LogStream,
		Group:    ConsumerGroup,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    100,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, 0, fmt.Errorf("claiming stale messages: %w", err)
	}
	if len(claimed) == 0 {
		return nil, 0, nil
	}

	counts, err := q.deliveryCounts(ctx, claimed[0].ID, claimed[len(claimed)-1].ID)
	if err != nil {
		return nil, 0, err
	}

	for _, entry := range claimed {
		msg, ok := decodeEntry(entry)
		if !ok {
			_ = q.Ack(ctx, entry.ID)
			continue
		}
		if counts[entry.ID] > maxDeliveries {
			if err := q.deadLetter(ctx, msg); err != nil {
				return reclaimed, deadLettered, err
			}
			deadLettered++
			continue
		}
		reclaimed = append(reclaimed, msg)
	}
	return reclaimed, deadLettered, nil
}

// deliveryCounts reads per-message delivery counts for an ID range from the
// pending entries list.
func (q *Queue) deliveryCounts(ctx context.Context, start, end string) (map[string]int64, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: LogStream,
		Group:  ConsumerGroup,
		Start:  start,
		End:    end,
		Count:  100,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reading pending entries: %w", err)
	}
	counts := make(map[string]int64, len(pending))
	for _, p := range pending {
		counts[p.ID] = p.RetryCount
	}
	return counts, nil
}

// deadLetter moves a message to the dead-letter stream and acknowledges it
// on the main stream.
func (q *Queue) deadLetter(ctx context.Context, msg Message) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStream,
		Values: map[string]any{payloadField: msg.Data, "origin_id": msg.ID},
	}).Err()
	if err != nil {
		return fmt.Errorf("appending to %s: %w", DeadLetterStream, err)
	}
	return q.Ack(ctx, msg.ID)
}

// DeadLetters returns up to count entries from the dead-letter stream.
func (q *Queue) DeadLetters(ctx context.Context, count int64) ([]Message, error) {
	entries, err := q.client.XRangeN(ctx, DeadLetterStream, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", DeadLetterStream, err)
	}
	var messages []Message
	for _, entry := range entries {
		if msg, ok := decodeEntry(entry); ok {
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

// decodeEntry extracts the event payload from a stream entry.
func decodeEntry(entry redis.XMessage) (Message, bool) {
	raw, ok := entry.Values[payloadField]
	if !ok {
		return Message{}, false
	}
	data, ok := raw.(string)
	if !ok {
		return Message{}, false
	}
	return Message{ID: entry.ID, Data: []byte(data)}, true
}
