package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// reclaimState tracks reclaimer metrics (thread-safe).
type reclaimState struct {
	mu           sync.Mutex
	lastScan     time.Time
	reclaimed    int
	deadLettered int
}

// runReclaimer periodically takes over messages left pending by crashed or
// stalled consumers. All pods run this independently — claiming is atomic,
// so each message is recovered exactly once.
func (p *WorkerPool) runReclaimer(ctx context.Context) {
	ticker := time.NewTicker(p.config.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.reclaimStale(ctx); err != nil {
				slog.Error("Reclaim pass failed", "error", err)
			}
		}
	}
}

// reclaimStale claims messages idle past the threshold and reprocesses
// them. Messages that exhausted their delivery budget were already moved
// to the dead-letter stream by the queue.
func (p *WorkerPool) reclaimStale(ctx context.Context) error {
	consumer := fmt.Sprintf("%s-reclaimer", p.podID)

	messages, deadLettered, err := p.queue.Reclaim(ctx, consumer, p.config.ClaimMinIdle, int64(p.config.MaxDeliveries))
	if err != nil {
		return fmt.Errorf("claiming stale messages: %w", err)
	}

	if deadLettered > 0 {
		slog.Warn("Moved undeliverable events to dead-letter stream", "count", deadLettered)
	}

	recovered := 0
	for _, msg := range messages {
		if err := p.processor.ProcessEvent(ctx, msg.Data); err != nil {
			// Leave it pending; the next pass will claim it again and the
			// delivery budget caps how often that can happen.
			slog.Error("Failed to reprocess reclaimed event",
				"message_id", msg.ID,
				"error", err)
			continue
		}
		if err := p.queue.Ack(ctx, msg.ID); err != nil {
			slog.Warn("Failed to ack reclaimed event", "message_id", msg.ID, "error", err)
		}
		recovered++
	}

	if recovered > 0 || deadLettered > 0 {
		slog.Info("Reclaim pass complete", "recovered", recovered, "dead_lettered", deadLettered)
	}

	p.reclaim.mu.Lock()
	p.reclaim.lastScan = time.Now()
	p.reclaim.reclaimed += recovered
	p.reclaim.deadLettered += deadLettered
	p.reclaim.mu.Unlock()

	return nil
}
