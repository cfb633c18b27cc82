package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aegis-siem/aegis/pkg/config"
)

// WorkerPool manages a pool of pipeline workers plus the background
// reclaimer that recovers messages from dead consumers.
type WorkerPool struct {
	podID     string
	queue     *Queue
	config    *config.QueueConfig
	processor EventProcessor
	workers   []*Worker
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	started   bool

	// Reclaimer state
	reclaim reclaimState
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(podID string, q *Queue, cfg *config.QueueConfig, processor EventProcessor) *WorkerPool {
	return &WorkerPool{
		podID:     podID,
		queue:     q,
		config:    cfg,
		processor: processor,
		workers:   make([]*Worker, 0, cfg.WorkerCount),
		stopCh:    make(chan struct{}),
	}
}

// Start ensures the consumer group exists, then spawns worker goroutines
// and the reclaimer background task.
// It is safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	if err := p.queue.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("ensuring consumer group: %w", err)
	}

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.queue, p.config, p.processor)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	// Start the stale-message reclaimer
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runReclaimer(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// Workers finish their current batch before exiting (graceful shutdown).
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	for _, worker := range p.workers {
		worker.Stop()
	}

	// Signal the reclaimer to stop
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("Worker pool stopped gracefully")
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	queueDepth, errD := p.queue.Depth(ctx)
	if errD != nil {
		slog.Error("Failed to query queue depth for health check",
			"pod_id", p.podID,
			"error", errD)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	// Queue errors affect health status - if we can't reach Redis, we're
	// not healthy
	queueHealthy := errD == nil
	isHealthy := len(p.workers) > 0 && queueHealthy

	p.reclaim.mu.Lock()
	lastReclaimScan := p.reclaim.lastScan
	eventsReclaimed := p.reclaim.reclaimed
	eventsDeadLetter := p.reclaim.deadLettered
	p.reclaim.mu.Unlock()

	var queueError string
	if errD != nil {
		queueError = fmt.Sprintf("queue depth query failed: %v", errD)
	}

	return &PoolHealth{
		IsHealthy:        isHealthy,
		QueueReachable:   queueHealthy,
		QueueError:       queueError,
		PodID:            p.podID,
		ActiveWorkers:    activeWorkers,
		TotalWorkers:     len(p.workers),
		QueueDepth:       queueDepth,
		WorkerStats:      workerStats,
		LastReclaimScan:  lastReclaimScan,
		EventsReclaimed:  eventsReclaimed,
		EventsDeadLetter: eventsDeadLetter,
	}
}
