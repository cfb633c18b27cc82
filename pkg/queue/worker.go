package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aegis-siem/aegis/pkg/config"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single pipeline worker that reads event batches from the
// stream and runs them through the processor.
type Worker struct {
	id        string
	podID     string
	queue     *Queue
	config    *config.QueueConfig
	processor EventProcessor
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Health tracking
	mu              sync.RWMutex
	status          WorkerStatus
	eventsProcessed int
	eventsFailed    int
	lastActivity    time.Time
}

// NewWorker creates a new pipeline worker.
func NewWorker(id, podID string, q *Queue, cfg *config.QueueConfig, processor EventProcessor) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		queue:        q,
		config:       cfg,
		processor:    processor,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker read loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:              w.id,
		Status:          string(w.status),
		EventsProcessed: w.eventsProcessed,
		EventsFailed:    w.eventsFailed,
		LastActivity:    w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.readAndProcess(ctx); err != nil {
				log.Error("Error reading from queue", "error", err)
				w.sleep(w.config.ErrorBackoff)
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// readAndProcess reads one batch and dispatches each message. The blocking
// read doubles as the poll interval, so an empty batch needs no extra wait.
func (w *Worker) readAndProcess(ctx context.Context) error {
	messages, err := w.queue.Read(ctx, w.id, int64(w.config.BatchSize), w.config.BlockTimeout)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	w.setStatus(WorkerStatusWorking)
	defer w.setStatus(WorkerStatusIdle)

	for _, msg := range messages {
		w.handleMessage(ctx, msg)
	}
	return nil
}

// handleMessage runs one event through the processor. Success acknowledges
// the message; failure leaves it pending so it is redelivered, and
// eventually dead-lettered once it exhausts its delivery budget.
func (w *Worker) handleMessage(ctx context.Context, msg Message) {
	if err := w.processor.ProcessEvent(ctx, msg.Data); err != nil {
		slog.Error("Event processing failed, leaving for redelivery",
			"worker_id", w.id, "message_id", msg.ID, "error", err)
		w.recordResult(false)
		return
	}
	if err := w.queue.Ack(ctx, msg.ID); err != nil {
		// The event was processed; a failed ack only means it may be
		// delivered again, which the pipeline tolerates.
		slog.Warn("Failed to ack processed message",
			"worker_id", w.id, "message_id", msg.ID, "error", err)
	}
	w.recordResult(true)
}

// recordResult updates processing counters.
func (w *Worker) recordResult(ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ok {
		w.eventsProcessed++
	} else {
		w.eventsFailed++
	}
	w.lastActivity = time.Now()
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.lastActivity = time.Now()
}
