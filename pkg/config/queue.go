package config

import "time"

// QueueConfig contains stream consumer and worker pool configuration.
// These values control how events are read, processed, and reclaimed.
type QueueConfig struct {
	// WorkerCount is the number of consumer goroutines per replica/pod.
	// Each worker reads from the shared consumer group independently.
	WorkerCount int `yaml:"worker_count"`

	// BatchSize is the maximum number of stream entries read per call.
	BatchSize int `yaml:"batch_size"`

	// BlockTimeout is how long a read blocks waiting for new entries.
	BlockTimeout time.Duration `yaml:"block_timeout"`

	// ErrorBackoff is the sleep applied after a fatal read error before
	// the loop retries.
	ErrorBackoff time.Duration `yaml:"error_backoff"`

	// ClaimMinIdle is how long a pending entry must sit unacknowledged
	// before the reclaimer may claim it from its original consumer.
	ClaimMinIdle time.Duration `yaml:"claim_min_idle"`

	// ClaimInterval is how often the reclaim pass runs.
	ClaimInterval time.Duration `yaml:"claim_interval"`

	// MaxDeliveries bounds redelivery: an entry delivered more than this
	// many times moves to the dead-letter stream instead of redelivering.
	MaxDeliveries int `yaml:"max_deliveries"`

	// GracefulShutdownTimeout is the max time to wait for in-flight
	// events to finish during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             2,
		BatchSize:               10,
		BlockTimeout:            2 * time.Second,
		ErrorBackoff:            1 * time.Second,
		ClaimMinIdle:            60 * time.Second,
		ClaimInterval:           30 * time.Second,
		MaxDeliveries:           5,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}
