package config

import (
	"fmt"

	"github.com/okian/amep/internal/domain/mastery"
)

// Validate reports the first invalid setting wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrInvalidConfig, c.LogFormat)
	}
	for name, v := range map[string]int{
		"operation_timeout_ms":    c.OperationTimeoutMS,
		"queue_size":              c.EventQueueSize,
		"worker_count":            c.WorkerCount,
		"shard_count":             c.ShardCount,
		"notification_queue_size": c.NotificationQueueSize,
		"subscriber_buffer":       c.SubscriberBuffer,
		"journal_buffer_size":     c.JournalBufferSize,
		"snapshot_interval_ms":    c.SnapshotIntervalMS,
		"decay_sweep_interval_ms": c.DecaySweepIntervalMS,
	} {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, name, v)
		}
	}
	if !c.JournalInMemory && c.JournalPath == "" {
		return fmt.Errorf("%w: journal_path is required unless journal_in_memory is set", ErrInvalidConfig)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("%w: rate limits must not be negative", ErrInvalidConfig)
	}
	if c.Estimator != mastery.NameHybrid && c.Estimator != mastery.NameFixture {
		return fmt.Errorf("%w: unknown estimator %q", ErrInvalidConfig, c.Estimator)
	}
	if err := c.MasteryParams().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.EngagementParams().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.PlannerParams().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
