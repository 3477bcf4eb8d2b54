package queue

import (
	"fmt"
	"time"
)

// QueueConfig is the static, per-queue configuration registered with the
// manager. It is treated as immutable: re-registering a queue under the same
// name replaces the whole config.
type QueueConfig struct {
	Name              string        `json:"name"`
	Concurrency       int           `json:"concurrency"`
	MaxRetries        int           `json:"max_retries"`
	RetryDelay        time.Duration `json:"retry_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	RemoveOnComplete  int           `json:"remove_on_complete"` // keep newest N completed; 0 = engine default, -1 = keep all
	RemoveOnFail      int           `json:"remove_on_fail"`     // keep newest N failed; 0 = engine default, -1 = keep all
	DefaultPriority   Priority      `json:"default_priority"`
	StalledInterval   time.Duration `json:"stalled_interval"`
	MaxStalledCount   int           `json:"max_stalled_count"`
	DelayOnFail       bool          `json:"delay_on_fail"`
	VisibilityTimeout time.Duration `json:"visibility_timeout"`
	DeadLetterQueue   string        `json:"dead_letter_queue,omitempty"`
	Paused            bool          `json:"paused"`
}

// Validate checks the config for self-consistency. The same rules back the
// queueConfiguration health check.
func (c QueueConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidConfig)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1", ErrInvalidConfig)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", ErrInvalidConfig)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("%w: retry delay must not be negative", ErrInvalidConfig)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: backoff multiplier must be at least 1", ErrInvalidConfig)
	}
	if c.RemoveOnComplete < -1 || c.RemoveOnFail < -1 {
		return fmt.Errorf("%w: retention counts must be -1 (keep all) or non-negative", ErrInvalidConfig)
	}
	if !c.DefaultPriority.Valid() {
		return fmt.Errorf("%w: default priority out of range", ErrInvalidConfig)
	}
	if c.StalledInterval <= 0 {
		return fmt.Errorf("%w: stalled interval must be positive", ErrInvalidConfig)
	}
	if c.MaxStalledCount < 0 {
		return fmt.Errorf("%w: max stalled count must not be negative", ErrInvalidConfig)
	}
	if c.VisibilityTimeout <= 0 {
		return fmt.Errorf("%w: visibility timeout must be positive", ErrInvalidConfig)
	}
	if c.DeadLetterQueue != "" && c.DeadLetterQueue == c.Name {
		return fmt.Errorf("%w: dead letter queue must differ from queue name", ErrInvalidConfig)
	}
	return nil
}

// maxAttempts resolves the per-job attempt budget from the config.
// MaxRetries of zero still grants a single attempt.
func (c QueueConfig) maxAttempts() int {
	if c.MaxRetries < 1 {
		return 1
	}
	return c.MaxRetries
}

// keepCompleted and keepFailed translate the retention settings into the
// store contract, where zero or less keeps everything.
func (c QueueConfig) keepCompleted() int {
	if c.RemoveOnComplete < 0 {
		return 0
	}
	return c.RemoveOnComplete
}

func (c QueueConfig) keepFailed() int {
	if c.RemoveOnFail < 0 {
		return 0
	}
	return c.RemoveOnFail
}

// backoffDelay computes the retry delay for a job that has made the given
// number of attempts: RetryDelay x BackoffMultiplier^(attemptsMade-1).
// Capped at 24h so a runaway multiplier cannot park jobs forever.
func (c QueueConfig) backoffDelay(attemptsMade int) time.Duration {
	if c.RetryDelay <= 0 {
		return 0
	}
	delay := float64(c.RetryDelay)
	for i := 1; i < attemptsMade; i++ {
		delay *= c.BackoffMultiplier
	}
	const maxBackoff = float64(24 * time.Hour)
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return time.Duration(delay)
}

// Config holds engine-wide settings and the defaults applied to queue
// configurations whose fields are left zero. Designed for environment-based
// configuration using popular env parsing libraries.
type Config struct {
	// Defaults for registered queues
	Concurrency       int           `env:"JOBQ_CONCURRENCY" envDefault:"1"`
	MaxRetries        int           `env:"JOBQ_MAX_RETRIES" envDefault:"3"`
	RetryDelay        time.Duration `env:"JOBQ_RETRY_DELAY" envDefault:"1s"`
	BackoffMultiplier float64       `env:"JOBQ_BACKOFF_MULTIPLIER" envDefault:"2.0"`
	RemoveOnComplete  int           `env:"JOBQ_REMOVE_ON_COMPLETE" envDefault:"1000"`
	RemoveOnFail      int           `env:"JOBQ_REMOVE_ON_FAIL" envDefault:"5000"`
	DefaultPriority   Priority      `env:"JOBQ_DEFAULT_PRIORITY" envDefault:"2"`
	StalledInterval   time.Duration `env:"JOBQ_STALLED_INTERVAL" envDefault:"30s"`
	MaxStalledCount   int           `env:"JOBQ_MAX_STALLED_COUNT" envDefault:"1"`
	VisibilityTimeout time.Duration `env:"JOBQ_VISIBILITY_TIMEOUT" envDefault:"30s"`

	// Engine-wide knobs
	MaxPayloadBytes int           `env:"JOBQ_MAX_PAYLOAD_BYTES" envDefault:"1048576"`
	StatsWindow     time.Duration `env:"JOBQ_STATS_WINDOW" envDefault:"5m"`
	StatsSampleSize int           `env:"JOBQ_STATS_SAMPLE_SIZE" envDefault:"100"`
	MonitorInterval time.Duration `env:"JOBQ_MONITOR_INTERVAL" envDefault:"30s"`
	HistoryLimit    int           `env:"JOBQ_MONITOR_HISTORY_LIMIT" envDefault:"288"`

	// Worker knobs. A zero JobTimeout bounds each run by the queue's
	// visibility timeout instead of a fixed budget.
	PullInterval time.Duration `env:"JOBQ_PULL_INTERVAL" envDefault:"1s"`
	JobTimeout   time.Duration `env:"JOBQ_JOB_TIMEOUT" envDefault:"0"`
	StopTimeout  time.Duration `env:"JOBQ_STOP_TIMEOUT" envDefault:"30s"`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		Concurrency:       1,
		MaxRetries:        3,
		RetryDelay:        time.Second,
		BackoffMultiplier: 2.0,
		RemoveOnComplete:  1000,
		RemoveOnFail:      5000,
		DefaultPriority:   PriorityNormal,
		StalledInterval:   30 * time.Second,
		MaxStalledCount:   1,
		VisibilityTimeout: 30 * time.Second,
		MaxPayloadBytes:   1 << 20,
		StatsWindow:       5 * time.Minute,
		StatsSampleSize:   100,
		MonitorInterval:   30 * time.Second,
		HistoryLimit:      288,
		PullInterval:      time.Second,
		StopTimeout:       30 * time.Second,
	}
}

// Validate checks engine-wide settings.
func (c Config) Validate() error {
	if c.StatsWindow <= 0 {
		return fmt.Errorf("%w: stats window must be positive", ErrInvalidConfig)
	}
	if c.StatsSampleSize < 1 {
		return fmt.Errorf("%w: stats sample size must be at least 1", ErrInvalidConfig)
	}
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("%w: monitor interval must be positive", ErrInvalidConfig)
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("%w: history limit must be at least 1", ErrInvalidConfig)
	}
	if c.MaxPayloadBytes < 1 {
		return fmt.Errorf("%w: max payload bytes must be at least 1", ErrInvalidConfig)
	}
	if c.PullInterval <= 0 {
		return fmt.Errorf("%w: pull interval must be positive", ErrInvalidConfig)
	}
	if c.JobTimeout < 0 {
		return fmt.Errorf("%w: job timeout must not be negative", ErrInvalidConfig)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("%w: stop timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// QueueConfig builds a fully-populated queue configuration for the given name
// using this engine config's defaults.
func (c Config) QueueConfig(name string) QueueConfig {
	return c.fillQueueConfig(QueueConfig{Name: name})
}

// fillQueueConfig replaces zero-valued fields with the engine defaults.
// Boolean flags (DelayOnFail, Paused) are taken as-is.
func (c Config) fillQueueConfig(qc QueueConfig) QueueConfig {
	if qc.Concurrency == 0 {
		qc.Concurrency = c.Concurrency
	}
	if qc.MaxRetries == 0 {
		qc.MaxRetries = c.MaxRetries
	}
	if qc.RetryDelay == 0 {
		qc.RetryDelay = c.RetryDelay
	}
	if qc.BackoffMultiplier == 0 {
		qc.BackoffMultiplier = c.BackoffMultiplier
	}
	if qc.RemoveOnComplete == 0 {
		qc.RemoveOnComplete = c.RemoveOnComplete
	}
	if qc.RemoveOnFail == 0 {
		qc.RemoveOnFail = c.RemoveOnFail
	}
	if qc.DefaultPriority == 0 {
		qc.DefaultPriority = c.DefaultPriority
	}
	if qc.StalledInterval == 0 {
		qc.StalledInterval = c.StalledInterval
	}
	if qc.MaxStalledCount == 0 {
		qc.MaxStalledCount = c.MaxStalledCount
	}
	if qc.VisibilityTimeout == 0 {
		qc.VisibilityTimeout = c.VisibilityTimeout
	}
	return qc
}

// DefaultQueueConfig returns a queue configuration pre-filled with the
// defaults from DefaultConfig.
func DefaultQueueConfig(name string) QueueConfig {
	return DefaultConfig().QueueConfig(name)
}
