package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Check names reported in HealthCheckResult.Checks.
const (
	CheckQueueSize          = "queueSize"
	CheckProcessingTime     = "processingTime"
	CheckErrorRate          = "errorRate"
	CheckMemoryUsage        = "memoryUsage"
	CheckStoreConnection    = "storeConnection"
	CheckStaleJobs          = "staleJobs"
	CheckDeadlockDetection  = "deadlockDetection"
	CheckQueueConfiguration = "queueConfiguration"
)

// HealthStatus grades a queue's overall condition.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult is the composite verdict of one health check run.
// Healthy is true only when every check passed. Status distinguishes soft
// threshold breaches (degraded) from hard failures such as an unreachable
// store, an invalid configuration, or an unknown queue (unhealthy).
type HealthCheckResult struct {
	QueueName string          `json:"queue_name"`
	Healthy   bool            `json:"healthy"`
	Status    HealthStatus    `json:"status"`
	Checks    map[string]bool `json:"checks"`
	Issues    []string        `json:"issues,omitempty"`
	Metrics   HealthMetrics   `json:"metrics"`
	CheckedAt time.Time       `json:"checked_at"`
}

// HealthMetrics is the measurement snapshot collected while checking.
// MemoryRatio relates the payload footprint to its ceiling, so 1.0 marks the
// memoryUsage threshold.
type HealthMetrics struct {
	Backlog       int64         `json:"backlog"`
	ErrorRate     float64       `json:"error_rate"`
	AvgProcessing time.Duration `json:"avg_processing"`
	PayloadBytes  int64         `json:"payload_bytes"`
	MemoryRatio   float64       `json:"memory_ratio"`
	OldestWaitAge time.Duration `json:"oldest_wait_age"`
	StaleWaiting  int64         `json:"stale_waiting"`
	StalledActive int64         `json:"stalled_active"`
}

// HealthThresholds holds the ceilings the soft checks compare against.
type HealthThresholds struct {
	MaxQueueSize     int64         `env:"JOBQ_HEALTH_MAX_QUEUE_SIZE" envDefault:"10000"`
	MaxErrorRate     float64       `env:"JOBQ_HEALTH_MAX_ERROR_RATE" envDefault:"0.5"`
	MaxAvgProcessing time.Duration `env:"JOBQ_HEALTH_MAX_AVG_PROCESSING" envDefault:"1m"`
	MaxPayloadBytes  int64         `env:"JOBQ_HEALTH_MAX_PAYLOAD_BYTES" envDefault:"104857600"`
	MaxWaitAge       time.Duration `env:"JOBQ_HEALTH_MAX_WAIT_AGE" envDefault:"10m"`
}

// DefaultHealthThresholds returns the ceilings used when none are configured.
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		MaxQueueSize:     10000,
		MaxErrorRate:     0.5,
		MaxAvgProcessing: time.Minute,
		MaxPayloadBytes:  100 << 20,
		MaxWaitAge:       10 * time.Minute,
	}
}

// HealthStore is the slice of the store contract health checks read from.
type HealthStore interface {
	StatsStore
	Ping(ctx context.Context) error
}

// HealthChecker runs the fixed battery of queue health checks. Checks never
// return an error to the caller: every failure, including an unreachable
// store or an unknown queue, is reported inside the result so monitoring
// loops stay resilient.
type HealthChecker struct {
	store      HealthStore
	configs    ConfigSource
	stats      *Statistics
	thresholds HealthThresholds
	logger     *slog.Logger
	nowFunc    func() time.Time
	sample     int
}

// HealthCheckerOption configures a HealthChecker.
type HealthCheckerOption func(*HealthChecker)

// WithHealthLogger sets the logger. Logging is disabled by default.
func WithHealthLogger(logger *slog.Logger) HealthCheckerOption {
	return func(h *HealthChecker) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHealthClock replaces the wall clock. Test seam.
func WithHealthClock(now func() time.Time) HealthCheckerOption {
	return func(h *HealthChecker) {
		if now != nil {
			h.nowFunc = now
		}
	}
}

// WithHealthThresholds replaces the default check ceilings.
func WithHealthThresholds(thresholds HealthThresholds) HealthCheckerOption {
	return func(h *HealthChecker) {
		h.thresholds = thresholds
	}
}

// WithHealthStatistics shares an existing Statistics instance instead of the
// checker's internal one, keeping windows and sample sizes consistent.
func WithHealthStatistics(stats *Statistics) HealthCheckerOption {
	return func(h *HealthChecker) {
		if stats != nil {
			h.stats = stats
		}
	}
}

// WithHealthSampleSize bounds the payload-footprint sampling. Default 100.
func WithHealthSampleSize(n int) HealthCheckerOption {
	return func(h *HealthChecker) {
		if n > 0 {
			h.sample = n
		}
	}
}

// NewHealthChecker creates the health service backed by the given store and
// queue registry.
func NewHealthChecker(store HealthStore, configs ConfigSource, opts ...HealthCheckerOption) (*HealthChecker, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if configs == nil {
		return nil, ErrConfigSourceNil
	}

	h := &HealthChecker{
		store:      store,
		configs:    configs,
		thresholds: DefaultHealthThresholds(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		nowFunc:    time.Now,
		sample:     DefaultConfig().StatsSampleSize,
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.stats == nil {
		stats, err := NewStatistics(store, configs, WithStatisticsClock(h.nowFunc))
		if err != nil {
			return nil, err
		}
		h.stats = stats
	}

	return h, nil
}

// CheckQueue runs all eight checks against the queue using the checker's
// thresholds.
func (h *HealthChecker) CheckQueue(ctx context.Context, queueName string) *HealthCheckResult {
	return h.check(ctx, queueName, h.thresholds)
}

// CheckQueueWithThresholds runs all eight checks using one-off ceilings.
func (h *HealthChecker) CheckQueueWithThresholds(ctx context.Context, queueName string, thresholds HealthThresholds) *HealthCheckResult {
	return h.check(ctx, queueName, thresholds)
}

// CheckQueues runs the battery for each named queue, applying per-queue
// threshold overrides where present. The result map is keyed by queue name.
func (h *HealthChecker) CheckQueues(ctx context.Context, queueNames []string, overrides map[string]HealthThresholds) map[string]*HealthCheckResult {
	results := make(map[string]*HealthCheckResult, len(queueNames))
	for _, name := range queueNames {
		thresholds := h.thresholds
		if o, ok := overrides[name]; ok {
			thresholds = o
		}
		results[name] = h.check(ctx, name, thresholds)
	}
	return results
}

func (h *HealthChecker) check(ctx context.Context, queueName string, thr HealthThresholds) *HealthCheckResult {
	now := h.nowFunc().UTC()
	result := &HealthCheckResult{
		QueueName: queueName,
		Checks:    make(map[string]bool, 8),
		CheckedAt: now,
	}

	cfg, ok := h.configs.Queue(queueName)
	if !ok {
		result.Checks[CheckQueueConfiguration] = false
		result.Issues = append(result.Issues, "queue does not exist")
		result.Status = HealthStatusUnhealthy
		return result
	}

	verdict := func(name string, pass bool, failIssue string) {
		result.Checks[name] = pass
		if !pass {
			result.Issues = append(result.Issues, failIssue)
		}
	}

	if err := h.store.Ping(ctx); err != nil {
		verdict(CheckStoreConnection, false, fmt.Sprintf("storeConnection: %v", err))
	} else {
		verdict(CheckStoreConnection, true, "")
	}

	if err := cfg.Validate(); err != nil {
		verdict(CheckQueueConfiguration, false, fmt.Sprintf("queueConfiguration: %v", err))
	} else {
		verdict(CheckQueueConfiguration, true, "")
	}

	stats, err := h.stats.QueueStats(ctx, queueName)
	switch {
	case err != nil || stats == nil:
		if err != nil {
			result.Issues = append(result.Issues, fmt.Sprintf("stats unavailable: %v", err))
		} else {
			result.Issues = append(result.Issues, "stats unavailable: queue deregistered during check")
		}
		result.Checks[CheckQueueSize] = false
		result.Checks[CheckErrorRate] = false
		result.Checks[CheckProcessingTime] = false
	default:
		result.Metrics.Backlog = stats.Waiting
		result.Metrics.ErrorRate = stats.ErrorRate
		result.Metrics.AvgProcessing = stats.AvgProcessing

		verdict(CheckQueueSize, stats.Waiting <= thr.MaxQueueSize,
			fmt.Sprintf("queueSize: %d queued jobs exceed ceiling %d", stats.Waiting, thr.MaxQueueSize))
		verdict(CheckErrorRate, stats.ErrorRate <= thr.MaxErrorRate,
			fmt.Sprintf("errorRate: %.2f exceeds ceiling %.2f", stats.ErrorRate, thr.MaxErrorRate))
		verdict(CheckProcessingTime, stats.AvgProcessing <= thr.MaxAvgProcessing,
			fmt.Sprintf("processingTime: average %s exceeds ceiling %s", stats.AvgProcessing.Round(time.Millisecond), thr.MaxAvgProcessing))
	}

	staleCount, oldest, err := h.store.WaitingOlderThan(ctx, queueName, now.Add(-thr.MaxWaitAge))
	if err != nil {
		verdict(CheckStaleJobs, false, fmt.Sprintf("staleJobs: %v", err))
	} else {
		result.Metrics.StaleWaiting = staleCount
		if !oldest.IsZero() {
			result.Metrics.OldestWaitAge = now.Sub(oldest)
		}
		verdict(CheckStaleJobs, staleCount == 0,
			fmt.Sprintf("staleJobs: %d waiting jobs older than %s, oldest waited %s",
				staleCount, thr.MaxWaitAge, now.Sub(oldest).Round(time.Second)))
	}

	stalledActive, err := h.store.ActiveOlderThan(ctx, queueName, now.Add(-cfg.VisibilityTimeout))
	if err != nil {
		verdict(CheckDeadlockDetection, false, fmt.Sprintf("deadlockDetection: %v", err))
	} else {
		result.Metrics.StalledActive = stalledActive
		verdict(CheckDeadlockDetection, stalledActive == 0,
			fmt.Sprintf("deadlockDetection: %d active jobs held past visibility timeout %s",
				stalledActive, cfg.VisibilityTimeout))
	}

	footprint, err := h.store.PayloadFootprint(ctx, queueName, h.sample)
	if err != nil {
		verdict(CheckMemoryUsage, false, fmt.Sprintf("memoryUsage: %v", err))
	} else {
		result.Metrics.PayloadBytes = footprint
		if thr.MaxPayloadBytes > 0 {
			result.Metrics.MemoryRatio = float64(footprint) / float64(thr.MaxPayloadBytes)
		}
		verdict(CheckMemoryUsage, footprint <= thr.MaxPayloadBytes,
			fmt.Sprintf("memoryUsage: payload footprint %d bytes exceeds ceiling %d", footprint, thr.MaxPayloadBytes))
	}

	result.Healthy = true
	for _, pass := range result.Checks {
		if !pass {
			result.Healthy = false
			break
		}
	}

	switch {
	case result.Healthy:
		result.Status = HealthStatusHealthy
	case !result.Checks[CheckStoreConnection] || !result.Checks[CheckQueueConfiguration]:
		result.Status = HealthStatusUnhealthy
	default:
		result.Status = HealthStatusDegraded
	}

	if !result.Healthy {
		h.logger.WarnContext(ctx, "queue health check failed",
			slog.String("queue", queueName),
			slog.String("status", string(result.Status)),
			slog.Int("issues", len(result.Issues)))
	}

	return result
}
