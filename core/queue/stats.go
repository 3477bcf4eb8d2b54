package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"time"
)

// Statistics derives aggregate queue metrics from store state. It is a pure
// reader: nothing here mutates a queue, and results are point-in-time
// approximations that tolerate concurrent lifecycle mutations.
type Statistics struct {
	store      StatsStore
	configs    ConfigSource
	logger     *slog.Logger
	nowFunc    func() time.Time
	window     time.Duration
	sampleSize int
}

// StatisticsOption configures a Statistics instance.
type StatisticsOption func(*Statistics)

// WithStatisticsLogger sets the logger. Logging is disabled by default.
func WithStatisticsLogger(logger *slog.Logger) StatisticsOption {
	return func(s *Statistics) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStatisticsClock replaces the wall clock. Test seam.
func WithStatisticsClock(now func() time.Time) StatisticsOption {
	return func(s *Statistics) {
		if now != nil {
			s.nowFunc = now
		}
	}
}

// WithStatsWindow sets the trailing window used for throughput and error
// rate. Default 5m.
func WithStatsWindow(window time.Duration) StatisticsOption {
	return func(s *Statistics) {
		if window > 0 {
			s.window = window
		}
	}
}

// WithStatsSampleSize bounds the number of recent completions sampled for
// processing-time aggregates. Default 100.
func WithStatsSampleSize(n int) StatisticsOption {
	return func(s *Statistics) {
		if n > 0 {
			s.sampleSize = n
		}
	}
}

// NewStatistics creates the statistics reader backed by the given store and
// queue registry.
func NewStatistics(store StatsStore, configs ConfigSource, opts ...StatisticsOption) (*Statistics, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if configs == nil {
		return nil, ErrConfigSourceNil
	}

	defaults := DefaultConfig()
	s := &Statistics{
		store:      store,
		configs:    configs,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		nowFunc:    time.Now,
		window:     defaults.StatsWindow,
		sampleSize: defaults.StatsSampleSize,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// QueueStats returns the derived view of a queue, or nil for unknown queue
// names. Waiting includes delayed jobs so the counts always sum to Total.
// Throughput and error rate cover the trailing stats window; the processing
// average covers the recent completion sample.
func (s *Statistics) QueueStats(ctx context.Context, queueName string) (*QueueStats, error) {
	if _, ok := s.configs.Queue(queueName); !ok {
		return nil, nil
	}

	now := s.nowFunc().UTC()

	counts, err := s.store.Counts(ctx, queueName)
	if err != nil {
		return nil, fmt.Errorf("failed to read counts for queue %q: %w", queueName, err)
	}
	completed, failed, err := s.store.FinishedSince(ctx, queueName, now.Add(-s.window))
	if err != nil {
		return nil, fmt.Errorf("failed to read finished jobs for queue %q: %w", queueName, err)
	}
	times, err := s.store.ProcessingTimes(ctx, queueName, s.sampleSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read processing times for queue %q: %w", queueName, err)
	}
	priorities, err := s.store.PriorityCounts(ctx, queueName)
	if err != nil {
		return nil, fmt.Errorf("failed to read priority counts for queue %q: %w", queueName, err)
	}

	return &QueueStats{
		QueueName:     queueName,
		Total:         counts.Total(),
		Waiting:       counts.Waiting + counts.Delayed,
		Delayed:       counts.Delayed,
		Active:        counts.Active,
		Completed:     counts.Completed,
		Failed:        counts.Failed,
		Throughput:    float64(completed) / s.window.Seconds(),
		AvgProcessing: meanDuration(times),
		ErrorRate:     errorRate(completed, failed),
		Priorities:    priorities,
	}, nil
}

// PriorityDistribution returns per-tier job counts, or nil for unknown queue
// names. All four tiers are present even when zero.
func (s *Statistics) PriorityDistribution(ctx context.Context, queueName string) (*PriorityDistribution, error) {
	if _, ok := s.configs.Queue(queueName); !ok {
		return nil, nil
	}

	dist, err := s.store.PriorityCounts(ctx, queueName)
	if err != nil {
		return nil, fmt.Errorf("failed to read priority counts for queue %q: %w", queueName, err)
	}
	return &dist, nil
}

// ProcessingSummary aggregates recent completion durations.
type ProcessingSummary struct {
	Avg        time.Duration `json:"avg"`
	P95        time.Duration `json:"p95"`
	P99        time.Duration `json:"p99"`
	SampleSize int           `json:"sample_size"`
}

// ProcessingSummary returns avg/p95/p99 over the recent completion sample,
// or nil for unknown queue names. All zeros when nothing completed yet.
func (s *Statistics) ProcessingSummary(ctx context.Context, queueName string) (*ProcessingSummary, error) {
	if _, ok := s.configs.Queue(queueName); !ok {
		return nil, nil
	}

	times, err := s.store.ProcessingTimes(ctx, queueName, s.sampleSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read processing times for queue %q: %w", queueName, err)
	}

	sorted := slices.Clone(times)
	slices.Sort(sorted)

	return &ProcessingSummary{
		Avg:        meanDuration(times),
		P95:        percentile(sorted, 0.95),
		P99:        percentile(sorted, 0.99),
		SampleSize: len(times),
	}, nil
}

// Window returns the trailing window statistics are computed over.
func (s *Statistics) Window() time.Duration {
	return s.window
}

func errorRate(completed, failed int64) float64 {
	total := completed + failed
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

func meanDuration(times []time.Duration) time.Duration {
	if len(times) == 0 {
		return 0
	}
	var sum time.Duration
	for _, t := range times {
		sum += t
	}
	return sum / time.Duration(len(times))
}

// percentile picks the nearest-rank percentile from an ascending sample.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
