package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/core/queue"
)

var healthEpoch = time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)

// brokenPingStore wraps a working store with a dead connection probe.
type brokenPingStore struct {
	queue.Store
}

func (s *brokenPingStore) Ping(context.Context) error {
	return assert.AnError
}

func newHealthChecker(t *testing.T, store queue.HealthStore, cfgs queue.ConfigSource, opts ...queue.HealthCheckerOption) *queue.HealthChecker {
	t.Helper()
	checker, err := queue.NewHealthChecker(store, cfgs,
		append([]queue.HealthCheckerOption{queue.WithHealthClock(func() time.Time { return healthEpoch })}, opts...)...)
	require.NoError(t, err)
	return checker
}

func TestNewHealthChecker(t *testing.T) {
	t.Parallel()

	t.Run("nil store", func(t *testing.T) {
		t.Parallel()
		_, err := queue.NewHealthChecker(nil, queue.StaticConfigSource{})
		assert.ErrorIs(t, err, queue.ErrStoreNil)
	})

	t.Run("nil config source", func(t *testing.T) {
		t.Parallel()
		_, err := queue.NewHealthChecker(queue.NewMemoryStore(), nil)
		assert.ErrorIs(t, err, queue.ErrConfigSourceNil)
	})
}

func TestHealthChecker_CheckQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	allChecks := []string{
		queue.CheckQueueSize,
		queue.CheckProcessingTime,
		queue.CheckErrorRate,
		queue.CheckMemoryUsage,
		queue.CheckStoreConnection,
		queue.CheckStaleJobs,
		queue.CheckDeadlockDetection,
		queue.CheckQueueConfiguration,
	}

	t.Run("healthy queue passes every check", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "j-1", queue.PriorityNormal, healthEpoch)))

		checker := newHealthChecker(t, store,
			queue.StaticConfigSource{"emails": queue.DefaultQueueConfig("emails")})

		result := checker.CheckQueue(ctx, "emails")
		require.NotNil(t, result)

		assert.True(t, result.Healthy)
		assert.Equal(t, queue.HealthStatusHealthy, result.Status)
		assert.Empty(t, result.Issues)
		assert.Equal(t, healthEpoch, result.CheckedAt)
		assert.Len(t, result.Checks, len(allChecks))
		for _, name := range allChecks {
			assert.True(t, result.Checks[name], name)
		}

		assert.Equal(t, int64(1), result.Metrics.Backlog)
		assert.Equal(t, int64(7), result.Metrics.PayloadBytes)
		assert.Zero(t, result.Metrics.ErrorRate)
		assert.Zero(t, result.Metrics.StalledActive)
	})

	t.Run("unknown queue is unhealthy", func(t *testing.T) {
		t.Parallel()

		checker := newHealthChecker(t, queue.NewMemoryStore(), queue.StaticConfigSource{})

		result := checker.CheckQueue(ctx, "ghost")
		require.NotNil(t, result)
		assert.False(t, result.Healthy)
		assert.Equal(t, queue.HealthStatusUnhealthy, result.Status)
		assert.Equal(t, []string{"queue does not exist"}, result.Issues)
		assert.Len(t, result.Checks, 1)
		assert.False(t, result.Checks[queue.CheckQueueConfiguration])
	})

	t.Run("unreachable store is unhealthy", func(t *testing.T) {
		t.Parallel()

		store := &brokenPingStore{Store: queue.NewMemoryStore()}
		checker := newHealthChecker(t, store,
			queue.StaticConfigSource{"emails": queue.DefaultQueueConfig("emails")})

		result := checker.CheckQueue(ctx, "emails")
		assert.False(t, result.Healthy)
		assert.Equal(t, queue.HealthStatusUnhealthy, result.Status)
		assert.False(t, result.Checks[queue.CheckStoreConnection])
		require.Len(t, result.Issues, 1)
		assert.Contains(t, result.Issues[0], "storeConnection:")
	})

	t.Run("invalid configuration is unhealthy", func(t *testing.T) {
		t.Parallel()

		checker := newHealthChecker(t, queue.NewMemoryStore(),
			queue.StaticConfigSource{"bad": queue.QueueConfig{Name: "bad"}})

		result := checker.CheckQueue(ctx, "bad")
		assert.False(t, result.Healthy)
		assert.Equal(t, queue.HealthStatusUnhealthy, result.Status)
		assert.False(t, result.Checks[queue.CheckQueueConfiguration])
	})

	t.Run("oversized backlog degrades", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "j-1", queue.PriorityNormal, healthEpoch)))
		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "j-2", queue.PriorityNormal, healthEpoch)))

		thresholds := queue.DefaultHealthThresholds()
		thresholds.MaxQueueSize = 1
		checker := newHealthChecker(t, store,
			queue.StaticConfigSource{"emails": queue.DefaultQueueConfig("emails")},
			queue.WithHealthThresholds(thresholds))

		result := checker.CheckQueue(ctx, "emails")
		assert.False(t, result.Healthy)
		assert.Equal(t, queue.HealthStatusDegraded, result.Status)
		assert.False(t, result.Checks[queue.CheckQueueSize])
		require.Len(t, result.Issues, 1)
		assert.Contains(t, result.Issues[0], "queueSize: 2 queued jobs exceed ceiling 1")
	})

	t.Run("error rate over ceiling degrades", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		failOne(t, store, "emails", "f-1", queue.PriorityNormal,
			healthEpoch.Add(-2*time.Minute-time.Second), healthEpoch.Add(-2*time.Minute))
		failOne(t, store, "emails", "f-2", queue.PriorityNormal,
			healthEpoch.Add(-time.Minute-time.Second), healthEpoch.Add(-time.Minute))

		checker := newHealthChecker(t, store,
			queue.StaticConfigSource{"emails": queue.DefaultQueueConfig("emails")})

		result := checker.CheckQueue(ctx, "emails")
		assert.Equal(t, queue.HealthStatusDegraded, result.Status)
		assert.False(t, result.Checks[queue.CheckErrorRate])
		assert.InDelta(t, 1.0, result.Metrics.ErrorRate, 1e-9)
	})

	t.Run("slow processing degrades", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		completeOne(t, store, "emails", "c-1", queue.PriorityNormal,
			healthEpoch.Add(-2*time.Minute-30*time.Second), healthEpoch.Add(-30*time.Second))

		checker := newHealthChecker(t, store,
			queue.StaticConfigSource{"emails": queue.DefaultQueueConfig("emails")})

		result := checker.CheckQueue(ctx, "emails")
		assert.Equal(t, queue.HealthStatusDegraded, result.Status)
		assert.False(t, result.Checks[queue.CheckProcessingTime])
		assert.Equal(t, 2*time.Minute, result.Metrics.AvgProcessing)
	})

	t.Run("stale waiting jobs degrade", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "old", queue.PriorityNormal, healthEpoch.Add(-11*time.Minute))))

		checker := newHealthChecker(t, store,
			queue.StaticConfigSource{"emails": queue.DefaultQueueConfig("emails")})

		result := checker.CheckQueue(ctx, "emails")
		assert.Equal(t, queue.HealthStatusDegraded, result.Status)
		assert.False(t, result.Checks[queue.CheckStaleJobs])
		assert.Equal(t, int64(1), result.Metrics.StaleWaiting)
		assert.Equal(t, 11*time.Minute, result.Metrics.OldestWaitAge)
	})

	t.Run("claims held past visibility timeout degrade", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "held", queue.PriorityNormal, healthEpoch.Add(-time.Minute))))
		_, err := store.AcquireJob(ctx, "emails", healthEpoch.Add(-31*time.Second))
		require.NoError(t, err)

		checker := newHealthChecker(t, store,
			queue.StaticConfigSource{"emails": queue.DefaultQueueConfig("emails")})

		result := checker.CheckQueue(ctx, "emails")
		assert.Equal(t, queue.HealthStatusDegraded, result.Status)
		assert.False(t, result.Checks[queue.CheckDeadlockDetection])
		assert.Equal(t, int64(1), result.Metrics.StalledActive)
	})

	t.Run("payload footprint over ceiling degrades", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "j-1", queue.PriorityNormal, healthEpoch)))

		thresholds := queue.DefaultHealthThresholds()
		thresholds.MaxPayloadBytes = 4
		checker := newHealthChecker(t, store,
			queue.StaticConfigSource{"emails": queue.DefaultQueueConfig("emails")},
			queue.WithHealthThresholds(thresholds))

		result := checker.CheckQueue(ctx, "emails")
		assert.Equal(t, queue.HealthStatusDegraded, result.Status)
		assert.False(t, result.Checks[queue.CheckMemoryUsage])
		assert.Equal(t, int64(7), result.Metrics.PayloadBytes)
		assert.InDelta(t, 1.75, result.Metrics.MemoryRatio, 1e-9)
	})
}

func TestHealthChecker_CheckQueueWithThresholds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := queue.NewMemoryStore()
	require.NoError(t, store.CreateJob(ctx, seedJob("emails", "j-1", queue.PriorityNormal, healthEpoch)))

	checker := newHealthChecker(t, store,
		queue.StaticConfigSource{"emails": queue.DefaultQueueConfig("emails")})

	// Passes under the instance defaults.
	result := checker.CheckQueue(ctx, "emails")
	assert.True(t, result.Healthy)

	// Fails under one-off ceilings without touching instance state.
	tight := queue.DefaultHealthThresholds()
	tight.MaxQueueSize = 0
	result = checker.CheckQueueWithThresholds(ctx, "emails", tight)
	assert.False(t, result.Healthy)
	assert.Equal(t, queue.HealthStatusDegraded, result.Status)

	result = checker.CheckQueue(ctx, "emails")
	assert.True(t, result.Healthy)
}

func TestHealthChecker_CheckQueues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := queue.NewMemoryStore()
	require.NoError(t, store.CreateJob(ctx, seedJob("busy", "j-1", queue.PriorityNormal, healthEpoch)))

	checker := newHealthChecker(t, store, queue.StaticConfigSource{
		"idle": queue.DefaultQueueConfig("idle"),
		"busy": queue.DefaultQueueConfig("busy"),
	})

	tight := queue.DefaultHealthThresholds()
	tight.MaxQueueSize = 0
	results := checker.CheckQueues(ctx, []string{"idle", "busy"},
		map[string]queue.HealthThresholds{"busy": tight})

	require.Len(t, results, 2)
	assert.True(t, results["idle"].Healthy)
	assert.False(t, results["busy"].Healthy)
	assert.False(t, results["busy"].Checks[queue.CheckQueueSize])
}

func TestHealthChecker_SharedStatistics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := queue.NewMemoryStore()
	failOne(t, store, "emails", "f-1", queue.PriorityNormal,
		healthEpoch.Add(-2*time.Minute-time.Second), healthEpoch.Add(-2*time.Minute))

	cfgs := queue.StaticConfigSource{"emails": queue.DefaultQueueConfig("emails")}

	// With the default 5m window the lone failure dominates the error rate.
	checker := newHealthChecker(t, store, cfgs)
	result := checker.CheckQueue(ctx, "emails")
	assert.False(t, result.Checks[queue.CheckErrorRate])

	// A shared statistics reader with a 1m window no longer sees it.
	stats, err := queue.NewStatistics(store, cfgs,
		queue.WithStatisticsClock(func() time.Time { return healthEpoch }),
		queue.WithStatsWindow(time.Minute))
	require.NoError(t, err)

	checker = newHealthChecker(t, store, cfgs, queue.WithHealthStatistics(stats))
	result = checker.CheckQueue(ctx, "emails")
	assert.True(t, result.Checks[queue.CheckErrorRate])
	assert.True(t, result.Healthy)
}
