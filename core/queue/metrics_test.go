package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/core/event"
	"github.com/dmitrymomot/jobq/core/queue"
)

func TestMetrics_Attach(t *testing.T) {
	t.Parallel()

	m := queue.NewMetrics(queue.WithMetricsRegisterer(prometheus.NewRegistry()))

	bus := event.NewBus()
	defer bus.Close()
	require.NoError(t, m.Attach(bus))

	ctx := context.Background()
	evt := queue.JobEvent{
		QueueName: "emails",
		JobID:     "job-1",
		Priority:  queue.PriorityHigh,
		At:        time.Now(),
	}

	require.NoError(t, event.Publish(ctx, bus, queue.TopicJobEnqueued, evt))
	require.NoError(t, event.Publish(ctx, bus, queue.TopicJobEnqueued, evt))
	require.NoError(t, event.Publish(ctx, bus, queue.TopicJobStarted, evt))
	require.NoError(t, event.Publish(ctx, bus, queue.TopicJobCompleted, evt))
	require.NoError(t, event.Publish(ctx, bus, queue.TopicJobFailed, evt))
	require.NoError(t, event.Publish(ctx, bus, queue.TopicJobRetried, evt))
	require.NoError(t, event.Publish(ctx, bus, queue.TopicJobStalled, evt))
	require.NoError(t, event.Publish(ctx, bus, queue.TopicJobDeadLettered, evt))

	// Counting happens on subscriber goroutines, so wait for delivery.
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.JobsEnqueued.WithLabelValues("emails", "high")) == 2 &&
			testutil.ToFloat64(m.JobsStarted.WithLabelValues("emails")) == 1 &&
			testutil.ToFloat64(m.JobsCompleted.WithLabelValues("emails")) == 1 &&
			testutil.ToFloat64(m.JobsFailed.WithLabelValues("emails")) == 1 &&
			testutil.ToFloat64(m.JobsRetried.WithLabelValues("emails")) == 1 &&
			testutil.ToFloat64(m.JobsStalled.WithLabelValues("emails")) == 1 &&
			testutil.ToFloat64(m.JobsDeadLettered.WithLabelValues("emails")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A detached Metrics no longer counts.
	m.Detach()
	require.NoError(t, event.Publish(ctx, bus, queue.TopicJobStarted, evt))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsStarted.WithLabelValues("emails")))
}

func TestMetrics_AttachNilBus(t *testing.T) {
	t.Parallel()

	m := queue.NewMetrics(queue.WithMetricsRegisterer(prometheus.NewRegistry()))
	assert.ErrorIs(t, m.Attach(nil), event.ErrBusNil)
}

func TestMetrics_Observe(t *testing.T) {
	t.Parallel()

	m := queue.NewMetrics(
		queue.WithMetricsRegisterer(prometheus.NewRegistry()),
		queue.WithMetricsNamespace("observed"))

	snap := &queue.MonitoringSnapshot{
		QueueName: "emails",
		TakenAt:   time.Now(),
		Stats: queue.QueueStats{
			QueueName: "emails",
			Total:     12,
			Waiting:   5,
			Delayed:   2,
			Active:    1,
			Completed: 3,
			Failed:    3,
			ErrorRate: 0.25,
		},
		Health: queue.HealthCheckResult{Status: queue.HealthStatusDegraded},
		Performance: queue.Performance{
			Throughput:    1.5,
			AvgProcessing: 2 * time.Second,
			P95Processing: 4 * time.Second,
			P99Processing: 8 * time.Second,
			MemoryRatio:   0.4,
		},
		Alerts: []queue.Alert{{
			QueueName: "emails",
			Type:      queue.AlertErrorRate,
			Severity:  queue.SeverityWarning,
		}},
	}
	m.Observe(snap)

	// Waiting reports the immediately runnable subset; delayed is its own state.
	assert.Equal(t, float64(3), testutil.ToFloat64(m.QueueDepth.WithLabelValues("emails", "waiting")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.QueueDepth.WithLabelValues("emails", "delayed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.QueueDepth.WithLabelValues("emails", "active")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.QueueDepth.WithLabelValues("emails", "completed")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.QueueDepth.WithLabelValues("emails", "failed")))

	assert.Equal(t, 1.5, testutil.ToFloat64(m.QueueThroughput.WithLabelValues("emails")))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.QueueErrorRate.WithLabelValues("emails")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProcessingTime.WithLabelValues("emails", "avg")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ProcessingTime.WithLabelValues("emails", "p95")))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.ProcessingTime.WithLabelValues("emails", "p99")))
	assert.Equal(t, 0.4, testutil.ToFloat64(m.MemoryRatio.WithLabelValues("emails")))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveAlerts.WithLabelValues("emails", "error_rate")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveAlerts.WithLabelValues("emails", "queue_size")))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.HealthStatus.WithLabelValues("emails")))

	// A calmer follow-up snapshot clears the alert gauge.
	snap.Alerts = nil
	snap.Health.Status = queue.HealthStatusHealthy
	m.Observe(snap)

	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveAlerts.WithLabelValues("emails", "error_rate")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HealthStatus.WithLabelValues("emails")))

	assert.NotPanics(t, func() { m.Observe(nil) })
}
