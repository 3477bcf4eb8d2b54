package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/core/event"
	"github.com/dmitrymomot/jobq/core/queue"
)

var monitorEpoch = time.Date(2026, 2, 18, 8, 0, 0, 0, time.UTC)

// newMonitor wires a monitor with all services sharing one store and clock.
func newMonitor(t *testing.T, store queue.Store, cfgs queue.ConfigSource, clock func() time.Time, opts ...queue.MonitorOption) *queue.Monitor {
	t.Helper()

	ops, err := queue.NewOperations(store, cfgs, queue.WithOperationsClock(clock))
	require.NoError(t, err)
	stats, err := queue.NewStatistics(store, cfgs, queue.WithStatisticsClock(clock))
	require.NoError(t, err)
	health, err := queue.NewHealthChecker(store, cfgs, queue.WithHealthClock(clock))
	require.NoError(t, err)

	mon, err := queue.NewMonitor(ops, stats, health, cfgs,
		append([]queue.MonitorOption{queue.WithMonitorClock(clock)}, opts...)...)
	require.NoError(t, err)
	return mon
}

func TestNewMonitor(t *testing.T) {
	t.Parallel()

	store := queue.NewMemoryStore()
	cfgs := queue.StaticConfigSource{}
	ops, err := queue.NewOperations(store, cfgs)
	require.NoError(t, err)
	stats, err := queue.NewStatistics(store, cfgs)
	require.NoError(t, err)
	health, err := queue.NewHealthChecker(store, cfgs)
	require.NoError(t, err)

	_, err = queue.NewMonitor(nil, stats, health, cfgs)
	assert.ErrorIs(t, err, queue.ErrOperationsNil)

	_, err = queue.NewMonitor(ops, nil, health, cfgs)
	assert.ErrorIs(t, err, queue.ErrStatisticsNil)

	_, err = queue.NewMonitor(ops, stats, nil, cfgs)
	assert.ErrorIs(t, err, queue.ErrHealthCheckerNil)

	_, err = queue.NewMonitor(ops, stats, health, nil)
	assert.ErrorIs(t, err, queue.ErrConfigSourceNil)

	mon, err := queue.NewMonitor(ops, stats, health, cfgs)
	require.NoError(t, err)
	assert.NotNil(t, mon)
}

func TestMonitor_Collect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfgs := queue.StaticConfigSource{"emails": queue.DefaultQueueConfig("emails")}

	t.Run("snapshot captures stats and health", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "j-1", queue.PriorityNormal, monitorEpoch)))
		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "j-2", queue.PriorityHigh, monitorEpoch)))

		mon := newMonitor(t, store, cfgs, func() time.Time { return monitorEpoch })

		snap, err := mon.Collect(ctx, "emails")
		require.NoError(t, err)
		require.NotNil(t, snap)

		assert.Equal(t, "emails", snap.QueueName)
		assert.Equal(t, monitorEpoch, snap.TakenAt)
		assert.Equal(t, int64(2), snap.Stats.Waiting)
		assert.True(t, snap.Health.Healthy)
		assert.Zero(t, snap.Performance.AvgProcessing)
		assert.Zero(t, snap.Trends)
		assert.Empty(t, snap.Alerts)

		st := mon.Stats()
		assert.Equal(t, int64(1), st.SnapshotsTaken)
		assert.Zero(t, st.Collectors)
		assert.Zero(t, st.ActiveAlerts)
	})

	t.Run("unknown queue", func(t *testing.T) {
		t.Parallel()

		mon := newMonitor(t, queue.NewMemoryStore(), cfgs, func() time.Time { return monitorEpoch })
		_, err := mon.Collect(ctx, "ghost")
		assert.ErrorIs(t, err, queue.ErrQueueNotFound)
	})

	t.Run("trends compare against the previous snapshot", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "j-1", queue.PriorityNormal, monitorEpoch)))

		clock := newTestClock(monitorEpoch)
		mon := newMonitor(t, store, cfgs, clock.Now)

		_, err := mon.Collect(ctx, "emails")
		require.NoError(t, err)

		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "j-2", queue.PriorityNormal, monitorEpoch)))
		clock.Advance(time.Minute)

		snap, err := mon.Collect(ctx, "emails")
		require.NoError(t, err)
		assert.Equal(t, int64(1), snap.Trends.BacklogDelta)
		assert.Zero(t, snap.Trends.ErrorRateDelta)
	})
}

func TestMonitor_Alerts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfgs := queue.StaticConfigSource{"emails": queue.DefaultQueueConfig("emails")}

	t.Run("queue size breach escalates to critical", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "j-1", queue.PriorityNormal, monitorEpoch)))
		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "j-2", queue.PriorityNormal, monitorEpoch)))

		thr := queue.DefaultAlertThresholds()
		thr.MaxQueueSize = 1
		mon := newMonitor(t, store, cfgs, func() time.Time { return monitorEpoch },
			queue.WithAlertThresholds(thr))

		snap, err := mon.Collect(ctx, "emails")
		require.NoError(t, err)
		require.Len(t, snap.Alerts, 1)

		alert := snap.Alerts[0]
		assert.Equal(t, queue.AlertQueueSize, alert.Type)
		assert.Equal(t, queue.SeverityCritical, alert.Severity, "2 jobs is twice the ceiling of 1")
		assert.Equal(t, "queue size too large", alert.Message)
		assert.Equal(t, float64(2), alert.Value)
		assert.Equal(t, float64(1), alert.Threshold)
		assert.Equal(t, monitorEpoch, alert.TriggeredAt)
	})

	t.Run("error rate breach stays warning below the multiplier", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		failOne(t, store, "emails", "f-1", queue.PriorityNormal,
			monitorEpoch.Add(-time.Minute-time.Second), monitorEpoch.Add(-time.Minute))

		thr := queue.DefaultAlertThresholds()
		thr.MaxErrorRate = 0.6
		mon := newMonitor(t, store, cfgs, func() time.Time { return monitorEpoch },
			queue.WithAlertThresholds(thr))

		snap, err := mon.Collect(ctx, "emails")
		require.NoError(t, err)
		require.Len(t, snap.Alerts, 1)
		assert.Equal(t, queue.AlertErrorRate, snap.Alerts[0].Type)
		assert.Equal(t, queue.SeverityWarning, snap.Alerts[0].Severity)
		assert.InDelta(t, 1.0, snap.Alerts[0].Value, 1e-9)
	})

	t.Run("slow processing raises", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		completeOne(t, store, "emails", "c-1", queue.PriorityNormal,
			monitorEpoch.Add(-100*time.Second), monitorEpoch.Add(-time.Minute))

		mon := newMonitor(t, store, cfgs, func() time.Time { return monitorEpoch })

		snap, err := mon.Collect(ctx, "emails")
		require.NoError(t, err)
		require.Len(t, snap.Alerts, 1)
		assert.Equal(t, queue.AlertProcessingTime, snap.Alerts[0].Type)
		assert.InDelta(t, 40.0, snap.Alerts[0].Value, 1e-9)
		assert.InDelta(t, 30.0, snap.Alerts[0].Threshold, 1e-9)
	})

	t.Run("stalled claims raise", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "held", queue.PriorityNormal, monitorEpoch.Add(-time.Minute))))
		_, err := store.AcquireJob(ctx, "emails", monitorEpoch.Add(-31*time.Second))
		require.NoError(t, err)

		mon := newMonitor(t, store, cfgs, func() time.Time { return monitorEpoch })

		snap, err := mon.Collect(ctx, "emails")
		require.NoError(t, err)
		require.Len(t, snap.Alerts, 1)
		assert.Equal(t, queue.AlertStalledJobs, snap.Alerts[0].Type)
		assert.Equal(t, queue.SeverityWarning, snap.Alerts[0].Severity)
		assert.Equal(t, float64(1), snap.Alerts[0].Value)
	})

	t.Run("active alerts sort by type", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		failOne(t, store, "emails", "f-1", queue.PriorityNormal,
			monitorEpoch.Add(-time.Minute-time.Second), monitorEpoch.Add(-time.Minute))
		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "j-1", queue.PriorityNormal, monitorEpoch)))
		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "j-2", queue.PriorityNormal, monitorEpoch)))

		thr := queue.DefaultAlertThresholds()
		thr.MaxQueueSize = 1
		mon := newMonitor(t, store, cfgs, func() time.Time { return monitorEpoch },
			queue.WithAlertThresholds(thr))

		snap, err := mon.Collect(ctx, "emails")
		require.NoError(t, err)
		require.Len(t, snap.Alerts, 2)
		assert.Equal(t, queue.AlertErrorRate, snap.Alerts[0].Type)
		assert.Equal(t, queue.AlertQueueSize, snap.Alerts[1].Type)

		all := mon.AllAlerts()
		require.Contains(t, all, "emails")
		assert.Len(t, all["emails"], 2)
	})

	t.Run("raise and clear publish events and keep the trigger time", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "j-1", queue.PriorityNormal, monitorEpoch)))
		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "j-2", queue.PriorityNormal, monitorEpoch)))

		bus := event.NewBus()
		defer bus.Close()
		raised, err := event.Subscribe(bus, queue.TopicAlertRaised)
		require.NoError(t, err)
		cleared, err := event.Subscribe(bus, queue.TopicAlertCleared)
		require.NoError(t, err)

		thr := queue.DefaultAlertThresholds()
		thr.MaxQueueSize = 1
		clock := newTestClock(monitorEpoch)
		mon := newMonitor(t, store, cfgs, clock.Now,
			queue.WithAlertThresholds(thr),
			queue.WithMonitorEventBus(bus))

		_, err = mon.Collect(ctx, "emails")
		require.NoError(t, err)

		select {
		case evt := <-raised.Events():
			assert.Equal(t, "emails", evt.QueueName)
			assert.Equal(t, queue.AlertQueueSize, evt.Alert.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("expected a raised event")
		}

		// The breach persists: same alert, original trigger time, no re-raise.
		clock.Advance(time.Minute)
		snap, err := mon.Collect(ctx, "emails")
		require.NoError(t, err)
		require.Len(t, snap.Alerts, 1)
		assert.Equal(t, monitorEpoch, snap.Alerts[0].TriggeredAt)
		select {
		case evt := <-raised.Events():
			t.Fatalf("unexpected raised event: %s", evt.Alert.Type)
		default:
		}

		// Draining the queue clears the alert.
		require.NoError(t, store.PurgeQueue(ctx, "emails"))
		clock.Advance(time.Minute)
		snap, err = mon.Collect(ctx, "emails")
		require.NoError(t, err)
		assert.Empty(t, snap.Alerts)
		assert.Nil(t, mon.CurrentAlerts("emails"))

		select {
		case evt := <-cleared.Events():
			assert.Equal(t, queue.AlertQueueSize, evt.Alert.Type)
			assert.Equal(t, monitorEpoch, evt.Alert.TriggeredAt)
			assert.Equal(t, monitorEpoch.Add(2*time.Minute), evt.At)
		case <-time.After(2 * time.Second):
			t.Fatal("expected a cleared event")
		}

		assert.Zero(t, mon.Stats().ActiveAlerts)
	})
}

func TestMonitor_History(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfgs := queue.StaticConfigSource{"emails": queue.DefaultQueueConfig("emails")}

	store := queue.NewMemoryStore()
	clock := newTestClock(monitorEpoch)
	mon := newMonitor(t, store, cfgs, clock.Now, queue.WithHistoryLimit(2))

	for range 3 {
		_, err := mon.Collect(ctx, "emails")
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	// The oldest snapshot fell off the bounded history.
	hist := mon.History("emails", time.Time{})
	require.Len(t, hist, 2)
	assert.Equal(t, monitorEpoch.Add(time.Minute), hist[0].TakenAt)
	assert.Equal(t, monitorEpoch.Add(2*time.Minute), hist[1].TakenAt)

	hist = mon.History("emails", monitorEpoch.Add(2*time.Minute))
	require.Len(t, hist, 1)
	assert.Equal(t, monitorEpoch.Add(2*time.Minute), hist[0].TakenAt)

	assert.Empty(t, mon.History("ghost", time.Time{}))
	assert.Equal(t, int64(3), mon.Stats().SnapshotsTaken)
}

func TestMonitor_StartStopMonitoring(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfgs := queue.StaticConfigSource{"emails": queue.DefaultQueueConfig("emails")}

	t.Run("unknown queue", func(t *testing.T) {
		t.Parallel()

		mon := newMonitor(t, queue.NewMemoryStore(), cfgs, time.Now)
		assert.ErrorIs(t, mon.StartMonitoring("ghost"), queue.ErrQueueNotFound)
	})

	t.Run("collector lifecycle", func(t *testing.T) {
		t.Parallel()

		mon := newMonitor(t, queue.NewMemoryStore(), cfgs, time.Now)

		require.NoError(t, mon.StartMonitoring("emails"))
		assert.Equal(t, []string{"emails"}, mon.Monitored())
		assert.ErrorIs(t, mon.StartMonitoring("emails"), queue.ErrAlreadyMonitoring)

		// The collector takes an immediate snapshot on start.
		require.Eventually(t, func() bool {
			return mon.Stats().SnapshotsTaken >= 1
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, 1, mon.Stats().Collectors)

		mon.StopMonitoring("emails")
		assert.Empty(t, mon.Monitored())
		assert.Zero(t, mon.Stats().Collectors)

		// Stopping an unmonitored queue is a no-op.
		mon.StopMonitoring("emails")
	})

	t.Run("collector interval drives periodic snapshots", func(t *testing.T) {
		t.Parallel()

		mon := newMonitor(t, queue.NewMemoryStore(), cfgs, time.Now)
		require.NoError(t, mon.StartMonitoring("emails", queue.WithCollectorInterval(10*time.Millisecond)))
		defer mon.StopAll()

		require.Eventually(t, func() bool {
			return mon.Stats().SnapshotsTaken >= 3
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("collector thresholds apply to on-demand collects", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "j-1", queue.PriorityNormal, monitorEpoch)))
		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "j-2", queue.PriorityNormal, monitorEpoch)))

		mon := newMonitor(t, store, cfgs, func() time.Time { return monitorEpoch })

		tight := queue.DefaultAlertThresholds()
		tight.MaxQueueSize = 1
		require.NoError(t, mon.StartMonitoring("emails",
			queue.WithCollectorInterval(time.Hour),
			queue.WithCollectorThresholds(tight)))
		defer mon.StopAll()

		snap, err := mon.Collect(ctx, "emails")
		require.NoError(t, err)
		require.Len(t, snap.Alerts, 1)
		assert.Equal(t, queue.AlertQueueSize, snap.Alerts[0].Type)

		// Without the collector the monitor defaults apply and the alert clears.
		mon.StopMonitoring("emails")
		snap, err = mon.Collect(ctx, "emails")
		require.NoError(t, err)
		assert.Empty(t, snap.Alerts)
	})

	t.Run("sweeps reclaim stalled jobs", func(t *testing.T) {
		t.Parallel()

		cfg := queue.DefaultQueueConfig("emails")
		cfg.StalledInterval = 20 * time.Millisecond
		sweepCfgs := queue.StaticConfigSource{"emails": cfg}

		store := queue.NewMemoryStore()
		require.NoError(t, store.CreateJob(ctx, seedJob("emails", "held", queue.PriorityNormal, monitorEpoch)))
		_, err := store.AcquireJob(ctx, "emails", monitorEpoch)
		require.NoError(t, err)

		clock := newTestClock(monitorEpoch)
		clock.Advance(31 * time.Second)
		mon := newMonitor(t, store, sweepCfgs, clock.Now)

		require.NoError(t, mon.StartMonitoring("emails", queue.WithCollectorInterval(time.Hour)))
		defer mon.StopAll()

		require.Eventually(t, func() bool {
			job, err := store.GetJob(ctx, "emails", "held")
			return err == nil && job.Status == queue.JobStatusWaiting
		}, 2*time.Second, 10*time.Millisecond)

		job, err := store.GetJob(ctx, "emails", "held")
		require.NoError(t, err)
		assert.Equal(t, 1, job.StalledCount)
	})
}

func TestMonitor_Run(t *testing.T) {
	t.Parallel()

	cfgs := queue.StaticConfigSource{
		"emails":  queue.DefaultQueueConfig("emails"),
		"reports": queue.DefaultQueueConfig("reports"),
	}
	mon := newMonitor(t, queue.NewMemoryStore(), cfgs, time.Now)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx)() }()

	require.Eventually(t, func() bool {
		return len(mon.Monitored()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"emails", "reports"}, mon.Monitored())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
	assert.Empty(t, mon.Monitored())
}
