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

var mgrEpoch = time.Date(2026, 2, 20, 11, 0, 0, 0, time.UTC)

func newManager(t *testing.T, opts ...queue.ManagerOption) *queue.Manager {
	t.Helper()
	m, err := queue.NewManager(queue.NewMemoryStore(),
		append([]queue.ManagerOption{queue.WithManagerClock(func() time.Time { return mgrEpoch })}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestNewManager(t *testing.T) {
	t.Parallel()

	t.Run("nil store", func(t *testing.T) {
		t.Parallel()
		_, err := queue.NewManager(nil)
		assert.ErrorIs(t, err, queue.ErrStoreNil)
	})

	t.Run("wires all services", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		m, err := queue.NewManager(store)
		require.NoError(t, err)
		t.Cleanup(func() { _ = m.Close() })

		assert.NotNil(t, m.Operations())
		assert.NotNil(t, m.Stats())
		assert.NotNil(t, m.Health())
		assert.NotNil(t, m.Monitor())
		assert.NotNil(t, m.Events())
		assert.Same(t, store, m.Store())
	})

	t.Run("rejects invalid engine config", func(t *testing.T) {
		t.Parallel()

		_, err := queue.NewManagerFromConfig(queue.Config{Concurrency: 1}, queue.NewMemoryStore())
		assert.ErrorIs(t, err, queue.ErrInvalidConfig)
	})
}

func TestManager_CreateQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("registers with filled defaults", func(t *testing.T) {
		t.Parallel()

		m := newManager(t)
		cfg, err := m.CreateQueue(ctx, queue.QueueConfig{Name: "emails"})
		require.NoError(t, err)

		assert.Equal(t, "emails", cfg.Name)
		assert.Equal(t, 1, cfg.Concurrency)
		assert.Equal(t, 3, cfg.MaxRetries)
		assert.Equal(t, 30*time.Second, cfg.VisibilityTimeout)

		got, ok := m.Queue("emails")
		require.True(t, ok)
		assert.Equal(t, cfg, got)
		assert.Equal(t, []string{"emails"}, m.Queues())
	})

	t.Run("rejects invalid configuration", func(t *testing.T) {
		t.Parallel()

		m := newManager(t)
		_, err := m.CreateQueue(ctx, queue.QueueConfig{Name: "emails", DeadLetterQueue: "emails"})
		assert.ErrorIs(t, err, queue.ErrInvalidConfig)
		_, ok := m.Queue("emails")
		assert.False(t, ok)
	})

	t.Run("re-registering replaces wholesale", func(t *testing.T) {
		t.Parallel()

		m := newManager(t)
		_, err := m.CreateQueue(ctx, queue.QueueConfig{Name: "emails", Concurrency: 4})
		require.NoError(t, err)

		_, err = m.CreateQueue(ctx, queue.QueueConfig{Name: "emails", MaxRetries: 9})
		require.NoError(t, err)

		got, ok := m.Queue("emails")
		require.True(t, ok)
		assert.Equal(t, 9, got.MaxRetries)
		assert.Equal(t, 1, got.Concurrency, "previous override does not survive replacement")
	})

	t.Run("persists the paused flag", func(t *testing.T) {
		t.Parallel()

		m := newManager(t)
		_, err := m.CreateQueue(ctx, queue.QueueConfig{Name: "emails", Paused: true})
		require.NoError(t, err)

		_, err = m.AddJob(ctx, "emails", "payload")
		require.NoError(t, err)

		job, err := m.Operations().AcquireJob(ctx, "emails")
		require.NoError(t, err)
		assert.Nil(t, job, "paused queues hand out nothing")
	})

	t.Run("closed manager", func(t *testing.T) {
		t.Parallel()

		m := newManager(t)
		require.NoError(t, m.Close())
		_, err := m.CreateQueue(ctx, queue.QueueConfig{Name: "emails"})
		assert.ErrorIs(t, err, queue.ErrManagerClosed)
	})
}

func TestManager_PauseResume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("gates acquisition and publishes events", func(t *testing.T) {
		t.Parallel()

		m := newManager(t)
		paused, err := event.Subscribe(m.Events(), queue.TopicQueuePaused)
		require.NoError(t, err)
		resumed, err := event.Subscribe(m.Events(), queue.TopicQueueResumed)
		require.NoError(t, err)

		_, err = m.CreateQueue(ctx, queue.QueueConfig{Name: "emails"})
		require.NoError(t, err)
		added, err := m.AddJob(ctx, "emails", "payload")
		require.NoError(t, err)

		require.NoError(t, m.PauseQueue(ctx, "emails"))
		cfg, _ := m.Queue("emails")
		assert.True(t, cfg.Paused)

		job, err := m.Operations().AcquireJob(ctx, "emails")
		require.NoError(t, err)
		assert.Nil(t, job)

		select {
		case evt := <-paused.Events():
			assert.Equal(t, "emails", evt.QueueName)
			assert.Equal(t, mgrEpoch, evt.At)
		case <-time.After(2 * time.Second):
			t.Fatal("expected a paused event")
		}

		// Pausing a paused queue is a no-op with no event.
		require.NoError(t, m.PauseQueue(ctx, "emails"))
		select {
		case <-paused.Events():
			t.Fatal("unexpected paused event")
		default:
		}

		require.NoError(t, m.ResumeQueue(ctx, "emails"))
		cfg, _ = m.Queue("emails")
		assert.False(t, cfg.Paused)

		job, err = m.Operations().AcquireJob(ctx, "emails")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, added.ID, job.ID)

		select {
		case evt := <-resumed.Events():
			assert.Equal(t, "emails", evt.QueueName)
		case <-time.After(2 * time.Second):
			t.Fatal("expected a resumed event")
		}
	})

	t.Run("unknown queue", func(t *testing.T) {
		t.Parallel()

		m := newManager(t)
		assert.ErrorIs(t, m.PauseQueue(ctx, "ghost"), queue.ErrQueueNotFound)
		assert.ErrorIs(t, m.ResumeQueue(ctx, "ghost"), queue.ErrQueueNotFound)
	})
}

func TestManager_ClearQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newManager(t)

	_, err := m.CreateQueue(ctx, queue.QueueConfig{Name: "emails"})
	require.NoError(t, err)
	_, err = m.AddJob(ctx, "emails", "one")
	require.NoError(t, err)
	_, err = m.AddJob(ctx, "emails", "two")
	require.NoError(t, err)

	require.NoError(t, m.ClearQueue(ctx, "emails"))

	counts, err := m.Store().Counts(ctx, "emails")
	require.NoError(t, err)
	assert.Zero(t, counts.Total())

	// Registration survives the purge.
	_, ok := m.Queue("emails")
	assert.True(t, ok)

	assert.ErrorIs(t, m.ClearQueue(ctx, "ghost"), queue.ErrQueueNotFound)
}

func TestManager_RemoveQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newManager(t)
	removed, err := event.Subscribe(m.Events(), queue.TopicQueueRemoved)
	require.NoError(t, err)

	_, err = m.CreateQueue(ctx, queue.QueueConfig{Name: "emails"})
	require.NoError(t, err)
	_, err = m.AddJob(ctx, "emails", "payload")
	require.NoError(t, err)
	require.NoError(t, m.Monitor().StartMonitoring("emails"))

	require.NoError(t, m.RemoveQueue(ctx, "emails"))

	_, ok := m.Queue("emails")
	assert.False(t, ok)
	assert.Empty(t, m.Monitor().Monitored())

	counts, err := m.Store().Counts(ctx, "emails")
	require.NoError(t, err)
	assert.Zero(t, counts.Total())

	select {
	case evt := <-removed.Events():
		assert.Equal(t, "emails", evt.QueueName)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a removed event")
	}

	assert.ErrorIs(t, m.RemoveQueue(ctx, "emails"), queue.ErrQueueNotFound)
}

func TestManager_AddJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newManager(t)
	_, err := m.CreateQueue(ctx, queue.QueueConfig{Name: "emails"})
	require.NoError(t, err)

	t.Run("immediate", func(t *testing.T) {
		t.Parallel()

		job, err := m.AddJob(ctx, "emails", "payload")
		require.NoError(t, err)
		assert.Equal(t, queue.JobStatusWaiting, job.Status)
		assert.Equal(t, mgrEpoch, job.CreatedAt)
	})

	t.Run("with delay", func(t *testing.T) {
		t.Parallel()

		job, err := m.AddJobWithDelay(ctx, "emails", "payload", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, queue.JobStatusDelayed, job.Status)
		assert.Equal(t, mgrEpoch.Add(time.Minute), job.ScheduledAt)
	})

	t.Run("at a specific time", func(t *testing.T) {
		t.Parallel()

		at := mgrEpoch.Add(2 * time.Hour)
		job, err := m.AddJobAt(ctx, "emails", "payload", at)
		require.NoError(t, err)
		assert.Equal(t, queue.JobStatusDelayed, job.Status)
		assert.Equal(t, at, job.ScheduledAt)
	})

	t.Run("options pass through", func(t *testing.T) {
		t.Parallel()

		job, err := m.AddJobWithDelay(ctx, "emails", "payload", time.Minute,
			queue.WithPriority(queue.PriorityCritical))
		require.NoError(t, err)
		assert.Equal(t, queue.PriorityCritical, job.Priority)
	})
}

func TestManager_Healthcheck(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("healthy store", func(t *testing.T) {
		t.Parallel()
		m := newManager(t)
		assert.NoError(t, m.Healthcheck(ctx))
	})

	t.Run("unreachable store", func(t *testing.T) {
		t.Parallel()

		m, err := queue.NewManager(&brokenPingStore{Store: queue.NewMemoryStore()})
		require.NoError(t, err)
		t.Cleanup(func() { _ = m.Close() })

		err = m.Healthcheck(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store ping failed")
	})
}

func TestManager_Close(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("idempotence and gating", func(t *testing.T) {
		t.Parallel()

		m := newManager(t)
		_, err := m.CreateQueue(ctx, queue.QueueConfig{Name: "emails"})
		require.NoError(t, err)
		require.NoError(t, m.Monitor().StartMonitoring("emails"))

		require.NoError(t, m.Close())
		assert.ErrorIs(t, m.Close(), queue.ErrManagerClosed)

		assert.Empty(t, m.Monitor().Monitored())
		_, err = m.AddJob(ctx, "emails", "payload")
		assert.ErrorIs(t, err, queue.ErrManagerClosed)
		assert.ErrorIs(t, m.PauseQueue(ctx, "emails"), queue.ErrManagerClosed)
		assert.ErrorIs(t, m.Healthcheck(ctx), queue.ErrManagerClosed)

		// The manager owned its bus, so it is closed too.
		_, err = event.Subscribe(m.Events(), queue.TopicJobEnqueued)
		assert.ErrorIs(t, err, event.ErrBusClosed)
	})

	t.Run("injected bus survives", func(t *testing.T) {
		t.Parallel()

		bus := event.NewBus()
		defer bus.Close()

		m, err := queue.NewManager(queue.NewMemoryStore(), queue.WithManagerEventBus(bus))
		require.NoError(t, err)
		require.NoError(t, m.Close())

		_, err = event.Subscribe(bus, queue.TopicJobEnqueued)
		assert.NoError(t, err)
	})
}

func TestManager_Run(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("monitors registered queues until cancelled", func(t *testing.T) {
		t.Parallel()

		m := newManager(t)
		_, err := m.CreateQueue(ctx, queue.QueueConfig{Name: "emails"})
		require.NoError(t, err)

		runCtx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- m.Run(runCtx)() }()

		require.Eventually(t, func() bool {
			return len(m.Monitor().Monitored()) == 1
		}, 2*time.Second, 10*time.Millisecond)

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("run did not stop after cancellation")
		}
	})

	t.Run("fails fast on an unreachable store", func(t *testing.T) {
		t.Parallel()

		m, err := queue.NewManager(&brokenPingStore{Store: queue.NewMemoryStore()})
		require.NoError(t, err)
		t.Cleanup(func() { _ = m.Close() })

		err = m.Run(ctx)()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "queue manager startup failed")
	})

	t.Run("closed manager", func(t *testing.T) {
		t.Parallel()

		m := newManager(t)
		require.NoError(t, m.Close())
		assert.ErrorIs(t, m.Run(ctx)(), queue.ErrManagerClosed)
	})
}

func TestManager_WorkerFactory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newManager(t)
	_, err := m.CreateQueue(ctx, queue.QueueConfig{Name: "emails"})
	require.NoError(t, err)

	w, err := m.NewWorker()
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Empty(t, w.Queues())

	require.NoError(t, w.RegisterHandler(queue.NewHandler("emails",
		func(ctx context.Context, payload struct{}) error { return nil })))
	assert.Equal(t, []string{"emails"}, w.Queues())
	assert.Equal(t, 1, w.HandlerCount())

	s, err := m.NewScheduler()
	require.NoError(t, err)
	assert.NotNil(t, s)
}
