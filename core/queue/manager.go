package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/jobq/core/event"
)

// Manager is the composition root of the queue engine. It owns the queue
// registry, constructs and wires the Operations, Statistics, HealthChecker,
// and Monitor services on top of a single store, and manages their shared
// lifecycle.
//
// The Manager implements ConfigSource, so every service it builds resolves
// queue configurations from the same registry.
//
// Example usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store, err := queue.NewRedisStore(client)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	manager, err := queue.NewManager(store,
//	    queue.WithManagerLogger(slog.Default()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer manager.Close()
//
//	// Register a queue with engine defaults
//	if _, err := manager.CreateQueue(ctx, queue.QueueConfig{Name: "emails"}); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Observe completions
//	sub, _ := event.Subscribe(manager.Events(), queue.TopicJobCompleted)
//	go func() {
//	    for evt := range sub.Events() {
//	        log.Printf("job %s done", evt.JobID)
//	    }
//	}()
//
//	// Start background monitoring and stalled-job recovery
//	eg, ctx := errgroup.WithContext(ctx)
//	eg.Go(manager.Run(ctx))
//
//	// Produce and consume
//	job, _ := manager.AddJob(ctx, "emails", payload, queue.WithPriority(queue.PriorityHigh))
//	job, _ = manager.Operations().AcquireJob(ctx, "emails")
type Manager struct {
	store   Store
	cfg     Config
	logger  *slog.Logger
	nowFunc func() time.Time
	bus     *event.Bus
	ownsBus bool

	ops     *Operations
	stats   *Statistics
	health  *HealthChecker
	monitor *Monitor

	healthThresholds HealthThresholds
	alertThresholds  AlertThresholds

	opsOpts     []OperationsOption
	statsOpts   []StatisticsOption
	healthOpts  []HealthCheckerOption
	monitorOpts []MonitorOption

	mu     sync.RWMutex
	queues map[string]QueueConfig
	closed bool
}

// NewManager creates a queue manager with all services wired to the provided
// store. Options can replace the logger, event bus, engine config, and the
// per-service construction options.
func NewManager(store Store, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, ErrStoreNil
	}

	m := &Manager{
		store:            store,
		cfg:              DefaultConfig(),
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		nowFunc:          time.Now,
		healthThresholds: DefaultHealthThresholds(),
		alertThresholds:  DefaultAlertThresholds(),
		queues:           make(map[string]QueueConfig),
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, fmt.Errorf("failed to apply manager option: %w", err)
		}
	}

	if m.bus == nil {
		m.bus = event.NewBus(event.WithLogger(m.logger))
		m.ownsBus = true
	}

	ops, err := NewOperations(m.store, m, append([]OperationsOption{
		WithOperationsLogger(m.logger),
		WithOperationsEventBus(m.bus),
		WithOperationsClock(m.nowFunc),
		WithMaxPayloadBytes(m.cfg.MaxPayloadBytes),
	}, m.opsOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create operations service: %w", err)
	}
	m.ops = ops

	stats, err := NewStatistics(m.store, m, append([]StatisticsOption{
		WithStatisticsLogger(m.logger),
		WithStatisticsClock(m.nowFunc),
		WithStatsWindow(m.cfg.StatsWindow),
		WithStatsSampleSize(m.cfg.StatsSampleSize),
	}, m.statsOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create statistics service: %w", err)
	}
	m.stats = stats

	health, err := NewHealthChecker(m.store, m, append([]HealthCheckerOption{
		WithHealthLogger(m.logger),
		WithHealthClock(m.nowFunc),
		WithHealthThresholds(m.healthThresholds),
		WithHealthStatistics(stats),
	}, m.healthOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create health checker: %w", err)
	}
	m.health = health

	monitor, err := NewMonitor(ops, stats, health, m, append([]MonitorOption{
		WithMonitorLogger(m.logger),
		WithMonitorEventBus(m.bus),
		WithMonitorClock(m.nowFunc),
		WithMonitorInterval(m.cfg.MonitorInterval),
		WithHistoryLimit(m.cfg.HistoryLimit),
		WithAlertThresholds(m.alertThresholds),
	}, m.monitorOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create monitor: %w", err)
	}
	m.monitor = monitor

	return m, nil
}

// NewManagerFromConfig creates a queue manager using the given engine config.
// Additional options can override config-derived settings.
func NewManagerFromConfig(cfg Config, store Store, opts ...ManagerOption) (*Manager, error) {
	return NewManager(store, append([]ManagerOption{WithManagerConfig(cfg)}, opts...)...)
}

// CreateQueue registers a queue configuration, filling zero-valued fields
// with the engine defaults and validating the result. Re-registering an
// existing name replaces its configuration wholesale. The queue's paused
// flag is persisted to the store so acquisition gating takes effect
// immediately. Returns the effective configuration.
func (m *Manager) CreateQueue(ctx context.Context, cfg QueueConfig) (QueueConfig, error) {
	if m.isClosed() {
		return QueueConfig{}, ErrManagerClosed
	}

	filled := m.cfg.fillQueueConfig(cfg)
	if err := filled.Validate(); err != nil {
		return QueueConfig{}, err
	}

	if err := m.store.SetPaused(ctx, filled.Name, filled.Paused); err != nil {
		return QueueConfig{}, fmt.Errorf("failed to persist paused flag for queue %q: %w", filled.Name, err)
	}

	m.mu.Lock()
	_, replaced := m.queues[filled.Name]
	m.queues[filled.Name] = filled
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "queue registered",
		slog.String("queue", filled.Name),
		slog.Bool("replaced", replaced),
		slog.Bool("paused", filled.Paused))

	return filled, nil
}

// Queue returns the registered configuration for the named queue.
// Implements ConfigSource.
func (m *Manager) Queue(name string) (QueueConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.queues[name]
	return cfg, ok
}

// Queues returns the registered queue names, sorted. Implements ConfigSource.
func (m *Manager) Queues() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// PauseQueue stops the queue from handing out work. Jobs can still be added
// and finished while paused. No-op when the queue is already paused.
func (m *Manager) PauseQueue(ctx context.Context, queueName string) error {
	return m.setPaused(ctx, queueName, true, TopicQueuePaused, "queue paused")
}

// ResumeQueue re-enables job acquisition for a paused queue. No-op when the
// queue is not paused.
func (m *Manager) ResumeQueue(ctx context.Context, queueName string) error {
	return m.setPaused(ctx, queueName, false, TopicQueueResumed, "queue resumed")
}

func (m *Manager) setPaused(ctx context.Context, queueName string, paused bool, topic event.Topic[QueueEvent], msg string) error {
	if m.isClosed() {
		return ErrManagerClosed
	}

	m.mu.Lock()
	cfg, ok := m.queues[queueName]
	if ok && cfg.Paused == paused {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrQueueNotFound, queueName)
	}

	if err := m.store.SetPaused(ctx, queueName, paused); err != nil {
		return fmt.Errorf("failed to persist paused flag for queue %q: %w", queueName, err)
	}

	m.mu.Lock()
	cfg = m.queues[queueName]
	cfg.Paused = paused
	m.queues[queueName] = cfg
	m.mu.Unlock()

	m.logger.InfoContext(ctx, msg, slog.String("queue", queueName))
	m.publishQueueEvent(ctx, topic, queueName)

	return nil
}

// ClearQueue removes every job from the queue while keeping its registration
// and paused state intact.
func (m *Manager) ClearQueue(ctx context.Context, queueName string) error {
	if m.isClosed() {
		return ErrManagerClosed
	}
	if _, ok := m.Queue(queueName); !ok {
		return fmt.Errorf("%w: %q", ErrQueueNotFound, queueName)
	}

	if err := m.store.PurgeQueue(ctx, queueName); err != nil {
		return fmt.Errorf("failed to purge queue %q: %w", queueName, err)
	}

	m.logger.InfoContext(ctx, "queue cleared", slog.String("queue", queueName))

	return nil
}

// RemoveQueue stops monitoring the queue, deletes all of its data including
// metadata from the store, and deregisters it.
func (m *Manager) RemoveQueue(ctx context.Context, queueName string) error {
	if m.isClosed() {
		return ErrManagerClosed
	}
	if _, ok := m.Queue(queueName); !ok {
		return fmt.Errorf("%w: %q", ErrQueueNotFound, queueName)
	}

	m.monitor.StopMonitoring(queueName)

	if err := m.store.RemoveQueue(ctx, queueName); err != nil {
		return fmt.Errorf("failed to remove queue %q: %w", queueName, err)
	}

	m.mu.Lock()
	delete(m.queues, queueName)
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "queue removed", slog.String("queue", queueName))
	m.publishQueueEvent(ctx, TopicQueueRemoved, queueName)

	return nil
}

// AddJob enqueues a payload on the named queue.
// This is a convenience method equivalent to manager.Operations().AddJob(ctx, queueName, payload, opts...).
func (m *Manager) AddJob(ctx context.Context, queueName string, payload any, opts ...EnqueueOption) (*Job, error) {
	if m.isClosed() {
		return nil, ErrManagerClosed
	}
	return m.ops.AddJob(ctx, queueName, payload, opts...)
}

// AddJobWithDelay enqueues a payload that becomes eligible after the delay.
// This is a convenience method that adds the delay option to the enqueue call.
func (m *Manager) AddJobWithDelay(ctx context.Context, queueName string, payload any, delay time.Duration, opts ...EnqueueOption) (*Job, error) {
	allOpts := append([]EnqueueOption{WithDelay(delay)}, opts...)
	return m.AddJob(ctx, queueName, payload, allOpts...)
}

// AddJobAt enqueues a payload that becomes eligible at a specific time.
// This is a convenience method that adds the scheduled time option to the enqueue call.
func (m *Manager) AddJobAt(ctx context.Context, queueName string, payload any, at time.Time, opts ...EnqueueOption) (*Job, error) {
	allOpts := append([]EnqueueOption{WithScheduledAt(at)}, opts...)
	return m.AddJob(ctx, queueName, payload, allOpts...)
}

// Operations returns the job lifecycle service.
func (m *Manager) Operations() *Operations {
	return m.ops
}

// Stats returns the statistics service.
func (m *Manager) Stats() *Statistics {
	return m.stats
}

// Health returns the health checker.
func (m *Manager) Health() *HealthChecker {
	return m.health
}

// Monitor returns the monitoring service.
func (m *Manager) Monitor() *Monitor {
	return m.monitor
}

// Events returns the event bus carrying job, queue, and alert notifications.
func (m *Manager) Events() *event.Bus {
	return m.bus
}

// Store returns the underlying store implementation.
func (m *Manager) Store() Store {
	return m.store
}

// NewWorker builds a worker wired to this manager's operations, queue
// registry, logger, and config. The caller owns the worker's lifecycle; the
// manager does not start or stop it.
func (m *Manager) NewWorker(opts ...WorkerOption) (*Worker, error) {
	allOpts := append([]WorkerOption{
		WithWorkerLogger(m.logger),
		WithWorkerConfigSource(m),
		WithPullInterval(m.cfg.PullInterval),
		WithJobTimeout(m.cfg.JobTimeout),
		WithStopTimeout(m.cfg.StopTimeout),
		WithWorkerConcurrency(m.cfg.Concurrency),
	}, opts...)

	return NewWorker(m.ops, allOpts...)
}

// NewScheduler builds a scheduler that enqueues recurring job occurrences
// through this manager's operations. The caller owns the scheduler's
// lifecycle; the manager does not start or stop it.
func (m *Manager) NewScheduler(opts ...SchedulerOption) (*Scheduler, error) {
	allOpts := append([]SchedulerOption{
		WithSchedulerLogger(m.logger),
		WithSchedulerClock(m.nowFunc),
	}, opts...)

	return NewScheduler(m.ops, allOpts...)
}

// Healthcheck probes store connectivity. Suitable for readiness probes.
func (m *Manager) Healthcheck(ctx context.Context) error {
	if m.isClosed() {
		return ErrManagerClosed
	}
	if err := m.store.Ping(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	return nil
}

// Run provides errgroup compatibility for coordinated lifecycle management.
// The returned function verifies store connectivity, starts monitoring for
// every registered queue, and blocks until the context is cancelled.
func (m *Manager) Run(ctx context.Context) func() error {
	return func() error {
		if m.isClosed() {
			return ErrManagerClosed
		}
		if err := m.Healthcheck(ctx); err != nil {
			return fmt.Errorf("queue manager startup failed: %w", err)
		}

		m.logger.InfoContext(ctx, "queue manager running",
			slog.Int("queues", len(m.Queues())))

		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(m.monitor.Run(ctx))
		return eg.Wait()
	}
}

// Close stops all monitoring collectors and, when the manager created its
// own event bus, closes it. Subsequent calls return ErrManagerClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.closed = true
	m.mu.Unlock()

	m.monitor.StopAll()

	if m.ownsBus {
		if err := m.bus.Close(); err != nil && !errors.Is(err, event.ErrBusClosed) {
			return fmt.Errorf("failed to close event bus: %w", err)
		}
	}

	m.logger.Info("queue manager closed")

	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Manager) publishQueueEvent(ctx context.Context, topic event.Topic[QueueEvent], queueName string) {
	if m.bus == nil {
		return
	}
	evt := QueueEvent{QueueName: queueName, At: m.nowFunc().UTC()}
	if err := event.Publish(ctx, m.bus, topic, evt); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish queue event",
			slog.String("topic", topic.String()),
			slog.String("error", err.Error()))
	}
}
