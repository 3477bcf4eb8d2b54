// Package queue provides a Redis-backed job queue engine with priority
// scheduling, delayed execution, automatic retries with exponential backoff,
// stalled-job recovery, and dead-letter queues. Built-in statistics, health
// checks, monitoring with alerting, and a typed event bus make the engine
// observable without external tooling.
//
// # Features
//
//   - Four priority tiers with strict preemption and FIFO within each tier
//   - Delayed jobs with automatic promotion when they become due
//   - Workers with typed handlers, per-queue concurrency, and graceful shutdown
//   - Recurring jobs on interval or calendar schedules
//   - Configurable retry policies with exponential backoff
//   - Stalled-job detection and recovery via visibility timeouts
//   - Dead-letter queues for exhausted jobs
//   - Per-queue pause and resume without losing accepted work
//   - Bounded retention of completed and failed jobs
//   - Statistics, health checks, and threshold-based alerting
//   - Typed event bus notifications for every lifecycle transition
//   - Prometheus instrumentation
//   - Redis storage for production, in-memory storage for tests
//
// # Basic Usage
//
// Create a store and a manager, register a queue, then produce and consume:
//
//	import "github.com/dmitrymomot/jobq/core/queue"
//
//	// Create storage (Redis for production)
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store, err := queue.NewRedisStore(client)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Create manager with all services wired
//	manager, err := queue.NewManager(store,
//		queue.WithManagerLogger(slog.Default()),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer manager.Close()
//
//	// Register a queue with engine defaults
//	_, err = manager.CreateQueue(ctx, queue.QueueConfig{Name: "emails"})
//
//	// Define payload type
//	type EmailPayload struct {
//		To      string `json:"to"`
//		Subject string `json:"subject"`
//	}
//
//	// Produce
//	job, err := manager.AddJob(ctx, "emails", EmailPayload{
//		To:      "user@example.com",
//		Subject: "Welcome!",
//	})
//
//	// Consume with a worker
//	worker, err := manager.NewWorker()
//	if err != nil {
//		log.Fatal(err)
//	}
//	worker.RegisterHandler(queue.NewHandler("emails", func(ctx context.Context, email EmailPayload) error {
//		return sendEmail(email)
//	}))
//
//	eg, ctx := errgroup.WithContext(ctx)
//	eg.Go(manager.Run(ctx))
//	eg.Go(worker.Run(ctx))
//	return eg.Wait()
//
// # Priority-Based Processing
//
// Jobs carry one of four priority tiers. A waiting critical job is always
// handed out before any high, normal, or low job regardless of age; within
// a tier jobs are processed in enqueue order:
//
//	manager.AddJob(ctx, "emails", payload,
//		queue.WithPriority(queue.PriorityCritical),
//	)
//
//	manager.AddJob(ctx, "emails", payload,
//		queue.WithPriority(queue.PriorityLow),
//	)
//
//	// Queues can set a default tier for jobs enqueued without one
//	manager.CreateQueue(ctx, queue.QueueConfig{
//		Name:            "emails",
//		DefaultPriority: queue.PriorityHigh,
//	})
//
// # Delayed Jobs
//
// Schedule jobs for future execution. Delayed jobs are promoted to the
// waiting set automatically once due:
//
//	// Process in one hour
//	manager.AddJobWithDelay(ctx, "emails", payload, time.Hour)
//
//	// Process at a specific time
//	manager.AddJobAt(ctx, "emails", payload,
//		time.Date(2026, 12, 25, 9, 0, 0, 0, time.UTC))
//
// # Workers
//
// Workers poll queues and route jobs to registered handlers. Each queue gets
// its own poll loop with a concurrency budget taken from the queue's
// configuration; a handler error fails the job and consumes an attempt, a
// nil return completes it. Handler runs are bounded by the queue's
// visibility timeout so a slow handler cannot outlive its claim:
//
//	worker, err := manager.NewWorker(
//		queue.WithPullInterval(500 * time.Millisecond),
//	)
//
//	// Typed handler: the payload is unmarshaled into the declared type
//	worker.RegisterHandler(queue.NewHandler("emails", func(ctx context.Context, email EmailPayload) error {
//		return sendEmail(email)
//	}))
//
//	// Raw handler: full access to job metadata
//	worker.RegisterHandler(queue.NewJobHandler("payments", func(ctx context.Context, job *queue.Job) error {
//		if job.AttemptsMade > 0 {
//			log.Printf("retrying payment job %s", job.ID)
//		}
//		return processPayment(job.Payload)
//	}))
//
//	eg.Go(worker.Run(ctx))
//
// Workers built without a manager attach to the operations service directly
// and fall back to a fixed concurrency:
//
//	worker, err := queue.NewWorker(ops, queue.WithWorkerConcurrency(4))
//
// For manual consumption, AcquireJob hands out one claimed job at a time and
// returns nil when the queue is empty, fully delayed, or paused.
//
// # Recurring Jobs
//
// The scheduler turns recurring definitions into queued job instances.
// Occurrence ids are deterministic, so multiple scheduler instances can run
// side by side without double-enqueueing:
//
//	scheduler, err := manager.NewScheduler()
//	if err != nil {
//		return err
//	}
//
//	scheduler.AddRecurring("daily-report", "reports", queue.DailyAt(9, 0),
//		queue.WithRecurringPriority(queue.PriorityHigh),
//	)
//	scheduler.AddRecurring("cache-warmup", "maintenance", queue.EveryMinutes(15))
//
//	eg.Go(scheduler.Run(ctx))
//
// Calendar schedules run in UTC. Occurrences missed while no scheduler was
// running are skipped, not replayed.
//
// # Retries and Backoff
//
// A failed job consumes one attempt. Jobs with attempts left return to the
// queue, delayed by RetryDelay x BackoffMultiplier^(attempts-1) when
// DelayOnFail is set; exhausted jobs stay failed:
//
//	manager.CreateQueue(ctx, queue.QueueConfig{
//		Name:              "payments",
//		MaxRetries:        5,
//		RetryDelay:        time.Second,
//		BackoffMultiplier: 2.0,
//		DelayOnFail:       true,
//	})
//
//	// Per-job attempt budgets override the queue setting
//	manager.AddJob(ctx, "payments", payload,
//		queue.WithMaxAttempts(10),
//	)
//
// # Stalled Job Recovery
//
// A job acquired by a worker that never finishes is reclaimed after the
// queue's VisibilityTimeout. Reclaimed jobs return to waiting until they
// exhaust MaxStalledCount stalls or their attempt budget, then fail
// terminally. The monitor runs sweeps automatically on StalledInterval;
// RecoverStalled triggers one manually:
//
//	report, err := manager.Operations().RecoverStalled(ctx, "payments")
//	if err != nil {
//		return err
//	}
//	log.Printf("requeued %d, failed %d", len(report.Requeued), len(report.Failed))
//
// # Dead Letter Queues
//
// Exhausted jobs are mirrored into the configured dead-letter queue for
// inspection and replay, in addition to staying in the origin queue's
// failed set:
//
//	manager.CreateQueue(ctx, queue.QueueConfig{
//		Name:            "payments",
//		DeadLetterQueue: "payments-dlq",
//	})
//	manager.CreateQueue(ctx, queue.QueueConfig{Name: "payments-dlq"})
//
// # Pause and Resume
//
// Paused queues keep accepting jobs but never hand out work:
//
//	manager.PauseQueue(ctx, "emails")
//	// AcquireJob returns nil while paused; AddJob still works
//	manager.ResumeQueue(ctx, "emails")
//
// # Events
//
// Every lifecycle transition publishes a typed event. Subscriptions are
// buffered; events for slow subscribers are dropped rather than blocking
// the engine:
//
//	sub, err := event.Subscribe(manager.Events(), queue.TopicJobFailed)
//	if err != nil {
//		return err
//	}
//	defer sub.Unsubscribe()
//
//	for evt := range sub.Events() {
//		log.Printf("job %s failed on %s: %s", evt.JobID, evt.QueueName, evt.Error)
//	}
//
// # Statistics and Health
//
// The statistics service derives counts, throughput, error rate, and
// processing-time aggregates; the health checker classifies queues as
// healthy, degraded, or unhealthy against configurable thresholds:
//
//	stats, err := manager.Stats().QueueStats(ctx, "emails")
//	if stats != nil {
//		log.Printf("waiting=%d active=%d error_rate=%.2f",
//			stats.Waiting, stats.Active, stats.ErrorRate)
//	}
//
//	health := manager.Health().CheckQueue(ctx, "emails")
//	if !health.Healthy {
//		log.Printf("queue %s is %s: %v", health.QueueName, health.Status, health.Issues)
//	}
//
// # Monitoring and Alerts
//
// The monitor collects snapshots on an interval, tracks trends, keeps
// bounded history, and raises alerts when thresholds are breached. Run
// starts collectors for every registered queue and drives the stalled-job
// sweeps:
//
//	eg, ctx := errgroup.WithContext(ctx)
//	eg.Go(manager.Run(ctx))
//
//	// Inspect collected history and active alerts
//	snapshots := manager.Monitor().History("emails", time.Now().Add(-time.Hour))
//	alerts := manager.Monitor().CurrentAlerts("emails")
//
//	// Alert transitions are published on the bus
//	sub, _ := event.Subscribe(manager.Events(), queue.TopicAlertRaised)
//
// # Prometheus Metrics
//
// Lifecycle counters and queue state gauges are available as Prometheus
// metrics:
//
//	metrics := queue.NewMetrics()
//	if err := metrics.Attach(manager.Events()); err != nil {
//		return err
//	}
//	defer metrics.Detach()
//
//	// Feed gauges from monitoring snapshots
//	snap, err := manager.Monitor().Collect(ctx, "emails")
//	if err == nil {
//		metrics.Observe(snap)
//	}
//
// # Configuration
//
// Engine-wide defaults are designed for environment-based configuration:
//
//	import "github.com/dmitrymomot/jobq/core/config"
//
//	var cfg queue.Config
//	if err := config.Load(&cfg); err != nil {
//		log.Fatal(err)
//	}
//
//	manager, err := queue.NewManagerFromConfig(cfg, store)
//
// Queue configurations leave zero-valued fields to be filled from the
// engine defaults, so a QueueConfig with only a Name is fully usable.
//
// # Graceful Shutdown
//
//	func runQueueEngine(ctx context.Context) error {
//		store, err := queue.NewRedisStore(client)
//		if err != nil {
//			return err
//		}
//
//		manager, err := queue.NewManager(store)
//		if err != nil {
//			return err
//		}
//		defer manager.Close()
//
//		worker, err := manager.NewWorker()
//		if err != nil {
//			return err
//		}
//		worker.RegisterHandler(emailHandler)
//
//		eg, ctx := errgroup.WithContext(ctx)
//		eg.Go(manager.Run(ctx))
//		eg.Go(worker.Run(ctx))
//
//		// On cancellation the worker drains active jobs within its stop
//		// timeout and the monitor collectors shut down; Run funcs return nil
//		return eg.Wait()
//	}
//
// # Storage Interfaces
//
// The engine defines three store-side interfaces combined into Store:
//
//   - JobStore: atomic lifecycle mutations (CreateJob, AcquireJob, CompleteJob, ...)
//   - StatsStore: read-only derived views (Counts, ProcessingTimes, ...)
//   - AdminStore: connectivity and whole-queue maintenance (Ping, PurgeQueue, ...)
//
// Use queue.NewRedisStore for production and queue.NewMemoryStore for tests
// or development, or implement Store for a custom backend.
package queue
