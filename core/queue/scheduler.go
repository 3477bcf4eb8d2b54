package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// JobEnqueuer is the slice of the job lifecycle the scheduler drives.
// *Operations satisfies it.
type JobEnqueuer interface {
	// AddJob enqueues a new job into a registered queue.
	AddJob(ctx context.Context, queueName string, payload any, opts ...EnqueueOption) (*Job, error)
}

// Scheduler turns recurring job definitions into queued job instances. Each
// occurrence is enqueued under a deterministic id derived from the recurring
// job's name and occurrence time, so concurrent scheduler instances collide
// on ErrJobExists instead of double-enqueueing. Occurrences missed while no
// scheduler was running are skipped, not replayed.
type Scheduler struct {
	enq  JobEnqueuer
	jobs map[string]*recurringJob
	mu   sync.RWMutex
	wg   sync.WaitGroup

	interval    time.Duration
	stopTimeout time.Duration
	logger      *slog.Logger
	nowFunc     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	jobsScheduled atomic.Int64
	activeSweeps  atomic.Int32
}

// SchedulerStats provides observability metrics for monitoring and debugging.
type SchedulerStats struct {
	JobsScheduled int64 // Total number of occurrences enqueued by this instance
	ActiveSweeps  int32 // Number of sweep operations currently running
	IsRunning     bool  // Whether the scheduler is currently running
}

// recurringJob holds the definition of one recurring job.
type recurringJob struct {
	name            string
	queueName       string
	schedule        Schedule
	payload         any
	priority        Priority
	maxAttempts     int
	lastScheduledAt *time.Time
}

// NewScheduler creates a scheduler on top of the given enqueuer.
func NewScheduler(enq JobEnqueuer, opts ...SchedulerOption) (*Scheduler, error) {
	if enq == nil {
		return nil, ErrOperationsNil
	}

	s := &Scheduler{
		enq:         enq,
		jobs:        make(map[string]*recurringJob),
		interval:    30 * time.Second,
		stopTimeout: 30 * time.Second,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		nowFunc:     time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// AddRecurring registers a recurring job that enqueues into the named queue
// on the given schedule. The default occurrence payload is an empty JSON
// object; priority and attempt budget fall back to the queue's configuration.
func (s *Scheduler) AddRecurring(name, queueName string, schedule Schedule, opts ...RecurringOption) error {
	if name == "" {
		return ErrRecurringNameEmpty
	}
	if queueName == "" {
		return ErrQueueNameEmpty
	}
	if schedule == nil {
		return ErrScheduleNil
	}

	job := &recurringJob{
		name:      name,
		queueName: queueName,
		schedule:  schedule,
		payload:   struct{}{},
	}
	for _, opt := range opts {
		opt(job)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %q", ErrRecurringJobExists, name)
	}
	s.jobs[name] = job

	s.logger.InfoContext(context.Background(), "recurring job registered",
		slog.String("recurring_job", name),
		slog.String("queue", queueName),
		slog.String("schedule", schedule.String()))

	return nil
}

// RemoveRecurring removes a recurring job definition. Occurrences already
// enqueued are not withdrawn.
func (s *Scheduler) RemoveRecurring(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, name)

	s.logger.InfoContext(context.Background(), "recurring job removed",
		slog.String("recurring_job", name))
}

// Recurring returns all registered recurring job names, sorted.
func (s *Scheduler) Recurring() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Start begins the periodic sweep for due occurrences. This is a blocking
// operation that runs until the context is cancelled. Use Run() for errgroup
// pattern or call this in a goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	jobCount := len(s.jobs)
	if jobCount == 0 {
		s.mu.Unlock()
		return ErrNoRecurringJobs
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.InfoContext(s.ctx, "scheduler started",
		slog.Int("recurring_jobs", jobCount),
		slog.Duration("sweep_interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepWithWait()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.InfoContext(context.Background(), "scheduler stopping")
			return s.ctx.Err()
		case <-ticker.C:
			s.sweepWithWait()
		}
	}
}

// Stop gracefully shuts down the scheduler, waiting up to the stop timeout
// for an in-flight sweep to finish. Returns an error if the timeout is
// exceeded.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not started")
	}

	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.InfoContext(context.Background(), "scheduler stopped cleanly")
		return nil
	case <-ctx.Done():
		s.logger.WarnContext(context.Background(), "scheduler stop timeout exceeded",
			slog.Duration("timeout", s.stopTimeout))
		return fmt.Errorf("stop timeout exceeded after %s", s.stopTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
// Returns a function that starts the scheduler, monitors context
// cancellation, and performs graceful shutdown when the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- s.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = s.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// sweepWithWait wraps sweep so Stop can wait for it. The lock verifies the
// scheduler is still running and registers the sweep atomically, otherwise
// Stop might wait on an incomplete count.
func (s *Scheduler) sweepWithWait() {
	s.mu.RLock()
	if s.cancel == nil {
		s.mu.RUnlock()
		return
	}
	s.wg.Add(1)
	s.mu.RUnlock()

	defer s.wg.Done()

	s.activeSweeps.Add(1)
	defer s.activeSweeps.Add(-1)

	// The sweep runs on its own context so an occurrence is not lost to a
	// cancellation landing mid-enqueue.
	s.sweep(context.Background())
}

// sweep enqueues occurrences for every recurring job that is due.
func (s *Scheduler) sweep(ctx context.Context) {
	s.mu.RLock()
	jobs := make([]*recurringJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.RUnlock()

	now := s.nowFunc().UTC()

	for _, job := range jobs {
		if err := s.enqueueDue(ctx, job, now); err != nil {
			s.logger.ErrorContext(ctx, "failed to enqueue recurring job occurrence",
				slog.String("recurring_job", job.name),
				slog.String("queue", job.queueName),
				slog.String("schedule", job.schedule.String()),
				slog.String("error", err.Error()))
		}
	}
}

// enqueueDue enqueues at most one occurrence for the job: the first one after
// registration (parked as a delayed job until its time), then each subsequent
// occurrence once it comes due. Missed occurrences are fast-forwarded past.
func (s *Scheduler) enqueueDue(ctx context.Context, job *recurringJob, now time.Time) error {
	last := s.lastScheduled(job.name)

	var runAt time.Time
	if last == nil {
		runAt = job.schedule.Next(now)
	} else {
		runAt = job.schedule.Next(*last)
		if runAt.After(now) {
			return nil
		}
		for {
			next := job.schedule.Next(runAt)
			if next.After(now) {
				break
			}
			runAt = next
		}
	}
	runAt = runAt.Truncate(time.Second)

	opts := []EnqueueOption{
		WithJobID(recurringJobID(job.name, runAt)),
		WithScheduledAt(runAt),
	}
	if job.priority.Valid() {
		opts = append(opts, WithPriority(job.priority))
	}
	if job.maxAttempts > 0 {
		opts = append(opts, WithMaxAttempts(job.maxAttempts))
	}

	if _, err := s.enq.AddJob(ctx, job.queueName, job.payload, opts...); err != nil {
		// Another scheduler instance enqueued this occurrence first.
		if errors.Is(err, ErrJobExists) {
			s.setLastScheduled(job.name, runAt)
			s.logger.DebugContext(ctx, "recurring job occurrence already enqueued",
				slog.String("recurring_job", job.name),
				slog.Time("scheduled_for", runAt))
			return nil
		}
		return err
	}

	s.setLastScheduled(job.name, runAt)
	s.jobsScheduled.Add(1)

	s.logger.InfoContext(ctx, "recurring job occurrence enqueued",
		slog.String("recurring_job", job.name),
		slog.String("queue", job.queueName),
		slog.Time("scheduled_for", runAt))

	return nil
}

func (s *Scheduler) lastScheduled(name string) *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if job, ok := s.jobs[name]; ok {
		return job.lastScheduledAt
	}
	return nil
}

func (s *Scheduler) setLastScheduled(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[name]; ok {
		job.lastScheduledAt = &at
	}
}

// recurringJobID derives the deterministic job id for one occurrence.
func recurringJobID(name string, runAt time.Time) string {
	return name + "@" + runAt.UTC().Format(time.RFC3339)
}

// Stats returns current scheduler statistics for observability and
// monitoring. This method is thread-safe and can be called at any time.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.RLock()
	isRunning := s.cancel != nil
	s.mu.RUnlock()

	return SchedulerStats{
		JobsScheduled: s.jobsScheduled.Load(),
		ActiveSweeps:  s.activeSweeps.Load(),
		IsRunning:     isRunning,
	}
}

// Healthcheck validates that the scheduler is operational. Returns nil if
// healthy. The returned error can be checked with errors.Is against
// ErrSchedulerNotRunning and ErrNoRecurringJobs.
func (s *Scheduler) Healthcheck(ctx context.Context) error {
	stats := s.Stats()

	if !stats.IsRunning {
		return ErrSchedulerNotRunning
	}

	s.mu.RLock()
	jobCount := len(s.jobs)
	s.mu.RUnlock()

	if jobCount == 0 {
		return ErrNoRecurringJobs
	}

	return nil
}
