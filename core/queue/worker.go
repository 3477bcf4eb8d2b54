package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// JobProcessor is the slice of the job lifecycle a worker drives: claim,
// complete, fail, and retry accounting. *Operations satisfies it.
type JobProcessor interface {
	// AcquireJob atomically claims the next eligible job, or returns nil
	// when the queue has nothing to hand out.
	AcquireJob(ctx context.Context, queueName string) (*Job, error)

	// CompleteJob releases an active job as succeeded.
	CompleteJob(ctx context.Context, queueName, jobID string, result any) error

	// FailJob releases an active job as failed, consuming one attempt.
	FailJob(ctx context.Context, queueName, jobID string, jobErr error) error

	// IncrementAttempts routes a failed job back into the queue or into
	// terminal failure once its attempt budget is spent.
	IncrementAttempts(ctx context.Context, queueName, jobID string) (int, error)
}

// Worker pulls jobs from registered queues and runs them through their
// handlers. Each queue gets its own poll loop and its own concurrency budget;
// a handler error fails the job and hands it to the retry routing, a nil
// return completes it.
type Worker struct {
	proc     JobProcessor
	configs  ConfigSource
	handlers map[string]Handler
	workerID uuid.UUID

	pullInterval time.Duration
	jobTimeout   time.Duration
	stopTimeout  time.Duration
	concurrency  int
	logger       *slog.Logger

	mu     sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	slots  int

	jobsProcessed atomic.Int64
	jobsFailed    atomic.Int64
	activeJobs    atomic.Int32
}

// WorkerStats provides observability metrics for monitoring and debugging.
type WorkerStats struct {
	JobsProcessed int64 // Total number of successfully completed jobs
	JobsFailed    int64 // Total number of failed job runs (before retry routing)
	ActiveJobs    int32 // Number of jobs currently being processed
	IsRunning     bool  // Whether the worker is currently running
}

// finishTimeout bounds the store calls that record a job's outcome. They run
// on their own context so a completion is not lost to worker shutdown.
const finishTimeout = 10 * time.Second

// defaultJobBudget applies when neither a job timeout nor a queue
// configuration is available to bound a handler run.
const defaultJobBudget = 5 * time.Minute

// NewWorker creates a worker on top of the given job processor.
func NewWorker(proc JobProcessor, opts ...WorkerOption) (*Worker, error) {
	if proc == nil {
		return nil, ErrOperationsNil
	}

	defaults := DefaultConfig()
	w := &Worker{
		proc:         proc,
		handlers:     make(map[string]Handler),
		workerID:     uuid.New(),
		pullInterval: defaults.PullInterval,
		jobTimeout:   defaults.JobTimeout,
		stopTimeout:  defaults.StopTimeout,
		concurrency:  defaults.Concurrency,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// NewWorkerFromConfig creates a worker from engine configuration. Additional
// options override config values.
func NewWorkerFromConfig(cfg Config, proc JobProcessor, opts ...WorkerOption) (*Worker, error) {
	allOpts := append([]WorkerOption{
		WithPullInterval(cfg.PullInterval),
		WithJobTimeout(cfg.JobTimeout),
		WithStopTimeout(cfg.StopTimeout),
		WithWorkerConcurrency(cfg.Concurrency),
	}, opts...)

	return NewWorker(proc, allOpts...)
}

// RegisterHandler registers a handler for its queue, replacing any handler
// already bound to that queue. Handlers registered after Start are not picked
// up until the worker is restarted.
func (w *Worker) RegisterHandler(handler Handler) error {
	if handler == nil {
		return nil
	}
	if handler.Queue() == "" {
		return ErrQueueNameEmpty
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.handlers[handler.Queue()] = handler
	return nil
}

// RegisterHandlers registers multiple handlers.
func (w *Worker) RegisterHandlers(handlers ...Handler) error {
	for _, h := range handlers {
		if err := w.RegisterHandler(h); err != nil {
			return err
		}
	}
	return nil
}

// Start begins pulling jobs. This is a blocking operation that runs until the
// context is cancelled. Use Run() for errgroup pattern or call this in a
// goroutine.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("worker already started")
	}
	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}

	w.ctx, w.cancel = context.WithCancel(ctx)

	queues := make([]string, 0, len(w.handlers))
	for name := range w.handlers {
		queues = append(queues, name)
	}
	slices.Sort(queues)

	w.slots = 0
	for _, name := range queues {
		n := w.queueConcurrency(name)
		w.slots += n
		w.wg.Add(1)
		go w.consume(name, w.handlers[name], n)
	}
	slots := w.slots
	w.mu.Unlock()

	w.logger.InfoContext(w.ctx, "worker started",
		slog.String("worker_id", w.workerID.String()),
		slog.Any("queues", queues),
		slog.Int("slots", slots),
		slog.Duration("pull_interval", w.pullInterval))

	<-w.ctx.Done()
	w.logger.InfoContext(context.Background(), "worker stopping")
	return w.ctx.Err()
}

// Stop gracefully shuts down the worker, waiting up to the stop timeout for
// active jobs to finish. Returns an error if the timeout is exceeded.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return fmt.Errorf("worker not started")
	}

	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	w.logger.InfoContext(context.Background(), "worker stopping, waiting for active jobs to finish",
		slog.String("worker_id", w.workerID.String()),
		slog.Duration("timeout", w.stopTimeout))

	ctx, ctxCancel := context.WithTimeout(context.Background(), w.stopTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.InfoContext(context.Background(), "worker stopped cleanly",
			slog.String("worker_id", w.workerID.String()))
		return nil
	case <-ctx.Done():
		w.logger.WarnContext(context.Background(), "worker stop timeout exceeded, abandoning remaining jobs",
			slog.String("worker_id", w.workerID.String()),
			slog.Duration("timeout", w.stopTimeout))
		return fmt.Errorf("stop timeout exceeded after %s", w.stopTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
// Returns a function that starts the worker, monitors context cancellation,
// and performs graceful shutdown when the context is cancelled.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- w.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = w.Stop()
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

// consume is the poll loop for a single queue.
func (w *Worker) consume(queueName string, handler Handler, concurrency int) {
	defer w.wg.Done()

	sem := make(chan struct{}, concurrency)
	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	w.drain(queueName, handler, sem)

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.drain(queueName, handler, sem)
		}
	}
}

// drain claims jobs until the queue runs dry or every slot is busy. Job
// goroutines join the worker's waitgroup; the consume loop itself holds a
// slot in it, so registering them concurrently with Stop is safe.
func (w *Worker) drain(queueName string, handler Handler, sem chan struct{}) {
	for {
		if w.ctx.Err() != nil {
			return
		}

		select {
		case sem <- struct{}{}:
		default:
			w.logger.DebugContext(w.ctx, "all worker slots busy, skipping pull",
				slog.String("worker_id", w.workerID.String()),
				slog.String("queue", queueName))
			return
		}

		job, err := w.proc.AcquireJob(w.ctx, queueName)
		if err != nil {
			<-sem
			if !errors.Is(err, context.Canceled) {
				w.logger.ErrorContext(w.ctx, "failed to acquire job",
					slog.String("worker_id", w.workerID.String()),
					slog.String("queue", queueName),
					slog.String("error", err.Error()))
			}
			return
		}
		if job == nil {
			<-sem
			return
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-sem }()
			w.process(job, handler)
		}()
	}
}

// process runs one job through its handler and records the outcome.
func (w *Worker) process(job *Job, handler Handler) {
	start := time.Now()

	w.activeJobs.Add(1)
	defer w.activeJobs.Add(-1)

	w.logger.DebugContext(w.ctx, "job claimed",
		slog.String("worker_id", w.workerID.String()),
		slog.String("queue", job.QueueName),
		slog.String("job_id", job.ID),
		slog.String("priority", job.Priority.String()))

	// Treat panics as job failures so a single bad handler cannot take down
	// the whole worker.
	defer func() {
		if r := recover(); r != nil {
			w.logger.ErrorContext(context.Background(), "handler panicked",
				slog.String("worker_id", w.workerID.String()),
				slog.String("queue", job.QueueName),
				slog.String("job_id", job.ID),
				slog.Any("panic", r))
			w.finishFailed(job, fmt.Errorf("panic in handler: %v", r), time.Since(start))
		}
	}()

	// The job runs on its own context so worker shutdown does not interrupt
	// it. The budget keeps a handler from outliving its claim and colliding
	// with the stalled-job sweep.
	ctx, cancel := context.WithTimeout(context.Background(), w.jobBudget(job.QueueName))
	defer cancel()

	err := handler.Handle(ctx, job)
	duration := time.Since(start)

	if err != nil {
		w.finishFailed(job, err, duration)
		return
	}

	w.finishCompleted(job, duration)
}

// finishCompleted records a successful run.
func (w *Worker) finishCompleted(job *Job, duration time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	if err := w.proc.CompleteJob(ctx, job.QueueName, job.ID, nil); err != nil {
		if errors.Is(err, ErrJobNotActive) {
			w.logger.WarnContext(ctx, "job finished after losing its claim",
				slog.String("worker_id", w.workerID.String()),
				slog.String("queue", job.QueueName),
				slog.String("job_id", job.ID))
			return
		}
		w.logger.ErrorContext(ctx, "failed to complete job",
			slog.String("worker_id", w.workerID.String()),
			slog.String("queue", job.QueueName),
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		return
	}

	w.jobsProcessed.Add(1)

	w.logger.InfoContext(ctx, "job processed",
		slog.String("worker_id", w.workerID.String()),
		slog.String("queue", job.QueueName),
		slog.String("job_id", job.ID),
		slog.Duration("duration", duration))
}

// finishFailed records a failed run and routes the job through retry
// accounting, which requeues it while attempts remain and moves it into
// terminal failure once they are spent.
func (w *Worker) finishFailed(job *Job, execErr error, duration time.Duration) {
	w.jobsFailed.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	w.logger.ErrorContext(ctx, "job failed",
		slog.String("worker_id", w.workerID.String()),
		slog.String("queue", job.QueueName),
		slog.String("job_id", job.ID),
		slog.Int("attempts_made", job.AttemptsMade),
		slog.Int("max_attempts", job.MaxAttempts),
		slog.Duration("duration", duration),
		slog.String("error", execErr.Error()))

	if err := w.proc.FailJob(ctx, job.QueueName, job.ID, execErr); err != nil {
		if errors.Is(err, ErrJobNotActive) {
			w.logger.WarnContext(ctx, "job failed after losing its claim",
				slog.String("worker_id", w.workerID.String()),
				slog.String("queue", job.QueueName),
				slog.String("job_id", job.ID))
			return
		}
		w.logger.ErrorContext(ctx, "failed to record job failure",
			slog.String("worker_id", w.workerID.String()),
			slog.String("queue", job.QueueName),
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		return
	}

	attempts, err := w.proc.IncrementAttempts(ctx, job.QueueName, job.ID)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to route failed job",
			slog.String("worker_id", w.workerID.String()),
			slog.String("queue", job.QueueName),
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		return
	}

	if attempts >= job.MaxAttempts {
		w.logger.WarnContext(ctx, "job exhausted retry budget",
			slog.String("worker_id", w.workerID.String()),
			slog.String("queue", job.QueueName),
			slog.String("job_id", job.ID),
			slog.Int("attempts", attempts))
	}
}

// jobBudget returns the execution budget for one job. An explicit job
// timeout wins; otherwise the queue's visibility timeout bounds the run so a
// handler cannot hold a job past the point where the sweep reclaims it.
func (w *Worker) jobBudget(queueName string) time.Duration {
	if w.jobTimeout > 0 {
		return w.jobTimeout
	}
	if w.configs != nil {
		if cfg, ok := w.configs.Queue(queueName); ok && cfg.VisibilityTimeout > 0 {
			return cfg.VisibilityTimeout
		}
	}
	return defaultJobBudget
}

// queueConcurrency resolves how many jobs may run at once for a queue: the
// registered queue configuration when a config source is wired, the worker's
// fallback concurrency otherwise.
func (w *Worker) queueConcurrency(queueName string) int {
	if w.configs != nil {
		if cfg, ok := w.configs.Queue(queueName); ok && cfg.Concurrency > 0 {
			return cfg.Concurrency
		}
	}
	if w.concurrency > 0 {
		return w.concurrency
	}
	return 1
}

// WorkerInfo returns identifying information about the worker instance.
func (w *Worker) WorkerInfo() (id string, hostname string, pid int) {
	hostname, _ = os.Hostname()
	return w.workerID.String(), hostname, os.Getpid()
}

// HandlerCount returns the number of registered handlers.
func (w *Worker) HandlerCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.handlers)
}

// Queues returns the queues this worker consumes, sorted.
func (w *Worker) Queues() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	names := make([]string, 0, len(w.handlers))
	for name := range w.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Stats returns current worker statistics for observability and monitoring.
// This method is thread-safe and can be called at any time.
func (w *Worker) Stats() WorkerStats {
	w.mu.RLock()
	isRunning := w.cancel != nil
	w.mu.RUnlock()

	return WorkerStats{
		JobsProcessed: w.jobsProcessed.Load(),
		JobsFailed:    w.jobsFailed.Load(),
		ActiveJobs:    w.activeJobs.Load(),
		IsRunning:     isRunning,
	}
}

// Healthcheck validates that the worker is operational and not saturated.
// Returns nil if healthy. The returned error can be checked with errors.Is
// against ErrWorkerNotRunning and ErrWorkerOverloaded.
func (w *Worker) Healthcheck(ctx context.Context) error {
	stats := w.Stats()

	if !stats.IsRunning {
		return ErrWorkerNotRunning
	}

	w.mu.RLock()
	slots := w.slots
	w.mu.RUnlock()

	if slots > 0 && stats.ActiveJobs >= int32(slots) {
		return fmt.Errorf("%w: %d/%d slots busy", ErrWorkerOverloaded, stats.ActiveJobs, slots)
	}

	return nil
}
