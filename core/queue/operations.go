package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobq/core/event"
)

// ConfigSource resolves queue names to their registered configurations.
// Manager implements it; tests can supply a fixed map via StaticConfigSource.
type ConfigSource interface {
	// Queue returns the named queue's configuration.
	Queue(name string) (QueueConfig, bool)

	// Queues returns all registered queue names, sorted.
	Queues() []string
}

// StaticConfigSource is a fixed, in-memory ConfigSource keyed by queue name.
type StaticConfigSource map[string]QueueConfig

// Queue implements ConfigSource.
func (s StaticConfigSource) Queue(name string) (QueueConfig, bool) {
	cfg, ok := s[name]
	return cfg, ok
}

// Queues implements ConfigSource.
func (s StaticConfigSource) Queues() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Operations provides the job lifecycle primitives: enqueue, peek, acquire,
// complete, fail, retry accounting, and stalled-job recovery. It owns policy
// (defaults, backoff, retention, dead-lettering) and delegates state changes
// to the store, which guarantees their atomicity.
type Operations struct {
	store      JobStore
	configs    ConfigSource
	bus        *event.Bus
	logger     *slog.Logger
	nowFunc    func() time.Time
	maxPayload int
}

// NewOperations creates the lifecycle service backed by the given store and
// queue registry.
func NewOperations(store JobStore, configs ConfigSource, opts ...OperationsOption) (*Operations, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if configs == nil {
		return nil, ErrConfigSourceNil
	}

	o := &Operations{
		store:      store,
		configs:    configs,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		nowFunc:    time.Now,
		maxPayload: DefaultConfig().MaxPayloadBytes,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

// AddJob enqueues a new job and returns it. The queue must be registered.
// Payload is marshaled to JSON; priority and attempt budget default from the
// queue config unless overridden per job. A delay or explicit schedule parks
// the job in the delayed set until due.
func (o *Operations) AddJob(ctx context.Context, queueName string, payload any, opts ...EnqueueOption) (*Job, error) {
	if queueName == "" {
		return nil, ErrQueueNameEmpty
	}
	if payload == nil {
		return nil, ErrPayloadNil
	}
	cfg, ok := o.configs.Queue(queueName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrQueueNotFound, queueName)
	}

	options := &enqueueOptions{
		priority:    cfg.DefaultPriority,
		maxAttempts: cfg.maxAttempts(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if !options.priority.Valid() {
		return nil, ErrInvalidPriority
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload of type %T: %w", payload, err)
	}
	if o.maxPayload > 0 && len(data) > o.maxPayload {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, len(data), o.maxPayload)
	}

	now := o.nowFunc().UTC()
	scheduledAt := now
	if options.scheduledAt != nil {
		scheduledAt = options.scheduledAt.UTC()
	} else if options.delay > 0 {
		scheduledAt = now.Add(options.delay)
	}

	status := JobStatusWaiting
	if scheduledAt.After(now) {
		status = JobStatusDelayed
	}

	jobID := options.jobID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	job := &Job{
		ID:          jobID,
		QueueName:   queueName,
		Payload:     data,
		Priority:    options.priority,
		Status:      status,
		MaxAttempts: options.maxAttempts,
		CreatedAt:   now,
		ScheduledAt: scheduledAt,
	}

	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to add job to queue %q: %w", queueName, err)
	}

	o.logger.InfoContext(ctx, "job enqueued",
		slog.String("queue", queueName),
		slog.String("job_id", job.ID),
		slog.String("priority", job.Priority.String()),
		slog.String("status", string(job.Status)))
	o.publishJob(ctx, TopicJobEnqueued, newJobEvent(job, now))

	return job, nil
}

// GetJob loads a job by id. Absence is a result, not an error: unknown queues
// and unknown ids return nil without error, and a corrupted stored record is
// logged and reported as nil rather than failing the caller.
func (o *Operations) GetJob(ctx context.Context, queueName, jobID string) (*Job, error) {
	job, err := o.store.GetJob(ctx, queueName, jobID)
	switch {
	case errors.Is(err, ErrJobNotFound):
		return nil, nil
	case errors.Is(err, ErrCorruptRecord):
		o.logger.WarnContext(ctx, "skipping corrupted job record",
			slog.String("queue", queueName),
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get job %q from queue %q: %w", jobID, queueName, err)
	}
	return job, nil
}

// NextJob returns the job AcquireJob would hand out next without claiming
// it. Due delayed jobs are promoted first. Returns nil when the queue is
// empty, fully delayed, or paused.
func (o *Operations) NextJob(ctx context.Context, queueName string) (*Job, error) {
	if _, ok := o.configs.Queue(queueName); !ok {
		return nil, fmt.Errorf("%w: %q", ErrQueueNotFound, queueName)
	}

	job, err := o.store.NextJob(ctx, queueName, o.nowFunc().UTC())
	switch {
	case errors.Is(err, ErrNoJob):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to peek next job in queue %q: %w", queueName, err)
	}
	return job, nil
}

// AcquireJob atomically claims the highest-priority oldest eligible job and
// marks it active. Exactly one concurrent caller can claim a given job.
// Returns nil when the queue is empty, fully delayed, or paused.
func (o *Operations) AcquireJob(ctx context.Context, queueName string) (*Job, error) {
	if _, ok := o.configs.Queue(queueName); !ok {
		return nil, fmt.Errorf("%w: %q", ErrQueueNotFound, queueName)
	}

	now := o.nowFunc().UTC()
	job, err := o.store.AcquireJob(ctx, queueName, now)
	switch {
	case errors.Is(err, ErrNoJob):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to acquire job from queue %q: %w", queueName, err)
	}

	o.logger.InfoContext(ctx, "job acquired",
		slog.String("queue", queueName),
		slog.String("job_id", job.ID),
		slog.String("priority", job.Priority.String()))
	o.publishJob(ctx, TopicJobStarted, newJobEvent(job, now))

	return job, nil
}

// CompleteJob releases an active job as succeeded, storing its result and
// applying the queue's completed-set retention.
func (o *Operations) CompleteJob(ctx context.Context, queueName, jobID string, result any) error {
	cfg, ok := o.configs.Queue(queueName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrQueueNotFound, queueName)
	}

	var data []byte
	if result != nil {
		var err error
		if data, err = json.Marshal(result); err != nil {
			return fmt.Errorf("failed to marshal result of type %T: %w", result, err)
		}
	}

	now := o.nowFunc().UTC()
	if err := o.store.CompleteJob(ctx, queueName, jobID, data, now, cfg.keepCompleted()); err != nil {
		return fmt.Errorf("failed to complete job %q in queue %q: %w", jobID, queueName, err)
	}

	o.logger.InfoContext(ctx, "job completed",
		slog.String("queue", queueName),
		slog.String("job_id", jobID))
	o.publishJob(ctx, TopicJobCompleted, JobEvent{QueueName: queueName, JobID: jobID, At: now})

	return nil
}

// FailJob releases an active job as failed, consuming one attempt and
// recording the error. The job stays in the failed set; re-entry into
// waiting or delayed is the caller's explicit IncrementAttempts step.
func (o *Operations) FailJob(ctx context.Context, queueName, jobID string, jobErr error) error {
	cfg, ok := o.configs.Queue(queueName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrQueueNotFound, queueName)
	}

	msg := "job failed"
	if jobErr != nil {
		msg = jobErr.Error()
	}

	now := o.nowFunc().UTC()
	if err := o.store.FailJob(ctx, queueName, jobID, msg, now, cfg.keepFailed()); err != nil {
		return fmt.Errorf("failed to fail job %q in queue %q: %w", jobID, queueName, err)
	}

	o.logger.InfoContext(ctx, "job failed",
		slog.String("queue", queueName),
		slog.String("job_id", jobID),
		slog.String("error", msg))
	o.publishJob(ctx, TopicJobFailed, JobEvent{QueueName: queueName, JobID: jobID, Error: msg, At: now})

	return nil
}

// IncrementAttempts consumes one retry attempt for a failed job and routes
// it: back to waiting (or delayed with exponential backoff when the queue
// uses DelayOnFail) while attempts remain, or into terminal failure with an
// optional dead-letter mirror once the budget is exhausted. Returns the
// job's attempt count after the call.
func (o *Operations) IncrementAttempts(ctx context.Context, queueName, jobID string) (int, error) {
	cfg, ok := o.configs.Queue(queueName)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrQueueNotFound, queueName)
	}

	job, err := o.store.GetJob(ctx, queueName, jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to load job %q in queue %q: %w", jobID, queueName, err)
	}
	if job.Status != JobStatusFailed {
		return job.AttemptsMade, fmt.Errorf("%w: job %q has status %q", ErrJobNotFailed, jobID, job.Status)
	}

	now := o.nowFunc().UTC()

	// Already exhausted: stays terminally failed, no further counting.
	if job.AttemptsMade >= job.MaxAttempts {
		o.deadLetter(ctx, cfg, job, now)
		return job.AttemptsMade, nil
	}

	attempts, err := o.store.IncrementAttempts(ctx, queueName, jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts for job %q in queue %q: %w", jobID, queueName, err)
	}
	job.AttemptsMade = attempts

	if attempts >= job.MaxAttempts {
		o.logger.InfoContext(ctx, "job exhausted retry budget",
			slog.String("queue", queueName),
			slog.String("job_id", jobID),
			slog.Int("attempts", attempts))
		o.deadLetter(ctx, cfg, job, now)
		return attempts, nil
	}

	runAt := now
	if cfg.DelayOnFail {
		runAt = now.Add(cfg.backoffDelay(attempts))
	}
	if err := o.store.RequeueJob(ctx, queueName, jobID, runAt, now); err != nil {
		return attempts, fmt.Errorf("failed to requeue job %q in queue %q: %w", jobID, queueName, err)
	}

	o.logger.InfoContext(ctx, "job requeued for retry",
		slog.String("queue", queueName),
		slog.String("job_id", jobID),
		slog.Int("attempts", attempts),
		slog.Time("run_at", runAt))
	o.publishJob(ctx, TopicJobRetried, newJobEvent(job, now))

	return attempts, nil
}

// RecoverStalled reclaims active jobs held past the queue's visibility
// timeout. Each reclaim consumes an attempt and a stall; jobs within their
// budgets return to waiting, the rest become terminally failed and are
// dead-lettered when the queue configures a mirror.
func (o *Operations) RecoverStalled(ctx context.Context, queueName string) (*ReclaimReport, error) {
	cfg, ok := o.configs.Queue(queueName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrQueueNotFound, queueName)
	}

	now := o.nowFunc().UTC()
	cutoff := now.Add(-cfg.VisibilityTimeout)

	report, err := o.store.ReclaimStalled(ctx, queueName, cutoff, cfg.MaxStalledCount, now, cfg.keepFailed())
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim stalled jobs in queue %q: %w", queueName, err)
	}

	if len(report.Requeued) == 0 && len(report.Failed) == 0 {
		return report, nil
	}

	o.logger.InfoContext(ctx, "stalled jobs reclaimed",
		slog.String("queue", queueName),
		slog.Int("requeued", len(report.Requeued)),
		slog.Int("failed", len(report.Failed)))

	for _, id := range report.Requeued {
		o.publishJob(ctx, TopicJobStalled, JobEvent{QueueName: queueName, JobID: id, At: now})
	}
	for _, id := range report.Failed {
		o.publishJob(ctx, TopicJobFailed, JobEvent{QueueName: queueName, JobID: id, At: now})
		if cfg.DeadLetterQueue == "" {
			continue
		}
		job, err := o.store.GetJob(ctx, queueName, id)
		if err != nil {
			o.logger.WarnContext(ctx, "failed to load stalled job for dead-letter mirror",
				slog.String("queue", queueName),
				slog.String("job_id", id),
				slog.String("error", err.Error()))
			continue
		}
		o.deadLetter(ctx, cfg, job, now)
	}

	return report, nil
}

// deadLetter mirrors a terminally failed job into the queue's dead-letter
// queue. Best effort: mirror failures are logged, never propagated, so the
// terminal transition itself is not undone.
func (o *Operations) deadLetter(ctx context.Context, cfg QueueConfig, job *Job, now time.Time) {
	if cfg.DeadLetterQueue == "" {
		return
	}

	copied := *job
	copied.QueueName = cfg.DeadLetterQueue
	copied.Status = JobStatusFailed

	keep := 0
	if dlqCfg, ok := o.configs.Queue(cfg.DeadLetterQueue); ok {
		keep = dlqCfg.keepFailed()
	}

	if err := o.store.CopyJob(ctx, &copied, now, keep); err != nil {
		o.logger.ErrorContext(ctx, "failed to mirror job to dead-letter queue",
			slog.String("queue", job.QueueName),
			slog.String("dead_letter_queue", cfg.DeadLetterQueue),
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		return
	}

	o.logger.InfoContext(ctx, "job dead-lettered",
		slog.String("queue", job.QueueName),
		slog.String("dead_letter_queue", cfg.DeadLetterQueue),
		slog.String("job_id", job.ID))
	o.publishJob(ctx, TopicJobDeadLettered, newJobEvent(job, now))
}

// publishJob fans a lifecycle event out on the bus. Best effort: publish
// failures are logged, never surfaced to the job operation.
func (o *Operations) publishJob(ctx context.Context, topic event.Topic[JobEvent], evt JobEvent) {
	if o.bus == nil {
		return
	}
	if err := event.Publish(ctx, o.bus, topic, evt); err != nil {
		o.logger.ErrorContext(ctx, "failed to publish job event",
			slog.String("topic", topic.String()),
			slog.String("error", err.Error()))
	}
}
