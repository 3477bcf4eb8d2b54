package queue

import (
	"context"
	"time"
)

// Counts holds the cardinality of each job state set for one queue.
type Counts struct {
	Waiting   int64
	Delayed   int64
	Active    int64
	Completed int64
	Failed    int64
}

// Total sums all state sets. Delayed jobs are still queued work, so they
// count toward the total alongside waiting ones.
func (c Counts) Total() int64 {
	return c.Waiting + c.Delayed + c.Active + c.Completed + c.Failed
}

// JobStore provides the job lifecycle mutations. Every method that moves a
// job between state sets must do so atomically: a job id is observable in
// exactly one set at any moment, and two concurrent AcquireJob calls can
// never return the same job.
type JobStore interface {
	// CreateJob persists a new job record and files it into the waiting or
	// delayed set depending on ScheduledAt vs the job's CreatedAt.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob loads a job record. Returns ErrJobNotFound for unknown ids and
	// ErrCorruptRecord for records that fail to decode.
	GetJob(ctx context.Context, queueName, jobID string) (*Job, error)

	// NextJob promotes due delayed jobs and returns the job AcquireJob would
	// hand out next, without claiming it. Returns ErrNoJob when nothing is
	// eligible or the queue is paused.
	NextJob(ctx context.Context, queueName string, now time.Time) (*Job, error)

	// AcquireJob promotes due delayed jobs, then atomically pops the
	// highest-priority oldest waiting job and marks it active with the
	// acquisition timestamp. Returns ErrNoJob when nothing is eligible or
	// the queue is paused.
	AcquireJob(ctx context.Context, queueName string, now time.Time) (*Job, error)

	// CompleteJob moves an active job to the completed set, storing its
	// result and finish time. Keep bounds the completed set: the oldest
	// entries beyond it are destroyed (0 keeps everything).
	CompleteJob(ctx context.Context, queueName, jobID string, result []byte, now time.Time, keep int) error

	// FailJob moves an active job to the failed set, consuming one attempt
	// and recording the error and finish time. Keep works as in CompleteJob.
	FailJob(ctx context.Context, queueName, jobID string, jobErr string, now time.Time, keep int) error

	// RequeueJob moves a failed job back into waiting (runAt <= now) or
	// delayed (runAt > now), clearing its error and finish time.
	RequeueJob(ctx context.Context, queueName, jobID string, runAt, now time.Time) error

	// IncrementAttempts atomically bumps the job's attempt counter and
	// returns the new value.
	IncrementAttempts(ctx context.Context, queueName, jobID string) (int, error)

	// CopyJob inserts an independent copy of the job into the queue named by
	// job.QueueName, filed by its status. Used to mirror exhausted jobs into
	// a dead-letter queue. Keep bounds the target set as in FailJob.
	CopyJob(ctx context.Context, job *Job, now time.Time, keep int) error

	// ReclaimStalled sweeps active jobs acquired at or before cutoff. Each
	// one consumes an attempt and a stall; jobs still within their stall and
	// attempt budgets return to waiting, the rest become terminally failed
	// (bounded by keepFailed, as in FailJob).
	ReclaimStalled(ctx context.Context, queueName string, cutoff time.Time, maxStalled int, now time.Time, keepFailed int) (*ReclaimReport, error)
}

// StatsStore provides the read-only derived views. Implementations must not
// mutate queue state and must tolerate concurrent lifecycle mutations; exact
// point-in-time consistency is not required.
type StatsStore interface {
	// Counts returns the cardinality of each state set.
	Counts(ctx context.Context, queueName string) (Counts, error)

	// PriorityCounts returns live-job counts per priority tier.
	PriorityCounts(ctx context.Context, queueName string) (PriorityDistribution, error)

	// FinishedSince counts completions and failures observed at or after the
	// cutoff.
	FinishedSince(ctx context.Context, queueName string, since time.Time) (completed, failed int64, err error)

	// ProcessingTimes returns acquisition-to-finish durations for the most
	// recently completed jobs, newest first, at most limit entries.
	ProcessingTimes(ctx context.Context, queueName string, limit int) ([]time.Duration, error)

	// WaitingOlderThan counts waiting jobs enqueued at or before the cutoff
	// and returns the enqueue time of the oldest waiting job (zero when the
	// waiting set is empty). Delayed jobs are excluded.
	WaitingOlderThan(ctx context.Context, queueName string, cutoff time.Time) (count int64, oldest time.Time, err error)

	// ActiveOlderThan counts active jobs acquired at or before the cutoff.
	ActiveOlderThan(ctx context.Context, queueName string, cutoff time.Time) (int64, error)

	// PayloadFootprint estimates the total payload bytes held by live
	// (waiting, delayed, active) jobs, sampling at most sample records per
	// state set.
	PayloadFootprint(ctx context.Context, queueName string, sample int) (int64, error)
}

// AdminStore provides connection liveness and whole-queue maintenance.
type AdminStore interface {
	// Ping probes store connectivity.
	Ping(ctx context.Context) error

	// SetPaused flips the queue's paused flag. Paused queues accept new jobs
	// but never hand out work.
	SetPaused(ctx context.Context, queueName string, paused bool) error

	// Paused reports the queue's paused flag.
	Paused(ctx context.Context, queueName string) (bool, error)

	// PurgeQueue deletes every job and derived counter for the queue while
	// preserving its paused flag.
	PurgeQueue(ctx context.Context, queueName string) error

	// RemoveQueue deletes everything PurgeQueue does plus the queue's
	// metadata, leaving no trace of the queue in the store.
	RemoveQueue(ctx context.Context, queueName string) error
}

// Store is the unified persistence contract combining all store-side
// interfaces required by the queue services. Implementations can serve as
// the complete backend for Operations, Statistics, Health, and Monitoring.
type Store interface {
	JobStore
	StatsStore
	AdminStore
}
