package queue

import (
	"context"
	"slices"
	"sync"
	"time"
)

const (
	stalledFailureMsg   = "job stalled beyond max stalled count"
	exhaustedFailureMsg = "job stalled with no attempts remaining"
)

// memQueue holds one queue's state sets and derived counters.
// Membership lists mirror the ordered sets of a production store: waiting and
// delayed hold queued ids, active holds claimed ids, completed and failed are
// append-ordered by finish time.
type memQueue struct {
	jobs      map[string]*Job
	waiting   []string
	delayed   []string
	active    []string
	completed []string
	failed    []string
	prio      map[Priority]int64
	paused    bool
}

func newMemQueue() *memQueue {
	return &memQueue{
		jobs: make(map[string]*Job),
		prio: make(map[Priority]int64),
	}
}

// MemoryStore implements the full Store contract in process memory. Intended
// for tests and local development; a single mutex makes every operation
// trivially atomic, so it exhibits the same observable semantics as the
// Redis-backed store.
type MemoryStore struct {
	mu     sync.RWMutex
	queues map[string]*memQueue
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{queues: make(map[string]*memQueue)}
}

var _ Store = (*MemoryStore)(nil)

// queue returns the named queue's state, creating it on first use.
func (ms *MemoryStore) queue(name string) *memQueue {
	q, ok := ms.queues[name]
	if !ok {
		q = newMemQueue()
		ms.queues[name] = q
	}
	return q
}

func copyJob(j *Job) *Job {
	c := *j
	if j.AcquiredAt != nil {
		t := *j.AcquiredAt
		c.AcquiredAt = &t
	}
	if j.ProcessedAt != nil {
		t := *j.ProcessedAt
		c.ProcessedAt = &t
	}
	c.Payload = slices.Clone(j.Payload)
	c.Result = slices.Clone(j.Result)
	return &c
}

func removeID(list []string, id string) []string {
	return slices.DeleteFunc(list, func(s string) bool { return s == id })
}

// CreateJob stores a new record and files it by its status.
func (ms *MemoryStore) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return ErrJobNotFound
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	q := ms.queue(job.QueueName)
	if _, exists := q.jobs[job.ID]; exists {
		return ErrJobExists
	}

	stored := copyJob(job)
	q.jobs[job.ID] = stored
	switch stored.Status {
	case JobStatusDelayed:
		q.delayed = append(q.delayed, stored.ID)
	default:
		stored.Status = JobStatusWaiting
		q.waiting = append(q.waiting, stored.ID)
	}
	q.prio[stored.Priority]++
	return nil
}

// GetJob loads a copy of the stored record.
func (ms *MemoryStore) GetJob(ctx context.Context, queueName, jobID string) (*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	q, ok := ms.queues[queueName]
	if !ok {
		return nil, ErrJobNotFound
	}
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return copyJob(job), nil
}

// promoteDue moves delayed jobs whose ScheduledAt has passed into waiting.
// Caller must hold the write lock.
func (q *memQueue) promoteDue(now time.Time) {
	var remaining []string
	for _, id := range q.delayed {
		job := q.jobs[id]
		if job != nil && !job.ScheduledAt.After(now) {
			job.Status = JobStatusWaiting
			q.waiting = append(q.waiting, id)
			continue
		}
		remaining = append(remaining, id)
	}
	q.delayed = remaining
}

// pickWaiting returns the highest-priority, earliest-enqueued waiting job.
// FIFO inside a tier keys off CreatedAt, the enqueue timestamp.
func (q *memQueue) pickWaiting() *Job {
	var best *Job
	for _, id := range q.waiting {
		job := q.jobs[id]
		if job == nil {
			continue
		}
		if best == nil ||
			job.Priority > best.Priority ||
			(job.Priority == best.Priority && job.CreatedAt.Before(best.CreatedAt)) {
			best = job
		}
	}
	return best
}

// NextJob promotes due delayed jobs and peeks the head of the waiting set.
func (ms *MemoryStore) NextJob(ctx context.Context, queueName string, now time.Time) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	q, ok := ms.queues[queueName]
	if !ok || q.paused {
		return nil, ErrNoJob
	}
	q.promoteDue(now)
	best := q.pickWaiting()
	if best == nil {
		return nil, ErrNoJob
	}
	return copyJob(best), nil
}

// AcquireJob atomically claims the head of the waiting set. The single store
// lock guarantees no two callers ever receive the same job.
func (ms *MemoryStore) AcquireJob(ctx context.Context, queueName string, now time.Time) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	q, ok := ms.queues[queueName]
	if !ok || q.paused {
		return nil, ErrNoJob
	}
	q.promoteDue(now)
	best := q.pickWaiting()
	if best == nil {
		return nil, ErrNoJob
	}

	acquired := now
	best.Status = JobStatusActive
	best.AcquiredAt = &acquired
	q.waiting = removeID(q.waiting, best.ID)
	q.active = append(q.active, best.ID)
	return copyJob(best), nil
}

// trimFinished destroys the oldest finished jobs beyond keep. Destroyed jobs
// leave the priority distribution as well. Caller must hold the write lock.
func (q *memQueue) trimFinished(list []string, keep int) []string {
	if keep <= 0 || len(list) <= keep {
		return list
	}
	evict := list[:len(list)-keep]
	for _, id := range evict {
		if job, ok := q.jobs[id]; ok {
			q.prio[job.Priority]--
			delete(q.jobs, id)
		}
	}
	return slices.Clone(list[len(list)-keep:])
}

// CompleteJob moves an active job to completed and applies retention.
func (ms *MemoryStore) CompleteJob(ctx context.Context, queueName, jobID string, result []byte, now time.Time, keep int) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	q, ok := ms.queues[queueName]
	if !ok {
		return ErrJobNotFound
	}
	job, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != JobStatusActive {
		return ErrJobNotActive
	}

	finished := now
	job.Status = JobStatusCompleted
	job.ProcessedAt = &finished
	job.Result = slices.Clone(result)
	job.LastError = ""

	q.active = removeID(q.active, jobID)
	q.completed = append(q.completed, jobID)
	q.completed = q.trimFinished(q.completed, keep)
	return nil
}

// FailJob moves an active job to failed, consuming one attempt.
func (ms *MemoryStore) FailJob(ctx context.Context, queueName, jobID string, jobErr string, now time.Time, keep int) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	q, ok := ms.queues[queueName]
	if !ok {
		return ErrJobNotFound
	}
	job, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != JobStatusActive {
		return ErrJobNotActive
	}

	finished := now
	job.Status = JobStatusFailed
	job.ProcessedAt = &finished
	job.AttemptsMade++
	job.LastError = jobErr
	job.Result = nil

	q.active = removeID(q.active, jobID)
	q.failed = append(q.failed, jobID)
	q.failed = q.trimFinished(q.failed, keep)
	return nil
}

// RequeueJob returns a failed job to waiting or delayed for another attempt.
func (ms *MemoryStore) RequeueJob(ctx context.Context, queueName, jobID string, runAt, now time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	q, ok := ms.queues[queueName]
	if !ok {
		return ErrJobNotFound
	}
	job, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != JobStatusFailed {
		return ErrJobNotFailed
	}

	job.LastError = ""
	job.ProcessedAt = nil
	job.AcquiredAt = nil
	job.ScheduledAt = runAt

	q.failed = removeID(q.failed, jobID)
	if runAt.After(now) {
		job.Status = JobStatusDelayed
		q.delayed = append(q.delayed, jobID)
	} else {
		job.Status = JobStatusWaiting
		q.waiting = append(q.waiting, jobID)
	}
	return nil
}

// IncrementAttempts bumps the attempt counter and returns the new value.
func (ms *MemoryStore) IncrementAttempts(ctx context.Context, queueName, jobID string) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	q, ok := ms.queues[queueName]
	if !ok {
		return 0, ErrJobNotFound
	}
	job, ok := q.jobs[jobID]
	if !ok {
		return 0, ErrJobNotFound
	}
	job.AttemptsMade++
	return job.AttemptsMade, nil
}

// CopyJob inserts an independent copy into the queue named by job.QueueName.
func (ms *MemoryStore) CopyJob(ctx context.Context, job *Job, now time.Time, keep int) error {
	if job == nil {
		return ErrJobNotFound
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	q := ms.queue(job.QueueName)
	stored := copyJob(job)
	if _, exists := q.jobs[stored.ID]; exists {
		// Already mirrored; refresh the record without double-counting.
		q.jobs[stored.ID] = stored
		return nil
	}
	q.jobs[stored.ID] = stored
	q.prio[stored.Priority]++
	switch stored.Status {
	case JobStatusFailed:
		q.failed = append(q.failed, stored.ID)
		q.failed = q.trimFinished(q.failed, keep)
	case JobStatusDelayed:
		q.delayed = append(q.delayed, stored.ID)
	case JobStatusActive:
		q.active = append(q.active, stored.ID)
	case JobStatusCompleted:
		q.completed = append(q.completed, stored.ID)
		q.completed = q.trimFinished(q.completed, keep)
	default:
		q.waiting = append(q.waiting, stored.ID)
	}
	return nil
}

// ReclaimStalled sweeps active jobs acquired at or before cutoff back into
// waiting, or into terminal failed once their stall or attempt budget is gone.
func (ms *MemoryStore) ReclaimStalled(ctx context.Context, queueName string, cutoff time.Time, maxStalled int, now time.Time, keepFailed int) (*ReclaimReport, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	report := &ReclaimReport{QueueName: queueName}
	q, ok := ms.queues[queueName]
	if !ok {
		return report, nil
	}

	var stillActive []string
	for _, id := range q.active {
		job := q.jobs[id]
		if job == nil {
			continue
		}
		if job.AcquiredAt == nil || job.AcquiredAt.After(cutoff) {
			stillActive = append(stillActive, id)
			continue
		}

		job.StalledCount++
		job.AttemptsMade++
		job.AcquiredAt = nil

		switch {
		case job.StalledCount > maxStalled:
			finished := now
			job.Status = JobStatusFailed
			job.LastError = stalledFailureMsg
			job.ProcessedAt = &finished
			q.failed = append(q.failed, id)
			q.failed = q.trimFinished(q.failed, keepFailed)
			report.Failed = append(report.Failed, id)
		case job.AttemptsMade >= job.MaxAttempts:
			finished := now
			job.Status = JobStatusFailed
			job.LastError = exhaustedFailureMsg
			job.ProcessedAt = &finished
			q.failed = append(q.failed, id)
			q.failed = q.trimFinished(q.failed, keepFailed)
			report.Failed = append(report.Failed, id)
		default:
			job.Status = JobStatusWaiting
			q.waiting = append(q.waiting, id)
			report.Requeued = append(report.Requeued, id)
		}
	}
	q.active = stillActive
	return report, nil
}

// Counts returns the cardinality of each state set.
func (ms *MemoryStore) Counts(ctx context.Context, queueName string) (Counts, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	q, ok := ms.queues[queueName]
	if !ok {
		return Counts{}, nil
	}
	return Counts{
		Waiting:   int64(len(q.waiting)),
		Delayed:   int64(len(q.delayed)),
		Active:    int64(len(q.active)),
		Completed: int64(len(q.completed)),
		Failed:    int64(len(q.failed)),
	}, nil
}

// PriorityCounts returns per-tier counts over all retained jobs.
func (ms *MemoryStore) PriorityCounts(ctx context.Context, queueName string) (PriorityDistribution, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var dist PriorityDistribution
	q, ok := ms.queues[queueName]
	if !ok {
		return dist, nil
	}
	dist.Low = q.prio[PriorityLow]
	dist.Normal = q.prio[PriorityNormal]
	dist.High = q.prio[PriorityHigh]
	dist.Critical = q.prio[PriorityCritical]
	return dist, nil
}

// FinishedSince counts completions and failures finished at or after since.
func (ms *MemoryStore) FinishedSince(ctx context.Context, queueName string, since time.Time) (int64, int64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	q, ok := ms.queues[queueName]
	if !ok {
		return 0, 0, nil
	}
	var completed, failed int64
	for _, id := range q.completed {
		if job := q.jobs[id]; job != nil && job.ProcessedAt != nil && !job.ProcessedAt.Before(since) {
			completed++
		}
	}
	for _, id := range q.failed {
		if job := q.jobs[id]; job != nil && job.ProcessedAt != nil && !job.ProcessedAt.Before(since) {
			failed++
		}
	}
	return completed, failed, nil
}

// ProcessingTimes returns recent completion durations, newest first.
func (ms *MemoryStore) ProcessingTimes(ctx context.Context, queueName string, limit int) ([]time.Duration, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	q, ok := ms.queues[queueName]
	if !ok || limit < 1 {
		return nil, nil
	}
	var times []time.Duration
	for i := len(q.completed) - 1; i >= 0 && len(times) < limit; i-- {
		job := q.jobs[q.completed[i]]
		if job == nil || job.AcquiredAt == nil || job.ProcessedAt == nil {
			continue
		}
		times = append(times, job.ProcessedAt.Sub(*job.AcquiredAt))
	}
	return times, nil
}

// WaitingOlderThan counts waiting jobs enqueued at or before cutoff and
// reports the oldest enqueue time.
func (ms *MemoryStore) WaitingOlderThan(ctx context.Context, queueName string, cutoff time.Time) (int64, time.Time, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var oldest time.Time
	q, ok := ms.queues[queueName]
	if !ok {
		return 0, oldest, nil
	}
	var count int64
	for _, id := range q.waiting {
		job := q.jobs[id]
		if job == nil {
			continue
		}
		if !job.CreatedAt.After(cutoff) {
			count++
		}
		if oldest.IsZero() || job.CreatedAt.Before(oldest) {
			oldest = job.CreatedAt
		}
	}
	return count, oldest, nil
}

// ActiveOlderThan counts active jobs acquired at or before cutoff.
func (ms *MemoryStore) ActiveOlderThan(ctx context.Context, queueName string, cutoff time.Time) (int64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	q, ok := ms.queues[queueName]
	if !ok {
		return 0, nil
	}
	var count int64
	for _, id := range q.active {
		job := q.jobs[id]
		if job != nil && job.AcquiredAt != nil && !job.AcquiredAt.After(cutoff) {
			count++
		}
	}
	return count, nil
}

// PayloadFootprint estimates payload bytes held by live jobs, sampling at
// most sample records per state set and extrapolating by the sampled mean.
func (ms *MemoryStore) PayloadFootprint(ctx context.Context, queueName string, sample int) (int64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	q, ok := ms.queues[queueName]
	if !ok || sample < 1 {
		return 0, nil
	}

	var total int64
	for _, set := range [][]string{q.waiting, q.delayed, q.active} {
		if len(set) == 0 {
			continue
		}
		n := min(sample, len(set))
		var sampled int64
		for _, id := range set[:n] {
			if job := q.jobs[id]; job != nil {
				sampled += int64(len(job.Payload))
			}
		}
		if n < len(set) {
			total += sampled / int64(n) * int64(len(set))
		} else {
			total += sampled
		}
	}
	return total, nil
}

// Ping always succeeds for the in-memory store.
func (ms *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// SetPaused flips the queue's paused flag.
func (ms *MemoryStore) SetPaused(ctx context.Context, queueName string, paused bool) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.queue(queueName).paused = paused
	return nil
}

// Paused reports the queue's paused flag.
func (ms *MemoryStore) Paused(ctx context.Context, queueName string) (bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	q, ok := ms.queues[queueName]
	if !ok {
		return false, nil
	}
	return q.paused, nil
}

// PurgeQueue drops all jobs and counters, preserving the paused flag.
func (ms *MemoryStore) PurgeQueue(ctx context.Context, queueName string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	q, ok := ms.queues[queueName]
	if !ok {
		return nil
	}
	paused := q.paused
	fresh := newMemQueue()
	fresh.paused = paused
	ms.queues[queueName] = fresh
	return nil
}

// RemoveQueue drops the queue entirely, including its metadata.
func (ms *MemoryStore) RemoveQueue(ctx context.Context, queueName string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.queues, queueName)
	return nil
}
