package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements the full Store contract on top of Redis. Job state
// lives in per-queue sorted sets and hashes (see redisKeys for the layout),
// and every multi-key transition runs as a single server-side Lua script, so
// the mutual-exclusion and conservation guarantees hold under concurrent
// callers across processes.
type RedisStore struct {
	client    redis.UniversalClient
	keys      redisKeys
	scanCount int64
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix overrides the default "jobq" key namespace.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.keys.prefix = prefix
		}
	}
}

// WithScanBatchSize sets the COUNT hint used when scanning job record keys
// during purge operations.
func WithScanBatchSize(n int) RedisStoreOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.scanCount = int64(n)
		}
	}
}

// NewRedisStore creates a Redis-backed job store.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) (*RedisStore, error) {
	if client == nil {
		return nil, ErrClientNil
	}

	s := &RedisStore{
		client:    client,
		keys:      redisKeys{prefix: defaultKeyPrefix},
		scanCount: 100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ Store = (*RedisStore)(nil)

func msArg(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// msOptArg renders an optional timestamp; empty string means unset.
func msOptArg(t *time.Time) string {
	if t == nil {
		return ""
	}
	return msArg(*t)
}

func parseMS(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// jobFromRecord decodes a job hash. Unknown ids surface as ErrJobNotFound,
// undecodable fields as ErrCorruptRecord.
func jobFromRecord(queueName string, rec map[string]string) (*Job, error) {
	if len(rec) == 0 {
		return nil, ErrJobNotFound
	}

	job := &Job{ID: rec["id"], QueueName: queueName}
	if job.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrCorruptRecord)
	}
	if v := rec["payload"]; v != "" {
		job.Payload = []byte(v)
	}

	pr, err := strconv.Atoi(rec["priority"])
	if err != nil {
		return nil, fmt.Errorf("%w: priority %q", ErrCorruptRecord, rec["priority"])
	}
	job.Priority = Priority(pr)

	switch st := JobStatus(rec["status"]); st {
	case JobStatusWaiting, JobStatusDelayed, JobStatusActive, JobStatusCompleted, JobStatusFailed:
		job.Status = st
	default:
		return nil, fmt.Errorf("%w: status %q", ErrCorruptRecord, rec["status"])
	}

	if job.AttemptsMade, err = strconv.Atoi(rec["attempts"]); err != nil {
		return nil, fmt.Errorf("%w: attempts %q", ErrCorruptRecord, rec["attempts"])
	}
	if job.MaxAttempts, err = strconv.Atoi(rec["max_attempts"]); err != nil {
		return nil, fmt.Errorf("%w: max_attempts %q", ErrCorruptRecord, rec["max_attempts"])
	}
	if job.StalledCount, err = strconv.Atoi(rec["stalled"]); err != nil {
		return nil, fmt.Errorf("%w: stalled %q", ErrCorruptRecord, rec["stalled"])
	}
	if job.CreatedAt, err = parseMS(rec["created_at"]); err != nil {
		return nil, fmt.Errorf("%w: created_at %q", ErrCorruptRecord, rec["created_at"])
	}
	if job.ScheduledAt, err = parseMS(rec["scheduled_at"]); err != nil {
		return nil, fmt.Errorf("%w: scheduled_at %q", ErrCorruptRecord, rec["scheduled_at"])
	}
	if v := rec["acquired_at"]; v != "" {
		t, err := parseMS(v)
		if err != nil {
			return nil, fmt.Errorf("%w: acquired_at %q", ErrCorruptRecord, v)
		}
		job.AcquiredAt = &t
	}
	if v := rec["processed_at"]; v != "" {
		t, err := parseMS(v)
		if err != nil {
			return nil, fmt.Errorf("%w: processed_at %q", ErrCorruptRecord, v)
		}
		job.ProcessedAt = &t
	}
	if v := rec["result"]; v != "" {
		job.Result = []byte(v)
	}
	job.LastError = rec["error"]
	return job, nil
}

// jobFromReply decodes the flat field-value array a Lua HGETALL returns.
func jobFromReply(queueName string, reply any) (*Job, error) {
	fields, ok := reply.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected script reply %T", ErrCorruptRecord, reply)
	}
	rec := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		k, kok := fields[i].(string)
		v, vok := fields[i+1].(string)
		if !kok || !vok {
			return nil, fmt.Errorf("%w: non-string hash field", ErrCorruptRecord)
		}
		rec[k] = v
	}
	return jobFromRecord(queueName, rec)
}

// CreateJob persists a new record and files it into waiting or delayed.
func (s *RedisStore) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return ErrJobNotFound
	}
	q := job.QueueName
	status := string(JobStatusWaiting)
	if job.Status == JobStatusDelayed {
		status = string(JobStatusDelayed)
	}

	res, err := scriptCreateJob.Run(ctx, s.client,
		[]string{s.keys.waiting(q), s.keys.delayed(q), s.keys.prio(q)},
		job.ID, string(job.Payload), int(job.Priority), status,
		job.AttemptsMade, job.MaxAttempts,
		job.CreatedAt.UnixMilli(), job.ScheduledAt.UnixMilli(),
		s.keys.jobPrefix(q),
	).Int()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if res == 0 {
		return ErrJobExists
	}
	return nil
}

// GetJob loads a job record.
func (s *RedisStore) GetJob(ctx context.Context, queueName, jobID string) (*Job, error) {
	rec, err := s.client.HGetAll(ctx, s.keys.job(queueName, jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return jobFromRecord(queueName, rec)
}

// NextJob promotes due delayed jobs and peeks the waiting head.
func (s *RedisStore) NextJob(ctx context.Context, queueName string, now time.Time) (*Job, error) {
	res, err := scriptNextJob.Run(ctx, s.client,
		[]string{s.keys.waiting(queueName), s.keys.delayed(queueName), s.keys.meta(queueName)},
		msArg(now), s.keys.jobPrefix(queueName),
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("next job: %w", err)
	}
	return jobFromReply(queueName, res)
}

// AcquireJob atomically claims the waiting head.
func (s *RedisStore) AcquireJob(ctx context.Context, queueName string, now time.Time) (*Job, error) {
	res, err := scriptAcquireJob.Run(ctx, s.client,
		[]string{s.keys.waiting(queueName), s.keys.delayed(queueName), s.keys.active(queueName), s.keys.meta(queueName)},
		msArg(now), s.keys.jobPrefix(queueName),
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("acquire job: %w", err)
	}
	return jobFromReply(queueName, res)
}

// CompleteJob moves an active job to completed and applies retention.
func (s *RedisStore) CompleteJob(ctx context.Context, queueName, jobID string, result []byte, now time.Time, keep int) error {
	res, err := scriptCompleteJob.Run(ctx, s.client,
		[]string{s.keys.active(queueName), s.keys.completed(queueName), s.keys.prio(queueName)},
		jobID, string(result), msArg(now), keep, s.keys.jobPrefix(queueName),
	).Int()
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	switch res {
	case -1:
		return ErrJobNotFound
	case 0:
		return ErrJobNotActive
	}
	return nil
}

// FailJob moves an active job to failed, consuming one attempt.
func (s *RedisStore) FailJob(ctx context.Context, queueName, jobID string, jobErr string, now time.Time, keep int) error {
	res, err := scriptFailJob.Run(ctx, s.client,
		[]string{s.keys.active(queueName), s.keys.failed(queueName), s.keys.prio(queueName)},
		jobID, jobErr, msArg(now), keep, s.keys.jobPrefix(queueName),
	).Int()
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	switch res {
	case -1:
		return ErrJobNotFound
	case 0:
		return ErrJobNotActive
	}
	return nil
}

// RequeueJob returns a failed job to waiting or delayed.
func (s *RedisStore) RequeueJob(ctx context.Context, queueName, jobID string, runAt, now time.Time) error {
	res, err := scriptRequeueJob.Run(ctx, s.client,
		[]string{s.keys.failed(queueName), s.keys.waiting(queueName), s.keys.delayed(queueName)},
		jobID, msArg(runAt), msArg(now), s.keys.jobPrefix(queueName),
	).Int()
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	switch res {
	case -1:
		return ErrJobNotFound
	case 0:
		return ErrJobNotFailed
	}
	return nil
}

// IncrementAttempts bumps the attempt counter and returns the new value.
func (s *RedisStore) IncrementAttempts(ctx context.Context, queueName, jobID string) (int, error) {
	res, err := scriptIncrementAttempts.Run(ctx, s.client,
		[]string{s.keys.job(queueName, jobID)},
	).Int()
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	if res == -1 {
		return 0, ErrJobNotFound
	}
	return res, nil
}

// CopyJob inserts an independent copy into the queue named by job.QueueName.
func (s *RedisStore) CopyJob(ctx context.Context, job *Job, now time.Time, keep int) error {
	if job == nil {
		return ErrJobNotFound
	}
	q := job.QueueName
	_, err := scriptCopyJob.Run(ctx, s.client,
		[]string{
			s.keys.waiting(q), s.keys.delayed(q), s.keys.active(q),
			s.keys.completed(q), s.keys.failed(q), s.keys.prio(q),
		},
		job.ID, string(job.Payload), int(job.Priority), string(job.Status),
		job.AttemptsMade, job.MaxAttempts, job.StalledCount,
		job.CreatedAt.UnixMilli(), job.ScheduledAt.UnixMilli(),
		msOptArg(job.AcquiredAt), msOptArg(job.ProcessedAt),
		string(job.Result), job.LastError,
		keep, s.keys.jobPrefix(q),
	).Int()
	if err != nil {
		return fmt.Errorf("copy job: %w", err)
	}
	return nil
}

// ReclaimStalled sweeps expired active jobs back to waiting or into terminal
// failure, in one atomic script.
func (s *RedisStore) ReclaimStalled(ctx context.Context, queueName string, cutoff time.Time, maxStalled int, now time.Time, keepFailed int) (*ReclaimReport, error) {
	res, err := scriptReclaimStalled.Run(ctx, s.client,
		[]string{
			s.keys.active(queueName), s.keys.waiting(queueName),
			s.keys.failed(queueName), s.keys.prio(queueName),
		},
		msArg(cutoff), maxStalled, msArg(now), keepFailed,
		s.keys.jobPrefix(queueName), stalledFailureMsg, exhaustedFailureMsg,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("reclaim stalled: %w", err)
	}

	report := &ReclaimReport{QueueName: queueName}
	lists, ok := res.([]any)
	if !ok || len(lists) != 2 {
		return nil, fmt.Errorf("reclaim stalled: unexpected reply %T", res)
	}
	report.Requeued = stringList(lists[0])
	report.Failed = stringList(lists[1])
	return report, nil
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Counts returns the cardinality of each state set.
func (s *RedisStore) Counts(ctx context.Context, queueName string) (Counts, error) {
	pipe := s.client.Pipeline()
	waiting := pipe.ZCard(ctx, s.keys.waiting(queueName))
	delayed := pipe.ZCard(ctx, s.keys.delayed(queueName))
	active := pipe.ZCard(ctx, s.keys.active(queueName))
	completed := pipe.ZCard(ctx, s.keys.completed(queueName))
	failed := pipe.ZCard(ctx, s.keys.failed(queueName))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("queue counts: %w", err)
	}
	return Counts{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// PriorityCounts returns per-tier counts over all retained jobs.
func (s *RedisStore) PriorityCounts(ctx context.Context, queueName string) (PriorityDistribution, error) {
	var dist PriorityDistribution
	rec, err := s.client.HGetAll(ctx, s.keys.prio(queueName)).Result()
	if err != nil {
		return dist, fmt.Errorf("priority counts: %w", err)
	}
	get := func(p Priority) int64 {
		v, ok := rec[strconv.Itoa(int(p))]
		if !ok {
			return 0
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	dist.Low = get(PriorityLow)
	dist.Normal = get(PriorityNormal)
	dist.High = get(PriorityHigh)
	dist.Critical = get(PriorityCritical)
	return dist, nil
}

// FinishedSince counts completions and failures finished at or after since.
func (s *RedisStore) FinishedSince(ctx context.Context, queueName string, since time.Time) (int64, int64, error) {
	minScore := msArg(since)
	pipe := s.client.Pipeline()
	completed := pipe.ZCount(ctx, s.keys.completed(queueName), minScore, "+inf")
	failed := pipe.ZCount(ctx, s.keys.failed(queueName), minScore, "+inf")
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("finished since: %w", err)
	}
	return completed.Val(), failed.Val(), nil
}

// ProcessingTimes returns recent completion durations, newest first.
func (s *RedisStore) ProcessingTimes(ctx context.Context, queueName string, limit int) ([]time.Duration, error) {
	if limit < 1 {
		return nil, nil
	}
	ids, err := s.client.ZRevRange(ctx, s.keys.completed(queueName), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("processing times: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, s.keys.job(queueName, id), "acquired_at", "processed_at")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("processing times: %w", err)
	}

	times := make([]time.Duration, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) != 2 {
			continue
		}
		aq, aok := vals[0].(string)
		pr, pok := vals[1].(string)
		if !aok || !pok || aq == "" || pr == "" {
			continue
		}
		acquired, err1 := parseMS(aq)
		processed, err2 := parseMS(pr)
		if err1 != nil || err2 != nil {
			continue
		}
		times = append(times, processed.Sub(acquired))
	}
	return times, nil
}

// WaitingOlderThan counts waiting jobs enqueued at or before cutoff and
// reports the oldest enqueue time.
func (s *RedisStore) WaitingOlderThan(ctx context.Context, queueName string, cutoff time.Time) (int64, time.Time, error) {
	res, err := scriptWaitingOlderThan.Run(ctx, s.client,
		[]string{s.keys.waiting(queueName)},
		cutoff.UnixMilli(),
	).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("waiting older than: %w", err)
	}
	vals, ok := res.([]any)
	if !ok || len(vals) != 2 {
		return 0, time.Time{}, fmt.Errorf("waiting older than: unexpected reply %T", res)
	}
	count, _ := vals[0].(int64)
	oldestMS, _ := vals[1].(int64)
	if oldestMS < 0 {
		return count, time.Time{}, nil
	}
	return count, time.UnixMilli(oldestMS).UTC(), nil
}

// ActiveOlderThan counts active jobs acquired at or before cutoff.
func (s *RedisStore) ActiveOlderThan(ctx context.Context, queueName string, cutoff time.Time) (int64, error) {
	n, err := s.client.ZCount(ctx, s.keys.active(queueName), "-inf", msArg(cutoff)).Result()
	if err != nil {
		return 0, fmt.Errorf("active older than: %w", err)
	}
	return n, nil
}

// PayloadFootprint estimates payload bytes held by live jobs, sampling at
// most sample records per state set and extrapolating by the sampled mean.
func (s *RedisStore) PayloadFootprint(ctx context.Context, queueName string, sample int) (int64, error) {
	if sample < 1 {
		return 0, nil
	}

	var total int64
	for _, key := range []string{s.keys.waiting(queueName), s.keys.delayed(queueName), s.keys.active(queueName)} {
		card, err := s.client.ZCard(ctx, key).Result()
		if err != nil {
			return 0, fmt.Errorf("payload footprint: %w", err)
		}
		if card == 0 {
			continue
		}
		n := int64(sample)
		if card < n {
			n = card
		}
		ids, err := s.client.ZRange(ctx, key, 0, n-1).Result()
		if err != nil {
			return 0, fmt.Errorf("payload footprint: %w", err)
		}

		pipe := s.client.Pipeline()
		cmds := make([]*redis.StringCmd, len(ids))
		for i, id := range ids {
			cmds[i] = pipe.HGet(ctx, s.keys.job(queueName, id), "payload")
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return 0, fmt.Errorf("payload footprint: %w", err)
		}

		var sampled int64
		var counted int64
		for _, cmd := range cmds {
			if cmd.Err() != nil {
				continue
			}
			sampled += int64(len(cmd.Val()))
			counted++
		}
		if counted == 0 {
			continue
		}
		if counted < card {
			total += sampled / counted * card
		} else {
			total += sampled
		}
	}
	return total, nil
}

// Ping probes the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// SetPaused flips the queue's paused flag.
func (s *RedisStore) SetPaused(ctx context.Context, queueName string, paused bool) error {
	val := "0"
	if paused {
		val = "1"
	}
	if err := s.client.HSet(ctx, s.keys.meta(queueName), "paused", val).Err(); err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	return nil
}

// Paused reports the queue's paused flag.
func (s *RedisStore) Paused(ctx context.Context, queueName string) (bool, error) {
	v, err := s.client.HGet(ctx, s.keys.meta(queueName), "paused").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("paused: %w", err)
	}
	return v == "1", nil
}

// PurgeQueue deletes all jobs and derived counters, preserving the meta hash.
func (s *RedisStore) PurgeQueue(ctx context.Context, queueName string) error {
	if err := s.client.Del(ctx,
		s.keys.waiting(queueName), s.keys.delayed(queueName), s.keys.active(queueName),
		s.keys.completed(queueName), s.keys.failed(queueName), s.keys.prio(queueName),
	).Err(); err != nil {
		return fmt.Errorf("purge queue: %w", err)
	}

	iter := s.client.Scan(ctx, 0, s.keys.jobPattern(queueName), s.scanCount).Iterator()
	batch := make([]string, 0, s.scanCount)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if int64(len(batch)) >= s.scanCount {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("purge queue: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("purge queue: %w", err)
	}
	if len(batch) > 0 {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("purge queue: %w", err)
		}
	}
	return nil
}

// RemoveQueue purges the queue and drops its metadata.
func (s *RedisStore) RemoveQueue(ctx context.Context, queueName string) error {
	if err := s.PurgeQueue(ctx, queueName); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.keys.meta(queueName)).Err(); err != nil {
		return fmt.Errorf("remove queue: %w", err)
	}
	return nil
}
