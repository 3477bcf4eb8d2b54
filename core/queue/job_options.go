package queue

import "time"

// enqueueOptions collects the per-job overrides applied at AddJob time.
type enqueueOptions struct {
	jobID       string
	priority    Priority
	maxAttempts int
	delay       time.Duration
	scheduledAt *time.Time
}

// EnqueueOption customizes a single job at enqueue time.
type EnqueueOption func(*enqueueOptions)

// WithJobID sets an explicit job id instead of a generated UUID. Producers
// can use it for idempotent enqueueing: adding a second job with the same id
// to the same queue fails with ErrJobExists.
func WithJobID(id string) EnqueueOption {
	return func(o *enqueueOptions) {
		if id != "" {
			o.jobID = id
		}
	}
}

// WithPriority overrides the queue's default priority for this job.
func WithPriority(p Priority) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = p
	}
}

// WithMaxAttempts overrides the queue's attempt budget for this job.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithDelay makes the job eligible for processing only after d has elapsed.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithScheduledAt makes the job eligible for processing at a specific time.
// Takes precedence over WithDelay.
func WithScheduledAt(at time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.scheduledAt = &at
	}
}
