package queue

import (
	"log/slog"
	"time"
)

// SchedulerOption is a functional option for configuring a scheduler.
type SchedulerOption func(*Scheduler)

// WithCheckInterval configures how frequently the scheduler sweeps for due
// occurrences. Shorter intervals enqueue occurrences closer to their
// scheduled time but increase load.
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSchedulerStopTimeout configures how long Stop waits for an in-flight
// sweep to finish.
func WithSchedulerStopTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithSchedulerLogger sets the logger for scheduler operations.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSchedulerClock replaces the time source, letting tests drive occurrence
// calculation deterministically.
func WithSchedulerClock(nowFunc func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if nowFunc != nil {
			s.nowFunc = nowFunc
		}
	}
}

// RecurringOption customizes one recurring job definition.
type RecurringOption func(*recurringJob)

// WithRecurringPayload sets the payload carried by every occurrence. It is
// marshaled to JSON at enqueue time; the default is an empty JSON object.
func WithRecurringPayload(payload any) RecurringOption {
	return func(j *recurringJob) {
		if payload != nil {
			j.payload = payload
		}
	}
}

// WithRecurringPriority sets the priority for enqueued occurrences instead of
// the queue's default.
func WithRecurringPriority(p Priority) RecurringOption {
	return func(j *recurringJob) {
		if p.Valid() {
			j.priority = p
		}
	}
}

// WithRecurringMaxAttempts sets the attempt budget for enqueued occurrences
// instead of the queue's default.
func WithRecurringMaxAttempts(n int) RecurringOption {
	return func(j *recurringJob) {
		if n > 0 {
			j.maxAttempts = n
		}
	}
}
