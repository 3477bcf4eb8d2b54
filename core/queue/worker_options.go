package queue

import (
	"log/slog"
	"time"
)

// WorkerOption is a functional option for configuring a worker.
type WorkerOption func(*Worker)

// WithWorkerConfigSource wires the queue registry into the worker so each
// queue's poll loop is sized by its configured concurrency and each job run
// is bounded by its queue's visibility timeout. The manager satisfies
// ConfigSource.
func WithWorkerConfigSource(configs ConfigSource) WorkerOption {
	return func(w *Worker) {
		if configs != nil {
			w.configs = configs
		}
	}
}

// WithPullInterval configures how often each queue is polled for new jobs.
func WithPullInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pullInterval = d
		}
	}
}

// WithJobTimeout bounds every handler run with a fixed budget, overriding
// the per-queue visibility timeout.
func WithJobTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.jobTimeout = d
		}
	}
}

// WithStopTimeout configures how long Stop waits for active jobs to finish.
func WithStopTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.stopTimeout = d
		}
	}
}

// WithWorkerConcurrency sets the fallback per-queue concurrency used for
// queues with no registered configuration.
func WithWorkerConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithWorkerLogger sets the logger for worker operations.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}
