package queue

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/jobq/core/event"
)

// OperationsOption configures an Operations instance.
type OperationsOption func(*Operations)

// WithOperationsLogger sets the logger for lifecycle operations.
// Logging is disabled by default.
func WithOperationsLogger(logger *slog.Logger) OperationsOption {
	return func(o *Operations) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOperationsEventBus attaches a typed event bus. Lifecycle transitions
// publish to the queue.Topic* topics; without a bus nothing is published.
func WithOperationsEventBus(bus *event.Bus) OperationsOption {
	return func(o *Operations) {
		o.bus = bus
	}
}

// WithOperationsClock replaces the wall clock. Test seam.
func WithOperationsClock(now func() time.Time) OperationsOption {
	return func(o *Operations) {
		if now != nil {
			o.nowFunc = now
		}
	}
}

// WithMaxPayloadBytes bounds the marshaled payload size accepted by AddJob.
// Zero disables the check.
func WithMaxPayloadBytes(n int) OperationsOption {
	return func(o *Operations) {
		if n >= 0 {
			o.maxPayload = n
		}
	}
}
