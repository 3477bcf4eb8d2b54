package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// Handler processes jobs acquired from a single queue. A worker routes
	// every job to the handler registered for the job's queue.
	Handler interface {
		// Queue returns the name of the queue this handler consumes.
		Queue() string
		// Handle processes one job. A nil return completes the job; an
		// error fails it and consumes a retry attempt.
		Handle(ctx context.Context, job *Job) error
	}

	// HandlerFunc is a type-safe handler for queues whose payloads share a
	// single JSON shape. The generic type T is the payload structure.
	HandlerFunc[T any] func(ctx context.Context, payload T) error
)

// NewHandler creates a type-safe handler bound to a queue. The job payload is
// unmarshaled into T before the function runs; a payload that does not decode
// fails the job without invoking the function.
func NewHandler[T any](queueName string, fn HandlerFunc[T]) Handler {
	return &typedHandler[T]{
		queueName: queueName,
		handler:   fn,
	}
}

// NewJobHandler creates a handler that receives the raw job, for consumers
// that need metadata such as attempts, priority, or the job id alongside the
// payload.
func NewJobHandler(queueName string, fn func(ctx context.Context, job *Job) error) Handler {
	return &rawHandler{
		queueName: queueName,
		handler:   fn,
	}
}

type typedHandler[T any] struct {
	queueName string
	handler   HandlerFunc[T]
}

func (h *typedHandler[T]) Queue() string {
	return h.queueName
}

func (h *typedHandler[T]) Handle(ctx context.Context, job *Job) error {
	var payload T
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload into %T: %w", payload, err)
	}
	return h.handler(ctx, payload)
}

type rawHandler struct {
	queueName string
	handler   func(ctx context.Context, job *Job) error
}

func (h *rawHandler) Queue() string {
	return h.queueName
}

func (h *rawHandler) Handle(ctx context.Context, job *Job) error {
	return h.handler(ctx, job)
}
