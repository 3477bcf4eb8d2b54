package queue

import (
	"time"

	"github.com/dmitrymomot/jobq/core/event"
)

// Topics published by the queue services. Subscribe with the typed event bus:
//
//	sub, _ := event.Subscribe(bus, queue.TopicJobCompleted)
//	for evt := range sub.Events() {
//	    log.Info("job done", "job_id", evt.JobID)
//	}
var (
	TopicJobEnqueued     = event.Topic[JobEvent]("queue:job:enqueued")
	TopicJobStarted      = event.Topic[JobEvent]("queue:job:started")
	TopicJobCompleted    = event.Topic[JobEvent]("queue:job:completed")
	TopicJobFailed       = event.Topic[JobEvent]("queue:job:failed")
	TopicJobRetried      = event.Topic[JobEvent]("queue:job:retried")
	TopicJobStalled      = event.Topic[JobEvent]("queue:job:stalled")
	TopicJobDeadLettered = event.Topic[JobEvent]("queue:job:deadlettered")
	TopicQueuePaused     = event.Topic[QueueEvent]("queue:paused")
	TopicQueueResumed    = event.Topic[QueueEvent]("queue:resumed")
	TopicQueueRemoved    = event.Topic[QueueEvent]("queue:removed")
	TopicAlertRaised     = event.Topic[AlertEvent]("queue:alert:raised")
	TopicAlertCleared    = event.Topic[AlertEvent]("queue:alert:cleared")
)

// JobEvent describes a single job lifecycle transition.
type JobEvent struct {
	QueueName   string    `json:"queue_name"`
	JobID       string    `json:"job_id"`
	Priority    Priority  `json:"priority"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// QueueEvent describes a queue-level state change.
type QueueEvent struct {
	QueueName string    `json:"queue_name"`
	At        time.Time `json:"at"`
}

// AlertEvent carries a monitoring alert transition.
type AlertEvent struct {
	QueueName string    `json:"queue_name"`
	Alert     Alert     `json:"alert"`
	At        time.Time `json:"at"`
}

func newJobEvent(job *Job, at time.Time) JobEvent {
	return JobEvent{
		QueueName:   job.QueueName,
		JobID:       job.ID,
		Priority:    job.Priority,
		Attempts:    job.AttemptsMade,
		MaxAttempts: job.MaxAttempts,
		Error:       job.LastError,
		At:          at,
	}
}
