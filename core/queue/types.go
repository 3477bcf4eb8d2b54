package queue

import (
	"time"
)

// Priority controls scheduling precedence between jobs in the same queue.
// Higher tiers strictly preempt lower ones; within a tier jobs are FIFO
// by enqueue time. The zero value is not a valid tier, which lets configs
// distinguish "unset" from an explicit choice.
type Priority int8

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// Valid checks if the priority is one of the four defined tiers.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// String returns the lowercase tier name, or "unknown" for out-of-range values.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority converts a tier name into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return 0, ErrInvalidPriority
	}
}

// JobStatus tracks the lifecycle state of a job through the queue system.
type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusDelayed   JobStatus = "delayed"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job represents a unit of asynchronous work owned by a single queue.
//
// A job lives in exactly one of the waiting/delayed/active/completed/failed
// sets at any moment; Status mirrors that membership. AttemptsMade never
// exceeds MaxAttempts. Result is set only for completed jobs, LastError only
// for failed ones (cleared when the job is requeued for a retry).
type Job struct {
	ID           string     `json:"id"`
	QueueName    string     `json:"queue_name"`
	Payload      []byte     `json:"payload,omitempty"`
	Priority     Priority   `json:"priority"`
	Status       JobStatus  `json:"status"`
	AttemptsMade int        `json:"attempts_made"`
	MaxAttempts  int        `json:"max_attempts"`
	StalledCount int        `json:"stalled_count"`
	CreatedAt    time.Time  `json:"created_at"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	AcquiredAt   *time.Time `json:"acquired_at,omitempty"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	Result       []byte     `json:"result,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// Terminal reports whether the job reached a state it cannot leave on its
// own: completed, or failed with no attempts remaining.
func (j *Job) Terminal() bool {
	if j.Status == JobStatusCompleted {
		return true
	}
	return j.Status == JobStatusFailed && j.AttemptsMade >= j.MaxAttempts
}

// PriorityDistribution counts live jobs per priority tier. All four tiers are
// always present so consumers never have to guard against missing keys.
type PriorityDistribution struct {
	Low      int64 `json:"low"`
	Normal   int64 `json:"normal"`
	High     int64 `json:"high"`
	Critical int64 `json:"critical"`
}

// Total returns the sum across all four tiers.
func (d PriorityDistribution) Total() int64 {
	return d.Low + d.Normal + d.High + d.Critical
}

// QueueStats is a derived, point-in-time view of a queue. Waiting includes
// jobs parked in the delayed set so that Waiting+Active+Completed+Failed
// always equals Total; Delayed reports the delayed subset separately.
type QueueStats struct {
	QueueName     string               `json:"queue_name"`
	Total         int64                `json:"total"`
	Waiting       int64                `json:"waiting"`
	Delayed       int64                `json:"delayed"`
	Active        int64                `json:"active"`
	Completed     int64                `json:"completed"`
	Failed        int64                `json:"failed"`
	Throughput    float64              `json:"throughput"`
	AvgProcessing time.Duration        `json:"avg_processing_time"`
	ErrorRate     float64              `json:"error_rate"`
	Priorities    PriorityDistribution `json:"priorities"`
}

// ReclaimReport summarizes one stalled-job sweep over a queue's active set.
type ReclaimReport struct {
	QueueName string   `json:"queue_name"`
	Requeued  []string `json:"requeued,omitempty"`
	Failed    []string `json:"failed,omitempty"`
}
