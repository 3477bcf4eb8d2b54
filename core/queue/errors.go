package queue

import "errors"

var (
	// ErrStoreNil is returned when a component is constructed without a store.
	ErrStoreNil = errors.New("store is nil")

	// ErrClientNil is returned when a redis-backed store is constructed without a client.
	ErrClientNil = errors.New("redis client is nil")

	// ErrConfigSourceNil is returned when a component is constructed without a queue config source.
	ErrConfigSourceNil = errors.New("config source is nil")

	// ErrOperationsNil is returned when a component is constructed without the operations service.
	ErrOperationsNil = errors.New("operations service is nil")

	// ErrStatisticsNil is returned when a component is constructed without the statistics service.
	ErrStatisticsNil = errors.New("statistics service is nil")

	// ErrHealthCheckerNil is returned when a component is constructed without the health checker.
	ErrHealthCheckerNil = errors.New("health checker is nil")

	// ErrQueueNameEmpty is returned when an operation receives an empty queue name.
	ErrQueueNameEmpty = errors.New("queue name is empty")

	// ErrQueueNotFound is returned by mutating operations targeting an unregistered queue.
	ErrQueueNotFound = errors.New("queue not found")

	// ErrJobNotFound is returned by mutating operations targeting a job id the store does not hold.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when creating a job whose id is already present in the queue.
	ErrJobExists = errors.New("job already exists")

	// ErrJobNotActive is returned when releasing a job that is not currently active.
	ErrJobNotActive = errors.New("job is not active")

	// ErrJobNotFailed is returned when retrying a job that is not currently failed.
	ErrJobNotFailed = errors.New("job is not failed")

	// ErrNoJob signals an empty or fully delayed queue; callers translate it into a nil result.
	ErrNoJob = errors.New("no job available")

	// ErrCorruptRecord is returned when a stored job record cannot be decoded.
	// Callers treat it like not-found after logging a warning.
	ErrCorruptRecord = errors.New("corrupt job record")

	// ErrInvalidPriority is returned for priority values outside the four defined tiers.
	ErrInvalidPriority = errors.New("invalid priority")

	// ErrInvalidConfig is returned when a queue configuration fails validation.
	ErrInvalidConfig = errors.New("invalid queue config")

	// ErrPayloadNil is returned when enqueueing a job without a payload.
	ErrPayloadNil = errors.New("payload is nil")

	// ErrPayloadTooLarge is returned when a job payload exceeds the configured ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrAlreadyMonitoring is returned when starting a collector for a queue that already has one.
	ErrAlreadyMonitoring = errors.New("queue is already being monitored")

	// ErrManagerClosed is returned by operations invoked after the manager has been closed.
	ErrManagerClosed = errors.New("manager is closed")

	// ErrNoHandlers is returned when starting a worker with no registered handlers.
	ErrNoHandlers = errors.New("no handlers registered")

	// ErrWorkerNotRunning is returned by the worker healthcheck when the worker is stopped.
	ErrWorkerNotRunning = errors.New("worker is not running")

	// ErrWorkerOverloaded is returned by the worker healthcheck when every slot is busy.
	ErrWorkerOverloaded = errors.New("worker is overloaded")

	// ErrScheduleNil is returned when registering a recurring job without a schedule.
	ErrScheduleNil = errors.New("schedule is nil")

	// ErrRecurringNameEmpty is returned when registering a recurring job without a name.
	ErrRecurringNameEmpty = errors.New("recurring job name is empty")

	// ErrRecurringJobExists is returned when registering a recurring job under a name already taken.
	ErrRecurringJobExists = errors.New("recurring job already registered")

	// ErrSchedulerNotRunning is returned by the scheduler healthcheck when the scheduler is stopped.
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrNoRecurringJobs is returned when starting a scheduler with no recurring jobs registered.
	ErrNoRecurringJobs = errors.New("no recurring jobs registered")
)
