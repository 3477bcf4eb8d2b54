package queue

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dmitrymomot/jobq/core/event"
)

// Metrics contains all Prometheus metrics for the queue engine. Lifecycle
// counters are fed from the event bus via Attach; gauges reflect the most
// recent monitoring snapshot passed to Observe.
type Metrics struct {
	// Lifecycle counters
	JobsEnqueued     *prometheus.CounterVec
	JobsStarted      *prometheus.CounterVec
	JobsCompleted    *prometheus.CounterVec
	JobsFailed       *prometheus.CounterVec
	JobsRetried      *prometheus.CounterVec
	JobsStalled      *prometheus.CounterVec
	JobsDeadLettered *prometheus.CounterVec

	// Queue state gauges
	QueueDepth      *prometheus.GaugeVec
	QueueThroughput *prometheus.GaugeVec
	QueueErrorRate  *prometheus.GaugeVec
	ProcessingTime  *prometheus.GaugeVec
	MemoryRatio     *prometheus.GaugeVec
	ActiveAlerts    *prometheus.GaugeVec
	HealthStatus    *prometheus.GaugeVec

	mu       sync.Mutex
	detaches []func()
}

// MetricsOption configures a Metrics instance.
type MetricsOption func(*metricsOptions)

type metricsOptions struct {
	namespace  string
	registerer prometheus.Registerer
}

// WithMetricsNamespace sets the metric name prefix. Defaults to "jobq".
func WithMetricsNamespace(namespace string) MetricsOption {
	return func(o *metricsOptions) {
		if namespace != "" {
			o.namespace = namespace
		}
	}
}

// WithMetricsRegisterer registers the metrics with a custom registry instead
// of the default one.
func WithMetricsRegisterer(reg prometheus.Registerer) MetricsOption {
	return func(o *metricsOptions) {
		if reg != nil {
			o.registerer = reg
		}
	}
}

// NewMetrics creates and registers the queue engine metrics. Registration
// panics on duplicate metric names, so create at most one Metrics per
// registry and namespace.
func NewMetrics(opts ...MetricsOption) *Metrics {
	o := metricsOptions{
		namespace:  "jobq",
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&o)
	}

	factory := promauto.With(o.registerer)

	return &Metrics{
		JobsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "jobs_enqueued_total",
				Help:      "Total number of jobs added to the queue",
			},
			[]string{"queue", "priority"},
		),
		JobsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "jobs_started_total",
				Help:      "Total number of jobs handed to workers",
			},
			[]string{"queue"},
		),
		JobsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "jobs_completed_total",
				Help:      "Total number of jobs finished successfully",
			},
			[]string{"queue"},
		),
		JobsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "jobs_failed_total",
				Help:      "Total number of job failures, including retried attempts",
			},
			[]string{"queue"},
		),
		JobsRetried: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "jobs_retried_total",
				Help:      "Total number of failed jobs requeued for another attempt",
			},
			[]string{"queue"},
		),
		JobsStalled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "jobs_stalled_total",
				Help:      "Total number of jobs reclaimed from unresponsive workers",
			},
			[]string{"queue"},
		),
		JobsDeadLettered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "jobs_deadlettered_total",
				Help:      "Total number of exhausted jobs mirrored to a dead-letter queue",
			},
			[]string{"queue"},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: o.namespace,
				Name:      "queue_depth",
				Help:      "Jobs per queue and state at the last collection",
			},
			[]string{"queue", "state"},
		),
		QueueThroughput: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: o.namespace,
				Name:      "queue_throughput_jobs_per_second",
				Help:      "Completions per second over the trailing stats window",
			},
			[]string{"queue"},
		),
		QueueErrorRate: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: o.namespace,
				Name:      "queue_error_rate",
				Help:      "Failure ratio over the trailing stats window",
			},
			[]string{"queue"},
		),
		ProcessingTime: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: o.namespace,
				Name:      "queue_processing_seconds",
				Help:      "Processing time aggregates from recent completions",
			},
			[]string{"queue", "stat"},
		),
		MemoryRatio: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: o.namespace,
				Name:      "queue_memory_ratio",
				Help:      "Live payload footprint relative to the configured ceiling",
			},
			[]string{"queue"},
		),
		ActiveAlerts: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: o.namespace,
				Name:      "queue_active_alerts",
				Help:      "Active alerts per queue and alert type",
			},
			[]string{"queue", "type"},
		),
		HealthStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: o.namespace,
				Name:      "queue_health_status",
				Help:      "Queue health: 1 healthy, 0.5 degraded, 0 unhealthy",
			},
			[]string{"queue"},
		),
	}
}

// Observe updates the state gauges from a monitoring snapshot. Wire it to
// the monitor by observing snapshots from Collect or History.
func (m *Metrics) Observe(snap *MonitoringSnapshot) {
	if snap == nil {
		return
	}
	name := snap.QueueName

	m.QueueDepth.WithLabelValues(name, "waiting").Set(float64(snap.Stats.Waiting - snap.Stats.Delayed))
	m.QueueDepth.WithLabelValues(name, "delayed").Set(float64(snap.Stats.Delayed))
	m.QueueDepth.WithLabelValues(name, "active").Set(float64(snap.Stats.Active))
	m.QueueDepth.WithLabelValues(name, "completed").Set(float64(snap.Stats.Completed))
	m.QueueDepth.WithLabelValues(name, "failed").Set(float64(snap.Stats.Failed))

	m.QueueThroughput.WithLabelValues(name).Set(snap.Performance.Throughput)
	m.QueueErrorRate.WithLabelValues(name).Set(snap.Stats.ErrorRate)
	m.ProcessingTime.WithLabelValues(name, "avg").Set(snap.Performance.AvgProcessing.Seconds())
	m.ProcessingTime.WithLabelValues(name, "p95").Set(snap.Performance.P95Processing.Seconds())
	m.ProcessingTime.WithLabelValues(name, "p99").Set(snap.Performance.P99Processing.Seconds())
	m.MemoryRatio.WithLabelValues(name).Set(snap.Performance.MemoryRatio)

	for _, typ := range []AlertType{AlertQueueSize, AlertErrorRate, AlertProcessingTime, AlertStalledJobs} {
		m.ActiveAlerts.WithLabelValues(name, string(typ)).Set(0)
	}
	for _, alert := range snap.Alerts {
		m.ActiveAlerts.WithLabelValues(name, string(alert.Type)).Set(1)
	}

	switch snap.Health.Status {
	case HealthStatusHealthy:
		m.HealthStatus.WithLabelValues(name).Set(1)
	case HealthStatusDegraded:
		m.HealthStatus.WithLabelValues(name).Set(0.5)
	default:
		m.HealthStatus.WithLabelValues(name).Set(0)
	}
}

// Attach subscribes the lifecycle counters to the bus topics. Counting
// continues until Detach is called or the bus is closed.
func (m *Metrics) Attach(bus *event.Bus) error {
	if bus == nil {
		return event.ErrBusNil
	}

	count := func(topic event.Topic[JobEvent], counter *prometheus.CounterVec, withPriority bool) error {
		sub, err := event.Subscribe(bus, topic)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		go func() {
			for evt := range sub.Events() {
				if withPriority {
					counter.WithLabelValues(evt.QueueName, evt.Priority.String()).Inc()
				} else {
					counter.WithLabelValues(evt.QueueName).Inc()
				}
			}
		}()
		m.mu.Lock()
		m.detaches = append(m.detaches, sub.Unsubscribe)
		m.mu.Unlock()
		return nil
	}

	subs := []struct {
		topic        event.Topic[JobEvent]
		counter      *prometheus.CounterVec
		withPriority bool
	}{
		{TopicJobEnqueued, m.JobsEnqueued, true},
		{TopicJobStarted, m.JobsStarted, false},
		{TopicJobCompleted, m.JobsCompleted, false},
		{TopicJobFailed, m.JobsFailed, false},
		{TopicJobRetried, m.JobsRetried, false},
		{TopicJobStalled, m.JobsStalled, false},
		{TopicJobDeadLettered, m.JobsDeadLettered, false},
	}
	for _, s := range subs {
		if err := count(s.topic, s.counter, s.withPriority); err != nil {
			m.Detach()
			return err
		}
	}

	return nil
}

// Detach unsubscribes the lifecycle counters from the bus. Safe to call
// multiple times.
func (m *Metrics) Detach() {
	m.mu.Lock()
	detaches := m.detaches
	m.detaches = nil
	m.mu.Unlock()

	for _, detach := range detaches {
		detach()
	}
}
