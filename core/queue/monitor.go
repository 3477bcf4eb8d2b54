package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/jobq/core/event"
)

// AlertType identifies the rule that raised an alert.
type AlertType string

const (
	AlertQueueSize      AlertType = "queue_size"
	AlertErrorRate      AlertType = "error_rate"
	AlertProcessingTime AlertType = "processing_time"
	AlertStalledJobs    AlertType = "stalled_jobs"
)

// AlertSeverity grades how urgent an alert is.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert describes a threshold breach observed during metric collection. An
// alert stays active, keeping its original TriggeredAt, until the condition
// subsides.
type Alert struct {
	QueueName   string        `json:"queue_name"`
	Type        AlertType     `json:"type"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	Value       float64       `json:"value"`
	Threshold   float64       `json:"threshold"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds holds the ceilings alert rules compare against. A breach
// raises a warning; exceeding a ceiling by CriticalMultiplier escalates it
// to critical.
type AlertThresholds struct {
	MaxQueueSize       int64         `env:"JOBQ_ALERT_MAX_QUEUE_SIZE" envDefault:"1000"`
	MaxErrorRate       float64       `env:"JOBQ_ALERT_MAX_ERROR_RATE" envDefault:"0.25"`
	MaxAvgProcessing   time.Duration `env:"JOBQ_ALERT_MAX_AVG_PROCESSING" envDefault:"30s"`
	CriticalMultiplier float64       `env:"JOBQ_ALERT_CRITICAL_MULTIPLIER" envDefault:"2.0"`
}

// DefaultAlertThresholds returns the ceilings used when none are configured.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		MaxQueueSize:       1000,
		MaxErrorRate:       0.25,
		MaxAvgProcessing:   30 * time.Second,
		CriticalMultiplier: 2.0,
	}
}

func (t AlertThresholds) severity(value, threshold float64) AlertSeverity {
	if threshold > 0 && t.CriticalMultiplier > 1 && value >= threshold*t.CriticalMultiplier {
		return SeverityCritical
	}
	return SeverityWarning
}

// Performance aggregates the processing measurements of one collection.
type Performance struct {
	Throughput    float64       `json:"throughput"`
	AvgProcessing time.Duration `json:"avg_processing"`
	P95Processing time.Duration `json:"p95_processing"`
	P99Processing time.Duration `json:"p99_processing"`
	MemoryRatio   float64       `json:"memory_ratio"`
}

// Trends holds deltas against the previous snapshot of the same queue.
// All zeros for the first snapshot.
type Trends struct {
	ThroughputDelta float64       `json:"throughput_delta"`
	ErrorRateDelta  float64       `json:"error_rate_delta"`
	BacklogDelta    int64         `json:"backlog_delta"`
	ProcessingDelta time.Duration `json:"processing_delta"`
}

// MonitoringSnapshot is one full observation of a queue: statistics, health,
// performance aggregates, trends, and the alerts active after evaluating the
// rules.
type MonitoringSnapshot struct {
	QueueName   string            `json:"queue_name"`
	TakenAt     time.Time         `json:"taken_at"`
	Stats       QueueStats        `json:"stats"`
	Health      HealthCheckResult `json:"health"`
	Performance Performance       `json:"performance"`
	Trends      Trends            `json:"trends"`
	Alerts      []Alert           `json:"alerts,omitempty"`
}

// MonitorStats provides observability metrics for the monitor itself.
type MonitorStats struct {
	Collectors     int   // Number of queues with a running collector
	SnapshotsTaken int64 // Total snapshots collected since creation
	ActiveAlerts   int   // Currently active alerts across all queues
}

// collector runs the periodic collection loop for one queue.
type collector struct {
	queueName  string
	interval   time.Duration
	thresholds AlertThresholds
	cancel     context.CancelFunc
	done       chan struct{}
}

// Monitor periodically collects statistics and health for queues, derives
// trends and alerts, retains bounded snapshot history, and drives the
// stalled-job recovery sweeps. Collectors are started per queue and run
// until stopped or the monitor's Run context ends.
type Monitor struct {
	ops     *Operations
	stats   *Statistics
	health  *HealthChecker
	configs ConfigSource
	bus     *event.Bus
	logger  *slog.Logger
	nowFunc func() time.Time

	interval     time.Duration
	historyLimit int
	thresholds   AlertThresholds

	mu         sync.Mutex
	collectors map[string]*collector
	history    map[string][]MonitoringSnapshot
	alerts     map[string]map[AlertType]Alert
	prev       map[string]*MonitoringSnapshot

	snapshotsTaken atomic.Int64
}

// NewMonitor creates the monitoring service on top of the lifecycle,
// statistics, and health services.
func NewMonitor(ops *Operations, stats *Statistics, health *HealthChecker, configs ConfigSource, opts ...MonitorOption) (*Monitor, error) {
	if ops == nil {
		return nil, ErrOperationsNil
	}
	if stats == nil {
		return nil, ErrStatisticsNil
	}
	if health == nil {
		return nil, ErrHealthCheckerNil
	}
	if configs == nil {
		return nil, ErrConfigSourceNil
	}

	defaults := DefaultConfig()
	m := &Monitor{
		ops:          ops,
		stats:        stats,
		health:       health,
		configs:      configs,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		nowFunc:      time.Now,
		interval:     defaults.MonitorInterval,
		historyLimit: defaults.HistoryLimit,
		thresholds:   DefaultAlertThresholds(),
		collectors:   make(map[string]*collector),
		history:      make(map[string][]MonitoringSnapshot),
		alerts:       make(map[string]map[AlertType]Alert),
		prev:         make(map[string]*MonitoringSnapshot),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// StartMonitoring begins periodic collection for the queue without blocking
// the caller. Returns ErrAlreadyMonitoring when a collector is already
// running for the queue and ErrQueueNotFound for unregistered names.
func (m *Monitor) StartMonitoring(queueName string, opts ...CollectorOption) error {
	cfg, ok := m.configs.Queue(queueName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrQueueNotFound, queueName)
	}

	c := &collector{
		queueName:  queueName,
		interval:   m.interval,
		thresholds: m.thresholds,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	m.mu.Lock()
	if _, exists := m.collectors[queueName]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAlreadyMonitoring, queueName)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	m.collectors[queueName] = c
	m.mu.Unlock()

	go m.runCollector(ctx, c, cfg)

	m.logger.InfoContext(ctx, "queue monitoring started",
		slog.String("queue", queueName),
		slog.Duration("interval", c.interval),
		slog.Duration("stalled_interval", cfg.StalledInterval))

	return nil
}

// StopMonitoring halts periodic collection for the queue and waits for its
// collector to exit. No-op when the queue is not being monitored.
func (m *Monitor) StopMonitoring(queueName string) {
	m.mu.Lock()
	c, ok := m.collectors[queueName]
	if ok {
		delete(m.collectors, queueName)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	c.cancel()
	<-c.done

	m.logger.Info("queue monitoring stopped", slog.String("queue", queueName))
}

// StopAll halts every running collector and waits for them to exit.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	stopped := make([]*collector, 0, len(m.collectors))
	for name, c := range m.collectors {
		stopped = append(stopped, c)
		delete(m.collectors, name)
	}
	m.mu.Unlock()

	for _, c := range stopped {
		c.cancel()
		<-c.done
	}

	if len(stopped) > 0 {
		m.logger.Info("all queue monitoring stopped", slog.Int("collectors", len(stopped)))
	}
}

// Monitored returns the names of queues with a running collector, sorted.
func (m *Monitor) Monitored() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.collectors))
	for name := range m.collectors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Run provides errgroup compatibility for coordinated lifecycle management.
// The returned function starts a collector for every registered queue not
// already monitored, blocks until the context is cancelled, then stops all
// collectors gracefully.
func (m *Monitor) Run(ctx context.Context) func() error {
	return func() error {
		for _, name := range m.configs.Queues() {
			if err := m.StartMonitoring(name); err != nil {
				if errors.Is(err, ErrAlreadyMonitoring) {
					continue
				}
				m.StopAll()
				return err
			}
		}

		m.logger.InfoContext(ctx, "monitor running",
			slog.Int("collectors", len(m.Monitored())))

		<-ctx.Done()
		m.StopAll()
		return nil
	}
}

// runCollector is the per-queue loop: an immediate collection, then periodic
// collections plus stalled-job sweeps on the queue's stalled interval.
func (m *Monitor) runCollector(ctx context.Context, c *collector, cfg QueueConfig) {
	defer close(c.done)

	collectTicker := time.NewTicker(c.interval)
	defer collectTicker.Stop()
	sweepTicker := time.NewTicker(cfg.StalledInterval)
	defer sweepTicker.Stop()

	m.collectOnce(ctx, c)

	for {
		select {
		case <-ctx.Done():
			return
		case <-collectTicker.C:
			m.collectOnce(ctx, c)
		case <-sweepTicker.C:
			m.sweepOnce(ctx, c.queueName)
		}
	}
}

func (m *Monitor) collectOnce(ctx context.Context, c *collector) {
	if _, err := m.collect(ctx, c.queueName, c.thresholds); err != nil {
		m.logger.ErrorContext(ctx, "metric collection failed",
			slog.String("queue", c.queueName),
			slog.String("error", err.Error()))
	}
}

func (m *Monitor) sweepOnce(ctx context.Context, queueName string) {
	report, err := m.ops.RecoverStalled(ctx, queueName)
	if err != nil {
		m.logger.ErrorContext(ctx, "stalled-job sweep failed",
			slog.String("queue", queueName),
			slog.String("error", err.Error()))
		return
	}
	if len(report.Requeued) > 0 || len(report.Failed) > 0 {
		m.logger.InfoContext(ctx, "stalled-job sweep finished",
			slog.String("queue", queueName),
			slog.Int("requeued", len(report.Requeued)),
			slog.Int("failed", len(report.Failed)))
	}
}

// Collect takes one snapshot of the queue on demand, recording it in the
// history and updating the active alerts. Uses the queue's collector
// thresholds when one is running, the monitor defaults otherwise.
func (m *Monitor) Collect(ctx context.Context, queueName string) (*MonitoringSnapshot, error) {
	m.mu.Lock()
	thresholds := m.thresholds
	if c, ok := m.collectors[queueName]; ok {
		thresholds = c.thresholds
	}
	m.mu.Unlock()

	return m.collect(ctx, queueName, thresholds)
}

func (m *Monitor) collect(ctx context.Context, queueName string, thr AlertThresholds) (*MonitoringSnapshot, error) {
	stats, err := m.stats.QueueStats(ctx, queueName)
	if err != nil {
		return nil, fmt.Errorf("failed to collect stats for queue %q: %w", queueName, err)
	}
	if stats == nil {
		return nil, fmt.Errorf("%w: %q", ErrQueueNotFound, queueName)
	}

	health := m.health.CheckQueue(ctx, queueName)

	summary, err := m.stats.ProcessingSummary(ctx, queueName)
	if err != nil {
		return nil, fmt.Errorf("failed to collect processing summary for queue %q: %w", queueName, err)
	}
	if summary == nil {
		summary = &ProcessingSummary{}
	}

	now := m.nowFunc().UTC()
	snap := &MonitoringSnapshot{
		QueueName: queueName,
		TakenAt:   now,
		Stats:     *stats,
		Health:    *health,
		Performance: Performance{
			Throughput:    stats.Throughput,
			AvgProcessing: summary.Avg,
			P95Processing: summary.P95,
			P99Processing: summary.P99,
			MemoryRatio:   health.Metrics.MemoryRatio,
		},
	}

	m.mu.Lock()
	if prev := m.prev[queueName]; prev != nil {
		snap.Trends = Trends{
			ThroughputDelta: snap.Stats.Throughput - prev.Stats.Throughput,
			ErrorRateDelta:  snap.Stats.ErrorRate - prev.Stats.ErrorRate,
			BacklogDelta:    snap.Stats.Waiting - prev.Stats.Waiting,
			ProcessingDelta: snap.Performance.AvgProcessing - prev.Performance.AvgProcessing,
		}
	}
	m.mu.Unlock()

	snap.Alerts = m.evaluateAlerts(ctx, queueName, stats, health, thr, now)

	m.mu.Lock()
	hist := append(m.history[queueName], *snap)
	if over := len(hist) - m.historyLimit; over > 0 {
		hist = slices.Clone(hist[over:])
	}
	m.history[queueName] = hist
	m.prev[queueName] = snap
	m.mu.Unlock()

	m.snapshotsTaken.Add(1)

	m.logger.DebugContext(ctx, "metrics collected",
		slog.String("queue", queueName),
		slog.Int64("backlog", snap.Stats.Waiting),
		slog.Int("alerts", len(snap.Alerts)))

	return snap, nil
}

// evaluateAlerts applies the alert rules to the fresh measurements,
// reconciles them with the active set, and publishes raise/clear events.
// Returns the active alerts, ordered by type.
func (m *Monitor) evaluateAlerts(ctx context.Context, queueName string, stats *QueueStats, health *HealthCheckResult, thr AlertThresholds, now time.Time) []Alert {
	desired := make(map[AlertType]Alert, 4)

	if thr.MaxQueueSize > 0 && stats.Waiting > thr.MaxQueueSize {
		desired[AlertQueueSize] = Alert{
			QueueName:   queueName,
			Type:        AlertQueueSize,
			Severity:    thr.severity(float64(stats.Waiting), float64(thr.MaxQueueSize)),
			Message:     "queue size too large",
			Value:       float64(stats.Waiting),
			Threshold:   float64(thr.MaxQueueSize),
			TriggeredAt: now,
		}
	}
	if thr.MaxErrorRate > 0 && stats.ErrorRate > thr.MaxErrorRate {
		desired[AlertErrorRate] = Alert{
			QueueName:   queueName,
			Type:        AlertErrorRate,
			Severity:    thr.severity(stats.ErrorRate, thr.MaxErrorRate),
			Message:     "error rate too high",
			Value:       stats.ErrorRate,
			Threshold:   thr.MaxErrorRate,
			TriggeredAt: now,
		}
	}
	if thr.MaxAvgProcessing > 0 && stats.AvgProcessing > thr.MaxAvgProcessing {
		desired[AlertProcessingTime] = Alert{
			QueueName:   queueName,
			Type:        AlertProcessingTime,
			Severity:    thr.severity(stats.AvgProcessing.Seconds(), thr.MaxAvgProcessing.Seconds()),
			Message:     "average processing time too high",
			Value:       stats.AvgProcessing.Seconds(),
			Threshold:   thr.MaxAvgProcessing.Seconds(),
			TriggeredAt: now,
		}
	}
	if health.Metrics.StalledActive > 0 {
		desired[AlertStalledJobs] = Alert{
			QueueName:   queueName,
			Type:        AlertStalledJobs,
			Severity:    SeverityWarning,
			Message:     "stalled jobs detected",
			Value:       float64(health.Metrics.StalledActive),
			TriggeredAt: now,
		}
	}

	var raised, cleared []Alert

	m.mu.Lock()
	current := m.alerts[queueName]
	if current == nil {
		current = make(map[AlertType]Alert)
		m.alerts[queueName] = current
	}
	for typ, alert := range desired {
		if prior, ok := current[typ]; ok {
			alert.TriggeredAt = prior.TriggeredAt
			current[typ] = alert
			continue
		}
		current[typ] = alert
		raised = append(raised, alert)
	}
	for typ, alert := range current {
		if _, ok := desired[typ]; !ok {
			delete(current, typ)
			cleared = append(cleared, alert)
		}
	}
	active := make([]Alert, 0, len(current))
	for _, alert := range current {
		active = append(active, alert)
	}
	m.mu.Unlock()

	slices.SortFunc(active, func(a, b Alert) int {
		if a.Type < b.Type {
			return -1
		}
		if a.Type > b.Type {
			return 1
		}
		return 0
	})

	for _, alert := range raised {
		m.logger.WarnContext(ctx, "alert raised",
			slog.String("queue", queueName),
			slog.String("type", string(alert.Type)),
			slog.String("severity", string(alert.Severity)),
			slog.String("message", alert.Message))
		m.publishAlert(ctx, TopicAlertRaised, alert, now)
	}
	for _, alert := range cleared {
		m.logger.InfoContext(ctx, "alert cleared",
			slog.String("queue", queueName),
			slog.String("type", string(alert.Type)))
		m.publishAlert(ctx, TopicAlertCleared, alert, now)
	}

	return active
}

func (m *Monitor) publishAlert(ctx context.Context, topic event.Topic[AlertEvent], alert Alert, now time.Time) {
	if m.bus == nil {
		return
	}
	evt := AlertEvent{QueueName: alert.QueueName, Alert: alert, At: now}
	if err := event.Publish(ctx, m.bus, topic, evt); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish alert event",
			slog.String("topic", topic.String()),
			slog.String("error", err.Error()))
	}
}

// CurrentAlerts returns the active alerts for the queue, ordered by type.
func (m *Monitor) CurrentAlerts(queueName string) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.alerts[queueName]
	if len(current) == 0 {
		return nil
	}
	active := make([]Alert, 0, len(current))
	for _, alert := range current {
		active = append(active, alert)
	}
	slices.SortFunc(active, func(a, b Alert) int {
		if a.Type < b.Type {
			return -1
		}
		if a.Type > b.Type {
			return 1
		}
		return 0
	})
	return active
}

// AllAlerts returns the active alerts of every queue, keyed by queue name.
func (m *Monitor) AllAlerts() map[string][]Alert {
	m.mu.Lock()
	names := make([]string, 0, len(m.alerts))
	for name, current := range m.alerts {
		if len(current) > 0 {
			names = append(names, name)
		}
	}
	m.mu.Unlock()

	out := make(map[string][]Alert, len(names))
	for _, name := range names {
		out[name] = m.CurrentAlerts(name)
	}
	return out
}

// History returns the retained snapshots for the queue ordered by time,
// filtered to those taken at or after since when it is non-zero.
func (m *Monitor) History(queueName string, since time.Time) []MonitoringSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	hist := m.history[queueName]
	out := make([]MonitoringSnapshot, 0, len(hist))
	for _, snap := range hist {
		if !since.IsZero() && snap.TakenAt.Before(since) {
			continue
		}
		out = append(out, snap)
	}
	return out
}

// Stats returns current monitor statistics for observability.
func (m *Monitor) Stats() MonitorStats {
	m.mu.Lock()
	collectors := len(m.collectors)
	alerts := 0
	for _, current := range m.alerts {
		alerts += len(current)
	}
	m.mu.Unlock()

	return MonitorStats{
		Collectors:     collectors,
		SnapshotsTaken: m.snapshotsTaken.Load(),
		ActiveAlerts:   alerts,
	}
}
