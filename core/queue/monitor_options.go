package queue

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/jobq/core/event"
)

// MonitorOption configures a Monitor instance.
type MonitorOption func(*Monitor)

// WithMonitorLogger sets the logger for the monitoring service.
// Logging is disabled by default.
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMonitorEventBus attaches a typed event bus for alert notifications.
// Without a bus alert transitions are only logged.
func WithMonitorEventBus(bus *event.Bus) MonitorOption {
	return func(m *Monitor) {
		m.bus = bus
	}
}

// WithMonitorClock replaces the wall clock. Test seam.
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		if now != nil {
			m.nowFunc = now
		}
	}
}

// WithMonitorInterval sets the default collection interval for new
// collectors.
func WithMonitorInterval(interval time.Duration) MonitorOption {
	return func(m *Monitor) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithHistoryLimit bounds the snapshots retained per queue. When the limit
// is reached the oldest snapshots are evicted first.
func WithHistoryLimit(limit int) MonitorOption {
	return func(m *Monitor) {
		if limit > 0 {
			m.historyLimit = limit
		}
	}
}

// WithAlertThresholds sets the default alert ceilings for new collectors.
func WithAlertThresholds(thresholds AlertThresholds) MonitorOption {
	return func(m *Monitor) {
		m.thresholds = thresholds
	}
}

// CollectorOption configures a single queue's collector.
type CollectorOption func(*collector)

// WithCollectorInterval overrides the collection interval for one queue.
func WithCollectorInterval(interval time.Duration) CollectorOption {
	return func(c *collector) {
		if interval > 0 {
			c.interval = interval
		}
	}
}

// WithCollectorThresholds overrides the alert ceilings for one queue.
func WithCollectorThresholds(thresholds AlertThresholds) CollectorOption {
	return func(c *collector) {
		c.thresholds = thresholds
	}
}
