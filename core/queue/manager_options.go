package queue

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/jobq/core/event"
)

// ManagerOption configures a Manager instance.
type ManagerOption func(*Manager) error

// WithManagerLogger sets the logger shared with all constructed services.
// Logging is disabled by default.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) error {
		if logger == nil {
			return nil // Just use the default logger
		}
		m.logger = logger
		return nil
	}
}

// WithManagerEventBus injects an existing event bus instead of letting the
// manager create its own. An injected bus is not closed by Manager.Close.
func WithManagerEventBus(bus *event.Bus) ManagerOption {
	return func(m *Manager) error {
		if bus == nil {
			return nil // Let the manager create its own bus
		}
		m.bus = bus
		m.ownsBus = false
		return nil
	}
}

// WithManagerConfig replaces the engine configuration driving queue defaults
// and service construction.
func WithManagerConfig(cfg Config) ManagerOption {
	return func(m *Manager) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		m.cfg = cfg
		return nil
	}
}

// WithManagerClock replaces the wall clock shared with all constructed
// services. Test seam.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) error {
		if now != nil {
			m.nowFunc = now
		}
		return nil
	}
}

// WithManagerHealthThresholds sets the ceilings used by the health checker.
func WithManagerHealthThresholds(thresholds HealthThresholds) ManagerOption {
	return func(m *Manager) error {
		m.healthThresholds = thresholds
		return nil
	}
}

// WithManagerAlertThresholds sets the default alert ceilings used by the
// monitor.
func WithManagerAlertThresholds(thresholds AlertThresholds) ManagerOption {
	return func(m *Manager) error {
		m.alertThresholds = thresholds
		return nil
	}
}

// WithOperationsOptions appends options applied to the operations service.
// These are applied after the manager's own wiring, so they can override it.
func WithOperationsOptions(opts ...OperationsOption) ManagerOption {
	return func(m *Manager) error {
		m.opsOpts = append(m.opsOpts, opts...)
		return nil
	}
}

// WithStatisticsOptions appends options applied to the statistics service.
// These are applied after the manager's own wiring, so they can override it.
func WithStatisticsOptions(opts ...StatisticsOption) ManagerOption {
	return func(m *Manager) error {
		m.statsOpts = append(m.statsOpts, opts...)
		return nil
	}
}

// WithHealthOptions appends options applied to the health checker.
// These are applied after the manager's own wiring, so they can override it.
func WithHealthOptions(opts ...HealthCheckerOption) ManagerOption {
	return func(m *Manager) error {
		m.healthOpts = append(m.healthOpts, opts...)
		return nil
	}
}

// WithMonitorOptions appends options applied to the monitor.
// These are applied after the manager's own wiring, so they can override it.
func WithMonitorOptions(opts ...MonitorOption) ManagerOption {
	return func(m *Manager) error {
		m.monitorOpts = append(m.monitorOpts, opts...)
		return nil
	}
}
