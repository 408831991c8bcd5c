package health

import (
	"log/slog"
	"sync"
	"time"
)

// Monitor holds the latest status of each gateway component and logs every
// change of state. A component's state is only ever replaced, never merged.
type Monitor struct {
	mu      sync.RWMutex
	entries map[string]entry
	logger  *slog.Logger
	now     func() time.Time
}

type entry struct {
	status Status
	since  time.Time
}

// NewMonitor creates an empty monitor. A nil logger uses slog.Default.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		entries: make(map[string]entry),
		logger:  logger.With("component", "health"),
		now:     time.Now,
	}
}

// Report records status for the named component and reports whether the
// component's state changed. The name always wins over status.Component.
func (m *Monitor) Report(name string, status Status) bool {
	now := m.now()
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = now
	}

	m.mu.Lock()
	prev, known := m.entries[name]
	changed := !known || prev.status.Status != status.Status
	since := prev.since
	if changed {
		since = now
	}
	m.entries[name] = entry{status: status, since: since}
	m.mu.Unlock()

	if changed {
		m.logChange(name, prev.status.Status, status)
	}
	return changed
}

// ReportErr marks the component degraded when err is non-nil and healthy
// with okMessage otherwise. Heartbeats and reconnect callbacks use it.
func (m *Monitor) ReportErr(name string, err error, okMessage string) bool {
	if err != nil {
		return m.Report(name, DegradedFromError(name, err))
	}
	return m.Report(name, NewHealthy(name, okMessage))
}

// MarkHealthy records the component as healthy
func (m *Monitor) MarkHealthy(name, message string) bool {
	return m.Report(name, NewHealthy(name, message))
}

// MarkDegraded records the component as degraded
func (m *Monitor) MarkDegraded(name, message string) bool {
	return m.Report(name, NewDegraded(name, message))
}

// MarkUnhealthy records the component as unhealthy
func (m *Monitor) MarkUnhealthy(name, message string) bool {
	return m.Report(name, NewUnhealthy(name, message))
}

// Get returns the last status reported for name
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[name]
	return e.status, ok
}

// Since returns when name entered its current state. Reports that keep the
// state do not move it.
func (m *Monitor) Since(name string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[name]
	return e.since, ok
}

// AggregateHealth folds every component into one status for systemName.
// An empty monitor is healthy.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subStatuses := make([]Status, 0, len(m.entries))
	for _, e := range m.entries {
		subStatuses = append(subStatuses, e.status)
	}
	m.mu.RUnlock()

	return Aggregate(systemName, subStatuses)
}

func (m *Monitor) logChange(name, from string, to Status) {
	if from == "" {
		from = "unknown"
	}
	attrs := []any{"name", name, "from", from, "to", to.Status, "message", to.Message}
	if to.IsHealthy() {
		m.logger.Info("Component state changed", attrs...)
		return
	}
	m.logger.Warn("Component state changed", attrs...)
}
