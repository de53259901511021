package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/artline/internal/infra/kie"
)

// Checker is a dependency that can be pinged.
type Checker interface {
	Health(ctx context.Context) error
}

// APIStats exposes call statistics of the image generation API client.
type APIStats interface {
	Health() kie.HealthStatus
}

// Thresholds for the image API. Rates only count once enough calls were made.
const (
	minRequestsForRate   = 10
	degradedErrorRate    = 0.1
	criticalErrorRate    = 0.5
	criticalConsecutive  = 5
	defaultCheckInterval = 10 * time.Second
	checkTimeout         = 3 * time.Second
)

type namedCheck struct {
	name     string
	checker  Checker
	critical bool
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithCheck adds a pinged dependency. A failing critical dependency makes the
// service critical, any other failure only degrades it.
func WithCheck(name string, c Checker, critical bool) MonitorOption {
	return func(m *Monitor) {
		if c != nil {
			m.checks = append(m.checks, namedCheck{name: name, checker: c, critical: critical})
		}
	}
}

// WithInterval sets how long a report is reused before dependencies are checked again.
func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.interval = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// Monitor aggregates health status from the service dependencies.
type Monitor struct {
	api        APIStats
	checks     []namedCheck
	interval   time.Duration
	now        func() time.Time
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. api may be nil when the image API is
// not configured.
func NewMonitor(api APIStats, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		api:      api,
		interval: defaultCheckInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckHealth checks every dependency, reusing the previous report while it is fresh.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.lastReport != nil && now.Sub(m.lastCheck) < m.interval {
		return *m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth, len(m.checks)+1),
		CheckedAt:    now,
	}

	if m.api != nil {
		report.Components["kie"] = evaluateAPI(m.api.Health())
	}

	for _, c := range m.checks {
		h := ComponentHealth{Name: c.name, Status: StatusHealthy}
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		if err := c.checker.Health(checkCtx); err != nil {
			h.Error = err.Error()
			h.Status = StatusDegraded
			if c.critical {
				h.Status = StatusCritical
			}
		}
		cancel()
		report.Components[c.name] = h
	}

	for _, h := range report.Components {
		if h.Status.rank() > report.SystemStatus.rank() {
			report.SystemStatus = h.Status
		}
	}

	m.lastCheck = now
	m.lastReport = &report
	return report
}

func evaluateAPI(s kie.HealthStatus) ComponentHealth {
	h := ComponentHealth{
		Name:             "kie",
		Status:           StatusHealthy,
		ErrorRate:        s.ErrorRate,
		ConsecutiveFails: s.ConsecutiveFails,
		AvgLatency:       s.AvgLatency,
	}

	rated := s.RequestCount >= minRequestsForRate
	switch {
	case s.ConsecutiveFails >= criticalConsecutive, rated && s.ErrorRate > criticalErrorRate:
		h.Status = StatusCritical
	case s.ConsecutiveFails > 0, rated && s.ErrorRate > degradedErrorRate:
		h.Status = StatusDegraded
	}
	return h
}
