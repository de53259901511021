// Package health provides service health monitoring and the HTTP surface.
package health

import "time"

// SystemStatus represents the overall health state of the service or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// rank orders statuses so the worst one wins when aggregating.
func (s SystemStatus) rank() int {
	switch s {
	case StatusCritical:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// ComponentHealth contains health details for one dependency.
type ComponentHealth struct {
	Name             string        `json:"name"`
	Status           SystemStatus  `json:"status"`
	Error            string        `json:"error,omitempty"`
	ErrorRate        float64       `json:"error_rate,omitempty"`
	ConsecutiveFails int           `json:"consecutive_fails,omitempty"`
	AvgLatency       time.Duration `json:"avg_latency,omitempty"`
}

// HealthReport contains the full service health report.
type HealthReport struct {
	SystemStatus SystemStatus               `json:"system_status"`
	Components   map[string]ComponentHealth `json:"components"`
	CheckedAt    time.Time                  `json:"checked_at"`
}
