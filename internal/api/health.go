// health.go - Health monitoring for the pool service
package api

import (
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a specific component
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth represents the overall service health
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        time.Duration     `json:"uptime"`
	Version       string            `json:"version"`
}

// Check probes one component. A nil error with a non-empty status overrides Healthy.
type Check func() (HealthStatus, error)

// HealthChecker runs registered component checks
type HealthChecker struct {
	mu        sync.Mutex
	names     []string
	checks    map[string]Check
	startTime time.Time
	version   string
}

func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		checks:    make(map[string]Check),
		startTime: time.Now(),
		version:   version,
	}
}

// Register adds or replaces the check for a component
func (hc *HealthChecker) Register(name string, check Check) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if _, ok := hc.checks[name]; !ok {
		hc.names = append(hc.names, name)
	}
	hc.checks[name] = check
}

// CheckHealth runs every check in registration order
func (hc *HealthChecker) CheckHealth() *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	overall := Healthy
	components := make([]ComponentHealth, 0, len(hc.names))
	for _, name := range hc.names {
		start := time.Now()
		status, err := hc.checks[name]()
		c := ComponentHealth{Name: name, LastCheck: time.Now(), Latency: time.Since(start)}
		switch {
		case err != nil:
			c.Status, c.Message = Unhealthy, err.Error()
		case status == "" || status == Healthy:
			c.Status, c.Message = Healthy, "OK"
		default:
			c.Status, c.Message = status, string(status)
		}

		if c.Status == Unhealthy {
			overall = Unhealthy
		} else if c.Status == Degraded && overall == Healthy {
			overall = Degraded
		}
		components = append(components, c)
	}

	return &SystemHealth{
		OverallStatus: overall,
		Timestamp:     time.Now(),
		Components:    components,
		Uptime:        time.Since(hc.startTime),
		Version:       hc.version,
	}
}
