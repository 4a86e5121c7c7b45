// Package monitoring generalizes the teacher's pkg/monitoring package:
// a HealthChecker aggregating named checks, and a MetricsCollector wrapping
// Prometheus. Nexus-specific checks (tracker ceiling, cache directory,
// source reachability) are added by cmd/nexus at wiring time.
package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Status values for a health check result.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckResult represents the result of an individual health check.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthStatus represents the overall health status.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// HealthCheck is a function that performs a health check.
type HealthCheck func() CheckResult

// HealthChecker manages and executes health checks.
type HealthChecker struct {
	service string
	version string
	checks  map[string]HealthCheck
}

// NewHealthChecker creates a new health checker instance.
func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		checks:  make(map[string]HealthCheck),
	}
}

// AddCheck registers a health check under name.
func (hc *HealthChecker) AddCheck(name string, check HealthCheck) {
	hc.checks[name] = check
}

// CheckHealth runs all registered checks and aggregates the overall status.
func (hc *HealthChecker) CheckHealth() HealthStatus {
	status := HealthStatus{
		Service:   hc.service,
		Version:   hc.version,
		Timestamp: time.Now().Unix(),
		Checks:    make(map[string]CheckResult),
	}

	anyUnhealthy, anyDegraded := false, false
	for name, check := range hc.checks {
		result := check()
		status.Checks[name] = result
		switch result.Status {
		case StatusDegraded:
			anyDegraded = true
		case StatusHealthy:
		default:
			anyUnhealthy = true
		}
	}

	switch {
	case anyUnhealthy:
		status.Status = StatusUnhealthy
	case anyDegraded:
		status.Status = StatusDegraded
	default:
		status.Status = StatusHealthy
	}
	return status
}

// Handler returns a gin handler for the health check endpoint.
func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := hc.CheckHealth()
		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, health)
	}
}

// TrackerHealthCheck reports unhealthy once the tracker is at its ceiling,
// degraded from 90% of it, and healthy otherwise. ceiling and inUse are
// bytes.
func TrackerHealthCheck(inUse func() int64, ceiling int64) HealthCheck {
	return func() CheckResult {
		used := inUse()
		ratio := float64(used) / float64(ceiling)
		if ratio >= 1.0 {
			return CheckResult{Status: StatusUnhealthy, Message: fmt.Sprintf("tracker saturated: %d/%d bytes", used, ceiling)}
		}
		if ratio >= 0.9 {
			return CheckResult{Status: StatusDegraded, Message: fmt.Sprintf("tracker near ceiling: %d/%d bytes", used, ceiling)}
		}
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d/%d bytes in use", used, ceiling)}
	}
}

// WritableDirHealthCheck checks that a directory exists and accepts a
// throwaway probe file, used for the cache directory.
func WritableDirHealthCheck(dir string) HealthCheck {
	return func() CheckResult {
		start := time.Now()
		probe := dir + "/.nexus-health-probe"
		if err := writeAndRemove(probe); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: err.Error(), Latency: time.Since(start).String()}
		}
		return CheckResult{Status: StatusHealthy, Message: "cache directory writable", Latency: time.Since(start).String()}
	}
}

// SourceReachabilityCheck wraps a caller-supplied ping (cmd/nexus passes the
// pipeline's ListRegistrations call) with a 5s deadline, turning a
// core-internal contract call into an operational health signal.
func SourceReachabilityCheck(name string, ping func(ctx context.Context) error) HealthCheck {
	return func() CheckResult {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ping(ctx); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: fmt.Sprintf("%s unreachable: %v", name, err), Latency: time.Since(start).String()}
		}
		return CheckResult{Status: StatusHealthy, Message: name + " reachable", Latency: time.Since(start).String()}
	}
}
