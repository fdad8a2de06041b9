// Package health provides health check functionality for liveness and readiness probes.
package health

import (
	"context"
	"sync"
	"time"

	"writerctl/internal/monitor"
)

// ReadinessChecker verifies the file writer accepts commands.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// StatusSource exposes the aggregate job status.
type StatusSource interface {
	Status() monitor.Status
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker performs health checks on dependencies.
type Checker struct {
	writer   ReadinessChecker
	jobs     StatusSource
	timeout  time.Duration
	cacheTTL time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a new health checker. jobs may be nil.
func NewChecker(writer ReadinessChecker, jobs StatusSource) *Checker {
	return &Checker{
		writer:   writer,
		jobs:     jobs,
		timeout:  5 * time.Second,
		cacheTTL: time.Second,
	}
}

// Liveness returns true if the service is alive.
// It does not touch the file writer; failing it should restart the process.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness checks whether the file writer accepts commands and whether any
// tracked job is in trouble. A lost job degrades the service but does not take
// it out of rotation.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}

	// Cached so probes do not hammer the file writer
	if c.cachedReady != nil && time.Since(c.lastCheck) < c.cacheTTL {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	checks := make(map[string]CheckResult)
	overallStatus := StatusHealthy

	writerCheck := c.checkWriter(ctx)
	checks["filewriter"] = writerCheck
	if writerCheck.Status != StatusHealthy {
		overallStatus = StatusUnhealthy
	}

	if c.jobs != nil {
		jobsCheck := c.checkJobs()
		checks["jobs"] = jobsCheck
		if jobsCheck.Status != StatusHealthy && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	response := &Response{
		Status: overallStatus,
		Checks: checks,
	}

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

func (c *Checker) checkWriter(ctx context.Context) CheckResult {
	if c.writer == nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "file writer not configured",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.writer.Ready(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: err.Error(),
		}
	}

	return CheckResult{
		Status: StatusHealthy,
	}
}

func (c *Checker) checkJobs() CheckResult {
	st := c.jobs.Status()
	if st.Level == monitor.LevelError {
		return CheckResult{Status: StatusDegraded, Message: st.Message}
	}
	return CheckResult{Status: StatusHealthy, Message: st.Message}
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// Serving reports whether the instance should keep receiving traffic.
func (r *Response) Serving() bool {
	return r.Status != StatusUnhealthy
}

// SetShuttingDown marks the service as shutting down.
// Readiness then fails so load balancers stop sending new traffic.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil
}
