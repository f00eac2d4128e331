package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HealthStatus represents the health status
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// CheckFunc reports a component's health; a nil error is healthy
type CheckFunc func(ctx context.Context) error

// HealthResult represents the result of a health check
type HealthResult struct {
	Status   HealthStatus  `json:"status"`
	Message  string        `json:"message,omitempty"`
	Critical bool          `json:"critical"`
	Duration time.Duration `json:"duration"`
}

// SystemStatus represents overall system health
type SystemStatus struct {
	OverallStatus  HealthStatus            `json:"overall_status"`
	CheckResults   map[string]HealthResult `json:"check_results"`
	CriticalIssues []string                `json:"critical_issues"`
	CheckedAt      time.Time               `json:"checked_at"`
	Uptime         time.Duration           `json:"uptime"`
}

type registeredCheck struct {
	fn       CheckFunc
	critical bool
}

// HealthMonitor runs registered checks on demand. Storage backends are
// registered through their Ping method.
type HealthMonitor struct {
	logger    *logrus.Logger
	timeout   time.Duration
	startTime time.Time
	mu        sync.RWMutex
	checks    map[string]registeredCheck
}

// NewHealthMonitor creates a new health monitor. Each check gets timeout,
// 5s when zero.
func NewHealthMonitor(timeout time.Duration, logger *logrus.Logger) *HealthMonitor {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &HealthMonitor{
		logger:    logger,
		timeout:   timeout,
		startTime: time.Now(),
		checks:    make(map[string]registeredCheck),
	}
}

// RegisterCheck adds or replaces a named check. A failing critical check
// makes the system unhealthy; a failing optional one only degrades it.
func (hm *HealthMonitor) RegisterCheck(name string, fn CheckFunc, critical bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checks[name] = registeredCheck{fn: fn, critical: critical}
	hm.logger.WithField("check", name).Debug("Registered health check")
}

// Check runs every registered check and aggregates the outcome
func (hm *HealthMonitor) Check(ctx context.Context) *SystemStatus {
	hm.mu.RLock()
	checks := make(map[string]registeredCheck, len(hm.checks))
	for name, c := range hm.checks {
		checks[name] = c
	}
	hm.mu.RUnlock()

	status := &SystemStatus{
		OverallStatus:  StatusHealthy,
		CheckResults:   make(map[string]HealthResult, len(checks)),
		CriticalIssues: make([]string, 0),
		CheckedAt:      time.Now().UTC(),
		Uptime:         time.Since(hm.startTime),
	}

	for name, c := range checks {
		result := hm.run(ctx, name, c)
		status.CheckResults[name] = result
		if result.Status == StatusHealthy {
			continue
		}
		if c.critical {
			status.OverallStatus = StatusUnhealthy
			status.CriticalIssues = append(status.CriticalIssues, name)
		} else if status.OverallStatus == StatusHealthy {
			status.OverallStatus = StatusDegraded
		}
	}
	sort.Strings(status.CriticalIssues)

	return status
}

func (hm *HealthMonitor) run(ctx context.Context, name string, c registeredCheck) HealthResult {
	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	start := time.Now()
	err := c.fn(ctx)
	result := HealthResult{
		Status:   StatusHealthy,
		Critical: c.critical,
		Duration: time.Since(start),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
		hm.logger.WithFields(logrus.Fields{
			"check":    name,
			"critical": c.critical,
			"error":    err.Error(),
		}).Warn("Health check failed")
	}
	return result
}
