package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 2 * time.Second

type dependencyCheck struct {
	name string
	ping func(ctx context.Context) error
}

type dependencyStatus struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type healthReport struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Uptime       string                      `json:"uptime"`
	Dependencies map[string]dependencyStatus `json:"dependencies"`
}

// HealthChecker reports pass only when every backing store answers a ping.
type HealthChecker struct {
	checks  []dependencyCheck
	started time.Time
	now     func() time.Time
}

func NewHealthChecker(infra Infrastructure) *HealthChecker {
	return newHealthChecker(time.Now,
		dependencyCheck{name: "postgres", ping: infra.Postgres().Ping},
		dependencyCheck{name: "redis", ping: infra.Redis().Ping},
	)
}

func newHealthChecker(now func() time.Time, checks ...dependencyCheck) *HealthChecker {
	return &HealthChecker{checks: checks, started: now(), now: now}
}

func (h *HealthChecker) check(ctx context.Context) healthReport {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	report := healthReport{
		Status:       "pass",
		Dependencies: make(map[string]dependencyStatus, len(h.checks)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, dep := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := h.now()
			err := dep.ping(ctx)
			status := dependencyStatus{Status: "pass", LatencyMs: h.now().Sub(start).Milliseconds()}
			if err != nil {
				status.Status = "fail"
				status.Error = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			report.Dependencies[dep.name] = status
			if err != nil {
				report.Status = "fail"
			}
		}()
	}
	wg.Wait()

	report.Timestamp = h.now().UTC()
	report.Uptime = report.Timestamp.Sub(h.started).Truncate(time.Second).String()
	return report
}

func (h *HealthChecker) Handler(c *gin.Context) {
	report := h.check(c.Request.Context())
	if report.Status != "pass" {
		c.JSON(http.StatusServiceUnavailable, report)
		return
	}
	c.JSON(http.StatusOK, report)
}
