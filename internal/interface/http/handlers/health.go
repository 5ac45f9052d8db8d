// Package handlers contains the health endpoints shared by the API server
// and the worker.
package handlers

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// CheckFunc probes one dependency. It returns an error when the dependency
// is unusable.
type CheckFunc func(ctx context.Context) error

// Pinger is anything with a Ping method: the Postgres pool, the Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error { return p.Ping(ctx) }
}

// Status is the aggregated result of all checks.
type Status struct {
	Healthy   bool                   `json:"healthy"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the result of one check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message"`
	Duration string `json:"duration"`
}

// Health runs named checks concurrently and serves /health, /ready and
// /live. Optional checks are reported but never make the service unready.
type Health struct {
	mu       sync.RWMutex
	checks   map[string]CheckFunc
	optional map[string]bool
	started  time.Time
	version  string
	timeout  time.Duration
}

// NewHealth creates an empty Health.
func NewHealth(version string) *Health {
	return &Health{
		checks:   make(map[string]CheckFunc),
		optional: make(map[string]bool),
		started:  time.Now(),
		version:  version,
		timeout:  3 * time.Second,
	}
}

// Add registers a required check.
func (h *Health) Add(name string, check CheckFunc) { h.add(name, check, false) }

// AddOptional registers a check whose failure only degrades the service.
func (h *Health) AddOptional(name string, check CheckFunc) { h.add(name, check, true) }

func (h *Health) add(name string, check CheckFunc, optional bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
	h.optional[name] = optional
}

// Check runs every check and aggregates the results.
func (h *Health) Check(ctx context.Context) Status {
	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, fn := range h.checks {
		checks[name] = fn
	}
	h.mu.RUnlock()

	status := Status{
		Healthy:   true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			start := time.Now()
			err := fn(cctx)
			res := CheckResult{Healthy: err == nil, Message: "OK", Duration: time.Since(start).Round(time.Millisecond).String()}
			if err != nil {
				res.Message = err.Error()
			}
			mu.Lock()
			status.Checks[name] = res
			mu.Unlock()
		}(name, fn)
	}
	wg.Wait()

	var failed, degraded []string
	for name, res := range status.Checks {
		if res.Healthy {
			continue
		}
		h.mu.RLock()
		opt := h.optional[name]
		h.mu.RUnlock()
		if opt {
			degraded = append(degraded, name)
		} else {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	sort.Strings(degraded)

	switch {
	case len(failed) > 0:
		status.Healthy = false
		status.Message = "failing: " + strings.Join(failed, ", ")
	case len(degraded) > 0:
		status.Message = "degraded: " + strings.Join(degraded, ", ")
	default:
		status.Message = "all checks passed"
	}
	return status
}

// Health reports every check; always 200 so dashboards can read the body.
func (h *Health) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.Check(c.Request.Context()))
}

// Ready answers 503 while a required check fails.
func (h *Health) Ready(c *gin.Context) {
	st := h.Check(c.Request.Context())
	code := http.StatusOK
	if !st.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, st)
}

// Live only proves the process serves requests.
func (h *Health) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}
