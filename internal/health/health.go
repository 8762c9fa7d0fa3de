// Package health serves the gateway's liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pitabwire/frame/cache"
	"github.com/pitabwire/frame/datastore/pool"
)

const defaultCheckTimeout = 5 * time.Second

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HealthResponse is the body written by both probe endpoints.
type HealthResponse struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker is implemented by every component that takes part in readiness.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Handler aggregates checkers and exposes them over HTTP.
type Handler struct {
	checkers []Checker
	mu       sync.RWMutex
}

// NewHandler creates a health handler with no checkers.
func NewHandler() *Handler {
	return &Handler{
		checkers: make([]Checker, 0),
	}
}

func (h *Handler) AddChecker(checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, checker)
}

// LivenessHandler handles /healthz. It never consults the checkers.
func (h *Handler) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, http.StatusOK, HealthResponse{Status: StatusHealthy})
}

// ReadinessHandler handles /readyz, running every checker concurrently.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()

	response := HealthResponse{
		Status: StatusHealthy,
		Checks: make(map[string]CheckResult, len(checkers)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, checker := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()

			result := c.Check(r.Context())

			mu.Lock()
			defer mu.Unlock()
			response.Checks[c.Name()] = result
			response.Status = worse(response.Status, result.Status)
		}(checker)
	}

	wg.Wait()

	code := http.StatusOK
	if response.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeResponse(w, code, response)
}

func writeResponse(w http.ResponseWriter, code int, response HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response)
}

func worse(current, candidate Status) Status {
	switch {
	case current == StatusUnhealthy || candidate == StatusUnhealthy:
		return StatusUnhealthy
	case current == StatusDegraded || candidate == StatusDegraded:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// timed runs probe under timeout and converts its error into a CheckResult.
func timed(ctx context.Context, timeout time.Duration, probe func(ctx context.Context) error) CheckResult {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := probe(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return CheckResult{Status: StatusUnhealthy, LatencyMs: latency, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, LatencyMs: latency}
}

// DatabaseChecker pings the datastore pool behind the message repository.
type DatabaseChecker struct {
	pool    pool.Pool
	timeout time.Duration
}

// NewDatabaseChecker creates a checker that pings the datastore pool.
func NewDatabaseChecker(p pool.Pool, timeout time.Duration) *DatabaseChecker {
	return &DatabaseChecker{pool: p, timeout: timeout}
}

func (d *DatabaseChecker) Name() string {
	return "database"
}

func (d *DatabaseChecker) Check(ctx context.Context) CheckResult {
	var exhausted bool
	result := timed(ctx, d.timeout, func(ctx context.Context) error {
		sqlDB, err := d.pool.DB(ctx, true).DB()
		if err != nil {
			return err
		}
		if err = sqlDB.PingContext(ctx); err != nil {
			return err
		}
		stats := sqlDB.Stats()
		exhausted = stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections
		return nil
	})

	if result.Status == StatusHealthy && exhausted {
		result.Status = StatusDegraded
		result.Error = "connection pool exhausted"
	}
	return result
}

// CacheChecker probes the presence cache with a read of a missing key.
type CacheChecker struct {
	cache   cache.RawCache
	timeout time.Duration
}

// NewCacheChecker creates a checker that reads a probe key from the cache.
func NewCacheChecker(c cache.RawCache, timeout time.Duration) *CacheChecker {
	return &CacheChecker{cache: c, timeout: timeout}
}

func (c *CacheChecker) Name() string {
	return "cache"
}

func (c *CacheChecker) Check(ctx context.Context) CheckResult {
	return timed(ctx, c.timeout, func(ctx context.Context) error {
		_, _, err := c.cache.Get(ctx, "__health_check__")
		return err
	})
}

// PingChecker adapts any ping function into a Checker.
type PingChecker struct {
	name    string
	pingFn  func(ctx context.Context) error
	timeout time.Duration
}

// NewPingChecker creates a named checker around pingFn.
func NewPingChecker(name string, pingFn func(ctx context.Context) error, timeout time.Duration) *PingChecker {
	return &PingChecker{name: name, pingFn: pingFn, timeout: timeout}
}

func (p *PingChecker) Name() string {
	return p.name
}

func (p *PingChecker) Check(ctx context.Context) CheckResult {
	return timed(ctx, p.timeout, p.pingFn)
}

// ConnectionStats is the view of the connection manager readiness needs.
type ConnectionStats interface {
	ActiveConnections() int
	Capacity() int
}

// ConnectionsChecker reports degraded once the connection pool passes the
// utilisation threshold (a percentage of capacity).
type ConnectionsChecker struct {
	stats     ConnectionStats
	threshold int
}

// NewConnectionsChecker reports degraded once thresholdPercent of capacity is in use.
func NewConnectionsChecker(stats ConnectionStats, thresholdPercent int) *ConnectionsChecker {
	if thresholdPercent <= 0 || thresholdPercent > 100 {
		thresholdPercent = 80
	}
	return &ConnectionsChecker{stats: stats, threshold: thresholdPercent}
}

func (c *ConnectionsChecker) Name() string {
	return "connections"
}

func (c *ConnectionsChecker) Check(_ context.Context) CheckResult {
	capacity := c.stats.Capacity()
	if capacity <= 0 {
		return CheckResult{Status: StatusHealthy}
	}

	active := c.stats.ActiveConnections()
	utilization := active * 100 / capacity
	if utilization >= c.threshold {
		return CheckResult{
			Status: StatusDegraded,
			Error:  fmt.Sprintf("connection pool %d%% utilised (%d/%d)", utilization, active, capacity),
		}
	}
	return CheckResult{Status: StatusHealthy}
}
