package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gillverbasiglo/genie-api-sub000/internal/health"
	"github.com/pitabwire/frame/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChecker struct {
	name   string
	result health.CheckResult
	delay  time.Duration
}

func (m *mockChecker) Name() string {
	return m.name
}

func (m *mockChecker) Check(_ context.Context) health.CheckResult {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return m.result
}

type fixedStats struct {
	active   int
	capacity int
}

func (f fixedStats) ActiveConnections() int { return f.active }
func (f fixedStats) Capacity() int          { return f.capacity }

func readiness(t *testing.T, handler *health.Handler) (int, health.HealthResponse) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, req)

	var response health.HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return w.Code, response
}

func TestHandler_LivenessHandler(t *testing.T) {
	handler := health.NewHandler()
	handler.AddChecker(&mockChecker{name: "slow_check", delay: 5 * time.Second})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	start := time.Now()
	handler.LivenessHandler(w, req)

	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, http.StatusOK, w.Code)

	var response health.HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, health.StatusHealthy, response.Status)
}

func TestHandler_ReadinessHandler(t *testing.T) {
	t.Run("all checks healthy", func(t *testing.T) {
		handler := health.NewHandler()
		handler.AddChecker(&mockChecker{name: "database", result: health.CheckResult{Status: health.StatusHealthy}})
		handler.AddChecker(&mockChecker{name: "cache", result: health.CheckResult{Status: health.StatusHealthy}})

		code, response := readiness(t, handler)

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, health.StatusHealthy, response.Status)
		assert.Len(t, response.Checks, 2)
	})

	t.Run("degraded still serves 200", func(t *testing.T) {
		handler := health.NewHandler()
		handler.AddChecker(&mockChecker{name: "database", result: health.CheckResult{Status: health.StatusHealthy}})
		handler.AddChecker(&mockChecker{name: "connections", result: health.CheckResult{Status: health.StatusDegraded}})

		code, response := readiness(t, handler)

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, health.StatusDegraded, response.Status)
	})

	t.Run("unhealthy wins over degraded", func(t *testing.T) {
		handler := health.NewHandler()
		handler.AddChecker(&mockChecker{
			name:   "database",
			result: health.CheckResult{Status: health.StatusUnhealthy, Error: "connection refused"},
		})
		handler.AddChecker(&mockChecker{name: "connections", result: health.CheckResult{Status: health.StatusDegraded}})

		code, response := readiness(t, handler)

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, health.StatusUnhealthy, response.Status)
		assert.Equal(t, "connection refused", response.Checks["database"].Error)
	})

	t.Run("checks run concurrently", func(t *testing.T) {
		handler := health.NewHandler()
		for i := range 5 {
			handler.AddChecker(&mockChecker{
				name:   "check" + string(rune('A'+i)),
				result: health.CheckResult{Status: health.StatusHealthy},
				delay:  50 * time.Millisecond,
			})
		}

		start := time.Now()
		code, _ := readiness(t, handler)

		assert.Less(t, time.Since(start), 150*time.Millisecond)
		assert.Equal(t, http.StatusOK, code)
	})
}

func TestPingChecker(t *testing.T) {
	t.Run("healthy ping", func(t *testing.T) {
		checker := health.NewPingChecker("genie", func(_ context.Context) error { return nil }, time.Second)

		result := checker.Check(context.Background())

		assert.Equal(t, "genie", checker.Name())
		assert.Equal(t, health.StatusHealthy, result.Status)
		assert.Empty(t, result.Error)
	})

	t.Run("unhealthy ping", func(t *testing.T) {
		checker := health.NewPingChecker("genie", func(_ context.Context) error {
			return errors.New("circuit breaker is open")
		}, time.Second)

		result := checker.Check(context.Background())

		assert.Equal(t, health.StatusUnhealthy, result.Status)
		assert.Equal(t, "circuit breaker is open", result.Error)
	})

	t.Run("timeout", func(t *testing.T) {
		checker := health.NewPingChecker("genie", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}, 50*time.Millisecond)

		result := checker.Check(context.Background())

		assert.Equal(t, health.StatusUnhealthy, result.Status)
		assert.Contains(t, result.Error, "deadline exceeded")
	})
}

func TestCacheChecker_InMemory(t *testing.T) {
	checker := health.NewCacheChecker(cache.NewInMemoryCache(), time.Second)

	result := checker.Check(context.Background())

	assert.Equal(t, "cache", checker.Name())
	assert.Equal(t, health.StatusHealthy, result.Status)
}

func TestConnectionsChecker(t *testing.T) {
	t.Run("below threshold", func(t *testing.T) {
		checker := health.NewConnectionsChecker(fixedStats{active: 10, capacity: 100}, 80)
		assert.Equal(t, health.StatusHealthy, checker.Check(context.Background()).Status)
	})

	t.Run("at threshold", func(t *testing.T) {
		checker := health.NewConnectionsChecker(fixedStats{active: 80, capacity: 100}, 80)
		result := checker.Check(context.Background())
		assert.Equal(t, health.StatusDegraded, result.Status)
		assert.Contains(t, result.Error, "80%")
	})

	t.Run("invalid threshold falls back to 80", func(t *testing.T) {
		checker := health.NewConnectionsChecker(fixedStats{active: 79, capacity: 100}, 0)
		assert.Equal(t, health.StatusHealthy, checker.Check(context.Background()).Status)
	})

	t.Run("unbounded capacity", func(t *testing.T) {
		checker := health.NewConnectionsChecker(fixedStats{active: 5000}, 80)
		assert.Equal(t, health.StatusHealthy, checker.Check(context.Background()).Status)
	})
}
