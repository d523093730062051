package health

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/nazanin90/adk-data-agent/internal/circuitbreaker"
)

// slowThreshold marks a responsive but degraded local dependency.
const slowThreshold = 100 * time.Millisecond

// RedisHealthChecker probes the session store. Critical: without Redis no
// session can be loaded and no turn can run.
type RedisHealthChecker struct {
	client  redis.UniversalClient
	wrapper *circuitbreaker.RedisWrapper
	logger  *zap.Logger
}

func NewRedisHealthChecker(client redis.UniversalClient, wrapper *circuitbreaker.RedisWrapper, logger *zap.Logger) *RedisHealthChecker {
	return &RedisHealthChecker{client: client, wrapper: wrapper, logger: logger}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return true }
func (r *RedisHealthChecker) Timeout() time.Duration { return 5 * time.Second }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	if r.wrapper != nil && r.wrapper.IsCircuitBreakerOpen() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "circuit breaker open",
			Message: "Redis circuit breaker is open",
		}
	}

	start := time.Now()
	err := r.client.Ping(ctx).Err()
	latency := time.Since(start)

	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: "Redis ping failed",
			Details: map[string]interface{}{"latency_ms": latency.Milliseconds()},
		}
	}

	result := CheckResult{
		Status:  StatusHealthy,
		Message: "Redis healthy",
		Details: map[string]interface{}{"latency_ms": latency.Milliseconds()},
	}
	if latency > slowThreshold {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
	}
	return result
}

// DatabaseHealthChecker probes the audit store. Critical when the database
// is enabled; a service without audit writes is misconfigured, not degraded.
type DatabaseHealthChecker struct {
	db      *sql.DB
	wrapper *circuitbreaker.DatabaseWrapper
	logger  *zap.Logger
}

func NewDatabaseHealthChecker(db *sql.DB, wrapper *circuitbreaker.DatabaseWrapper, logger *zap.Logger) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{db: db, wrapper: wrapper, logger: logger}
}

func (d *DatabaseHealthChecker) Name() string           { return "database" }
func (d *DatabaseHealthChecker) IsCritical() bool       { return true }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return 5 * time.Second }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	if d.wrapper != nil && d.wrapper.IsCircuitBreakerOpen() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "circuit breaker open",
			Message: "Database circuit breaker is open",
		}
	}

	start := time.Now()
	err := d.db.PingContext(ctx)
	latency := time.Since(start)

	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: "Database ping failed",
			Details: map[string]interface{}{"latency_ms": latency.Milliseconds()},
		}
	}

	stats := d.db.Stats()
	result := CheckResult{
		Status:  StatusHealthy,
		Message: "Database healthy",
		Details: map[string]interface{}{
			"latency_ms":           latency.Milliseconds(),
			"open_connections":     stats.OpenConnections,
			"max_open_connections": stats.MaxOpenConnections,
			"in_use_connections":   stats.InUse,
		},
	}
	switch {
	case stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections:
		result.Status = StatusDegraded
		result.Message = "Database connection pool exhausted"
	case latency > slowThreshold:
		result.Status = StatusDegraded
		result.Message = "Database responding but with high latency"
	}
	return result
}

// BackendHealthChecker checks reachability of the data chat backend.
// Non-critical: backend failures degrade individual turns, not the service.
type BackendHealthChecker struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewBackendHealthChecker(baseURL string, logger *zap.Logger) *BackendHealthChecker {
	return &BackendHealthChecker{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

func (b *BackendHealthChecker) Name() string           { return "backend" }
func (b *BackendHealthChecker) IsCritical() bool       { return false }
func (b *BackendHealthChecker) Timeout() time.Duration { return 5 * time.Second }

func (b *BackendHealthChecker) Check(ctx context.Context) CheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL, nil)
	if err != nil {
		return CheckResult{
			Status:  StatusUnknown,
			Error:   err.Error(),
			Message: "Invalid backend URL",
		}
	}

	start := time.Now()
	resp, err := b.httpClient.Do(req)
	latency := time.Since(start)

	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: "Backend unreachable",
			Details: map[string]interface{}{
				"base_url":   b.baseURL,
				"latency_ms": latency.Milliseconds(),
			},
		}
	}
	defer resp.Body.Close()

	// Any HTTP response means the backend is reachable. Auth errors are
	// expected for an unauthenticated probe.
	result := CheckResult{
		Status:  StatusHealthy,
		Message: "Backend reachable",
		Details: map[string]interface{}{
			"base_url":    b.baseURL,
			"status_code": resp.StatusCode,
			"latency_ms":  latency.Milliseconds(),
		},
	}
	if latency > 500*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Backend responding but with high latency"
	}
	return result
}

// CustomHealthChecker wraps an ad-hoc probe function.
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{name: name, critical: critical, timeout: timeout, checkFn: checkFn}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
