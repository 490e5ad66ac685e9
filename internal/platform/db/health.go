package db

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// HealthCheck is one dependency probe. Optional checks report their status
// but never mark the service as degraded.
type HealthCheck struct {
	Name     string
	Check    CheckFunc
	Optional bool
}

// CheckResult is the reported status of one dependency.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthReport is the body of the health endpoint.
type HealthReport struct {
	Status      string                 `json:"status"`
	Version     string                 `json:"version"`
	Uptime      string                 `json:"uptime"`
	Checks      map[string]CheckResult `json:"checks"`
	TenantPools int                    `json:"tenant_pools"`
	Pool        *PoolStats             `json:"pool,omitempty"`
}

// HealthOptions configures HealthHandler.
type HealthOptions struct {
	Version  string
	Started  time.Time
	Registry *Registry
	Checks   []HealthCheck
	// Static reports fixed statuses such as "configured" or "disabled".
	Static  map[string]string
	Timeout time.Duration
}

// HealthHandler returns a handler that probes every dependency and reports
// 200 when all required checks pass, 503 otherwise.
func HealthHandler(opts HealthOptions) echo.HandlerFunc {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Started.IsZero() {
		opts.Started = time.Now()
	}

	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), opts.Timeout)
		defer cancel()

		report := RunHealthChecks(ctx, opts)
		code := http.StatusOK
		if report.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, report)
	}
}

// RunHealthChecks evaluates opts and builds a report.
func RunHealthChecks(ctx context.Context, opts HealthOptions) *HealthReport {
	report := &HealthReport{
		Status:  "ok",
		Version: opts.Version,
		Uptime:  time.Since(opts.Started).Truncate(time.Second).String(),
		Checks:  make(map[string]CheckResult, len(opts.Checks)+len(opts.Static)),
	}

	for _, hc := range opts.Checks {
		start := time.Now()
		err := hc.Check(ctx)
		res := CheckResult{Status: "up", LatencyMS: time.Since(start).Milliseconds()}
		if err != nil {
			res.Status = "down"
			res.Error = err.Error()
			if !hc.Optional {
				report.Status = "degraded"
			}
		}
		report.Checks[hc.Name] = res
	}

	for name, status := range opts.Static {
		report.Checks[name] = CheckResult{Status: status}
	}

	if opts.Registry != nil {
		report.TenantPools = opts.Registry.Len()
		if mgmt := opts.Registry.Management(); mgmt != nil {
			report.Pool = GetPoolStats(mgmt)
		}
	}

	return report
}

// PingCheck probes a pool. A nil pool is reported as down.
func PingCheck(pool *pgxpool.Pool) CheckFunc {
	return func(ctx context.Context) error {
		if pool == nil {
			return errors.New("pool not configured")
		}
		return pool.Ping(ctx)
	}
}
