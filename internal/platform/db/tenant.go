package db

import (
	"context"
	"errors"
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/cabinet/cabinet/internal/platform/session"
)

type contextKey string

const (
	TenantKey contextKey = "tenant"
	PoolKey   contextKey = "tenant_pool"
	DBTxKey   contextKey = "db_tx"
)

// ErrTenantNotFound is returned by a TenantLookup for an unknown slug.
var ErrTenantNotFound = errors.New("tenant not found")

var tenantSlugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,62}$`)

// ValidSlug reports whether s is an acceptable tenant slug.
func ValidSlug(s string) bool {
	return tenantSlugPattern.MatchString(s)
}

// TenantInfo is the routing view of a tenant record.
type TenantInfo struct {
	ID          uuid.UUID
	Slug        string
	Name        string
	DatabaseURL string
	Status      string
}

// Usable reports whether requests may be served for the tenant. Past-due
// tenants keep access while Stripe retries the payment.
func (t *TenantInfo) Usable() bool {
	switch t.Status {
	case "active", "trialing", "past_due":
		return true
	}
	return false
}

// TenantLookup resolves a tenant slug against the management database.
type TenantLookup interface {
	TenantBySlug(ctx context.Context, slug string) (*TenantInfo, error)
}

// TenantMiddleware resolves the tenant for the request, checks the caller may
// act on it, and binds the tenant's pool from the registry to the request context.
func TenantMiddleware(registry *Registry, lookup TenantLookup) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			sess := session.FromContext(ctx)

			slug := extractTenantSlug(c, sess)
			if slug == "" {
				return echo.NewHTTPError(http.StatusBadRequest, "tenant not specified")
			}
			if !ValidSlug(slug) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}
			if sess.Authenticated() && !sess.HasRole(session.RoleSuperAdmin) && sess.TenantSlug != slug {
				return echo.NewHTTPError(http.StatusForbidden, "access to tenant denied")
			}

			ctx, tenant, err := BindTenant(ctx, registry, lookup, slug)
			if err != nil {
				return err
			}

			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenant.Slug)

			return next(c)
		}
	}
}

// BindTenant loads the tenant, checks it is usable and binds its pool to ctx.
// Errors are echo HTTP errors ready to return from a handler.
func BindTenant(ctx context.Context, registry *Registry, lookup TenantLookup, slug string) (context.Context, *TenantInfo, error) {
	tenant, err := lookup.TenantBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return ctx, nil, echo.NewHTTPError(http.StatusNotFound, "tenant not found")
		}
		return ctx, nil, echo.NewHTTPError(http.StatusServiceUnavailable, "tenant resolution failed").SetInternal(err)
	}
	if !tenant.Usable() {
		return ctx, nil, echo.NewHTTPError(http.StatusForbidden, "tenant is "+tenant.Status)
	}

	pool, err := registry.ForTenant(ctx, tenant.DatabaseURL)
	if err != nil {
		return ctx, nil, echo.NewHTTPError(http.StatusServiceUnavailable, "tenant database unavailable").SetInternal(err)
	}
	return WithTenant(ctx, tenant, pool), tenant, nil
}

func extractTenantSlug(c echo.Context, sess *session.Session) string {
	// 1. Check X-Tenant-ID header
	if tid := c.Request().Header.Get("X-Tenant-ID"); tid != "" {
		return tid
	}

	// 2. Check query parameter
	if tid := c.QueryParam("tenant_id"); tid != "" {
		return tid
	}

	// 3. Fall back to the signed-in user's tenant
	if sess != nil {
		return sess.TenantSlug
	}
	return ""
}

// WithTenant binds a tenant and its pool to ctx. Background jobs use it to
// call tenant-scoped services outside of a request.
func WithTenant(ctx context.Context, tenant *TenantInfo, pool *pgxpool.Pool) context.Context {
	ctx = context.WithValue(ctx, TenantKey, tenant)
	return context.WithValue(ctx, PoolKey, pool)
}

// PoolFromContext retrieves the tenant database pool from context.
func PoolFromContext(ctx context.Context) *pgxpool.Pool {
	pool, _ := ctx.Value(PoolKey).(*pgxpool.Pool)
	return pool
}

// TenantFromContext retrieves the resolved tenant from context.
func TenantFromContext(ctx context.Context) *TenantInfo {
	t, _ := ctx.Value(TenantKey).(*TenantInfo)
	return t
}

// TenantSlugFromContext returns the resolved tenant slug or "".
func TenantSlugFromContext(ctx context.Context) string {
	if t := TenantFromContext(ctx); t != nil {
		return t.Slug
	}
	return ""
}
