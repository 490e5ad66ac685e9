package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cabinet/cabinet/internal/platform/session"
)

// RequireSession rejects requests without a signed-in session.
func RequireSession() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !session.FromContext(c.Request().Context()).Authenticated() {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}

// DevSession is a permissive middleware for development that signs every
// cookie-less request in as a superadmin of tenantSlug.
func DevSession(tenantSlug string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if session.FromContext(ctx) == nil {
				now := time.Now().UTC()
				dev := &session.Session{
					ID:         "dev",
					UserID:     "dev-user",
					TenantSlug: tenantSlug,
					Email:      "dev@localhost",
					Name:       "Developer",
					Roles:      []string{session.RoleSuperAdmin},
					CreatedAt:  now,
					ExpiresAt:  now.Add(time.Hour),
				}
				c.Set("user_id", dev.UserID)
				c.SetRequest(c.Request().WithContext(session.WithSession(ctx, dev)))
			}
			return next(c)
		}
	}
}

// UserIDFromContext returns the signed-in user's ID, or "".
func UserIDFromContext(ctx context.Context) string {
	if s := session.FromContext(ctx); s != nil {
		return s.UserID
	}
	return ""
}

// RolesFromContext returns the signed-in user's roles.
func RolesFromContext(ctx context.Context) []string {
	if s := session.FromContext(ctx); s != nil {
		return s.Roles
	}
	return nil
}
