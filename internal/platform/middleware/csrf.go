package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

const (
	CSRFHeader     = "X-CSRF-Token"
	CSRFCookie     = "_csrf"
	csrfContextKey = "csrf"
)

// CSRFConfig configures CSRF.
type CSRFConfig struct {
	Secure  bool
	Skipper echomw.Skipper
}

// CSRF protects state-changing requests with a double-submit token: the
// X-CSRF-Token header must match the _csrf cookie. Safe methods issue the
// cookie. A missing or mismatched token is always answered with 403.
func CSRF(cfg CSRFConfig) echo.MiddlewareFunc {
	return echomw.CSRFWithConfig(echomw.CSRFConfig{
		Skipper:        cfg.Skipper,
		TokenLookup:    "header:" + CSRFHeader,
		ContextKey:     csrfContextKey,
		CookieName:     CSRFCookie,
		CookiePath:     "/",
		CookieMaxAge:   86400,
		CookieSecure:   cfg.Secure,
		CookieHTTPOnly: true,
		CookieSameSite: http.SameSiteLaxMode,
		ErrorHandler: func(err error, c echo.Context) error {
			return echo.NewHTTPError(http.StatusForbidden, "invalid or missing csrf token").SetInternal(err)
		},
	})
}

// CSRFToken returns the token for the current request. It must run behind CSRF.
func CSRFToken(c echo.Context) string {
	token, _ := c.Get(csrfContextKey).(string)
	return token
}

// CSRFTokenHandler serves GET /api/csrf-token.
func CSRFTokenHandler(c echo.Context) error {
	token := CSRFToken(c)
	if token == "" {
		return echo.NewHTTPError(http.StatusInternalServerError, "csrf protection is not enabled")
	}
	return c.JSON(http.StatusOK, map[string]string{"csrfToken": token})
}
