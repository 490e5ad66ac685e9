// Package telemetry reports unexpected errors to Sentry and renders HTTP
// errors for the API.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
)

// Options configures Sentry.
type Options struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
}

// Init initialises the Sentry client. It reports false without error when no
// DSN is configured.
func Init(opts Options) (bool, error) {
	if opts.DSN == "" {
		return false, nil
	}
	if opts.SampleRate <= 0 || opts.SampleRate > 1 {
		opts.SampleRate = 1
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		SampleRate:       opts.SampleRate,
		AttachStacktrace: true,
		BeforeSend:       scrubEvent,
	})
	if err != nil {
		return false, fmt.Errorf("init sentry: %w", err)
	}
	return true, nil
}

// Middleware attaches a Sentry hub to every request. Panics are reported and
// re-raised for the recovery middleware.
func Middleware() echo.MiddlewareFunc {
	return sentryecho.New(sentryecho.Options{
		Repanic: true,
		Timeout: 2 * time.Second,
	})
}

// CaptureError reports err with the request's tenant and request ID.
func CaptureError(c echo.Context, err error) {
	hub := sentryecho.GetHubFromContext(c)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		if tenant, ok := c.Get("tenant_id").(string); ok {
			scope.SetTag("tenant_id", tenant)
		}
		if rid, ok := c.Get("request_id").(string); ok {
			scope.SetTag("request_id", rid)
		}
		scope.SetTag("route", c.Path())
		hub.CaptureException(err)
	})
}

// Flush waits for buffered events to be sent.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// scrubEvent drops request bodies, cookies and headers, which may carry
// PHI or credentials.
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event.Request != nil {
		event.Request.Data = ""
		event.Request.Cookies = ""
		event.Request.Headers = nil
		event.Request.QueryString = ""
	}
	event.User = sentry.User{ID: event.User.ID}
	return event
}
