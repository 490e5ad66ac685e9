package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// CookieOptions configures the session cookie.
type CookieOptions struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

// Manager ties a Store to the session cookie.
type Manager struct {
	store  Store
	opts   CookieOptions
	logger zerolog.Logger
	now    func() time.Time
}

func NewManager(store Store, opts CookieOptions, logger zerolog.Logger) *Manager {
	if opts.Name == "" {
		opts.Name = "cabinet_session"
	}
	return &Manager{store: store, opts: opts, logger: logger, now: time.Now}
}

func (m *Manager) Store() Store { return m.store }

// New returns an unsaved anonymous session with the configured lifetime.
func (m *Manager) New() *Session {
	return New(m.opts.TTL)
}

// Middleware loads the session referenced by the cookie into the request
// context. Sessions past half their lifetime are extended.
func (m *Manager) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cookie, err := c.Cookie(m.opts.Name)
			if err != nil || cookie.Value == "" {
				return next(c)
			}

			ctx := c.Request().Context()
			s, err := m.store.Get(ctx, cookie.Value)
			if err != nil {
				if !errors.Is(err, ErrNotFound) {
					m.logger.Warn().Err(err).Msg("session lookup failed")
				}
				return next(c)
			}

			now := m.now()
			if s.Expired(now) {
				return next(c)
			}
			if s.ExpiresAt.Sub(now) < m.opts.TTL/2 {
				s.ExpiresAt = now.Add(m.opts.TTL)
				if err := m.store.Save(ctx, s); err != nil {
					m.logger.Warn().Err(err).Str("user_id", s.UserID).Msg("session refresh failed")
				} else {
					m.setCookie(c, s)
				}
			}

			if s.UserID != "" {
				c.Set("user_id", s.UserID)
			}
			c.SetRequest(c.Request().WithContext(WithSession(ctx, s)))
			return next(c)
		}
	}
}

// Start saves s and points the session cookie at it.
func (m *Manager) Start(c echo.Context, s *Session) error {
	if err := m.store.Save(c.Request().Context(), s); err != nil {
		return err
	}
	m.setCookie(c, s)
	c.SetRequest(c.Request().WithContext(WithSession(c.Request().Context(), s)))
	return nil
}

// Destroy deletes the current session, if any, and clears the cookie.
func (m *Manager) Destroy(c echo.Context) error {
	if s := FromContext(c.Request().Context()); s != nil {
		if err := m.store.Delete(c.Request().Context(), s); err != nil {
			return err
		}
	}
	c.SetCookie(&http.Cookie{
		Name:     m.opts.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (m *Manager) setCookie(c echo.Context, s *Session) {
	c.SetCookie(&http.Cookie{
		Name:     m.opts.Name,
		Value:    s.ID,
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
