package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/cabinet/cabinet/internal/platform/session"
)

var (
	// ErrAccessDenied is returned by a UserDirectory for an account that is
	// not registered with any tenant.
	ErrAccessDenied = errors.New("account is not registered")
	// ErrUserInactive is returned for deactivated users.
	ErrUserInactive = errors.New("user is inactive")
)

// Identity is what a session records about a signed-in user.
type Identity struct {
	UserID     string
	TenantSlug string
	Email      string
	Name       string
	Roles      []string
}

// UserDirectory maps a Google account onto a registered user.
type UserDirectory interface {
	UpsertGoogleUser(ctx context.Context, p *GoogleProfile) (*Identity, error)
}

// Handler serves the sign-in endpoints.
type Handler struct {
	provider    OAuthProvider
	users       UserDirectory
	sessions    *session.Manager
	frontendURL string
	logger      zerolog.Logger
}

// NewHandler creates an auth handler. provider may be nil when Google
// sign-in is not configured.
func NewHandler(provider OAuthProvider, users UserDirectory, sessions *session.Manager, frontendURL string, logger zerolog.Logger) *Handler {
	return &Handler{
		provider:    provider,
		users:       users,
		sessions:    sessions,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	if h.provider != nil {
		g.GET("/auth/google", h.Login)
		g.GET("/auth/google/callback", h.Callback)
	}
	g.POST("/auth/logout", h.Logout)
	g.GET("/auth/me", h.Me, RequireSession())
}

// Login stores a fresh OAuth state in a pre-login session and redirects to Google.
func (h *Handler) Login(c echo.Context) error {
	s := h.sessions.New()
	s.OAuthState = session.NewID()
	if err := h.sessions.Start(c, s); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "session store unavailable").SetInternal(err)
	}
	return c.Redirect(http.StatusFound, h.provider.AuthCodeURL(s.OAuthState))
}

func (h *Handler) Callback(c echo.Context) error {
	pre := session.FromContext(c.Request().Context())
	state := c.QueryParam("state")
	if pre == nil || pre.OAuthState == "" || state != pre.OAuthState {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid oauth state")
	}
	if reason := c.QueryParam("error"); reason != "" {
		return echo.NewHTTPError(http.StatusBadRequest, "google sign-in failed: "+reason)
	}
	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing authorization code")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 20*time.Second)
	defer cancel()

	token, err := h.provider.Exchange(ctx, code)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "google sign-in failed").SetInternal(err)
	}
	profile, err := h.provider.Profile(ctx, token)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "google sign-in failed").SetInternal(err)
	}

	ident, err := h.users.UpsertGoogleUser(ctx, profile)
	if err != nil {
		if errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrUserInactive) {
			h.logger.Warn().Str("email", profile.Email).Err(err).Msg("sign-in refused")
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		}
		return err
	}

	// never promote the pre-login session id
	if err := h.sessions.Store().Delete(ctx, pre); err != nil {
		h.logger.Warn().Err(err).Msg("failed to drop pre-login session")
	}

	s := h.sessions.New()
	s.UserID = ident.UserID
	s.TenantSlug = ident.TenantSlug
	s.Email = ident.Email
	s.Name = ident.Name
	s.Roles = ident.Roles
	if err := h.sessions.Start(c, s); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "session store unavailable").SetInternal(err)
	}

	h.logger.Info().Str("user_id", s.UserID).Str("tenant_id", s.TenantSlug).Msg("user signed in")
	return c.Redirect(http.StatusFound, h.frontendURL)
}

func (h *Handler) Logout(c echo.Context) error {
	if err := h.sessions.Destroy(c); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type meResponse struct {
	ID     string   `json:"id"`
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	Tenant string   `json:"tenant"`
	Roles  []string `json:"roles"`
}

func (h *Handler) Me(c echo.Context) error {
	s := session.FromContext(c.Request().Context())
	return c.JSON(http.StatusOK, meResponse{
		ID:     s.UserID,
		Email:  s.Email,
		Name:   s.Name,
		Tenant: s.TenantSlug,
		Roles:  s.Roles,
	})
}
