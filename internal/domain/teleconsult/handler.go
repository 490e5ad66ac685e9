package teleconsult

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cabinet/cabinet/internal/platform/apperr"
	"github.com/cabinet/cabinet/internal/platform/auth"
	"github.com/cabinet/cabinet/internal/platform/db"
	"github.com/cabinet/cabinet/internal/platform/session"
	"github.com/cabinet/cabinet/internal/platform/websocket"
	"github.com/cabinet/cabinet/pkg/pagination"
)

type Handler struct {
	svc      *Service
	hub      *websocket.Hub
	registry *db.Registry
	tenants  db.TenantLookup
}

func NewHandler(svc *Service, hub *websocket.Hub, registry *db.Registry, tenants db.TenantLookup) *Handler {
	return &Handler{svc: svc, hub: hub, registry: registry, tenants: tenants}
}

// RegisterRoutes mounts the session endpoints on a tenant-scoped group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/teleconsult/sessions", auth.RequireRole(session.RoleAdmin, session.RolePractitioner, session.RoleStaff))
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.POST("/:id/token", h.IssueToken)

	clinical := api.Group("/teleconsult/sessions", auth.RequireRole(session.RoleAdmin, session.RolePractitioner))
	clinical.POST("/:id/start", h.Start)
	clinical.POST("/:id/end", h.End)
}

// RegisterSocket mounts the signalling endpoint. It authenticates with the
// join token alone, so it must sit outside the session and tenant middleware.
func (h *Handler) RegisterSocket(api *echo.Group) {
	api.GET("/teleconsult/ws", h.Connect)
}

func (h *Handler) Create(c echo.Context) error {
	var s Session
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess := session.FromContext(c.Request().Context())
	if s.PractitionerID == uuid.Nil && sess.HasRole(session.RolePractitioner) {
		if id, err := uuid.Parse(sess.UserID); err == nil {
			s.PractitionerID = id
		}
	}
	if err := h.svc.Create(c.Request().Context(), &s); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	s, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) List(c echo.Context) error {
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Start(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	s, err := h.svc.Start(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) End(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	s, err := h.svc.End(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, s)
}

type tokenRequest struct {
	Role string `json:"role"`
}

func (h *Handler) IssueToken(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Role == "" {
		req.Role = RolePatient
		if session.FromContext(c.Request().Context()).HasRole(session.RolePractitioner) {
			req.Role = RolePractitioner
		}
	}
	tok, err := h.svc.IssueToken(c.Request().Context(), id, req.Role)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, tok)
}

// Connect upgrades to the signalling socket for the room named in the token.
func (h *Handler) Connect(c echo.Context) error {
	raw := c.QueryParam("token")
	if raw == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "token is required")
	}
	claims, err := h.svc.ParseToken(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
	}

	ctx, _, err := db.BindTenant(c.Request().Context(), h.registry, h.tenants, claims.Tenant)
	if err != nil {
		return err
	}
	s, err := h.svc.Authorize(ctx, claims)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
		}
		return apperr.HTTP(err)
	}

	c.SetRequest(c.Request().WithContext(ctx))
	return h.hub.Serve(c, RoomKey(claims.Tenant, s.RoomID), claims.Role)
}
