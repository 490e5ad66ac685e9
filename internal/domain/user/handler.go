package user

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cabinet/cabinet/internal/platform/apperr"
	"github.com/cabinet/cabinet/internal/platform/auth"
	"github.com/cabinet/cabinet/internal/platform/db"
	"github.com/cabinet/cabinet/internal/platform/session"
	"github.com/cabinet/cabinet/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts user management on a tenant-scoped group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	admin := g.Group("/users", auth.RequireRole(session.RoleAdmin))
	admin.GET("", h.List)
	admin.POST("", h.Invite)
	admin.GET("/:id", h.Get)
	admin.PUT("/:id/roles", h.UpdateRoles)
	admin.POST("/:id/deactivate", h.Deactivate)
	admin.POST("/:id/reactivate", h.Reactivate)
}

func tenantID(c echo.Context) (uuid.UUID, error) {
	t := db.TenantFromContext(c.Request().Context())
	if t == nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "tenant not specified")
	}
	return t.ID, nil
}

func params(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	tid, err := tenantID(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return tid, id, nil
}

func (h *Handler) List(c echo.Context) error {
	tid, err := tenantID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), tid, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Invite(c echo.Context) error {
	tid, err := tenantID(c)
	if err != nil {
		return err
	}
	var in InviteInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.Invite(c.Request().Context(), tid, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) Get(c echo.Context) error {
	tid, id, err := params(c)
	if err != nil {
		return err
	}
	u, err := h.svc.Get(c.Request().Context(), tid, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) UpdateRoles(c echo.Context) error {
	tid, id, err := params(c)
	if err != nil {
		return err
	}
	var body struct {
		Roles []string `json:"roles"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.UpdateRoles(c.Request().Context(), tid, id, body.Roles)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) Deactivate(c echo.Context) error {
	tid, id, err := params(c)
	if err != nil {
		return err
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	u, err := h.svc.Deactivate(c.Request().Context(), tid, id, actor)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) Reactivate(c echo.Context) error {
	tid, id, err := params(c)
	if err != nil {
		return err
	}
	u, err := h.svc.Reactivate(c.Request().Context(), tid, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, u)
}
