package tenant

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

// RegisterRoutes mounts the superadmin dashboard on admin and the tenant's own
// billing views on tenantScoped. Plans are listed on api.
func (h *Handler) RegisterRoutes(api, admin, tenantScoped *echo.Group) {
	api.GET("/plans", h.ListPlans)

	adminGroup := admin.Group("", auth.RequireRole(session.RoleSuperAdmin))
	adminGroup.GET("/tenants", h.ListTenants)
	adminGroup.POST("/tenants", h.CreateTenant)
	adminGroup.GET("/tenants/:id", h.GetTenant)
	adminGroup.POST("/tenants/:id/suspend", h.SuspendTenant)
	adminGroup.POST("/tenants/:id/reactivate", h.ReactivateTenant)
	adminGroup.GET("/stats", h.Stats)

	tenantScoped.GET("/tenant", h.CurrentTenant)
	tenantScoped.GET("/subscription", h.CurrentSubscription, auth.RequireRole(session.RoleAdmin))
}

func (h *Handler) ListTenants(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{Status: c.QueryParam("status"), Query: c.QueryParam("q")}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreateTenant(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTenant(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) SuspendTenant(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.Suspend(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ReactivateTenant(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.Reactivate(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Stats(c echo.Context) error {
	st, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ListPlans(c echo.Context) error {
	plans, err := h.svc.ListPlans(c.Request().Context())
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, plans)
}

type currentTenant struct {
	ID     uuid.UUID `json:"id"`
	Slug   string    `json:"slug"`
	Name   string    `json:"name"`
	Status string    `json:"status"`
}

func (h *Handler) CurrentTenant(c echo.Context) error {
	t := db.TenantFromContext(c.Request().Context())
	if t == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant not specified")
	}
	return c.JSON(http.StatusOK, currentTenant{ID: t.ID, Slug: t.Slug, Name: t.Name, Status: t.Status})
}

func (h *Handler) CurrentSubscription(c echo.Context) error {
	t := db.TenantFromContext(c.Request().Context())
	if t == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant not specified")
	}
	sub, err := h.svc.CurrentSubscription(c.Request().Context(), t.ID)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, sub)
}
