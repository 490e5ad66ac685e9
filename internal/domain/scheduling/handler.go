package scheduling

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cabinet/cabinet/internal/platform/apperr"
	"github.com/cabinet/cabinet/internal/platform/auth"
	"github.com/cabinet/cabinet/internal/platform/session"
	"github.com/cabinet/cabinet/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/appointments", auth.RequireRole(session.RoleAdmin, session.RolePractitioner, session.RoleStaff))
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Reschedule)
	g.POST("/:id/status", h.Transition)
}

func (h *Handler) Create(c echo.Context) error {
	var a Appointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if a.PractitionerID == uuid.Nil {
		a.PractitionerID = selfPractitioner(c)
	}
	if err := h.svc.Create(c.Request().Context(), &a); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var upd Appointment
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	upd.ID = id
	a, err := h.svc.Reschedule(c.Request().Context(), &upd)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Transition(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var ch StatusChange
	if err := c.Bind(&ch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Transition(c.Request().Context(), id, ch)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

// List returns a patient's appointments (patient_id) or a practitioner's
// agenda (practitioner_id with day=YYYY-MM-DD or from/to in RFC 3339).
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()

	if pid := c.QueryParam("patient_id"); pid != "" {
		patientID, err := uuid.Parse(pid)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		pg := pagination.FromContext(c)
		items, total, err := h.svc.ListByPatient(ctx, patientID, pg.Limit, pg.Offset)
		if err != nil {
			return apperr.HTTP(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}

	practitionerID := selfPractitioner(c)
	if p := c.QueryParam("practitioner_id"); p != "" {
		id, err := uuid.Parse(p)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid practitioner_id")
		}
		practitionerID = id
	}
	if practitionerID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id or practitioner_id is required")
	}

	from, to, err := agendaRange(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListByPractitioner(ctx, practitionerID, from, to)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func agendaRange(c echo.Context) (time.Time, time.Time, error) {
	if f, t := c.QueryParam("from"), c.QueryParam("to"); f != "" || t != "" {
		from, err := time.Parse(time.RFC3339, f)
		if err != nil {
			return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "from must be RFC 3339")
		}
		to, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "to must be RFC 3339")
		}
		return from, to, nil
	}

	day := time.Now().UTC().Truncate(24 * time.Hour)
	if d := c.QueryParam("day"); d != "" {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "day must be YYYY-MM-DD")
		}
		day = parsed
	}
	return day, day.Add(24 * time.Hour), nil
}

// selfPractitioner returns the caller's user ID when they are a practitioner.
func selfPractitioner(c echo.Context) uuid.UUID {
	s := session.FromContext(c.Request().Context())
	if s == nil || !s.HasRole(session.RolePractitioner) {
		return uuid.Nil
	}
	id, err := uuid.Parse(s.UserID)
	if err != nil {
		return uuid.Nil
	}
	return id
}
