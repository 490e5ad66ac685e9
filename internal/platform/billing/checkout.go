package billing

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/cabinet/cabinet/internal/platform/apperr"
	"github.com/cabinet/cabinet/internal/platform/auth"
	"github.com/cabinet/cabinet/internal/platform/db"
	"github.com/cabinet/cabinet/internal/platform/session"
)

// SessionCreator creates Stripe Checkout sessions. *session.Client from
// stripe-go satisfies it.
type SessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewStripeSessions returns the Checkout client for secretKey.
func NewStripeSessions(secretKey string) SessionCreator {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return sc.CheckoutSessions
}

type CheckoutHandler struct {
	sessions    SessionCreator
	tenants     Tenants
	frontendURL string
}

func NewCheckoutHandler(sessions SessionCreator, tenants Tenants, frontendURL string) *CheckoutHandler {
	return &CheckoutHandler{sessions: sessions, tenants: tenants, frontendURL: frontendURL}
}

// RegisterRoutes mounts checkout on a tenant-scoped group.
func (h *CheckoutHandler) RegisterRoutes(api *echo.Group) {
	api.POST("/billing/checkout", h.Create, auth.RequireRole(session.RoleAdmin))
}

type checkoutRequest struct {
	PlanID uuid.UUID `json:"plan_id"`
}

type checkoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

func (h *CheckoutHandler) Create(c echo.Context) error {
	var req checkoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PlanID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "plan_id is required")
	}
	ctx := c.Request().Context()
	info := db.TenantFromContext(ctx)
	if info == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant not specified")
	}

	params, err := h.params(ctx, info.ID, req.PlanID)
	if err != nil {
		return apperr.HTTP(err)
	}
	cs, err := h.sessions.New(params)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "billing provider unavailable").SetInternal(err)
	}
	return c.JSON(http.StatusCreated, checkoutResponse{SessionID: cs.ID, URL: cs.URL})
}

func (h *CheckoutHandler) params(ctx context.Context, tenantID, planID uuid.UUID) (*stripe.CheckoutSessionParams, error) {
	t, err := h.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	plan, err := h.tenants.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Active || plan.StripePriceID == nil || *plan.StripePriceID == "" {
		return nil, apperr.Invalid("plan %s is not available for purchase", plan.Code)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(t.ID.String()),
		SuccessURL:        stripe.String(h.frontendURL + "/settings/billing?checkout=success"),
		CancelURL:         stripe.String(h.frontendURL + "/settings/billing?checkout=cancelled"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: plan.StripePriceID, Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"tenant_id": t.ID.String(), "plan": plan.Code},
		},
	}
	if t.StripeCustomerID != nil && *t.StripeCustomerID != "" {
		params.Customer = t.StripeCustomerID
	}
	params.Context = ctx
	return params, nil
}
