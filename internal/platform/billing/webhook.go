// Package billing receives Stripe webhooks and opens Checkout sessions for
// tenant subscriptions.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/cabinet/cabinet/internal/domain/tenant"
	"github.com/cabinet/cabinet/internal/platform/apperr"
)

const maxWebhookBytes = 64 << 10

// Tenants is the part of the tenant service driven by billing.
type Tenants interface {
	Get(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error)
	GetPlan(ctx context.Context, id uuid.UUID) (*tenant.Plan, error)
	AttachCustomer(ctx context.Context, tenantID uuid.UUID, customerID string) error
	ApplySubscription(ctx context.Context, u tenant.SubscriptionUpdate) (*tenant.Subscription, error)
	MarkPastDue(ctx context.Context, customerID string) error
	MarkPaid(ctx context.Context, customerID string) error
}

type WebhookHandler struct {
	secret  string
	tenants Tenants
	events  EventStore
	logger  zerolog.Logger
}

func NewWebhookHandler(secret string, tenants Tenants, events EventStore, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{secret: secret, tenants: tenants, events: events, logger: logger}
}

// RegisterRoutes mounts the receiver. The route must be exempt from CSRF and
// session middleware; Stripe authenticates with the signature header.
func (h *WebhookHandler) RegisterRoutes(api *echo.Group) {
	api.POST("/webhooks/stripe", h.Receive)
}

func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	if len(body) > maxWebhookBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
	}

	event, err := webhook.ConstructEventWithOptions(body, c.Request().Header.Get("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.Warn().Err(err).Msg("stripe webhook signature rejected")
		return echo.NewHTTPError(http.StatusBadRequest, "invalid signature")
	}

	ctx := c.Request().Context()
	log := h.logger.With().Str("event_id", event.ID).Str("event_type", string(event.Type)).Logger()

	fresh, err := h.events.Record(ctx, event.ID, string(event.Type))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
	if !fresh {
		log.Info().Msg("duplicate stripe event acknowledged")
		return c.JSON(http.StatusOK, map[string]interface{}{"received": true, "duplicate": true})
	}

	if err := h.dispatch(ctx, event, log); err != nil {
		if permanent(err) {
			log.Warn().Err(err).Msg("stripe event cannot be applied, acknowledged without changes")
			return c.JSON(http.StatusOK, map[string]interface{}{"received": true, "applied": false})
		}
		if ferr := h.events.Forget(ctx, event.ID); ferr != nil {
			log.Error().Err(ferr).Msg("failed to release stripe event for retry")
		}
		log.Error().Err(err).Msg("stripe event processing failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "event processing failed").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"received": true})
}

func (h *WebhookHandler) dispatch(ctx context.Context, event stripe.Event, log zerolog.Logger) error {
	switch event.Type {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return apperr.Invalid("undecodable checkout session: %v", err)
		}
		return h.checkoutCompleted(ctx, &cs)

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return apperr.Invalid("undecodable subscription: %v", err)
		}
		if event.Type == "customer.subscription.deleted" {
			sub.Status = stripe.SubscriptionStatusCanceled
		}
		_, err := h.tenants.ApplySubscription(ctx, subscriptionUpdate(&sub))
		return err

	case "invoice.payment_failed":
		customer, err := invoiceCustomer(event)
		if err != nil {
			return err
		}
		return h.tenants.MarkPastDue(ctx, customer)

	case "invoice.paid":
		customer, err := invoiceCustomer(event)
		if err != nil {
			return err
		}
		return h.tenants.MarkPaid(ctx, customer)
	}

	log.Info().Msg("unhandled stripe event type")
	return nil
}

func (h *WebhookHandler) checkoutCompleted(ctx context.Context, cs *stripe.CheckoutSession) error {
	tenantID, err := uuid.Parse(cs.ClientReferenceID)
	if err != nil {
		return apperr.Invalid("checkout session %s has no tenant reference", cs.ID)
	}
	if cs.Customer == nil || cs.Customer.ID == "" {
		return apperr.Invalid("checkout session %s has no customer", cs.ID)
	}
	if err := h.tenants.AttachCustomer(ctx, tenantID, cs.Customer.ID); err != nil {
		return err
	}
	if cs.Subscription == nil || cs.Subscription.ID == "" {
		return nil
	}

	status := "incomplete"
	if cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
		status = string(stripe.SubscriptionStatusActive)
	}
	_, err = h.tenants.ApplySubscription(ctx, tenant.SubscriptionUpdate{
		TenantID:             tenantID,
		CustomerID:           cs.Customer.ID,
		StripeSubscriptionID: cs.Subscription.ID,
		Status:               status,
	})
	return err
}

func subscriptionUpdate(sub *stripe.Subscription) tenant.SubscriptionUpdate {
	u := tenant.SubscriptionUpdate{
		StripeSubscriptionID: sub.ID,
		Status:               string(sub.Status),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}
	if id, err := uuid.Parse(sub.Metadata["tenant_id"]); err == nil {
		u.TenantID = id
	}
	if sub.Customer != nil {
		u.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		u.CurrentPeriodEnd = &end
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		u.StripePriceID = sub.Items.Data[0].Price.ID
	}
	return u
}

func invoiceCustomer(event stripe.Event) (string, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return "", apperr.Invalid("undecodable invoice: %v", err)
	}
	if inv.Customer == nil || inv.Customer.ID == "" {
		return "", apperr.Invalid("invoice %s has no customer", inv.ID)
	}
	return inv.Customer.ID, nil
}

// permanent reports whether retrying the event could ever succeed. Events
// that name no known tenant or carry an unusable payload are not retried;
// anything else, such as a database failure, is.
func permanent(err error) bool {
	return errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrInvalid)
}
