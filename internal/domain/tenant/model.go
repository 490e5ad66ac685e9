package tenant

import (
	"time"

	"github.com/google/uuid"

	"github.com/cabinet/cabinet/internal/platform/db"
)

const (
	StatusActive    = "active"
	StatusTrialing  = "trialing"
	StatusPastDue   = "past_due"
	StatusSuspended = "suspended"
	StatusCancelled = "cancelled"
)

var validStatuses = map[string]bool{
	StatusActive: true, StatusTrialing: true, StatusPastDue: true,
	StatusSuspended: true, StatusCancelled: true,
}

// Tenant maps to the tenants table of the management database.
type Tenant struct {
	ID               uuid.UUID `json:"id"`
	Slug             string    `json:"slug"`
	Name             string    `json:"name"`
	DatabaseURL      string    `json:"-"`
	Status           string    `json:"status"`
	StripeCustomerID *string   `json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Info is the routing view used by the tenant middleware.
func (t *Tenant) Info() *db.TenantInfo {
	return &db.TenantInfo{
		ID:          t.ID,
		Slug:        t.Slug,
		Name:        t.Name,
		DatabaseURL: t.DatabaseURL,
		Status:      t.Status,
	}
}

// Plan maps to the plans table.
type Plan struct {
	ID               uuid.UUID `json:"id"`
	Code             string    `json:"code"`
	Name             string    `json:"name"`
	PriceCents       int64     `json:"price_cents"`
	Currency         string    `json:"currency"`
	Interval         string    `json:"interval"`
	StripePriceID    *string   `json:"stripe_price_id,omitempty"`
	MaxPractitioners int       `json:"max_practitioners"`
	Features         []string  `json:"features"`
	Active           bool      `json:"active"`
}

// Subscription maps to the subscriptions table. A tenant has at most one
// subscription per Stripe subscription ID; the newest one is current.
type Subscription struct {
	ID                   uuid.UUID  `json:"id"`
	TenantID             uuid.UUID  `json:"tenant_id"`
	PlanID               *uuid.UUID `json:"plan_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id"`
	Status               string     `json:"status"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// CreateInput is the admin request to register a tenant.
type CreateInput struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	DatabaseURL string `json:"database_url"`
	Status      string `json:"status"`
	Provision   bool   `json:"provision"`
}

// ListFilter narrows tenant listings.
type ListFilter struct {
	Status string
	Query  string
}

// SubscriptionUpdate is a billing provider's view of a subscription.
type SubscriptionUpdate struct {
	TenantID             uuid.UUID
	CustomerID           string
	StripeSubscriptionID string
	StripePriceID        string
	Status               string
	CurrentPeriodEnd     *time.Time
	CancelAtPeriodEnd    bool
}

// Stats summarises tenants for the admin dashboard.
type Stats struct {
	Tenants     int            `json:"tenants"`
	ByStatus    map[string]int `json:"by_status"`
	TenantPools int            `json:"tenant_pools"`
}

// tenantStatusFor maps a Stripe subscription status onto a tenant status.
// The second result is false when the tenant status should not change.
func tenantStatusFor(stripeStatus string) (string, bool) {
	switch stripeStatus {
	case "active":
		return StatusActive, true
	case "trialing":
		return StatusTrialing, true
	case "past_due", "unpaid":
		return StatusPastDue, true
	case "canceled", "incomplete_expired":
		return StatusCancelled, true
	case "paused":
		return StatusSuspended, true
	}
	return "", false
}
