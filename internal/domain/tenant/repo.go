package tenant

import (
	"context"

	"github.com/google/uuid"
)

type TenantRepository interface {
	Create(ctx context.Context, t *Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	GetByStripeCustomer(ctx context.Context, customerID string) (*Tenant, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Tenant, int, error)
	ListByStatus(ctx context.Context, statuses ...string) ([]*Tenant, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	SetStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) error
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type PlanRepository interface {
	List(ctx context.Context, activeOnly bool) ([]*Plan, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Plan, error)
	GetByCode(ctx context.Context, code string) (*Plan, error)
	GetByStripePrice(ctx context.Context, priceID string) (*Plan, error)
}

type SubscriptionRepository interface {
	// Upsert inserts or updates by StripeSubscriptionID.
	Upsert(ctx context.Context, s *Subscription) error
	GetCurrent(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)
}
