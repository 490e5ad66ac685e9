package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/cabinet/cabinet/internal/platform/apperr"
	"github.com/cabinet/cabinet/internal/platform/db"
)

// ProvisionFunc prepares a tenant database, typically by running the tenant
// migrations against it.
type ProvisionFunc func(ctx context.Context, databaseURL string) error

type Service struct {
	tenants   TenantRepository
	plans     PlanRepository
	subs      SubscriptionRepository
	registry  *db.Registry
	provision ProvisionFunc
	logger    zerolog.Logger
}

func NewService(tenants TenantRepository, plans PlanRepository, subs SubscriptionRepository, registry *db.Registry, provision ProvisionFunc, logger zerolog.Logger) *Service {
	return &Service{
		tenants:   tenants,
		plans:     plans,
		subs:      subs,
		registry:  registry,
		provision: provision,
		logger:    logger,
	}
}

// -- Tenants --

func (s *Service) Create(ctx context.Context, in CreateInput) (*Tenant, error) {
	in.Slug = strings.TrimSpace(in.Slug)
	in.Name = strings.TrimSpace(in.Name)
	if !db.ValidSlug(in.Slug) {
		return nil, apperr.Invalid("slug must be 2-63 lowercase letters, digits, '-' or '_'")
	}
	if in.Name == "" {
		return nil, apperr.Invalid("name is required")
	}
	if in.DatabaseURL == "" {
		return nil, apperr.Invalid("database_url is required")
	}
	if _, err := pgconn.ParseConfig(in.DatabaseURL); err != nil {
		return nil, apperr.Invalid("database_url is not a valid connection string")
	}
	if in.Status == "" {
		in.Status = StatusTrialing
	}
	if !validStatuses[in.Status] {
		return nil, apperr.Invalid("invalid status: %s", in.Status)
	}

	if _, err := s.tenants.GetBySlug(ctx, in.Slug); err == nil {
		return nil, apperr.Conflict(nil, "tenant %q already exists", in.Slug)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	if in.Provision {
		if s.provision == nil {
			return nil, apperr.Invalid("provisioning is not available")
		}
		if err := s.provision(ctx, in.DatabaseURL); err != nil {
			return nil, fmt.Errorf("provision tenant %s: %w", in.Slug, err)
		}
	}

	t := &Tenant{Slug: in.Slug, Name: in.Name, DatabaseURL: in.DatabaseURL, Status: in.Status}
	if err := s.tenants.Create(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info().Str("tenant_id", t.Slug).Bool("provisioned", in.Provision).Msg("tenant created")
	return t, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return s.tenants.GetByID(ctx, id)
}

func (s *Service) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return s.tenants.GetBySlug(ctx, slug)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Tenant, int, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, apperr.Invalid("invalid status: %s", f.Status)
	}
	return s.tenants.List(ctx, f, limit, offset)
}

// ListServable returns every tenant whose requests are served.
func (s *Service) ListServable(ctx context.Context) ([]*Tenant, error) {
	return s.tenants.ListByStatus(ctx, StatusActive, StatusTrialing, StatusPastDue)
}

func (s *Service) Suspend(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return s.setStatus(ctx, id, StatusSuspended)
}

func (s *Service) Reactivate(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return s.setStatus(ctx, id, StatusActive)
}

func (s *Service) setStatus(ctx context.Context, id uuid.UUID, status string) (*Tenant, error) {
	t, err := s.tenants.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == status {
		return t, nil
	}
	if err := s.tenants.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	s.logger.Info().Str("tenant_id", t.Slug).Str("from", t.Status).Str("to", status).Msg("tenant status changed")
	t.Status = status
	return t, nil
}

// TenantBySlug implements db.TenantLookup.
func (s *Service) TenantBySlug(ctx context.Context, slug string) (*db.TenantInfo, error) {
	t, err := s.tenants.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, db.ErrTenantNotFound
		}
		return nil, err
	}
	return t.Info(), nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.tenants.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{ByStatus: counts}
	for _, n := range counts {
		st.Tenants += n
	}
	if s.registry != nil {
		st.TenantPools = s.registry.Len()
	}
	return st, nil
}

// -- Plans and subscriptions --

func (s *Service) ListPlans(ctx context.Context) ([]*Plan, error) {
	return s.plans.List(ctx, true)
}

func (s *Service) GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error) {
	return s.plans.GetByID(ctx, id)
}

func (s *Service) CurrentSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	return s.subs.GetCurrent(ctx, tenantID)
}

// AttachCustomer records the Stripe customer of a tenant.
func (s *Service) AttachCustomer(ctx context.Context, tenantID uuid.UUID, customerID string) error {
	if customerID == "" {
		return apperr.Invalid("customer id is required")
	}
	return s.tenants.SetStripeCustomer(ctx, tenantID, customerID)
}

// ApplySubscription stores a subscription reported by the billing provider
// and mirrors its status onto the tenant.
func (s *Service) ApplySubscription(ctx context.Context, u SubscriptionUpdate) (*Subscription, error) {
	if u.StripeSubscriptionID == "" {
		return nil, apperr.Invalid("subscription id is required")
	}
	t, err := s.resolveTenant(ctx, u.TenantID, u.CustomerID)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		TenantID:             t.ID,
		StripeSubscriptionID: u.StripeSubscriptionID,
		Status:               u.Status,
		CurrentPeriodEnd:     u.CurrentPeriodEnd,
		CancelAtPeriodEnd:    u.CancelAtPeriodEnd,
	}
	if u.StripePriceID != "" {
		plan, err := s.plans.GetByStripePrice(ctx, u.StripePriceID)
		switch {
		case err == nil:
			sub.PlanID = &plan.ID
		case errors.Is(err, apperr.ErrNotFound):
			s.logger.Warn().Str("price_id", u.StripePriceID).Msg("subscription price matches no plan")
		default:
			return nil, err
		}
	}
	if err := s.subs.Upsert(ctx, sub); err != nil {
		return nil, err
	}

	if status, ok := tenantStatusFor(u.Status); ok && t.Status != StatusSuspended {
		if _, err := s.setStatus(ctx, t.ID, status); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// MarkPastDue flags the customer's tenant after a failed payment.
func (s *Service) MarkPastDue(ctx context.Context, customerID string) error {
	t, err := s.tenants.GetByStripeCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	if t.Status == StatusSuspended || t.Status == StatusCancelled {
		return nil
	}
	_, err = s.setStatus(ctx, t.ID, StatusPastDue)
	return err
}

// MarkPaid restores a past-due or trialing tenant after a paid invoice.
func (s *Service) MarkPaid(ctx context.Context, customerID string) error {
	t, err := s.tenants.GetByStripeCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	if t.Status != StatusPastDue && t.Status != StatusTrialing {
		return nil
	}
	_, err = s.setStatus(ctx, t.ID, StatusActive)
	return err
}

func (s *Service) resolveTenant(ctx context.Context, id uuid.UUID, customerID string) (*Tenant, error) {
	if id != uuid.Nil {
		return s.tenants.GetByID(ctx, id)
	}
	if customerID != "" {
		return s.tenants.GetByStripeCustomer(ctx, customerID)
	}
	return nil, apperr.Invalid("subscription has neither tenant nor customer")
}
