package tenant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cabinet/cabinet/internal/platform/apperr"
)

// =========== Tenant Repository ===========

type tenantRepoPG struct{ pool *pgxpool.Pool }

func NewTenantRepoPG(pool *pgxpool.Pool) TenantRepository { return &tenantRepoPG{pool: pool} }

const tenantCols = `id, slug, name, database_url, status, stripe_customer_id, created_at, updated_at`

func scanTenant(row pgx.Row) (*Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.DatabaseURL, &t.Status, &t.StripeCustomerID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, apperr.FromPG(err, "tenant")
	}
	return &t, nil
}

func (r *tenantRepoPG) Create(ctx context.Context, t *Tenant) error {
	t.ID = uuid.New()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO tenants (id, slug, name, database_url, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		t.ID, t.Slug, t.Name, t.DatabaseURL, t.Status).Scan(&t.CreatedAt, &t.UpdatedAt)
	return apperr.FromPG(err, "tenant")
}

func (r *tenantRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return scanTenant(r.pool.QueryRow(ctx, `SELECT `+tenantCols+` FROM tenants WHERE id = $1`, id))
}

func (r *tenantRepoPG) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return scanTenant(r.pool.QueryRow(ctx, `SELECT `+tenantCols+` FROM tenants WHERE slug = $1`, slug))
}

func (r *tenantRepoPG) GetByStripeCustomer(ctx context.Context, customerID string) (*Tenant, error) {
	return scanTenant(r.pool.QueryRow(ctx, `SELECT `+tenantCols+` FROM tenants WHERE stripe_customer_id = $1`, customerID))
}

func (r *tenantRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Tenant, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Query != "" {
		where += fmt.Sprintf(` AND (slug ILIKE $%d OR name ILIKE $%d)`, idx, idx)
		args = append(args, "%"+f.Query+"%")
		idx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tenants`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tenants: %w", err)
	}

	query := `SELECT ` + tenantCols + ` FROM tenants` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	items, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *tenantRepoPG) ListByStatus(ctx context.Context, statuses ...string) ([]*Tenant, error) {
	return r.query(ctx, `SELECT `+tenantCols+` FROM tenants WHERE status = ANY($1) ORDER BY slug`, statuses)
}

func (r *tenantRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Tenant, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var items []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *tenantRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tenants SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return apperr.FromPG(err, "tenant")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("tenant")
	}
	return nil
}

func (r *tenantRepoPG) SetStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE tenants SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1`, id, customerID)
	return apperr.FromPG(err, "tenant")
}

func (r *tenantRepoPG) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM tenants GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tenants: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// =========== Plan Repository ===========

type planRepoPG struct{ pool *pgxpool.Pool }

func NewPlanRepoPG(pool *pgxpool.Pool) PlanRepository { return &planRepoPG{pool: pool} }

const planCols = `id, code, name, price_cents, currency, interval, stripe_price_id, max_practitioners, features, active`

func scanPlan(row pgx.Row) (*Plan, error) {
	var p Plan
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.PriceCents, &p.Currency, &p.Interval,
		&p.StripePriceID, &p.MaxPractitioners, &p.Features, &p.Active)
	if err != nil {
		return nil, apperr.FromPG(err, "plan")
	}
	return &p, nil
}

func (r *planRepoPG) List(ctx context.Context, activeOnly bool) ([]*Plan, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+planCols+` FROM plans WHERE active OR NOT $1 ORDER BY price_cents`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var items []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *planRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Plan, error) {
	return scanPlan(r.pool.QueryRow(ctx, `SELECT `+planCols+` FROM plans WHERE id = $1`, id))
}

func (r *planRepoPG) GetByCode(ctx context.Context, code string) (*Plan, error) {
	return scanPlan(r.pool.QueryRow(ctx, `SELECT `+planCols+` FROM plans WHERE code = $1`, code))
}

func (r *planRepoPG) GetByStripePrice(ctx context.Context, priceID string) (*Plan, error) {
	return scanPlan(r.pool.QueryRow(ctx, `SELECT `+planCols+` FROM plans WHERE stripe_price_id = $1`, priceID))
}

// =========== Subscription Repository ===========

type subscriptionRepoPG struct{ pool *pgxpool.Pool }

func NewSubscriptionRepoPG(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepoPG{pool: pool}
}

const subCols = `id, tenant_id, plan_id, stripe_subscription_id, status, current_period_end, cancel_at_period_end, created_at, updated_at`

func (r *subscriptionRepoPG) Upsert(ctx context.Context, s *Subscription) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (id, tenant_id, plan_id, stripe_subscription_id, status, current_period_end, cancel_at_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			plan_id = COALESCE(EXCLUDED.plan_id, subscriptions.plan_id),
			status = EXCLUDED.status,
			current_period_end = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		s.ID, s.TenantID, s.PlanID, s.StripeSubscriptionID, s.Status, s.CurrentPeriodEnd, s.CancelAtPeriodEnd,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	return apperr.FromPG(err, "subscription")
}

func (r *subscriptionRepoPG) GetCurrent(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	var s Subscription
	err := r.pool.QueryRow(ctx, `SELECT `+subCols+` FROM subscriptions WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT 1`, tenantID).
		Scan(&s.ID, &s.TenantID, &s.PlanID, &s.StripeSubscriptionID, &s.Status, &s.CurrentPeriodEnd, &s.CancelAtPeriodEnd, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, apperr.FromPG(err, "subscription")
	}
	return &s, nil
}
