package user

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cabinet/cabinet/internal/platform/apperr"
)

type userRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &userRepoPG{pool: pool} }

const userSelect = `SELECT u.id, u.tenant_id, COALESCE(t.slug, ''), u.email, u.name, u.google_subject,
	u.roles, u.active, u.last_login_at, u.created_at, u.updated_at
	FROM users u LEFT JOIN tenants t ON t.id = u.tenant_id`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.TenantID, &u.TenantSlug, &u.Email, &u.Name, &u.GoogleSubject,
		&u.Roles, &u.Active, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, apperr.FromPG(err, "user")
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, tenant_id, email, name, roles, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		u.ID, u.TenantID, u.Email, u.Name, u.Roles, u.Active).Scan(&u.CreatedAt, &u.UpdatedAt)
	return apperr.FromPG(err, "user")
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx, userSelect+` WHERE u.id = $1`, id))
}

func (r *userRepoPG) GetByGoogleSubject(ctx context.Context, subject string) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx, userSelect+` WHERE u.google_subject = $1`, subject))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx, userSelect+` WHERE lower(u.email) = lower($1)`, email))
}

func (r *userRepoPG) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*User, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	rows, err := r.pool.Query(ctx, userSelect+` WHERE u.tenant_id = $1 ORDER BY u.name LIMIT $2 OFFSET $3`,
		tenantID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var items []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}

func (r *userRepoPG) RecordLogin(ctx context.Context, id uuid.UUID, subject, name string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET google_subject = COALESCE(google_subject, $2),
			name = CASE WHEN $3 = '' THEN name ELSE $3 END,
			last_login_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id, subject, name)
	return apperr.FromPG(err, "user")
}

func (r *userRepoPG) UpdateRoles(ctx context.Context, id uuid.UUID, roles []string) error {
	return r.update(ctx, `UPDATE users SET roles = $2, updated_at = NOW() WHERE id = $1`, id, roles)
}

func (r *userRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.update(ctx, `UPDATE users SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

func (r *userRepoPG) update(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return apperr.FromPG(err, "user")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user")
	}
	return nil
}
