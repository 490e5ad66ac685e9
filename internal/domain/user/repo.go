package user

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByGoogleSubject(ctx context.Context, subject string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*User, int, error)
	// RecordLogin binds the Google subject when unset and refreshes name and last login.
	RecordLogin(ctx context.Context, id uuid.UUID, subject, name string) error
	UpdateRoles(ctx context.Context, id uuid.UUID, roles []string) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}
