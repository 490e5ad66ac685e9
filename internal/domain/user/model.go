package user

import (
	"time"

	"github.com/google/uuid"

	"github.com/cabinet/cabinet/internal/platform/session"
)

// User maps to the users table of the management database. Superadmins have
// no tenant.
type User struct {
	ID            uuid.UUID  `json:"id"`
	TenantID      *uuid.UUID `json:"tenant_id,omitempty"`
	TenantSlug    string     `json:"tenant_slug,omitempty"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	GoogleSubject *string    `json:"-"`
	Roles         []string   `json:"roles"`
	Active        bool       `json:"active"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type InviteInput struct {
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// assignableRoles are the roles a tenant admin may grant.
var assignableRoles = map[string]bool{
	session.RoleAdmin:        true,
	session.RolePractitioner: true,
	session.RoleStaff:        true,
}
