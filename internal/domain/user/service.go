package user

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cabinet/cabinet/internal/platform/apperr"
	"github.com/cabinet/cabinet/internal/platform/auth"
)

// SessionRevoker ends every session of a user.
type SessionRevoker interface {
	DeleteUser(ctx context.Context, userID string) error
}

type Service struct {
	repo     Repository
	sessions SessionRevoker
	logger   zerolog.Logger
}

func NewService(repo Repository, sessions SessionRevoker, logger zerolog.Logger) *Service {
	return &Service{repo: repo, sessions: sessions, logger: logger}
}

// UpsertGoogleUser implements auth.UserDirectory. Accounts are matched by
// Google subject, then by verified email for users invited before their
// first sign-in. Unknown accounts are refused.
func (s *Service) UpsertGoogleUser(ctx context.Context, p *auth.GoogleProfile) (*auth.Identity, error) {
	if p == nil || p.Subject == "" {
		return nil, auth.ErrAccessDenied
	}

	u, err := s.repo.GetByGoogleSubject(ctx, p.Subject)
	if errors.Is(err, apperr.ErrNotFound) {
		if !p.EmailVerified || p.Email == "" {
			return nil, auth.ErrAccessDenied
		}
		u, err = s.repo.GetByEmail(ctx, p.Email)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, auth.ErrAccessDenied
		}
		if err == nil && u.GoogleSubject != nil && *u.GoogleSubject != p.Subject {
			// the email belongs to a different Google account
			return nil, auth.ErrAccessDenied
		}
	}
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, auth.ErrUserInactive
	}

	if err := s.repo.RecordLogin(ctx, u.ID, p.Subject, p.Name); err != nil {
		return nil, err
	}
	name := u.Name
	if p.Name != "" {
		name = p.Name
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("tenant_id", u.TenantSlug).Msg("user signed in")

	return &auth.Identity{
		UserID:     u.ID.String(),
		TenantSlug: u.TenantSlug,
		Email:      u.Email,
		Name:       name,
		Roles:      u.Roles,
	}, nil
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*User, int, error) {
	return s.repo.ListByTenant(ctx, tenantID, limit, offset)
}

// Get returns a user of the tenant. Users of other tenants are reported as
// not found.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.TenantID == nil || *u.TenantID != tenantID {
		return nil, apperr.NotFound("user")
	}
	return u, nil
}

// Invite registers a user who may sign in with the given Google email.
func (s *Service) Invite(ctx context.Context, tenantID uuid.UUID, in InviteInput) (*User, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil {
		return nil, apperr.Invalid("email is not valid")
	}
	roles, err := validateRoles(in.Roles)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetByEmail(ctx, addr.Address); err == nil {
		return nil, apperr.Conflict(nil, "a user with email %s already exists", addr.Address)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	u := &User{
		TenantID: &tenantID,
		Email:    strings.ToLower(addr.Address),
		Name:     strings.TrimSpace(in.Name),
		Roles:    roles,
		Active:   true,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) UpdateRoles(ctx context.Context, tenantID, id uuid.UUID, roles []string) (*User, error) {
	roles, err := validateRoles(roles)
	if err != nil {
		return nil, err
	}
	u, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateRoles(ctx, id, roles); err != nil {
		return nil, err
	}
	u.Roles = roles
	s.revoke(ctx, u)
	return u, nil
}

// Deactivate blocks a user and ends their sessions. Admins cannot
// deactivate themselves.
func (s *Service) Deactivate(ctx context.Context, tenantID, id uuid.UUID, actorID string) (*User, error) {
	if id.String() == actorID {
		return nil, apperr.Invalid("you cannot deactivate your own account")
	}
	return s.setActive(ctx, tenantID, id, false)
}

func (s *Service) Reactivate(ctx context.Context, tenantID, id uuid.UUID) (*User, error) {
	return s.setActive(ctx, tenantID, id, true)
}

func (s *Service) setActive(ctx context.Context, tenantID, id uuid.UUID, active bool) (*User, error) {
	u, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return nil, err
	}
	u.Active = active
	if !active {
		s.revoke(ctx, u)
	}
	return u, nil
}

// revoke forces the user to sign in again so role changes take effect.
func (s *Service) revoke(ctx context.Context, u *User) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.DeleteUser(ctx, u.ID.String()); err != nil {
		s.logger.Error().Err(err).Str("user_id", u.ID.String()).Msg("failed to revoke sessions")
	}
}

func validateRoles(roles []string) ([]string, error) {
	if len(roles) == 0 {
		return nil, apperr.Invalid("at least one role is required")
	}
	seen := make(map[string]bool, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if !assignableRoles[r] {
			return nil, apperr.Invalid("role %q cannot be assigned", r)
		}
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out, nil
}
