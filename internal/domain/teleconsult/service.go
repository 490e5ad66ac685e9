package teleconsult

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cabinet/cabinet/internal/platform/apperr"
	"github.com/cabinet/cabinet/internal/platform/db"
)

// RoomCloser disconnects everyone still in a signalling room.
type RoomCloser interface {
	CloseRoom(room string)
}

// RoomKey scopes a room to its tenant so rooms never collide across tenants.
func RoomKey(tenant, room string) string {
	return tenant + "/" + room
}

type Service struct {
	repo   Repository
	tokens tokenSigner
	rooms  RoomCloser
	now    func() time.Time
}

func NewService(repo Repository, signingKey []byte, tokenTTL time.Duration, rooms RoomCloser) *Service {
	return &Service{
		repo:   repo,
		tokens: tokenSigner{key: signingKey, ttl: tokenTTL},
		rooms:  rooms,
		now:    time.Now,
	}
}

func (s *Service) Create(ctx context.Context, sess *Session) error {
	if sess.PatientID == uuid.Nil {
		return apperr.Invalid("patient_id is required")
	}
	if sess.PractitionerID == uuid.Nil {
		return apperr.Invalid("practitioner_id is required")
	}
	if sess.ScheduledStart.IsZero() {
		sess.ScheduledStart = s.now()
	}
	sess.ScheduledStart = sess.ScheduledStart.UTC()
	sess.RoomID = uuid.NewString()
	sess.Status = StatusScheduled
	sess.StartedAt = nil
	sess.EndedAt = nil
	return s.repo.Create(ctx, sess)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Session, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// Start marks the session live.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Session, error) {
	return s.transition(ctx, id, StatusLive)
}

// End closes the session and disconnects any connected participants.
func (s *Service) End(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := s.transition(ctx, id, StatusEnded)
	if err != nil {
		return nil, err
	}
	if s.rooms != nil {
		s.rooms.CloseRoom(RoomKey(db.TenantSlugFromContext(ctx), sess.RoomID))
	}
	return sess, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to string) (*Session, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := sess.Status
	if !CanTransition(from, to) {
		return nil, apperr.Conflict(ErrInvalidTransition, "cannot move session from %s to %s", from, to)
	}
	now := s.now().UTC()
	switch to {
	case StatusLive:
		sess.StartedAt = &now
	case StatusEnded:
		sess.EndedAt = &now
	}
	sess.Status = to
	if err := s.repo.SaveStatus(ctx, sess, from); err != nil {
		return nil, err
	}
	return sess, nil
}

// IssueToken signs a join token for the session's room. The tenant comes from ctx.
func (s *Service) IssueToken(ctx context.Context, id uuid.UUID, role string) (*JoinToken, error) {
	if role != RolePractitioner && role != RolePatient {
		return nil, apperr.Invalid("role must be %s or %s", RolePractitioner, RolePatient)
	}
	tenant := db.TenantSlugFromContext(ctx)
	if tenant == "" {
		return nil, db.ErrNoTenantDB
	}
	if len(s.tokens.key) == 0 {
		return nil, errors.New("teleconsult signing key is not configured")
	}

	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.Open() {
		return nil, apperr.Conflict(ErrSessionClosed, "session is %s", sess.Status)
	}

	claims := Claims{
		SessionID: sess.ID.String(),
		Room:      sess.RoomID,
		Tenant:    tenant,
		Role:      role,
	}
	claims.Subject = sess.PatientID.String()
	if role == RolePractitioner {
		claims.Subject = sess.PractitionerID.String()
	}
	signed, exp, err := s.tokens.sign(claims, s.now())
	if err != nil {
		return nil, err
	}
	return &JoinToken{Token: signed, Room: sess.RoomID, Role: role, ExpiresAt: exp}, nil
}

// ParseToken verifies the signature and expiry of a join token.
func (s *Service) ParseToken(raw string) (*Claims, error) {
	if len(s.tokens.key) == 0 {
		return nil, ErrInvalidToken
	}
	return s.tokens.parse(raw, s.now)
}

// Authorize checks that the session named by claims still accepts
// participants. ctx must be bound to the tenant in the claims.
func (s *Service) Authorize(ctx context.Context, claims *Claims) (*Session, error) {
	id, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.RoomID != claims.Room {
		return nil, ErrInvalidToken
	}
	if !sess.Open() {
		return nil, apperr.Conflict(ErrSessionClosed, "session is %s", sess.Status)
	}
	return sess, nil
}

// ExpireStale expires sessions still scheduled ExpireAfter past their start.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	return s.repo.ExpireScheduledBefore(ctx, s.now().Add(-ExpireAfter))
}
