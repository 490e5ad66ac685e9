package teleconsult

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Session, int, error)
	// SaveStatus writes the status and lifecycle timestamps if the stored
	// status is still from, else fails with a conflict on ErrInvalidTransition.
	SaveStatus(ctx context.Context, s *Session, from string) error
	// ExpireScheduledBefore expires scheduled sessions that should have
	// started before cutoff and returns how many were changed.
	ExpireScheduledBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
