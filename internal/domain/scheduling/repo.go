package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Update rewrites the slot and details of an appointment that is still
	// scheduled or confirmed.
	Update(ctx context.Context, a *Appointment) error
	// UpdateStatus moves the appointment from one status to another. A
	// stored status other than from fails with a conflict on
	// ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to, reason string) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListByPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*Appointment, error)
	// CountOverlapping counts blocking appointments of the practitioner
	// intersecting [start, end), ignoring exclude.
	CountOverlapping(ctx context.Context, practitionerID uuid.UUID, start, end time.Time, exclude uuid.UUID) (int, error)
	// LockPractitioner serialises bookings for a practitioner until the
	// surrounding transaction ends.
	LockPractitioner(ctx context.Context, practitionerID uuid.UUID) error
}
