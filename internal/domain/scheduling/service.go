package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cabinet/cabinet/internal/platform/apperr"
	"github.com/cabinet/cabinet/internal/platform/db"
)

// MaxDuration bounds a single appointment.
const MaxDuration = 8 * time.Hour

type Service struct {
	appointments AppointmentRepository
	inTx         func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewService(appt AppointmentRepository) *Service {
	return &Service{appointments: appt, inTx: db.RunInTx}
}

func validateSlot(a *Appointment) error {
	if a.Start.IsZero() || a.End.IsZero() {
		return apperr.Invalid("start and end are required")
	}
	if !a.End.After(a.Start) {
		return apperr.Invalid("end must be after start")
	}
	if a.End.Sub(a.Start) > MaxDuration {
		return apperr.Invalid("appointment cannot exceed %s", MaxDuration)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, a *Appointment) error {
	if a.PatientID == uuid.Nil {
		return apperr.Invalid("patient_id is required")
	}
	if a.PractitionerID == uuid.Nil {
		return apperr.Invalid("practitioner_id is required")
	}
	if a.Type == "" {
		a.Type = TypeInPerson
	}
	if !validTypes[a.Type] {
		return apperr.Invalid("invalid appointment type: %s", a.Type)
	}
	if err := validateSlot(a); err != nil {
		return err
	}
	a.Status = StatusScheduled
	a.Reason = strings.TrimSpace(a.Reason)
	a.CancellationReason = ""

	return s.inTx(ctx, func(ctx context.Context) error {
		if err := s.checkFree(ctx, a, uuid.Nil); err != nil {
			return err
		}
		return s.appointments.Create(ctx, a)
	})
}

func (s *Service) checkFree(ctx context.Context, a *Appointment, exclude uuid.UUID) error {
	if err := s.appointments.LockPractitioner(ctx, a.PractitionerID); err != nil {
		return err
	}
	n, err := s.appointments.CountOverlapping(ctx, a.PractitionerID, a.Start, a.End, exclude)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperr.Conflict(ErrOverlap, "practitioner already has an appointment between %s and %s",
			a.Start.Format(time.RFC3339), a.End.Format(time.RFC3339))
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

// Reschedule moves an open appointment to a new time, practitioner or type.
// It is a patch: zero-valued fields of upd keep their stored value.
func (s *Service) Reschedule(ctx context.Context, upd *Appointment) (*Appointment, error) {
	var result *Appointment
	err := s.inTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetByID(ctx, upd.ID)
		if err != nil {
			return err
		}
		if a.Status != StatusScheduled && a.Status != StatusConfirmed {
			return apperr.Conflict(ErrInvalidTransition, "cannot reschedule a %s appointment", a.Status)
		}
		if upd.PractitionerID != uuid.Nil {
			a.PractitionerID = upd.PractitionerID
		}
		if upd.Type != "" {
			if !validTypes[upd.Type] {
				return apperr.Invalid("invalid appointment type: %s", upd.Type)
			}
			a.Type = upd.Type
		}
		if !upd.Start.IsZero() {
			a.Start = upd.Start
		}
		if !upd.End.IsZero() {
			a.End = upd.End
		}
		if reason := strings.TrimSpace(upd.Reason); reason != "" {
			a.Reason = reason
		}
		if upd.Notes != "" {
			a.Notes = upd.Notes
		}
		if err := validateSlot(a); err != nil {
			return err
		}
		if err := s.checkFree(ctx, a, a.ID); err != nil {
			return err
		}
		if err := s.appointments.Update(ctx, a); err != nil {
			return err
		}
		result = a
		return nil
	})
	return result, err
}

// Transition moves the appointment to a new status. Moves not allowed by
// the lifecycle fail with ErrInvalidTransition.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, ch StatusChange) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, ch.Status) {
		return nil, apperr.Conflict(ErrInvalidTransition, "cannot move appointment from %s to %s", a.Status, ch.Status)
	}
	reason := ""
	if ch.Status == StatusCancelled {
		reason = strings.TrimSpace(ch.Reason)
	}
	if err := s.appointments.UpdateStatus(ctx, id, a.Status, ch.Status, reason); err != nil {
		return nil, err
	}
	a.Status = ch.Status
	a.CancellationReason = reason
	return a, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.ListByPatient(ctx, patientID, limit, offset)
}

// ListByPractitioner returns the practitioner's appointments intersecting
// [from, to).
func (s *Service) ListByPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	if !to.After(from) {
		return nil, apperr.Invalid("to must be after from")
	}
	if to.Sub(from) > 31*24*time.Hour {
		return nil, apperr.Invalid("range cannot exceed 31 days")
	}
	return s.appointments.ListByPractitioner(ctx, practitionerID, from, to)
}
