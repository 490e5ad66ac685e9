package prescription

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cabinet/cabinet/internal/platform/apperr"
)

const maxItems = 20

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) Create(ctx context.Context, p *Prescription) error {
	if p.PatientID == uuid.Nil {
		return apperr.Invalid("patient_id is required")
	}
	if p.PractitionerID == uuid.Nil {
		return apperr.Invalid("practitioner_id is required")
	}
	if len(p.Items) == 0 {
		return apperr.Invalid("a prescription needs at least one item")
	}
	if len(p.Items) > maxItems {
		return apperr.Invalid("a prescription holds at most %d items", maxItems)
	}
	for i := range p.Items {
		it := &p.Items[i]
		it.Drug = strings.TrimSpace(it.Drug)
		it.Dosage = strings.TrimSpace(it.Dosage)
		if it.Drug == "" || it.Dosage == "" {
			return apperr.Invalid("item %d: drug and dosage are required", i+1)
		}
		if it.DurationDays < 0 {
			return apperr.Invalid("item %d: duration_days cannot be negative", i+1)
		}
	}
	p.Status = StatusActive
	p.IssuedAt = s.now().UTC()
	p.CancelledAt = nil
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, status string, limit, offset int) ([]*Prescription, int, error) {
	return s.repo.ListByPatient(ctx, patientID, status, limit, offset)
}

// Cancel withdraws an active prescription.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusActive {
		return nil, apperr.Conflict(nil, "prescription is already %s", p.Status)
	}
	now := s.now().UTC()
	if err := s.repo.UpdateStatus(ctx, id, StatusCancelled, &now); err != nil {
		return nil, err
	}
	p.Status = StatusCancelled
	p.CancelledAt = &now
	return p, nil
}
