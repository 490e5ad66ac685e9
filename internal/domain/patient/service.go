package patient

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cabinet/cabinet/internal/platform/apperr"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// NewMRN returns a medical record number of the form P-XXXXXXXX.
func NewMRN() string {
	return "P-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

const mrnAttempts = 3

func (s *Service) Create(ctx context.Context, p *Patient) error {
	if err := s.validate(p); err != nil {
		return err
	}
	p.Active = true

	if p.MRN != "" {
		return s.repo.Create(ctx, p)
	}
	var err error
	for i := 0; i < mrnAttempts; i++ {
		p.MRN = NewMRN()
		if err = s.repo.Create(ctx, p); !errors.Is(err, apperr.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return s.repo.GetByMRN(ctx, strings.ToUpper(strings.TrimSpace(mrn)))
}

func (s *Service) Update(ctx context.Context, p *Patient) error {
	if err := s.validate(p); err != nil {
		return err
	}
	existing, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	p.MRN = existing.MRN
	p.Active = existing.Active
	p.CreatedAt = existing.CreatedAt
	return nil
}

// Delete deactivates the patient. Records are kept for the legal retention
// period.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.SetActive(ctx, id, false)
}

func (s *Service) Restore(ctx context.Context, id uuid.UUID) error {
	return s.repo.SetActive(ctx, id, true)
}

func (s *Service) Search(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error) {
	f.Query = strings.TrimSpace(f.Query)
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) validate(p *Patient) error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Email = strings.TrimSpace(p.Email)
	p.MRN = strings.ToUpper(strings.TrimSpace(p.MRN))

	if p.FirstName == "" || p.LastName == "" {
		return apperr.Invalid("first_name and last_name are required")
	}
	if !validGenders[p.Gender] {
		return apperr.Invalid("invalid gender: %s", p.Gender)
	}
	if p.BirthDate != "" {
		bd, err := time.Parse(birthDateLayout, p.BirthDate)
		if err != nil {
			return apperr.Invalid("birth_date must be YYYY-MM-DD")
		}
		if bd.After(s.now()) {
			return apperr.Invalid("birth_date is in the future")
		}
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return apperr.Invalid("email is not valid")
		}
	}
	return nil
}
