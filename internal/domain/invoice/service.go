package invoice

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cabinet/cabinet/internal/platform/apperr"
	"github.com/cabinet/cabinet/internal/platform/db"
)

const (
	DefaultCurrency  = "EUR"
	DefaultDueInDays = 30
	maxDueInDays     = 365
)

type Service struct {
	repo Repository
	now  func() time.Time
	inTx func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now, inTx: db.RunInTx}
}

func normalise(inv *Invoice) error {
	if len(inv.Lines) == 0 {
		return apperr.Invalid("an invoice needs at least one line")
	}
	for i := range inv.Lines {
		l := &inv.Lines[i]
		l.Description = strings.TrimSpace(l.Description)
		if l.Description == "" {
			return apperr.Invalid("line %d: description is required", i+1)
		}
		if l.Quantity <= 0 {
			return apperr.Invalid("line %d: quantity must be positive", i+1)
		}
		if l.UnitCents < 0 {
			return apperr.Invalid("line %d: unit price cannot be negative", i+1)
		}
	}
	inv.Currency = strings.ToUpper(strings.TrimSpace(inv.Currency))
	if inv.Currency == "" {
		inv.Currency = DefaultCurrency
	}
	if len(inv.Currency) != 3 {
		return apperr.Invalid("currency must be an ISO 4217 code")
	}
	inv.TotalCents = inv.Total()
	return nil
}

// Create stores a draft invoice. Totals are always computed from the lines.
func (s *Service) Create(ctx context.Context, inv *Invoice) error {
	if inv.PatientID == uuid.Nil {
		return apperr.Invalid("patient_id is required")
	}
	if err := normalise(inv); err != nil {
		return err
	}
	inv.Status = StatusDraft
	inv.Number = ""
	inv.IssuedAt, inv.PaidAt = nil, nil
	return s.repo.Create(ctx, inv)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Invoice, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// UpdateDraft replaces the lines and notes of a draft.
func (s *Service) UpdateDraft(ctx context.Context, upd *Invoice) (*Invoice, error) {
	inv, err := s.repo.GetByID(ctx, upd.ID)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusDraft {
		return nil, apperr.Conflict(ErrInvalidTransition, "only draft invoices can be edited")
	}
	inv.Lines = upd.Lines
	inv.Currency = upd.Currency
	inv.Notes = upd.Notes
	inv.AppointmentID = upd.AppointmentID
	if err := normalise(inv); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateDraft(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Issue numbers the invoice and starts its payment term.
func (s *Service) Issue(ctx context.Context, id uuid.UUID, in IssueInput) (*Invoice, error) {
	if in.DueInDays == 0 {
		in.DueInDays = DefaultDueInDays
	}
	if in.DueInDays < 0 || in.DueInDays > maxDueInDays {
		return nil, apperr.Invalid("due_in_days must be between 1 and %d", maxDueInDays)
	}

	var result *Invoice
	err := s.inTx(ctx, func(ctx context.Context) error {
		inv, from, err := s.transition(ctx, id, StatusIssued)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		seq, err := s.repo.NextNumber(ctx, now.Year())
		if err != nil {
			return err
		}
		due := now.AddDate(0, 0, in.DueInDays)
		inv.Number = FormatNumber(now.Year(), seq)
		inv.IssuedAt = &now
		inv.DueAt = &due
		if err := s.repo.SaveStatus(ctx, inv, from); err != nil {
			return err
		}
		result = inv
		return nil
	})
	return result, err
}

func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, in PaymentInput) (*Invoice, error) {
	inv, from, err := s.transition(ctx, id, StatusPaid)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	inv.PaidAt = &now
	inv.PaymentMethod = strings.TrimSpace(in.Method)
	if err := s.repo.SaveStatus(ctx, inv, from); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) Void(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, from, err := s.transition(ctx, id, StatusVoid)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveStatus(ctx, inv, from); err != nil {
		return nil, err
	}
	return inv, nil
}

// MarkOverdue flags every issued invoice past its due date.
func (s *Service) MarkOverdue(ctx context.Context) (int64, error) {
	return s.repo.MarkOverdue(ctx, s.now())
}

// transition loads the invoice and moves it to a new status in memory. It
// returns the status read so the write can be guarded against it.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to string) (*Invoice, string, error) {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	from := inv.Status
	if !CanTransition(from, to) {
		return nil, "", apperr.Conflict(ErrInvalidTransition, "cannot move invoice from %s to %s", from, to)
	}
	inv.Status = to
	return inv, from, nil
}
