package invoice

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// UpdateDraft replaces the content of a draft invoice.
	UpdateDraft(ctx context.Context, inv *Invoice) error
	// SaveStatus persists status, number, payment method and lifecycle
	// timestamps if the stored status is still from. Otherwise it fails with
	// a conflict wrapping ErrInvalidTransition.
	SaveStatus(ctx context.Context, inv *Invoice, from string) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Invoice, int, error)
	// NextNumber returns the next invoice sequence for the year.
	NextNumber(ctx context.Context, year int) (int, error)
	// MarkOverdue flags issued invoices due before now and returns how many changed.
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
}
