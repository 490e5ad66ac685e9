package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cabinet/cabinet/internal/platform/apperr"
	"github.com/cabinet/cabinet/internal/platform/db"
)

type invoiceRepoPG struct{}

func NewRepoPG() Repository { return &invoiceRepoPG{} }

const invoiceCols = `id, COALESCE(number, ''), patient_id, appointment_id, lines, total_cents, currency, status,
	notes, payment_method, issued_at, due_at, paid_at, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.PatientID, &inv.AppointmentID, &inv.Lines, &inv.TotalCents,
		&inv.Currency, &inv.Status, &inv.Notes, &inv.PaymentMethod, &inv.IssuedAt, &inv.DueAt, &inv.PaidAt,
		&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, apperr.FromPG(err, "invoice")
	}
	return &inv, nil
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return err
	}
	inv.ID = uuid.New()
	err = q.QueryRow(ctx, `
		INSERT INTO invoices (id, patient_id, appointment_id, lines, total_cents, currency, status, notes, due_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		inv.ID, inv.PatientID, inv.AppointmentID, inv.Lines, inv.TotalCents, inv.Currency, inv.Status, inv.Notes, inv.DueAt,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	return apperr.FromPG(err, "invoice")
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return nil, err
	}
	return scanInvoice(q.QueryRow(ctx, `SELECT `+invoiceCols+` FROM invoices WHERE id = $1`, id))
}

func (r *invoiceRepoPG) UpdateDraft(ctx context.Context, inv *Invoice) error {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return err
	}
	err = q.QueryRow(ctx, `
		UPDATE invoices SET lines = $2, total_cents = $3, currency = $4, notes = $5, appointment_id = $6, updated_at = NOW()
		WHERE id = $1 AND status = 'draft'
		RETURNING updated_at`,
		inv.ID, inv.Lines, inv.TotalCents, inv.Currency, inv.Notes, inv.AppointmentID,
	).Scan(&inv.UpdatedAt)
	return apperr.FromPG(err, "invoice")
}

func (r *invoiceRepoPG) SaveStatus(ctx context.Context, inv *Invoice, from string) error {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return err
	}
	err = q.QueryRow(ctx, `
		UPDATE invoices SET status = $2, number = NULLIF($3, ''), payment_method = $4,
			issued_at = $5, due_at = $6, paid_at = $7, updated_at = NOW()
		WHERE id = $1 AND status = $8
		RETURNING updated_at`,
		inv.ID, inv.Status, inv.Number, inv.PaymentMethod, inv.IssuedAt, inv.DueAt, inv.PaidAt, from,
	).Scan(&inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Conflict(ErrInvalidTransition, "invoice is no longer %s", from)
	}
	return apperr.FromPG(err, "invoice")
}

func (r *invoiceRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Invoice, int, error) {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return nil, 0, err
	}

	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.PatientID != nil {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	query := `SELECT ` + invoiceCols + ` FROM invoices` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var items []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

func (r *invoiceRepoPG) NextNumber(ctx context.Context, year int) (int, error) {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return 0, err
	}
	var seq int
	err = q.QueryRow(ctx, `
		INSERT INTO invoice_counters (year, last_value) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_value = invoice_counters.last_value + 1
		RETURNING last_value`, year).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next invoice number: %w", err)
	}
	return seq, nil
}

func (r *invoiceRepoPG) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := q.Exec(ctx, `
		UPDATE invoices SET status = 'overdue', updated_at = NOW()
		WHERE status = 'issued' AND due_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("mark overdue invoices: %w", err)
	}
	return tag.RowsAffected(), nil
}
