package prescription

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cabinet/cabinet/internal/platform/apperr"
	"github.com/cabinet/cabinet/internal/platform/db"
)

type prescriptionRepoPG struct{}

func NewRepoPG() Repository { return &prescriptionRepoPG{} }

const rxCols = `id, patient_id, practitioner_id, appointment_id, items, notes, status,
	issued_at, cancelled_at, created_at, updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PatientID, &p.PractitionerID, &p.AppointmentID, &p.Items, &p.Notes, &p.Status,
		&p.IssuedAt, &p.CancelledAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, apperr.FromPG(err, "prescription")
	}
	return &p, nil
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return err
	}
	p.ID = uuid.New()
	err = q.QueryRow(ctx, `
		INSERT INTO prescriptions (id, patient_id, practitioner_id, appointment_id, items, notes, status, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		p.ID, p.PatientID, p.PractitionerID, p.AppointmentID, p.Items, p.Notes, p.Status, p.IssuedAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return apperr.FromPG(err, "prescription")
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return nil, err
	}
	return scanPrescription(q.QueryRow(ctx, `SELECT `+rxCols+` FROM prescriptions WHERE id = $1`, id))
}

func (r *prescriptionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, status string, limit, offset int) ([]*Prescription, int, error) {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return nil, 0, err
	}

	where := ` WHERE patient_id = $1`
	args := []interface{}{patientID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, status)
	}
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM prescriptions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count prescriptions: %w", err)
	}

	n := len(args)
	query := `SELECT ` + rxCols + ` FROM prescriptions` + where +
		fmt.Sprintf(` ORDER BY issued_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	args = append(args, limit, offset)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()

	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *prescriptionRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string, at *time.Time) error {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `
		UPDATE prescriptions SET status = $2, cancelled_at = $3, updated_at = NOW()
		WHERE id = $1`, id, status, at)
	if err != nil {
		return apperr.FromPG(err, "prescription")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("prescription")
	}
	return nil
}
