package scheduling

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

type appointmentRepoPG struct{}

func NewAppointmentRepoPG() AppointmentRepository { return &appointmentRepoPG{} }

const apptCols = `id, patient_id, practitioner_id, start_time, end_time, status, type,
	reason, notes, cancellation_reason, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.PractitionerID, &a.Start, &a.End, &a.Status, &a.Type,
		&a.Reason, &a.Notes, &a.CancellationReason, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, apperr.FromPG(err, "appointment")
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return err
	}
	a.ID = uuid.New()
	err = q.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, practitioner_id, start_time, end_time, status, type, reason, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.PractitionerID, a.Start, a.End, a.Status, a.Type, a.Reason, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return apperr.FromPG(err, "appointment")
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return nil, err
	}
	return scanAppointment(q.QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return err
	}
	err = q.QueryRow(ctx, `
		UPDATE appointments SET practitioner_id = $2, start_time = $3, end_time = $4, type = $5,
			reason = $6, notes = $7, updated_at = NOW()
		WHERE id = $1 AND status IN ('scheduled', 'confirmed')
		RETURNING updated_at`,
		a.ID, a.PractitionerID, a.Start, a.End, a.Type, a.Reason, a.Notes,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Conflict(ErrInvalidTransition, "appointment is no longer open")
	}
	return apperr.FromPG(err, "appointment")
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to, reason string) error {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `
		UPDATE appointments SET status = $3, cancellation_reason = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to, reason)
	if err != nil {
		return apperr.FromPG(err, "appointment")
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict(ErrInvalidTransition, "appointment is no longer %s", from)
	}
	return nil
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}
	items, err := r.query(ctx, q, `SELECT `+apptCols+` FROM appointments WHERE patient_id = $1
		ORDER BY start_time DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *appointmentRepoPG) ListByPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return nil, err
	}
	return r.query(ctx, q, `SELECT `+apptCols+` FROM appointments
		WHERE practitioner_id = $1 AND start_time < $3 AND end_time > $2
		ORDER BY start_time`, practitionerID, from, to)
}

func (r *appointmentRepoPG) CountOverlapping(ctx context.Context, practitionerID uuid.UUID, start, end time.Time, exclude uuid.UUID) (int, error) {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	err = q.QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE practitioner_id = $1 AND start_time < $3 AND end_time > $2
			AND status NOT IN ('cancelled', 'no_show') AND id <> $4`,
		practitionerID, start, end, exclude).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count overlapping appointments: %w", err)
	}
	return n, nil
}

func (r *appointmentRepoPG) LockPractitioner(ctx context.Context, practitionerID uuid.UUID) error {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, practitionerID)
	return err
}

func (r *appointmentRepoPG) query(ctx context.Context, q db.Querier, sql string, args ...interface{}) ([]*Appointment, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
