package teleconsult

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

type sessionRepoPG struct{}

func NewRepoPG() Repository { return &sessionRepoPG{} }

const sessionCols = `id, appointment_id, patient_id, practitioner_id, room_id, status,
	scheduled_start, started_at, ended_at, created_at, updated_at`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.AppointmentID, &s.PatientID, &s.PractitionerID, &s.RoomID, &s.Status,
		&s.ScheduledStart, &s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, apperr.FromPG(err, "teleconsult session")
	}
	return &s, nil
}

func (r *sessionRepoPG) Create(ctx context.Context, s *Session) error {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return err
	}
	s.ID = uuid.New()
	err = q.QueryRow(ctx, `
		INSERT INTO teleconsult_sessions (id, appointment_id, patient_id, practitioner_id, room_id, status, scheduled_start)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		s.ID, s.AppointmentID, s.PatientID, s.PractitionerID, s.RoomID, s.Status, s.ScheduledStart,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return apperr.FromPG(err, "teleconsult session")
}

func (r *sessionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return nil, err
	}
	return scanSession(q.QueryRow(ctx, `SELECT `+sessionCols+` FROM teleconsult_sessions WHERE id = $1`, id))
}

func (r *sessionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Session, int, error) {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM teleconsult_sessions WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count teleconsult sessions: %w", err)
	}

	rows, err := q.Query(ctx, `SELECT `+sessionCols+` FROM teleconsult_sessions
		WHERE patient_id = $1 ORDER BY scheduled_start DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list teleconsult sessions: %w", err)
	}
	defer rows.Close()

	var items []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *sessionRepoPG) SaveStatus(ctx context.Context, s *Session, from string) error {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return err
	}
	err = q.QueryRow(ctx, `
		UPDATE teleconsult_sessions SET status = $2, started_at = $3, ended_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
		RETURNING updated_at`, s.ID, s.Status, s.StartedAt, s.EndedAt, from).Scan(&s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Conflict(ErrInvalidTransition, "teleconsult session is no longer %s", from)
	}
	return apperr.FromPG(err, "teleconsult session")
}

func (r *sessionRepoPG) ExpireScheduledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := q.Exec(ctx, `
		UPDATE teleconsult_sessions SET status = 'expired', updated_at = NOW()
		WHERE status = 'scheduled' AND scheduled_start < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire teleconsult sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
