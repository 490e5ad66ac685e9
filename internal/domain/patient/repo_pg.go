package patient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cabinet/cabinet/internal/platform/apperr"
	"github.com/cabinet/cabinet/internal/platform/db"
)

type patientRepoPG struct{}

// NewRepoPG returns a repository on the tenant database bound to the
// request context.
func NewRepoPG() Repository { return &patientRepoPG{} }

const patientCols = `id, mrn, first_name, last_name, COALESCE(to_char(birth_date, 'YYYY-MM-DD'), ''),
	gender, email, phone, address, notes, active, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.BirthDate,
		&p.Gender, &p.Email, &p.Phone, &p.Address, &p.Notes, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, apperr.FromPG(err, "patient")
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return err
	}
	p.ID = uuid.New()
	err = q.QueryRow(ctx, `
		INSERT INTO patients (id, mrn, first_name, last_name, birth_date, gender, email, phone, address, notes, active)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::date, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.BirthDate, p.Gender, p.Email, p.Phone, p.Address, p.Notes, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return apperr.FromPG(err, "patient")
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return nil, err
	}
	return scanPatient(q.QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return nil, err
	}
	return scanPatient(q.QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE mrn = $1`, mrn))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return err
	}
	err = q.QueryRow(ctx, `
		UPDATE patients SET first_name = $2, last_name = $3, birth_date = NULLIF($4, '')::date, gender = $5,
			email = $6, phone = $7, address = $8, notes = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FirstName, p.LastName, p.BirthDate, p.Gender, p.Email, p.Phone, p.Address, p.Notes,
	).Scan(&p.UpdatedAt)
	return apperr.FromPG(err, "patient")
}

func (r *patientRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `UPDATE patients SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return apperr.FromPG(err, "patient")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient")
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error) {
	q, err := db.TenantQuerier(ctx)
	if err != nil {
		return nil, 0, err
	}

	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if !f.IncludeInactive {
		where += ` AND active`
	}
	if f.Query != "" {
		where += fmt.Sprintf(` AND (first_name ILIKE $%d OR last_name ILIKE $%d
			OR (first_name || ' ' || last_name) ILIKE $%d OR mrn ILIKE $%d)`, idx, idx, idx, idx)
		args = append(args, "%"+f.Query+"%")
		idx++
	}

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM patients`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	query := `SELECT ` + patientCols + ` FROM patients` + where +
		fmt.Sprintf(` ORDER BY last_name, first_name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
