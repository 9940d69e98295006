package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kaduart/fono-inova-api/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

var ErrNotFound = errors.New("not found")

const patientCols = `id, full_name, birth_date, phone, email, specialty,
	assigned_practitioner_id, active, created_at, updated_at`

func (r *repoPG) CreatePatient(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (
			id, full_name, birth_date, phone, email, specialty,
			assigned_practitioner_id, active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.FullName, p.BirthDate, p.Phone, p.Email, p.Specialty,
		p.AssignedPractitionerID, p.Active,
	)
	return err
}

func (r *repoPG) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *repoPG) UpdatePatient(ctx context.Context, p *Patient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET
			full_name=$2, birth_date=$3, phone=$4, email=$5, specialty=$6,
			assigned_practitioner_id=$7, active=$8, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.FullName, p.BirthDate, p.Phone, p.Email, p.Specialty,
		p.AssignedPractitionerID, p.Active,
	)
	return err
}

func (r *repoPG) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patient ORDER BY full_name LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatientRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

const practitionerCols = `id, full_name, specialty, active, created_at, updated_at`

func (r *repoPG) CreatePractitioner(ctx context.Context, p *Practitioner) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO practitioner (id, full_name, specialty, active)
		VALUES ($1,$2,$3,$4)`,
		p.ID, p.FullName, p.Specialty, p.Active,
	)
	return err
}

func (r *repoPG) GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	p := &Practitioner{}
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+practitionerCols+` FROM practitioner WHERE id = $1`, id).
		Scan(&p.ID, &p.FullName, &p.Specialty, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get practitioner: %w", err)
	}
	return p, nil
}

func (r *repoPG) UpdatePractitioner(ctx context.Context, p *Practitioner) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE practitioner SET full_name=$2, specialty=$3, active=$4, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.FullName, p.Specialty, p.Active,
	)
	return err
}

func (r *repoPG) ListPractitioners(ctx context.Context, limit, offset int) ([]*Practitioner, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM practitioner`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+practitionerCols+` FROM practitioner ORDER BY full_name LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Practitioner
	for rows.Next() {
		p := &Practitioner{}
		if err := rows.Scan(&p.ID, &p.FullName, &p.Specialty, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func scanPatient(row pgx.Row) (*Patient, error) {
	p := &Patient{}
	err := row.Scan(
		&p.ID, &p.FullName, &p.BirthDate, &p.Phone, &p.Email, &p.Specialty,
		&p.AssignedPractitionerID, &p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan patient: %w", err)
	}
	return p, nil
}

func scanPatientRow(rows pgx.Rows) (*Patient, error) {
	p := &Patient{}
	err := rows.Scan(
		&p.ID, &p.FullName, &p.BirthDate, &p.Phone, &p.Email, &p.Specialty,
		&p.AssignedPractitionerID, &p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
