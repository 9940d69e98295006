package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

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

const apptCols = `id, practitioner_id, patient_id, start_time, service_type,
	operational_status, clinical_status, bundle_id, session_id, charge_id,
	created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment (
			id, practitioner_id, patient_id, start_time, service_type,
			operational_status, clinical_status, bundle_id, session_id, charge_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.PractitionerID, a.PatientID, a.StartTime, a.ServiceType,
		a.OperationalStatus, a.ClinicalStatus, a.BundleID, a.SessionID, a.ChargeID,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppt(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET
			practitioner_id=$2, start_time=$3, service_type=$4,
			operational_status=$5, clinical_status=$6,
			bundle_id=$7, session_id=$8, charge_id=$9, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.PractitionerID, a.StartTime, a.ServiceType,
		a.OperationalStatus, a.ClinicalStatus,
		a.BundleID, a.SessionID, a.ChargeID,
	)
	return err
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE patient_id = $1
		 ORDER BY start_time DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out, err := collectAppts(rows)
	return out, total, err
}

func (r *repoPG) ListActiveByPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+` FROM appointment
		 WHERE practitioner_id = $1 AND operational_status <> $2
		   AND start_time >= $3 AND start_time < $4
		 ORDER BY start_time`,
		practitionerID, OpCanceled, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppts(rows)
}

func (r *repoPG) ListActiveByPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+` FROM appointment
		 WHERE patient_id = $1 AND operational_status <> $2
		   AND start_time >= $3 AND start_time < $4
		 ORDER BY start_time`,
		patientID, OpCanceled, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppts(rows)
}

func (r *repoPG) AddHistory(ctx context.Context, h *History) error {
	h.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment_history (id, appointment_id, actor_id, action, reason, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		h.ID, h.AppointmentID, h.ActorID, h.Action, h.Reason, h.OccurredAt,
	)
	return err
}

func (r *repoPG) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]*History, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, appointment_id, actor_id, action, reason, occurred_at
		FROM appointment_history WHERE appointment_id = $1 ORDER BY occurred_at`,
		appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*History
	for rows.Next() {
		h := &History{}
		if err := rows.Scan(&h.ID, &h.AppointmentID, &h.ActorID, &h.Action, &h.Reason, &h.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanAppt(row pgx.Row) (*Appointment, error) {
	a := &Appointment{}
	err := row.Scan(
		&a.ID, &a.PractitionerID, &a.PatientID, &a.StartTime, &a.ServiceType,
		&a.OperationalStatus, &a.ClinicalStatus, &a.BundleID, &a.SessionID,
		&a.ChargeID, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan appointment: %w", err)
	}
	return a, nil
}

func collectAppts(rows pgx.Rows) ([]*Appointment, error) {
	var out []*Appointment
	for rows.Next() {
		a := &Appointment{}
		if err := rows.Scan(&a.ID, &a.PractitionerID, &a.PatientID, &a.StartTime,
			&a.ServiceType, &a.OperationalStatus, &a.ClinicalStatus,
			&a.BundleID, &a.SessionID, &a.ChargeID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
