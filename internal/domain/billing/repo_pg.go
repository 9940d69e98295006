package billing

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

var (
	ErrNotFound    = errors.New("charge not found")
	ErrAlreadyPaid = errors.New("charge is not pending")
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

const chargeCols = `id, patient_id, amount, method, status, service_type,
	appointment_id, bundle_id, session_id, paid_at, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, ch *Charge) error {
	ch.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO charge (
			id, patient_id, amount, method, status, service_type,
			appointment_id, bundle_id, session_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ch.ID, ch.PatientID, ch.Amount, ch.Method, ch.Status, ch.ServiceType,
		ch.AppointmentID, ch.BundleID, ch.SessionID,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Charge, error) {
	return scanCharge(r.conn(ctx).QueryRow(ctx,
		`SELECT `+chargeCols+` FROM charge WHERE id = $1`, id))
}

func (r *repoPG) ListByBundle(ctx context.Context, bundleID uuid.UUID) ([]*Charge, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+chargeCols+` FROM charge WHERE bundle_id = $1 ORDER BY created_at`,
		bundleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCharges(rows)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Charge, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM charge WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+chargeCols+` FROM charge WHERE patient_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out, err := collectCharges(rows)
	return out, total, err
}

func (r *repoPG) Cancel(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE charge SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, StatusCanceled, StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyPaid
	}
	return nil
}

func (r *repoPG) UpdateAmount(ctx context.Context, id uuid.UUID, amount float64) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE charge SET amount = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, amount, StatusPending)
	return err
}

// MarkPaid is the idempotence gate of the payment flow: only the request
// that wins the pending->paid transition proceeds to reconciliation.
func (r *repoPG) MarkPaid(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE charge SET status = $2, paid_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, StatusPaid, StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM charge WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrAlreadyPaid
}

func (r *repoPG) SumPaidByBundle(ctx context.Context, bundleID uuid.UUID) (float64, error) {
	var sum float64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM charge
		WHERE bundle_id = $1 AND status = $2`,
		bundleID, StatusPaid).Scan(&sum)
	return sum, err
}

func scanCharge(row pgx.Row) (*Charge, error) {
	ch := &Charge{}
	err := row.Scan(
		&ch.ID, &ch.PatientID, &ch.Amount, &ch.Method, &ch.Status, &ch.ServiceType,
		&ch.AppointmentID, &ch.BundleID, &ch.SessionID, &ch.PaidAt,
		&ch.CreatedAt, &ch.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan charge: %w", err)
	}
	return ch, nil
}

func collectCharges(rows pgx.Rows) ([]*Charge, error) {
	var out []*Charge
	for rows.Next() {
		ch := &Charge{}
		if err := rows.Scan(&ch.ID, &ch.PatientID, &ch.Amount, &ch.Method, &ch.Status,
			&ch.ServiceType, &ch.AppointmentID, &ch.BundleID, &ch.SessionID,
			&ch.PaidAt, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}
