package bundles

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
	ErrNotFound  = errors.New("not found")
	ErrExhausted = errors.New("bundle has no remaining sessions")
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

const bundleCols = `id, patient_id, total_sessions, sessions_per_week,
	price_per_session, amount_paid, remaining_balance, remaining_sessions,
	status, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, b *Bundle) error {
	b.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bundle (
			id, patient_id, total_sessions, sessions_per_week,
			price_per_session, amount_paid, remaining_balance,
			remaining_sessions, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		b.ID, b.PatientID, b.TotalSessions, b.SessionsPerWeek,
		b.PricePerSession, b.AmountPaid, b.RemainingBalance,
		b.RemainingSessions, b.Status,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bundle, error) {
	return scanBundle(r.conn(ctx).QueryRow(ctx,
		`SELECT `+bundleCols+` FROM bundle WHERE id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bundle, error) {
	return scanBundle(r.conn(ctx).QueryRow(ctx,
		`SELECT `+bundleCols+` FROM bundle WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) Update(ctx context.Context, b *Bundle) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE bundle SET
			amount_paid=$2, remaining_balance=$3, remaining_sessions=$4,
			status=$5, updated_at=NOW()
		WHERE id = $1`,
		b.ID, b.AmountPaid, b.RemainingBalance, b.RemainingSessions, b.Status,
	)
	return err
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Bundle, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+bundleCols+` FROM bundle WHERE patient_id = $1 ORDER BY created_at DESC`,
		patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBundles(rows)
}

func (r *repoPG) ListActive(ctx context.Context) ([]*Bundle, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+bundleCols+` FROM bundle WHERE status = $1 ORDER BY created_at`,
		StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBundles(rows)
}

func (r *repoPG) ConsumeSlot(ctx context.Context, bundleID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bundle SET remaining_sessions = remaining_sessions - 1, updated_at = NOW()
		WHERE id = $1 AND remaining_sessions > 0`, bundleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExhausted
	}
	return nil
}

func (r *repoPG) ReleaseSlot(ctx context.Context, bundleID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bundle SET remaining_sessions = remaining_sessions + 1, updated_at = NOW()
		WHERE id = $1 AND remaining_sessions < total_sessions`, bundleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("release slot on bundle %s: nothing to release", bundleID)
	}
	return nil
}

const sessionCols = `id, bundle_id, patient_id, appointment_id, scheduled_at,
	paid, status, created_at, updated_at`

func (r *repoPG) CreateSession(ctx context.Context, s *Session) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO session (
			id, bundle_id, patient_id, appointment_id, scheduled_at, paid, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		s.ID, s.BundleID, s.PatientID, s.AppointmentID, s.ScheduledAt, s.Paid, s.Status,
	)
	return err
}

func (r *repoPG) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	return scanSession(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sessionCols+` FROM session WHERE id = $1`, id))
}

func (r *repoPG) UpdateSession(ctx context.Context, s *Session) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE session SET
			bundle_id=$2, appointment_id=$3, scheduled_at=$4, paid=$5,
			status=$6, updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.BundleID, s.AppointmentID, s.ScheduledAt, s.Paid, s.Status,
	)
	return err
}

func (r *repoPG) ListSessionsByBundle(ctx context.Context, bundleID uuid.UUID) ([]*Session, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+sessionCols+` FROM session WHERE bundle_id = $1 ORDER BY created_at`,
		bundleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s := &Session{}
		if err := rows.Scan(&s.ID, &s.BundleID, &s.PatientID, &s.AppointmentID,
			&s.ScheduledAt, &s.Paid, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repoPG) GetSessionByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Session, error) {
	return scanSession(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sessionCols+` FROM session WHERE appointment_id = $1`, appointmentID))
}

func (r *repoPG) MarkSessionsPaid(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE session SET paid = TRUE, updated_at = NOW() WHERE id = ANY($1)`, ids)
	return err
}

func scanBundle(row pgx.Row) (*Bundle, error) {
	b := &Bundle{}
	err := row.Scan(
		&b.ID, &b.PatientID, &b.TotalSessions, &b.SessionsPerWeek,
		&b.PricePerSession, &b.AmountPaid, &b.RemainingBalance,
		&b.RemainingSessions, &b.Status, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan bundle: %w", err)
	}
	return b, nil
}

func scanSession(row pgx.Row) (*Session, error) {
	s := &Session{}
	err := row.Scan(
		&s.ID, &s.BundleID, &s.PatientID, &s.AppointmentID, &s.ScheduledAt,
		&s.Paid, &s.Status, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return s, nil
}

func collectBundles(rows pgx.Rows) ([]*Bundle, error) {
	var out []*Bundle
	for rows.Next() {
		b := &Bundle{}
		if err := rows.Scan(&b.ID, &b.PatientID, &b.TotalSessions, &b.SessionsPerWeek,
			&b.PricePerSession, &b.AmountPaid, &b.RemainingBalance,
			&b.RemainingSessions, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
