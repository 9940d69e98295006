package reporting

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

var ErrNotFound = errors.New("event not found")

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

const eventCols = `id, source_id, source_type, patient_id, practitioner_id,
	specialty, event_time, value, operational_status, clinical_status, synced_at`

func (r *repoPG) Upsert(ctx context.Context, ev *MedicalEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medical_event (
			id, source_id, source_type, patient_id, practitioner_id,
			specialty, event_time, value, operational_status,
			clinical_status, synced_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (source_id, source_type) DO UPDATE SET
			patient_id         = EXCLUDED.patient_id,
			practitioner_id    = EXCLUDED.practitioner_id,
			specialty          = EXCLUDED.specialty,
			event_time         = EXCLUDED.event_time,
			value              = EXCLUDED.value,
			operational_status = EXCLUDED.operational_status,
			clinical_status    = EXCLUDED.clinical_status,
			synced_at          = EXCLUDED.synced_at`,
		ev.ID, ev.SourceID, ev.SourceType, ev.PatientID, ev.PractitionerID,
		ev.Specialty, ev.EventTime, ev.Value, ev.OperationalStatus,
		ev.ClinicalStatus, ev.SyncedAt,
	)
	return err
}

func (r *repoPG) GetBySource(ctx context.Context, sourceID uuid.UUID, sourceType string) (*MedicalEvent, error) {
	return scanEvent(r.conn(ctx).QueryRow(ctx,
		`SELECT `+eventCols+` FROM medical_event
		 WHERE source_id = $1 AND source_type = $2`,
		sourceID, sourceType))
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*MedicalEvent, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	n := 0
	arg := func(v interface{}) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}

	if f.PatientID != uuid.Nil {
		where += " AND patient_id = " + arg(f.PatientID)
	}
	if f.PractitionerID != uuid.Nil {
		where += " AND practitioner_id = " + arg(f.PractitionerID)
	}
	if f.SourceType != "" {
		where += " AND source_type = " + arg(f.SourceType)
	}
	if !f.From.IsZero() {
		where += " AND event_time >= " + arg(f.From)
	}
	if !f.To.IsZero() {
		where += " AND event_time < " + arg(f.To)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM medical_event`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + eventCols + ` FROM medical_event` + where +
		` ORDER BY event_time DESC LIMIT ` + arg(limit) + ` OFFSET ` + arg(offset)
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*MedicalEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, ev)
	}
	return out, total, rows.Err()
}

func scanEvent(row pgx.Row) (*MedicalEvent, error) {
	var ev MedicalEvent
	err := row.Scan(
		&ev.ID, &ev.SourceID, &ev.SourceType, &ev.PatientID,
		&ev.PractitionerID, &ev.Specialty, &ev.EventTime, &ev.Value,
		&ev.OperationalStatus, &ev.ClinicalStatus, &ev.SyncedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
