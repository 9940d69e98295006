package bundles

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive    = "active"
	StatusCompleted = "completed"

	SessionScheduled = "scheduled"
	SessionCompleted = "completed"
	SessionCanceled  = "canceled"
)

// Bundle maps to the bundle table: a prepaid block of therapy sessions.
//
// Two counters move independently. RemainingSessions tracks booking capacity
// and is decremented when an appointment consumes a slot, regardless of
// payment. AmountPaid and the per-session paid flags track money and move
// only when charges are paid. RemainingBalance is derived:
// max(total*price - amount_paid, 0).
type Bundle struct {
	ID                uuid.UUID `db:"id" json:"id"`
	PatientID         uuid.UUID `db:"patient_id" json:"patient_id"`
	TotalSessions     int       `db:"total_sessions" json:"total_sessions"`
	SessionsPerWeek   int       `db:"sessions_per_week" json:"sessions_per_week"`
	PricePerSession   float64   `db:"price_per_session" json:"price_per_session"`
	AmountPaid        float64   `db:"amount_paid" json:"amount_paid"`
	RemainingBalance  float64   `db:"remaining_balance" json:"remaining_balance"`
	RemainingSessions int       `db:"remaining_sessions" json:"remaining_sessions"`
	Status            string    `db:"status" json:"status"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// TotalPrice returns the full price of the bundle.
func (b *Bundle) TotalPrice() float64 {
	return float64(b.TotalSessions) * b.PricePerSession
}

// Session maps to the session table. BundleID is nil for standalone sessions
// sold outside any package. Within a bundle, sessions are ordered by
// CreatedAt; payment coverage is applied oldest-first.
type Session struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	BundleID      *uuid.UUID `db:"bundle_id" json:"bundle_id,omitempty"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	ScheduledAt   time.Time  `db:"scheduled_at" json:"scheduled_at"`
	Paid          bool       `db:"paid" json:"paid"`
	Status        string     `db:"status" json:"status"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}
