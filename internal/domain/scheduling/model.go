package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/kaduart/fono-inova-api/internal/domain/billing"
)

// SessionDuration is the clinic-wide appointment length. It is a property
// of the clinic, not of individual rows, so it is never stored.
const SessionDuration = 40 * time.Minute

// Operational statuses track the booking lifecycle; clinical statuses track
// what happened in the room. The two axes move independently.
const (
	OpRequested = "requested"
	OpConfirmed = "confirmed"
	OpCanceled  = "canceled"
	OpPaid      = "paid"

	ClinPending   = "pending"
	ClinCompleted = "completed"
	ClinNoShow    = "no_show"
)

// Appointment maps to the appointment table.
type Appointment struct {
	ID                uuid.UUID           `db:"id" json:"id"`
	PractitionerID    uuid.UUID           `db:"practitioner_id" json:"practitioner_id"`
	PatientID         uuid.UUID           `db:"patient_id" json:"patient_id"`
	StartTime         time.Time           `db:"start_time" json:"start_time"`
	ServiceType       billing.ServiceType `db:"service_type" json:"service_type"`
	OperationalStatus string              `db:"operational_status" json:"operational_status"`
	ClinicalStatus    string              `db:"clinical_status" json:"clinical_status"`
	BundleID          *uuid.UUID          `db:"bundle_id" json:"bundle_id,omitempty"`
	SessionID         *uuid.UUID          `db:"session_id" json:"session_id,omitempty"`
	ChargeID          *uuid.UUID          `db:"charge_id" json:"charge_id,omitempty"`
	CreatedAt         time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time           `db:"updated_at" json:"updated_at"`
}

// End returns the exclusive end of the appointment's slot.
func (a *Appointment) End() time.Time {
	return a.StartTime.Add(SessionDuration)
}

// Active reports whether the appointment still occupies its slot.
func (a *Appointment) Active() bool {
	return a.OperationalStatus != OpCanceled
}

// History rows are immutable; cancellations and no-shows append, never
// delete.
type History struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	ActorID       string    `db:"actor_id" json:"actor_id"`
	Action        string    `db:"action" json:"action"`
	Reason        string    `db:"reason" json:"reason"`
	OccurredAt    time.Time `db:"occurred_at" json:"occurred_at"`
}
