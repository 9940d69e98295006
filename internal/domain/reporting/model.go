package reporting

import (
	"time"

	"github.com/google/uuid"
)

// Source types for projected events. Together with the source id they form
// the upsert key, which is the sole idempotence guard of the projection.
const (
	SourceAppointment = "appointment"
	SourceSession     = "session"
	SourceBundle      = "bundle"
)

// MedicalEvent is one row of the denormalized reporting view: a flattened,
// query-optimized mirror of an appointment, session or bundle. It is
// eventually consistent and never authoritative; any row can be rebuilt
// from its source at any time.
type MedicalEvent struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	SourceID          uuid.UUID  `db:"source_id" json:"source_id"`
	SourceType        string     `db:"source_type" json:"source_type"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	PractitionerID    *uuid.UUID `db:"practitioner_id" json:"practitioner_id,omitempty"`
	Specialty         string     `db:"specialty" json:"specialty"`
	EventTime         time.Time  `db:"event_time" json:"event_time"`
	Value             float64    `db:"value" json:"value"`
	OperationalStatus string     `db:"operational_status" json:"operational_status"`
	ClinicalStatus    string     `db:"clinical_status" json:"clinical_status"`
	SyncedAt          time.Time  `db:"synced_at" json:"synced_at"`
}
