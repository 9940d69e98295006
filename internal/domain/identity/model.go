package identity

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table. AssignedPractitionerID, when set, locks
// the patient to one practitioner: bookings with anyone else are rejected.
type Patient struct {
	ID                     uuid.UUID  `db:"id" json:"id"`
	FullName               string     `db:"full_name" json:"full_name"`
	BirthDate              *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Phone                  *string    `db:"phone" json:"phone,omitempty"`
	Email                  *string    `db:"email" json:"email,omitempty"`
	Specialty              *string    `db:"specialty" json:"specialty,omitempty"`
	AssignedPractitionerID *uuid.UUID `db:"assigned_practitioner_id" json:"assigned_practitioner_id,omitempty"`
	Active                 bool       `db:"active" json:"active"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at" json:"updated_at"`
}

// Practitioner maps to the practitioner table.
type Practitioner struct {
	ID        uuid.UUID `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Specialty string    `db:"specialty" json:"specialty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
