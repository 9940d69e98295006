package billing

import (
	"time"

	"github.com/google/uuid"
)

// ServiceType classifies what a charge pays for. The set is closed; all
// billing and projection branching switches over it.
type ServiceType string

const (
	ServiceSession        ServiceType = "session"
	ServiceBundleSession  ServiceType = "bundle_session"
	ServiceBundlePurchase ServiceType = "bundle_purchase"
	ServiceEvaluation     ServiceType = "evaluation"
)

// AllServiceTypes is the closed set of valid service types.
var AllServiceTypes = map[ServiceType]bool{
	ServiceSession:        true,
	ServiceBundleSession:  true,
	ServiceBundlePurchase: true,
	ServiceEvaluation:     true,
}

func (t ServiceType) Valid() bool {
	return AllServiceTypes[t]
}

// BundleBacked reports whether payment of this charge must reconcile a
// bundle ledger.
func (t ServiceType) BundleBacked() bool {
	return t == ServiceBundleSession || t == ServiceBundlePurchase
}

const (
	StatusPending  = "pending"
	StatusPaid     = "paid"
	StatusCanceled = "canceled"
)

var validMethods = map[string]bool{
	"pix":      true,
	"card":     true,
	"cash":     true,
	"transfer": true,
}

// ValidMethod reports whether m is an accepted payment method.
func ValidMethod(m string) bool {
	return validMethods[m]
}

// Charge maps to the charge table. A charge references the thing it pays
// for; the references are uuids, never embedded rows.
type Charge struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	PatientID     uuid.UUID   `db:"patient_id" json:"patient_id"`
	Amount        float64     `db:"amount" json:"amount"`
	Method        string      `db:"method" json:"method"`
	Status        string      `db:"status" json:"status"`
	ServiceType   ServiceType `db:"service_type" json:"service_type"`
	AppointmentID *uuid.UUID  `db:"appointment_id" json:"appointment_id,omitempty"`
	BundleID      *uuid.UUID  `db:"bundle_id" json:"bundle_id,omitempty"`
	SessionID     *uuid.UUID  `db:"session_id" json:"session_id,omitempty"`
	PaidAt        *time.Time  `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
}
