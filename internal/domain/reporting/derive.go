package reporting

import (
	"time"

	"github.com/kaduart/fono-inova-api/internal/domain/billing"
	"github.com/kaduart/fono-inova-api/internal/domain/bundles"
	"github.com/kaduart/fono-inova-api/internal/domain/identity"
	"github.com/kaduart/fono-inova-api/internal/domain/scheduling"
)

// PricingTable supplies the fallback monetary values used when neither the
// source row nor its bundle carries an explicit price.
type PricingTable struct {
	Session    float64
	Evaluation float64
	Default    float64
}

func (p PricingTable) valueFor(t billing.ServiceType) float64 {
	switch t {
	case billing.ServiceEvaluation:
		return p.Evaluation
	case billing.ServiceSession, billing.ServiceBundleSession:
		return p.Session
	default:
		return p.Default
	}
}

// DefaultSpecialty is the house specialty recorded when nothing else
// resolves one.
const DefaultSpecialty = "fonoaudiologia"

// SpecialtyTable resolves the specialty recorded on projected events.
// Precedence: the practitioner's own specialty, the patient's declared one,
// the label configured for the booking category, then the clinic default.
// Each link is optional; the projection must produce a row even when a
// reference is dangling.
type SpecialtyTable struct {
	ByService map[billing.ServiceType]string
	Default   string
}

// DefaultSpecialtyTable labels evaluations under their own heading so they
// chart separately on the reports, and falls back to the house specialty
// for everything else.
func DefaultSpecialtyTable() SpecialtyTable {
	return SpecialtyTable{
		ByService: map[billing.ServiceType]string{
			billing.ServiceEvaluation: "avaliacao",
		},
		Default: DefaultSpecialty,
	}
}

func (t SpecialtyTable) resolve(prac *identity.Practitioner, patient *identity.Patient, svc billing.ServiceType) string {
	if prac != nil && prac.Specialty != "" {
		return prac.Specialty
	}
	if patient != nil && patient.Specialty != nil && *patient.Specialty != "" {
		return *patient.Specialty
	}
	if label, ok := t.ByService[svc]; ok && label != "" {
		return label
	}
	if t.Default != "" {
		return t.Default
	}
	return DefaultSpecialty
}

// The source tables grew their status vocabularies independently, so the
// projection folds them into exactly two normalized axes. Unknown values
// fall back to the axis default rather than failing the sync.
var operationalNorm = map[string]string{
	"requested": "requested",
	"scheduled": "confirmed",
	"confirmed": "confirmed",
	"paid":      "paid",
	"canceled":  "canceled",
	"cancelled": "canceled",
}

var clinicalNorm = map[string]string{
	"pending":   "pending",
	"scheduled": "pending",
	"completed": "completed",
	"concluded": "completed",
	"no_show":   "no_show",
	"missed":    "no_show",
}

func normalizeOperational(s string) string {
	if v, ok := operationalNorm[s]; ok {
		return v
	}
	return "requested"
}

func normalizeClinical(s string) string {
	if v, ok := clinicalNorm[s]; ok {
		return v
	}
	return "pending"
}

// deriveFromAppointment flattens an appointment into its projected event.
// Value precedence: the bundle's per-session price when the appointment is
// bundle-backed, else the pricing table entry for the service type.
func deriveFromAppointment(
	a *scheduling.Appointment,
	b *bundles.Bundle,
	prac *identity.Practitioner,
	patient *identity.Patient,
	prices PricingTable,
	specs SpecialtyTable,
	now time.Time,
) *MedicalEvent {
	value := prices.valueFor(a.ServiceType)
	if b != nil {
		value = b.PricePerSession
	}
	return &MedicalEvent{
		SourceID:          a.ID,
		SourceType:        SourceAppointment,
		PatientID:         a.PatientID,
		PractitionerID:    &a.PractitionerID,
		Specialty:         specs.resolve(prac, patient, a.ServiceType),
		EventTime:         a.StartTime,
		Value:             value,
		OperationalStatus: normalizeOperational(a.OperationalStatus),
		ClinicalStatus:    normalizeClinical(a.ClinicalStatus),
		SyncedAt:          now,
	}
}

// deriveFromSession flattens a session. A paid session reports operational
// status "paid" regardless of its scheduling state; the clinical axis comes
// from the session status alone.
func deriveFromSession(
	s *bundles.Session,
	b *bundles.Bundle,
	a *scheduling.Appointment,
	prac *identity.Practitioner,
	patient *identity.Patient,
	prices PricingTable,
	specs SpecialtyTable,
	now time.Time,
) *MedicalEvent {
	value := prices.Session
	if b != nil {
		value = b.PricePerSession
	}

	op := normalizeOperational(s.Status)
	if s.Paid && s.Status != bundles.SessionCanceled {
		op = "paid"
	}

	var svc billing.ServiceType
	switch {
	case a != nil:
		svc = a.ServiceType
	case s.BundleID != nil:
		svc = billing.ServiceBundleSession
	default:
		svc = billing.ServiceSession
	}

	ev := &MedicalEvent{
		SourceID:          s.ID,
		SourceType:        SourceSession,
		PatientID:         s.PatientID,
		Specialty:         specs.resolve(prac, patient, svc),
		EventTime:         s.ScheduledAt,
		Value:             value,
		OperationalStatus: op,
		ClinicalStatus:    normalizeClinical(s.Status),
		SyncedAt:          now,
	}
	if a != nil {
		ev.PractitionerID = &a.PractitionerID
	}
	return ev
}

// deriveFromBundle flattens a bundle. The value is the full bundle price;
// a completed bundle (all sessions consumed and settled) projects as
// paid/completed.
func deriveFromBundle(b *bundles.Bundle, patient *identity.Patient, specs SpecialtyTable, now time.Time) *MedicalEvent {
	op := "confirmed"
	clin := "pending"
	if b.Status == bundles.StatusCompleted {
		op = "paid"
		clin = "completed"
	}
	return &MedicalEvent{
		SourceID:          b.ID,
		SourceType:        SourceBundle,
		PatientID:         b.PatientID,
		Specialty:         specs.resolve(nil, patient, billing.ServiceBundlePurchase),
		EventTime:         b.CreatedAt,
		Value:             b.TotalPrice(),
		OperationalStatus: op,
		ClinicalStatus:    clin,
		SyncedAt:          now,
	}
}
