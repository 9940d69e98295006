package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)

	// ListActiveByPractitioner and ListActiveByPatient return the
	// non-canceled appointments whose start falls in [from, to).
	ListActiveByPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*Appointment, error)
	ListActiveByPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Appointment, error)

	AddHistory(ctx context.Context, h *History) error
	ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]*History, error)
}
