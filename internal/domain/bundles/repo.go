package bundles

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, b *Bundle) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bundle, error)
	// GetForUpdate locks the bundle row for the duration of the enclosing
	// transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Bundle, error)
	Update(ctx context.Context, b *Bundle) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Bundle, error)
	ListActive(ctx context.Context) ([]*Bundle, error)

	// ConsumeSlot decrements remaining_sessions when a booking claims a
	// slot; it fails when the bundle is exhausted. ReleaseSlot is the
	// inverse, used on cancellation and bundle migration.
	ConsumeSlot(ctx context.Context, bundleID uuid.UUID) error
	ReleaseSlot(ctx context.Context, bundleID uuid.UUID) error

	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	UpdateSession(ctx context.Context, s *Session) error
	// ListSessionsByBundle returns the bundle's sessions ordered by
	// creation time, oldest first.
	ListSessionsByBundle(ctx context.Context, bundleID uuid.UUID) ([]*Session, error)
	GetSessionByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Session, error)
	MarkSessionsPaid(ctx context.Context, ids []uuid.UUID) error
}
