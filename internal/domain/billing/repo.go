package billing

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, ch *Charge) error
	GetByID(ctx context.Context, id uuid.UUID) (*Charge, error)
	ListByBundle(ctx context.Context, bundleID uuid.UUID) ([]*Charge, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Charge, int, error)
	Cancel(ctx context.Context, id uuid.UUID) error

	// UpdateAmount re-prices a charge while it is still pending. Paid and
	// canceled charges are left alone.
	UpdateAmount(ctx context.Context, id uuid.UUID, amount float64) error

	// MarkPaid flips a pending charge to paid. It reports ErrAlreadyPaid
	// when the charge exists but is not pending, so a duplicate payment
	// request cannot apply twice.
	MarkPaid(ctx context.Context, id uuid.UUID) error

	// SumPaidByBundle totals the paid charges referencing a bundle. Used
	// by the reconciliation sweep.
	SumPaidByBundle(ctx context.Context, bundleID uuid.UUID) (float64, error)
}
