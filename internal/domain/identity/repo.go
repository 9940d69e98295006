package identity

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreatePatient(ctx context.Context, p *Patient) error
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	UpdatePatient(ctx context.Context, p *Patient) error
	ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error)

	CreatePractitioner(ctx context.Context, p *Practitioner) error
	GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error)
	UpdatePractitioner(ctx context.Context, p *Practitioner) error
	ListPractitioners(ctx context.Context, limit, offset int) ([]*Practitioner, int, error)
}
