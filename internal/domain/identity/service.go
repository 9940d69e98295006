package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if p.FullName == "" {
		return fmt.Errorf("full_name is required")
	}
	p.Active = true
	return s.repo.CreatePatient(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetPatient(ctx, id)
}

// AssignPractitioner locks the patient to a single practitioner. Passing the
// nil uuid clears the lock.
func (s *Service) AssignPractitioner(ctx context.Context, patientID, practitionerID uuid.UUID) error {
	p, err := s.repo.GetPatient(ctx, patientID)
	if err != nil {
		return err
	}

	if practitionerID == uuid.Nil {
		p.AssignedPractitionerID = nil
		return s.repo.UpdatePatient(ctx, p)
	}

	prac, err := s.repo.GetPractitioner(ctx, practitionerID)
	if err != nil {
		return fmt.Errorf("practitioner: %w", err)
	}
	if !prac.Active {
		return fmt.Errorf("practitioner %s is inactive", prac.ID)
	}
	p.AssignedPractitionerID = &prac.ID
	return s.repo.UpdatePatient(ctx, p)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.ListPatients(ctx, limit, offset)
}

func (s *Service) CreatePractitioner(ctx context.Context, p *Practitioner) error {
	if p.FullName == "" {
		return fmt.Errorf("full_name is required")
	}
	if p.Specialty == "" {
		return fmt.Errorf("specialty is required")
	}
	p.Active = true
	return s.repo.CreatePractitioner(ctx, p)
}

func (s *Service) GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	return s.repo.GetPractitioner(ctx, id)
}

func (s *Service) ListPractitioners(ctx context.Context, limit, offset int) ([]*Practitioner, int, error) {
	return s.repo.ListPractitioners(ctx, limit, offset)
}
