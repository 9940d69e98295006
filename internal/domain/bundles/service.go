package bundles

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ChangeSink receives post-commit notifications about bundle and session
// mutations so downstream projections can refresh. Implementations must be
// safe for concurrent use; failures are theirs to handle.
type ChangeSink interface {
	BundleChanged(ctx context.Context, bundleID uuid.UUID)
	SessionChanged(ctx context.Context, sessionID uuid.UUID)
}

// NopSink discards notifications.
type NopSink struct{}

func (NopSink) BundleChanged(context.Context, uuid.UUID)  {}
func (NopSink) SessionChanged(context.Context, uuid.UUID) {}

type Service struct {
	repo Repository
	sink ChangeSink
}

func NewService(repo Repository, sink ChangeSink) *Service {
	if sink == nil {
		sink = NopSink{}
	}
	return &Service{repo: repo, sink: sink}
}

func (s *Service) CreateBundle(ctx context.Context, b *Bundle) error {
	if b.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if b.TotalSessions <= 0 {
		return fmt.Errorf("total_sessions must be positive")
	}
	if b.PricePerSession <= 0 {
		return fmt.Errorf("price_per_session must be positive")
	}
	if b.SessionsPerWeek <= 0 {
		b.SessionsPerWeek = 1
	}

	b.Status = StatusActive
	b.AmountPaid = 0
	b.RemainingSessions = b.TotalSessions
	b.RemainingBalance = b.TotalPrice()

	if err := s.repo.Create(ctx, b); err != nil {
		return err
	}
	s.notifyBundle(ctx, b.ID)
	return nil
}

func (s *Service) GetBundle(ctx context.Context, id uuid.UUID) (*Bundle, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Bundle, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

func (s *Service) GetSessions(ctx context.Context, bundleID uuid.UUID) ([]*Session, error) {
	return s.repo.ListSessionsByBundle(ctx, bundleID)
}

func (s *Service) notifyBundle(ctx context.Context, id uuid.UUID) {
	go s.sink.BundleChanged(context.WithoutCancel(ctx), id)
}
