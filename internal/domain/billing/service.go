package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kaduart/fono-inova-api/internal/domain/bundles"
	"github.com/kaduart/fono-inova-api/internal/platform/db"
	"github.com/kaduart/fono-inova-api/internal/platform/metrics"
	"github.com/kaduart/fono-inova-api/internal/platform/retry"
)

// ErrReconcileFailed is returned when a payment was recorded but the bundle
// ledger could not be brought up to date. The charge stays paid; the sweep
// repairs the ledger later.
var ErrReconcileFailed = errors.New("payment recorded but ledger reconciliation failed")

// TxRunner executes fn inside a database transaction whose handle rides the
// context. Production wires db.WithTx over the pool; tests pass a
// passthrough.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// ChangeSink receives post-payment notifications so the reporting projection
// can refresh the affected rows.
type ChangeSink interface {
	BundleChanged(ctx context.Context, bundleID uuid.UUID)
	SessionChanged(ctx context.Context, sessionID uuid.UUID)
}

type nopSink struct{}

func (nopSink) BundleChanged(context.Context, uuid.UUID)  {}
func (nopSink) SessionChanged(context.Context, uuid.UUID) {}

type Service struct {
	repo    Repository
	bundles bundles.Repository
	runTx   TxRunner
	policy  retry.Policy
	sink    ChangeSink
	metrics *metrics.ConsistencyMetrics
	log     zerolog.Logger
}

func NewService(repo Repository, bundleRepo bundles.Repository, runTx TxRunner, sink ChangeSink, m *metrics.ConsistencyMetrics, log zerolog.Logger) *Service {
	if sink == nil {
		sink = nopSink{}
	}
	return &Service{
		repo:    repo,
		bundles: bundleRepo,
		runTx:   runTx,
		policy:  retry.DefaultPolicy(),
		sink:    sink,
		metrics: m,
		log:     log,
	}
}

func (s *Service) CreateCharge(ctx context.Context, ch *Charge) error {
	if ch.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if ch.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if !validMethods[ch.Method] {
		return fmt.Errorf("invalid method: %s", ch.Method)
	}
	if !ch.ServiceType.Valid() {
		return fmt.Errorf("invalid service_type: %s", ch.ServiceType)
	}
	if ch.ServiceType.BundleBacked() && ch.BundleID == nil {
		return fmt.Errorf("bundle_id is required for service_type %s", ch.ServiceType)
	}
	ch.Status = StatusPending
	return s.repo.Create(ctx, ch)
}

func (s *Service) GetCharge(ctx context.Context, id uuid.UUID) (*Charge, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Charge, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) CancelCharge(ctx context.Context, id uuid.UUID) error {
	return s.repo.Cancel(ctx, id)
}

// RecordPayment marks a charge paid and folds the payment into the bundle
// ledger when the charge is bundle-backed. The pending->paid transition is
// the idempotence gate: a second call observes ErrAlreadyPaid and nothing
// applies twice.
//
// Ledger reconciliation runs in its own transaction after the gate, retried
// on serialization failures with fresh reloads each attempt. When retries
// are exhausted the charge remains paid and the error reports the stale
// ledger; the sweep catches up later.
func (s *Service) RecordPayment(ctx context.Context, chargeID uuid.UUID) error {
	ch, err := s.repo.GetByID(ctx, chargeID)
	if err != nil {
		return err
	}

	if err := s.repo.MarkPaid(ctx, chargeID); err != nil {
		return err
	}

	if ch.ServiceType.BundleBacked() && ch.BundleID != nil {
		if err := s.reconcileBundle(ctx, *ch.BundleID, ch.Amount); err != nil {
			s.log.Error().Err(err).
				Str("charge_id", chargeID.String()).
				Str("bundle_id", ch.BundleID.String()).
				Msg("bundle reconciliation failed after payment")
			s.metrics.ObserveReconcileExhausted("payment_hook")
			return fmt.Errorf("%w: %v", ErrReconcileFailed, err)
		}
		s.notifyBundle(ctx, *ch.BundleID)
		return nil
	}

	// Standalone services: the linked session is settled by this charge
	// directly, no ledger involved.
	if ch.SessionID != nil {
		if err := s.settleSession(ctx, *ch.SessionID); err != nil {
			s.log.Error().Err(err).
				Str("session_id", ch.SessionID.String()).
				Msg("settle standalone session")
			return err
		}
		s.notifySession(ctx, *ch.SessionID)
	}
	return nil
}

func (s *Service) reconcileBundle(ctx context.Context, bundleID uuid.UUID, amount float64) error {
	retryable := func(err error) bool {
		if db.IsSerializationFailure(err) {
			s.metrics.ObserveReconcileRetry("payment_hook")
			return true
		}
		return false
	}

	var newlyPaid []uuid.UUID
	op := func(ctx context.Context) error {
		return s.runTx(ctx, func(ctx context.Context) error {
			b, err := s.bundles.GetForUpdate(ctx, bundleID)
			if err != nil {
				return err
			}
			sessions, err := s.bundles.ListSessionsByBundle(ctx, bundleID)
			if err != nil {
				return err
			}

			res := bundles.ApplyPayment(b, sessions, amount)
			newlyPaid = res.NewlyPaid

			if err := s.bundles.Update(ctx, b); err != nil {
				return err
			}
			return s.bundles.MarkSessionsPaid(ctx, res.NewlyPaid)
		})
	}

	if err := s.policy.Do(ctx, op, retryable); err != nil {
		return err
	}

	for _, id := range newlyPaid {
		s.notifySession(ctx, id)
	}
	return nil
}

func (s *Service) settleSession(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := s.bundles.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Paid {
		return nil
	}
	sess.Paid = true
	return s.bundles.UpdateSession(ctx, sess)
}

func (s *Service) notifyBundle(ctx context.Context, id uuid.UUID) {
	go s.sink.BundleChanged(context.WithoutCancel(ctx), id)
}

func (s *Service) notifySession(ctx context.Context, id uuid.UUID) {
	go s.sink.SessionChanged(context.WithoutCancel(ctx), id)
}
