package billing

import (
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kaduart/fono-inova-api/internal/domain/bundles"
	"github.com/kaduart/fono-inova-api/internal/platform/metrics"
)

const sweepEpsilon = 0.005

// SweepReport summarizes one reconciliation sweep run.
type SweepReport struct {
	BundlesChecked int
	Mismatches     int
	Repaired       int
}

// Sweeper cross-checks every active bundle against its paid charges on two
// axes: amount_paid versus the charge sum, and the paid-session flags
// versus what the accumulated amount covers. A crash between the payment
// gate and ledger reconciliation drifts the first; a lost flag update
// drifts the second without touching the amounts. When repair is enabled
// the sweep replays the missing amount (possibly zero) through
// ApplyPayment, which recomputes coverage and re-flags.
type Sweeper struct {
	charges Repository
	bundles bundles.Repository
	runTx   TxRunner
	metrics *metrics.ConsistencyMetrics
	log     zerolog.Logger
	repair  bool
}

func NewSweeper(charges Repository, bundleRepo bundles.Repository, runTx TxRunner, m *metrics.ConsistencyMetrics, log zerolog.Logger, repair bool) *Sweeper {
	return &Sweeper{
		charges: charges,
		bundles: bundleRepo,
		runTx:   runTx,
		metrics: m,
		log:     log,
		repair:  repair,
	}
}

func (s *Sweeper) Run(ctx context.Context) (*SweepReport, error) {
	active, err := s.bundles.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	report := &SweepReport{BundlesChecked: len(active)}
	for _, b := range active {
		paidSum, err := s.charges.SumPaidByBundle(ctx, b.ID)
		if err != nil {
			return report, err
		}
		sessions, err := s.bundles.ListSessionsByBundle(ctx, b.ID)
		if err != nil {
			return report, err
		}

		diff := paidSum - b.AmountPaid
		amountDrift := math.Abs(diff) > sweepEpsilon
		flagDrift := flaggedBehind(b, sessions)
		if !amountDrift && !flagDrift {
			continue
		}

		report.Mismatches++
		if amountDrift {
			s.metrics.ObserveSweepMismatch("amount_paid")
			s.log.Warn().
				Str("bundle_id", b.ID.String()).
				Float64("ledger_amount", b.AmountPaid).
				Float64("charges_amount", paidSum).
				Msg("bundle ledger out of step with paid charges")
		}
		if flagDrift {
			s.metrics.ObserveSweepMismatch("paid_sessions")
			s.log.Warn().
				Str("bundle_id", b.ID.String()).
				Int("covered", bundles.Coverage(b)).
				Msg("paid-session flags behind ledger coverage")
		}

		// Only under-applied ledgers are replayable; a ledger ahead of its
		// charges means a charge row was lost and needs a human. Flag
		// drift alone replays a zero amount, which just re-runs coverage.
		missing := 0.0
		if diff > sweepEpsilon {
			missing = diff
		}
		if !s.repair || (missing == 0 && !flagDrift) {
			continue
		}

		if err := s.repairBundle(ctx, b.ID, missing); err != nil {
			s.log.Error().Err(err).
				Str("bundle_id", b.ID.String()).
				Msg("sweep repair failed")
			continue
		}
		report.Repaired++
	}
	return report, nil
}

// flaggedBehind reports paid-session flags trailing the ledger: the
// accumulated amount covers more of the existing sessions than carry the
// flag. Counting mirrors ApplyPayment, so a repaired bundle is a fixed
// point: canceled paid sessions still count as flagged, and coverage is
// capped at the flags ApplyPayment could actually set.
func flaggedBehind(b *bundles.Bundle, sessions []*bundles.Session) bool {
	flagged, flaggable := 0, 0
	for _, sess := range sessions {
		switch {
		case sess.Paid:
			flagged++
			flaggable++
		case sess.Status != bundles.SessionCanceled:
			flaggable++
		}
	}
	covered := bundles.Coverage(b)
	if covered > flaggable {
		covered = flaggable
	}
	return flagged < covered
}

func (s *Sweeper) repairBundle(ctx context.Context, bundleID uuid.UUID, missing float64) error {
	return s.runTx(ctx, func(ctx context.Context) error {
		b, err := s.bundles.GetForUpdate(ctx, bundleID)
		if err != nil {
			return err
		}
		sessions, err := s.bundles.ListSessionsByBundle(ctx, bundleID)
		if err != nil {
			return err
		}

		res := bundles.ApplyPayment(b, sessions, missing)

		if err := s.bundles.Update(ctx, b); err != nil {
			return err
		}
		return s.bundles.MarkSessionsPaid(ctx, res.NewlyPaid)
	})
}
