package bundles

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestBundle(total int, price float64) *Bundle {
	return &Bundle{
		ID:                uuid.New(),
		PatientID:         uuid.New(),
		TotalSessions:     total,
		SessionsPerWeek:   2,
		PricePerSession:   price,
		RemainingSessions: total,
		RemainingBalance:  float64(total) * price,
		Status:            StatusActive,
	}
}

func newTestSessions(b *Bundle, n int) []*Session {
	out := make([]*Session, n)
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = &Session{
			ID:          uuid.New(),
			BundleID:    &b.ID,
			PatientID:   b.PatientID,
			ScheduledAt: base.AddDate(0, 0, i),
			Status:      SessionScheduled,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func paidCount(sessions []*Session) int {
	n := 0
	for _, s := range sessions {
		if s.Paid {
			n++
		}
	}
	return n
}

func TestApplyPayment_PartialCoverage(t *testing.T) {
	// Eight sessions at 180 each; a 450 payment covers two sessions and
	// leaves 90 accumulated toward the third.
	b := newTestBundle(8, 180)
	sessions := newTestSessions(b, 8)

	res := ApplyPayment(b, sessions, 450)

	if res.CoveredSessions != 2 {
		t.Errorf("covered = %d, want 2", res.CoveredSessions)
	}
	if got := paidCount(sessions); got != 2 {
		t.Errorf("paid sessions = %d, want 2", got)
	}
	if b.AmountPaid != 450 {
		t.Errorf("amount_paid = %v, want 450", b.AmountPaid)
	}
	if b.RemainingBalance != 990 {
		t.Errorf("remaining_balance = %v, want 990", b.RemainingBalance)
	}
	if !sessions[0].Paid || !sessions[1].Paid {
		t.Error("oldest two sessions should be flagged paid")
	}
	if sessions[2].Paid {
		t.Error("third session should remain unpaid")
	}
}

func TestApplyPayment_AccumulationCrossesBoundary(t *testing.T) {
	// Follow-on from the 450 scenario: another 180 makes 630, covering a
	// third session.
	b := newTestBundle(8, 180)
	sessions := newTestSessions(b, 8)
	ApplyPayment(b, sessions, 450)

	res := ApplyPayment(b, sessions, 180)

	if res.CoveredSessions != 3 {
		t.Errorf("covered = %d, want 3", res.CoveredSessions)
	}
	if len(res.NewlyPaid) != 1 || res.NewlyPaid[0] != sessions[2].ID {
		t.Errorf("newly paid = %v, want exactly the third session", res.NewlyPaid)
	}
	if b.RemainingBalance != 810 {
		t.Errorf("remaining_balance = %v, want 810", b.RemainingBalance)
	}
}

func TestApplyPayment_NeverOvercounts(t *testing.T) {
	b := newTestBundle(4, 100)
	sessions := newTestSessions(b, 4)

	ApplyPayment(b, sessions, 1000)

	if got := paidCount(sessions); got != 4 {
		t.Errorf("paid sessions = %d, want clamp at 4", got)
	}
	if b.RemainingBalance != 0 {
		t.Errorf("remaining_balance = %v, want 0", b.RemainingBalance)
	}
}

func TestApplyPayment_BalanceInvariant(t *testing.T) {
	// remaining_balance must equal max(total*price - amount_paid, 0) and
	// paid count must equal min(floor(amount_paid/price), total) after any
	// payment sequence.
	b := newTestBundle(10, 175.50)
	sessions := newTestSessions(b, 10)

	payments := []float64{100, 251, 175.50, 0.50, 600, 33.33}
	for _, amt := range payments {
		ApplyPayment(b, sessions, amt)

		wantBalance := math.Max(b.TotalPrice()-b.AmountPaid, 0)
		if math.Abs(b.RemainingBalance-wantBalance) > moneyEpsilon {
			t.Fatalf("after payment %v: balance = %v, want %v", amt, b.RemainingBalance, wantBalance)
		}

		wantPaid := int(math.Floor((b.AmountPaid + moneyEpsilon) / b.PricePerSession))
		if wantPaid > b.TotalSessions {
			wantPaid = b.TotalSessions
		}
		if got := paidCount(sessions); got != wantPaid {
			t.Fatalf("after payment %v: paid = %d, want %d", amt, got, wantPaid)
		}
	}
}

func TestApplyPayment_SkipsCanceledSessions(t *testing.T) {
	b := newTestBundle(3, 100)
	sessions := newTestSessions(b, 3)
	sessions[0].Status = SessionCanceled

	res := ApplyPayment(b, sessions, 100)

	if sessions[0].Paid {
		t.Error("canceled session should not be flagged")
	}
	if len(res.NewlyPaid) != 1 || res.NewlyPaid[0] != sessions[1].ID {
		t.Errorf("newly paid = %v, want the first non-canceled session", res.NewlyPaid)
	}
}

func TestApplyPayment_CompletesBundle(t *testing.T) {
	b := newTestBundle(2, 100)
	b.RemainingSessions = 0
	sessions := newTestSessions(b, 2)

	res := ApplyPayment(b, sessions, 200)

	if !res.Completed {
		t.Error("expected bundle completion")
	}
	if b.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", b.Status)
	}
}

func TestApplyPayment_NotCompletedWhileSlotsRemain(t *testing.T) {
	b := newTestBundle(4, 100)
	b.RemainingSessions = 2
	sessions := newTestSessions(b, 2)

	res := ApplyPayment(b, sessions, 400)

	if res.Completed || b.Status != StatusActive {
		t.Error("bundle with unconsumed slots must stay active")
	}
}

func TestApplyPayment_CoverageRunsAheadOfSessions(t *testing.T) {
	// Paid in full before anything is booked: no flags can be set yet, but
	// the coverage must report the whole bundle so later bookings inherit
	// the paid flag.
	b := newTestBundle(8, 180)

	res := ApplyPayment(b, nil, 1440)

	if res.CoveredSessions != 8 {
		t.Errorf("covered = %d, want 8", res.CoveredSessions)
	}
	if len(res.NewlyPaid) != 0 {
		t.Errorf("newly paid = %v, want none with no sessions yet", res.NewlyPaid)
	}
	if b.RemainingBalance != 0 {
		t.Errorf("remaining_balance = %v, want 0", b.RemainingBalance)
	}
	if res.Completed || b.Status != StatusActive {
		t.Error("a prepaid bundle with no bookings must stay active")
	}
}

func TestPrepaidSlack(t *testing.T) {
	b := newTestBundle(8, 180)
	b.AmountPaid = 1440

	if got := PrepaidSlack(b, nil); got != 8 {
		t.Errorf("slack with no sessions = %d, want 8", got)
	}

	sessions := newTestSessions(b, 3)
	sessions[0].Paid = true
	sessions[1].Paid = true
	if got := PrepaidSlack(b, sessions); got != 6 {
		t.Errorf("slack with 2 flagged = %d, want 6", got)
	}

	b.AmountPaid = 180
	if got := PrepaidSlack(b, sessions); got != 0 {
		t.Errorf("slack never negative, got %d", got)
	}
}

func TestSettle(t *testing.T) {
	b := newTestBundle(2, 100)
	b.AmountPaid = 200
	b.RemainingBalance = 0
	b.RemainingSessions = 0
	sessions := newTestSessions(b, 2)
	sessions[0].Paid = true
	sessions[1].Paid = true

	if !Settle(b, sessions) {
		t.Fatal("expected settlement")
	}
	if b.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", b.Status)
	}

	// Already completed: reported once.
	if Settle(b, sessions) {
		t.Error("a completed bundle must not settle twice")
	}
}

func TestSettle_RequiresSessions(t *testing.T) {
	b := newTestBundle(2, 100)
	b.AmountPaid = 200
	b.RemainingBalance = 0
	b.RemainingSessions = 0

	if Settle(b, nil) {
		t.Error("a bundle with no sessions must not settle")
	}
}

func TestApplyPayment_EpsilonTolerance(t *testing.T) {
	// 3 x 59.99 paid with a 3-tenths-of-a-cent shortfall still covers all
	// three sessions.
	b := newTestBundle(3, 59.99)
	sessions := newTestSessions(b, 3)

	ApplyPayment(b, sessions, 59.99)
	ApplyPayment(b, sessions, 59.99)
	ApplyPayment(b, sessions, 59.987)

	if got := paidCount(sessions); got != 3 {
		t.Errorf("paid sessions = %d, want 3 within half-cent tolerance", got)
	}
	if b.RemainingBalance != 0 {
		t.Errorf("remaining_balance = %v, want 0", b.RemainingBalance)
	}
}
