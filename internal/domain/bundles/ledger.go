package bundles

import (
	"math"

	"github.com/google/uuid"
)

// Epsilon for money comparisons: half a cent.
const moneyEpsilon = 0.005

// LedgerResult describes what a payment changed on a bundle.
type LedgerResult struct {
	// NewlyPaid lists sessions whose paid flag flipped with this payment,
	// oldest first.
	NewlyPaid []uuid.UUID
	// CoveredSessions is the total number of sessions the accumulated
	// amount now covers, whether or not they exist yet.
	CoveredSessions int
	// Completed reports whether the bundle transitioned to completed.
	Completed bool
}

// Coverage reports how many sessions the accumulated amount pays for,
// clamped to the bundle size. Coverage can run ahead of the sessions that
// exist: a bundle paid in full up front covers bookings that have not
// happened yet.
func Coverage(b *Bundle) int {
	if b.PricePerSession <= 0 {
		return 0
	}
	covered := int(math.Floor((b.AmountPaid + moneyEpsilon) / b.PricePerSession))
	if covered > b.TotalSessions {
		covered = b.TotalSessions
	}
	if covered < 0 {
		covered = 0
	}
	return covered
}

// PrepaidSlack reports how many covered sessions carry no paid flag yet. A
// positive slack means the next session created on this bundle is already
// paid for and must be flagged at creation.
func PrepaidSlack(b *Bundle, sessions []*Session) int {
	flagged := 0
	for _, s := range sessions {
		if s.Paid {
			flagged++
		}
	}
	slack := Coverage(b) - flagged
	if slack < 0 {
		return 0
	}
	return slack
}

// Settle flips an active bundle to completed once every slot is consumed,
// every surviving session is paid and no balance is owed. It reports
// whether the transition happened; callers persist the bundle.
func Settle(b *Bundle, sessions []*Session) bool {
	if b.Status != StatusActive || b.RemainingSessions != 0 || b.RemainingBalance != 0 {
		return false
	}
	if len(sessions) == 0 || !allSettled(sessions) {
		return false
	}
	b.Status = StatusCompleted
	return true
}

// ApplyPayment folds a payment into the bundle ledger. It mutates b and the
// paid flags of sessions, and reports what changed. Pure with respect to
// storage: callers persist the bundle and the newly paid sessions.
//
// amount_paid accumulates; coverage is floor(amount_paid / price) clamped to
// total_sessions; the oldest unpaid sessions are flagged first. Partial
// amounts accumulate until they cross a session boundary. A payment never
// unflags a session and never lowers the balance below zero.
func ApplyPayment(b *Bundle, sessions []*Session, amount float64) LedgerResult {
	var res LedgerResult

	b.AmountPaid += amount

	covered := Coverage(b)
	res.CoveredSessions = covered

	// Flag oldest unpaid sessions until the paid count matches coverage.
	// The sessions slice is expected ordered by creation time.
	paidCount := 0
	for _, s := range sessions {
		if s.Paid {
			paidCount++
		}
	}
	for _, s := range sessions {
		if paidCount >= covered {
			break
		}
		if s.Paid || s.Status == SessionCanceled {
			continue
		}
		s.Paid = true
		paidCount++
		res.NewlyPaid = append(res.NewlyPaid, s.ID)
	}

	b.RemainingBalance = b.TotalPrice() - b.AmountPaid
	if b.RemainingBalance < moneyEpsilon {
		b.RemainingBalance = 0
	}

	res.Completed = Settle(b, sessions)

	return res
}

func allSettled(sessions []*Session) bool {
	for _, s := range sessions {
		if s.Status == SessionCanceled {
			continue
		}
		if !s.Paid {
			return false
		}
	}
	return true
}
