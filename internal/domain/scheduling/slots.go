package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SlotPolicy excludes windows from the offered grid per practitioner.
// Blocked windows only affect what is offered; direct bookings into a
// blocked window are still accepted if conflict-free.
type SlotPolicy interface {
	Blocked(practitionerID uuid.UUID, slot time.Time) bool
}

// LunchBlockPolicy blocks the midday stretch for one practitioner. The
// window covers the 12:00 and 12:40 slots and ends at 13:20.
type LunchBlockPolicy struct {
	PractitionerID uuid.UUID
}

func (p LunchBlockPolicy) Blocked(practitionerID uuid.UUID, slot time.Time) bool {
	if p.PractitionerID == uuid.Nil || practitionerID != p.PractitionerID {
		return false
	}
	mins := slot.Hour()*60 + slot.Minute()
	return mins >= 12*60 && mins < 13*60+20
}

// NoBlocksPolicy offers the full grid to everyone.
type NoBlocksPolicy struct{}

func (NoBlocksPolicy) Blocked(uuid.UUID, time.Time) bool { return false }

// SlotGrid describes the clinic working day.
type SlotGrid struct {
	Location *time.Location
	StartMin int // minutes past midnight, inclusive
	EndMin   int // minutes past midnight, exclusive for slot starts
	StepMin  int
}

// DefaultGrid is 08:00-18:00 in 40-minute steps.
func DefaultGrid(loc *time.Location) SlotGrid {
	return SlotGrid{Location: loc, StartMin: 8 * 60, EndMin: 18 * 60, StepMin: 40}
}

// AvailableSlots enumerates the free slot starts for a practitioner on a
// day: the working grid minus slots overlapping existing appointments minus
// policy-blocked windows.
func AvailableSlots(ctx context.Context, repo Repository, grid SlotGrid, policy SlotPolicy, practitionerID uuid.UUID, day time.Time) ([]time.Time, error) {
	if policy == nil {
		policy = NoBlocksPolicy{}
	}

	dayStart, dayEnd := dayBounds(day, grid.Location)
	taken, err := repo.ListActiveByPractitioner(ctx, practitionerID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	var out []time.Time
	for m := grid.StartMin; m+grid.StepMin <= grid.EndMin; m += grid.StepMin {
		slot := dayStart.Add(time.Duration(m) * time.Minute)
		if policy.Blocked(practitionerID, slot) {
			continue
		}
		if overlapsAny(taken, slot, slot.Add(SessionDuration), uuid.Nil) {
			continue
		}
		out = append(out, slot)
	}
	return out, nil
}
