package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Conflict identifies which participant already occupies an overlapping
// slot.
type Conflict int

const (
	ConflictNone Conflict = iota
	ConflictPractitioner
	ConflictPatient
)

// CheckConflict decides whether an appointment starting at start can be
// placed for the given practitioner and patient. The proposed window is
// [start, start+SessionDuration); two appointments conflict iff their
// windows overlap. excludeID skips one appointment, so reschedules do not
// collide with themselves.
//
// Candidates are the non-canceled appointments of either participant on the
// same calendar day in the clinic timezone. The practitioner is checked
// first.
func CheckConflict(ctx context.Context, repo Repository, loc *time.Location, practitionerID, patientID uuid.UUID, start time.Time, excludeID uuid.UUID) (Conflict, error) {
	dayStart, dayEnd := dayBounds(start, loc)
	proposedEnd := start.Add(SessionDuration)

	byPractitioner, err := repo.ListActiveByPractitioner(ctx, practitionerID, dayStart, dayEnd)
	if err != nil {
		return ConflictNone, err
	}
	if overlapsAny(byPractitioner, start, proposedEnd, excludeID) {
		return ConflictPractitioner, nil
	}

	byPatient, err := repo.ListActiveByPatient(ctx, patientID, dayStart, dayEnd)
	if err != nil {
		return ConflictNone, err
	}
	if overlapsAny(byPatient, start, proposedEnd, excludeID) {
		return ConflictPatient, nil
	}

	return ConflictNone, nil
}

func overlapsAny(appts []*Appointment, start, end time.Time, excludeID uuid.UUID) bool {
	for _, a := range appts {
		if a.ID == excludeID {
			continue
		}
		if a.StartTime.Before(end) && a.End().After(start) {
			return true
		}
	}
	return false
}

// dayBounds returns the inclusive start and exclusive end of the calendar
// day containing t, in the clinic timezone.
func dayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
