package scheduling

import (
	"context"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repository --

type mockRepo struct {
	appointments map[uuid.UUID]*Appointment
	history      []*History
	seq          int
}

func newMockRepo() *mockRepo {
	return &mockRepo{appointments: make(map[uuid.UUID]*Appointment)}
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	a.ID = uuid.New()
	m.seq++
	a.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(m.seq) * time.Second)
	m.appointments[a.ID] = a
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (m *mockRepo) Update(_ context.Context, a *Appointment) error {
	m.appointments[a.ID] = a
	return nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var out []*Appointment
	for _, a := range m.appointments {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) ListActiveByPractitioner(_ context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	var out []*Appointment
	for _, a := range m.appointments {
		if a.PractitionerID == practitionerID && a.Active() &&
			!a.StartTime.Before(from) && a.StartTime.Before(to) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *mockRepo) ListActiveByPatient(_ context.Context, patientID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	var out []*Appointment
	for _, a := range m.appointments {
		if a.PatientID == patientID && a.Active() &&
			!a.StartTime.Before(from) && a.StartTime.Before(to) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *mockRepo) AddHistory(_ context.Context, h *History) error {
	h.ID = uuid.New()
	m.history = append(m.history, h)
	return nil
}

func (m *mockRepo) ListHistory(_ context.Context, appointmentID uuid.UUID) ([]*History, error) {
	var out []*History
	for _, h := range m.history {
		if h.AppointmentID == appointmentID {
			out = append(out, h)
		}
	}
	return out, nil
}

// -- Tests --

var testLoc = time.UTC

func day(hour, min int) time.Time {
	return time.Date(2026, 3, 2, hour, min, 0, 0, testLoc)
}

func placeAppt(repo *mockRepo, practitionerID, patientID uuid.UUID, start time.Time, status string) *Appointment {
	a := &Appointment{
		PractitionerID:    practitionerID,
		PatientID:         patientID,
		StartTime:         start,
		OperationalStatus: status,
		ClinicalStatus:    ClinPending,
	}
	_ = repo.Create(context.Background(), a)
	return a
}

func TestCheckConflict_PractitionerOverlap(t *testing.T) {
	repo := newMockRepo()
	prac := uuid.New()
	placeAppt(repo, prac, uuid.New(), day(9, 0), OpConfirmed)

	tests := []struct {
		name  string
		start time.Time
		want  Conflict
	}{
		{"same slot", day(9, 0), ConflictPractitioner},
		{"overlaps tail", day(9, 20), ConflictPractitioner},
		{"overlaps head", day(8, 30), ConflictPractitioner},
		{"back to back after", day(9, 40), ConflictNone},
		{"back to back before", day(8, 20), ConflictNone},
		{"far away", day(15, 0), ConflictNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CheckConflict(context.Background(), repo, testLoc, prac, uuid.New(), tt.start, uuid.Nil)
			if err != nil {
				t.Fatalf("CheckConflict: %v", err)
			}
			if got != tt.want {
				t.Errorf("conflict = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckConflict_PatientOverlap(t *testing.T) {
	repo := newMockRepo()
	patient := uuid.New()
	placeAppt(repo, uuid.New(), patient, day(10, 0), OpConfirmed)

	got, err := CheckConflict(context.Background(), repo, testLoc, uuid.New(), patient, day(10, 20), uuid.Nil)
	if err != nil {
		t.Fatalf("CheckConflict: %v", err)
	}
	if got != ConflictPatient {
		t.Errorf("conflict = %v, want ConflictPatient", got)
	}
}

func TestCheckConflict_CanceledIgnored(t *testing.T) {
	repo := newMockRepo()
	prac := uuid.New()
	placeAppt(repo, prac, uuid.New(), day(9, 0), OpCanceled)

	got, err := CheckConflict(context.Background(), repo, testLoc, prac, uuid.New(), day(9, 0), uuid.Nil)
	if err != nil {
		t.Fatalf("CheckConflict: %v", err)
	}
	if got != ConflictNone {
		t.Errorf("conflict = %v, want none against canceled appointment", got)
	}
}

func TestCheckConflict_ExcludesSelf(t *testing.T) {
	repo := newMockRepo()
	prac := uuid.New()
	patient := uuid.New()
	a := placeAppt(repo, prac, patient, day(9, 0), OpConfirmed)

	// Rescheduling to an overlapping time must not collide with itself.
	got, err := CheckConflict(context.Background(), repo, testLoc, prac, patient, day(9, 20), a.ID)
	if err != nil {
		t.Fatalf("CheckConflict: %v", err)
	}
	if got != ConflictNone {
		t.Errorf("conflict = %v, want none when excluding self", got)
	}
}

// TestCheckConflict_RandomizedInvariant places random appointments through
// the checker and verifies that no two accepted appointments of the same
// practitioner or patient ever overlap.
func TestCheckConflict_RandomizedInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	repo := newMockRepo()
	ctx := context.Background()

	practitioners := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	patients := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()}

	for i := 0; i < 500; i++ {
		prac := practitioners[rng.Intn(len(practitioners))]
		patient := patients[rng.Intn(len(patients))]
		// Random minute offsets, deliberately not grid-aligned.
		start := day(8, 0).Add(time.Duration(rng.Intn(600)) * time.Minute)

		conflict, err := CheckConflict(ctx, repo, testLoc, prac, patient, start, uuid.Nil)
		if err != nil {
			t.Fatalf("CheckConflict: %v", err)
		}
		if conflict == ConflictNone {
			placeAppt(repo, prac, patient, start, OpConfirmed)
		}
	}

	overlap := func(a, b *Appointment) bool {
		return a.StartTime.Before(b.End()) && a.End().After(b.StartTime)
	}
	var all []*Appointment
	for _, a := range repo.appointments {
		all = append(all, a)
	}
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			a, b := all[i], all[j]
			if a.PractitionerID == b.PractitionerID && overlap(a, b) {
				t.Fatalf("practitioner double-booked: %v and %v", a.StartTime, b.StartTime)
			}
			if a.PatientID == b.PatientID && overlap(a, b) {
				t.Fatalf("patient double-booked: %v and %v", a.StartTime, b.StartTime)
			}
		}
	}
}
