package billing

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/kaduart/fono-inova-api/internal/domain/bundles"
)

// -- Mock charge repository --

type mockChargeRepo struct {
	charges map[uuid.UUID]*Charge
}

func newMockChargeRepo() *mockChargeRepo {
	return &mockChargeRepo{charges: make(map[uuid.UUID]*Charge)}
}

func (m *mockChargeRepo) Create(_ context.Context, ch *Charge) error {
	ch.ID = uuid.New()
	m.charges[ch.ID] = ch
	return nil
}

func (m *mockChargeRepo) GetByID(_ context.Context, id uuid.UUID) (*Charge, error) {
	ch, ok := m.charges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ch, nil
}

func (m *mockChargeRepo) ListByBundle(_ context.Context, bundleID uuid.UUID) ([]*Charge, error) {
	var out []*Charge
	for _, ch := range m.charges {
		if ch.BundleID != nil && *ch.BundleID == bundleID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (m *mockChargeRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Charge, int, error) {
	var out []*Charge
	for _, ch := range m.charges {
		if ch.PatientID == patientID {
			out = append(out, ch)
		}
	}
	return out, len(out), nil
}

func (m *mockChargeRepo) Cancel(_ context.Context, id uuid.UUID) error {
	ch, ok := m.charges[id]
	if !ok || ch.Status != StatusPending {
		return ErrAlreadyPaid
	}
	ch.Status = StatusCanceled
	return nil
}

func (m *mockChargeRepo) MarkPaid(_ context.Context, id uuid.UUID) error {
	ch, ok := m.charges[id]
	if !ok {
		return ErrNotFound
	}
	if ch.Status != StatusPending {
		return ErrAlreadyPaid
	}
	ch.Status = StatusPaid
	now := time.Now()
	ch.PaidAt = &now
	return nil
}

func (m *mockChargeRepo) SumPaidByBundle(_ context.Context, bundleID uuid.UUID) (float64, error) {
	var sum float64
	for _, ch := range m.charges {
		if ch.BundleID != nil && *ch.BundleID == bundleID && ch.Status == StatusPaid {
			sum += ch.Amount
		}
	}
	return sum, nil
}

func (m *mockChargeRepo) UpdateAmount(_ context.Context, id uuid.UUID, amount float64) error {
	ch, ok := m.charges[id]
	if !ok || ch.Status != StatusPending {
		return nil
	}
	ch.Amount = amount
	return nil
}

// -- Mock bundle repository --

type mockBundleRepo struct {
	bundles  map[uuid.UUID]*bundles.Bundle
	sessions map[uuid.UUID]*bundles.Session
	seq      int
}

func newMockBundleRepo() *mockBundleRepo {
	return &mockBundleRepo{
		bundles:  make(map[uuid.UUID]*bundles.Bundle),
		sessions: make(map[uuid.UUID]*bundles.Session),
	}
}

func (m *mockBundleRepo) Create(_ context.Context, b *bundles.Bundle) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	m.bundles[b.ID] = b
	return nil
}

func (m *mockBundleRepo) GetByID(_ context.Context, id uuid.UUID) (*bundles.Bundle, error) {
	b, ok := m.bundles[id]
	if !ok {
		return nil, bundles.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *mockBundleRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*bundles.Bundle, error) {
	return m.GetByID(ctx, id)
}

func (m *mockBundleRepo) Update(_ context.Context, b *bundles.Bundle) error {
	m.bundles[b.ID] = b
	return nil
}

func (m *mockBundleRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*bundles.Bundle, error) {
	var out []*bundles.Bundle
	for _, b := range m.bundles {
		if b.PatientID == patientID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockBundleRepo) ListActive(_ context.Context) ([]*bundles.Bundle, error) {
	var out []*bundles.Bundle
	for _, b := range m.bundles {
		if b.Status == bundles.StatusActive {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockBundleRepo) ConsumeSlot(_ context.Context, bundleID uuid.UUID) error {
	b, ok := m.bundles[bundleID]
	if !ok {
		return bundles.ErrNotFound
	}
	if b.RemainingSessions <= 0 {
		return bundles.ErrExhausted
	}
	b.RemainingSessions--
	return nil
}

func (m *mockBundleRepo) ReleaseSlot(_ context.Context, bundleID uuid.UUID) error {
	b, ok := m.bundles[bundleID]
	if !ok {
		return bundles.ErrNotFound
	}
	b.RemainingSessions++
	return nil
}

func (m *mockBundleRepo) CreateSession(_ context.Context, s *bundles.Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	m.seq++
	s.CreatedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(m.seq) * time.Minute)
	m.sessions[s.ID] = s
	return nil
}

func (m *mockBundleRepo) GetSession(_ context.Context, id uuid.UUID) (*bundles.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, bundles.ErrNotFound
	}
	return s, nil
}

func (m *mockBundleRepo) UpdateSession(_ context.Context, s *bundles.Session) error {
	m.sessions[s.ID] = s
	return nil
}

func (m *mockBundleRepo) ListSessionsByBundle(_ context.Context, bundleID uuid.UUID) ([]*bundles.Session, error) {
	var out []*bundles.Session
	for _, s := range m.sessions {
		if s.BundleID != nil && *s.BundleID == bundleID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockBundleRepo) GetSessionByAppointment(_ context.Context, appointmentID uuid.UUID) (*bundles.Session, error) {
	for _, s := range m.sessions {
		if s.AppointmentID != nil && *s.AppointmentID == appointmentID {
			return s, nil
		}
	}
	return nil, bundles.ErrNotFound
}

func (m *mockBundleRepo) MarkSessionsPaid(_ context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		if s, ok := m.sessions[id]; ok {
			s.Paid = true
		}
	}
	return nil
}

// -- Helpers --

func passthroughTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func serializationErr() error {
	return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
}

func setupBundle(t *testing.T, repo *mockBundleRepo, total int, price float64, nSessions int) *bundles.Bundle {
	t.Helper()
	b := &bundles.Bundle{
		ID:                uuid.New(),
		PatientID:         uuid.New(),
		TotalSessions:     total,
		PricePerSession:   price,
		RemainingSessions: total - nSessions,
		RemainingBalance:  float64(total) * price,
		Status:            bundles.StatusActive,
	}
	_ = repo.Create(context.Background(), b)
	for i := 0; i < nSessions; i++ {
		_ = repo.CreateSession(context.Background(), &bundles.Session{
			BundleID:  &b.ID,
			PatientID: b.PatientID,
			Status:    bundles.SessionScheduled,
		})
	}
	return b
}

// -- Tests --

func TestRecordPayment_IdempotenceGate(t *testing.T) {
	charges := newMockChargeRepo()
	bundleRepo := newMockBundleRepo()
	svc := NewService(charges, bundleRepo, passthroughTx, nil, nil, zerolog.Nop())
	ctx := context.Background()

	b := setupBundle(t, bundleRepo, 8, 180, 3)
	ch := &Charge{
		PatientID:   b.PatientID,
		Amount:      450,
		Method:      "pix",
		ServiceType: ServiceBundlePurchase,
		BundleID:    &b.ID,
	}
	if err := svc.CreateCharge(ctx, ch); err != nil {
		t.Fatalf("CreateCharge: %v", err)
	}

	if err := svc.RecordPayment(ctx, ch.ID); err != nil {
		t.Fatalf("first RecordPayment: %v", err)
	}
	if err := svc.RecordPayment(ctx, ch.ID); err != ErrAlreadyPaid {
		t.Errorf("second RecordPayment = %v, want ErrAlreadyPaid", err)
	}

	got, _ := bundleRepo.GetByID(ctx, b.ID)
	if got.AmountPaid != 450 {
		t.Errorf("amount_paid = %v, want 450 (payment applied exactly once)", got.AmountPaid)
	}
}

func TestRecordPayment_ReconcilesBundle(t *testing.T) {
	charges := newMockChargeRepo()
	bundleRepo := newMockBundleRepo()
	svc := NewService(charges, bundleRepo, passthroughTx, nil, nil, zerolog.Nop())
	ctx := context.Background()

	b := setupBundle(t, bundleRepo, 8, 180, 4)
	ch := &Charge{
		PatientID:   b.PatientID,
		Amount:      450,
		Method:      "card",
		ServiceType: ServiceBundlePurchase,
		BundleID:    &b.ID,
	}
	_ = svc.CreateCharge(ctx, ch)

	if err := svc.RecordPayment(ctx, ch.ID); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	got, _ := bundleRepo.GetByID(ctx, b.ID)
	if got.RemainingBalance != 990 {
		t.Errorf("remaining_balance = %v, want 990", got.RemainingBalance)
	}
	sessions, _ := bundleRepo.ListSessionsByBundle(ctx, b.ID)
	paid := 0
	for _, s := range sessions {
		if s.Paid {
			paid++
		}
	}
	if paid != 2 {
		t.Errorf("paid sessions = %d, want 2", paid)
	}
	if !sessions[0].Paid || !sessions[1].Paid {
		t.Error("coverage must apply to the oldest sessions first")
	}
}

func TestRecordPayment_RetriesSerializationFailure(t *testing.T) {
	charges := newMockChargeRepo()
	bundleRepo := newMockBundleRepo()

	failures := 2
	flakyTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		if failures > 0 {
			failures--
			return serializationErr()
		}
		return fn(ctx)
	}

	svc := NewService(charges, bundleRepo, flakyTx, nil, nil, zerolog.Nop())
	ctx := context.Background()

	b := setupBundle(t, bundleRepo, 4, 100, 2)
	ch := &Charge{
		PatientID:   b.PatientID,
		Amount:      200,
		Method:      "pix",
		ServiceType: ServiceBundleSession,
		BundleID:    &b.ID,
	}
	_ = svc.CreateCharge(ctx, ch)

	if err := svc.RecordPayment(ctx, ch.ID); err != nil {
		t.Fatalf("RecordPayment with transient failures: %v", err)
	}
	got, _ := bundleRepo.GetByID(ctx, b.ID)
	if got.AmountPaid != 200 {
		t.Errorf("amount_paid = %v, want 200", got.AmountPaid)
	}
}

func TestRecordPayment_ExhaustedRetriesKeepsChargePaid(t *testing.T) {
	charges := newMockChargeRepo()
	bundleRepo := newMockBundleRepo()

	alwaysFail := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return serializationErr()
	}

	svc := NewService(charges, bundleRepo, alwaysFail, nil, nil, zerolog.Nop())
	svc.policy.BaseDelay = time.Millisecond
	ctx := context.Background()

	b := setupBundle(t, bundleRepo, 4, 100, 2)
	ch := &Charge{
		PatientID:   b.PatientID,
		Amount:      100,
		Method:      "cash",
		ServiceType: ServiceBundlePurchase,
		BundleID:    &b.ID,
	}
	_ = svc.CreateCharge(ctx, ch)

	err := svc.RecordPayment(ctx, ch.ID)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}

	got, _ := charges.GetByID(ctx, ch.ID)
	if got.Status != StatusPaid {
		t.Errorf("charge status = %q, want paid (gate committed before reconcile)", got.Status)
	}
	gb, _ := bundleRepo.GetByID(ctx, b.ID)
	if gb.AmountPaid != 0 {
		t.Errorf("bundle amount_paid = %v, want 0 (ledger untouched)", gb.AmountPaid)
	}
}

func TestRecordPayment_StandaloneSettlesSession(t *testing.T) {
	charges := newMockChargeRepo()
	bundleRepo := newMockBundleRepo()
	svc := NewService(charges, bundleRepo, passthroughTx, nil, nil, zerolog.Nop())
	ctx := context.Background()

	sess := &bundles.Session{PatientID: uuid.New(), Status: bundles.SessionScheduled}
	_ = bundleRepo.CreateSession(ctx, sess)

	ch := &Charge{
		PatientID:   sess.PatientID,
		Amount:      220,
		Method:      "pix",
		ServiceType: ServiceSession,
		SessionID:   &sess.ID,
	}
	_ = svc.CreateCharge(ctx, ch)

	if err := svc.RecordPayment(ctx, ch.ID); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	got, _ := bundleRepo.GetSession(ctx, sess.ID)
	if !got.Paid {
		t.Error("standalone session should be paid after charge payment")
	}
}

func TestCreateCharge_Validation(t *testing.T) {
	svc := NewService(newMockChargeRepo(), newMockBundleRepo(), passthroughTx, nil, nil, zerolog.Nop())
	ctx := context.Background()
	pid := uuid.New()

	cases := []struct {
		name string
		ch   Charge
	}{
		{"missing patient", Charge{Amount: 100, Method: "pix", ServiceType: ServiceSession}},
		{"zero amount", Charge{PatientID: pid, Method: "pix", ServiceType: ServiceSession}},
		{"bad method", Charge{PatientID: pid, Amount: 100, Method: "check", ServiceType: ServiceSession}},
		{"bad service type", Charge{PatientID: pid, Amount: 100, Method: "pix", ServiceType: "massage"}},
		{"bundle type without bundle", Charge{PatientID: pid, Amount: 100, Method: "pix", ServiceType: ServiceBundlePurchase}},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.CreateCharge(ctx, &tt.ch); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSweep_DetectsAndRepairsMismatch(t *testing.T) {
	charges := newMockChargeRepo()
	bundleRepo := newMockBundleRepo()
	ctx := context.Background()

	b := setupBundle(t, bundleRepo, 4, 100, 2)

	// A paid charge whose reconciliation never ran: ledger shows zero.
	ch := &Charge{
		PatientID:   b.PatientID,
		Amount:      200,
		Method:      "pix",
		Status:      StatusPaid,
		ServiceType: ServiceBundlePurchase,
		BundleID:    &b.ID,
	}
	_ = charges.Create(ctx, ch)

	sweeper := NewSweeper(charges, bundleRepo, passthroughTx, nil, zerolog.Nop(), true)
	report, err := sweeper.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Mismatches != 1 {
		t.Errorf("mismatches = %d, want 1", report.Mismatches)
	}
	if report.Repaired != 1 {
		t.Errorf("repaired = %d, want 1", report.Repaired)
	}

	got, _ := bundleRepo.GetByID(ctx, b.ID)
	if got.AmountPaid != 200 {
		t.Errorf("amount_paid after repair = %v, want 200", got.AmountPaid)
	}
}

func TestSweep_RepairsPaidFlagDrift(t *testing.T) {
	// The amounts agree but a flag update was lost: amount_paid covers two
	// sessions while none carry the flag. The sweep replays a zero amount
	// to re-run coverage.
	charges := newMockChargeRepo()
	bundleRepo := newMockBundleRepo()
	ctx := context.Background()

	b := setupBundle(t, bundleRepo, 4, 100, 2)
	b.AmountPaid = 200
	b.RemainingBalance = 200
	_ = bundleRepo.Update(ctx, b)
	ch := &Charge{
		PatientID:   b.PatientID,
		Amount:      200,
		Method:      "pix",
		Status:      StatusPaid,
		ServiceType: ServiceBundlePurchase,
		BundleID:    &b.ID,
	}
	_ = charges.Create(ctx, ch)

	sweeper := NewSweeper(charges, bundleRepo, passthroughTx, nil, zerolog.Nop(), true)
	report, err := sweeper.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Mismatches != 1 {
		t.Errorf("mismatches = %d, want 1", report.Mismatches)
	}
	if report.Repaired != 1 {
		t.Errorf("repaired = %d, want 1", report.Repaired)
	}

	sessions, _ := bundleRepo.ListSessionsByBundle(ctx, b.ID)
	for i, s := range sessions {
		if !s.Paid {
			t.Errorf("session %d still unpaid after repair", i+1)
		}
	}
	got, _ := bundleRepo.GetByID(ctx, b.ID)
	if got.AmountPaid != 200 {
		t.Errorf("amount_paid = %v, want 200 (repair must not change the amount)", got.AmountPaid)
	}
}

func TestSweep_CleanBundleUntouched(t *testing.T) {
	charges := newMockChargeRepo()
	bundleRepo := newMockBundleRepo()
	ctx := context.Background()

	b := setupBundle(t, bundleRepo, 4, 100, 0)
	b.AmountPaid = 100
	_ = bundleRepo.Update(ctx, b)
	ch := &Charge{
		PatientID:   b.PatientID,
		Amount:      100,
		Method:      "pix",
		Status:      StatusPaid,
		ServiceType: ServiceBundlePurchase,
		BundleID:    &b.ID,
	}
	_ = charges.Create(ctx, ch)

	sweeper := NewSweeper(charges, bundleRepo, passthroughTx, nil, zerolog.Nop(), true)
	report, err := sweeper.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Mismatches != 0 || report.Repaired != 0 {
		t.Errorf("report = %+v, want no mismatches", report)
	}
}
