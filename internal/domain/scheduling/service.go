package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kaduart/fono-inova-api/internal/domain/billing"
	"github.com/kaduart/fono-inova-api/internal/domain/bundles"
	"github.com/kaduart/fono-inova-api/internal/domain/identity"
	"github.com/kaduart/fono-inova-api/internal/platform/db"
	"github.com/kaduart/fono-inova-api/internal/platform/metrics"
)

// TxRunner executes fn inside one serializable transaction riding the
// context. All repositories called under fn join that transaction.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// ChangeSink receives post-commit notifications for the reporting
// projection. Notifications fire only after a successful commit and their
// failures never affect the booking.
type ChangeSink interface {
	AppointmentChanged(ctx context.Context, appointmentID uuid.UUID)
	SessionChanged(ctx context.Context, sessionID uuid.UUID)
	BundleChanged(ctx context.Context, bundleID uuid.UUID)
}

type nopSink struct{}

func (nopSink) AppointmentChanged(context.Context, uuid.UUID) {}
func (nopSink) SessionChanged(context.Context, uuid.UUID)     {}
func (nopSink) BundleChanged(context.Context, uuid.UUID)      {}

// PriceTable gives the default amounts for standalone pending charges.
type PriceTable struct {
	Session    float64
	Evaluation float64
}

func (p PriceTable) amountFor(t billing.ServiceType) float64 {
	if t == billing.ServiceEvaluation {
		return p.Evaluation
	}
	return p.Session
}

// Service is the booking coordinator. Every mutation that touches more than
// one row runs inside one serializable transaction: the appointment, its
// charge, its session and the bundle counter commit or roll back together.
type Service struct {
	repo     Repository
	patients identity.Repository
	bundles  bundles.Repository
	charges  billing.Repository
	runTx    TxRunner
	loc      *time.Location
	grid     SlotGrid
	policy   SlotPolicy
	prices   PriceTable
	sink     ChangeSink
	metrics  *metrics.ConsistencyMetrics
	log      zerolog.Logger
}

type ServiceParams struct {
	Repo     Repository
	Patients identity.Repository
	Bundles  bundles.Repository
	Charges  billing.Repository
	RunTx    TxRunner
	Location *time.Location
	Grid     SlotGrid
	Policy   SlotPolicy
	Prices   PriceTable
	Sink     ChangeSink
	Metrics  *metrics.ConsistencyMetrics
	Logger   zerolog.Logger
}

func NewService(p ServiceParams) *Service {
	if p.Location == nil {
		p.Location = time.UTC
	}
	if p.Grid.StepMin == 0 {
		p.Grid = DefaultGrid(p.Location)
	}
	if p.Policy == nil {
		p.Policy = NoBlocksPolicy{}
	}
	if p.Sink == nil {
		p.Sink = nopSink{}
	}
	return &Service{
		repo:     p.Repo,
		patients: p.Patients,
		bundles:  p.Bundles,
		charges:  p.Charges,
		runTx:    p.RunTx,
		loc:      p.Location,
		grid:     p.Grid,
		policy:   p.Policy,
		prices:   p.Prices,
		sink:     p.Sink,
		metrics:  p.Metrics,
		log:      p.Logger,
	}
}

type CreateRequest struct {
	PractitionerID uuid.UUID           `json:"practitioner_id"`
	PatientID      uuid.UUID           `json:"patient_id"`
	StartTime      time.Time           `json:"start_time"`
	ServiceType    billing.ServiceType `json:"service_type"`
	BundleID       *uuid.UUID          `json:"bundle_id,omitempty"`
	Method         string              `json:"method,omitempty"`
}

func (r *CreateRequest) validate() error {
	fields := map[string]string{}
	if r.PractitionerID == uuid.Nil {
		fields["practitioner_id"] = "required"
	}
	if r.PatientID == uuid.Nil {
		fields["patient_id"] = "required"
	}
	if r.StartTime.IsZero() {
		fields["start_time"] = "required"
	}
	switch r.ServiceType {
	case billing.ServiceSession, billing.ServiceEvaluation:
		if r.BundleID != nil {
			fields["bundle_id"] = "must be empty for standalone services"
		}
	case billing.ServiceBundleSession:
		if r.BundleID == nil {
			fields["bundle_id"] = "required for bundle sessions"
		}
	default:
		fields["service_type"] = "must be session, bundle_session or evaluation"
	}
	if r.Method != "" && !billing.ValidMethod(r.Method) {
		fields["method"] = "unknown payment method"
	}
	if len(fields) > 0 {
		return newValidationError(fields)
	}
	return nil
}

// CreateAppointment books a slot. Inside one serializable transaction it
// verifies the participants, the bundle capacity and the slot, then writes
// the appointment together with its money rows: a pending charge and a
// prepaid session for standalone services, a consumed bundle slot and a
// bundle session otherwise.
//
// A serialization failure means a concurrent booking touched the same rows;
// it surfaces as a slot conflict and the caller re-books. The coordinator
// itself never retries: the slot is usually genuinely gone.
func (s *Service) CreateAppointment(ctx context.Context, req *CreateRequest) (*Appointment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Method == "" {
		req.Method = "pix"
	}

	appt := &Appointment{
		PractitionerID:    req.PractitionerID,
		PatientID:         req.PatientID,
		StartTime:         req.StartTime,
		ServiceType:       req.ServiceType,
		OperationalStatus: OpRequested,
		ClinicalStatus:    ClinPending,
	}

	err := s.runTx(ctx, func(ctx context.Context) error {
		patient, err := s.patients.GetPatient(ctx, req.PatientID)
		if err != nil {
			return newValidationError(map[string]string{"patient_id": "unknown patient"})
		}
		if _, err := s.patients.GetPractitioner(ctx, req.PractitionerID); err != nil {
			return newValidationError(map[string]string{"practitioner_id": "unknown practitioner"})
		}
		if patient.AssignedPractitionerID != nil && *patient.AssignedPractitionerID != req.PractitionerID {
			return ErrPractitionerMismatch
		}

		var bundle *bundles.Bundle
		if req.BundleID != nil {
			bundle, err = s.bundles.GetForUpdate(ctx, *req.BundleID)
			if err != nil {
				return newValidationError(map[string]string{"bundle_id": "unknown bundle"})
			}
			if bundle.PatientID != req.PatientID {
				return ErrBundlePatientMismatch
			}
			if bundle.RemainingSessions <= 0 {
				return ErrBundleExhausted
			}
		}

		conflict, err := CheckConflict(ctx, s.repo, s.loc, req.PractitionerID, req.PatientID, req.StartTime, uuid.Nil)
		if err != nil {
			return err
		}
		switch conflict {
		case ConflictPractitioner:
			return ErrSlotTakenPractitioner
		case ConflictPatient:
			return ErrSlotTakenPatient
		}

		if err := s.repo.Create(ctx, appt); err != nil {
			return err
		}

		if bundle != nil {
			return s.attachBundleSession(ctx, appt, bundle.ID)
		}
		return s.attachStandaloneBilling(ctx, appt, req.Method)
	})
	if err != nil {
		if db.IsSerializationFailure(err) {
			s.metrics.ObserveSlotConflict()
			return nil, ErrSlotTakenPractitioner
		}
		if errors.Is(err, ErrSlotTakenPractitioner) || errors.Is(err, ErrSlotTakenPatient) {
			s.metrics.ObserveSlotConflict()
		}
		return nil, err
	}

	s.notifyAppointment(ctx, appt)
	return appt, nil
}

// attachBundleSession consumes a bundle slot and links a session to the
// appointment. Runs inside the booking transaction.
//
// Money paid ahead of bookings carries over: when the ledger covers more
// sessions than are flagged paid, the new session is born with the flag, so
// a fully prepaid bundle keeps its paid-session count in step with coverage
// no matter whether the money or the bookings came first.
func (s *Service) attachBundleSession(ctx context.Context, appt *Appointment, bundleID uuid.UUID) error {
	if err := s.bundles.ConsumeSlot(ctx, bundleID); err != nil {
		if errors.Is(err, bundles.ErrExhausted) {
			return ErrBundleExhausted
		}
		return err
	}

	sess := &bundles.Session{
		BundleID:      &bundleID,
		PatientID:     appt.PatientID,
		AppointmentID: &appt.ID,
		ScheduledAt:   appt.StartTime,
		Status:        bundles.SessionScheduled,
	}
	if err := s.bundles.CreateSession(ctx, sess); err != nil {
		return err
	}

	b, err := s.bundles.GetForUpdate(ctx, bundleID)
	if err != nil {
		return err
	}
	sessions, err := s.bundles.ListSessionsByBundle(ctx, bundleID)
	if err != nil {
		return err
	}
	if !sess.Paid && bundles.PrepaidSlack(b, sessions) > 0 {
		sess.Paid = true
		for _, member := range sessions {
			if member.ID == sess.ID {
				member.Paid = true
			}
		}
		if err := s.bundles.MarkSessionsPaid(ctx, []uuid.UUID{sess.ID}); err != nil {
			return err
		}
	}
	// Booking the last prepaid slot is the event that settles the bundle.
	if bundles.Settle(b, sessions) {
		if err := s.bundles.Update(ctx, b); err != nil {
			return err
		}
	}

	appt.BundleID = &bundleID
	appt.SessionID = &sess.ID
	return s.repo.Update(ctx, appt)
}

// attachStandaloneBilling creates the pending charge and prepaid session
// for a standalone paid service. Runs inside the booking transaction.
func (s *Service) attachStandaloneBilling(ctx context.Context, appt *Appointment, method string) error {
	sess := &bundles.Session{
		PatientID:     appt.PatientID,
		AppointmentID: &appt.ID,
		ScheduledAt:   appt.StartTime,
		Status:        bundles.SessionScheduled,
	}
	if err := s.bundles.CreateSession(ctx, sess); err != nil {
		return err
	}

	charge := &billing.Charge{
		PatientID:     appt.PatientID,
		Amount:        s.prices.amountFor(appt.ServiceType),
		Method:        method,
		Status:        billing.StatusPending,
		ServiceType:   appt.ServiceType,
		AppointmentID: &appt.ID,
		SessionID:     &sess.ID,
	}
	if err := s.charges.Create(ctx, charge); err != nil {
		return err
	}

	appt.SessionID = &sess.ID
	appt.ChargeID = &charge.ID
	return s.repo.Update(ctx, appt)
}

type UpdateRequest struct {
	StartTime      *time.Time `json:"start_time,omitempty"`
	PractitionerID *uuid.UUID `json:"practitioner_id,omitempty"`
	// ServiceType recategorizes the visit. Switching between standalone and
	// bundle-backed categories requires a matching bundle change in the
	// same request.
	ServiceType *billing.ServiceType `json:"service_type,omitempty"`
	// ChangeBundle distinguishes "move to BundleID" (possibly nil, meaning
	// detach) from "leave the bundle alone".
	ChangeBundle bool       `json:"change_bundle,omitempty"`
	BundleID     *uuid.UUID `json:"bundle_id,omitempty"`
}

// UpdateAppointment reschedules or re-homes an appointment. The same checks
// as booking run again with the appointment excluded from conflict
// candidates, and a bundle change atomically returns the slot to the old
// bundle and consumes one from the new.
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, req *UpdateRequest) (*Appointment, error) {
	var appt *Appointment

	err := s.runTx(ctx, func(ctx context.Context) error {
		var err error
		appt, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !appt.Active() {
			return ErrAlreadyCanceled
		}

		if req.PractitionerID != nil {
			appt.PractitionerID = *req.PractitionerID
		}
		if req.StartTime != nil {
			appt.StartTime = *req.StartTime
		}
		if req.ServiceType != nil {
			switch *req.ServiceType {
			case billing.ServiceSession, billing.ServiceEvaluation, billing.ServiceBundleSession:
				appt.ServiceType = *req.ServiceType
			default:
				return newValidationError(map[string]string{"service_type": "must be session, bundle_session or evaluation"})
			}
		}

		patient, err := s.patients.GetPatient(ctx, appt.PatientID)
		if err != nil {
			return err
		}
		if patient.AssignedPractitionerID != nil && *patient.AssignedPractitionerID != appt.PractitionerID {
			return ErrPractitionerMismatch
		}

		conflict, err := CheckConflict(ctx, s.repo, s.loc, appt.PractitionerID, appt.PatientID, appt.StartTime, appt.ID)
		if err != nil {
			return err
		}
		switch conflict {
		case ConflictPractitioner:
			return ErrSlotTakenPractitioner
		case ConflictPatient:
			return ErrSlotTakenPatient
		}

		if req.ChangeBundle {
			if err := s.migrateBundle(ctx, appt, req.BundleID); err != nil {
				return err
			}
		}

		// The category and the bundle reference must agree after all
		// changes are applied.
		if appt.ServiceType.BundleBacked() != (appt.BundleID != nil) {
			return newValidationError(map[string]string{"service_type": "must match the bundle reference"})
		}

		// Recategorizing a standalone visit re-prices its pending charge.
		if req.ServiceType != nil && appt.ChargeID != nil && !appt.ServiceType.BundleBacked() {
			if err := s.charges.UpdateAmount(ctx, *appt.ChargeID, s.prices.amountFor(appt.ServiceType)); err != nil {
				return err
			}
		}

		if appt.SessionID != nil && req.StartTime != nil {
			sess, err := s.bundles.GetSession(ctx, *appt.SessionID)
			if err != nil {
				return err
			}
			sess.ScheduledAt = appt.StartTime
			if err := s.bundles.UpdateSession(ctx, sess); err != nil {
				return err
			}
		}

		return s.repo.Update(ctx, appt)
	})
	if err != nil {
		if db.IsSerializationFailure(err) {
			s.metrics.ObserveSlotConflict()
			return nil, ErrSlotTakenPractitioner
		}
		return nil, err
	}

	s.notifyAppointment(ctx, appt)
	return appt, nil
}

// migrateBundle moves the appointment's session between bundles: the old
// bundle gets its slot back, the new one is consumed. newBundleID nil
// detaches the session into a standalone one.
func (s *Service) migrateBundle(ctx context.Context, appt *Appointment, newBundleID *uuid.UUID) error {
	same := (appt.BundleID == nil && newBundleID == nil) ||
		(appt.BundleID != nil && newBundleID != nil && *appt.BundleID == *newBundleID)
	if same {
		return nil
	}

	if appt.BundleID != nil {
		if err := s.bundles.ReleaseSlot(ctx, *appt.BundleID); err != nil {
			return err
		}
	}

	if newBundleID != nil {
		bundle, err := s.bundles.GetForUpdate(ctx, *newBundleID)
		if err != nil {
			return newValidationError(map[string]string{"bundle_id": "unknown bundle"})
		}
		if bundle.PatientID != appt.PatientID {
			return ErrBundlePatientMismatch
		}
		if err := s.bundles.ConsumeSlot(ctx, *newBundleID); err != nil {
			if errors.Is(err, bundles.ErrExhausted) {
				return ErrBundleExhausted
			}
			return err
		}
	}

	if appt.SessionID != nil {
		sess, err := s.bundles.GetSession(ctx, *appt.SessionID)
		if err != nil {
			return err
		}
		sess.BundleID = newBundleID
		if newBundleID != nil && !sess.Paid {
			// Prepaid coverage on the target bundle extends to the
			// incoming session.
			b, err := s.bundles.GetForUpdate(ctx, *newBundleID)
			if err != nil {
				return err
			}
			members, err := s.bundles.ListSessionsByBundle(ctx, *newBundleID)
			if err != nil {
				return err
			}
			if bundles.PrepaidSlack(b, members) > 0 {
				sess.Paid = true
			}
		}
		if err := s.bundles.UpdateSession(ctx, sess); err != nil {
			return err
		}
	}

	appt.BundleID = newBundleID
	return nil
}

// CancelAppointment frees the slot and returns bundle capacity. The row is
// never deleted; the cancellation is recorded in history with the acting
// user and reason.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, actorID, reason string) error {
	var appt *Appointment

	err := s.runTx(ctx, func(ctx context.Context) error {
		var err error
		appt, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !appt.Active() {
			return ErrAlreadyCanceled
		}

		appt.OperationalStatus = OpCanceled
		if err := s.repo.Update(ctx, appt); err != nil {
			return err
		}

		if appt.SessionID != nil {
			sess, err := s.bundles.GetSession(ctx, *appt.SessionID)
			if err != nil {
				return err
			}
			if sess.Status == bundles.SessionScheduled {
				sess.Status = bundles.SessionCanceled
				if err := s.bundles.UpdateSession(ctx, sess); err != nil {
					return err
				}
				if appt.BundleID != nil {
					if err := s.bundles.ReleaseSlot(ctx, *appt.BundleID); err != nil {
						return err
					}
				}
			}
		}

		if appt.ChargeID != nil {
			err := s.charges.Cancel(ctx, *appt.ChargeID)
			if err != nil && !errors.Is(err, billing.ErrAlreadyPaid) {
				return err
			}
		}

		return s.repo.AddHistory(ctx, &History{
			AppointmentID: appt.ID,
			ActorID:       actorID,
			Action:        "canceled",
			Reason:        reason,
			OccurredAt:    time.Now().UTC(),
		})
	})
	if err != nil {
		return err
	}

	s.notifyAppointment(ctx, appt)
	return nil
}

// CompleteAppointment marks the clinical outcome and completes the linked
// session.
func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID) error {
	var appt *Appointment

	err := s.runTx(ctx, func(ctx context.Context) error {
		var err error
		appt, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !appt.Active() {
			return ErrAlreadyCanceled
		}

		appt.ClinicalStatus = ClinCompleted
		if err := s.repo.Update(ctx, appt); err != nil {
			return err
		}

		if appt.SessionID != nil {
			sess, err := s.bundles.GetSession(ctx, *appt.SessionID)
			if err != nil {
				return err
			}
			sess.Status = bundles.SessionCompleted
			if err := s.bundles.UpdateSession(ctx, sess); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notifyAppointment(ctx, appt)
	return nil
}

// MarkNoShow records a missed visit. The slot stays consumed: a no-show on
// a bundle session still spends the session.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID, actorID string) error {
	var appt *Appointment

	err := s.runTx(ctx, func(ctx context.Context) error {
		var err error
		appt, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !appt.Active() {
			return ErrAlreadyCanceled
		}

		appt.ClinicalStatus = ClinNoShow
		if err := s.repo.Update(ctx, appt); err != nil {
			return err
		}

		return s.repo.AddHistory(ctx, &History{
			AppointmentID: appt.ID,
			ActorID:       actorID,
			Action:        "no_show",
			OccurredAt:    time.Now().UTC(),
		})
	})
	if err != nil {
		return err
	}

	s.notifyAppointment(ctx, appt)
	return nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) GetHistory(ctx context.Context, appointmentID uuid.UUID) ([]*History, error) {
	return s.repo.ListHistory(ctx, appointmentID)
}

// Slots lists the free slot starts for a practitioner on a day.
func (s *Service) Slots(ctx context.Context, practitionerID uuid.UUID, day time.Time) ([]time.Time, error) {
	return AvailableSlots(ctx, s.repo, s.grid, s.policy, practitionerID, day)
}

func (s *Service) notifyAppointment(ctx context.Context, appt *Appointment) {
	bg := context.WithoutCancel(ctx)
	go s.sink.AppointmentChanged(bg, appt.ID)
	if appt.SessionID != nil {
		go s.sink.SessionChanged(bg, *appt.SessionID)
	}
	if appt.BundleID != nil {
		go s.sink.BundleChanged(bg, *appt.BundleID)
	}
}
