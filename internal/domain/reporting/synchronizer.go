package reporting

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kaduart/fono-inova-api/internal/domain/bundles"
	"github.com/kaduart/fono-inova-api/internal/domain/identity"
	"github.com/kaduart/fono-inova-api/internal/domain/scheduling"
	"github.com/kaduart/fono-inova-api/internal/platform/db"
	"github.com/kaduart/fono-inova-api/internal/platform/metrics"
	"github.com/kaduart/fono-inova-api/internal/platform/retry"
)

// Synchronizer mirrors source rows into the medical_event view. It competes
// with concurrent writers for the same rows, so every sync runs under the
// shared bounded-backoff retry loop, reloading the source fresh on each
// attempt. A sync that exhausts its retries is logged and dropped; the
// projection self-heals on the next write to the same source.
//
// It also satisfies the change sinks of scheduling, billing and bundles, so
// those services fire it after commit without importing this package's
// types.
type Synchronizer struct {
	events       Repository
	appointments scheduling.Repository
	bundleRepo   bundles.Repository
	people       identity.Repository
	prices       PricingTable
	specialties  SpecialtyTable
	policy       retry.Policy
	metrics      *metrics.ConsistencyMetrics
	log          zerolog.Logger
	now          func() time.Time
}

type SynchronizerParams struct {
	Events       Repository
	Appointments scheduling.Repository
	Bundles      bundles.Repository
	People       identity.Repository
	Prices       PricingTable
	Specialties  SpecialtyTable
	Metrics      *metrics.ConsistencyMetrics
	Logger       zerolog.Logger
}

func NewSynchronizer(p SynchronizerParams) *Synchronizer {
	if p.Specialties.ByService == nil && p.Specialties.Default == "" {
		p.Specialties = DefaultSpecialtyTable()
	}
	return &Synchronizer{
		events:       p.Events,
		appointments: p.Appointments,
		bundleRepo:   p.Bundles,
		people:       p.People,
		prices:       p.Prices,
		specialties:  p.Specialties,
		policy:       retry.DefaultPolicy(),
		metrics:      p.Metrics,
		log:          p.Logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// AppointmentChanged, SessionChanged and BundleChanged implement the change
// sink contracts. Failures are logged, never surfaced: the committed source
// row is the durable fact, the projection is best effort.

func (s *Synchronizer) AppointmentChanged(ctx context.Context, id uuid.UUID) {
	if err := s.SyncAppointment(ctx, id); err != nil {
		s.log.Error().Err(err).Str("appointment_id", id.String()).
			Msg("appointment projection sync failed")
	}
}

func (s *Synchronizer) SessionChanged(ctx context.Context, id uuid.UUID) {
	if err := s.SyncSession(ctx, id); err != nil {
		s.log.Error().Err(err).Str("session_id", id.String()).
			Msg("session projection sync failed")
	}
}

func (s *Synchronizer) BundleChanged(ctx context.Context, id uuid.UUID) {
	if err := s.SyncBundle(ctx, id); err != nil {
		s.log.Error().Err(err).Str("bundle_id", id.String()).
			Msg("bundle projection sync failed")
	}
}

// SyncAppointment rebuilds the projected event for one appointment.
func (s *Synchronizer) SyncAppointment(ctx context.Context, id uuid.UUID) error {
	return s.sync(ctx, SourceAppointment, func(ctx context.Context) error {
		a, err := s.appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}

		// Dangling references degrade to fallback fields; any other load
		// error propagates so the retry loop can classify it.
		var bundle *bundles.Bundle
		if a.BundleID != nil {
			bundle, err = s.bundleRepo.GetByID(ctx, *a.BundleID)
			if err != nil && !errors.Is(err, bundles.ErrNotFound) {
				return err
			}
		}
		prac, err := s.people.GetPractitioner(ctx, a.PractitionerID)
		if err != nil && !errors.Is(err, identity.ErrNotFound) {
			return err
		}
		patient, err := s.people.GetPatient(ctx, a.PatientID)
		if err != nil && !errors.Is(err, identity.ErrNotFound) {
			return err
		}

		return s.events.Upsert(ctx, deriveFromAppointment(a, bundle, prac, patient, s.prices, s.specialties, s.now()))
	})
}

// SyncSession rebuilds the projected event for one session.
func (s *Synchronizer) SyncSession(ctx context.Context, id uuid.UUID) error {
	return s.sync(ctx, SourceSession, func(ctx context.Context) error {
		sess, err := s.bundleRepo.GetSession(ctx, id)
		if err != nil {
			return err
		}

		var bundle *bundles.Bundle
		if sess.BundleID != nil {
			bundle, err = s.bundleRepo.GetByID(ctx, *sess.BundleID)
			if err != nil && !errors.Is(err, bundles.ErrNotFound) {
				return err
			}
		}
		var appt *scheduling.Appointment
		var prac *identity.Practitioner
		if sess.AppointmentID != nil {
			appt, err = s.appointments.GetByID(ctx, *sess.AppointmentID)
			if err != nil && !errors.Is(err, scheduling.ErrNotFound) {
				return err
			}
			if appt != nil {
				prac, err = s.people.GetPractitioner(ctx, appt.PractitionerID)
				if err != nil && !errors.Is(err, identity.ErrNotFound) {
					return err
				}
			}
		}
		patient, err := s.people.GetPatient(ctx, sess.PatientID)
		if err != nil && !errors.Is(err, identity.ErrNotFound) {
			return err
		}

		return s.events.Upsert(ctx, deriveFromSession(sess, bundle, appt, prac, patient, s.prices, s.specialties, s.now()))
	})
}

// SyncBundle rebuilds the projected event for one bundle.
func (s *Synchronizer) SyncBundle(ctx context.Context, id uuid.UUID) error {
	return s.sync(ctx, SourceBundle, func(ctx context.Context) error {
		b, err := s.bundleRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		patient, err := s.people.GetPatient(ctx, b.PatientID)
		if err != nil && !errors.Is(err, identity.ErrNotFound) {
			return err
		}
		return s.events.Upsert(ctx, deriveFromBundle(b, patient, s.specialties, s.now()))
	})
}

func (s *Synchronizer) sync(ctx context.Context, sourceType string, op func(ctx context.Context) error) error {
	retryable := func(err error) bool {
		if db.IsSerializationFailure(err) {
			s.metrics.ObserveReconcileRetry("synchronizer")
			return true
		}
		return false
	}

	err := s.policy.Do(ctx, op, retryable)
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			s.metrics.ObserveReconcileExhausted("synchronizer")
		}
		return err
	}

	s.metrics.ObserveProjectionUpsert(sourceType)
	return nil
}
