package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/timeslot"
)

var tracer = otel.Tracer("clinic.internal.appointment")

const (
	defaultListLimit = 20
	maxListLimit     = 100
	sweepBatchSize   = 500
)

// SlotCatalog is the part of timeslot.Catalog the engine drives.
type SlotCatalog interface {
	Reserve(ctx context.Context, providerID uuid.UUID, date time.Time, startMinute int, appointmentID uuid.UUID) (*timeslot.Timeslot, error)
	Release(ctx context.Context, slotID, appointmentID uuid.UUID) error
	BookedBefore(ctx context.Context, cutoff time.Time, after timeslot.Cursor, limit int) ([]timeslot.Timeslot, error)
}

// Notifier receives committed transitions. Implementations must not block
// the caller for long and must not fail the transition.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}

type BookRequest struct {
	PatientID   uuid.UUID
	ProviderID  uuid.UUID
	Date        time.Time
	StartMinute int
	Reason      string
}

type RescheduleRequest struct {
	Date        time.Time
	StartMinute int
	Reason      string
}

type Service struct {
	repo     Repository
	slots    SlotCatalog
	notifier Notifier
	metrics  *metrics.SchedulingMetrics
	logger   zerolog.Logger
	now      func() time.Time

	sweepBatch int
}

func NewService(repo Repository, slots SlotCatalog, notifier Notifier, m *metrics.SchedulingMetrics, logger zerolog.Logger) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Service{
		repo:     repo,
		slots:    slots,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With().Str("component", "appointment_service").Logger(),
		now:      time.Now,

		sweepBatch: sweepBatchSize,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Book reserves the slot first and then records the appointment. If the
// ledger write fails the slot is released again.
func (s *Service) Book(ctx context.Context, actor Actor, req BookRequest) (_ *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.book")
	defer endSpan(span, &err)
	span.SetAttributes(
		attribute.String("clinic.patient_id", req.PatientID.String()),
		attribute.String("clinic.provider_id", req.ProviderID.String()),
	)

	exists, err := s.repo.PatientExists(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrPatientNotFound
	}
	if actor.Role != RolePatient || actor.ID != req.PatientID {
		return nil, fmt.Errorf("%w: only the patient may book for themselves", ErrForbidden)
	}

	id := uuid.New()
	slot, err := s.slots.Reserve(ctx, req.ProviderID, req.Date, req.StartMinute, id)
	if err != nil {
		s.metrics.ObserveBooking(bookingOutcome(err))
		return nil, fmt.Errorf("reserve slot: %w", err)
	}

	now := s.now()
	draft := &Appointment{
		ID:              id,
		PatientID:       req.PatientID,
		ProviderID:      req.ProviderID,
		TimeslotID:      slot.ID,
		Date:            slot.Date,
		StartMinute:     slot.StartMinute,
		DurationMinutes: slot.DurationMinutes,
		Status:          StatusPending,
		Reason:          req.Reason,
	}
	created, err := s.repo.Create(ctx, draft, s.entry(StatusPending, actor, now, "booked"))
	if err != nil {
		s.metrics.ObserveBooking("error")
		if relErr := s.slots.Release(context.WithoutCancel(ctx), slot.ID, id); relErr != nil {
			s.log(ctx).Error().Err(relErr).
				Str("slot_id", slot.ID.String()).
				Msg("failed to release slot after ledger write failed")
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.metrics.ObserveBooking("booked")
	s.emit(ctx, EventCreated, created, actor, now)
	return created, nil
}

func (s *Service) Confirm(ctx context.Context, actor Actor, id uuid.UUID) (_ *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.confirm")
	defer endSpan(span, &err)

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsProvider(actor) && actor.Role != RoleSystem {
		return nil, fmt.Errorf("%w: only the owning provider may confirm", ErrForbidden)
	}
	if current.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot confirm a %s appointment", ErrInvalidTransition, current.Status)
	}

	next := current.clone()
	next.Status = StatusConfirmed
	now := s.now()
	updated, err := s.commit(ctx, current, &next, s.entry(StatusConfirmed, actor, now, "confirmed"))
	if err != nil {
		return nil, err
	}

	s.emit(ctx, EventConfirmed, updated, actor, now)
	return updated, nil
}

func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID, reason string) (_ *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.cancel")
	defer endSpan(span, &err)

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsPatient(actor) && !current.IsProvider(actor) {
		return nil, fmt.Errorf("%w: only the patient or provider may cancel", ErrForbidden)
	}
	if current.Status.Terminal() {
		return nil, fmt.Errorf("%w: appointment is already %s", ErrInvalidTransition, current.Status)
	}

	note := "cancelled"
	if reason != "" {
		note = "cancelled: " + reason
	}
	next := current.clone()
	next.Status = StatusCancelled
	now := s.now()
	updated, err := s.commit(ctx, current, &next, s.entry(StatusCancelled, actor, now, note))
	if err != nil {
		return nil, err
	}

	s.release(ctx, updated.TimeslotID, updated.ID)
	s.emit(ctx, EventCancelled, updated, actor, now)
	return updated, nil
}

func (s *Service) Complete(ctx context.Context, actor Actor, id uuid.UUID) (_ *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.complete")
	defer endSpan(span, &err)

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsProvider(actor) {
		return nil, fmt.Errorf("%w: only the owning provider may complete", ErrForbidden)
	}
	if current.Status.Terminal() {
		return nil, fmt.Errorf("%w: appointment is already %s", ErrInvalidTransition, current.Status)
	}

	next := current.clone()
	next.Status = StatusCompleted
	now := s.now()
	updated, err := s.commit(ctx, current, &next, s.entry(StatusCompleted, actor, now, "completed"))
	if err != nil {
		return nil, err
	}

	s.release(ctx, updated.TimeslotID, updated.ID)
	s.emit(ctx, EventCompleted, updated, actor, now)
	return updated, nil
}

// Reschedule moves the appointment to a new slot: reserve the new slot,
// point the appointment at it, then release the old one. If the
// reservation fails nothing has changed. Asking for the current slot is a
// no-op.
func (s *Service) Reschedule(ctx context.Context, actor Actor, id uuid.UUID, req RescheduleRequest) (_ *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.reschedule")
	defer endSpan(span, &err)

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsProvider(actor) {
		return nil, fmt.Errorf("%w: only the owning provider may reschedule", ErrForbidden)
	}
	if current.Status.Terminal() {
		return nil, fmt.Errorf("%w: appointment is already %s", ErrInvalidTransition, current.Status)
	}

	date := calendar.Day(req.Date)
	if date.Equal(current.Date) && req.StartMinute == current.StartMinute {
		return current, nil
	}

	slot, err := s.slots.Reserve(ctx, current.ProviderID, date, req.StartMinute, current.ID)
	if err != nil {
		return nil, fmt.Errorf("reserve slot: %w", err)
	}

	next := current.clone()
	next.TimeslotID = slot.ID
	next.Date = slot.Date
	next.StartMinute = slot.StartMinute
	next.DurationMinutes = slot.DurationMinutes
	if req.Reason != "" {
		next.Reason = req.Reason
	}
	note := fmt.Sprintf("rescheduled: %s %s -> %s %s",
		current.Date.Format(calendar.DateLayout), current.StartTime(),
		next.Date.Format(calendar.DateLayout), next.StartTime())

	now := s.now()
	updated, err := s.commit(ctx, current, &next, s.entry(current.Status, actor, now, note))
	if err != nil {
		s.release(context.WithoutCancel(ctx), slot.ID, current.ID)
		return nil, err
	}

	s.release(ctx, current.TimeslotID, current.ID)
	s.emit(ctx, EventRescheduled, updated, actor, now)
	return updated, nil
}

// Get returns the appointment if actor is one of its parties or system.
func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != RoleSystem && !a.IsPatient(actor) && !a.IsProvider(actor) {
		return nil, ErrForbidden
	}
	return a, nil
}

// List scopes f to the actor: patients see their own bookings, providers
// their own calendar, system everything.
func (s *Service) List(ctx context.Context, actor Actor, f Filter) ([]Appointment, error) {
	switch actor.Role {
	case RolePatient:
		f.PatientID = &actor.ID
	case RoleProvider:
		f.ProviderID = &actor.ID
	case RoleSystem:
	default:
		return nil, ErrForbidden
	}

	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	list, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return list, nil
}

// ReconcileOrphans releases booked slots that no live appointment points
// at. Slots touched within grace are skipped so in-flight bookings and
// reschedules are left alone. Safe to run concurrently with itself.
//
// The whole backlog is walked in pages keyed on (updated_at, id), so live
// bookings older than the grace window never hide orphans behind them.
func (s *Service) ReconcileOrphans(ctx context.Context, grace time.Duration) (int, error) {
	ctx, span := tracer.Start(ctx, "appointment.reconcile_orphans")
	defer span.End()

	batch := s.sweepBatch
	if batch <= 0 {
		batch = sweepBatchSize
	}
	cutoff := s.now().Add(-grace)

	released := 0
	var cursor timeslot.Cursor
	for {
		if err := ctx.Err(); err != nil {
			s.metrics.ObserveOrphansReleased(released)
			return released, err
		}

		page, err := s.slots.BookedBefore(ctx, cutoff, cursor, batch)
		if err != nil {
			span.RecordError(err)
			s.metrics.ObserveOrphansReleased(released)
			return released, fmt.Errorf("list booked slots: %w", err)
		}
		for _, slot := range page {
			if s.releaseIfOrphaned(ctx, slot) {
				released++
			}
		}
		if len(page) < batch {
			break
		}
		cursor = page[len(page)-1].Cursor()
	}

	s.metrics.ObserveOrphansReleased(released)
	span.SetAttributes(attribute.Int("clinic.orphans_released", released))
	return released, nil
}

func (s *Service) releaseIfOrphaned(ctx context.Context, slot timeslot.Timeslot) bool {
	if slot.AppointmentID == nil {
		return false
	}
	owner := *slot.AppointmentID

	a, err := s.repo.Get(ctx, owner)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		s.log(ctx).Warn().Err(err).Str("slot_id", slot.ID.String()).Msg("skip slot, owner lookup failed")
		return false
	case a.TimeslotID == slot.ID && !a.Status.Terminal():
		return false
	}

	if err := s.slots.Release(ctx, slot.ID, owner); err != nil {
		s.log(ctx).Warn().Err(err).Str("slot_id", slot.ID.String()).Msg("failed to release orphan slot")
		return false
	}
	s.log(ctx).Info().
		Str("slot_id", slot.ID.String()).
		Str("appointment_id", owner.String()).
		Msg("released orphan slot")
	return true
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return a, nil
}

// commit writes next against current's version. A lost race is reported
// as an invalid transition if the winner closed the appointment, otherwise
// as a concurrent update.
func (s *Service) commit(ctx context.Context, current, next *Appointment, h HistoryEntry) (*Appointment, error) {
	updated, err := s.repo.Update(ctx, next, current.Version, h)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrStaleVersion) {
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	latest, getErr := s.repo.Get(ctx, current.ID)
	if getErr == nil && latest.Status.Terminal() {
		return nil, fmt.Errorf("%w: appointment is already %s", ErrInvalidTransition, latest.Status)
	}
	return nil, ErrConcurrentUpdate
}

func (s *Service) release(ctx context.Context, slotID, appointmentID uuid.UUID) {
	if err := s.slots.Release(ctx, slotID, appointmentID); err != nil {
		s.log(ctx).Warn().Err(err).
			Str("slot_id", slotID.String()).
			Str("appointment_id", appointmentID.String()).
			Msg("slot release failed, orphan sweep will retry")
	}
}

func (s *Service) emit(ctx context.Context, t EventType, a *Appointment, actor Actor, at time.Time) {
	s.metrics.ObserveTransition(string(t))
	s.notifier.Notify(context.WithoutCancel(ctx), Event{Type: t, Appointment: a.clone(), Actor: actor, At: at})
}

func (s *Service) entry(status Status, actor Actor, at time.Time, note string) HistoryEntry {
	return HistoryEntry{Status: status, At: at, ActorID: actor.ID, ActorRole: actor.Role, Note: note}
}

func (s *Service) log(ctx context.Context) *zerolog.Logger {
	l := logging.FromContext(ctx, s.logger)
	return &l
}

func bookingOutcome(err error) string {
	switch {
	case errors.Is(err, timeslot.ErrSlotUnavailable):
		return "conflict"
	case errors.Is(err, calendar.ErrProviderNotFound):
		return "not_found"
	}
	return "error"
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
	}
	span.End()
}
