package timeslot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

var tracer = otel.Tracer("clinic.internal.timeslot")

// Store persists slot occupancy. Reserve must be a single conditional write:
// it succeeds only when the key is absent or free.
type Store interface {
	Materialize(ctx context.Context, providerID uuid.UUID, date time.Time, cands []Candidate) error
	ListDay(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Timeslot, error)
	Reserve(ctx context.Context, key Key, durationMinutes int, appointmentID uuid.UUID) (*Timeslot, error)
	Release(ctx context.Context, slotID, appointmentID uuid.UUID) (bool, error)
	Get(ctx context.Context, slotID uuid.UUID) (*Timeslot, error)
	ListBookedBefore(ctx context.Context, cutoff time.Time, after Cursor, limit int) ([]Timeslot, error)
}

// Catalog is the single authority on what can be booked.
type Catalog struct {
	store    Store
	calendar calendar.Source
	loc      *time.Location
	now      func() time.Time
	logger   zerolog.Logger
}

func NewCatalog(store Store, cal calendar.Source, loc *time.Location, logger zerolog.Logger) *Catalog {
	if loc == nil {
		loc = time.UTC
	}
	return &Catalog{
		store:    store,
		calendar: cal,
		loc:      loc,
		now:      time.Now,
		logger:   logger.With().Str("component", "timeslot_catalog").Logger(),
	}
}

// WithClock swaps the clock used for the past-slot guard.
func (c *Catalog) WithClock(now func() time.Time) *Catalog {
	if now != nil {
		c.now = now
	}
	return c
}

func (c *Catalog) Location() *time.Location {
	return c.loc
}

// ListAvailable returns the free slots for providerID on date, ordered by
// start. When exclude is set, the slot currently booked by that appointment
// is returned too so a caller can offer "keep current time".
func (c *Catalog) ListAvailable(ctx context.Context, providerID uuid.UUID, date time.Time, exclude *uuid.UUID) ([]Timeslot, error) {
	date = calendar.Day(date)

	cands, err := c.bookableCandidates(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return []Timeslot{}, nil
	}

	if err := c.store.Materialize(ctx, providerID, date, cands); err != nil {
		return nil, fmt.Errorf("materialize timeslots: %w", err)
	}

	rows, err := c.store.ListDay(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("list timeslots: %w", err)
	}
	byStart := make(map[int]Timeslot, len(rows))
	for _, r := range rows {
		byStart[r.StartMinute] = r
	}

	now := c.now()
	out := make([]Timeslot, 0, len(cands))
	for _, cand := range cands {
		row, ok := byStart[cand.StartMinute]
		if !ok {
			continue
		}
		own := exclude != nil && row.BookedBy(*exclude)
		// The excluded appointment always sees its own slot as the keep-current
		// choice, even once it has started.
		if !own && StartsAt(date, cand.StartMinute, c.loc).Before(now) {
			continue
		}
		if !own && row.State != StateFree {
			continue
		}
		row.DurationMinutes = cand.DurationMinutes
		out = append(out, row)
	}
	return out, nil
}

// Reserve books (providerID, date, startMinute) for appointmentID. Losers of a
// race, off-template starts, blackout dates and past slots all get
// ErrSlotUnavailable.
func (c *Catalog) Reserve(ctx context.Context, providerID uuid.UUID, date time.Time, startMinute int, appointmentID uuid.UUID) (*Timeslot, error) {
	date = calendar.Day(date)
	key := NewKey(providerID, date, startMinute)

	ctx, span := tracer.Start(ctx, "timeslot.reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.provider_id", providerID.String()),
		attribute.String("clinic.slot", key.String()),
	)

	cands, err := c.bookableCandidates(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	cand, ok := findCandidate(cands, startMinute)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a bookable start", ErrSlotUnavailable, key)
	}
	if StartsAt(date, startMinute, c.loc).Before(c.now()) {
		return nil, fmt.Errorf("%w: %s is in the past", ErrSlotUnavailable, key)
	}

	slot, err := c.store.Reserve(ctx, key, cand.DurationMinutes, appointmentID)
	if err != nil {
		span.SetAttributes(attribute.Bool("clinic.reserved", false))
		return nil, err
	}
	span.SetAttributes(attribute.Bool("clinic.reserved", true))
	return slot, nil
}

// Release frees the slot if appointmentID still owns it. Releasing a free
// slot, or one that moved on to another appointment, is a no-op.
func (c *Catalog) Release(ctx context.Context, slotID, appointmentID uuid.UUID) error {
	released, err := c.store.Release(ctx, slotID, appointmentID)
	if err != nil {
		return fmt.Errorf("release timeslot %s: %w", slotID, err)
	}
	if !released {
		c.logger.Debug().
			Str("slot_id", slotID.String()).
			Str("appointment_id", appointmentID.String()).
			Msg("release was a no-op")
	}
	return nil
}

func (c *Catalog) Get(ctx context.Context, slotID uuid.UUID) (*Timeslot, error) {
	return c.store.Get(ctx, slotID)
}

// BookedBefore pages through booked slots last touched before cutoff in
// (UpdatedAt, ID) order, starting after the given cursor.
func (c *Catalog) BookedBefore(ctx context.Context, cutoff time.Time, after Cursor, limit int) ([]Timeslot, error) {
	return c.store.ListBookedBefore(ctx, cutoff, after, limit)
}

// bookableCandidates returns nil for blackout dates and days off.
func (c *Catalog) bookableCandidates(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Candidate, error) {
	p, err := c.calendar.GetProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}

	blocked, err := c.calendar.IsBlackout(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("check blackout: %w", err)
	}
	if blocked {
		return nil, nil
	}

	return Generate(*p, date), nil
}
