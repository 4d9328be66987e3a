package timeslot

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

type State string

const (
	StateFree   State = "free"
	StateHeld   State = "held"
	StateBooked State = "booked"
)

var (
	ErrSlotUnavailable = errors.New("timeslot unavailable")
	ErrSlotNotFound    = errors.New("timeslot not found")
)

// Key is the natural key of a slot. Date is always a calendar.Day.
type Key struct {
	ProviderID  uuid.UUID
	Date        time.Time
	StartMinute int
}

func NewKey(providerID uuid.UUID, date time.Time, startMinute int) Key {
	return Key{ProviderID: providerID, Date: calendar.Day(date), StartMinute: startMinute}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.ProviderID, k.Date.Format(calendar.DateLayout), FormatClock(k.StartMinute))
}

// Timeslot is one bookable window. AppointmentID is set iff State is StateBooked.
type Timeslot struct {
	ID              uuid.UUID
	ProviderID      uuid.UUID
	Date            time.Time
	StartMinute     int
	DurationMinutes int
	State           State
	AppointmentID   *uuid.UUID
	UpdatedAt       time.Time
}

// Cursor is a position in (UpdatedAt, ID) order. The zero value is the start.
type Cursor struct {
	UpdatedAt time.Time
	ID        uuid.UUID
}

func (c Cursor) before(t Timeslot) bool {
	if !c.UpdatedAt.Equal(t.UpdatedAt) {
		return c.UpdatedAt.Before(t.UpdatedAt)
	}
	return bytes.Compare(c.ID[:], t.ID[:]) < 0
}

func (t Timeslot) Cursor() Cursor {
	return Cursor{UpdatedAt: t.UpdatedAt, ID: t.ID}
}

func (t Timeslot) Key() Key {
	return NewKey(t.ProviderID, t.Date, t.StartMinute)
}

func (t Timeslot) StartTime() string {
	return FormatClock(t.StartMinute)
}

// StartsAt places the slot on the wall clock of loc.
func (t Timeslot) StartsAt(loc *time.Location) time.Time {
	return StartsAt(t.Date, t.StartMinute, loc)
}

// BookedBy reports whether the slot is currently booked for appointmentID.
func (t Timeslot) BookedBy(appointmentID uuid.UUID) bool {
	return t.State == StateBooked && t.AppointmentID != nil && *t.AppointmentID == appointmentID
}

func StartsAt(date time.Time, startMinute int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(date.Year(), date.Month(), date.Day(), startMinute/60, startMinute%60, 0, 0, loc)
}

// FormatClock renders minutes-from-midnight as HH:MM.
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// ParseClock parses HH:MM into minutes from midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
