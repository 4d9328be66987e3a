package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/timeslot"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal statuses accept no further transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleSystem   Role = "system"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RolePatient, RoleProvider, RoleSystem:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Actor is the already-authenticated caller of an engine operation.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

var SystemActor = Actor{ID: uuid.Nil, Role: RoleSystem}

type HistoryEntry struct {
	Status    Status
	At        time.Time
	ActorID   uuid.UUID
	ActorRole Role
	Note      string
}

// Appointment keeps its date and start after the slot is released, so the
// record still reads correctly once cancelled or completed.
type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	ProviderID      uuid.UUID
	TimeslotID      uuid.UUID
	Date            time.Time
	StartMinute     int
	DurationMinutes int
	Status          Status
	Reason          string
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	History         []HistoryEntry
}

func (a Appointment) StartTime() string {
	return timeslot.FormatClock(a.StartMinute)
}

func (a Appointment) IsPatient(actor Actor) bool {
	return actor.Role == RolePatient && actor.ID == a.PatientID
}

func (a Appointment) IsProvider(actor Actor) bool {
	return actor.Role == RoleProvider && actor.ID == a.ProviderID
}

func (a Appointment) clone() Appointment {
	out := a
	out.History = append([]HistoryEntry(nil), a.History...)
	return out
}

type EventType string

const (
	EventCreated     EventType = "appointment.created"
	EventConfirmed   EventType = "appointment.confirmed"
	EventRescheduled EventType = "appointment.rescheduled"
	EventCancelled   EventType = "appointment.cancelled"
	EventCompleted   EventType = "appointment.completed"
)

// Event describes a committed transition.
type Event struct {
	Type        EventType
	Appointment Appointment
	Actor       Actor
	At          time.Time
}

// Filter narrows List. Zero values mean "any".
type Filter struct {
	PatientID  *uuid.UUID
	ProviderID *uuid.UUID
	Status     *Status
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}
