package notification

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

var ErrNotificationNotFound = errors.New("notification not found")

// Payload is the typed body persisted with every notification and sent on
// the live channel.
type Payload struct {
	EventType     appointment.EventType `json:"event_type"`
	AppointmentID uuid.UUID             `json:"appointment_id"`
	Status        appointment.Status    `json:"status"`
	Date          string                `json:"date"`
	StartTime     string                `json:"start_time"`
}

type Notification struct {
	ID            uuid.UUID             `json:"id"`
	RecipientID   uuid.UUID             `json:"recipient_id"`
	AppointmentID uuid.UUID             `json:"appointment_id"`
	EventType     appointment.EventType `json:"event_type"`
	Message       string                `json:"message"`
	Payload       Payload               `json:"payload"`
	Read          bool                  `json:"read"`
	CreatedAt     time.Time             `json:"created_at"`
}

// Recipients returns who hears about ev: the party that did not act, or
// both parties for system-initiated events.
func Recipients(ev appointment.Event) []uuid.UUID {
	a := ev.Appointment
	switch ev.Actor.Role {
	case appointment.RolePatient:
		return []uuid.UUID{a.ProviderID}
	case appointment.RoleProvider:
		return []uuid.UUID{a.PatientID}
	default:
		return []uuid.UUID{a.PatientID, a.ProviderID}
	}
}

func build(ev appointment.Event, recipient uuid.UUID) Notification {
	a := ev.Appointment
	date := a.Date.Format(calendar.DateLayout)
	return Notification{
		ID:            uuid.New(),
		RecipientID:   recipient,
		AppointmentID: a.ID,
		EventType:     ev.Type,
		Message:       message(ev, date, a.StartTime()),
		Payload: Payload{
			EventType:     ev.Type,
			AppointmentID: a.ID,
			Status:        a.Status,
			Date:          date,
			StartTime:     a.StartTime(),
		},
		CreatedAt: ev.At,
	}
}

func message(ev appointment.Event, date, start string) string {
	var verb string
	switch ev.Type {
	case appointment.EventCreated:
		verb = "was booked"
	case appointment.EventConfirmed:
		verb = "was confirmed"
	case appointment.EventRescheduled:
		verb = "was moved to this time"
	case appointment.EventCancelled:
		verb = "was cancelled"
	case appointment.EventCompleted:
		verb = "was marked completed"
	default:
		verb = "was updated"
	}
	return fmt.Sprintf("Appointment on %s at %s %s by the %s", date, start, verb, ev.Actor.Role)
}
