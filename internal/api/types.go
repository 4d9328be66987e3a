package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/timeslot"
)

type BookAppointmentRequest struct {
	PatientID  string `json:"patient_id"`
	ProviderID string `json:"provider_id"`
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
	Reason     string `json:"reason"`
}

type RescheduleRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	Reason    string `json:"reason"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type SlotResponse struct {
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

type HistoryResponse struct {
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
	ActorID   uuid.UUID `json:"actor_id"`
	ActorRole string    `json:"actor_role"`
	Note      string    `json:"note,omitempty"`
}

type AppointmentResponse struct {
	ID              uuid.UUID         `json:"id"`
	PatientID       uuid.UUID         `json:"patient_id"`
	ProviderID      uuid.UUID         `json:"provider_id"`
	TimeslotID      uuid.UUID         `json:"timeslot_id"`
	Date            string            `json:"date"`
	StartTime       string            `json:"start_time"`
	DurationMinutes int               `json:"duration_minutes"`
	Status          string            `json:"status"`
	Reason          string            `json:"reason,omitempty"`
	Version         int               `json:"version"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	History         []HistoryResponse `json:"history,omitempty"`
}

type UnreadCountResponse struct {
	Count int64 `json:"count"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		ProviderID:      a.ProviderID,
		TimeslotID:      a.TimeslotID,
		Date:            a.Date.Format(calendar.DateLayout),
		StartTime:       a.StartTime(),
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		Reason:          a.Reason,
		Version:         a.Version,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	for _, h := range a.History {
		resp.History = append(resp.History, HistoryResponse{
			Status:    string(h.Status),
			At:        h.At,
			ActorID:   h.ActorID,
			ActorRole: string(h.ActorRole),
			Note:      h.Note,
		})
	}
	return resp
}

func toSlotResponses(slots []timeslot.Timeslot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{StartTime: s.StartTime(), DurationMinutes: s.DurationMinutes})
	}
	return out
}
