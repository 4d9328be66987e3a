package appointment

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository is the ledger for STORAGE_BACKEND=memory.
type MemoryRepository struct {
	mu           sync.RWMutex
	patients     map[uuid.UUID]struct{}
	appointments map[uuid.UUID]*Appointment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:     make(map[uuid.UUID]struct{}),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (r *MemoryRepository) AddPatient(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[id] = struct{}{}
}

func (r *MemoryRepository) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.patients[id]
	return ok, nil
}

func (r *MemoryRepository) Create(_ context.Context, a *Appointment, h HistoryEntry) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := a.clone()
	stored.Version = 1
	stored.CreatedAt = h.At
	stored.UpdatedAt = h.At
	stored.History = []HistoryEntry{h}
	r.appointments[stored.ID] = &stored

	out := stored.clone()
	return &out, nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	out := a.clone()
	return &out, nil
}

func (r *MemoryRepository) Update(_ context.Context, a *Appointment, expectedVersion int, h HistoryEntry) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.appointments[a.ID]
	if !ok || stored.Version != expectedVersion {
		return nil, ErrStaleVersion
	}

	stored.Status = a.Status
	stored.TimeslotID = a.TimeslotID
	stored.Date = a.Date
	stored.StartMinute = a.StartMinute
	stored.DurationMinutes = a.DurationMinutes
	stored.Reason = a.Reason
	stored.Version++
	stored.UpdatedAt = h.At
	stored.History = append(stored.History, h)

	out := stored.clone()
	return &out, nil
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []Appointment{}
	for _, a := range r.appointments {
		if !matches(a, f) {
			continue
		}
		c := a.clone()
		c.History = nil
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].StartMinute != out[j].StartMinute {
			return out[i].StartMinute < out[j].StartMinute
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []Appointment{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(a *Appointment, f Filter) bool {
	switch {
	case f.PatientID != nil && a.PatientID != *f.PatientID:
		return false
	case f.ProviderID != nil && a.ProviderID != *f.ProviderID:
		return false
	case f.Status != nil && a.Status != *f.Status:
		return false
	case f.From != nil && a.Date.Before(*f.From):
		return false
	case f.To != nil && a.Date.After(*f.To):
		return false
	}
	return true
}
