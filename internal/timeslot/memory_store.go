package timeslot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

// MemoryStore keeps slots in process. The mutex makes Reserve the same
// compare-and-swap the Postgres upsert performs.
type MemoryStore struct {
	mu    sync.Mutex
	byKey map[Key]*Timeslot
	byID  map[uuid.UUID]*Timeslot
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey: make(map[Key]*Timeslot),
		byID:  make(map[uuid.UUID]*Timeslot),
		now:   time.Now,
	}
}

// WithClock sets the clock stamped into UpdatedAt.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *MemoryStore) Materialize(_ context.Context, providerID uuid.UUID, date time.Time, cands []Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cands {
		key := NewKey(providerID, date, c.StartMinute)
		if _, ok := s.byKey[key]; ok {
			continue
		}
		s.insertLocked(key, c.DurationMinutes)
	}
	return nil
}

func (s *MemoryStore) ListDay(_ context.Context, providerID uuid.UUID, date time.Time) ([]Timeslot, error) {
	day := calendar.Day(date)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Timeslot
	for k, slot := range s.byKey {
		if k.ProviderID == providerID && k.Date.Equal(day) {
			out = append(out, copySlot(slot))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out, nil
}

func (s *MemoryStore) Reserve(_ context.Context, key Key, durationMinutes int, appointmentID uuid.UUID) (*Timeslot, error) {
	key = NewKey(key.ProviderID, key.Date, key.StartMinute)
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.byKey[key]
	if !ok {
		slot = s.insertLocked(key, durationMinutes)
	}
	if slot.State != StateFree {
		return nil, fmt.Errorf("%w: %s already taken", ErrSlotUnavailable, key)
	}

	id := appointmentID
	slot.State = StateBooked
	slot.AppointmentID = &id
	slot.DurationMinutes = durationMinutes
	slot.UpdatedAt = s.now()
	out := copySlot(slot)
	return &out, nil
}

func (s *MemoryStore) Release(_ context.Context, slotID, appointmentID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.byID[slotID]
	if !ok || !slot.BookedBy(appointmentID) {
		return false, nil
	}
	slot.State = StateFree
	slot.AppointmentID = nil
	slot.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, slotID uuid.UUID) (*Timeslot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.byID[slotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	out := copySlot(slot)
	return &out, nil
}

func (s *MemoryStore) ListBookedBefore(_ context.Context, cutoff time.Time, after Cursor, limit int) ([]Timeslot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Timeslot
	for _, slot := range s.byID {
		if slot.State == StateBooked && slot.UpdatedAt.Before(cutoff) && after.before(*slot) {
			out = append(out, copySlot(slot))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Cursor().before(out[i]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) insertLocked(key Key, durationMinutes int) *Timeslot {
	slot := &Timeslot{
		ID:              uuid.New(),
		ProviderID:      key.ProviderID,
		Date:            key.Date,
		StartMinute:     key.StartMinute,
		DurationMinutes: durationMinutes,
		State:           StateFree,
		UpdatedAt:       s.now(),
	}
	s.byKey[key] = slot
	s.byID[slot.ID] = slot
	return slot
}

func copySlot(s *Timeslot) Timeslot {
	out := *s
	if s.AppointmentID != nil {
		id := *s.AppointmentID
		out.AppointmentID = &id
	}
	return out
}
