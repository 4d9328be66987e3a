package calendar

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemorySource backs STORAGE_BACKEND=memory and the engine tests.
type MemorySource struct {
	mu        sync.RWMutex
	providers map[uuid.UUID]Provider
	blackouts map[uuid.UUID]Blackout
}

func NewMemorySource() *MemorySource {
	return &MemorySource{
		providers: make(map[uuid.UUID]Provider),
		blackouts: make(map[uuid.UUID]Blackout),
	}
}

func (s *MemorySource) PutProvider(p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID] = p
}

func (s *MemorySource) GetProvider(_ context.Context, providerID uuid.UUID) (*Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[providerID]
	if !ok {
		return nil, ErrProviderNotFound
	}
	p.Hours = append([]Rule(nil), p.Hours...)
	return &p, nil
}

func (s *MemorySource) IsBlackout(_ context.Context, providerID uuid.UUID, date time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.blackouts {
		if b.Applies(providerID, date) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemorySource) AddBlackout(_ context.Context, b Blackout) (Blackout, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.Date = Day(b.Date)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blackouts[b.ID] = b
	return b, nil
}

func (s *MemorySource) RemoveBlackout(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blackouts[id]; !ok {
		return ErrBlackoutNotFound
	}
	delete(s.blackouts, id)
	return nil
}
