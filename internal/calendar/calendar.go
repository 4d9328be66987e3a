package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

const DateLayout = "2006-01-02"

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrBlackoutNotFound = errors.New("blackout date not found")
)

// Rule is one line of a provider's weekly working-hour template.
// Minutes are counted from local midnight.
type Rule struct {
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
	SlotMinutes int
}

func (r Rule) Validate() error {
	switch {
	case r.Weekday < time.Sunday || r.Weekday > time.Saturday:
		return fmt.Errorf("invalid weekday %d", r.Weekday)
	case r.StartMinute < 0 || r.EndMinute > 24*60 || r.EndMinute <= r.StartMinute:
		return fmt.Errorf("invalid working window %d-%d", r.StartMinute, r.EndMinute)
	case r.SlotMinutes <= 0:
		return fmt.Errorf("invalid slot length %d", r.SlotMinutes)
	}
	return nil
}

type Provider struct {
	ID        uuid.UUID
	Name      string
	Specialty string
	Hours     []Rule
}

// RulesFor returns the rules that apply on weekday, ordered by start.
func (p Provider) RulesFor(weekday time.Weekday) []Rule {
	var out []Rule
	for _, r := range p.Hours {
		if r.Weekday == weekday {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out
}

// Blackout suppresses slot generation on Date. A nil ProviderID applies to every provider.
type Blackout struct {
	ID         uuid.UUID
	Date       time.Time
	ProviderID *uuid.UUID
	Mandatory  bool
	Reason     string
}

func (b Blackout) Applies(providerID uuid.UUID, date time.Time) bool {
	if !b.Mandatory || !b.Date.Equal(Day(date)) {
		return false
	}
	return b.ProviderID == nil || *b.ProviderID == providerID
}

// Source is the read side the timeslot catalog depends on.
type Source interface {
	GetProvider(ctx context.Context, providerID uuid.UUID) (*Provider, error)
	IsBlackout(ctx context.Context, providerID uuid.UUID, date time.Time) (bool, error)
}

// Admin is the administrative write side for blackout dates.
type Admin interface {
	AddBlackout(ctx context.Context, b Blackout) (Blackout, error)
	RemoveBlackout(ctx context.Context, id uuid.UUID) error
}

// Day truncates t to a calendar date at UTC midnight, keeping t's wall-clock date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses YYYY-MM-DD into a Day.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}
