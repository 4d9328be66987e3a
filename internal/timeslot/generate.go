package timeslot

import (
	"sort"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

// Candidate is a slot the working-hour template yields for a day.
type Candidate struct {
	StartMinute     int
	DurationMinutes int
}

// Generate expands the provider's template for date. Slots never overlap:
// walking candidates by start time, one that begins before the previous
// accepted slot ends is dropped, and on equal starts the earlier rule wins.
// A trailing window shorter than the slot length is dropped.
func Generate(p calendar.Provider, date time.Time) []Candidate {
	var all []Candidate
	for _, r := range p.RulesFor(date.Weekday()) {
		if r.Validate() != nil {
			continue
		}
		for m := r.StartMinute; m+r.SlotMinutes <= r.EndMinute; m += r.SlotMinutes {
			all = append(all, Candidate{StartMinute: m, DurationMinutes: r.SlotMinutes})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].StartMinute < all[j].StartMinute })

	var out []Candidate
	lastEnd := -1
	for _, c := range all {
		if c.StartMinute < lastEnd {
			continue
		}
		out = append(out, c)
		lastEnd = c.StartMinute + c.DurationMinutes
	}
	return out
}

func findCandidate(cands []Candidate, startMinute int) (Candidate, bool) {
	i := sort.Search(len(cands), func(i int) bool { return cands[i].StartMinute >= startMinute })
	if i < len(cands) && cands[i].StartMinute == startMinute {
		return cands[i], true
	}
	return Candidate{}, false
}
