package timeslot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

var (
	testDay   = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC) // Monday
	testClock = func() time.Time { return time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC) }
)

func newTestCatalog(t *testing.T) (*Catalog, *calendar.MemorySource, uuid.UUID) {
	t.Helper()
	src := calendar.NewMemorySource()
	providerID := uuid.New()
	src.PutProvider(calendar.Provider{
		ID:   providerID,
		Name: "Dr. Ada Reyes",
		Hours: []calendar.Rule{
			{Weekday: time.Monday, StartMinute: 540, EndMinute: 720, SlotMinutes: 30},
		},
	})
	cat := NewCatalog(NewMemoryStore(), src, time.UTC, zerolog.Nop()).WithClock(testClock)
	return cat, src, providerID
}

func starts(slots []Timeslot) []int {
	out := make([]int, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.StartMinute)
	}
	return out
}

func TestListAvailableFreshDay(t *testing.T) {
	cat, _, providerID := newTestCatalog(t)

	slots, err := cat.ListAvailable(context.Background(), providerID, testDay, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{540, 570, 600, 630, 660, 690}, starts(slots))
	for _, s := range slots {
		assert.Equal(t, StateFree, s.State)
		assert.Equal(t, 30, s.DurationMinutes)
	}
}

func TestListAvailableDayOff(t *testing.T) {
	cat, _, providerID := newTestCatalog(t)

	slots, err := cat.ListAvailable(context.Background(), providerID, testDay.AddDate(0, 0, 1), nil)
	require.NoError(t, err)
	assert.NotNil(t, slots)
	assert.Empty(t, slots)
}

func TestListAvailableBlackout(t *testing.T) {
	ctx := context.Background()
	cat, src, providerID := newTestCatalog(t)

	_, err := src.AddBlackout(ctx, calendar.Blackout{Date: testDay, Mandatory: true, Reason: "holiday"})
	require.NoError(t, err)

	slots, err := cat.ListAvailable(ctx, providerID, testDay, nil)
	require.NoError(t, err)
	assert.Empty(t, slots)

	_, err = cat.Reserve(ctx, providerID, testDay, 540, uuid.New())
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestListAvailableOptionalBlackoutKeepsSlots(t *testing.T) {
	ctx := context.Background()
	cat, src, providerID := newTestCatalog(t)

	_, err := src.AddBlackout(ctx, calendar.Blackout{Date: testDay, Mandatory: false})
	require.NoError(t, err)

	slots, err := cat.ListAvailable(ctx, providerID, testDay, nil)
	require.NoError(t, err)
	assert.Len(t, slots, 6)
}

func TestListAvailableUnknownProvider(t *testing.T) {
	cat, _, _ := newTestCatalog(t)
	_, err := cat.ListAvailable(context.Background(), uuid.New(), testDay, nil)
	assert.ErrorIs(t, err, calendar.ErrProviderNotFound)
}

func TestReserveRemovesSlotFromAvailability(t *testing.T) {
	ctx := context.Background()
	cat, _, providerID := newTestCatalog(t)
	apptID := uuid.New()

	slot, err := cat.Reserve(ctx, providerID, testDay, 570, apptID)
	require.NoError(t, err)
	assert.True(t, slot.BookedBy(apptID))

	slots, err := cat.ListAvailable(ctx, providerID, testDay, nil)
	require.NoError(t, err)
	assert.NotContains(t, starts(slots), 570)

	withOwn, err := cat.ListAvailable(ctx, providerID, testDay, &apptID)
	require.NoError(t, err)
	assert.Contains(t, starts(withOwn), 570)

	other := uuid.New()
	withOther, err := cat.ListAvailable(ctx, providerID, testDay, &other)
	require.NoError(t, err)
	assert.NotContains(t, starts(withOther), 570)
}

func TestReserveOffTemplate(t *testing.T) {
	cat, _, providerID := newTestCatalog(t)
	_, err := cat.Reserve(context.Background(), providerID, testDay, 555, uuid.New())
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestReserveTwiceFails(t *testing.T) {
	ctx := context.Background()
	cat, _, providerID := newTestCatalog(t)

	_, err := cat.Reserve(ctx, providerID, testDay, 600, uuid.New())
	require.NoError(t, err)
	_, err = cat.Reserve(ctx, providerID, testDay, 600, uuid.New())
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestPastSlotsAreHidden(t *testing.T) {
	ctx := context.Background()
	cat, _, providerID := newTestCatalog(t)
	cat.WithClock(func() time.Time { return time.Date(2025, 6, 2, 10, 10, 0, 0, time.UTC) })

	slots, err := cat.ListAvailable(ctx, providerID, testDay, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{630, 660, 690}, starts(slots))

	_, err = cat.Reserve(ctx, providerID, testDay, 540, uuid.New())
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestExcludedSlotSurvivesPastFilter(t *testing.T) {
	ctx := context.Background()
	cat, _, providerID := newTestCatalog(t)

	apptID := uuid.New()
	_, err := cat.Reserve(ctx, providerID, testDay, 540, apptID)
	require.NoError(t, err)

	// 09:10, so the appointment at 09:00 is already under way.
	cat.WithClock(func() time.Time { return time.Date(2025, 6, 2, 9, 10, 0, 0, time.UTC) })

	slots, err := cat.ListAvailable(ctx, providerID, testDay, &apptID)
	require.NoError(t, err)
	assert.Equal(t, []int{540, 570, 600, 630, 660, 690}, starts(slots))

	other := uuid.New()
	slots, err = cat.ListAvailable(ctx, providerID, testDay, &other)
	require.NoError(t, err)
	assert.Equal(t, []int{570, 600, 630, 660, 690}, starts(slots))
}

func TestPastGuardUsesClinicLocation(t *testing.T) {
	ctx := context.Background()
	loc := time.FixedZone("UTC-5", -5*60*60)
	src := calendar.NewMemorySource()
	providerID := uuid.New()
	src.PutProvider(calendar.Provider{ID: providerID, Hours: []calendar.Rule{
		{Weekday: time.Monday, StartMinute: 540, EndMinute: 600, SlotMinutes: 30},
	}})
	// 13:45 UTC is 08:45 at the clinic, so both morning slots are still ahead.
	cat := NewCatalog(NewMemoryStore(), src, loc, zerolog.Nop()).
		WithClock(func() time.Time { return time.Date(2025, 6, 2, 13, 45, 0, 0, time.UTC) })

	slots, err := cat.ListAvailable(ctx, providerID, testDay, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{540, 570}, starts(slots))
}

func TestConcurrentReserveHasOneWinner(t *testing.T) {
	ctx := context.Background()
	cat, _, providerID := newTestCatalog(t)

	const callers = 64
	var (
		wg      sync.WaitGroup
		wins    atomic.Int32
		losses  atomic.Int32
		unknown atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := cat.Reserve(ctx, providerID, testDay, 630, uuid.New())
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrSlotUnavailable):
				losses.Add(1)
			default:
				unknown.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, callers-1, losses.Load())
	assert.Zero(t, unknown.Load())
}

func TestReleaseIsIdempotentAndOwnerScoped(t *testing.T) {
	ctx := context.Background()
	cat, _, providerID := newTestCatalog(t)
	apptID := uuid.New()

	slot, err := cat.Reserve(ctx, providerID, testDay, 660, apptID)
	require.NoError(t, err)

	require.NoError(t, cat.Release(ctx, slot.ID, uuid.New()))
	got, err := cat.Get(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, StateBooked, got.State)

	require.NoError(t, cat.Release(ctx, slot.ID, apptID))
	require.NoError(t, cat.Release(ctx, slot.ID, apptID))
	got, err = cat.Get(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFree, got.State)
	assert.Nil(t, got.AppointmentID)

	next := uuid.New()
	_, err = cat.Reserve(ctx, providerID, testDay, 660, next)
	require.NoError(t, err)
}

func TestBookedBefore(t *testing.T) {
	ctx := context.Background()
	src := calendar.NewMemorySource()
	providerID := uuid.New()
	src.PutProvider(calendar.Provider{ID: providerID, Hours: []calendar.Rule{
		{Weekday: time.Monday, StartMinute: 540, EndMinute: 600, SlotMinutes: 30},
	}})

	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	store := NewMemoryStore().WithClock(func() time.Time { return now })
	cat := NewCatalog(store, src, time.UTC, zerolog.Nop()).WithClock(testClock)

	_, err := cat.Reserve(ctx, providerID, testDay, 540, uuid.New())
	require.NoError(t, err)
	now = now.Add(10 * time.Minute)
	_, err = cat.Reserve(ctx, providerID, testDay, 570, uuid.New())
	require.NoError(t, err)

	old, err := cat.BookedBefore(ctx, time.Date(2025, 6, 1, 8, 5, 0, 0, time.UTC), Cursor{}, 10)
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, 540, old[0].StartMinute)
}

func TestBookedBeforePagesWithCursor(t *testing.T) {
	ctx := context.Background()
	src := calendar.NewMemorySource()
	providerID := uuid.New()
	src.PutProvider(calendar.Provider{ID: providerID, Hours: []calendar.Rule{
		{Weekday: time.Monday, StartMinute: 540, EndMinute: 720, SlotMinutes: 30},
	}})

	// Every slot shares one updated_at so only the id breaks ties.
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	store := NewMemoryStore().WithClock(func() time.Time { return now })
	cat := NewCatalog(store, src, time.UTC, zerolog.Nop()).WithClock(testClock)

	for start := 540; start < 720; start += 30 {
		_, err := cat.Reserve(ctx, providerID, testDay, start, uuid.New())
		require.NoError(t, err)
	}

	cutoff := now.Add(time.Minute)
	seen := map[uuid.UUID]bool{}
	var cursor Cursor
	pages := 0
	for {
		page, err := cat.BookedBefore(ctx, cutoff, cursor, 4)
		require.NoError(t, err)
		pages++
		for _, slot := range page {
			assert.False(t, seen[slot.ID], "slot %s returned twice", slot.ID)
			seen[slot.ID] = true
		}
		if len(page) < 4 {
			break
		}
		cursor = page[len(page)-1].Cursor()
	}

	assert.Len(t, seen, 6)
	assert.Equal(t, 2, pages)
}
