package timeslot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

const slotColumns = `id, provider_id, slot_date, start_minute, duration_minutes, state, appointment_id, updated_at`

type PgStore struct {
	pool db.DBTX
}

func NewPgStore(pool db.DBTX) *PgStore {
	return &PgStore{pool: pool}
}

func scanSlot(row pgx.Row) (*Timeslot, error) {
	var s Timeslot
	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&s.Date,
		&s.StartMinute,
		&s.DurationMinutes,
		&s.State,
		&s.AppointmentID,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *PgStore) Materialize(ctx context.Context, providerID uuid.UUID, date time.Time, cands []Candidate) error {
	if len(cands) == 0 {
		return nil
	}
	starts := make([]int32, len(cands))
	durations := make([]int32, len(cands))
	for i, c := range cands {
		starts[i] = int32(c.StartMinute)
		durations[i] = int32(c.DurationMinutes)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO timeslots (id, provider_id, slot_date, start_minute, duration_minutes, state, created_at, updated_at)
		SELECT gen_random_uuid(), $1, $2, c.start_minute, c.duration_minutes, 'free', now(), now()
		FROM unnest($3::int[], $4::int[]) AS c(start_minute, duration_minutes)
		ON CONFLICT ON CONSTRAINT timeslots_natural_key DO NOTHING
	`, providerID, date, starts, durations)
	if err != nil {
		return fmt.Errorf("insert timeslots: %w", err)
	}
	return nil
}

func (s *PgStore) ListDay(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Timeslot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM timeslots
		WHERE provider_id = $1 AND slot_date = $2
		ORDER BY start_minute
	`, providerID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Timeslot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *slot)
	}
	return result, rows.Err()
}

// Reserve is an upsert guarded by the prior state. Concurrent callers
// serialize on the natural-key index; only the one that finds the row absent
// or free gets a row back.
func (s *PgStore) Reserve(ctx context.Context, key Key, durationMinutes int, appointmentID uuid.UUID) (*Timeslot, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO timeslots (id, provider_id, slot_date, start_minute, duration_minutes, state, appointment_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'booked', $6, now(), now())
		ON CONFLICT ON CONSTRAINT timeslots_natural_key DO UPDATE
		SET state = 'booked',
		    appointment_id = EXCLUDED.appointment_id,
		    duration_minutes = EXCLUDED.duration_minutes,
		    updated_at = now()
		WHERE timeslots.state = 'free'
		RETURNING `+slotColumns+`
	`, uuid.New(), key.ProviderID, key.Date, key.StartMinute, durationMinutes, appointmentID)

	slot, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s already taken", ErrSlotUnavailable, key)
		}
		return nil, fmt.Errorf("reserve timeslot: %w", err)
	}
	return slot, nil
}

func (s *PgStore) Release(ctx context.Context, slotID, appointmentID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE timeslots
		SET state = 'free',
		    appointment_id = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND appointment_id = $2
		  AND state = 'booked'
	`, slotID, appointmentID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) Get(ctx context.Context, slotID uuid.UUID) (*Timeslot, error) {
	slot, err := scanSlot(s.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM timeslots
		WHERE id = $1
	`, slotID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return slot, nil
}

func (s *PgStore) ListBookedBefore(ctx context.Context, cutoff time.Time, after Cursor, limit int) ([]Timeslot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM timeslots
		WHERE state = 'booked'
		  AND updated_at < $1
		  AND (updated_at, id) > ($2, $3)
		ORDER BY updated_at, id
		LIMIT $4
	`, cutoff, after.UpdatedAt, after.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Timeslot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *slot)
	}
	return result, rows.Err()
}
