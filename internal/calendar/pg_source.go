package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

type PgSource struct {
	pool db.DBTX
}

func NewPgSource(pool db.DBTX) *PgSource {
	return &PgSource{pool: pool}
}

func (s *PgSource) GetProvider(ctx context.Context, providerID uuid.UUID) (*Provider, error) {
	var p Provider
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(specialty, '')
		FROM providers
		WHERE id = $1
	`, providerID).Scan(&p.ID, &p.Name, &p.Specialty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT weekday, start_minute, end_minute, slot_minutes
		FROM provider_working_hours
		WHERE provider_id = $1
		ORDER BY weekday, start_minute
	`, providerID)
	if err != nil {
		return nil, fmt.Errorf("load working hours: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var weekday int16
		var r Rule
		if err := rows.Scan(&weekday, &r.StartMinute, &r.EndMinute, &r.SlotMinutes); err != nil {
			return nil, fmt.Errorf("scan working hours: %w", err)
		}
		r.Weekday = time.Weekday(weekday)
		p.Hours = append(p.Hours, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load working hours: %w", err)
	}

	return &p, nil
}

func (s *PgSource) IsBlackout(ctx context.Context, providerID uuid.UUID, date time.Time) (bool, error) {
	var blocked bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM blackout_dates
			WHERE blackout_date = $1
			  AND mandatory
			  AND (provider_id IS NULL OR provider_id = $2)
		)
	`, Day(date), providerID).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("check blackout: %w", err)
	}
	return blocked, nil
}

func (s *PgSource) AddBlackout(ctx context.Context, b Blackout) (Blackout, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.Date = Day(b.Date)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO blackout_dates (id, blackout_date, provider_id, mandatory, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, b.ID, b.Date, b.ProviderID, b.Mandatory, b.Reason)
	if err != nil {
		return Blackout{}, fmt.Errorf("insert blackout: %w", err)
	}
	return b, nil
}

func (s *PgSource) RemoveBlackout(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM blackout_dates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete blackout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBlackoutNotFound
	}
	return nil
}
