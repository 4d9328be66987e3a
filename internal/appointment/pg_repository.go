package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

var appointmentColumns = []any{
	"id", "patient_id", "provider_id", "timeslot_id", "appointment_date", "start_minute",
	"duration_minutes", "status", "reason", "version", "created_at", "updated_at",
}

const appointmentSelect = `id, patient_id, provider_id, timeslot_id, appointment_date, start_minute,
	duration_minutes, status, reason, version, created_at, updated_at`

type PgRepository struct {
	pool    db.DBTX
	dialect goqu.DialectWrapper
}

func NewPgRepository(pool db.DBTX) *PgRepository {
	return &PgRepository{pool: pool, dialect: goqu.Dialect("postgres")}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&a.TimeslotID,
		&a.Date,
		&a.StartMinute,
		&a.DurationMinutes,
		&a.Status,
		&a.Reason,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *PgRepository) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check patient: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment, h HistoryEntry) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	created, err := scanAppointment(tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, provider_id, timeslot_id, appointment_date, start_minute,
			duration_minutes, status, reason, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $10)
		RETURNING `+appointmentSelect,
		a.ID, a.PatientID, a.ProviderID, a.TimeslotID, a.Date, a.StartMinute,
		a.DurationMinutes, a.Status, a.Reason, h.At,
	))
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := insertHistory(ctx, tx, a.ID, h); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit appointment: %w", err)
	}

	created.History = []HistoryEntry{h}
	return created, nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentSelect+`
		FROM appointments
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, err
	}

	history, err := r.history(ctx, id)
	if err != nil {
		return nil, err
	}
	a.History = history
	return a, nil
}

func (r *PgRepository) Update(ctx context.Context, a *Appointment, expectedVersion int, h HistoryEntry) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	updated, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    timeslot_id = $4,
		    appointment_date = $5,
		    start_minute = $6,
		    duration_minutes = $7,
		    reason = $8,
		    version = version + 1,
		    updated_at = $9
		WHERE id = $1
		  AND version = $2
		RETURNING `+appointmentSelect,
		a.ID, expectedVersion, a.Status, a.TimeslotID, a.Date, a.StartMinute,
		a.DurationMinutes, a.Reason, h.At,
	))
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrStaleVersion
		}
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	if err := insertHistory(ctx, tx, a.ID, h); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit appointment: %w", err)
	}

	updated.History = append(append([]HistoryEntry(nil), a.History...), h)
	return updated, nil
}

// List builds its WHERE clause from the filter with goqu; history is not
// loaded for list results.
func (r *PgRepository) List(ctx context.Context, f Filter) ([]Appointment, error) {
	ds := r.dialect.From("appointments").Prepared(true).Select(appointmentColumns...)

	if f.PatientID != nil {
		ds = ds.Where(goqu.Ex{"patient_id": *f.PatientID})
	}
	if f.ProviderID != nil {
		ds = ds.Where(goqu.Ex{"provider_id": *f.ProviderID})
	}
	if f.Status != nil {
		ds = ds.Where(goqu.Ex{"status": string(*f.Status)})
	}
	if f.From != nil {
		ds = ds.Where(goqu.C("appointment_date").Gte(*f.From))
	}
	if f.To != nil {
		ds = ds.Where(goqu.C("appointment_date").Lte(*f.To))
	}

	ds = ds.Order(goqu.I("appointment_date").Asc(), goqu.I("start_minute").Asc(), goqu.I("id").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) history(ctx context.Context, id uuid.UUID) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, created_at, actor_id, actor_role, note
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.Status, &h.At, &h.ActorID, &h.ActorRole, &h.Note); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func insertHistory(ctx context.Context, tx pgx.Tx, appointmentID uuid.UUID, h HistoryEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO appointment_history (appointment_id, status, actor_id, actor_role, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, appointmentID, h.Status, h.ActorID, h.ActorRole, h.Note, h.At)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}
