package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rowColumns = []string{
	"id", "patient_id", "provider_id", "timeslot_id", "appointment_date", "start_minute",
	"duration_minutes", "status", "reason", "version", "created_at", "updated_at",
}

func sampleAppointment() *Appointment {
	return &Appointment{
		ID:              uuid.New(),
		PatientID:       uuid.New(),
		ProviderID:      uuid.New(),
		TimeslotID:      uuid.New(),
		Date:            tuesday,
		StartMinute:     540,
		DurationMinutes: 30,
		Status:          StatusPending,
		Reason:          "checkup",
	}
}

func appointmentRow(a *Appointment, version int, at time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(rowColumns).AddRow(
		a.ID, a.PatientID, a.ProviderID, a.TimeslotID, a.Date, a.StartMinute,
		a.DurationMinutes, a.Status, a.Reason, version, at, at,
	)
}

func TestPgRepositoryCreate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sampleAppointment()
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	h := HistoryEntry{Status: StatusPending, At: at, ActorID: a.PatientID, ActorRole: RolePatient, Note: "booked"}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO appointments").WillReturnRows(appointmentRow(a, 1, at))
	mock.ExpectExec("INSERT INTO appointment_history").
		WithArgs(a.ID, StatusPending, a.PatientID, RolePatient, "booked", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	created, err := NewPgRepository(mock).Create(context.Background(), a, h)
	require.NoError(t, err)
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, []HistoryEntry{h}, created.History)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryUpdateStaleVersion(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sampleAppointment()
	a.Status = StatusConfirmed
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE appointments").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err = NewPgRepository(mock).Update(context.Background(), a, 3, HistoryEntry{Status: StatusConfirmed, At: at})
	assert.ErrorIs(t, err, ErrStaleVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM appointments").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err = NewPgRepository(mock).Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryListBuildsFilter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sampleAppointment()
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	status := StatusPending

	mock.ExpectQuery(`FROM "appointments" WHERE .*"provider_id".*"status"`).
		WillReturnRows(appointmentRow(a, 2, at))

	list, err := NewPgRepository(mock).List(context.Background(), Filter{
		ProviderID: &a.ProviderID,
		Status:     &status,
		Limit:      20,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, 2, list[0].Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryPatientExists(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM patients").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := NewPgRepository(mock).PatientExists(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
