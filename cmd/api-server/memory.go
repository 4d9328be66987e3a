package main

import (
	"context"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/notification"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/timeslot"
)

const (
	demoProviders = 5
	demoPatients  = 20
)

var demoSpecialties = []string{"General Practice", "Dermatology", "Cardiology", "Pediatrics"}

// memoryBackend wires the in-process stores and fills the calendar with a
// small demo clinic so the API is usable without Postgres or Redis.
func memoryBackend(ctx context.Context, logger zerolog.Logger) (backend, error) {
	src := calendar.NewMemorySource()
	repo := appointment.NewMemoryRepository()

	if err := seedDemo(ctx, src, repo, logger); err != nil {
		return backend{}, err
	}

	return backend{
		calendar:      src,
		slots:         timeslot.NewMemoryStore(),
		appointments:  repo,
		notifications: notification.NewMemoryStore(),
		counter:       notification.NewMemoryCounter(),
		pusher:        notification.NewMemoryHub(),
		locker:        redisclient.NewLocalLocker(),
	}, nil
}

func seedDemo(ctx context.Context, src *calendar.MemorySource, repo *appointment.MemoryRepository, logger zerolog.Logger) error {
	for i := 0; i < demoProviders; i++ {
		p := calendar.Provider{
			ID:        uuid.New(),
			Name:      "Dr. " + gofakeit.LastName(),
			Specialty: demoSpecialties[gofakeit.Number(0, len(demoSpecialties)-1)],
		}
		for wd := time.Monday; wd <= time.Friday; wd++ {
			p.Hours = append(p.Hours,
				calendar.Rule{Weekday: wd, StartMinute: 9 * 60, EndMinute: 12 * 60, SlotMinutes: 30},
				calendar.Rule{Weekday: wd, StartMinute: 13 * 60, EndMinute: 17 * 60, SlotMinutes: 30},
			)
		}
		src.PutProvider(p)
		logger.Info().Str("provider_id", p.ID.String()).Str("name", p.Name).Msg("demo provider")
	}

	for i := 0; i < demoPatients; i++ {
		id := uuid.New()
		repo.AddPatient(id)
		logger.Debug().Str("patient_id", id.String()).Msg("demo patient")
	}

	// Clinic-wide holiday a week out.
	holiday := calendar.Day(time.Now().AddDate(0, 0, 7))
	if _, err := src.AddBlackout(ctx, calendar.Blackout{
		Date:      holiday,
		Mandatory: true,
		Reason:    "clinic holiday",
	}); err != nil {
		return err
	}

	logger.Info().
		Int("providers", demoProviders).
		Int("patients", demoPatients).
		Str("holiday", holiday.Format(calendar.DateLayout)).
		Msg("memory backend seeded")
	return nil
}
