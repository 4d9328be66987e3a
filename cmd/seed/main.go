package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// Slot lengths a provider template may use.
var slotLengths = []int{15, 20, 30, 45}

func main() {
	providers := flag.Int("providers", 100, "number of providers to create")
	patients := flag.Int("patients", 9000, "number of patients to create")
	blackouts := flag.Int("blackouts", 20, "number of provider-specific blackout dates")
	flag.Parse()

	_ = godotenv.Load()
	logger := logging.New("seed", os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV"))
	logger.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	providerIDs, err := seedProviders(context.Background(), pool, *providers, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed providers")
	}
	if err := seedPatients(context.Background(), pool, *patients, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}
	if err := seedBlackouts(context.Background(), calendar.NewPgSource(pool), providerIDs, *blackouts, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed blackouts")
	}

	logger.Info().Msg("seed complete")
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding providers")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, spec)
		if err != nil {
			return nil, err
		}

		for _, r := range randomTemplate() {
			_, err := tx.Exec(ctx, `
				INSERT INTO provider_working_hours (provider_id, weekday, start_minute, end_minute, slot_minutes)
				VALUES ($1, $2, $3, $4, $5)
			`, id, int16(r.Weekday), r.StartMinute, r.EndMinute, r.SlotMinutes)
			if err != nil {
				return nil, err
			}
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Info().Msg("providers seeded")
	return ids, nil
}

// randomTemplate gives a provider a weekday morning block and, on some days,
// an afternoon block after a lunch break.
func randomTemplate() []calendar.Rule {
	slot := slotLengths[gofakeit.Number(0, len(slotLengths)-1)]
	morningStart := gofakeit.Number(7, 9) * 60

	var rules []calendar.Rule
	for wd := time.Monday; wd <= time.Friday; wd++ {
		if gofakeit.Number(0, 9) == 0 {
			continue
		}
		rules = append(rules, calendar.Rule{Weekday: wd, StartMinute: morningStart, EndMinute: 12 * 60, SlotMinutes: slot})
		if gofakeit.Bool() {
			rules = append(rules, calendar.Rule{Weekday: wd, StartMinute: 13 * 60, EndMinute: gofakeit.Number(16, 18) * 60, SlotMinutes: slot})
		}
	}
	return rules
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, uuid.New(), gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info().Int("seeded", end).Int("total", count).Msg("patients progress")
	}

	logger.Info().Msg("patients seeded")
	return nil
}

// seedBlackouts adds one clinic-wide holiday plus random provider leave
// days over the next two months.
func seedBlackouts(ctx context.Context, admin calendar.Admin, providerIDs []uuid.UUID, count int, logger zerolog.Logger) error {
	today := calendar.Day(time.Now())

	if _, err := admin.AddBlackout(ctx, calendar.Blackout{
		Date:      today.AddDate(0, 0, gofakeit.Number(14, 30)),
		Mandatory: true,
		Reason:    "clinic holiday",
	}); err != nil {
		return err
	}

	if len(providerIDs) == 0 {
		return nil
	}
	for i := 0; i < count; i++ {
		providerID := providerIDs[gofakeit.Number(0, len(providerIDs)-1)]
		_, err := admin.AddBlackout(ctx, calendar.Blackout{
			Date:       today.AddDate(0, 0, gofakeit.Number(1, 60)),
			ProviderID: &providerID,
			// Some leave is tentative and does not block bookings yet.
			Mandatory: gofakeit.Number(0, 4) > 0,
			Reason:    "provider leave",
		})
		if err != nil {
			return err
		}
	}

	logger.Info().Int("count", count+1).Msg("blackouts seeded")
	return nil
}
