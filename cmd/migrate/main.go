package main

import (
	"flag"
	"os"

	"github.com/joho/godotenv"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

func main() {
	force := flag.Int("force", -1, "force the schema to this version and exit (recovers a dirty migration)")
	flag.Parse()

	_ = godotenv.Load()
	logger := logging.New("migrate", os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV"))

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	if err := db.Migrate(dsn, *force); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
	if *force >= 0 {
		logger.Info().Int("version", *force).Msg("schema version forced")
		return
	}
	logger.Info().Msg("migrations applied")
}
