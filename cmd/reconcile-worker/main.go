package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/timeslot"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.New("reconcile-worker", "info", "prod").Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New("reconcile-worker", cfg.LogLevel, cfg.Env)
	if cfg.StorageBackend != config.BackendPostgres {
		logger.Fatal().Str("storage", cfg.StorageBackend).Msg("reconcile-worker requires the postgres backend")
	}

	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Dur("grace", cfg.OrphanGrace).
		Msg("reconcile-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	catalog := timeslot.NewCatalog(timeslot.NewPgStore(pool), calendar.NewPgSource(pool), cfg.Location(), logger)
	svc := appointment.NewService(appointment.NewPgRepository(pool), catalog, nil, nil, logger)
	sweeper := appointment.NewSweeper(svc, redisclient.NewRedisLocker(rdb, cfg.LockTTL), cfg.WorkerInterval, cfg.OrphanGrace, logger)

	if *once {
		sweeper.RunOnce(rootCtx)
		return
	}
	_ = sweeper.Run(rootCtx)
}
