package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notification"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/timeslot"
)

var version = "dev"

// backend bundles the storage implementations selected by STORAGE_BACKEND.
type backend struct {
	calendar      calendar.Source
	slots         timeslot.Store
	appointments  appointment.Repository
	notifications notification.Store
	counter       notification.Counter
	pusher        notification.Pusher
	locker        redisclient.Locker
	postgres      api.Pinger
	redis         api.Pinger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("api-server", "info", "prod").Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New("api-server", cfg.LogLevel, cfg.Env)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("storage", cfg.StorageBackend).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("api-server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("api-server stopped")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	var (
		b       backend
		cleanup func()
		err     error
	)
	switch cfg.StorageBackend {
	case config.BackendMemory:
		b, err = memoryBackend(ctx, logger)
		cleanup = func() {}
	default:
		b, cleanup, err = postgresBackend(ctx, cfg, logger)
	}
	if err != nil {
		return err
	}
	defer cleanup()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewSchedulingMetrics(reg)

	dispatcher := notification.NewAsyncDispatcher(
		notification.NewDispatcher(b.notifications, b.counter, b.pusher, m, logger),
		cfg.NotifyWorkers,
		cfg.NotifyQueueSize,
	)

	catalog := timeslot.NewCatalog(b.slots, b.calendar, cfg.Location(), logger)
	appts := appointment.NewService(b.appointments, catalog, dispatcher, m, logger)
	sweeper := appointment.NewSweeper(appts, b.locker, cfg.WorkerInterval, cfg.OrphanGrace, logger)

	router := api.NewRouter(api.RouterConfig{
		Appointments:   appts,
		Catalog:        catalog,
		Notifications:  notification.NewService(b.notifications, b.counter, b.pusher, logger),
		Health:         api.NewHealthHandler(b.postgres, b.redis, cfg.Env, version),
		Logger:         logger,
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ActorJWTSecret: cfg.ActorJWTSecret,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down api-server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if drainErr := dispatcher.Close(shutdownCtx); drainErr != nil {
			logger.Warn().Err(drainErr).Msg("notification queue not fully drained")
		}
		return err
	})

	return g.Wait()
}

func postgresBackend(ctx context.Context, cfg config.Config, logger zerolog.Logger) (backend, func(), error) {
	if cfg.AutoMigrate {
		if err := db.Migrate(cfg.PostgresDSN, -1); err != nil {
			return backend{}, nil, err
		}
		logger.Info().Msg("migrations applied")
	}

	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return backend{}, nil, err
	}
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		pool.Close()
		return backend{}, nil, err
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

	hub := notification.NewRedisHub(rdb, logger)
	cleanup := func() {
		_ = hub.Close()
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
		pool.Close()
	}

	return backend{
		calendar:      calendar.NewPgSource(pool),
		slots:         timeslot.NewPgStore(pool),
		appointments:  appointment.NewPgRepository(pool),
		notifications: notification.NewPgStore(pool),
		counter:       notification.NewRedisCounter(rdb),
		pusher:        hub,
		locker:        redisclient.NewRedisLocker(rdb, cfg.LockTTL),
		postgres:      poolPinger(pool),
		redis:         redisPinger(rdb),
	}, cleanup, nil
}

func poolPinger(pool *pgxpool.Pool) api.Pinger {
	return api.PingFunc(pool.Ping)
}

func redisPinger(rdb *redis.Client) api.Pinger {
	return api.PingFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
}
