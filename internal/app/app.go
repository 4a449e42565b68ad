package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/trial-visit-scheduling/internal/appointment"
	"github.com/hackgods/trial-visit-scheduling/internal/config"
	"github.com/hackgods/trial-visit-scheduling/internal/db"
	"github.com/hackgods/trial-visit-scheduling/internal/facility"
	"github.com/hackgods/trial-visit-scheduling/internal/metadata"
	redisclient "github.com/hackgods/trial-visit-scheduling/internal/redis"
	"github.com/hackgods/trial-visit-scheduling/internal/visitschedule"
)

// App holds the wired engine and the connections it owns.
type App struct {
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Repo       *appointment.PgRepository
	Metadata   *metadata.PgMetadata
	Schedules  *visitschedule.Registry
	Facilities *facility.Registry
	Service    *appointment.Service
}

// Build connects Postgres and Redis, applies migrations, loads the schedule
// YAML and wires the appointment service.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	schedules, facilities, err := visitschedule.LoadFile(cfg.ScheduleConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}
	logger.Info().Str("path", cfg.ScheduleConfigPath).Int("schedules", len(schedules.All())).Msg("visit schedules loaded")

	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return nil, fmt.Errorf("postgres connection: %w", err)
	}
	logger.Info().Msg("connected to Postgres")

	applied, err := db.Migrate(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	rdb, err := redisclient.NewRedisClient(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

	repo := appointment.NewPgRepository(pool)
	meta := metadata.NewPgMetadata(pool)
	svc := appointment.NewService(appointment.Dependencies{
		Repo:       repo,
		Tx:         db.NewTxRunner(pool),
		Locker:     redisclient.NewRedisSubjectLocker(rdb, cfg.LockTTL, cfg.LockWait),
		Metadata:   meta,
		Schedules:  schedules,
		Facilities: facilities,
		Logger:     logger,
	}, cfg)

	return &App{
		Pool:       pool,
		Redis:      rdb,
		Repo:       repo,
		Metadata:   meta,
		Schedules:  schedules,
		Facilities: facilities,
		Service:    svc,
	}, nil
}

func (a *App) Close(logger zerolog.Logger) {
	if err := a.Redis.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing redis")
	}
	a.Pool.Close()
}
