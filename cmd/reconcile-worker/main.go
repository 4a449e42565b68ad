package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/trial-visit-scheduling/internal/app"
	"github.com/hackgods/trial-visit-scheduling/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := config.NewLogger(cfg, "reconcile-worker")
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Int("concurrency", cfg.WorkerConcurrency).
		Msg("reconcile-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close(logger)

	// Run once at startup
	runOnce(rootCtx, a, cfg, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping reconcile worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, a, cfg, logger)
		}
	}
}

// runOnce re-runs schedule creation for every enrollment so that anchor
// corrections and calendar changes propagate to not-yet-started visits.
func runOnce(ctx context.Context, a *app.App, cfg config.Config, logger zerolog.Logger) {
	start := time.Now()

	enrollments, err := a.Repo.ListEnrollments(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("list enrollments failed")
		return
	}

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.WorkerConcurrency)
	for _, e := range enrollments {
		g.Go(func() error {
			runCtx, cancel := context.WithTimeout(gctx, 20*time.Second)
			defer cancel()
			if _, err := a.Service.CreateSchedule(runCtx, e.Scope, e.AnchorDatetime); err != nil {
				failed.Add(1)
				logger.Warn().Err(err).Str("scope", e.Scope.String()).Msg("reconcile failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info().
		Int("enrollments", len(enrollments)).
		Int64("failed", failed.Load()).
		Dur("took", time.Since(start)).
		Msg("reconcile run complete")
}
