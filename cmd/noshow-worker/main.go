package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"

	"github.com/salvi1605/kinetech-scheduling/internal/appointment"
	"github.com/salvi1605/kinetech-scheduling/internal/config"
	"github.com/salvi1605/kinetech-scheduling/internal/db"
	"github.com/salvi1605/kinetech-scheduling/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "prod")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "noshow-worker").Logger()
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.SweepInterval).Msg("noshow-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	// The sweep only updates statuses, so it runs without slot locks or Redis.
	repo := appointment.NewPgRepository(pgPool)
	svc := appointment.NewService(repo, nil, cfg, log)

	// Run once at startup
	runOnce(rootCtx, log, svc)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping noshow-worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, log, svc)
		}
	}
}

func runOnce(ctx context.Context, log zerolog.Logger, svc *appointment.Service) {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	start := time.Now()
	n, err := svc.SweepNoShows(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("no-show sweep error")
		return
	}
	log.Info().Int("marked", n).Dur("took", time.Since(start)).Msg("no-show sweep complete")
}
