// Command server runs the PR screening service: a cached annual-fundamentals
// store in front of the Tushare Pro API, the PR valuation model and the value
// screen, exposed over HTTP.
//
// Startup order:
//  1. Load configuration from the environment (.env supported)
//  2. Initialize structured logging
//  3. Open and migrate the history cache database
//  4. Wire the Tushare client, fetch scheduler and screener
//  5. Register the nightly cache maintenance job
//  6. Serve HTTP until SIGINT/SIGTERM, then shut down gracefully
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gaomindu/prscreen/internal/clients/tushare"
	"github.com/gaomindu/prscreen/internal/config"
	"github.com/gaomindu/prscreen/internal/database"
	"github.com/gaomindu/prscreen/internal/fetch"
	"github.com/gaomindu/prscreen/internal/history"
	"github.com/gaomindu/prscreen/internal/maintenance"
	"github.com/gaomindu/prscreen/internal/screening"
	"github.com/gaomindu/prscreen/internal/server"
	"github.com/gaomindu/prscreen/pkg/logger"
)

// cacheMaintenanceSchedule runs the housekeeping job at 03:30 every day.
const cacheMaintenanceSchedule = "0 30 3 * * *"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("tier", cfg.TushareTier).
		Int("port", cfg.Port).
		Msg("Starting PR screening service")

	historyDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "history.db"),
		Profile: database.ProfileCache,
		Name:    "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer func() {
		if err := historyDB.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close history database")
		}
	}()

	if err := historyDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate history database")
	}

	tier, err := fetch.ParseTier(cfg.TushareTier)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid quota tier")
	}
	if cfg.TushareToken == "" {
		log.Warn().Msg("TUSHARE_TOKEN not set; remote fetches will fail, cache-only operation")
	}

	store := history.NewStore(historyDB, log)
	client := tushare.NewClient(cfg.TushareToken, log)
	scheduler := fetch.NewScheduler(store, client, tier, log)
	screener := screening.NewScreener(scheduler, client, log)

	jobs := maintenance.New(log)
	if err := jobs.AddJob(cacheMaintenanceSchedule, maintenance.NewCacheMaintenanceJob(store, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register maintenance job")
	}
	jobs.Start()
	defer jobs.Stop()

	srv := server.New(server.Config{
		Log:       log,
		Cfg:       cfg,
		HistoryDB: historyDB,
		Store:     store,
		Scheduler: scheduler,
		Screener:  screener,
		Market:    client,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatal().Err(err).Msg("HTTP server failed")
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	log.Info().Msg("Service stopped")
}
