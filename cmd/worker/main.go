package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dvloznov/bank-ledger/internal/bootstrap"
	"github.com/dvloznov/bank-ledger/internal/config"
	"github.com/dvloznov/bank-ledger/internal/logger"
	"github.com/dvloznov/bank-ledger/internal/scheduler"
)

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()

	schedule := flag.String("schedule", cfg.RefreshSchedule, "cron schedule for full refreshes (or set REFRESH_SCHEDULE env)")
	metricsAddr := flag.String("metrics-addr", ":9090", "listen address for /metrics, empty disables it")
	flag.Parse()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		log.Warn().Err(envErr).Msg("Failed to load .env file")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if *schedule == "" {
		log.Fatal().Msg("A refresh schedule is required: set REFRESH_SCHEDULE or -schedule")
	}
	if cfg.StoreBackend == config.BackendMemory {
		log.Warn().Msg("Worker is using the in-memory store; ledgers are not visible to other processes")
	}

	ctx := logger.WithContext(context.Background(), log)

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize worker")
	}
	defer app.Close()

	refresh := func(ctx context.Context) error {
		_, err := app.Ingester.IngestAll(ctx)
		return err
	}

	sched, err := scheduler.New(*schedule, refresh, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}

	var metricsServer *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	if cfg.IngestOnStartup {
		go func() {
			if err := refresh(runCtx); err != nil {
				log.Error().Err(err).Msg("Startup refresh failed")
			}
		}()
	}

	sched.Start()
	log.Info().Str("schedule", *schedule).Time("next", sched.Next()).Msg("Worker started, waiting for schedule...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Scheduled run did not finish in time")
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	log.Info().Msg("Worker stopped")
}
