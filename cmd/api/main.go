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

	"github.com/dvloznov/bank-ledger/internal/api"
	"github.com/dvloznov/bank-ledger/internal/bootstrap"
	"github.com/dvloznov/bank-ledger/internal/config"
	"github.com/dvloznov/bank-ledger/internal/jobs"
	"github.com/dvloznov/bank-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/bank-ledger/internal/logger"
	"github.com/dvloznov/bank-ledger/internal/scheduler"
)

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()

	addr := flag.String("addr", cfg.HTTPAddr, "HTTP listen address (or set HTTP_ADDR env)")
	flag.Parse()
	cfg.HTTPAddr = *addr

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		log.Warn().Err(envErr).Msg("Failed to load .env file")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := logger.WithContext(context.Background(), log)

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize service")
	}
	defer app.Close()

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.JobQueueSize, jobStore, inmemory.QueueOptions{
		Workers:    cfg.JobWorkers,
		MaxRetries: cfg.JobMaxRetries,
		Logger:     log,
	})

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, jobs.NewIngestHandler(app.Ingester, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}
	log.Info().Int("workers", cfg.JobWorkers).Msg("Job workers started")

	if cfg.IngestOnStartup {
		go func() {
			enqueued, err := jobs.EnqueueAll(workerCtx, app.Provider, jobQueue, jobs.TriggerStartup)
			if err != nil {
				log.Error().Err(err).Msg("Startup ingestion could not be enqueued")
				return
			}
			log.Info().Int("jobs", len(enqueued)).Msg("Startup ingestion enqueued")
		}()
	}

	var sched *scheduler.Scheduler
	if cfg.RefreshSchedule != "" {
		sched, err = scheduler.New(cfg.RefreshSchedule, func(ctx context.Context) error {
			_, err := jobs.EnqueueAll(ctx, app.Provider, jobQueue, jobs.TriggerSchedule)
			return err
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create refresh scheduler")
		}
		sched.Start()
		log.Info().Str("schedule", cfg.RefreshSchedule).Time("next", sched.Next()).Msg("Scheduled refresh enabled")
	}

	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Deps{
			Query:          app.Query,
			Jobs:           jobStore,
			Publisher:      jobQueue,
			Accounts:       app.Provider,
			AllowedOrigins: cfg.CORSAllowedOrigins,
			Log:            log,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.StoreBackend).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping scheduler")
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
