// Package bootstrap assembles the service from configuration. Every command
// builds its dependencies through New so they all share one wiring.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/bank-ledger/internal/archive"
	"github.com/dvloznov/bank-ledger/internal/config"
	"github.com/dvloznov/bank-ledger/internal/events"
	"github.com/dvloznov/bank-ledger/internal/pipeline"
	"github.com/dvloznov/bank-ledger/internal/provider"
	"github.com/dvloznov/bank-ledger/internal/query"
	"github.com/dvloznov/bank-ledger/internal/store"
	"github.com/dvloznov/bank-ledger/internal/store/bigquery"
	"github.com/dvloznov/bank-ledger/internal/store/cache"
	"github.com/dvloznov/bank-ledger/internal/store/inmemory"
	"github.com/dvloznov/bank-ledger/internal/store/postgres"
)

// App holds the long-lived components of a running process.
type App struct {
	Config   config.AppConfig
	Log      zerolog.Logger
	Provider *provider.Client
	Repo     store.LedgerRepository
	Query    *query.Service
	Ingester *pipeline.Ingester
	Archive  *archive.GCSArchiver // nil when GCS_BUCKET is unset

	closers []func() error
}

// New connects to every configured backend. On error anything already
// opened is closed again.
func New(ctx context.Context, cfg config.AppConfig, log zerolog.Logger) (app *App, err error) {
	app = &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	app.Provider = provider.NewClient(cfg.ProviderBaseURL, provider.Options{
		PageSize:    cfg.ProviderPageSize,
		Timeout:     cfg.ProviderTimeout,
		MaxAttempts: cfg.ProviderMaxAttempts,
		Backoff:     cfg.ProviderBackoff,
		Logger:      log,
	})

	repo, err := openRepository(ctx, cfg, log)
	if err != nil {
		return app, err
	}
	if cfg.RedisAddr != "" {
		client, err := cache.NewClient(cfg.RedisAddrs(), cfg.RedisPass, cfg.RedisDB)
		if err != nil {
			_ = repo.Close()
			return app, fmt.Errorf("bootstrap: redis %q: %w", cfg.RedisAddr, err)
		}
		repo = cache.New(repo, client, cfg.CacheTTL, log)
		log.Info().Str("redis", cfg.RedisAddr).Dur("ttl", cfg.CacheTTL).Msg("Ledger cache enabled")
	}
	app.Repo = repo
	app.closers = append(app.closers, repo.Close)
	app.Query = query.NewService(repo)

	opts := []pipeline.Option{
		pipeline.WithConcurrency(cfg.IngestConcurrency),
		pipeline.WithPageSize(cfg.ProviderPageSize),
		pipeline.WithLogger(log),
	}

	if cfg.GCSBucket != "" {
		a, err := archive.NewGCSArchiver(ctx, cfg.GCSBucket, cfg.GCSPrefix)
		if err != nil {
			return app, fmt.Errorf("bootstrap: archive: %w", err)
		}
		app.Archive = a
		app.closers = append(app.closers, a.Close)
		opts = append(opts, pipeline.WithArchiver(a))
		log.Info().Str("bucket", cfg.GCSBucket).Str("prefix", cfg.GCSPrefix).Msg("Raw page archive enabled")
	}

	if len(cfg.KafkaBrokers) > 0 {
		p := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		app.closers = append(app.closers, p.Close)
		opts = append(opts, pipeline.WithPublisher(p))
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("Ledger events enabled")
	}

	app.Ingester = pipeline.NewIngester(app.Provider, repo, opts...)
	return app, nil
}

func openRepository(ctx context.Context, cfg config.AppConfig, log zerolog.Logger) (store.LedgerRepository, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory, "":
		log.Info().Msg("Using in-memory ledger store")
		return inmemory.NewStore(), nil
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns, log)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: postgres: %w", err)
		}
		return postgres.NewRepository(pool), nil
	case config.BackendBigQuery:
		repo, err := bigquery.NewRepository(ctx, cfg.BigQueryProjectID, cfg.BigQueryDataset)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: bigquery: %w", err)
		}
		log.Info().
			Str("project", cfg.BigQueryProjectID).
			Str("dataset", cfg.BigQueryDataset).
			Msg("Using BigQuery ledger store")
		return repo, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown store backend %q", cfg.StoreBackend)
	}
}

// Close releases components in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
