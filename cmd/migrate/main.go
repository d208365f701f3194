package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/dvloznov/bank-ledger/internal/config"
	"github.com/dvloznov/bank-ledger/internal/logger"
	"github.com/dvloznov/bank-ledger/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	var (
		backend       = flag.String("backend", cfg.StoreBackend, "postgres or bigquery (or set STORE_BACKEND env)")
		databaseURL   = flag.String("database-url", cfg.DatabaseURL, "Postgres connection URL (or set DATABASE_URL env)")
		projectID     = flag.String("project", cfg.BigQueryProjectID, "GCP project ID (or set BQ_PROJECT_ID env)")
		datasetID     = flag.String("dataset", cfg.BigQueryDataset, "BigQuery dataset ID (or set BQ_DATASET env)")
		appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		migrationsDir = flag.String("migrations", "", "Path to migrations directory (default migrations/<backend>)")
		timeout       = flag.Duration("timeout", 10*time.Minute, "Overall timeout")
	)
	flag.Parse()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	dir := *migrationsDir
	if dir == "" {
		dir = findMigrationsDir(*backend)
	}

	var (
		driver       Driver
		placeholders map[string]string
	)
	switch *backend {
	case config.BackendPostgres:
		if *databaseURL == "" {
			log.Fatal().Msg("Error: -database-url or DATABASE_URL is required")
		}
		pool, err := postgres.Connect(ctx, *databaseURL, 2, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Postgres")
		}
		defer pool.Close()
		driver = &postgresDriver{db: pool}

	case config.BackendBigQuery:
		if *projectID == "" {
			log.Fatal().Msg("Error: -project flag is required. Please specify your GCP project ID.")
		}
		d, err := newBigQueryDriver(ctx, *projectID, *datasetID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create BigQuery client")
		}
		defer d.Close()
		driver = d
		placeholders = map[string]string{
			"{{PROJECT_ID}}": *projectID,
			"{{DATASET_ID}}": *datasetID,
		}
		log.Info().Str("project", *projectID).Str("dataset", *datasetID).Msg("Connected to BigQuery")

	default:
		log.Fatal().Str("backend", *backend).Msg("Error: -backend must be postgres or bigquery")
	}

	migrations, err := readMigrations(dir, placeholders, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}

	n, err := run(ctx, driver, migrations, *appliedBy, log)
	if err != nil {
		log.Fatal().Err(err).Int("applied", n).Msg("Migration failed")
	}

	if n == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("applied", n).Msg("Successfully applied migrations")
	}
}

// findMigrationsDir looks for migrations/<backend> from the working
// directory and from the repository root when run inside cmd/migrate.
func findMigrationsDir(backend string) string {
	dir := filepath.Join("migrations", backend)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return filepath.Join("..", "..", dir)
	}
	return dir
}
