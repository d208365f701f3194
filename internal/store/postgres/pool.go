package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Connect opens a pgx pool and pings it, retrying with exponential backoff
// while the database comes up.
func Connect(ctx context.Context, dbURL string, maxConns int, log zerolog.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("Connect: parse config: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = int32(maxConns)
	}
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = time.Minute

	const maxAttempts = 5
	delay := 2 * time.Second

	for attempt := 1; ; attempt++ {
		pool, err := tryConnect(ctx, config)
		if err == nil {
			log.Info().
				Str("host", config.ConnConfig.Host).
				Str("database", config.ConnConfig.Database).
				Int32("max_conns", config.MaxConns).
				Msg("Connected to Postgres")
			return pool, nil
		}
		if attempt == maxAttempts {
			return nil, fmt.Errorf("Connect: giving up after %d attempts: %w", attempt, err)
		}

		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("Postgres connection failed")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("Connect: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func tryConnect(ctx context.Context, config *pgxpool.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
