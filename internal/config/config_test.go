package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "PROVIDER_BASE_URL", "STORE_BACKEND", "DATABASE_URL", "DB_HOST", "KAFKA_BROKERS", "INGEST_CONCURRENCY", "JOB_WORKERS", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 100, cfg.ProviderPageSize)
	assert.Equal(t, 30*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 3, cfg.ProviderMaxAttempts)
	assert.Equal(t, "http://localhost:8000", cfg.ProviderBaseURL)
	assert.Equal(t, 32, cfg.IngestConcurrency)
	assert.Equal(t, 32, cfg.JobWorkers)
	assert.True(t, cfg.IngestOnStartup)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Nil(t, cfg.KafkaBrokers)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PROVIDER_TIMEOUT", "5s")
	t.Setenv("INGEST_CONCURRENCY", "8")
	t.Setenv("INGEST_ON_STARTUP", "false")
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "ledger")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "")
	t.Setenv("DB_PORT", "")
	t.Setenv("DB_SSLMODE", "")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg := Load()
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 8, cfg.IngestConcurrency)
	assert.Equal(t, 8, cfg.JobWorkers)
	assert.False(t, cfg.IngestOnStartup)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, "postgres://ledger:secret@db:5432/ledger?sslmode=disable", cfg.DatabaseURL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.NoError(t, cfg.Validate())
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("INGEST_CONCURRENCY", "many")
	t.Setenv("PROVIDER_BACKOFF", "soon")

	cfg := Load()
	assert.Equal(t, 32, cfg.IngestConcurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.ProviderBackoff)
}

func TestValidate(t *testing.T) {
	valid := func() AppConfig {
		return AppConfig{ProviderBaseURL: "http://p", IngestConcurrency: 1, ProviderMaxAttempts: 1, JobWorkers: 1, StoreBackend: BackendMemory}
	}

	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr bool
	}{
		{"valid", func(c *AppConfig) {}, false},
		{"missing provider", func(c *AppConfig) { c.ProviderBaseURL = "" }, true},
		{"zero concurrency", func(c *AppConfig) { c.IngestConcurrency = 0 }, true},
		{"zero attempts", func(c *AppConfig) { c.ProviderMaxAttempts = 0 }, true},
		{"zero workers", func(c *AppConfig) { c.JobWorkers = 0 }, true},
		{"postgres without url", func(c *AppConfig) { c.StoreBackend = BackendPostgres }, true},
		{"postgres with url", func(c *AppConfig) { c.StoreBackend = BackendPostgres; c.DatabaseURL = "postgres://x" }, false},
		{"bigquery without project", func(c *AppConfig) { c.StoreBackend = BackendBigQuery }, true},
		{"bigquery with project", func(c *AppConfig) { c.StoreBackend = BackendBigQuery; c.BigQueryProjectID = "p" }, false},
		{"unknown backend", func(c *AppConfig) { c.StoreBackend = "sqlite" }, true},
		{"redis cluster", func(c *AppConfig) { c.RedisAddr = "r1:6379, r2:6379" }, false},
		{"redis separators only", func(c *AppConfig) { c.RedisAddr = " , ," }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRedisAddrs(t *testing.T) {
	assert.Equal(t, []string{"a:1", "b:2"}, AppConfig{RedisAddr: " a:1, ,b:2 "}.RedisAddrs())
	assert.Nil(t, AppConfig{}.RedisAddrs())
}
