// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBigQuery = "bigquery"
)

type AppConfig struct {
	HTTPAddr           string
	CORSAllowedOrigins []string

	ProviderBaseURL     string
	ProviderPageSize    int
	ProviderTimeout     time.Duration
	ProviderMaxAttempts int
	ProviderBackoff     time.Duration

	IngestConcurrency int
	IngestOnStartup   bool
	RefreshSchedule   string // cron spec, empty disables scheduled refresh

	JobWorkers    int // defaults to IngestConcurrency
	JobQueueSize  int
	JobMaxRetries int

	StoreBackend string
	DatabaseURL  string
	DBMaxConns   int

	BigQueryProjectID string
	BigQueryDataset   string

	GCSBucket string
	GCSPrefix string

	RedisAddr string
	RedisPass string
	RedisDB   int
	CacheTTL  time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	LogLevel  string
	LogFormat string // console or json
}

func Load() AppConfig {
	ingestConcurrency := getEnvInt("INGEST_CONCURRENCY", 32)

	return AppConfig{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		CORSAllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", "*"),

		ProviderBaseURL:     getEnv("PROVIDER_BASE_URL", "http://localhost:8000"),
		ProviderPageSize:    getEnvInt("PROVIDER_PAGE_SIZE", 100),
		ProviderTimeout:     getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),
		ProviderMaxAttempts: getEnvInt("PROVIDER_MAX_ATTEMPTS", 3),
		ProviderBackoff:     getEnvDuration("PROVIDER_BACKOFF", 500*time.Millisecond),

		IngestConcurrency: ingestConcurrency,
		IngestOnStartup:   getEnvBool("INGEST_ON_STARTUP", true),
		RefreshSchedule:   getEnv("REFRESH_SCHEDULE", ""),

		JobWorkers:    getEnvInt("JOB_WORKERS", ingestConcurrency),
		JobQueueSize:  getEnvInt("JOB_QUEUE_SIZE", 100),
		JobMaxRetries: getEnvInt("JOB_MAX_RETRIES", 3),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		DatabaseURL:  getEnv("DATABASE_URL", databaseURLFromParts()),
		DBMaxConns:   getEnvInt("DB_MAX_CONNS", 20),

		BigQueryProjectID: getEnv("BQ_PROJECT_ID", ""),
		BigQueryDataset:   getEnv("BQ_DATASET", "ledger"),

		GCSBucket: getEnv("GCS_BUCKET", ""),
		GCSPrefix: getEnv("GCS_PREFIX", "raw"),

		RedisAddr: getEnv("REDIS_ADDR", ""),
		RedisPass: getEnv("REDIS_PASSWORD", ""),
		RedisDB:   getEnvInt("REDIS_DB", 0),
		CacheTTL:  getEnvDuration("CACHE_TTL", 5*time.Minute),

		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", ""),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "ledger.events"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}
}

// Validate rejects settings the service cannot run with.
func (c AppConfig) Validate() error {
	if c.ProviderBaseURL == "" {
		return fmt.Errorf("config: PROVIDER_BASE_URL is required")
	}
	if c.IngestConcurrency < 1 {
		return fmt.Errorf("config: INGEST_CONCURRENCY must be positive, got %d", c.IngestConcurrency)
	}
	if c.ProviderMaxAttempts < 1 {
		return fmt.Errorf("config: PROVIDER_MAX_ATTEMPTS must be positive, got %d", c.ProviderMaxAttempts)
	}
	if c.JobWorkers < 1 {
		return fmt.Errorf("config: JOB_WORKERS must be positive, got %d", c.JobWorkers)
	}

	if c.RedisAddr != "" && len(c.RedisAddrs()) == 0 {
		return fmt.Errorf("config: REDIS_ADDR %q has no host:port entries", c.RedisAddr)
	}

	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL or DB_HOST is required for the postgres backend")
		}
	case BackendBigQuery:
		if c.BigQueryProjectID == "" {
			return fmt.Errorf("config: BQ_PROJECT_ID is required for the bigquery backend")
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	return nil
}

// RedisAddrs splits REDIS_ADDR into its comma-separated host:port entries.
func (c AppConfig) RedisAddrs() []string {
	return splitList(c.RedisAddr)
}

func databaseURLFromParts() string {
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		host,
		getEnv("DB_PORT", "5432"),
		getEnv("DB_NAME", "ledger"),
		getEnv("DB_SSLMODE", "disable"),
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key, fallback string) []string {
	return splitList(getEnv(key, fallback))
}

func splitList(val string) []string {
	if val == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(val, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
