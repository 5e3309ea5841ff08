package infra

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"genqueue/internal/domain"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	LogLevel    string
	Port        string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SQLiteJournalPath string
	DLQArchivePath    string
	// DLQStore selects where dead letters live: "postgres" or "memory".
	DLQStore          string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	BackendURL     string
	BackendAPIKey  string
	BackendTimeout time.Duration

	MaxBatchSize        int
	MaxBatchCost        float64
	MaxBatchDuration    time.Duration
	SimilarityThreshold float64

	PerUserRequestsPerMinute    int
	PerProjectRequestsPerMinute int
	TokenBucketCapacity         int

	MaxConcurrentJobs int
	BudgetTotal       float64
	BudgetThreshold   float64

	MaxRetries        int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryMultiplier   float64
	RetryStrategy     domain.Strategy
	RetryTotalTimeout time.Duration
	EnableDLQ         bool

	CacheMemorySize        int
	CacheTTL               time.Duration
	NearDuplicateThreshold float64

	BreakerFailureThreshold float64
	BreakerMinRequests      int
	BreakerWindow           time.Duration
	BreakerCooldown         time.Duration

	FlushInterval      time.Duration
	IntakePollInterval time.Duration
	IntakeBatchLimit   int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// HTTPShutdownTimeout bounds how long the ops server drains on exit.
	HTTPShutdownTimeout time.Duration
}

const (
	DLQStorePostgres = "postgres"
	DLQStoreMemory   = "memory"
)

// LoadConfig loads configuration from environment variables, optionally
// seeded from .env files, and applies defaults where needed.
func LoadConfig() (*Config, error) {
	// Missing env files are fine.
	_ = godotenv.Load(".env", ".env.local")

	var r envReader
	cfg := &Config{
		AppEnv:      r.str("APP_ENV", "development"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		Port:        r.str("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       r.int("REDIS_DB", 0),

		SQLiteJournalPath: os.Getenv("SQLITE_JOURNAL_PATH"),
		DLQArchivePath:    os.Getenv("DLQ_ARCHIVE_PATH"),
		DLQStore:          r.str("DLQ_STORE", DLQStorePostgres),

		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    r.str("MINIO_BUCKET", "dead-letters"),
		MinioUseSSL:    r.bool("MINIO_USE_SSL", false),

		BackendURL:     os.Getenv("BACKEND_URL"),
		BackendAPIKey:  os.Getenv("BACKEND_API_KEY"),
		BackendTimeout: r.seconds("BACKEND_TIMEOUT_SECONDS", 120),

		MaxBatchSize:        r.int("MAX_BATCH_SIZE", 10),
		MaxBatchCost:        r.float("MAX_BATCH_COST", 100),
		MaxBatchDuration:    r.seconds("MAX_BATCH_DURATION_SECONDS", 600),
		SimilarityThreshold: r.float("SIMILARITY_THRESHOLD", 0.7),

		PerUserRequestsPerMinute:    r.int("PER_USER_REQUESTS_PER_MINUTE", 30),
		PerProjectRequestsPerMinute: r.int("PER_PROJECT_REQUESTS_PER_MINUTE", 120),
		TokenBucketCapacity:         r.int("TOKEN_BUCKET_CAPACITY", 20),

		MaxConcurrentJobs: r.int("MAX_CONCURRENT_JOBS", 4),
		BudgetTotal:       r.float("BUDGET_TOTAL", 0),
		BudgetThreshold:   r.float("BUDGET_THRESHOLD", 0.8),

		MaxRetries:        r.int("MAX_RETRIES", 3),
		RetryInitialDelay: r.millis("RETRY_INITIAL_DELAY_MS", 1000),
		RetryMaxDelay:     r.millis("RETRY_MAX_DELAY_MS", 60000),
		RetryMultiplier:   r.float("RETRY_MULTIPLIER", 2),
		RetryTotalTimeout: r.seconds("RETRY_TOTAL_TIMEOUT_SECONDS", 0),
		EnableDLQ:         r.bool("ENABLE_DLQ", true),

		CacheMemorySize:        r.int("CACHE_MEMORY_SIZE", 1000),
		CacheTTL:               r.seconds("CACHE_TTL_SECONDS", 0),
		NearDuplicateThreshold: r.float("NEAR_DUPLICATE_THRESHOLD", 0.85),

		BreakerFailureThreshold: r.float("BREAKER_FAILURE_THRESHOLD", 0.5),
		BreakerMinRequests:      r.int("BREAKER_MIN_REQUESTS", 5),
		BreakerWindow:           r.seconds("BREAKER_WINDOW_SECONDS", 60),
		BreakerCooldown:         r.seconds("BREAKER_COOLDOWN_SECONDS", 30),

		FlushInterval:      r.seconds("FLUSH_INTERVAL_SECONDS", 5),
		IntakePollInterval: r.seconds("INTAKE_POLL_INTERVAL_SECONDS", 2),
		IntakeBatchLimit:   r.int("INTAKE_BATCH_LIMIT", 50),

		HTTPReadTimeout:  r.seconds("HTTP_READ_TIMEOUT_SECONDS", 15),
		HTTPWriteTimeout: r.seconds("HTTP_WRITE_TIMEOUT_SECONDS", 30),
		HTTPIdleTimeout:  r.seconds("HTTP_IDLE_TIMEOUT_SECONDS", 60),

		HTTPShutdownTimeout: r.seconds("HTTP_SHUTDOWN_TIMEOUT_SECONDS", 30),
	}

	strategy, err := domain.ParseStrategy(r.str("RETRY_STRATEGY", string(domain.StrategyExponential)))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("RETRY_STRATEGY: %w", err))
	}
	cfg.RetryStrategy = strategy

	if cfg.DatabaseURL == "" {
		r.errs = append(r.errs, fmt.Errorf("DATABASE_URL is required"))
	}
	r.errs = append(r.errs, cfg.validate()...)
	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	positive := map[string]int{
		"MAX_BATCH_SIZE":                  c.MaxBatchSize,
		"PER_USER_REQUESTS_PER_MINUTE":    c.PerUserRequestsPerMinute,
		"PER_PROJECT_REQUESTS_PER_MINUTE": c.PerProjectRequestsPerMinute,
		"TOKEN_BUCKET_CAPACITY":           c.TokenBucketCapacity,
		"MAX_CONCURRENT_JOBS":             c.MaxConcurrentJobs,
		"CACHE_MEMORY_SIZE":               c.CacheMemorySize,
		"BREAKER_MIN_REQUESTS":            c.BreakerMinRequests,
		"INTAKE_BATCH_LIMIT":              c.IntakeBatchLimit,
	}
	for key, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, v))
		}
	}
	fractions := map[string]float64{
		"SIMILARITY_THRESHOLD":      c.SimilarityThreshold,
		"BUDGET_THRESHOLD":          c.BudgetThreshold,
		"NEAR_DUPLICATE_THRESHOLD":  c.NearDuplicateThreshold,
		"BREAKER_FAILURE_THRESHOLD": c.BreakerFailureThreshold,
	}
	for key, v := range fractions {
		if math.IsNaN(v) || v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0, 1], got %v", key, v))
		}
	}
	if c.MaxBatchCost <= 0 {
		errs = append(errs, fmt.Errorf("MAX_BATCH_COST must be positive, got %v", c.MaxBatchCost))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries))
	}
	if c.RetryMultiplier < 1 {
		errs = append(errs, fmt.Errorf("RETRY_MULTIPLIER must be >= 1, got %v", c.RetryMultiplier))
	}
	if c.DLQStore != DLQStorePostgres && c.DLQStore != DLQStoreMemory {
		errs = append(errs, fmt.Errorf("DLQ_STORE must be %q or %q, got %q", DLQStorePostgres, DLQStoreMemory, c.DLQStore))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("FLUSH_INTERVAL_SECONDS must be positive"))
	}
	if c.IntakePollInterval <= 0 {
		errs = append(errs, fmt.Errorf("INTAKE_POLL_INTERVAL_SECONDS must be positive"))
	}
	return errs
}

// RetryConfig assembles the per-job retry policy.
func (c *Config) RetryConfig() domain.RetryConfig {
	rc := domain.DefaultRetryConfig()
	rc.MaxRetries = c.MaxRetries
	rc.InitialDelay = c.RetryInitialDelay
	rc.MaxDelay = c.RetryMaxDelay
	rc.Multiplier = c.RetryMultiplier
	rc.Strategy = c.RetryStrategy
	rc.TotalTimeout = c.RetryTotalTimeout
	rc.EnableDLQ = c.EnableDLQ
	return rc
}

// envReader collects parse failures so LoadConfig reports all of them.
type envReader struct {
	errs []error
}

func (r *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *envReader) str(key, fallback string) string {
	if v, ok := r.lookup(key); ok {
		return v
	}
	return fallback
}

func (r *envReader) int(key string, fallback int) int {
	v, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return fallback
	}
	return i
}

func (r *envReader) float(key string, fallback float64) float64 {
	v, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return fallback
	}
	return f
}

func (r *envReader) bool(key string, fallback bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return fallback
	}
	return b
}

func (r *envReader) seconds(key string, fallback int) time.Duration {
	n := r.int(key, fallback)
	if n < 0 {
		r.errs = append(r.errs, fmt.Errorf("%s must not be negative", key))
		n = fallback
	}
	return time.Duration(n) * time.Second
}

func (r *envReader) millis(key string, fallback int) time.Duration {
	n := r.int(key, fallback)
	if n < 0 {
		r.errs = append(r.errs, fmt.Errorf("%s must not be negative", key))
		n = fallback
	}
	return time.Duration(n) * time.Millisecond
}
