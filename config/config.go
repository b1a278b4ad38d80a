package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/Callejox/watch-my-bag-scraper/utils"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Challenge-resolution proxy (FlareSolverr-compatible endpoint).
	SolverEnabled    bool
	SolverURL        string
	SolverTimeoutSec int
	SolverMinGapMs   int

	// Per-attempt delay window applied after every navigation attempt.
	AttemptDelayMinMs int
	AttemptDelayMaxMs int
	// Inter-page delay window inside a collection run.
	PageDelayMinMs int
	PageDelayMaxMs int
	// Inter-query delay window between searches against the same source.
	QueryDelayMinMs int
	QueryDelayMaxMs int

	PageTimeoutSec  int
	MaxPages        int // 0 = all detected pages
	MinItemsPerPage int // a fetched page with fewer records counts as a failure

	// Coverage gate thresholds.
	MaxCoverageChangePct float64
	MinPageCoveragePct   float64
	MinItemsAbsolute     int

	RetentionDays int

	SourcesPath string
	ChromeBin   string
	LogLevel    string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "inventory_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		SolverEnabled:    getEnvBool("SOLVER_ENABLED", true),
		SolverURL:        getEnv("SOLVER_URL", "http://localhost:8191/v1"),
		SolverTimeoutSec: getEnvInt("SOLVER_TIMEOUT_SEC", 60),
		SolverMinGapMs:   getEnvInt("SOLVER_MIN_GAP_MS", 2000),

		AttemptDelayMinMs: getEnvInt("ATTEMPT_DELAY_MIN_MS", 2000),
		AttemptDelayMaxMs: getEnvInt("ATTEMPT_DELAY_MAX_MS", 5000),
		PageDelayMinMs:    getEnvInt("PAGE_DELAY_MIN_MS", 5000),
		PageDelayMaxMs:    getEnvInt("PAGE_DELAY_MAX_MS", 8000),
		QueryDelayMinMs:   getEnvInt("QUERY_DELAY_MIN_MS", 5000),
		QueryDelayMaxMs:   getEnvInt("QUERY_DELAY_MAX_MS", 10000),

		PageTimeoutSec:  getEnvInt("PAGE_TIMEOUT_SEC", 30),
		MaxPages:        getEnvInt("MAX_PAGES", 0),
		MinItemsPerPage: getEnvInt("MIN_ITEMS_PER_PAGE", 1),

		MaxCoverageChangePct: getEnvFloat("MAX_COVERAGE_CHANGE_PCT", 10),
		MinPageCoveragePct:   getEnvFloat("MIN_PAGE_COVERAGE_PCT", 10),
		MinItemsAbsolute:     getEnvInt("MIN_ITEMS_ABSOLUTE", 100),

		RetentionDays: getEnvInt("RETENTION_DAYS", 90),

		SourcesPath: getEnv("SOURCES_PATH", "sources.toml"),
		ChromeBin:   getEnv("CHROME_BIN", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// AttemptDelay is the randomized pause applied after each navigation attempt.
func (c *Config) AttemptDelay() utils.DelayPolicy {
	return delayPolicy(c.AttemptDelayMinMs, c.AttemptDelayMaxMs)
}

// PageDelay is the randomized pause between result pages.
func (c *Config) PageDelay() utils.DelayPolicy {
	return delayPolicy(c.PageDelayMinMs, c.PageDelayMaxMs)
}

// QueryDelay is the randomized pause between queries against one source.
func (c *Config) QueryDelay() utils.DelayPolicy {
	return delayPolicy(c.QueryDelayMinMs, c.QueryDelayMaxMs)
}

// PageTimeout bounds a single navigation attempt.
func (c *Config) PageTimeout() time.Duration {
	return time.Duration(c.PageTimeoutSec) * time.Second
}

func delayPolicy(minMs, maxMs int) utils.DelayPolicy {
	return utils.DelayPolicy{
		Min: time.Duration(minMs) * time.Millisecond,
		Max: time.Duration(maxMs) * time.Millisecond,
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
