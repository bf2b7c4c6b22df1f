package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// Database configuration
	DatabasePath string

	// Strava API configuration
	StravaClientID     string
	StravaClientSecret string
	StravaVerifyToken  string

	// Cron endpoint shared secret
	CronSecret string

	// Key used to encrypt member tokens at rest (32 bytes)
	TokenCryptoKey []byte

	// Season bucketing timezone
	SeasonTimezone *time.Location

	// Worker configuration
	QueueBatchSize       int
	WorkerInterval       time.Duration // 0 = external cron trigger only
	StaleProcessingAfter time.Duration

	// Metrics configuration
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int

	// Logging configuration
	LogLevel string
}

// Load reads configuration from the environment (and a local .env file if
// present). It fails fast if required variables are missing or malformed.
func Load() (*Config, error) {
	// Best effort: absence of a .env file is the normal production case
	_ = godotenv.Load()

	cfg := &Config{
		Host:                 getEnv("HOST", "localhost"),
		Port:                 getEnvInt("PORT", 4201),
		DatabasePath:         getEnv("DATABASE_PATH", "./data.db"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		QueueBatchSize:       getEnvInt("QUEUE_BATCH_SIZE", 10),
		WorkerInterval:       getEnvDuration("WORKER_INTERVAL", 0),
		StaleProcessingAfter: getEnvDuration("STALE_PROCESSING_AFTER", 15*time.Minute),
		MetricsEnabled:       getEnvBool("METRICS_ENABLED", false),
		MetricsHost:          getEnv("METRICS_HOST", "localhost"),
		MetricsPort:          getEnvInt("METRICS_PORT", 4202),
	}

	var missingVars []string

	cfg.StravaClientID = os.Getenv("STRAVA_CLIENT_ID")
	if cfg.StravaClientID == "" {
		missingVars = append(missingVars, "STRAVA_CLIENT_ID")
	}

	cfg.StravaClientSecret = os.Getenv("STRAVA_CLIENT_SECRET")
	if cfg.StravaClientSecret == "" {
		missingVars = append(missingVars, "STRAVA_CLIENT_SECRET")
	}

	cfg.StravaVerifyToken = os.Getenv("STRAVA_VERIFY_TOKEN")
	if cfg.StravaVerifyToken == "" {
		missingVars = append(missingVars, "STRAVA_VERIFY_TOKEN")
	}

	cfg.CronSecret = os.Getenv("CRON_SECRET")
	if cfg.CronSecret == "" {
		missingVars = append(missingVars, "CRON_SECRET")
	}

	keyHex := os.Getenv("TOKEN_CRYPTO_KEY")
	if keyHex == "" {
		missingVars = append(missingVars, "TOKEN_CRYPTO_KEY")
	}

	if len(missingVars) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("TOKEN_CRYPTO_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOKEN_CRYPTO_KEY must be 32 bytes, got %d", len(key))
	}
	cfg.TokenCryptoKey = key

	tzName := getEnv("SEASON_TIMEZONE", "Europe/London")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid SEASON_TIMEZONE %q: %w", tzName, err)
	}
	cfg.SeasonTimezone = loc

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvDuration gets a duration environment variable or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
