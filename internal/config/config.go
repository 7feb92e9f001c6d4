package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration
type Config struct {
	// NBA Stats API
	APIBaseURL        string        `envconfig:"NBA_API_BASE_URL" default:"https://stats.nba.com/stats"`
	APITimeout        time.Duration `envconfig:"NBA_API_TIMEOUT" default:"30s"`
	APIRateLimitDelay time.Duration `envconfig:"NBA_API_RATE_LIMIT_DELAY" default:"1s"`
	APIRetryAttempts  int           `envconfig:"NBA_API_RETRY_ATTEMPTS" default:"3"`
	APIRetryBaseDelay time.Duration `envconfig:"NBA_API_RETRY_BASE_DELAY" default:"1s"`

	// Prediction model artifact
	ModelPath string `envconfig:"MODEL_PATH" default:""`

	// Database
	DatabaseHost     string `envconfig:"DATABASE_HOST" default:"localhost"`
	DatabasePort     int    `envconfig:"DATABASE_PORT" default:"5432"`
	DatabaseName     string `envconfig:"DATABASE_NAME" default:"nba_predictions"`
	DatabaseUser     string `envconfig:"DATABASE_USER" default:"nba_user"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD" default:""`
	DatabaseSSLMode  string `envconfig:"DATABASE_SSL_MODE" default:"disable"`

	// Redis
	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Caching
	CacheEnabled      bool          `envconfig:"CACHE_ENABLED" default:"true"`
	CacheTTLStandings time.Duration `envconfig:"CACHE_TTL_STANDINGS" default:"6h"`
	CacheTTLHistory   time.Duration `envconfig:"CACHE_TTL_HISTORY" default:"168h"` // 7 days

	// Classification
	GoodThreshold    float64 `envconfig:"PREDICTION_GOOD_THRESHOLD" default:"60"`
	ConfidenceHigh   float64 `envconfig:"PREDICTION_CONFIDENCE_HIGH" default:"0.8"`
	ConfidenceMedium float64 `envconfig:"PREDICTION_CONFIDENCE_MEDIUM" default:"0.6"`

	// Feature extraction
	RivalryWindowYears int     `envconfig:"RIVALRY_WINDOW_YEARS" default:"5"`
	RivalryCloseMargin int     `envconfig:"RIVALRY_CLOSE_GAME_MARGIN" default:"10"`
	RivalrySaturation  float64 `envconfig:"RIVALRY_SATURATION" default:"3.0"`
	CompetitiveMargin  float64 `envconfig:"COMPETITIVE_MARGIN" default:"5"`

	// Application
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Worker
	PipelineCron string `envconfig:"PIPELINE_CRON" default:"0 8 * * *"`
	RunOnStart   bool   `envconfig:"RUN_ON_START" default:"false"`

	// Monitoring
	EnableMetrics bool `envconfig:"ENABLE_METRICS" default:"true"`
	MetricsPort   int  `envconfig:"METRICS_PORT" default:"9090"`
}

// Load loads configuration from environment variables
// It first attempts to load from .env file if in development mode
func Load() (*Config, error) {
	// Try to load .env file (ignore error if doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("NBA_API_BASE_URL is required")
	}

	if c.APIRateLimitDelay <= 0 {
		return fmt.Errorf("NBA_API_RATE_LIMIT_DELAY must be positive")
	}

	if c.APIRetryAttempts < 0 {
		return fmt.Errorf("NBA_API_RETRY_ATTEMPTS must be non-negative")
	}

	if c.GoodThreshold < 0 || c.GoodThreshold > 100 {
		return fmt.Errorf("PREDICTION_GOOD_THRESHOLD must be between 0 and 100")
	}

	if c.ConfidenceHigh <= 0 || c.ConfidenceHigh > 1 {
		return fmt.Errorf("PREDICTION_CONFIDENCE_HIGH must be between 0 and 1")
	}

	if c.ConfidenceMedium <= 0 || c.ConfidenceMedium > c.ConfidenceHigh {
		return fmt.Errorf("PREDICTION_CONFIDENCE_MEDIUM must be between 0 and PREDICTION_CONFIDENCE_HIGH")
	}

	if c.RivalryWindowYears <= 0 {
		return fmt.Errorf("RIVALRY_WINDOW_YEARS must be positive")
	}

	if c.RivalrySaturation <= 0 {
		return fmt.Errorf("RIVALRY_SATURATION must be positive")
	}

	if c.CompetitiveMargin <= 0 {
		return fmt.Errorf("COMPETITIVE_MARGIN must be positive")
	}

	return nil
}

// RequireModel ensures the prediction model artifact is configured.
// Called before a run that includes the prediction step.
func (c *Config) RequireModel() error {
	if c.ModelPath == "" {
		return fmt.Errorf("MODEL_PATH is required for the prediction step")
	}
	return nil
}

// RequireDatabase ensures database credentials are configured.
// Called before a run that includes the storage step.
func (c *Config) RequireDatabase() error {
	if c.DatabasePassword == "" {
		return fmt.Errorf("DATABASE_PASSWORD is required for the storage step")
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DatabaseHost,
		c.DatabasePort,
		c.DatabaseUser,
		c.DatabasePassword,
		c.DatabaseName,
		c.DatabaseSSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// MustLoad loads configuration or panics on error
// Use this in main() where we want to fail fast
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
