// Package config handles loading and validating configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Inference modes.
const (
	InferenceLoopback = "loopback"
	InferenceHTTP     = "http"
)

// Config holds all configuration for the prompt router.
type Config struct {
	// Server
	Port           string
	LogLevel       string
	LogPretty      bool
	AllowedOrigins []string

	// Management API
	AdminAPIKey string // Required for /api/v1/admin endpoints; empty = no auth

	// Database
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string

	// Database SSL
	DBSSLMode string

	// Redis
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Budget
	MonthlyBudgetCents        float64
	BudgetAlertThresholdCents float64
	CheckpointInterval        time.Duration

	// Routing
	RoutingStrategy  string
	ComplexityScale  float64
	CatalogFile      string // optional YAML model catalog
	RegistryRefresh  time.Duration
	MaxQueryLength   int
	RateLimitPerMin  int64
	InferenceMode    string
	InferenceTimeout time.Duration
	ReapInterval     time.Duration

	// Provider API Keys (never stored)
	OpenAIKey    string
	AnthropicKey string
	GeminiKey    string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PROMPTROUTER_PORT", "8080"),
		LogLevel:       getEnv("PROMPTROUTER_LOG_LEVEL", "info"),
		LogPretty:      getEnv("PROMPTROUTER_LOG_FORMAT", "json") == "console",
		AllowedOrigins: splitList(getEnv("PROMPTROUTER_ALLOWED_ORIGINS", "*")),

		AdminAPIKey: os.Getenv("PROMPTROUTER_ADMIN_API_KEY"),

		DBHost:     getEnv("POSTGRES_HOST", "localhost"),
		DBName:     getEnv("POSTGRES_DB", "opencloudops"),
		DBUser:     getEnv("POSTGRES_USER", "oco_user"),
		DBPassword: getEnv("POSTGRES_PASSWORD", ""),
		DBSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		RoutingStrategy: getEnv("PROMPTROUTER_ROUTING_STRATEGY", "cost_optimized"),
		CatalogFile:     os.Getenv("PROMPTROUTER_CATALOG_FILE"),
		InferenceMode:   strings.ToLower(getEnv("PROMPTROUTER_INFERENCE_MODE", InferenceLoopback)),

		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicKey: os.Getenv("ANTHROPIC_API_KEY"),
		GeminiKey:    os.Getenv("GOOGLE_API_KEY"),
	}

	var err error
	if cfg.DBPort, err = getInt("POSTGRES_PORT", 5432); err != nil {
		return nil, err
	}
	if cfg.RedisPort, err = getInt("REDIS_PORT", 6379); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.MaxQueryLength, err = getInt("PROMPTROUTER_MAX_QUERY_LENGTH", 32768); err != nil {
		return nil, err
	}
	rateLimit, err := getInt("PROMPTROUTER_RATE_LIMIT", 120)
	if err != nil {
		return nil, err
	}
	cfg.RateLimitPerMin = int64(rateLimit)

	if cfg.MonthlyBudgetCents, err = getFloat("PROMPTROUTER_MONTHLY_BUDGET_CENTS", 500000); err != nil {
		return nil, err
	}
	if cfg.BudgetAlertThresholdCents, err = getFloat("PROMPTROUTER_BUDGET_ALERT_THRESHOLD_CENTS", 50000); err != nil {
		return nil, err
	}
	if cfg.ComplexityScale, err = getFloat("PROMPTROUTER_COMPLEXITY_SCALE", 100); err != nil {
		return nil, err
	}

	if cfg.InferenceTimeout, err = getDuration("PROMPTROUTER_INFERENCE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReapInterval, err = getDuration("PROMPTROUTER_REAP_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.RegistryRefresh, err = getDuration("PROMPTROUTER_REGISTRY_REFRESH", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.CheckpointInterval, err = getDuration("PROMPTROUTER_CHECKPOINT_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that parse correctly but make no sense.
func (c *Config) Validate() error {
	var errs []error
	if c.MonthlyBudgetCents <= 0 {
		errs = append(errs, fmt.Errorf("PROMPTROUTER_MONTHLY_BUDGET_CENTS must be positive, got %v", c.MonthlyBudgetCents))
	}
	if c.BudgetAlertThresholdCents < 0 {
		errs = append(errs, fmt.Errorf("PROMPTROUTER_BUDGET_ALERT_THRESHOLD_CENTS must not be negative, got %v", c.BudgetAlertThresholdCents))
	}
	if c.ComplexityScale <= 0 {
		errs = append(errs, fmt.Errorf("PROMPTROUTER_COMPLEXITY_SCALE must be positive, got %v", c.ComplexityScale))
	}
	if c.InferenceMode != InferenceLoopback && c.InferenceMode != InferenceHTTP {
		errs = append(errs, fmt.Errorf("PROMPTROUTER_INFERENCE_MODE must be %q or %q, got %q", InferenceLoopback, InferenceHTTP, c.InferenceMode))
	}
	if c.InferenceTimeout <= 0 {
		errs = append(errs, errors.New("PROMPTROUTER_INFERENCE_TIMEOUT must be positive"))
	}
	if c.ReapInterval <= 0 {
		errs = append(errs, errors.New("PROMPTROUTER_REAP_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// RedactedDSN returns the DSN with the password masked for safe logging.
func (c *Config) RedactedDSN() string {
	return fmt.Sprintf("postgres://%s:***@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// RedisAddr returns the Redis address in host:port format.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
