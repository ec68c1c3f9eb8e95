package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration for the balancer.
type Config struct {
	// Required variables
	Port   string
	Region string

	// Discovery and routing
	DiscoveryMethod   string
	SelectionStrategy string

	// Auth
	APIKey          string
	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  string

	// Optional variables with defaults
	GoEnv    string
	LogLevel string
	LogFile  string

	// Rate limiting
	RateLimitEnabled bool
	RedisAddr        string
	RedisPassword    string
	RateLimitAPI     string
	RateLimitWS      string
}

// ValidateEnv validates all required environment variables and returns a
// Config object. Returns an error if any required variable is missing or
// invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Required: REGION. FLY_REGION (Fly.io's own injected variable), when
	// set, supersedes it so a Fly Machine reports the region it runs in.
	cfg.Region = os.Getenv("FLY_REGION")
	if cfg.Region == "" {
		cfg.Region = os.Getenv("REGION")
	}
	if cfg.Region == "" {
		errs = append(errs, "REGION (or FLY_REGION) is required")
	}

	cfg.DiscoveryMethod = getEnvOrDefault("DISCOVERY_METHOD", "manual")
	cfg.SelectionStrategy = getEnvOrDefault("SELECTION_STRATEGY", "min_rooms")
	if cfg.SelectionStrategy != "min_rooms" && cfg.SelectionStrategy != "hash_ring" {
		errs = append(errs, fmt.Sprintf("SELECTION_STRATEGY must be 'min_rooms' or 'hash_ring' (got '%s')", cfg.SelectionStrategy))
	}

	// Optional: API_KEY guards the authenticated endpoints. With no key
	// set, every bearer token is rejected unless SKIP_AUTH=true (local
	// development), which accepts any non-empty token.
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.APIKey = os.Getenv("API_KEY")

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LogFile = os.Getenv("LOG_FILE")

	// Conditional: REDIS_ADDR backs the rate limiter's shared store across
	// balancer replicas; absent it, the limiter falls back to in-memory.
	cfg.RateLimitEnabled = os.Getenv("RATE_LIMIT_ENABLED") != "false"
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisAddr != "" && !isValidHostPort(cfg.RedisAddr) {
		errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	cfg.RateLimitAPI = getEnvOrDefault("RATE_LIMIT_API", "300-M")
	cfg.RateLimitWS = getEnvOrDefault("RATE_LIMIT_WS", "20-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated")
	slog.Info("configuration",
		"port", cfg.Port,
		"region", cfg.Region,
		"discovery_method", cfg.DiscoveryMethod,
		"selection_strategy", cfg.SelectionStrategy,
		"skip_auth", cfg.SkipAuth,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"rate_limit_enabled", cfg.RateLimitEnabled,
		"redis_addr", cfg.RedisAddr,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
