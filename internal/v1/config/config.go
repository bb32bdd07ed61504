package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// AuthMode describes how the broker verifies host API keys.
type AuthMode string

const (
	// AuthModeDev accepts every key, including the empty key.
	AuthModeDev AuthMode = "dev"
	// AuthModeMasterKey accepts exactly one shared secret.
	AuthModeMasterKey AuthMode = "master_key"
	// AuthModeStore looks keys up in the api_keys table.
	AuthModeStore AuthMode = "store"
)

// Config holds validated environment configuration
type Config struct {
	Port        string
	MasterKey   string
	DatabaseURL string

	GoEnv          string
	LogLevel       string
	AllowedOrigins string

	// Rate Limits (formatted strings, e.g. "100-M")
	RateLimitWsIP string

	// Optional OTLP collector address (host:port). Tracing is disabled when empty.
	OTELCollectorAddr string
}

// Mode resolves the auth mode from the configured credentials.
// Resolution happens once at startup; the verifier never re-reads the env.
func (c *Config) Mode() AuthMode {
	switch {
	case c.MasterKey != "":
		return AuthModeMasterKey
	case c.DatabaseURL != "":
		return AuthModeStore
	default:
		return AuthModeDev
	}
}

// DevMode reports whether the broker runs without API-key enforcement.
func (c *Config) DevMode() bool {
	return c.Mode() == AuthModeDev
}

// ValidateEnv validates all environment variables and returns a Config object.
// Returns an error if any variable is present but invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// Optional: PORT (defaults to 4000)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "4000"
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Optional: AIR_JAM_MASTER_KEY (enables master-key mode)
	cfg.MasterKey = os.Getenv("AIR_JAM_MASTER_KEY")

	// Optional: DATABASE_URL (enables store mode)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	if cfg.MasterKey != "" && cfg.DatabaseURL != "" {
		errs = append(errs, "AIR_JAM_MASTER_KEY and DATABASE_URL are mutually exclusive; unset one")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Rate limits (M = Minute)
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")

	cfg.OTELCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
	if cfg.OTELCollectorAddr != "" && !isValidHostPort(cfg.OTELCollectorAddr) {
		errs = append(errs, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got '%s')", cfg.OTELCollectorAddr))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
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

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"auth_mode", string(cfg.Mode()),
		"master_key", redactSecret(cfg.MasterKey),
		"database_url_set", cfg.DatabaseURL != "",
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"rate_limit_ws_ip", cfg.RateLimitWsIP,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 4 characters
func redactSecret(secret string) string {
	if len(secret) <= 4 {
		return "***"
	}
	return secret[:4] + "***"
}
