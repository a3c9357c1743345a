package config

import (
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Token store drivers.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	// DriverMemory keeps tokens for the process lifetime only. Intended for
	// local experiments and tests.
	DriverMemory = "memory"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	defaultUsageQueueSize  = 1024
)

// Config holds application configuration.
type Config struct {
	Port         string
	IsProduction bool
	LogLevel     slog.Level
	AuthRealm    string

	TokenStoreDriver string
	TokenStorePath   string
	DatabaseURL      string
	EnableDBCheck    bool

	UsageQueueSize  int
	ShutdownTimeout time.Duration

	// RateLimit uses the limiter format, e.g. "300-M". Empty disables it.
	RateLimit          string
	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables and .env file if present.
func LoadConfig() (*Config, error) {
	// Attempt to load .env file, ignore error if it doesn't exist
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("PORT", "8080")
	v.SetDefault("IS_PRODUCTION", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AUTH_REALM", "Bearer Gate API")
	v.SetDefault("TOKEN_STORE_DRIVER", DriverFile)
	v.SetDefault("TOKEN_STORE_PATH", "data/tokens.json")
	v.SetDefault("PGSQL_URL", "")
	v.SetDefault("ENABLE_DB_CHECK", false)
	v.SetDefault("USAGE_QUEUE_SIZE", defaultUsageQueueSize)
	v.SetDefault("SHUTDOWN_TIMEOUT", defaultShutdownTimeout.String())
	v.SetDefault("RATE_LIMIT", "300-M")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")

	// Environment variables override .env values, which override the defaults.
	v.AutomaticEnv()
	// An explicitly empty RATE_LIMIT or CORS_ALLOWED_ORIGINS disables the feature.
	v.AllowEmptyEnv(true)

	cfg := &Config{
		Port:           v.GetString("PORT"),
		IsProduction:   v.GetBool("IS_PRODUCTION"),
		AuthRealm:      v.GetString("AUTH_REALM"),
		DatabaseURL:    v.GetString("PGSQL_URL"),
		EnableDBCheck:  v.GetBool("ENABLE_DB_CHECK"),
		TokenStorePath: v.GetString("TOKEN_STORE_PATH"),
		RateLimit:      strings.TrimSpace(v.GetString("RATE_LIMIT")),
	}

	if cfg.Port == "" {
		cfg.Port = "8080" // Default port
		log.Printf("Warning: PORT environment variable not set. Defaulting to %s\n", cfg.Port)
	}

	levelStr := v.GetString("LOG_LEVEL")
	if err := cfg.LogLevel.UnmarshalText([]byte(levelStr)); err != nil {
		cfg.LogLevel = slog.LevelInfo
		log.Printf("Warning: Invalid value for LOG_LEVEL ('%s'). Defaulting to info.\n", levelStr)
	}

	// Load shutdown timeout (e.g., "5s", "1m")
	shutdownStr := v.GetString("SHUTDOWN_TIMEOUT")
	shutdownTimeout, err := time.ParseDuration(shutdownStr)
	if err != nil || shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
		log.Printf("Warning: Invalid value for SHUTDOWN_TIMEOUT ('%s'). Defaulting to %s.\n", shutdownStr, shutdownTimeout.String())
	}
	cfg.ShutdownTimeout = shutdownTimeout

	cfg.UsageQueueSize = v.GetInt("USAGE_QUEUE_SIZE")
	if cfg.UsageQueueSize <= 0 {
		cfg.UsageQueueSize = defaultUsageQueueSize
		log.Printf("Warning: USAGE_QUEUE_SIZE must be positive. Defaulting to %d.\n", cfg.UsageQueueSize)
	}

	for _, origin := range strings.Split(v.GetString("CORS_ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
		}
	}

	cfg.TokenStoreDriver = v.GetString("TOKEN_STORE_DRIVER")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TokenStoreDriver == DriverMemory {
		log.Println("Warning: memory token store selected. Tokens are lost on exit.")
	}

	return cfg, nil
}

// Validate normalises the driver name and checks the settings it requires.
// Call it again after overriding fields.
func (c *Config) Validate() error {
	c.TokenStoreDriver = strings.ToLower(strings.TrimSpace(c.TokenStoreDriver))
	switch c.TokenStoreDriver {
	case DriverFile:
		if c.TokenStorePath == "" {
			return fmt.Errorf("TOKEN_STORE_PATH is required for the %s driver", DriverFile)
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("PGSQL_URL is required for the %s driver", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown TOKEN_STORE_DRIVER %q (want %s, %s or %s)",
			c.TokenStoreDriver, DriverFile, DriverPostgres, DriverMemory)
	}
	return nil
}
