// Package config loads server and CLI settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// ServerConfig holds the game server settings.
type ServerConfig struct {
	Addr                string
	DatabaseURL         string
	RedisURL            string
	CacheTTL            time.Duration
	AdminToken          string
	AdminPasswordHash   string
	RoundTick           time.Duration
	DefaultRoundMinutes decimal.Decimal
	AuctionCatalog      string
	LoginRatePerMinute  int
	LogLevel            slog.Level
	CORSOrigin          string
}

// CLIConfig holds the gamectl connection settings.
type CLIConfig struct {
	APIBaseURL string
	AdminToken string
}

// LoadDotEnv loads variables from path (".env" when empty) without
// overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadServerFromEnv reads ServerConfig from the environment. ADMIN_TOKEN is
// required.
func LoadServerFromEnv() (ServerConfig, error) {
	addr := envDefault("PORT", "8080")
	if !strings.HasPrefix(addr, ":") {
		addr = ":" + addr
	}

	cfg := ServerConfig{
		Addr:                addr,
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:            strings.TrimSpace(os.Getenv("REDIS_URL")),
		CacheTTL:            envDurationDefault("CACHE_TTL", 30*time.Second),
		AdminToken:          strings.TrimSpace(os.Getenv("ADMIN_TOKEN")),
		AdminPasswordHash:   strings.TrimSpace(os.Getenv("ADMIN_PASSWORD_HASH")),
		RoundTick:           envDurationDefault("ROUND_TICK", time.Second),
		DefaultRoundMinutes: envDecimalDefault("DEFAULT_ROUND_MINUTES", decimal.NewFromInt(6)),
		AuctionCatalog:      strings.TrimSpace(os.Getenv("AUCTION_CATALOG")),
		LoginRatePerMinute:  envIntDefault("LOGIN_RATE_PER_MINUTE", 10),
		LogLevel:            envLevelDefault("LOG_LEVEL", slog.LevelInfo),
		CORSOrigin:          envDefault("CORS_ORIGIN", "*"),
	}
	if cfg.AdminToken == "" {
		return cfg, fmt.Errorf("ADMIN_TOKEN is required")
	}
	if !cfg.DefaultRoundMinutes.IsPositive() || cfg.DefaultRoundMinutes.GreaterThan(decimal.NewFromInt(24*60)) {
		return cfg, fmt.Errorf("DEFAULT_ROUND_MINUTES must be between 0 and 1440")
	}
	return cfg, nil
}

// LoadCLIFromEnv reads CLIConfig from the environment.
func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("FINSIM_API_URL", "http://localhost:8080"), "/"),
		AdminToken: strings.TrimSpace(os.Getenv("FINSIM_ADMIN_TOKEN")),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDecimalDefault(key string, fallback decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fallback
	}
	return d
}

func envLevelDefault(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return lvl
}
