// Package config loads service settings from the environment, optionally
// seeded from a .env file in the working directory.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	LogLevel string

	DatabaseURL string // PostgreSQL; takes precedence over SQLitePath
	SQLitePath  string
	RedisURL    string

	PriceAPIURL       string
	PriceAPIKey       string
	PriceCacheTTL     time.Duration
	PriceAPIRPS       float64
	PriceWarmSchedule string // cron schedule; empty disables the warmer

	MaxUploadBytes int64
	CORSOrigins    []string
}

// Load reads .env (if present) and then the process environment. Invalid
// values fall back to their defaults with a warning.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not read .env file", "err", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() *Config {
	return &Config{
		Port:              getEnv("PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		SQLitePath:        getEnv("SQLITE_PATH", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		PriceAPIURL:       getEnv("PRICE_API_URL", "https://pro-api.coinmarketcap.com"),
		PriceAPIKey:       getEnv("PRICE_API_KEY", ""),
		PriceCacheTTL:     getEnvAsDuration("PRICE_CACHE_TTL", time.Minute),
		PriceAPIRPS:       getEnvAsFloat("PRICE_API_RPS", 1),
		PriceWarmSchedule: getEnv("PRICE_WARM_SCHEDULE", ""),
		MaxUploadBytes:    getEnvAsInt64("MAX_UPLOAD_BYTES", 10<<20),
		CORSOrigins:       splitList(getEnv("CORS_ORIGINS", "*")),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", raw, "default", fallback.String())
		return fallback
	}
	return d
}

func getEnvAsFloat(key string, fallback float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		slog.Warn("invalid number, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return f
}

func getEnvAsInt64(key string, fallback int64) int64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return n
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
