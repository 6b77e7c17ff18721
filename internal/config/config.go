package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const devJWTSecret = "dev-secret-change-in-production"

type Config struct {
	Port           string
	Env            string
	DatabaseDriver string
	DatabaseDSN    string
	JWTSecret      string
	JWTExpiry      time.Duration

	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	SyncRateLimitPerMinute int
	SyncMaxPushItems       int
	SyncJobWindowDays      int

	// TrustedProxies lists proxy addresses or CIDRs whose X-Forwarded-For is believed.
	TrustedProxies []string
}

func Load() Config {
	cfg := Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		DatabaseDriver: getEnv("DATABASE_DRIVER", "mysql"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "root:password@tcp(127.0.0.1:3306)/inspectsync?parseTime=true"),
		JWTSecret:      getEnv("JWT_SECRET", devJWTSecret),
		JWTExpiry:      getDuration("JWT_EXPIRY", 24*time.Hour),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getInt("LOG_MAX_AGE_DAYS", 28),

		SyncRateLimitPerMinute: getInt("SYNC_RATE_LIMIT_PER_MINUTE", 30),
		SyncMaxPushItems:       getInt("SYNC_MAX_PUSH_ITEMS", 1000),
		SyncJobWindowDays:      getInt("SYNC_JOB_WINDOW_DAYS", 14),

		TrustedProxies: getList("TRUSTED_PROXIES"),
	}

	if cfg.Env == "production" && cfg.JWTSecret == devJWTSecret {
		slog.Error("JWT_SECRET must be set in production environment")
		os.Exit(1)
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("ignoring invalid integer setting", "key", key, "value", v)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("ignoring invalid duration setting", "key", key, "value", v)
		return fallback
	}
	return d
}

func getList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
