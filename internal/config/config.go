package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the service consumes. Values come from the
// environment; a .env file is honored in development.
type Config struct {
	AppEnv string

	HTTPAddr string
	GRPCAddr string

	// Postgres DSN (pgx stdlib driver)
	PGDSN string

	// Token signing
	AuthSecret string
	AuthAlg    string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Account lifecycle
	GracePeriodDays int
	CleanupInterval time.Duration

	// Password hashing
	BcryptCost int

	// Rate limiting
	RateBurst  int
	RatePerSec int

	LogLevel string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:          getEnv("APP_ENV", "dev"),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:        getEnv("GRPC_ADDR", ":9090"),
		PGDSN:           strings.TrimSpace(os.Getenv("HOMESTATS_PG_DSN")),
		AuthSecret:      strings.TrimSpace(os.Getenv("HOMESTATS_AUTH_SECRET")),
		AuthAlg:         getEnv("HOMESTATS_AUTH_ALG", "HS256"),
		Issuer:          getEnv("HOMESTATS_AUTH_ISSUER", "homestats"),
		AccessTTL:       time.Duration(getInt("ACCESS_TOKEN_TTL_MINUTES", 30)) * time.Minute,
		RefreshTTL:      time.Duration(getInt("REFRESH_TOKEN_TTL_DAYS", 7)) * 24 * time.Hour,
		GracePeriodDays: getInt("GRACE_PERIOD_DAYS", 30),
		CleanupInterval: getDuration("CLEANUP_INTERVAL", 24*time.Hour),
		BcryptCost:      getInt("BCRYPT_COST", 0), // 0 means library default
		RateBurst:       getInt("RATE_LIMIT_BURST", 20),
		RatePerSec:      getInt("RATE_LIMIT_PER_SECOND", 10),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}

	if cfg.AuthSecret == "" {
		return nil, fmt.Errorf("missing HOMESTATS_AUTH_SECRET")
	}
	if cfg.AuthAlg != "HS256" {
		return nil, fmt.Errorf("unsupported signing algorithm %q (only HS256)", cfg.AuthAlg)
	}
	if cfg.PGDSN == "" {
		return nil, fmt.Errorf("missing HOMESTATS_PG_DSN")
	}
	if cfg.GracePeriodDays <= 0 {
		return nil, fmt.Errorf("GRACE_PERIOD_DAYS must be positive, got %d", cfg.GracePeriodDays)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("token TTLs must be positive")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
