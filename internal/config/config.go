// Package config loads startup settings from the environment (with an
// optional .env file for development). Everything downstream receives
// explicit configuration; nothing reads the environment after startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	ListenAddr string
	Dev        bool

	Storage     string
	DatabaseURL string
	AutoMigrate bool

	MatchmakingURL     string
	MatchmakingKey     string
	MatchmakingTimeout time.Duration
}

func Load() (*Config, error) {
	// A missing .env just means the environment is already populated.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:         getenv("LISTEN_ADDR", ":8080"),
		Dev:                getenv("APP_ENV", "production") == "development",
		Storage:            getenv("STORAGE", StoragePostgres),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		AutoMigrate:        getbool("AUTO_MIGRATE", false),
		MatchmakingURL:     os.Getenv("MATCHMAKING_URL"),
		MatchmakingKey:     os.Getenv("MATCHMAKING_API_KEY"),
		MatchmakingTimeout: getduration("MATCHMAKING_TIMEOUT", 10*time.Second),
	}

	switch cfg.Storage {
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required with STORAGE=postgres")
		}
	case StorageMemory:
	default:
		return nil, fmt.Errorf("unknown STORAGE %q", cfg.Storage)
	}
	if cfg.MatchmakingURL == "" {
		return nil, fmt.Errorf("MATCHMAKING_URL is required")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getbool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
