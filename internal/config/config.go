package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Env  string
	Port string

	RedisAddr string
	RedisPass string
	RedisDB   int

	DatabaseDSN string

	JWTSecret string

	// Crash engine timing. Tunable so tests can run full rounds quickly.
	CrashBettingWindow time.Duration
	CrashTickInterval  time.Duration
	CrashCooldown      time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:       getEnv("APP_ENV", "development"),
		Port:      getEnv("PORT", "8080"),
		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass: getEnv("REDIS_PASSWORD", ""),

		DatabaseDSN: getEnv("DATABASE_DSN",
			"host=localhost user=postgres password=postgres dbname=ravello port=5432 sslmode=disable"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		CrashBettingWindow: getDuration("CRASH_BETTING_WINDOW", 10*time.Second),
		CrashTickInterval:  getDuration("CRASH_TICK_INTERVAL", 100*time.Millisecond),
		CrashCooldown:      getDuration("CRASH_COOLDOWN", 5*time.Second),
	}

	db, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %v", err)
	}
	cfg.RedisDB = db

	if cfg.JWTSecret == "" && cfg.Env == "production" {
		return nil, fmt.Errorf("JWT_SECRET is required in production")
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret-do-not-use-in-production"
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
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
