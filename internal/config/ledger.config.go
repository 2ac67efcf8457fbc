package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	HTTPAddr     string
	RedisAddr    string
	RedisPass    string
	KafkaBrokers []string
	KafkaTopic   string

	// Policy knobs. The reversal window and sweep cadence are deployment
	// configuration, not business constants.
	ReversalWindow     time.Duration
	IdempotencyTTL     time.Duration
	LimitSweepInterval time.Duration
	TransferMaxRetries int
}

func Load() AppConfig {
	return AppConfig{
		HTTPAddr:     getEnv("HTTP_ADDR", ":8030"),
		RedisAddr:    getEnv("REDIS_ADDR", "redis:6379"),
		RedisPass:    getEnv("REDIS_PASS", ""),
		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", []string{"kafka:9092"}),
		KafkaTopic:   getEnv("KAFKA_LEDGER_TOPIC", "ledger.events"),

		ReversalWindow:     getEnvDuration("REVERSAL_WINDOW", 24*time.Hour),
		IdempotencyTTL:     getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		LimitSweepInterval: getEnvDuration("LIMIT_SWEEP_INTERVAL", 5*time.Minute),
		TransferMaxRetries: getEnvInt("TRANSFER_MAX_RETRIES", 3),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
