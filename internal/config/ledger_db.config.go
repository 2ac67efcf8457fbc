package config

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	dbConnectAttempts = 5
	dbConnectTimeout  = 5 * time.Second
)

// ConnectDB opens the ledger's pgx pool, retrying with backoff so the service
// survives the database coming up after it in a compose stack.
func ConnectDB() (*pgxpool.Pool, error) {
	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("DB_USER", "ledger"),
		getEnv("DB_PASSWORD", ""),
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_NAME", "ledger"),
		getEnv("DB_SSLMODE", "disable"),
	)

	poolCfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(getEnvInt("DB_MAX_CONNS", 50))
	poolCfg.MinConns = int32(getEnvInt("DB_MIN_CONNS", 10))
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	delay := 2 * time.Second
	for i := 1; i <= dbConnectAttempts; i++ {
		log.Printf("[DB] Attempt %d/%d: connecting to ledger database...", i, dbConnectAttempts)

		ctx, cancel := context.WithTimeout(context.Background(), dbConnectTimeout)
		dbpool, connErr := pgxpool.NewWithConfig(ctx, poolCfg)
		if connErr == nil {
			if pingErr := dbpool.Ping(ctx); pingErr == nil {
				cancel()
				log.Println("[DB] ✅ Connected successfully!")
				return dbpool, nil
			} else {
				dbpool.Close()
				connErr = fmt.Errorf("ping failed: %w", pingErr)
			}
		}
		cancel()
		err = connErr

		log.Printf("[DB] ❌ Connection failed: %v", err)
		if i < dbConnectAttempts {
			log.Printf("[DB] Retrying in %s...", delay)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return nil, fmt.Errorf("failed to connect to DB after %d attempts: %w", dbConnectAttempts, err)
}
