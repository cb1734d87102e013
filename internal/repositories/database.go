package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/trustguard/riskcore/configs"
)

const (
	// poolIdleTimeout releases connections the consumers stop using after a
	// traffic burst; assessment writes arrive at event rate, not steadily.
	poolIdleTimeout = 5 * time.Minute

	poolHealthInterval = 30 * time.Second
	connectTimeout     = 5 * time.Second
)

// Database is the shared PostgreSQL pool behind the profile, assessment,
// alert and operator repositories.
type Database struct {
	Pool *pgxpool.Pool
}

// NewDatabase opens the pool and verifies connectivity before any consumer
// starts. MaxOpenConns should cover the consumer worker pools plus the API
// server; MaxIdleConns keeps a warm floor for the steady assessment trickle.
func NewDatabase(cfg configs.DatabaseConfig) (*Database, error) {
	config, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = int32(cfg.MaxOpenConns)
	config.MinConns = int32(cfg.MaxIdleConns)
	config.MaxConnLifetime = cfg.ConnMaxLifetime
	config.MaxConnIdleTime = poolIdleTimeout
	config.HealthCheckPeriod = poolHealthInterval

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Int("max_conns", cfg.MaxOpenConns).
		Msg("Postgres pool ready")

	return &Database{Pool: pool}, nil
}

// Close drains the pool. Callers close repositories after the consumers have
// stopped so no assessment write is cut off mid-flight.
func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Info().Msg("Postgres pool closed")
	}
}

// WithTransaction runs fn inside a transaction, rolling back on error or
// panic. Writes that must land together, such as an assessment row and its
// alert, go through here.
func (db *Database) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	return tx.Commit(ctx)
}

// Stats exposes pool counters to the health endpoint.
func (db *Database) Stats() *pgxpool.Stat {
	return db.Pool.Stat()
}

// HealthCheck pings the database under the caller's deadline.
func (db *Database) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
