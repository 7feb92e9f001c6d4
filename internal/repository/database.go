package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Database holds the connection pool and provides access to repositories.
type Database struct {
	Pool *pgxpool.Pool

	Predictions *PredictionRepository
}

// NewDatabase creates a connection pool from a DSN and initializes the
// repositories.
func NewDatabase(ctx context.Context, dsn string) (*Database, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("database", poolConfig.ConnConfig.Database).
		Str("host", poolConfig.ConnConfig.Host).
		Msg("Successfully connected to database")

	db := &Database{Pool: pool}
	db.Predictions = &PredictionRepository{db: db}

	return db, nil
}

// Close closes the database connection pool.
func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Info().Msg("Database connection pool closed")
	}
}

// Health checks if the database is reachable.
func (db *Database) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// PoolStats returns database pool statistics.
func (db *Database) PoolStats() map[string]interface{} {
	stat := db.Pool.Stat()
	return map[string]interface{}{
		"total_conns":    stat.TotalConns(),
		"acquired_conns": stat.AcquiredConns(),
		"idle_conns":     stat.IdleConns(),
		"max_conns":      stat.MaxConns(),
	}
}

// requiredColumns are the prediction table columns every deployment
// must carry. VerifySchema fails fast when the database has not been
// migrated, instead of failing on the first save.
var requiredColumns = []string{
	"game_id",
	"game_date",
	"rating",
	"classification",
	"probability_good",
	"probability_bad",
	"confidence",
	"confidence_tier",
	"features",
	"game",
	"model_version",
	"feature_version",
	"predicted_at",
}

// VerifySchema checks that the predictions table exists with the
// columns the repository writes.
func (db *Database) VerifySchema(ctx context.Context) error {
	rows, err := db.Pool.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_name = 'predictions'
	`)
	if err != nil {
		return fmt.Errorf("failed to query table schema: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to scan column name: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating schema rows: %w", err)
	}

	if len(present) == 0 {
		return fmt.Errorf("predictions table not found; run the migrations first")
	}
	for _, col := range requiredColumns {
		if !present[col] {
			return fmt.Errorf("predictions table is missing required column %q", col)
		}
	}

	log.Debug().Msg("Database schema verification passed")
	return nil
}
