// Package postgres keeps monthly usage counters in PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feichai0017/file-organizer/internal/models"
)

// Connect opens a pgx pool for dsn.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the usage table if needed. Only day rows are stored;
// monthly aggregates are summed on read.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS usage_days (
	owner_id TEXT NOT NULL,
	year INT NOT NULL,
	month INT NOT NULL,
	day INT NOT NULL,
	files_processed INT NOT NULL DEFAULT 0,
	text_extracted INT NOT NULL DEFAULT 0,
	files_renamed INT NOT NULL DEFAULT 0,
	api_calls_made INT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (owner_id, year, month, day)
);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to ensure usage schema: %w", err)
	}
	return nil
}

// UsageRepo implements store.UsageStore.
type UsageRepo struct {
	pool *pgxpool.Pool
}

// NewUsageRepo wraps pool.
func NewUsageRepo(pool *pgxpool.Pool) *UsageRepo {
	return &UsageRepo{pool: pool}
}

// IncrementUsage upserts the day row; the row lock makes concurrent
// increments for the same owner and day serialize.
func (r *UsageRepo) IncrementUsage(ctx context.Context, ownerID string, at time.Time, d models.UsageDelta) error {
	if d.IsZero() {
		return nil
	}
	at = at.UTC()
	const q = `
		INSERT INTO usage_days (owner_id, year, month, day, files_processed, text_extracted, files_renamed, api_calls_made)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (owner_id, year, month, day) DO UPDATE SET
			files_processed = usage_days.files_processed + EXCLUDED.files_processed,
			text_extracted = usage_days.text_extracted + EXCLUDED.text_extracted,
			files_renamed = usage_days.files_renamed + EXCLUDED.files_renamed,
			api_calls_made = usage_days.api_calls_made + EXCLUDED.api_calls_made,
			updated_at = now()
	`
	_, err := r.pool.Exec(ctx, q, ownerID, at.Year(), int(at.Month()), at.Day(),
		d.FilesProcessed, d.TextExtracted, d.FilesRenamed, d.APICallsMade)
	if err != nil {
		return fmt.Errorf("failed to increment usage for %s: %w", ownerID, err)
	}
	return nil
}

// GetUsage returns the month's counter built from its day rows.
func (r *UsageRepo) GetUsage(ctx context.Context, ownerID string, year, month int) (*models.UsageCounter, error) {
	const q = `
		SELECT day, files_processed, text_extracted, files_renamed, api_calls_made
		FROM usage_days
		WHERE owner_id = $1 AND year = $2 AND month = $3
	`
	rows, err := r.pool.Query(ctx, q, ownerID, year, month)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage for %s: %w", ownerID, err)
	}
	defer rows.Close()

	u := &models.UsageCounter{OwnerID: ownerID, Year: year, Month: month, Days: map[int]models.DailyUsage{}}
	for rows.Next() {
		var day int
		var d models.DailyUsage
		if err := rows.Scan(&day, &d.FilesProcessed, &d.TextExtracted, &d.FilesRenamed, &d.APICallsMade); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		u.Days[day] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read usage rows: %w", err)
	}
	u.Recompute()
	return u, nil
}

// ReserveUsage checks the month total and records n files in one
// transaction. An advisory lock on the owner-month serializes concurrent
// reservations.
func (r *UsageRepo) ReserveUsage(ctx context.Context, ownerID string, at time.Time, n, limit int) (int, bool, error) {
	at = at.UTC()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, false, fmt.Errorf("failed to start usage reservation: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	lockKey := ownerID + ":" + models.MonthKey(at.Year(), int(at.Month()))
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return 0, false, fmt.Errorf("failed to lock usage for %s: %w", ownerID, err)
	}

	var total int
	const sumQ = `
		SELECT COALESCE(SUM(files_processed), 0)
		FROM usage_days
		WHERE owner_id = $1 AND year = $2 AND month = $3
	`
	if err := tx.QueryRow(ctx, sumQ, ownerID, at.Year(), int(at.Month())).Scan(&total); err != nil {
		return 0, false, fmt.Errorf("failed to sum usage for %s: %w", ownerID, err)
	}
	if limit >= 0 && total+n > limit {
		return total, false, nil
	}

	const upsertQ = `
		INSERT INTO usage_days (owner_id, year, month, day, files_processed)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id, year, month, day) DO UPDATE SET
			files_processed = usage_days.files_processed + EXCLUDED.files_processed,
			updated_at = now()
	`
	if _, err := tx.Exec(ctx, upsertQ, ownerID, at.Year(), int(at.Month()), at.Day(), n); err != nil {
		return 0, false, fmt.Errorf("failed to record usage for %s: %w", ownerID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("failed to commit usage for %s: %w", ownerID, err)
	}
	return total + n, true, nil
}
