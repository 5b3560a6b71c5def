package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Create inserts one execution attempt record.
func (s *ExecutionStore) Create(ctx context.Context, rec domain.ExecutionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO executions (
			id, symbol, long_venue, short_venue, size, collateral_usdc, leverage, entry_apr,
			outcome, long_venue_ok, long_order_id, long_error,
			short_venue_ok, short_order_id, short_error,
			elapsed_ms, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		rec.ID, rec.Symbol, rec.LongVenue, rec.ShortVenue, rec.Size, rec.Collateral, rec.Leverage, rec.EntryAPR,
		string(rec.Outcome), rec.Long.Success, rec.Long.OrderID, rec.Long.Error,
		rec.Short.Success, rec.Short.OrderID, rec.Short.Error,
		rec.ElapsedMs, rec.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution: %w", err)
	}
	return nil
}

// ListRecent returns the most recent execution attempts, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, symbol, long_venue, short_venue, size, collateral_usdc, leverage, entry_apr,
			outcome, long_venue_ok, long_order_id, long_error,
			short_venue_ok, short_order_id, short_error,
			elapsed_ms, started_at, completed_at
		FROM executions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var list []domain.ExecutionRecord
	for rows.Next() {
		var rec domain.ExecutionRecord
		var outcome string
		if err := rows.Scan(
			&rec.ID, &rec.Symbol, &rec.LongVenue, &rec.ShortVenue, &rec.Size, &rec.Collateral, &rec.Leverage, &rec.EntryAPR,
			&outcome, &rec.Long.Success, &rec.Long.OrderID, &rec.Long.Error,
			&rec.Short.Success, &rec.Short.OrderID, &rec.Short.Error,
			&rec.ElapsedMs, &rec.StartedAt, &rec.CompletedAt,
		); err != nil {
			return nil, err
		}
		rec.Outcome = domain.ExecOutcome(outcome)
		rec.Long.Venue = rec.LongVenue
		rec.Short.Venue = rec.ShortVenue
		list = append(list, rec)
	}
	return list, rows.Err()
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
