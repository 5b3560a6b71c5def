package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// PositionJournal implements domain.PositionJournal using PostgreSQL. Events
// are append-only; the journal is never read back to reconstruct state.
type PositionJournal struct {
	pool *pgxpool.Pool
}

// NewPositionJournal creates a new PositionJournal.
func NewPositionJournal(pool *pgxpool.Pool) *PositionJournal {
	return &PositionJournal{pool: pool}
}

// RecordOpen appends an open event for the pair.
func (j *PositionJournal) RecordOpen(ctx context.Context, pos domain.PairedPosition) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO position_events (symbol, event, long_venue, short_venue, size, collateral_usdc, leverage, entry_apr, occurred_at)
		VALUES ($1, 'open', $2, $3, $4, $5, $6, $7, $8)`,
		pos.Symbol, pos.LongVenue, pos.ShortVenue, pos.Size, pos.Collateral, pos.Leverage, pos.EntryAPR, pos.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: journal open %s: %w", pos.Symbol, err)
	}
	return nil
}

// RecordClose appends a close event with the realized figures.
func (j *PositionJournal) RecordClose(ctx context.Context, symbol string, pnl, funding float64, reason string, closedAt time.Time) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO position_events (symbol, event, pnl_usdc, funding_usdc, reason, occurred_at)
		VALUES ($1, 'close', $2, $3, $4, $5)`,
		symbol, pnl, funding, reason, closedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: journal close %s: %w", symbol, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PositionJournal = (*PositionJournal)(nil)
