package domain

import (
	"context"
	"io"
	"time"
)

// ExecutionStore persists execution attempt records for audit and research.
// The store is history only; it is never consulted to decide whether a
// position exists (venue state is the authority for that).
type ExecutionStore interface {
	Create(ctx context.Context, rec ExecutionRecord) error
	ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error)
}

// PositionJournal records position open/close events. Like ExecutionStore it
// is an audit trail, not a source of truth.
type PositionJournal interface {
	RecordOpen(ctx context.Context, pos PairedPosition) error
	RecordClose(ctx context.Context, symbol string, pnl, funding float64, reason string, closedAt time.Time) error
}

// QuoteCache holds the latest funding quotes per venue with a TTL, so a
// venue's last good quotes survive a transient fetch failure and auxiliary
// feeds (websocket mark prices) have somewhere to land.
type QuoteCache interface {
	SetQuotes(ctx context.Context, venue string, quotes []FundingQuote) error
	GetQuotes(ctx context.Context, venue string) ([]FundingQuote, error)
	SetMarkPrice(ctx context.Context, venue, symbol string, price float64, ts time.Time) error
	GetMarkPrice(ctx context.Context, venue, symbol string) (float64, time.Time, error)
}

// LockManager provides the per-symbol mutual-exclusion boundary around
// execution attempts. Acquire returns ErrLockHeld when another party holds
// the lock; on success it returns an unlock function that is safe to call
// multiple times.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
