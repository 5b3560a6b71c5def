package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// QuoteCache implements domain.QuoteCache. Each venue's funding quotes are
// stored as one JSON blob at "quotes:{venue}" with a TTL, so a venue's last
// good quotes survive a transient fetch failure but never go stale silently.
// Mark prices live in a hash at "mark:{venue}:{symbol}".
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client. ttl bounds
// how long cached quotes may substitute for a live fetch.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quotesKey(venue string) string {
	return "quotes:" + venue
}

func markKey(venue, symbol string) string {
	return "mark:" + venue + ":" + symbol
}

// SetQuotes replaces the venue's cached funding quotes.
func (qc *QuoteCache) SetQuotes(ctx context.Context, venue string, quotes []domain.FundingQuote) error {
	payload, err := json.Marshal(quotes)
	if err != nil {
		return fmt.Errorf("redis: marshal quotes %s: %w", venue, err)
	}
	if err := qc.rdb.Set(ctx, quotesKey(venue), payload, qc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set quotes %s: %w", venue, err)
	}
	return nil
}

// GetQuotes returns the venue's cached funding quotes. It returns
// domain.ErrNotFound when no unexpired entry exists.
func (qc *QuoteCache) GetQuotes(ctx context.Context, venue string) ([]domain.FundingQuote, error) {
	payload, err := qc.rdb.Get(ctx, quotesKey(venue)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get quotes %s: %w", venue, err)
	}
	var quotes []domain.FundingQuote
	if err := json.Unmarshal(payload, &quotes); err != nil {
		return nil, fmt.Errorf("redis: unmarshal quotes %s: %w", venue, err)
	}
	return quotes, nil
}

// SetMarkPrice stores the venue's latest mark price for a symbol.
func (qc *QuoteCache) SetMarkPrice(ctx context.Context, venue, symbol string, price float64, ts time.Time) error {
	key := markKey(venue, symbol)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, qc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set mark price %s/%s: %w", venue, symbol, err)
	}
	return nil
}

// GetMarkPrice returns the venue's latest mark price for a symbol. It
// returns domain.ErrNotFound when no unexpired entry exists.
func (qc *QuoteCache) GetMarkPrice(ctx context.Context, venue, symbol string) (float64, time.Time, error) {
	vals, err := qc.rdb.HGetAll(ctx, markKey(venue, symbol)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get mark price %s/%s: %w", venue, symbol, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse mark price %s/%s: %w", venue, symbol, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse mark ts %s/%s: %w", venue, symbol, err)
	}
	return price, time.Unix(0, tsNano).UTC(), nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
