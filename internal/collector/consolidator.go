// Package collector gathers funding rates from every configured venue and
// detects cross-venue arbitrage opportunities from the merged view.
package collector

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/venue"
)

// MergedQuotes maps symbol -> venue -> quote for one collection cycle.
type MergedQuotes map[string]map[string]domain.FundingQuote

// Consolidator fans a funding-rate fetch out to every registered venue and
// merges the results by symbol. A failing venue contributes nothing for the
// cycle; it never aborts collection.
type Consolidator struct {
	registry *venue.Registry
	cache    domain.QuoteCache // may be nil
	logger   *slog.Logger
}

// NewConsolidator creates a Consolidator. cache is optional; when present,
// fresh quotes are written through and a venue fetch failure falls back to
// the venue's last cached quotes.
func NewConsolidator(registry *venue.Registry, cache domain.QuoteCache, logger *slog.Logger) *Consolidator {
	return &Consolidator{
		registry: registry,
		cache:    cache,
		logger:   logger.With(slog.String("component", "consolidator")),
	}
}

// Collect fetches funding quotes from all venues concurrently and merges
// them. Symbols quoted on fewer than two venues are dropped: a single-venue
// rate can never form a pair.
func (c *Consolidator) Collect(ctx context.Context) (MergedQuotes, error) {
	adapters := c.registry.All()
	results := make([][]domain.FundingQuote, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	for i, adapter := range adapters {
		g.Go(func() error {
			quotes, err := adapter.FundingRates(gctx, nil)
			if err != nil {
				c.logger.WarnContext(gctx, "funding rate fetch failed",
					slog.String("venue", adapter.Name()),
					slog.String("error", err.Error()),
				)
				results[i] = c.cachedQuotes(gctx, adapter.Name())
				return nil
			}
			c.cacheQuotes(gctx, adapter.Name(), quotes)
			results[i] = quotes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(MergedQuotes)
	for _, quotes := range results {
		for _, q := range quotes {
			byVenue, ok := merged[q.Symbol]
			if !ok {
				byVenue = make(map[string]domain.FundingQuote, len(adapters))
				merged[q.Symbol] = byVenue
			}
			byVenue[q.Venue] = q
		}
	}
	for symbol, byVenue := range merged {
		if len(byVenue) < 2 {
			delete(merged, symbol)
		}
	}

	c.logger.InfoContext(ctx, "collection cycle complete",
		slog.Int("venues", len(adapters)),
		slog.Int("pairable_symbols", len(merged)),
	)
	return merged, nil
}

func (c *Consolidator) cachedQuotes(ctx context.Context, venueName string) []domain.FundingQuote {
	if c.cache == nil {
		return nil
	}
	quotes, err := c.cache.GetQuotes(ctx, venueName)
	if err != nil {
		return nil
	}
	if len(quotes) > 0 {
		c.logger.InfoContext(ctx, "using cached quotes after fetch failure",
			slog.String("venue", venueName),
			slog.Int("quotes", len(quotes)),
		)
	}
	return quotes
}

func (c *Consolidator) cacheQuotes(ctx context.Context, venueName string, quotes []domain.FundingQuote) {
	if c.cache == nil || len(quotes) == 0 {
		return
	}
	if err := c.cache.SetQuotes(ctx, venueName, quotes); err != nil {
		c.logger.DebugContext(ctx, "quote cache write failed",
			slog.String("venue", venueName),
			slog.String("error", err.Error()),
		)
	}
}

// observedAtOrNow is a small helper for callers that stamp detection time
// from the freshest quote involved.
func observedAtOrNow(quotes ...domain.FundingQuote) time.Time {
	var latest time.Time
	for _, q := range quotes {
		if q.ObservedAt.After(latest) {
			latest = q.ObservedAt
		}
	}
	if latest.IsZero() {
		return time.Now().UTC()
	}
	return latest
}
