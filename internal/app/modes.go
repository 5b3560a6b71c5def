package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundingbot/internal/archive"
	"github.com/alanyoungcy/fundingbot/internal/collector"
	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/notify"
)

const (
	// errorPause is how long the loop backs off after a failed cycle
	// before trying again.
	errorPause = time.Minute

	// propagationPause gives venue position state time to catch up with
	// order fills before the next execution's duplicate guard runs.
	propagationPause = 3 * time.Second
)

// TradeMode runs the full pipeline: manage open positions, detect and score
// opportunities, and open new paired positions. The mark price stream runs
// alongside the loop when Redis is wired.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Duration("cycle_interval", a.cfg.CycleInterval()),
		slog.Int("max_open_positions", a.cfg.Trading.MaxOpenPositions),
	)

	g, ctx := errgroup.WithContext(ctx)
	if deps.MarkStream != nil {
		g.Go(func() error {
			return deps.MarkStream.Run(ctx)
		})
	}
	g.Go(func() error {
		return a.cycleLoop(ctx, deps, a.tradeCycle)
	})
	return g.Wait()
}

// MonitorMode manages existing positions without opening new ones.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.cycleLoop(ctx, deps, a.monitorCycle)
}

// DetectMode watches funding spreads and reports opportunities without
// touching account state. No credentials are required.
func (a *App) DetectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting detect mode")
	return a.cycleLoop(ctx, deps, a.detectCycle)
}

// cycleLoop drives one cycle function on the configured interval. A cycle
// error is reported and the loop backs off briefly rather than exiting; only
// context cancellation stops the loop.
func (a *App) cycleLoop(ctx context.Context, deps *Dependencies, cycle func(context.Context, *Dependencies) error) error {
	interval := a.cfg.CycleInterval()
	for {
		if err := cycle(ctx, deps); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.ErrorContext(ctx, "cycle failed",
				slog.String("error", err.Error()),
			)
			a.notify(ctx, deps, notify.EventCycleError, "Cycle error", err.Error())
			if !a.sleep(ctx, errorPause) {
				return ctx.Err()
			}
			continue
		}
		deps.Engine.CleanupDedup()
		if !a.sleep(ctx, interval) {
			return ctx.Err()
		}
	}
}

// tradeCycle is one pass of the full pipeline.
func (a *App) tradeCycle(ctx context.Context, deps *Dependencies) error {
	started := time.Now().UTC()

	// Manage what is already open before committing new capital.
	pairs, err := deps.Monitor.Run(ctx)
	if err != nil {
		return fmt.Errorf("monitor pass: %w", err)
	}

	merged, err := deps.Consolidator.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collect quotes: %w", err)
	}
	detected := deps.Detector.Detect(merged)
	candidates := deps.Analyzer.Filter(detected, started)

	records := a.executeCandidates(ctx, deps, candidates, len(pairs))

	summary := deps.Monitor.Summary(pairs)
	a.logger.InfoContext(ctx, "cycle complete",
		slog.Int("detected", len(detected)),
		slog.Int("candidates", len(candidates)),
		slog.Int("executions", len(records)),
		slog.Int("open_positions", summary.OpenPositions),
		slog.Float64("utilization_pct", summary.CapitalUtilization),
		slog.Float64("unrealized_pnl", summary.UnrealizedPnL),
		slog.Duration("elapsed", time.Since(started)),
	)

	a.maybeDailySummary(ctx, deps, summary)
	a.archiveSnapshot(ctx, deps, archive.Snapshot{
		Timestamp:       started,
		PairableSymbols: symbols(merged),
		Detected:        detected,
		Candidates:      candidates,
		Executions:      records,
		Portfolio:       &summary,
	})
	return nil
}

// executeCandidates opens paired positions for the top candidates, bounded by
// the per-cycle execution cap and the open-position cap. Pairs closed earlier
// in this same cycle still count against the cap until the next pass; venue
// state is too fresh to trust here.
func (a *App) executeCandidates(ctx context.Context, deps *Dependencies, candidates []domain.Opportunity, openPairs int) []domain.ExecutionRecord {
	capacity := a.cfg.Trading.MaxOpenPositions - openPairs
	if capacity <= 0 && len(candidates) > 0 {
		a.logger.InfoContext(ctx, "at position capacity, skipping execution",
			slog.Int("open", openPairs),
			slog.Int("candidates", len(candidates)),
		)
		return nil
	}

	var records []domain.ExecutionRecord
	executed := 0
	for _, opp := range candidates {
		if ctx.Err() != nil {
			break
		}
		if executed >= a.cfg.Trading.MaxExecutionsPerCycle || executed >= capacity {
			break
		}
		rec, err := deps.Engine.Execute(ctx, opp)
		records = append(records, rec)
		if err != nil {
			a.logger.ErrorContext(ctx, "execution failed",
				slog.String("symbol", opp.Symbol),
				slog.String("outcome", string(rec.Outcome)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !rec.Outcome.Succeeded() {
			continue
		}
		executed++
		if !a.sleep(ctx, propagationPause) {
			break
		}
	}
	return records
}

// monitorCycle manages open positions and reports the portfolio state.
func (a *App) monitorCycle(ctx context.Context, deps *Dependencies) error {
	pairs, err := deps.Monitor.Run(ctx)
	if err != nil {
		return fmt.Errorf("monitor pass: %w", err)
	}
	summary := deps.Monitor.Summary(pairs)
	a.logger.InfoContext(ctx, "portfolio state",
		slog.Int("open_positions", summary.OpenPositions),
		slog.Float64("utilization_pct", summary.CapitalUtilization),
		slog.Float64("unrealized_pnl", summary.UnrealizedPnL),
		slog.Float64("funding_received", summary.FundingReceived),
		slog.Float64("average_apr", summary.AverageAPR),
	)
	a.maybeDailySummary(ctx, deps, summary)
	a.archiveSnapshot(ctx, deps, archive.Snapshot{Portfolio: &summary})
	return nil
}

// detectCycle collects, detects, and scores without executing anything.
func (a *App) detectCycle(ctx context.Context, deps *Dependencies) error {
	started := time.Now().UTC()
	merged, err := deps.Consolidator.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collect quotes: %w", err)
	}
	detected := deps.Detector.Detect(merged)
	candidates := deps.Analyzer.Filter(detected, started)

	for _, opp := range candidates {
		a.logger.InfoContext(ctx, "opportunity",
			slog.String("symbol", opp.Symbol),
			slog.String("long_venue", opp.LongVenue),
			slog.String("short_venue", opp.ShortVenue),
			slog.Float64("apr", opp.APR),
			slog.Float64("confidence", opp.Confidence),
			slog.Float64("priority", opp.Priority),
			slog.Float64("est_profit_1k", opp.EstProfit1k),
		)
	}
	if len(candidates) == 0 {
		a.logger.InfoContext(ctx, "no opportunities above entry threshold",
			slog.Int("detected", len(detected)),
		)
	}

	a.archiveSnapshot(ctx, deps, archive.Snapshot{
		Timestamp:       started,
		PairableSymbols: symbols(merged),
		Detected:        detected,
		Candidates:      candidates,
	})
	return nil
}

// maybeDailySummary sends one portfolio summary notification per UTC day.
func (a *App) maybeDailySummary(ctx context.Context, deps *Dependencies, summary domain.PortfolioSummary) {
	today := time.Now().UTC().Format("2006-01-02")
	if a.lastSummaryDay == today {
		return
	}
	a.lastSummaryDay = today

	msg := fmt.Sprintf(
		"Open positions: %d\nCapital utilization: %.1f%%\nDaily PnL: %.2f USDC\nUnrealized PnL: %.2f USDC\nFunding received: %.2f USDC\nAverage APR: %.1f%%",
		summary.OpenPositions,
		summary.CapitalUtilization,
		summary.DailyPnL,
		summary.UnrealizedPnL,
		summary.FundingReceived,
		summary.AverageAPR,
	)
	a.notify(ctx, deps, notify.EventDailySummary, "Daily summary "+today, msg)
}

// archiveSnapshot uploads the cycle snapshot when archiving is wired.
// Failures are logged only; archiving never disturbs trading.
func (a *App) archiveSnapshot(ctx context.Context, deps *Dependencies, snap archive.Snapshot) {
	if deps.Archiver == nil {
		return
	}
	if err := deps.Archiver.Store(ctx, snap); err != nil {
		a.logger.WarnContext(ctx, "snapshot archive failed",
			slog.String("error", err.Error()),
		)
	}
}

func (a *App) notify(ctx context.Context, deps *Dependencies, event, title, message string) {
	if deps.Notifier == nil {
		return
	}
	if err := deps.Notifier.Notify(ctx, event, title, message); err != nil {
		a.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// sleep blocks for d or until ctx is cancelled, reporting false on cancel.
func (a *App) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func symbols(merged collector.MergedQuotes) []string {
	out := make([]string, 0, len(merged))
	for symbol := range merged {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}
