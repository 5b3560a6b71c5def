// Package executor opens and closes paired funding-arbitrage positions. An
// attempt walks a fixed state machine; the two legs are placed concurrently
// under one shared timeout, and a single-leg failure triggers exactly one
// compensating close of the surviving leg.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundingbot/internal/config"
	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/notify"
	"github.com/alanyoungcy/fundingbot/internal/tracker"
	"github.com/alanyoungcy/fundingbot/internal/venue"
)

// PriceSource supplies a reference price for converting notional to base
// quantity. Both legs are sized from the same reference so the pair stays
// delta-neutral.
type PriceSource interface {
	MarkPrice(ctx context.Context, symbol string) (float64, error)
}

// Engine executes dual-leg position openings and closings.
type Engine struct {
	registry *venue.Registry
	prices   PriceSource
	tracking *tracker.Tracker
	dedup    *Dedup
	cfg      config.TradingConfig
	logger   *slog.Logger

	// Optional collaborators, nil when not wired.
	locks    domain.LockManager
	history  domain.ExecutionStore
	journal  domain.PositionJournal
	notifier *notify.Notifier
}

// NewEngine creates an Engine. prices supplies the sizing reference price;
// tracking receives entry metadata for confirmed openings.
func NewEngine(
	registry *venue.Registry,
	prices PriceSource,
	tracking *tracker.Tracker,
	cfg config.TradingConfig,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		registry: registry,
		prices:   prices,
		tracking: tracking,
		dedup:    NewDedup(2 * time.Minute),
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "executor")),
	}
}

// SetLockManager wires a distributed per-symbol lock around attempts.
func (e *Engine) SetLockManager(locks domain.LockManager) { e.locks = locks }

// SetHistory wires the execution audit store.
func (e *Engine) SetHistory(history domain.ExecutionStore) { e.history = history }

// SetJournal wires the position open/close journal.
func (e *Engine) SetJournal(journal domain.PositionJournal) { e.journal = journal }

// SetNotifier wires operator notifications.
func (e *Engine) SetNotifier(n *notify.Notifier) { e.notifier = n }

// CleanupDedup garbage-collects the dedup window. Called from the control
// loop between cycles.
func (e *Engine) CleanupDedup() { e.dedup.Cleanup() }

// Execute attempts to open the paired position for opp. The returned record
// carries a tagged outcome for every path; the error is non-nil only for
// unexpected failures (rejections are expected control flow).
func (e *Engine) Execute(ctx context.Context, opp domain.Opportunity) (domain.ExecutionRecord, error) {
	rec := domain.ExecutionRecord{
		ID:         uuid.NewString(),
		Symbol:     opp.Symbol,
		LongVenue:  opp.LongVenue,
		ShortVenue: opp.ShortVenue,
		Leverage:   e.cfg.Leverage,
		EntryAPR:   opp.APR,
		StartedAt:  time.Now().UTC(),
	}
	log := e.logger.With(
		slog.String("execution_id", rec.ID),
		slog.String("symbol", opp.Symbol),
		slog.String("long_venue", opp.LongVenue),
		slog.String("short_venue", opp.ShortVenue),
	)

	// Validating.
	longAdapter, shortAdapter, err := e.validateAdapters(opp)
	if err != nil {
		log.Warn("execution rejected", slog.String("reason", err.Error()))
		return e.finish(ctx, rec, domain.OutcomeRejectedConfig), err
	}

	if e.dedup.IsDuplicate(opp.Symbol) {
		log.Debug("execution suppressed by dedup window")
		return e.finish(ctx, rec, domain.OutcomeRejectedDuplicate), nil
	}

	if e.locks != nil {
		unlock, err := e.locks.Acquire(ctx, "exec:"+opp.Symbol, e.cfg.ExecTimeout()+10*time.Second)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				log.Debug("execution lock held elsewhere")
				return e.finish(ctx, rec, domain.OutcomeRejectedDuplicate), nil
			}
			return e.finish(ctx, rec, domain.OutcomeFailed), fmt.Errorf("executor: acquire lock: %w", err)
		}
		defer unlock()
	}

	// The dedup window is advisory; live venue state is the authority. An
	// unverifiable guard means no trade.
	exists, err := e.livePositionExists(ctx, opp.Symbol, longAdapter, shortAdapter)
	if err != nil {
		return e.finish(ctx, rec, domain.OutcomeFailed), fmt.Errorf("executor: duplicate guard: %w", err)
	}
	if exists {
		log.Info("live position already open, skipping")
		return e.finish(ctx, rec, domain.OutcomeRejectedDuplicate), nil
	}

	// Sizing.
	collateral := e.collateralFor(opp.APR)
	notional := collateral * float64(e.cfg.Leverage)
	price, err := e.prices.MarkPrice(ctx, opp.Symbol)
	if err != nil || price <= 0 {
		return e.finish(ctx, rec, domain.OutcomeFailed), fmt.Errorf("executor: reference price for %s: %w", opp.Symbol, err)
	}
	size := notional / price
	rec.Collateral = collateral
	rec.Size = size
	log.Info("position sized",
		slog.Float64("collateral_usdc", collateral),
		slog.Float64("notional_usdc", notional),
		slog.Float64("size", size),
	)

	if err := e.checkBalances(ctx, collateral, longAdapter, shortAdapter); err != nil {
		log.Warn("insufficient balance", slog.String("error", err.Error()))
		return e.finish(ctx, rec, domain.OutcomeRejectedFunds), nil
	}

	// Best effort: a venue that rejects the leverage update trades at its
	// current setting.
	e.setupLeverage(ctx, opp.Symbol, longAdapter, shortAdapter, log)

	log.Debug("placing legs",
		slog.String("state", string(domain.ExecStateLegsInFlight)),
		slog.Duration("timeout", e.cfg.ExecTimeout()),
	)
	legCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecTimeout())
	defer cancel()
	rec.Long, rec.Short = e.placeLegs(legCtx, opp.Symbol, size, longAdapter, shortAdapter)

	switch {
	case rec.Long.Success && rec.Short.Success:
		e.confirm(ctx, &rec, opp, collateral, size, log)
		return e.finish(ctx, rec, domain.OutcomeConfirmed), nil

	case rec.Long.Success || rec.Short.Success:
		outcome := e.rollback(ctx, &rec, longAdapter, shortAdapter, log)
		return e.finish(ctx, rec, outcome), nil

	default:
		log.Warn("both legs failed",
			slog.String("long_error", rec.Long.Error),
			slog.String("short_error", rec.Short.Error),
		)
		return e.finish(ctx, rec, domain.OutcomeFailed), nil
	}
}

// ClosePair closes both legs of a paired position concurrently under one
// shared timeout. There is no rollback branch on this path: a partial close
// is reported and retried on the next monitoring pass.
func (e *Engine) ClosePair(ctx context.Context, pos domain.PairedPosition, reason string) error {
	log := e.logger.With(
		slog.String("symbol", pos.Symbol),
		slog.String("reason", reason),
	)
	longAdapter, err := e.registry.Get(pos.LongVenue)
	if err != nil {
		return fmt.Errorf("executor: close %s: %w", pos.Symbol, err)
	}
	shortAdapter, err := e.registry.Get(pos.ShortVenue)
	if err != nil {
		return fmt.Errorf("executor: close %s: %w", pos.Symbol, err)
	}

	closeCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecTimeout())
	defer cancel()

	var longErr, shortErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		longErr = longAdapter.ClosePosition(closeCtx, pos.Symbol)
	}()
	go func() {
		defer wg.Done()
		shortErr = shortAdapter.ClosePosition(closeCtx, pos.Symbol)
	}()
	wg.Wait()

	if longErr != nil || shortErr != nil {
		log.Error("pair close incomplete",
			slog.Any("long_error", longErr),
			slog.Any("short_error", shortErr),
		)
		e.alert(ctx, notify.EventPositionClosed, "Pair close incomplete",
			fmt.Sprintf("%s: long=%v short=%v (reason: %s)", pos.Symbol, longErr, shortErr, reason))
		return fmt.Errorf("executor: close %s: long=%v short=%v", pos.Symbol, longErr, shortErr)
	}

	e.tracking.Remove(pos.Symbol)
	e.dedup.Forget(pos.Symbol)
	if e.journal != nil {
		if err := e.journal.RecordClose(ctx, pos.Symbol, pos.UnrealizedPnL, pos.FundingReceived, reason, time.Now().UTC()); err != nil {
			log.Warn("close journal write failed", slog.String("error", err.Error()))
		}
	}
	log.Info("pair closed",
		slog.Float64("pnl", pos.UnrealizedPnL),
		slog.Float64("funding_received", pos.FundingReceived),
	)
	e.notify(ctx, notify.EventPositionClosed, "Position closed",
		fmt.Sprintf("%s closed (%s): PnL %.2f USDC, funding %.2f USDC",
			pos.Symbol, reason, pos.UnrealizedPnL, pos.FundingReceived))
	return nil
}

// --------------------------------------------------------------------------
// Attempt phases
// --------------------------------------------------------------------------

func (e *Engine) validateAdapters(opp domain.Opportunity) (longAdapter, shortAdapter venue.Adapter, err error) {
	if opp.LongVenue == opp.ShortVenue {
		return nil, nil, fmt.Errorf("executor: long and short venue identical (%s)", opp.LongVenue)
	}
	longAdapter, err = e.registry.Get(opp.LongVenue)
	if err != nil {
		return nil, nil, fmt.Errorf("executor: %w", err)
	}
	shortAdapter, err = e.registry.Get(opp.ShortVenue)
	if err != nil {
		return nil, nil, fmt.Errorf("executor: %w", err)
	}
	if !longAdapter.Authenticated() {
		return nil, nil, fmt.Errorf("executor: %s: %w", opp.LongVenue, domain.ErrUnauthorized)
	}
	if !shortAdapter.Authenticated() {
		return nil, nil, fmt.Errorf("executor: %s: %w", opp.ShortVenue, domain.ErrUnauthorized)
	}
	return longAdapter, shortAdapter, nil
}

// livePositionExists checks both venues for an open position in symbol.
func (e *Engine) livePositionExists(ctx context.Context, symbol string, adapters ...venue.Adapter) (bool, error) {
	found := make([]bool, len(adapters))
	g, gctx := errgroup.WithContext(ctx)
	for i, adapter := range adapters {
		g.Go(func() error {
			positions, err := adapter.Positions(gctx)
			if err != nil {
				return fmt.Errorf("%s: %w", adapter.Name(), err)
			}
			for _, p := range positions {
				if p.Symbol == symbol {
					found[i] = true
					return nil
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	for _, f := range found {
		if f {
			return true, nil
		}
	}
	return false, nil
}

// collateralFor returns the collateral for one pair, tiered by APR and
// clamped to the configured bounds.
func (e *Engine) collateralFor(apr float64) float64 {
	var fraction float64
	switch {
	case apr >= 500:
		fraction = 0.25
	case apr >= 300:
		fraction = 0.20
	case apr >= 150:
		fraction = 0.15
	default:
		fraction = 0.08
	}
	collateral := e.cfg.TotalCapitalUSDC * fraction
	collateral = math.Max(collateral, e.cfg.MinCollateralUSDC)
	collateral = math.Min(collateral, e.cfg.MaxCollateralUSDC)
	return collateral
}

// checkBalances verifies both venues hold enough free USDC for the
// collateral.
func (e *Engine) checkBalances(ctx context.Context, collateral float64, adapters ...venue.Adapter) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, adapter := range adapters {
		g.Go(func() error {
			balances, err := adapter.Balances(gctx)
			if err != nil {
				return fmt.Errorf("%s: fetch balances: %w", adapter.Name(), err)
			}
			available := 0.0
			for _, b := range balances {
				if strings.EqualFold(b.Asset, "USDC") {
					available += b.Available
				}
			}
			if available < collateral {
				return fmt.Errorf("%s: available %.2f USDC below required %.2f", adapter.Name(), available, collateral)
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) setupLeverage(ctx context.Context, symbol string, longAdapter, shortAdapter venue.Adapter, log *slog.Logger) {
	for _, adapter := range []venue.Adapter{longAdapter, shortAdapter} {
		if err := adapter.SetLeverage(ctx, symbol, e.cfg.Leverage); err != nil {
			log.Warn("leverage setup failed, continuing",
				slog.String("venue", adapter.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// placeLegs submits both legs concurrently and waits for both results. A leg
// error or timeout becomes a failed leg report, never a panic or early exit.
func (e *Engine) placeLegs(ctx context.Context, symbol string, size float64, longAdapter, shortAdapter venue.Adapter) (longLeg, shortLeg domain.LegReport) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		longLeg = placeLeg(ctx, longAdapter, symbol, domain.OrderSideBuy, size)
	}()
	go func() {
		defer wg.Done()
		shortLeg = placeLeg(ctx, shortAdapter, symbol, domain.OrderSideSell, size)
	}()
	wg.Wait()
	return longLeg, shortLeg
}

func placeLeg(ctx context.Context, adapter venue.Adapter, symbol string, side domain.OrderSide, size float64) domain.LegReport {
	report := domain.LegReport{Venue: adapter.Name(), Side: side}
	result, err := adapter.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: symbol,
		Side:   side,
		Size:   size,
		Type:   domain.OrderTypeMarket,
	})
	if err != nil {
		report.Error = err.Error()
		return report
	}
	if !result.Success {
		report.Error = result.Message
		return report
	}
	report.Success = true
	report.OrderID = result.OrderID
	return report
}

func (e *Engine) confirm(ctx context.Context, rec *domain.ExecutionRecord, opp domain.Opportunity, collateral, size float64, log *slog.Logger) {
	now := time.Now().UTC()
	e.tracking.Add(tracker.Entry{
		Symbol:     opp.Symbol,
		LongVenue:  opp.LongVenue,
		ShortVenue: opp.ShortVenue,
		Size:       size,
		Collateral: collateral,
		Leverage:   e.cfg.Leverage,
		EntryAPR:   opp.APR,
		CreatedAt:  now,
	})
	if e.journal != nil {
		pos := domain.PairedPosition{
			Symbol:     opp.Symbol,
			LongVenue:  opp.LongVenue,
			ShortVenue: opp.ShortVenue,
			Size:       size,
			Collateral: collateral,
			Leverage:   e.cfg.Leverage,
			EntryAPR:   opp.APR,
			CreatedAt:  now,
		}
		if err := e.journal.RecordOpen(ctx, pos); err != nil {
			log.Warn("open journal write failed", slog.String("error", err.Error()))
		}
	}
	log.Info("pair opened",
		slog.String("long_order", rec.Long.OrderID),
		slog.String("short_order", rec.Short.OrderID),
		slog.Float64("entry_apr", opp.APR),
	)
	e.notify(ctx, notify.EventExecutionConfirmed, "Position opened",
		fmt.Sprintf("%s: long %s / short %s, %.0f USDC collateral x%d, entry APR %.1f%%",
			opp.Symbol, opp.LongVenue, opp.ShortVenue, collateral, e.cfg.Leverage, opp.APR))
}

// rollback closes the single surviving leg. Exactly one compensating close
// is attempted; its failure leaves the attempt unresolved for an operator.
func (e *Engine) rollback(ctx context.Context, rec *domain.ExecutionRecord, longAdapter, shortAdapter venue.Adapter, log *slog.Logger) domain.ExecOutcome {
	survivor := longAdapter
	failedLeg := rec.Short
	if rec.Short.Success {
		survivor = shortAdapter
		failedLeg = rec.Long
	}
	log.Warn("single leg failed, rolling back survivor",
		slog.String("state", string(domain.ExecStateRollingBack)),
		slog.String("survivor_venue", survivor.Name()),
		slog.String("failed_venue", failedLeg.Venue),
		slog.String("failed_error", failedLeg.Error),
	)

	// A fresh timeout: the shared leg deadline may already be spent, and an
	// orphaned leg is worse than a slow rollback.
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ExecTimeout())
	defer cancel()

	if err := survivor.ClosePosition(rollbackCtx, rec.Symbol); err != nil {
		log.Error("rollback close failed, manual intervention required",
			slog.String("venue", survivor.Name()),
			slog.String("error", err.Error()),
		)
		e.alert(ctx, notify.EventRollbackFailed, "MANUAL INTERVENTION REQUIRED",
			fmt.Sprintf("%s: rollback close on %s failed: %v. One leg may be open unhedged.",
				rec.Symbol, survivor.Name(), err))
		return domain.OutcomePartialUnresolved
	}

	log.Info("rollback complete", slog.String("venue", survivor.Name()))
	e.notify(ctx, notify.EventExecutionFailed, "Execution rolled back",
		fmt.Sprintf("%s: %s leg failed (%s), surviving leg closed", rec.Symbol, failedLeg.Venue, failedLeg.Error))
	return domain.OutcomeRolledBack
}

// finish stamps the record, persists it, and returns it.
func (e *Engine) finish(ctx context.Context, rec domain.ExecutionRecord, outcome domain.ExecOutcome) domain.ExecutionRecord {
	rec.Outcome = outcome
	rec.CompletedAt = time.Now().UTC()
	rec.ElapsedMs = rec.CompletedAt.Sub(rec.StartedAt).Milliseconds()
	if e.history != nil {
		if err := e.history.Create(ctx, rec); err != nil {
			e.logger.Warn("execution history write failed",
				slog.String("execution_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return rec
}

func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.Debug("notification failed", slog.String("error", err.Error()))
	}
}

// alert bypasses the event filter; used for conditions an operator must see.
func (e *Engine) alert(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.NotifyAll(ctx, title, fmt.Sprintf("[%s] %s", event, message)); err != nil {
		e.logger.Warn("alert delivery failed", slog.String("error", err.Error()))
	}
}
