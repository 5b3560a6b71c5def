// Package monitor reconstructs open paired positions from live venue state,
// estimates their current APR, and decides when they should close. Venue
// state is the authority: the tracking store only contributes entry metadata
// and is pruned against what the venues actually report.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundingbot/internal/config"
	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/notify"
	"github.com/alanyoungcy/fundingbot/internal/tracker"
	"github.com/alanyoungcy/fundingbot/internal/venue"
)

// Cold-start fallbacks for positions found on the venues but absent from the
// tracking store (process restart).
const (
	fallbackAge      = time.Hour
	fallbackEntryAPR = 150.0 // percent
)

// Closer closes one paired position; implemented by the execution engine.
type Closer interface {
	ClosePair(ctx context.Context, pos domain.PairedPosition, reason string) error
}

// Monitor runs the position lifecycle checks.
type Monitor struct {
	registry *venue.Registry
	tracking *tracker.Tracker
	closer   Closer
	cfg      config.MonitorConfig
	capital  float64
	leverage int
	logger   *slog.Logger
	notifier *notify.Notifier // optional
}

// New creates a Monitor. closer receives the pairs whose exit rules fire.
func New(
	registry *venue.Registry,
	tracking *tracker.Tracker,
	closer Closer,
	cfg config.MonitorConfig,
	trading config.TradingConfig,
	logger *slog.Logger,
) *Monitor {
	return &Monitor{
		registry: registry,
		tracking: tracking,
		closer:   closer,
		cfg:      cfg,
		capital:  trading.TotalCapitalUSDC,
		leverage: trading.Leverage,
		logger:   logger.With(slog.String("component", "monitor")),
	}
}

// SetNotifier wires operator notifications.
func (m *Monitor) SetNotifier(n *notify.Notifier) { m.notifier = n }

// Run performs one monitoring pass: reconstruct pairs, evaluate exit rules,
// close what should close, and prune stale tracking entries. Close failures
// are reported and retried on the next pass.
func (m *Monitor) Run(ctx context.Context) ([]domain.PairedPosition, error) {
	pairs, err := m.ActivePositions(ctx)
	if err != nil {
		return nil, err
	}

	open := make(map[string]bool, len(pairs))
	for _, pair := range pairs {
		open[pair.Symbol] = true
		reason, shouldClose := m.ShouldClose(pair)
		if !shouldClose {
			continue
		}
		m.logger.Info("exit rule fired",
			slog.String("symbol", pair.Symbol),
			slog.String("reason", reason),
			slog.Float64("current_apr", pair.CurrentAPR),
			slog.Float64("pnl", pair.UnrealizedPnL),
		)
		if err := m.closer.ClosePair(ctx, pair, reason); err != nil {
			m.logger.Error("close failed, will retry next pass",
				slog.String("symbol", pair.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		delete(open, pair.Symbol)
	}

	for _, symbol := range m.tracking.Prune(open) {
		m.logger.Info("pruned tracking entry with no live pair",
			slog.String("symbol", symbol),
		)
	}
	return pairs, nil
}

// ActivePositions fetches every venue's positions concurrently and pairs a
// long leg with a short leg per symbol. Symbols that cannot form a pair are
// skipped with a warning.
func (m *Monitor) ActivePositions(ctx context.Context) ([]domain.PairedPosition, error) {
	adapters := m.registry.All()
	perVenue := make([][]domain.RawPosition, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	for i, adapter := range adapters {
		g.Go(func() error {
			positions, err := adapter.Positions(gctx)
			if err != nil {
				return fmt.Errorf("monitor: %s positions: %w", adapter.Name(), err)
			}
			perVenue[i] = positions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bySymbol := make(map[string]map[string]domain.RawPosition)
	for _, positions := range perVenue {
		for _, p := range positions {
			byVenue, ok := bySymbol[p.Symbol]
			if !ok {
				byVenue = make(map[string]domain.RawPosition)
				bySymbol[p.Symbol] = byVenue
			}
			byVenue[p.Venue] = p
		}
	}

	now := time.Now().UTC()
	var pairs []domain.PairedPosition
	for symbol, byVenue := range bySymbol {
		m.applySideFlip(ctx, symbol, byVenue)

		// Walk venues in name order so the same legs are chosen on every
		// pass when more than two venues report the symbol.
		venueNames := make([]string, 0, len(byVenue))
		for venueName := range byVenue {
			venueNames = append(venueNames, venueName)
		}
		sort.Strings(venueNames)

		var longLeg, shortLeg *domain.RawPosition
		for _, venueName := range venueNames {
			p := byVenue[venueName]
			switch p.Side {
			case domain.PositionSideLong:
				longLeg = &p
			case domain.PositionSideShort:
				shortLeg = &p
			}
		}
		if longLeg == nil || shortLeg == nil || longLeg.Venue == shortLeg.Venue {
			m.logger.Warn("unpaired position, skipping",
				slog.String("symbol", symbol),
				slog.Int("venues", len(byVenue)),
			)
			continue
		}
		pairs = append(pairs, m.buildPair(symbol, *longLeg, *shortLeg, now))
	}
	return pairs, nil
}

// applySideFlip corrects the configured side-unreliable venue when both
// venues report the same side for one symbol. A hedged pair can never be
// same-sided, so one venue's report has to be wrong; the flip is always
// surfaced, never silent.
func (m *Monitor) applySideFlip(ctx context.Context, symbol string, byVenue map[string]domain.RawPosition) {
	if m.cfg.FlipSideVenue == "" || len(byVenue) < 2 {
		return
	}
	suspect, ok := byVenue[m.cfg.FlipSideVenue]
	if !ok {
		return
	}
	sameSide := false
	for venueName, p := range byVenue {
		if venueName != m.cfg.FlipSideVenue && p.Side == suspect.Side {
			sameSide = true
			break
		}
	}
	if !sameSide {
		return
	}

	flipped := suspect.Side.Opposite()
	m.logger.Warn("same-side pair, flipping suspect venue",
		slog.String("symbol", symbol),
		slog.String("venue", m.cfg.FlipSideVenue),
		slog.String("from", string(suspect.Side)),
		slog.String("to", string(flipped)),
	)
	if m.notifier != nil {
		_ = m.notifier.Notify(ctx, notify.EventSideFlip, "Position side corrected",
			fmt.Sprintf("%s: %s reported %s on both venues, flipped to %s",
				symbol, m.cfg.FlipSideVenue, suspect.Side, flipped))
	}
	suspect.Side = flipped
	byVenue[m.cfg.FlipSideVenue] = suspect
}

func (m *Monitor) buildPair(symbol string, longLeg, shortLeg domain.RawPosition, now time.Time) domain.PairedPosition {
	pair := domain.PairedPosition{
		Symbol:          symbol,
		LongVenue:       longLeg.Venue,
		ShortVenue:      shortLeg.Venue,
		Size:            (longLeg.Size + shortLeg.Size) / 2,
		Leverage:        m.leverage,
		UnrealizedPnL:   longLeg.UnrealizedPnL + shortLeg.UnrealizedPnL,
		FundingReceived: longLeg.FundingReceived + shortLeg.FundingReceived,
		Long:            longLeg,
		Short:           shortLeg,
		LastUpdated:     now,
	}

	if entry, ok := m.tracking.Lookup(symbol); ok {
		pair.CreatedAt = entry.CreatedAt
		pair.EntryAPR = entry.EntryAPR
		pair.Collateral = entry.Collateral
		if entry.Leverage > 0 {
			pair.Leverage = entry.Leverage
		}
	} else {
		pair.CreatedAt = now.Add(-fallbackAge)
		pair.EntryAPR = fallbackEntryAPR
	}
	pair.DurationHours = now.Sub(pair.CreatedAt).Hours()
	pair.CurrentAPR = EstimateCurrentAPR(pair.EntryAPR, pair.DurationHours, pair.FundingReceived)
	return pair
}

// EstimateCurrentAPR estimates a position's current APR in percent. The
// realized estimate from received funding wins when it lands in a sane
// range; otherwise the entry APR decays 3% per hour with a 30% floor, and
// anything past 48 hours is a flat residual 20%.
func EstimateCurrentAPR(entryAPR, durationHours, fundingReceived float64) float64 {
	if fundingReceived > 0 && durationHours > 0 {
		realized := fundingReceived / durationHours * 8760
		if realized > 0 && realized < 2000 {
			return realized
		}
	}
	if durationHours < 48 {
		decay := math.Max(0.3, 1-durationHours*0.03)
		return math.Max(20, entryAPR*decay)
	}
	return 20
}

// ShouldClose evaluates the exit rules in order; the first rule that fires
// wins and names the reason.
func (m *Monitor) ShouldClose(pair domain.PairedPosition) (reason string, shouldClose bool) {
	switch {
	case pair.CurrentAPR < m.cfg.ExitAPRThreshold:
		return fmt.Sprintf("apr %.1f%% below exit threshold %.1f%%", pair.CurrentAPR, m.cfg.ExitAPRThreshold), true
	case pair.CurrentAPR < m.cfg.StopLossAPR:
		return fmt.Sprintf("stop loss: apr %.1f%%", pair.CurrentAPR), true
	case pair.DurationHours > m.cfg.MaxHoldHours:
		return fmt.Sprintf("max hold: %.1fh > %.0fh", pair.DurationHours, m.cfg.MaxHoldHours), true
	case pair.UnrealizedPnL < m.cfg.MaxLossUSDC:
		return fmt.Sprintf("capital protection: pnl %.2f below %.2f", pair.UnrealizedPnL, m.cfg.MaxLossUSDC), true
	case pair.FundingReceived < m.cfg.MaxNegativeFunding:
		return fmt.Sprintf("negative funding: %.2f below %.2f", pair.FundingReceived, m.cfg.MaxNegativeFunding), true
	default:
		return "", false
	}
}

// Summary aggregates the given pairs into a portfolio view. DailyPnL counts
// only pairs opened today (UTC).
func (m *Monitor) Summary(pairs []domain.PairedPosition) domain.PortfolioSummary {
	now := time.Now().UTC()
	summary := domain.PortfolioSummary{
		TotalCapital:  m.capital,
		OpenPositions: len(pairs),
		Positions:     pairs,
		UpdatedAt:     now,
	}

	usedCollateral := 0.0
	aprSum := 0.0
	for _, pair := range pairs {
		summary.UnrealizedPnL += pair.UnrealizedPnL
		summary.FundingReceived += pair.FundingReceived
		aprSum += pair.CurrentAPR
		usedCollateral += pair.Collateral
		if sameUTCDate(pair.CreatedAt, now) {
			summary.DailyPnL += pair.UnrealizedPnL
		}
	}
	if len(pairs) > 0 {
		summary.AverageAPR = aprSum / float64(len(pairs))
	}
	if m.capital > 0 {
		summary.CapitalUtilization = math.Min(usedCollateral/m.capital*100, 100)
	}
	return summary
}

func sameUTCDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
