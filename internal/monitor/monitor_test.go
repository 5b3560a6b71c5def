package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/config"
	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/tracker"
	"github.com/alanyoungcy/fundingbot/internal/venue"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeVenue struct {
	name      string
	positions []domain.RawPosition
}

func (f *fakeVenue) Name() string                       { return f.name }
func (f *fakeVenue) Authenticate(context.Context) error { return nil }
func (f *fakeVenue) Authenticated() bool                { return true }
func (f *fakeVenue) FundingRates(context.Context, []string) ([]domain.FundingQuote, error) {
	return nil, nil
}
func (f *fakeVenue) Positions(context.Context) ([]domain.RawPosition, error) {
	return f.positions, nil
}
func (f *fakeVenue) Balances(context.Context) ([]domain.Balance, error) { return nil, nil }
func (f *fakeVenue) PlaceOrder(context.Context, domain.OrderRequest) (domain.OrderResult, error) {
	return domain.OrderResult{Success: true}, nil
}
func (f *fakeVenue) ClosePosition(context.Context, string) error    { return nil }
func (f *fakeVenue) SetLeverage(context.Context, string, int) error { return nil }
func (f *fakeVenue) MarketInfo(context.Context, string) (domain.MarketInfo, error) {
	return domain.MarketInfo{}, nil
}

type fakeCloser struct {
	closed  []string
	reasons []string
	err     error
}

func (f *fakeCloser) ClosePair(_ context.Context, pos domain.PairedPosition, reason string) error {
	f.closed = append(f.closed, pos.Symbol)
	f.reasons = append(f.reasons, reason)
	return f.err
}

func rawPos(symbol, venueName string, side domain.PositionSide, pnl, funding float64) domain.RawPosition {
	return domain.RawPosition{
		Symbol:          symbol,
		Venue:           venueName,
		Side:            side,
		Size:            0.01,
		UnrealizedPnL:   pnl,
		FundingReceived: funding,
	}
}

func newMonitor(t *testing.T, closer Closer, tracking *tracker.Tracker, venues ...venue.Adapter) *Monitor {
	t.Helper()
	reg := venue.NewRegistry()
	for _, v := range venues {
		require.NoError(t, reg.Register(v))
	}
	cfg := config.Defaults()
	return New(reg, tracking, closer, cfg.Monitor, cfg.Trading, testLogger)
}

func TestActivePositionsPairsLongAndShort(t *testing.T) {
	tracking := tracker.New()
	tracking.Add(tracker.Entry{
		Symbol:     "BTC-PERP",
		EntryAPR:   300,
		Collateral: 100,
		Leverage:   3,
		CreatedAt:  time.Now().UTC().Add(-2 * time.Hour),
	})

	hl := &fakeVenue{name: "hyperliquid", positions: []domain.RawPosition{
		rawPos("BTC-PERP", "hyperliquid", domain.PositionSideLong, 5, 2),
	}}
	woofi := &fakeVenue{name: "woofi_pro", positions: []domain.RawPosition{
		rawPos("BTC-PERP", "woofi_pro", domain.PositionSideShort, -1, 1),
	}}

	m := newMonitor(t, &fakeCloser{}, tracking, hl, woofi)
	pairs, err := m.ActivePositions(context.Background())
	require.NoError(t, err)
	require.Len(t, pairs, 1)

	pair := pairs[0]
	assert.Equal(t, "hyperliquid", pair.LongVenue)
	assert.Equal(t, "woofi_pro", pair.ShortVenue)
	assert.InDelta(t, 4, pair.UnrealizedPnL, 1e-12)
	assert.InDelta(t, 3, pair.FundingReceived, 1e-12)
	assert.InDelta(t, 300, pair.EntryAPR, 1e-9)
	assert.InDelta(t, 2, pair.DurationHours, 0.05)
}

func TestActivePositionsSkipsUnpaired(t *testing.T) {
	hl := &fakeVenue{name: "hyperliquid", positions: []domain.RawPosition{
		rawPos("SOL-PERP", "hyperliquid", domain.PositionSideLong, 0, 0),
	}}
	woofi := &fakeVenue{name: "woofi_pro"}

	m := newMonitor(t, &fakeCloser{}, tracker.New(), hl, woofi)
	pairs, err := m.ActivePositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestActivePositionsLegSelectionDeterministic(t *testing.T) {
	// Three venues report the same symbol, two of them long. Venues are
	// walked in name order with later longs replacing earlier ones, so the
	// chosen legs must come out identical on every pass.
	alpha := &fakeVenue{name: "alpha", positions: []domain.RawPosition{
		rawPos("BTC-PERP", "alpha", domain.PositionSideLong, 0, 0),
	}}
	bravo := &fakeVenue{name: "bravo", positions: []domain.RawPosition{
		rawPos("BTC-PERP", "bravo", domain.PositionSideLong, 0, 0),
	}}
	charlie := &fakeVenue{name: "charlie", positions: []domain.RawPosition{
		rawPos("BTC-PERP", "charlie", domain.PositionSideShort, 0, 0),
	}}

	m := newMonitor(t, &fakeCloser{}, tracker.New(), alpha, bravo, charlie)
	for i := 0; i < 10; i++ {
		pairs, err := m.ActivePositions(context.Background())
		require.NoError(t, err)
		require.Len(t, pairs, 1)
		assert.Equal(t, "bravo", pairs[0].LongVenue)
		assert.Equal(t, "charlie", pairs[0].ShortVenue)
	}
}

func TestSideFlipCorrectsSuspectVenue(t *testing.T) {
	// Both venues report long; the configured suspect venue (hyperliquid)
	// gets flipped and the pair still forms.
	hl := &fakeVenue{name: "hyperliquid", positions: []domain.RawPosition{
		rawPos("ETH-PERP", "hyperliquid", domain.PositionSideLong, 0, 0),
	}}
	woofi := &fakeVenue{name: "woofi_pro", positions: []domain.RawPosition{
		rawPos("ETH-PERP", "woofi_pro", domain.PositionSideLong, 0, 0),
	}}

	m := newMonitor(t, &fakeCloser{}, tracker.New(), hl, woofi)
	pairs, err := m.ActivePositions(context.Background())
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "woofi_pro", pairs[0].LongVenue)
	assert.Equal(t, "hyperliquid", pairs[0].ShortVenue)
}

func TestColdStartFallbackMetadata(t *testing.T) {
	hl := &fakeVenue{name: "hyperliquid", positions: []domain.RawPosition{
		rawPos("BTC-PERP", "hyperliquid", domain.PositionSideLong, 0, 0),
	}}
	woofi := &fakeVenue{name: "woofi_pro", positions: []domain.RawPosition{
		rawPos("BTC-PERP", "woofi_pro", domain.PositionSideShort, 0, 0),
	}}

	m := newMonitor(t, &fakeCloser{}, tracker.New(), hl, woofi)
	pairs, err := m.ActivePositions(context.Background())
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.InDelta(t, 150, pairs[0].EntryAPR, 1e-9)
	assert.InDelta(t, 1, pairs[0].DurationHours, 0.05)
}

func TestEstimateCurrentAPR(t *testing.T) {
	// Realized estimate wins when in range.
	assert.InDelta(t, 0.5/10*8760, EstimateCurrentAPR(300, 10, 0.5), 1e-9)

	// Out-of-range realized estimate falls back to decay.
	assert.InDelta(t, 300*0.7, EstimateCurrentAPR(300, 10, 10), 1e-9)

	// Decay floors at 30% of entry.
	assert.InDelta(t, 300*0.3, EstimateCurrentAPR(300, 40, 0), 1e-9)

	// Decay never reports below 20%.
	assert.InDelta(t, 20, EstimateCurrentAPR(30, 40, 0), 1e-9)

	// Past the hold horizon the estimate is a flat residual.
	assert.InDelta(t, 20, EstimateCurrentAPR(300, 49, 0), 1e-9)
}

func TestDecayEstimateStrictlyBelowEntry(t *testing.T) {
	for hours := 1.0; hours < 48; hours += 1.0 {
		got := EstimateCurrentAPR(300, hours, 0)
		assert.Less(t, got, 300.0, "hours=%v", hours)
		assert.GreaterOrEqual(t, got, 20.0, "hours=%v", hours)
	}
}

func TestShouldCloseRuleOrder(t *testing.T) {
	cfg := config.Defaults()
	m := New(venue.NewRegistry(), tracker.New(), &fakeCloser{}, cfg.Monitor, cfg.Trading, testLogger)

	healthy := domain.PairedPosition{CurrentAPR: 120, DurationHours: 5, UnrealizedPnL: 1, FundingReceived: 1}
	_, shouldClose := m.ShouldClose(healthy)
	assert.False(t, shouldClose)

	belowExit := healthy
	belowExit.CurrentAPR = 30
	reason, shouldClose := m.ShouldClose(belowExit)
	assert.True(t, shouldClose)
	assert.Contains(t, reason, "exit threshold")

	tooOld := healthy
	tooOld.DurationHours = 50
	reason, shouldClose = m.ShouldClose(tooOld)
	assert.True(t, shouldClose)
	assert.Contains(t, reason, "max hold")

	deepLoss := healthy
	deepLoss.UnrealizedPnL = -60
	reason, shouldClose = m.ShouldClose(deepLoss)
	assert.True(t, shouldClose)
	assert.Contains(t, reason, "capital protection")

	negFunding := healthy
	negFunding.FundingReceived = -40
	reason, shouldClose = m.ShouldClose(negFunding)
	assert.True(t, shouldClose)
	assert.Contains(t, reason, "negative funding")
}

func TestRunClosesAndPrunes(t *testing.T) {
	tracking := tracker.New()
	// Stale entry: no live position backs it.
	tracking.Add(tracker.Entry{Symbol: "DOGE-PERP"})
	// Live pair with decayed APR that must close.
	tracking.Add(tracker.Entry{
		Symbol:    "BTC-PERP",
		EntryAPR:  60,
		CreatedAt: time.Now().UTC().Add(-30 * time.Hour),
	})

	hl := &fakeVenue{name: "hyperliquid", positions: []domain.RawPosition{
		rawPos("BTC-PERP", "hyperliquid", domain.PositionSideLong, 0, 0),
	}}
	woofi := &fakeVenue{name: "woofi_pro", positions: []domain.RawPosition{
		rawPos("BTC-PERP", "woofi_pro", domain.PositionSideShort, 0, 0),
	}}

	closer := &fakeCloser{}
	m := newMonitor(t, closer, tracking, hl, woofi)
	_, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC-PERP"}, closer.closed)
	_, ok := tracking.Lookup("DOGE-PERP")
	assert.False(t, ok, "stale entry pruned")
}

func TestRunKeepsTrackingWhenCloseFails(t *testing.T) {
	tracking := tracker.New()
	tracking.Add(tracker.Entry{
		Symbol:    "BTC-PERP",
		EntryAPR:  60,
		CreatedAt: time.Now().UTC().Add(-30 * time.Hour),
	})

	hl := &fakeVenue{name: "hyperliquid", positions: []domain.RawPosition{
		rawPos("BTC-PERP", "hyperliquid", domain.PositionSideLong, 0, 0),
	}}
	woofi := &fakeVenue{name: "woofi_pro", positions: []domain.RawPosition{
		rawPos("BTC-PERP", "woofi_pro", domain.PositionSideShort, 0, 0),
	}}

	closer := &fakeCloser{err: errors.New("venue timeout")}
	m := newMonitor(t, closer, tracking, hl, woofi)
	_, err := m.Run(context.Background())
	require.NoError(t, err)

	_, ok := tracking.Lookup("BTC-PERP")
	assert.True(t, ok, "entry survives for the retry next pass")
}

func TestSummaryAggregates(t *testing.T) {
	cfg := config.Defaults()
	m := New(venue.NewRegistry(), tracker.New(), &fakeCloser{}, cfg.Monitor, cfg.Trading, testLogger)

	now := time.Now().UTC()
	pairs := []domain.PairedPosition{
		{Symbol: "BTC-PERP", UnrealizedPnL: 5, FundingReceived: 2, CurrentAPR: 100, Collateral: 100, CreatedAt: now},
		{Symbol: "ETH-PERP", UnrealizedPnL: -2, FundingReceived: 1, CurrentAPR: 60, Collateral: 80, CreatedAt: now.Add(-48 * time.Hour)},
	}
	s := m.Summary(pairs)
	assert.Equal(t, 2, s.OpenPositions)
	assert.InDelta(t, 3, s.UnrealizedPnL, 1e-12)
	assert.InDelta(t, 3, s.FundingReceived, 1e-12)
	assert.InDelta(t, 80, s.AverageAPR, 1e-9)
	assert.InDelta(t, (100+80)/580.0*100, s.CapitalUtilization, 1e-9)
	assert.InDelta(t, 5, s.DailyPnL, 1e-9, "only today's positions count")
}
