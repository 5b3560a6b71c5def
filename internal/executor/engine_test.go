package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
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
	mu            sync.Mutex
	name          string
	authenticated bool
	positions     []domain.RawPosition
	positionsErr  error
	balances      []domain.Balance
	orderErr      error
	orderReject   string
	closeErr      error

	orderCalls []domain.OrderRequest
	closeCalls []string
}

func newFakeVenue(name string) *fakeVenue {
	return &fakeVenue{
		name:          name,
		authenticated: true,
		balances:      []domain.Balance{{Venue: name, Asset: "USDC", Available: 1000}},
	}
}

func (f *fakeVenue) Name() string                       { return f.name }
func (f *fakeVenue) Authenticate(context.Context) error { return nil }
func (f *fakeVenue) Authenticated() bool                { return f.authenticated }
func (f *fakeVenue) FundingRates(context.Context, []string) ([]domain.FundingQuote, error) {
	return nil, nil
}
func (f *fakeVenue) Positions(context.Context) ([]domain.RawPosition, error) {
	return f.positions, f.positionsErr
}
func (f *fakeVenue) Balances(context.Context) ([]domain.Balance, error) {
	return f.balances, nil
}
func (f *fakeVenue) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.mu.Lock()
	f.orderCalls = append(f.orderCalls, req)
	f.mu.Unlock()
	if f.orderErr != nil {
		return domain.OrderResult{}, f.orderErr
	}
	if f.orderReject != "" {
		return domain.OrderResult{Success: false, Message: f.orderReject}, nil
	}
	return domain.OrderResult{Success: true, OrderID: "oid-" + f.name}, nil
}
func (f *fakeVenue) ClosePosition(_ context.Context, symbol string) error {
	f.mu.Lock()
	f.closeCalls = append(f.closeCalls, symbol)
	f.mu.Unlock()
	return f.closeErr
}
func (f *fakeVenue) SetLeverage(context.Context, string, int) error { return nil }
func (f *fakeVenue) MarketInfo(context.Context, string) (domain.MarketInfo, error) {
	return domain.MarketInfo{}, nil
}

type fixedPrice float64

func (p fixedPrice) MarkPrice(context.Context, string) (float64, error) {
	return float64(p), nil
}

func testOpportunity() domain.Opportunity {
	return domain.Opportunity{
		ID:         "opp-1",
		Symbol:     "BTC-PERP",
		LongVenue:  "hyperliquid",
		ShortVenue: "woofi_pro",
		APR:        200,
		Confidence: 0.8,
	}
}

func newTestEngine(t *testing.T, long, short *fakeVenue) (*Engine, *tracker.Tracker) {
	t.Helper()
	reg := venue.NewRegistry()
	require.NoError(t, reg.Register(long))
	require.NoError(t, reg.Register(short))
	tracking := tracker.New()
	return NewEngine(reg, fixedPrice(60000), tracking, config.Defaults().Trading, testLogger), tracking
}

func TestExecuteConfirmsBothLegs(t *testing.T) {
	long := newFakeVenue("hyperliquid")
	short := newFakeVenue("woofi_pro")
	engine, tracking := newTestEngine(t, long, short)

	rec, err := engine.Execute(context.Background(), testOpportunity())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeConfirmed, rec.Outcome)
	assert.True(t, rec.Outcome.Succeeded())

	require.Len(t, long.orderCalls, 1)
	require.Len(t, short.orderCalls, 1)
	assert.Equal(t, domain.OrderSideBuy, long.orderCalls[0].Side)
	assert.Equal(t, domain.OrderSideSell, short.orderCalls[0].Side)
	assert.InDelta(t, long.orderCalls[0].Size, short.orderCalls[0].Size, 1e-12,
		"both legs must carry the identical base size")

	entry, ok := tracking.Lookup("BTC-PERP")
	require.True(t, ok)
	assert.InDelta(t, 200, entry.EntryAPR, 1e-9)
	assert.GreaterOrEqual(t, rec.ElapsedMs, int64(0))
	assert.False(t, rec.CompletedAt.IsZero())
}

func TestExecuteSingleLegFailureRollsBackSurvivor(t *testing.T) {
	long := newFakeVenue("hyperliquid")
	short := newFakeVenue("woofi_pro")
	short.orderErr = errors.New("venue rejected")
	engine, tracking := newTestEngine(t, long, short)

	rec, err := engine.Execute(context.Background(), testOpportunity())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRolledBack, rec.Outcome)
	assert.True(t, rec.Long.Success)
	assert.False(t, rec.Short.Success)

	// Exactly one compensating close, on the surviving venue only.
	assert.Equal(t, []string{"BTC-PERP"}, long.closeCalls)
	assert.Empty(t, short.closeCalls)

	_, ok := tracking.Lookup("BTC-PERP")
	assert.False(t, ok, "failed attempt must not be tracked")
}

func TestExecuteRollbackFailureIsUnresolved(t *testing.T) {
	long := newFakeVenue("hyperliquid")
	short := newFakeVenue("woofi_pro")
	short.orderReject = "insufficient margin"
	long.closeErr = errors.New("close timeout")
	engine, _ := newTestEngine(t, long, short)

	rec, err := engine.Execute(context.Background(), testOpportunity())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePartialUnresolved, rec.Outcome)
	// One close attempt, never retried.
	assert.Equal(t, []string{"BTC-PERP"}, long.closeCalls)
}

func TestExecuteBothLegsFailed(t *testing.T) {
	long := newFakeVenue("hyperliquid")
	short := newFakeVenue("woofi_pro")
	long.orderErr = errors.New("down")
	short.orderErr = errors.New("down")
	engine, _ := newTestEngine(t, long, short)

	rec, err := engine.Execute(context.Background(), testOpportunity())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, rec.Outcome)
	assert.Empty(t, long.closeCalls)
	assert.Empty(t, short.closeCalls)
}

func TestExecuteRejectsLivePositionWithoutOrders(t *testing.T) {
	long := newFakeVenue("hyperliquid")
	short := newFakeVenue("woofi_pro")
	short.positions = []domain.RawPosition{{Symbol: "BTC-PERP", Venue: "woofi_pro", Side: domain.PositionSideShort, Size: 0.1}}
	engine, _ := newTestEngine(t, long, short)

	rec, err := engine.Execute(context.Background(), testOpportunity())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRejectedDuplicate, rec.Outcome)
	assert.Empty(t, long.orderCalls)
	assert.Empty(t, short.orderCalls)
}

func TestExecuteFailsWhenGuardUnverifiable(t *testing.T) {
	long := newFakeVenue("hyperliquid")
	short := newFakeVenue("woofi_pro")
	short.positionsErr = errors.New("api error")
	engine, _ := newTestEngine(t, long, short)

	rec, err := engine.Execute(context.Background(), testOpportunity())
	require.Error(t, err)
	assert.Equal(t, domain.OutcomeFailed, rec.Outcome)
	assert.Empty(t, long.orderCalls, "no trade when the duplicate guard cannot be verified")
}

func TestExecuteDedupWindowSuppressesRepeat(t *testing.T) {
	long := newFakeVenue("hyperliquid")
	short := newFakeVenue("woofi_pro")
	engine, _ := newTestEngine(t, long, short)

	first, err := engine.Execute(context.Background(), testOpportunity())
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeConfirmed, first.Outcome)

	second, err := engine.Execute(context.Background(), testOpportunity())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRejectedDuplicate, second.Outcome)
	assert.Len(t, long.orderCalls, 1, "no second order")
}

func TestExecuteRejectsUnauthenticatedAdapter(t *testing.T) {
	long := newFakeVenue("hyperliquid")
	short := newFakeVenue("woofi_pro")
	short.authenticated = false
	engine, _ := newTestEngine(t, long, short)

	rec, err := engine.Execute(context.Background(), testOpportunity())
	require.Error(t, err)
	assert.Equal(t, domain.OutcomeRejectedConfig, rec.Outcome)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestExecuteRejectsInsufficientBalance(t *testing.T) {
	long := newFakeVenue("hyperliquid")
	short := newFakeVenue("woofi_pro")
	short.balances = []domain.Balance{{Venue: "woofi_pro", Asset: "USDC", Available: 5}}
	engine, _ := newTestEngine(t, long, short)

	rec, err := engine.Execute(context.Background(), testOpportunity())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRejectedFunds, rec.Outcome)
	assert.Empty(t, long.orderCalls)
}

func TestCollateralTiers(t *testing.T) {
	long := newFakeVenue("hyperliquid")
	short := newFakeVenue("woofi_pro")
	engine, _ := newTestEngine(t, long, short)

	// Capital 580: fractions tiered by APR, clamped to [50, 150].
	assert.InDelta(t, 145, engine.collateralFor(600), 1e-9)  // 25%
	assert.InDelta(t, 116, engine.collateralFor(350), 1e-9)  // 20%
	assert.InDelta(t, 87, engine.collateralFor(200), 1e-9)   // 15%
	assert.InDelta(t, 50, engine.collateralFor(100), 1e-9)   // 8% clamped up to min
}

func TestClosePairClosesBothAndUntracks(t *testing.T) {
	long := newFakeVenue("hyperliquid")
	short := newFakeVenue("woofi_pro")
	engine, tracking := newTestEngine(t, long, short)
	tracking.Add(tracker.Entry{Symbol: "BTC-PERP"})

	pos := domain.PairedPosition{
		Symbol:     "BTC-PERP",
		LongVenue:  "hyperliquid",
		ShortVenue: "woofi_pro",
	}
	require.NoError(t, engine.ClosePair(context.Background(), pos, "apr_below_exit"))
	assert.Equal(t, []string{"BTC-PERP"}, long.closeCalls)
	assert.Equal(t, []string{"BTC-PERP"}, short.closeCalls)

	_, ok := tracking.Lookup("BTC-PERP")
	assert.False(t, ok)
}

func TestClosePairPartialFailureReported(t *testing.T) {
	long := newFakeVenue("hyperliquid")
	short := newFakeVenue("woofi_pro")
	short.closeErr = errors.New("timeout")
	engine, tracking := newTestEngine(t, long, short)
	tracking.Add(tracker.Entry{Symbol: "BTC-PERP"})

	pos := domain.PairedPosition{Symbol: "BTC-PERP", LongVenue: "hyperliquid", ShortVenue: "woofi_pro"}
	err := engine.ClosePair(context.Background(), pos, "max_hold")
	require.Error(t, err)

	// No retry on this path; each side saw exactly one close attempt, and
	// the tracking entry stays for the next monitoring pass.
	assert.Len(t, long.closeCalls, 1)
	assert.Len(t, short.closeCalls, 1)
	_, ok := tracking.Lookup("BTC-PERP")
	assert.True(t, ok)
}

func TestDedupWindowExpires(t *testing.T) {
	d := NewDedup(20 * time.Millisecond)
	assert.False(t, d.IsDuplicate("BTC-PERP"))
	assert.True(t, d.IsDuplicate("BTC-PERP"))
	time.Sleep(30 * time.Millisecond)
	assert.False(t, d.IsDuplicate("BTC-PERP"))
}

func TestDedupForgetReArms(t *testing.T) {
	d := NewDedup(time.Hour)
	assert.False(t, d.IsDuplicate("BTC-PERP"))
	d.Forget("BTC-PERP")
	assert.False(t, d.IsDuplicate("BTC-PERP"))
}
