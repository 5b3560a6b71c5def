package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/venue"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeAdapter implements venue.Adapter with canned funding quotes.
type fakeAdapter struct {
	name   string
	quotes []domain.FundingQuote
	err    error
}

func (f *fakeAdapter) Name() string                              { return f.name }
func (f *fakeAdapter) Authenticate(context.Context) error        { return nil }
func (f *fakeAdapter) Authenticated() bool                       { return true }
func (f *fakeAdapter) Positions(context.Context) ([]domain.RawPosition, error) {
	return nil, nil
}
func (f *fakeAdapter) Balances(context.Context) ([]domain.Balance, error) { return nil, nil }
func (f *fakeAdapter) PlaceOrder(context.Context, domain.OrderRequest) (domain.OrderResult, error) {
	return domain.OrderResult{Success: true}, nil
}
func (f *fakeAdapter) ClosePosition(context.Context, string) error       { return nil }
func (f *fakeAdapter) SetLeverage(context.Context, string, int) error    { return nil }
func (f *fakeAdapter) MarketInfo(context.Context, string) (domain.MarketInfo, error) {
	return domain.MarketInfo{}, nil
}
func (f *fakeAdapter) FundingRates(context.Context, []string) ([]domain.FundingQuote, error) {
	return f.quotes, f.err
}

func quote(symbol, venueName string, rate, apr float64) domain.FundingQuote {
	return domain.FundingQuote{
		Symbol:     symbol,
		Venue:      venueName,
		Rate:       rate,
		APR:        apr,
		ObservedAt: time.Now().UTC(),
	}
}

func newRegistry(t *testing.T, adapters ...venue.Adapter) *venue.Registry {
	t.Helper()
	reg := venue.NewRegistry()
	for _, a := range adapters {
		require.NoError(t, reg.Register(a))
	}
	return reg
}

func TestCollectMergesBySymbol(t *testing.T) {
	reg := newRegistry(t,
		&fakeAdapter{name: "hyperliquid", quotes: []domain.FundingQuote{
			quote("BTC-PERP", "hyperliquid", -0.001, -876),
			quote("SOL-PERP", "hyperliquid", 0.0001, 87.6),
		}},
		&fakeAdapter{name: "woofi_pro", quotes: []domain.FundingQuote{
			quote("BTC-PERP", "woofi_pro", 0.0003, 32.85),
		}},
	)

	merged, err := NewConsolidator(reg, nil, testLogger).Collect(context.Background())
	require.NoError(t, err)

	// SOL-PERP is quoted on only one venue and cannot form a pair.
	require.Len(t, merged, 1)
	require.Contains(t, merged, "BTC-PERP")
	assert.Len(t, merged["BTC-PERP"], 2)
}

func TestCollectSurvivesFailingVenue(t *testing.T) {
	reg := newRegistry(t,
		&fakeAdapter{name: "hyperliquid", quotes: []domain.FundingQuote{
			quote("BTC-PERP", "hyperliquid", -0.001, -876),
		}},
		&fakeAdapter{name: "woofi_pro", err: errors.New("venue down")},
	)

	merged, err := NewConsolidator(reg, nil, testLogger).Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, merged, "one-venue symbols must be dropped, not paired")
}

func TestDetectOppositeSignPair(t *testing.T) {
	// Hyperliquid hourly -0.1%/h, WooFi Pro +0.03%/8h: both legs receive.
	merged := MergedQuotes{
		"BTC-PERP": {
			"hyperliquid": quote("BTC-PERP", "hyperliquid", -0.001, -0.001*8760*100),
			"woofi_pro":   quote("BTC-PERP", "woofi_pro", 0.0003, 0.0003*1095*100),
		},
	}

	d := NewDetector(10, []string{"hyperliquid", "woofi_pro"}, testLogger)
	opps := d.Detect(merged)
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, "hyperliquid", opp.LongVenue)
	assert.Equal(t, "woofi_pro", opp.ShortVenue)
	assert.InDelta(t, 876, opp.LongAPR, 1e-9)
	assert.InDelta(t, 32.85, opp.ShortAPR, 1e-9)
	assert.InDelta(t, 876+32.85, opp.APR, 1e-9)
	assert.InDelta(t, 0.0003-(-0.001), opp.NetRate, 1e-12)
	assert.InDelta(t, 1.0, opp.Confidence, 1e-9, "1.3e-3 spread saturates confidence")
	assert.NotEmpty(t, opp.ID)
}

func TestDetectSameSignOnlyOneLegContributes(t *testing.T) {
	// Both venues positive: only a short leg can receive. The best pairing
	// shorts the venue with the larger rate.
	merged := MergedQuotes{
		"ETH-PERP": {
			"hyperliquid": quote("ETH-PERP", "hyperliquid", 0.00002, 0.00002*8760*100),
			"woofi_pro":   quote("ETH-PERP", "woofi_pro", 0.0005, 0.0005*1095*100),
		},
	}

	d := NewDetector(10, []string{"hyperliquid", "woofi_pro"}, testLogger)
	opps := d.Detect(merged)
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, "hyperliquid", opp.LongVenue)
	assert.Equal(t, "woofi_pro", opp.ShortVenue)
	assert.Zero(t, opp.LongAPR, "positive-rate long leg pays, it never contributes")
	assert.InDelta(t, 0.0005*1095*100, opp.APR, 1e-9)
}

func TestDetectBelowFloorEmitsNothing(t *testing.T) {
	merged := MergedQuotes{
		"BTC-PERP": {
			"hyperliquid": quote("BTC-PERP", "hyperliquid", -0.000005, -0.000005*8760*100),
			"woofi_pro":   quote("BTC-PERP", "woofi_pro", 0.000005, 0.000005*1095*100),
		},
	}

	d := NewDetector(10, []string{"hyperliquid", "woofi_pro"}, testLogger)
	assert.Empty(t, d.Detect(merged))
}

func TestDetectAtFloorIsKept(t *testing.T) {
	// A pair sitting exactly on the detection floor is still an opportunity;
	// only pairs strictly below it are discarded.
	merged := MergedQuotes{
		"BTC-PERP": {
			"hyperliquid": quote("BTC-PERP", "hyperliquid", -0.0005, -10),
			"woofi_pro":   quote("BTC-PERP", "woofi_pro", 0, 0),
		},
	}

	d := NewDetector(10, []string{"hyperliquid", "woofi_pro"}, testLogger)
	opps := d.Detect(merged)
	require.Len(t, opps, 1)
	assert.InDelta(t, 10, opps[0].APR, 1e-9)
}

func TestDetectTieBreakPrefersFirstSortedPairing(t *testing.T) {
	// Venues "alpha" and "bravo" hold identical negative rates against a
	// positive "charlie": the two candidate pairings score identically and
	// the tie must resolve to alpha, first in sorted order.
	merged := MergedQuotes{
		"BTC-PERP": {
			"alpha":   quote("BTC-PERP", "alpha", -0.0005, -100),
			"bravo":   quote("BTC-PERP", "bravo", -0.0005, -100),
			"charlie": quote("BTC-PERP", "charlie", 0.0005, 100),
		},
	}

	d := NewDetector(10, []string{"alpha", "bravo", "charlie"}, testLogger)
	opps := d.Detect(merged)
	require.Len(t, opps, 1)
	assert.Equal(t, "alpha", opps[0].LongVenue)
	assert.Equal(t, "charlie", opps[0].ShortVenue)
	assert.InDelta(t, 200, opps[0].APR, 1e-9)
}

func TestDetectValidationRejectsOutOfRangeAPR(t *testing.T) {
	merged := MergedQuotes{
		"DOGE-PERP": {
			"hyperliquid": quote("DOGE-PERP", "hyperliquid", -0.01, -8760),
			"woofi_pro":   quote("DOGE-PERP", "woofi_pro", 0.01, 1095),
		},
	}

	d := NewDetector(10, []string{"hyperliquid", "woofi_pro"}, testLogger)
	assert.Empty(t, d.Detect(merged), "combined APR above 2000 is a data error")
}

func TestDetectValidationRejectsUnsupportedVenue(t *testing.T) {
	merged := MergedQuotes{
		"BTC-PERP": {
			"hyperliquid": quote("BTC-PERP", "hyperliquid", -0.001, -876),
			"unknown":     quote("BTC-PERP", "unknown", 0.0003, 32.85),
		},
	}

	d := NewDetector(10, []string{"hyperliquid", "woofi_pro"}, testLogger)
	assert.Empty(t, d.Detect(merged))
}

func TestDetectSortsByAPRDescending(t *testing.T) {
	merged := MergedQuotes{
		"BTC-PERP": {
			"hyperliquid": quote("BTC-PERP", "hyperliquid", -0.0001, -87.6),
			"woofi_pro":   quote("BTC-PERP", "woofi_pro", 0.0001, 10.95),
		},
		"ETH-PERP": {
			"hyperliquid": quote("ETH-PERP", "hyperliquid", -0.001, -876),
			"woofi_pro":   quote("ETH-PERP", "woofi_pro", 0.0003, 32.85),
		},
	}

	d := NewDetector(10, []string{"hyperliquid", "woofi_pro"}, testLogger)
	opps := d.Detect(merged)
	require.Len(t, opps, 2)
	assert.Equal(t, "ETH-PERP", opps[0].Symbol)
	assert.Equal(t, "BTC-PERP", opps[1].Symbol)
}

func TestConfidenceScaling(t *testing.T) {
	assert.InDelta(t, 0.1, confidence(0, 0.0001, 2), 1e-9)
	assert.InDelta(t, 1.0, confidence(-0.001, 0.0003, 2), 1e-9)
	// A third quoting venue boosts sub-saturated confidence by 10%.
	assert.InDelta(t, 0.11, confidence(0, 0.0001, 3), 1e-9)
	assert.LessOrEqual(t, confidence(-0.01, 0.01, 5), 1.0)
}
