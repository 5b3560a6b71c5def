package hyperliquid

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// A well-known test key; never funded.
const testPrivateKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := New(Config{
		PrivateKey:           testPrivateKey,
		BaseURL:              server.URL,
		FundingIntervalHours: 1,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return client
}

// infoServer dispatches /info requests by payload type.
func infoServer(t *testing.T, handlers map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/info", r.URL.Path)
		var payload struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		body, ok := handlers[payload.Type]
		require.True(t, ok, "unexpected info type %s", payload.Type)
		w.Write([]byte(body))
	}))
}

func TestFundingRatesAnnualizesHourlyRate(t *testing.T) {
	server := infoServer(t, map[string]string{
		"metaAndAssetCtxs": `[
			{"universe":[{"name":"BTC"},{"name":"ETH"}]},
			[{"funding":"-0.001","markPx":"60000"},{"funding":"0.00005","markPx":"3000"}]
		]`,
	})
	defer server.Close()

	client := newTestClient(t, server)
	quotes, err := client.FundingRates(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	// Hourly funding means 8760 periods per year.
	btc := quotes[0]
	assert.Equal(t, "BTC-PERP", btc.Symbol)
	assert.Equal(t, "hyperliquid", btc.Venue)
	assert.InDelta(t, -0.001, btc.Rate, 1e-12)
	assert.InDelta(t, -0.001*8760*100, btc.APR, 1e-6)

	eth := quotes[1]
	assert.InDelta(t, 0.00005*8760*100, eth.APR, 1e-6)
}

func TestFundingRatesLengthMismatchFails(t *testing.T) {
	server := infoServer(t, map[string]string{
		"metaAndAssetCtxs": `[
			{"universe":[{"name":"BTC"},{"name":"ETH"}]},
			[{"funding":"-0.001","markPx":"60000"}]
		]`,
	})
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.FundingRates(context.Background(), nil)
	require.Error(t, err)
}

func TestPositionsMapsSziSign(t *testing.T) {
	server := infoServer(t, map[string]string{
		"clearinghouseState": `{
			"assetPositions":[
				{"position":{"coin":"BTC","szi":"-0.25","entryPx":"60000","unrealizedPnl":"15.0","cumFunding":{"sinceOpen":"-2.5"}}},
				{"position":{"coin":"ETH","szi":"1.5","entryPx":"3000","unrealizedPnl":"-8.0","cumFunding":{"sinceOpen":"1.0"}}},
				{"position":{"coin":"SOL","szi":"0"}}
			],
			"withdrawable":"100","crossMarginSummary":{"accountValue":"500"}
		}`,
	})
	defer server.Close()

	client := newTestClient(t, server)
	positions, err := client.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)

	btc := positions[0]
	assert.Equal(t, "BTC-PERP", btc.Symbol)
	assert.Equal(t, domain.PositionSideShort, btc.Side)
	assert.InDelta(t, 0.25, btc.Size, 1e-12)
	assert.InDelta(t, 2.5, btc.FundingReceived, 1e-12)

	eth := positions[1]
	assert.Equal(t, domain.PositionSideLong, eth.Side)
	assert.InDelta(t, -1.0, eth.FundingReceived, 1e-12)
}

func TestBalancesSplitsWithdrawable(t *testing.T) {
	server := infoServer(t, map[string]string{
		"clearinghouseState": `{
			"assetPositions":[],
			"withdrawable":"120.5","crossMarginSummary":{"accountValue":"580"}
		}`,
	})
	defer server.Close()

	client := newTestClient(t, server)
	balances, err := client.Balances(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "USDC", balances[0].Asset)
	assert.InDelta(t, 120.5, balances[0].Available, 1e-9)
	assert.InDelta(t, 580-120.5, balances[0].Locked, 1e-9)
}

func TestClosePositionNoOpWhenAlreadyFlat(t *testing.T) {
	exchangeCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/info":
			w.Write([]byte(`{"assetPositions":[],"withdrawable":"0","crossMarginSummary":{"accountValue":"0"}}`))
		case "/exchange":
			exchangeCalls++
			w.Write([]byte(`{"status":"ok"}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server)
	require.NoError(t, client.ClosePosition(context.Background(), "BTC-PERP"))
	assert.Zero(t, exchangeCalls)
}

func TestParseOrderStatus(t *testing.T) {
	id, msg := parseOrderStatus([]json.RawMessage{[]byte(`{"filled":{"oid":42,"totalSz":"0.1","avgPx":"60000"}}`)})
	assert.Equal(t, "42", id)
	assert.Empty(t, msg)

	id, msg = parseOrderStatus([]json.RawMessage{[]byte(`{"resting":{"oid":7}}`)})
	assert.Equal(t, "7", id)
	assert.Empty(t, msg)

	_, msg = parseOrderStatus([]json.RawMessage{[]byte(`{"error":"Insufficient margin"}`)})
	assert.Equal(t, "Insufficient margin", msg)

	_, msg = parseOrderStatus(nil)
	assert.NotEmpty(t, msg)
}

func TestFormatPriceSignificantFigures(t *testing.T) {
	// 5 significant figures, capped decimals by size precision.
	assert.Equal(t, "60123", formatPrice(60123.456, 5))
	assert.Equal(t, "0.12346", formatPrice(0.123456, 0))
	assert.Equal(t, "3000.5", formatPrice(3000.52, 1))
}

func TestRoundToDecimals(t *testing.T) {
	assert.InDelta(t, 0.123, roundToDecimals(0.12345, 3), 1e-12)
	assert.InDelta(t, 1, roundToDecimals(1.4, 0), 1e-12)
}
