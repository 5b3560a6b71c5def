// Package woofi implements the venue adapter for WooFi Pro, which executes
// through the Orderly Network API. Private endpoints are signed with the
// account's ed25519 key.
package woofi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/crypto"
	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/venue"
)

const venueName = "woofi_pro"

// Config holds the parameters for the WooFi Pro adapter.
type Config struct {
	ApiKey               string
	SecretKey            string
	AccountID            string
	BaseURL              string
	FundingIntervalHours int
}

// Client is the WooFi Pro venue adapter.
type Client struct {
	baseURL        string
	auth           *crypto.OrderlyAuth
	httpClient     *http.Client
	periodsPerYear float64
	authenticated  atomic.Bool
	logger         *slog.Logger
}

// New creates a WooFi Pro adapter. It does not contact the venue; call
// Authenticate before trading.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	// Missing credentials still allow public endpoints (funding rates,
	// market info); signed requests fail with ErrUnauthorized.
	var auth *crypto.OrderlyAuth
	if cfg.SecretKey != "" {
		var err error
		auth, err = crypto.NewOrderlyAuth(cfg.AccountID, cfg.ApiKey, cfg.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("woofi: %w", err)
		}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.orderly.org"
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		auth:           auth,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		periodsPerYear: venue.PeriodsPerYear(cfg.FundingIntervalHours),
		logger:         logger.With(slog.String("venue", venueName)),
	}, nil
}

// Name returns the venue identifier.
func (c *Client) Name() string { return venueName }

// Authenticated reports whether the last Authenticate succeeded.
func (c *Client) Authenticated() bool { return c.authenticated.Load() }

// Authenticate verifies the credentials by fetching the account holdings.
// Safe to call again after a failure.
func (c *Client) Authenticate(ctx context.Context) error {
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.doSigned(ctx, http.MethodGet, "/v1/client/holding", nil, &resp); err != nil {
		c.authenticated.Store(false)
		return fmt.Errorf("woofi: authenticate: %w", err)
	}
	c.authenticated.Store(true)
	return nil
}

// FundingRates returns current funding quotes from the public bulk endpoint.
func (c *Client) FundingRates(ctx context.Context, symbols []string) ([]domain.FundingQuote, error) {
	var resp struct {
		Data struct {
			Rows []struct {
				Symbol          string  `json:"symbol"`
				EstFundingRate  float64 `json:"est_funding_rate"`
				LastFundingRate float64 `json:"last_funding_rate"`
				NextFundingTime int64   `json:"next_funding_time"` // ms
			} `json:"rows"`
		} `json:"data"`
	}
	if err := c.doPublic(ctx, http.MethodGet, "/v1/public/funding_rates", &resp); err != nil {
		return nil, fmt.Errorf("woofi: funding rates: %w", err)
	}

	filter := symbolSet(symbols)
	now := time.Now().UTC()
	quotes := make([]domain.FundingQuote, 0, len(resp.Data.Rows))
	for _, row := range resp.Data.Rows {
		sym := normalizeSymbol(row.Symbol)
		if filter != nil && !filter[sym] {
			continue
		}
		rate := row.EstFundingRate
		if rate == 0 {
			rate = row.LastFundingRate
		}
		quotes = append(quotes, domain.FundingQuote{
			Symbol:          sym,
			Venue:           venueName,
			Rate:            rate,
			NextFundingTime: time.UnixMilli(row.NextFundingTime).UTC(),
			APR:             rate * c.periodsPerYear * 100,
			ObservedAt:      now,
		})
	}
	return quotes, nil
}

// Positions returns all open positions.
func (c *Client) Positions(ctx context.Context) ([]domain.RawPosition, error) {
	var resp struct {
		Data struct {
			Rows []struct {
				Symbol           string  `json:"symbol"`
				PositionQty      float64 `json:"position_qty"`
				AverageOpenPrice float64 `json:"average_open_price"`
				UnrealizedPnL    float64 `json:"unrealized_pnl"`
				UnsettledPnL     float64 `json:"unsettled_pnl"`
				FundingFee       float64 `json:"funding_fee"`
			} `json:"rows"`
		} `json:"data"`
	}
	if err := c.doSigned(ctx, http.MethodGet, "/v1/positions", nil, &resp); err != nil {
		return nil, fmt.Errorf("woofi: positions: %w", err)
	}

	positions := make([]domain.RawPosition, 0, len(resp.Data.Rows))
	for _, row := range resp.Data.Rows {
		if row.PositionQty == 0 {
			continue
		}
		side := domain.PositionSideLong
		if row.PositionQty < 0 {
			side = domain.PositionSideShort
		}
		pnl := row.UnrealizedPnL
		if pnl == 0 {
			pnl = row.UnsettledPnL
		}
		// The venue reports funding_fee as a cost; funding received is the
		// negation.
		positions = append(positions, domain.RawPosition{
			Symbol:          normalizeSymbol(row.Symbol),
			Venue:           venueName,
			Side:            side,
			Size:            math.Abs(row.PositionQty),
			EntryPrice:      row.AverageOpenPrice,
			UnrealizedPnL:   pnl,
			FundingReceived: -row.FundingFee,
		})
	}
	return positions, nil
}

// Balances returns the account's asset holdings.
func (c *Client) Balances(ctx context.Context) ([]domain.Balance, error) {
	var resp struct {
		Data struct {
			Holding []struct {
				Token   string  `json:"token"`
				Holding float64 `json:"holding"`
				Frozen  float64 `json:"frozen"`
			} `json:"holding"`
		} `json:"data"`
	}
	if err := c.doSigned(ctx, http.MethodGet, "/v1/client/holding", nil, &resp); err != nil {
		return nil, fmt.Errorf("woofi: balances: %w", err)
	}

	balances := make([]domain.Balance, 0, len(resp.Data.Holding))
	for _, h := range resp.Data.Holding {
		balances = append(balances, domain.Balance{
			Venue:     venueName,
			Asset:     h.Token,
			Available: h.Holding,
			Locked:    h.Frozen,
			Total:     h.Holding + h.Frozen,
		})
	}
	return balances, nil
}

// PlaceOrder submits one order, first clamping size to the market's minimum
// and rounding to its tick.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	size := req.Size
	if info, err := c.MarketInfo(ctx, req.Symbol); err == nil {
		if size < info.MinOrderSize {
			c.logger.WarnContext(ctx, "order size below minimum, clamping",
				slog.Float64("size", size),
				slog.Float64("min", info.MinOrderSize),
			)
			size = info.MinOrderSize
		}
		if info.TickSize > 0 {
			size = math.Round(size/info.TickSize) * info.TickSize
		}
	}

	body := map[string]any{
		"symbol":          denormalizeSymbol(req.Symbol),
		"client_order_id": fmt.Sprintf("arb_%d_%s", time.Now().Unix(), strings.ReplaceAll(req.Symbol, "-", "")),
		"order_type":      strings.ToUpper(string(req.Type)),
		"side":            orderSide(req.Side),
		"order_quantity":  strconv.FormatFloat(size, 'f', -1, 64),
	}
	if req.Price != nil {
		body["order_price"] = strconv.FormatFloat(*req.Price, 'f', -1, 64)
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			OrderID int64  `json:"order_id"`
			Status  string `json:"status"`
		} `json:"data"`
		Message string `json:"message"`
	}
	if err := c.doSigned(ctx, http.MethodPost, "/v1/order", body, &resp); err != nil {
		return domain.OrderResult{Success: false, Message: err.Error()}, err
	}
	if !resp.Success {
		return domain.OrderResult{Success: false, Message: resp.Message}, nil
	}
	return domain.OrderResult{
		Success: true,
		OrderID: strconv.FormatInt(resp.Data.OrderID, 10),
		Message: resp.Data.Status,
	}, nil
}

// ClosePosition closes the venue's position in symbol with an opposite-side
// market order. Idempotent: no open position returns nil.
func (c *Client) ClosePosition(ctx context.Context, symbol string) error {
	positions, err := c.Positions(ctx)
	if err != nil {
		return fmt.Errorf("woofi: close %s: %w", symbol, err)
	}

	var target *domain.RawPosition
	for i := range positions {
		if positions[i].Symbol == symbol {
			target = &positions[i]
			break
		}
	}
	if target == nil {
		return nil // already closed
	}

	side := domain.OrderSideSell
	if target.Side == domain.PositionSideShort {
		side = domain.OrderSideBuy
	}
	result, err := c.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: symbol,
		Side:   side,
		Size:   target.Size,
		Type:   domain.OrderTypeMarket,
	})
	if err != nil {
		return fmt.Errorf("woofi: close %s: %w", symbol, err)
	}
	if !result.Success {
		return fmt.Errorf("woofi: close %s rejected: %s", symbol, result.Message)
	}
	return nil
}

// SetLeverage configures account leverage for the symbol, capped at the
// adapter's safe maximum.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	const maxLeverage = 5
	if leverage > maxLeverage {
		leverage = maxLeverage
	}
	body := map[string]any{
		"symbol":   denormalizeSymbol(symbol),
		"leverage": leverage,
	}
	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := c.doSigned(ctx, http.MethodPost, "/v1/client/leverage", body, &resp); err != nil {
		return fmt.Errorf("woofi: set leverage %s: %w", symbol, err)
	}
	if !resp.Success {
		return fmt.Errorf("woofi: set leverage %s rejected: %s", symbol, resp.Message)
	}
	return nil
}

// MarketInfo returns trading constraints for symbol from the public info
// endpoint.
func (c *Client) MarketInfo(ctx context.Context, symbol string) (domain.MarketInfo, error) {
	var resp struct {
		Data struct {
			Rows []struct {
				Symbol      string  `json:"symbol"`
				BaseMin     float64 `json:"base_min"`
				QuoteTick   float64 `json:"quote_tick"`
				MaxLeverage float64 `json:"max_leverage"`
			} `json:"rows"`
		} `json:"data"`
	}
	if err := c.doPublic(ctx, http.MethodGet, "/v1/public/info", &resp); err != nil {
		return domain.MarketInfo{}, fmt.Errorf("woofi: market info: %w", err)
	}
	for _, row := range resp.Data.Rows {
		if normalizeSymbol(row.Symbol) == symbol {
			maxLev := int(row.MaxLeverage)
			if maxLev == 0 {
				maxLev = 5
			}
			return domain.MarketInfo{
				Symbol:       symbol,
				MinOrderSize: row.BaseMin,
				TickSize:     row.QuoteTick,
				MaxLeverage:  maxLev,
			}, nil
		}
	}
	return domain.MarketInfo{}, fmt.Errorf("woofi: market info %s: %w", symbol, domain.ErrNotFound)
}

// --------------------------------------------------------------------------
// HTTP plumbing
// --------------------------------------------------------------------------

// doPublic performs an unsigned request and decodes the JSON response into out.
func (c *Client) doPublic(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

// doSigned performs a signed request. A non-nil body is JSON-encoded and
// included in the signature.
func (c *Client) doSigned(ctx context.Context, method, path string, body any, out any) error {
	if c.auth == nil {
		return fmt.Errorf("no credentials configured: %w", domain.ErrUnauthorized)
	}
	var bodyStr string
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyStr = string(encoded)
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range c.auth.Headers(method, path, bodyStr) {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(raw, 512))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Symbol mapping: PERP_BTC_USDC <-> BTC-PERP
// --------------------------------------------------------------------------

func normalizeSymbol(apiSymbol string) string {
	if strings.HasPrefix(apiSymbol, "PERP_") {
		parts := strings.Split(apiSymbol, "_")
		if len(parts) >= 3 {
			return parts[1] + "-PERP"
		}
	}
	return strings.ReplaceAll(apiSymbol, "_", "-")
}

func denormalizeSymbol(symbol string) string {
	if base, ok := strings.CutSuffix(symbol, "-PERP"); ok {
		return "PERP_" + base + "_USDC"
	}
	return strings.ReplaceAll(symbol, "-", "_")
}

func orderSide(side domain.OrderSide) string {
	if side == domain.OrderSideBuy {
		return "BUY"
	}
	return "SELL"
}

func symbolSet(symbols []string) map[string]bool {
	if len(symbols) == 0 {
		return nil
	}
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}
	return set
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Compile-time interface check.
var _ venue.Adapter = (*Client)(nil)
