// Package hyperliquid implements the venue adapter for the Hyperliquid
// perpetuals DEX. Public data comes from the /info endpoint; trading actions
// go through /exchange and are authorized with EIP-712 agent signatures.
package hyperliquid

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
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/crypto"
	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/venue"
)

const venueName = "hyperliquid"

// Config holds the parameters for the Hyperliquid adapter.
type Config struct {
	PrivateKey           string
	WalletAddress        string
	BaseURL              string
	ChainID              int64
	FundingIntervalHours int
}

// Client is the Hyperliquid venue adapter.
type Client struct {
	baseURL        string
	wallet         string
	signer         *crypto.AgentSigner
	httpClient     *http.Client
	periodsPerYear float64
	authenticated  atomic.Bool
	logger         *slog.Logger

	mu     sync.Mutex
	assets map[string]assetMeta // coin -> meta, loaded on Authenticate
}

type assetMeta struct {
	index      int
	szDecimals int
	maxLev     int
}

// New creates a Hyperliquid adapter. It does not contact the venue; call
// Authenticate before trading.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	chainID := cfg.ChainID
	if chainID == 0 {
		chainID = 1337
	}
	// A missing key still allows public endpoints (funding rates, mark
	// prices); anything that signs fails with ErrUnauthorized.
	var signer *crypto.AgentSigner
	wallet := cfg.WalletAddress
	if cfg.PrivateKey != "" {
		var err error
		signer, err = crypto.NewAgentSigner(cfg.PrivateKey, chainID, "a")
		if err != nil {
			return nil, fmt.Errorf("hyperliquid: %w", err)
		}
		if wallet == "" {
			wallet = signer.Address()
		}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.hyperliquid.xyz"
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		wallet:         wallet,
		signer:         signer,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		periodsPerYear: venue.PeriodsPerYear(cfg.FundingIntervalHours),
		logger:         logger.With(slog.String("venue", venueName)),
	}, nil
}

// Name returns the venue identifier.
func (c *Client) Name() string { return venueName }

// Authenticated reports whether the last Authenticate succeeded.
func (c *Client) Authenticated() bool { return c.authenticated.Load() }

// Authenticate loads the asset universe and verifies the account is
// reachable. Safe to call again after a failure.
func (c *Client) Authenticate(ctx context.Context) error {
	if err := c.loadAssets(ctx); err != nil {
		c.authenticated.Store(false)
		return fmt.Errorf("hyperliquid: authenticate: %w", err)
	}
	var state clearinghouseState
	if err := c.info(ctx, map[string]any{"type": "clearinghouseState", "user": c.wallet}, &state); err != nil {
		c.authenticated.Store(false)
		return fmt.Errorf("hyperliquid: authenticate: %w", err)
	}
	c.authenticated.Store(true)
	return nil
}

// FundingRates returns current funding quotes from the asset contexts. The
// venue reports an hourly rate; APR follows the configured funding interval.
func (c *Client) FundingRates(ctx context.Context, symbols []string) ([]domain.FundingQuote, error) {
	var raw []json.RawMessage
	if err := c.info(ctx, map[string]any{"type": "metaAndAssetCtxs"}, &raw); err != nil {
		return nil, fmt.Errorf("hyperliquid: funding rates: %w", err)
	}
	if len(raw) != 2 {
		return nil, fmt.Errorf("hyperliquid: funding rates: unexpected response shape")
	}

	var meta struct {
		Universe []struct {
			Name string `json:"name"`
		} `json:"universe"`
	}
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return nil, fmt.Errorf("hyperliquid: funding rates: decode meta: %w", err)
	}
	var ctxs []struct {
		Funding string `json:"funding"`
		MarkPx  string `json:"markPx"`
	}
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return nil, fmt.Errorf("hyperliquid: funding rates: decode contexts: %w", err)
	}
	if len(ctxs) != len(meta.Universe) {
		return nil, fmt.Errorf("hyperliquid: funding rates: universe/context length mismatch")
	}

	filter := symbolSet(symbols)
	now := time.Now().UTC()
	nextFunding := now.Truncate(time.Hour).Add(time.Hour)
	quotes := make([]domain.FundingQuote, 0, len(ctxs))
	for i, assetCtx := range ctxs {
		sym := meta.Universe[i].Name + "-PERP"
		if filter != nil && !filter[sym] {
			continue
		}
		rate, err := strconv.ParseFloat(assetCtx.Funding, 64)
		if err != nil {
			c.logger.DebugContext(ctx, "skipping unparseable funding rate",
				slog.String("symbol", sym), slog.String("raw", assetCtx.Funding))
			continue
		}
		quotes = append(quotes, domain.FundingQuote{
			Symbol:          sym,
			Venue:           venueName,
			Rate:            rate,
			NextFundingTime: nextFunding,
			APR:             rate * c.periodsPerYear * 100,
			ObservedAt:      now,
		})
	}
	return quotes, nil
}

type clearinghouseState struct {
	AssetPositions []struct {
		Position struct {
			Coin       string `json:"coin"`
			Szi        string `json:"szi"`
			EntryPx    string `json:"entryPx"`
			Unrealized string `json:"unrealizedPnl"`
			CumFunding struct {
				SinceOpen string `json:"sinceOpen"`
			} `json:"cumFunding"`
		} `json:"position"`
	} `json:"assetPositions"`
	Withdrawable       string `json:"withdrawable"`
	CrossMarginSummary struct {
		AccountValue string `json:"accountValue"`
	} `json:"crossMarginSummary"`
}

// Positions returns all open positions for the account.
func (c *Client) Positions(ctx context.Context) ([]domain.RawPosition, error) {
	var state clearinghouseState
	if err := c.info(ctx, map[string]any{"type": "clearinghouseState", "user": c.wallet}, &state); err != nil {
		return nil, fmt.Errorf("hyperliquid: positions: %w", err)
	}

	positions := make([]domain.RawPosition, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		szi := parseFloat(ap.Position.Szi)
		if szi == 0 {
			continue
		}
		side := domain.PositionSideLong
		if szi < 0 {
			side = domain.PositionSideShort
		}
		// cumFunding.sinceOpen is the fee paid; received funding is the
		// negation.
		positions = append(positions, domain.RawPosition{
			Symbol:          ap.Position.Coin + "-PERP",
			Venue:           venueName,
			Side:            side,
			Size:            math.Abs(szi),
			EntryPrice:      parseFloat(ap.Position.EntryPx),
			UnrealizedPnL:   parseFloat(ap.Position.Unrealized),
			FundingReceived: -parseFloat(ap.Position.CumFunding.SinceOpen),
		})
	}
	return positions, nil
}

// Balances returns the account's USDC margin balance.
func (c *Client) Balances(ctx context.Context) ([]domain.Balance, error) {
	var state clearinghouseState
	if err := c.info(ctx, map[string]any{"type": "clearinghouseState", "user": c.wallet}, &state); err != nil {
		return nil, fmt.Errorf("hyperliquid: balances: %w", err)
	}
	total := parseFloat(state.CrossMarginSummary.AccountValue)
	available := parseFloat(state.Withdrawable)
	return []domain.Balance{{
		Venue:     venueName,
		Asset:     "USDC",
		Available: available,
		Locked:    total - available,
		Total:     total,
	}}, nil
}

// PlaceOrder submits one order. Market orders are expressed as aggressive IOC
// limit orders at the mark price padded by maxSlippage.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	const maxSlippage = 0.01

	coin := strings.TrimSuffix(req.Symbol, "-PERP")
	meta, err := c.assetMeta(ctx, coin)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("hyperliquid: place order: %w", err)
	}

	isBuy := req.Side == domain.OrderSideBuy
	var price float64
	var tif string
	if req.Type == domain.OrderTypeLimit && req.Price != nil {
		price = *req.Price
		tif = "Gtc"
	} else {
		mark, err := c.markPrice(ctx, coin)
		if err != nil {
			return domain.OrderResult{}, fmt.Errorf("hyperliquid: place order: %w", err)
		}
		if isBuy {
			price = mark * (1 + maxSlippage)
		} else {
			price = mark * (1 - maxSlippage)
		}
		tif = "Ioc"
	}

	size := roundToDecimals(req.Size, meta.szDecimals)
	if size <= 0 {
		return domain.OrderResult{}, fmt.Errorf("hyperliquid: place order: size %v rounds to zero", req.Size)
	}

	action := map[string]any{
		"type": "order",
		"orders": []map[string]any{{
			"a": meta.index,
			"b": isBuy,
			"p": formatPrice(price, meta.szDecimals),
			"s": strconv.FormatFloat(size, 'f', -1, 64),
			"r": false,
			"t": map[string]any{"limit": map[string]any{"tif": tif}},
		}},
		"grouping": "na",
	}

	var resp struct {
		Status   string `json:"status"`
		Response struct {
			Data struct {
				Statuses []json.RawMessage `json:"statuses"`
			} `json:"data"`
		} `json:"response"`
	}
	if err := c.exchange(ctx, action, &resp); err != nil {
		return domain.OrderResult{Success: false, Message: err.Error()}, err
	}
	if resp.Status != "ok" {
		return domain.OrderResult{Success: false, Message: resp.Status}, nil
	}

	orderID, fillErr := parseOrderStatus(resp.Response.Data.Statuses)
	if fillErr != "" {
		return domain.OrderResult{Success: false, Message: fillErr}, nil
	}
	return domain.OrderResult{Success: true, OrderID: orderID, Message: "ok"}, nil
}

// ClosePosition closes the venue's position in symbol with an opposite-side
// reduce order. Idempotent: no open position returns nil.
func (c *Client) ClosePosition(ctx context.Context, symbol string) error {
	positions, err := c.Positions(ctx)
	if err != nil {
		return fmt.Errorf("hyperliquid: close %s: %w", symbol, err)
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
		return fmt.Errorf("hyperliquid: close %s: %w", symbol, err)
	}
	if !result.Success {
		return fmt.Errorf("hyperliquid: close %s rejected: %s", symbol, result.Message)
	}
	return nil
}

// SetLeverage updates cross leverage for the symbol, capped by the asset's
// maximum.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	coin := strings.TrimSuffix(symbol, "-PERP")
	meta, err := c.assetMeta(ctx, coin)
	if err != nil {
		return fmt.Errorf("hyperliquid: set leverage %s: %w", symbol, err)
	}
	if meta.maxLev > 0 && leverage > meta.maxLev {
		leverage = meta.maxLev
	}
	action := map[string]any{
		"type":     "updateLeverage",
		"asset":    meta.index,
		"isCross":  true,
		"leverage": leverage,
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.exchange(ctx, action, &resp); err != nil {
		return fmt.Errorf("hyperliquid: set leverage %s: %w", symbol, err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("hyperliquid: set leverage %s rejected: %s", symbol, resp.Status)
	}
	return nil
}

// MarketInfo returns trading constraints for symbol from the asset universe.
func (c *Client) MarketInfo(ctx context.Context, symbol string) (domain.MarketInfo, error) {
	coin := strings.TrimSuffix(symbol, "-PERP")
	meta, err := c.assetMeta(ctx, coin)
	if err != nil {
		return domain.MarketInfo{}, fmt.Errorf("hyperliquid: market info %s: %w", symbol, err)
	}
	tick := math.Pow10(-meta.szDecimals)
	return domain.MarketInfo{
		Symbol:       symbol,
		MinOrderSize: tick,
		TickSize:     tick,
		MaxLeverage:  meta.maxLev,
	}, nil
}

// --------------------------------------------------------------------------
// Asset metadata
// --------------------------------------------------------------------------

func (c *Client) assetMeta(ctx context.Context, coin string) (assetMeta, error) {
	c.mu.Lock()
	meta, ok := c.assets[coin]
	c.mu.Unlock()
	if ok {
		return meta, nil
	}
	if err := c.loadAssets(ctx); err != nil {
		return assetMeta{}, err
	}
	c.mu.Lock()
	meta, ok = c.assets[coin]
	c.mu.Unlock()
	if !ok {
		return assetMeta{}, fmt.Errorf("asset %s: %w", coin, domain.ErrNotFound)
	}
	return meta, nil
}

func (c *Client) loadAssets(ctx context.Context) error {
	var meta struct {
		Universe []struct {
			Name        string `json:"name"`
			SzDecimals  int    `json:"szDecimals"`
			MaxLeverage int    `json:"maxLeverage"`
		} `json:"universe"`
	}
	if err := c.info(ctx, map[string]any{"type": "meta"}, &meta); err != nil {
		return fmt.Errorf("load assets: %w", err)
	}
	assets := make(map[string]assetMeta, len(meta.Universe))
	for i, u := range meta.Universe {
		assets[u.Name] = assetMeta{index: i, szDecimals: u.SzDecimals, maxLev: u.MaxLeverage}
	}
	c.mu.Lock()
	c.assets = assets
	c.mu.Unlock()
	return nil
}

// MarkPrice returns the current mid price for symbol.
func (c *Client) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	return c.markPrice(ctx, strings.TrimSuffix(symbol, "-PERP"))
}

func (c *Client) markPrice(ctx context.Context, coin string) (float64, error) {
	var mids map[string]string
	if err := c.info(ctx, map[string]any{"type": "allMids"}, &mids); err != nil {
		return 0, fmt.Errorf("mark price: %w", err)
	}
	raw, ok := mids[coin]
	if !ok {
		return 0, fmt.Errorf("mark price %s: %w", coin, domain.ErrNotFound)
	}
	px := parseFloat(raw)
	if px <= 0 {
		return 0, fmt.Errorf("mark price %s: bad value %q", coin, raw)
	}
	return px, nil
}

// --------------------------------------------------------------------------
// HTTP plumbing
// --------------------------------------------------------------------------

func (c *Client) info(ctx context.Context, payload map[string]any, out any) error {
	return c.post(ctx, "/info", payload, out)
}

// exchange signs the action with the agent key and submits it.
func (c *Client) exchange(ctx context.Context, action map[string]any, out any) error {
	if c.signer == nil {
		return fmt.Errorf("no signing key configured: %w", domain.ErrUnauthorized)
	}
	nonce := uint64(time.Now().UnixMilli())
	actionBytes, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	connectionID := crypto.ConnectionID(actionBytes, nonce)
	r, s, v, err := c.signer.SignAction(connectionID)
	if err != nil {
		return fmt.Errorf("sign action: %w", err)
	}
	payload := map[string]any{
		"action": action,
		"nonce":  nonce,
		"signature": map[string]any{
			"r": r,
			"s": s,
			"v": v,
		},
	}
	return c.post(ctx, "/exchange", payload, out)
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
// Helpers
// --------------------------------------------------------------------------

// parseOrderStatus extracts the order ID from the first status entry, or an
// error message if the venue rejected the order.
func parseOrderStatus(statuses []json.RawMessage) (orderID, errMsg string) {
	if len(statuses) == 0 {
		return "", "no order status returned"
	}
	var status struct {
		Error   string `json:"error"`
		Resting struct {
			Oid int64 `json:"oid"`
		} `json:"resting"`
		Filled struct {
			Oid int64 `json:"oid"`
		} `json:"filled"`
	}
	if err := json.Unmarshal(statuses[0], &status); err != nil {
		return "", fmt.Sprintf("decode order status: %v", err)
	}
	if status.Error != "" {
		return "", status.Error
	}
	if status.Filled.Oid != 0 {
		return strconv.FormatInt(status.Filled.Oid, 10), ""
	}
	return strconv.FormatInt(status.Resting.Oid, 10), ""
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func roundToDecimals(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}

// formatPrice trims the price to at most 5 significant figures, which the
// venue requires for perp orders.
func formatPrice(px float64, szDecimals int) string {
	maxDecimals := 6 - szDecimals
	rounded := roundToSigFigs(px, 5)
	rounded = roundToDecimals(rounded, maxDecimals)
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}

func roundToSigFigs(v float64, figs int) float64 {
	if v == 0 {
		return 0
	}
	mag := math.Ceil(math.Log10(math.Abs(v)))
	scale := math.Pow10(figs - int(mag))
	return math.Round(v*scale) / scale
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
