package hyperliquid

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

const (
	defaultWSURL      = "wss://api.hyperliquid.xyz/ws"
	wsReadLimit       = 1 << 20
	wsPingInterval    = 30 * time.Second
	wsReconnectMin    = time.Second
	wsReconnectMax    = 30 * time.Second
	wsHandshakeWindow = 10 * time.Second
)

// MarkPriceStream subscribes to the venue's allMids websocket channel and
// writes mark prices into a quote cache. It reconnects with exponential
// backoff until its context is cancelled.
type MarkPriceStream struct {
	url    string
	cache  domain.QuoteCache
	logger *slog.Logger
}

// NewMarkPriceStream creates a stream writing into cache. An empty url uses
// the production endpoint.
func NewMarkPriceStream(url string, cache domain.QuoteCache, logger *slog.Logger) *MarkPriceStream {
	if url == "" {
		url = defaultWSURL
	}
	return &MarkPriceStream{
		url:    url,
		cache:  cache,
		logger: logger.With(slog.String("component", "hyperliquid_ws")),
	}
}

// Run blocks until ctx is cancelled, maintaining the subscription across
// disconnects.
func (s *MarkPriceStream) Run(ctx context.Context) error {
	backoff := wsReconnectMin
	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.WarnContext(ctx, "websocket disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > wsReconnectMax {
			backoff = wsReconnectMax
		}
	}
}

func (s *MarkPriceStream) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, wsHandshakeWindow)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	sub := map[string]any{
		"method":       "subscribe",
		"subscription": map[string]any{"type": "allMids"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.logger.InfoContext(ctx, "websocket connected")

	// Close the connection when ctx is cancelled so the read loop unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteJSON(map[string]string{"method": "ping"}); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		var msg struct {
			Channel string `json:"channel"`
			Data    struct {
				Mids map[string]string `json:"mids"`
			} `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if msg.Channel != "allMids" {
			continue
		}
		now := time.Now().UTC()
		for coin, raw := range msg.Data.Mids {
			px, err := strconv.ParseFloat(raw, 64)
			if err != nil || px <= 0 {
				continue
			}
			if err := s.cache.SetMarkPrice(ctx, venueName, coin+"-PERP", px, now); err != nil {
				s.logger.DebugContext(ctx, "mark price cache write failed",
					slog.String("symbol", coin), slog.String("error", err.Error()))
			}
		}
	}
}
