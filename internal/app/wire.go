package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/analyzer"
	"github.com/alanyoungcy/fundingbot/internal/archive"
	s3blob "github.com/alanyoungcy/fundingbot/internal/blob/s3"
	"github.com/alanyoungcy/fundingbot/internal/cache/redis"
	"github.com/alanyoungcy/fundingbot/internal/collector"
	"github.com/alanyoungcy/fundingbot/internal/config"
	"github.com/alanyoungcy/fundingbot/internal/crypto"
	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/executor"
	"github.com/alanyoungcy/fundingbot/internal/monitor"
	"github.com/alanyoungcy/fundingbot/internal/notify"
	"github.com/alanyoungcy/fundingbot/internal/store/postgres"
	"github.com/alanyoungcy/fundingbot/internal/tracker"
	"github.com/alanyoungcy/fundingbot/internal/venue"
	"github.com/alanyoungcy/fundingbot/internal/venue/hyperliquid"
	"github.com/alanyoungcy/fundingbot/internal/venue/woofi"
)

// Dependencies bundles everything the operating modes need. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Registry     *venue.Registry
	Tracker      *tracker.Tracker
	Consolidator *collector.Consolidator
	Detector     *collector.Detector
	Analyzer     *analyzer.Analyzer
	Engine       *executor.Engine
	Monitor      *monitor.Monitor
	Notifier     *notify.Notifier

	// Optional; nil when the backing service is not configured.
	QuoteCache domain.QuoteCache
	Archiver   *archive.Archiver
	MarkStream *hyperliquid.MarkPriceStream
}

// markPriceSource serves the sizing reference price. It prefers the
// websocket-fed cache and falls back to a REST lookup when the cached entry
// is missing or older than maxAge.
type markPriceSource struct {
	cache  domain.QuoteCache // nil when redis is not wired
	rest   *hyperliquid.Client
	maxAge time.Duration
}

func (p *markPriceSource) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	if p.cache != nil {
		price, ts, err := p.cache.GetMarkPrice(ctx, "hyperliquid", symbol)
		if err == nil && price > 0 && time.Since(ts) <= p.maxAge {
			return price, nil
		}
	}
	return p.rest.MarkPrice(ctx, symbol)
}

// needsAuth returns true for modes that sign orders or read account state.
// Detection only touches public endpoints.
func needsAuth(mode string) bool {
	return strings.ToLower(mode) != "detect"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function to call on
// shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Registry: venue.NewRegistry(),
		Tracker:  tracker.New(),
	}

	// --- Venue adapters ---
	privateKey, err := crypto.LoadKey(crypto.KeyConfig{
		PrivateKey:       cfg.Hyperliquid.PrivateKey,
		EncryptedKeyPath: cfg.Hyperliquid.EncryptedKeyPath,
		KeyPassword:      cfg.Hyperliquid.KeyPassword,
	})
	if err != nil && needsAuth(cfg.Mode) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: hyperliquid key: %w", err)
	}

	hlClient, err := hyperliquid.New(hyperliquid.Config{
		PrivateKey:           privateKey,
		WalletAddress:        cfg.Hyperliquid.WalletAddress,
		BaseURL:              cfg.Hyperliquid.BaseURL,
		FundingIntervalHours: cfg.Hyperliquid.FundingIntervalHours,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: hyperliquid: %w", err)
	}

	wooClient, err := woofi.New(woofi.Config{
		ApiKey:               cfg.Woofi.ApiKey,
		SecretKey:            cfg.Woofi.SecretKey,
		AccountID:            cfg.Woofi.AccountID,
		BaseURL:              cfg.Woofi.BaseURL,
		FundingIntervalHours: cfg.Woofi.FundingIntervalHours,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: woofi: %w", err)
	}

	for _, adapter := range []venue.Adapter{hlClient, wooClient} {
		if err := deps.Registry.Register(adapter); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: register venue: %w", err)
		}
	}

	if needsAuth(cfg.Mode) {
		for _, adapter := range deps.Registry.All() {
			if err := adapter.Authenticate(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: authenticate %s: %w", adapter.Name(), err)
			}
		}
	}

	// --- Redis (optional) ---
	var lockManager domain.LockManager
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			// Redis only adds quote resilience and cross-process locking;
			// the live venue re-check still guards duplicates without it.
			logger.Warn("redis unavailable, continuing without cache and locks",
				slog.String("error", err.Error()),
			)
		} else {
			closers = append(closers, func() { _ = redisClient.Close() })
			deps.QuoteCache = redis.NewQuoteCache(redisClient, cfg.QuoteTTL())
			lockManager = redis.NewLockManager(redisClient)
			deps.MarkStream = hyperliquid.NewMarkPriceStream(cfg.Hyperliquid.WsURL, deps.QuoteCache, logger)
		}
	}

	// --- Postgres (optional history) ---
	var history domain.ExecutionStore
	var journal domain.PositionJournal
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.MaxConns,
			MinConns: cfg.Postgres.MinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}

		pool := pgClient.Pool()
		history = postgres.NewExecutionStore(pool)
		journal = postgres.NewPositionJournal(pool)
	}

	// --- S3 snapshot archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Archiver = archive.New(s3blob.NewWriter(s3Client), "snapshots", logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Pipeline components ---
	deps.Consolidator = collector.NewConsolidator(deps.Registry, deps.QuoteCache, logger)
	deps.Detector = collector.NewDetector(cfg.Trading.MinDetectAPR, cfg.Trading.SupportedVenues, logger)
	deps.Analyzer = analyzer.New(cfg.Trading, logger)

	prices := &markPriceSource{cache: deps.QuoteCache, rest: hlClient, maxAge: time.Minute}
	deps.Engine = executor.NewEngine(deps.Registry, prices, deps.Tracker, cfg.Trading, logger)
	if lockManager != nil {
		deps.Engine.SetLockManager(lockManager)
	}
	if history != nil {
		deps.Engine.SetHistory(history)
	}
	if journal != nil {
		deps.Engine.SetJournal(journal)
	}
	deps.Engine.SetNotifier(deps.Notifier)

	deps.Monitor = monitor.New(deps.Registry, deps.Tracker, deps.Engine, cfg.Monitor, cfg.Trading, logger)
	deps.Monitor.SetNotifier(deps.Notifier)

	return deps, cleanup, nil
}
