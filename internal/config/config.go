// Package config defines the top-level configuration for the funding
// arbitrage bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FUNDBOT_* environment
// variables.
type Config struct {
	Hyperliquid HyperliquidConfig `toml:"hyperliquid"`
	Woofi       WoofiConfig       `toml:"woofi"`
	Trading     TradingConfig     `toml:"trading"`
	Monitor     MonitorConfig     `toml:"monitor"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// HyperliquidConfig holds Hyperliquid API credentials and parameters.
type HyperliquidConfig struct {
	WalletAddress    string `toml:"wallet_address"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	BaseURL          string `toml:"base_url"`
	WsURL            string `toml:"ws_url"`
	// FundingIntervalHours is the venue's settlement cadence. Hyperliquid
	// settles hourly; the annualization constant is derived from this and
	// must match the venue's real cadence.
	FundingIntervalHours int `toml:"funding_interval_hours"`
}

// WoofiConfig holds WooFi Pro (Orderly) API credentials and parameters.
type WoofiConfig struct {
	ApiKey               string `toml:"api_key"`
	SecretKey            string `toml:"secret_key"`
	AccountID            string `toml:"account_id"`
	BaseURL              string `toml:"base_url"`
	FundingIntervalHours int    `toml:"funding_interval_hours"`
}

// TradingConfig holds entry, sizing, and execution parameters.
type TradingConfig struct {
	TotalCapitalUSDC      float64  `toml:"total_capital_usdc"`
	MinEntryAPR           float64  `toml:"min_entry_apr"`      // percent
	MinDetectAPR          float64  `toml:"min_detect_apr"`     // percent, detector floor
	MinConfidencePct      float64  `toml:"min_confidence_pct"` // 0-100 scale
	FundingBufferMinutes  int      `toml:"funding_buffer_minutes"`
	Leverage              int      `toml:"leverage"`
	MinCollateralUSDC     float64  `toml:"min_collateral_usdc"`
	MaxCollateralUSDC     float64  `toml:"max_collateral_usdc"`
	MaxOpenPositions      int      `toml:"max_open_positions"`
	MaxExecutionsPerCycle int      `toml:"max_executions_per_cycle"`
	ExecTimeoutSeconds    int      `toml:"exec_timeout_seconds"`
	CycleSeconds          int      `toml:"cycle_seconds"`
	SupportedVenues       []string `toml:"supported_venues"`
}

// MonitorConfig holds position lifecycle thresholds.
type MonitorConfig struct {
	ExitAPRThreshold   float64 `toml:"exit_apr_threshold"`   // percent
	StopLossAPR        float64 `toml:"stop_loss_apr"`        // percent, deep negative
	MaxHoldHours       float64 `toml:"max_hold_hours"`
	MaxLossUSDC        float64 `toml:"max_loss_usdc"`        // negative bound on unrealized PnL
	MaxNegativeFunding float64 `toml:"max_negative_funding"` // negative bound on funding received
	// FlipSideVenue names the venue whose reported position side is
	// corrected when both venues report the same side for one symbol. Empty
	// disables the heuristic.
	FlipSideVenue string `toml:"flip_side_venue"`
}

// PostgresConfig holds connection parameters for the history database.
type PostgresConfig struct {
	DSN      string `toml:"dsn"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	SSLMode  string `toml:"ssl_mode"`
	MaxConns int    `toml:"pool_max_conns"`
	MinConns int    `toml:"pool_min_conns"`
	Enabled  bool   `toml:"enabled"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	PoolSize        int    `toml:"pool_size"`
	MaxRetries      int    `toml:"max_retries"`
	TLSEnabled      bool   `toml:"tls_enabled"`
	QuoteTTLSeconds int    `toml:"quote_ttl_seconds"`
}

// S3Config holds S3-compatible object storage parameters for cycle snapshot
// archiving.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials and event filters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with sensible defaults. Values mirror
// the live deployment's tuning; secrets are intentionally empty.
func Defaults() Config {
	return Config{
		Hyperliquid: HyperliquidConfig{
			BaseURL:              "https://api.hyperliquid.xyz",
			WsURL:                "wss://api.hyperliquid.xyz/ws",
			FundingIntervalHours: 1,
		},
		Woofi: WoofiConfig{
			BaseURL:              "https://api.orderly.org",
			FundingIntervalHours: 8,
		},
		Trading: TradingConfig{
			TotalCapitalUSDC:      580,
			MinEntryAPR:           80,
			MinDetectAPR:          10,
			MinConfidencePct:      0.1,
			FundingBufferMinutes:  2,
			Leverage:              3,
			MinCollateralUSDC:     50,
			MaxCollateralUSDC:     150,
			MaxOpenPositions:      5,
			MaxExecutionsPerCycle: 3,
			ExecTimeoutSeconds:    30,
			CycleSeconds:          300,
			SupportedVenues:       []string{"hyperliquid", "woofi_pro"},
		},
		Monitor: MonitorConfig{
			ExitAPRThreshold:   50,
			StopLossAPR:        -10,
			MaxHoldHours:       48,
			MaxLossUSDC:        -50,
			MaxNegativeFunding: -30,
			FlipSideVenue:      "hyperliquid",
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			QuoteTTLSeconds: 600,
		},
		Postgres: PostgresConfig{
			SSLMode: "disable",
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// Validate checks the configuration for inconsistencies and missing required
// fields given the configured mode.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "trade", "monitor", "detect":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.Trading.Leverage < 1 {
		return fmt.Errorf("config: leverage must be >= 1, got %d", c.Trading.Leverage)
	}
	if c.Trading.MinCollateralUSDC > c.Trading.MaxCollateralUSDC {
		return fmt.Errorf("config: min collateral %.2f exceeds max %.2f",
			c.Trading.MinCollateralUSDC, c.Trading.MaxCollateralUSDC)
	}
	if c.Trading.MinEntryAPR < c.Trading.MinDetectAPR {
		return fmt.Errorf("config: min entry APR %.1f below detector floor %.1f",
			c.Trading.MinEntryAPR, c.Trading.MinDetectAPR)
	}
	if len(c.Trading.SupportedVenues) < 2 {
		return fmt.Errorf("config: need at least two supported venues, got %d",
			len(c.Trading.SupportedVenues))
	}
	if c.Hyperliquid.FundingIntervalHours <= 0 || c.Woofi.FundingIntervalHours <= 0 {
		return fmt.Errorf("config: funding interval hours must be positive")
	}
	if c.Monitor.MaxHoldHours <= 0 {
		return fmt.Errorf("config: max hold hours must be positive")
	}
	if c.Monitor.MaxLossUSDC >= 0 || c.Monitor.MaxNegativeFunding >= 0 {
		return fmt.Errorf("config: loss bounds must be negative")
	}
	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" && strings.TrimSpace(c.Postgres.Host) == "" {
		return fmt.Errorf("config: postgres enabled but no DSN or host configured")
	}
	if c.S3.Enabled && strings.TrimSpace(c.S3.Bucket) == "" {
		return fmt.Errorf("config: s3 enabled but no bucket configured")
	}
	return nil
}

// CycleInterval returns the control loop period.
func (c *Config) CycleInterval() time.Duration {
	if c.Trading.CycleSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Trading.CycleSeconds) * time.Second
}

// ExecTimeout returns the shared dual-leg execution timeout.
func (t TradingConfig) ExecTimeout() time.Duration {
	if t.ExecTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(t.ExecTimeoutSeconds) * time.Second
}

// QuoteTTL returns the quote cache TTL.
func (c *Config) QuoteTTL() time.Duration {
	if c.Redis.QuoteTTLSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Redis.QuoteTTLSeconds) * time.Second
}
