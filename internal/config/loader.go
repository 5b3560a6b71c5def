package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUNDBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FUNDBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// --- Hyperliquid ---
	setStr(&cfg.Hyperliquid.WalletAddress, "FUNDBOT_HYPERLIQUID_WALLET_ADDRESS")
	setStr(&cfg.Hyperliquid.PrivateKey, "FUNDBOT_HYPERLIQUID_PRIVATE_KEY")
	setStr(&cfg.Hyperliquid.EncryptedKeyPath, "FUNDBOT_HYPERLIQUID_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Hyperliquid.KeyPassword, "FUNDBOT_HYPERLIQUID_KEY_PASSWORD")
	setStr(&cfg.Hyperliquid.BaseURL, "FUNDBOT_HYPERLIQUID_BASE_URL")
	setStr(&cfg.Hyperliquid.WsURL, "FUNDBOT_HYPERLIQUID_WS_URL")

	// --- WooFi Pro ---
	setStr(&cfg.Woofi.ApiKey, "FUNDBOT_WOOFI_API_KEY")
	setStr(&cfg.Woofi.SecretKey, "FUNDBOT_WOOFI_SECRET_KEY")
	setStr(&cfg.Woofi.AccountID, "FUNDBOT_WOOFI_ACCOUNT_ID")
	setStr(&cfg.Woofi.BaseURL, "FUNDBOT_WOOFI_BASE_URL")

	// --- Trading ---
	setFloat(&cfg.Trading.TotalCapitalUSDC, "FUNDBOT_TRADING_TOTAL_CAPITAL_USDC")
	setFloat(&cfg.Trading.MinEntryAPR, "FUNDBOT_TRADING_MIN_ENTRY_APR")
	setFloat(&cfg.Trading.MinDetectAPR, "FUNDBOT_TRADING_MIN_DETECT_APR")
	setInt(&cfg.Trading.Leverage, "FUNDBOT_TRADING_LEVERAGE")
	setInt(&cfg.Trading.MaxOpenPositions, "FUNDBOT_TRADING_MAX_OPEN_POSITIONS")
	setInt(&cfg.Trading.CycleSeconds, "FUNDBOT_TRADING_CYCLE_SECONDS")

	// --- Monitor ---
	setFloat(&cfg.Monitor.ExitAPRThreshold, "FUNDBOT_MONITOR_EXIT_APR_THRESHOLD")
	setFloat(&cfg.Monitor.StopLossAPR, "FUNDBOT_MONITOR_STOP_LOSS_APR")
	setFloat(&cfg.Monitor.MaxHoldHours, "FUNDBOT_MONITOR_MAX_HOLD_HOURS")

	// --- Postgres ---
	setStr(&cfg.Postgres.DSN, "FUNDBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FUNDBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUNDBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUNDBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUNDBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUNDBOT_POSTGRES_PASSWORD")
	setBool(&cfg.Postgres.Enabled, "FUNDBOT_POSTGRES_ENABLED")

	// --- Redis ---
	setStr(&cfg.Redis.Addr, "FUNDBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUNDBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUNDBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "FUNDBOT_REDIS_TLS_ENABLED")

	// --- S3 ---
	setBool(&cfg.S3.Enabled, "FUNDBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FUNDBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUNDBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUNDBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUNDBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUNDBOT_S3_SECRET_KEY")

	// --- Notify ---
	setStr(&cfg.Notify.TelegramToken, "FUNDBOT_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUNDBOT_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUNDBOT_DISCORD_WEBHOOK_URL")

	// --- Global ---
	setStr(&cfg.Mode, "FUNDBOT_MODE")
	setStr(&cfg.LogLevel, "FUNDBOT_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
