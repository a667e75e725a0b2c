package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Arbitrage ──
	setFloat64(&cfg.Arbitrage.MinProfitPct, "ARBD_ARBITRAGE_MIN_PROFIT_PCT")
	setFloat64(&cfg.Arbitrage.HighProfitPct, "ARBD_ARBITRAGE_HIGH_PROFIT_PCT")
	setBool(&cfg.Arbitrage.AutoExecute, "ARBD_ARBITRAGE_AUTO_EXECUTE")
	setInt(&cfg.Arbitrage.MaxConcurrentTrades, "ARBD_ARBITRAGE_MAX_CONCURRENT_TRADES")
	setFloat64(&cfg.Arbitrage.BalanceReservePct, "ARBD_ARBITRAGE_BALANCE_RESERVE_PCT")
	setFloat64(&cfg.Arbitrage.MaxTradeNotionalUSD, "ARBD_ARBITRAGE_MAX_TRADE_NOTIONAL_USD")
	setStr(&cfg.Arbitrage.RiskLevel, "ARBD_ARBITRAGE_RISK_LEVEL")
	setDuration(&cfg.Arbitrage.MaxExecutionTime, "ARBD_ARBITRAGE_MAX_EXECUTION_TIME")
	setDuration(&cfg.Arbitrage.MaxLegGap, "ARBD_ARBITRAGE_MAX_LEG_GAP")
	setDuration(&cfg.Arbitrage.StalenessWindow, "ARBD_ARBITRAGE_STALENESS_WINDOW")
	setDuration(&cfg.Arbitrage.RetentionWindow, "ARBD_ARBITRAGE_RETENTION_WINDOW")
	setFloat64(&cfg.Arbitrage.MaxSlippageBps, "ARBD_ARBITRAGE_MAX_SLIPPAGE_BPS")
	setStr(&cfg.Arbitrage.Compensation, "ARBD_ARBITRAGE_COMPENSATION")

	// ── Feed ──
	setInt(&cfg.Feed.ReconnectMaxAttempts, "ARBD_FEED_RECONNECT_MAX_ATTEMPTS")
	setDuration(&cfg.Feed.ReconnectBaseDelay, "ARBD_FEED_RECONNECT_BASE_DELAY")
	setDuration(&cfg.Feed.ReconnectMaxDelay, "ARBD_FEED_RECONNECT_MAX_DELAY")
	setInt(&cfg.Feed.BufferSize, "ARBD_FEED_BUFFER_SIZE")

	// ── Advisor ──
	setBool(&cfg.Advisor.Enabled, "ARBD_ADVISOR_ENABLED")
	setStr(&cfg.Advisor.URL, "ARBD_ADVISOR_URL")
	setStr(&cfg.Advisor.APIKey, "ARBD_ADVISOR_API_KEY")
	setDuration(&cfg.Advisor.Timeout, "ARBD_ADVISOR_TIMEOUT")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBD_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBD_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBD_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStringSlice(&cfg.Pairs, "ARBD_PAIRS")
	setStr(&cfg.Mode, "ARBD_MODE")
	setStr(&cfg.LogLevel, "ARBD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
