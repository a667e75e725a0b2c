// Package config defines the top-level configuration for the arbitrage
// daemon and provides validation helpers and the atomically replaceable
// live arbitrage config.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBD_* environment variables.
type Config struct {
	Exchanges []ExchangeConfig `toml:"exchanges"`
	Pairs     []string         `toml:"pairs"`
	Arbitrage ArbitrageConfig  `toml:"arbitrage"`
	Feed      FeedConfig       `toml:"feed"`
	Advisor   AdvisorConfig    `toml:"advisor"`
	Postgres  PostgresConfig   `toml:"postgres"`
	Redis     RedisConfig      `toml:"redis"`
	S3        S3Config         `toml:"s3"`
	Notify    NotifyConfig     `toml:"notify"`
	Mode      string           `toml:"mode"`
	LogLevel  string           `toml:"log_level"`
}

// ExchangeConfig describes one trading venue.
type ExchangeConfig struct {
	ID          string  `toml:"id"`
	Name        string  `toml:"name"`
	WSURL       string  `toml:"ws_url"`
	TakerFeeBps float64 `toml:"taker_fee_bps"`
	// Pairs restricts the venue to a subset of the global pair list. Empty
	// means all pairs.
	Pairs []string `toml:"pairs"`
	// SymbolMap maps venue-specific symbols to canonical "BASE/QUOTE"
	// symbols, e.g. "XBTUSD" -> "BTC/USD".
	SymbolMap map[string]string `toml:"symbol_map"`
}

// ArbitrageConfig holds the tunable parameters read by the engine and the
// planner. It is replaced atomically via Live; readers never observe a
// partially updated config.
type ArbitrageConfig struct {
	// MinProfitPct is the minimum net spread percentage for an opportunity
	// to be inserted into the registry.
	MinProfitPct float64 `toml:"min_profit_pct"`
	// HighProfitPct is the notification threshold for the
	// high_profit_opportunity event.
	HighProfitPct       float64  `toml:"high_profit_pct"`
	AutoExecute         bool     `toml:"auto_execute"`
	MaxConcurrentTrades int      `toml:"max_concurrent_trades"`
	BalanceReservePct   float64  `toml:"balance_reserve_pct"`
	MaxTradeNotionalUSD float64  `toml:"max_trade_notional_usd"`
	RiskLevel           string   `toml:"risk_level"` // low | medium | high
	MaxExecutionTime    duration `toml:"max_execution_time"`
	MaxLegGap           duration `toml:"max_leg_gap"`
	// StalenessWindow is how long a DETECTED opportunity may go unrefreshed
	// before it expires.
	StalenessWindow duration `toml:"staleness_window"`
	// RetentionWindow is how long terminal opportunities stay queryable
	// before being pruned (and archived, when an archiver is wired).
	RetentionWindow duration `toml:"retention_window"`
	MaxSlippageBps  float64  `toml:"max_slippage_bps"`
	// PerVenueFeeBps overrides the exchange reference fee for profit math.
	PerVenueFeeBps map[string]float64 `toml:"per_venue_fee_bps"`
	// Compensation selects the partial-failure recovery policy:
	// "reverse" flattens filled legs with opposing orders, "none" records
	// the failure without corrective trades.
	Compensation string `toml:"compensation"`
}

// FeedConfig holds feed manager connection parameters.
type FeedConfig struct {
	ReconnectMaxAttempts int      `toml:"reconnect_max_attempts"`
	ReconnectBaseDelay   duration `toml:"reconnect_base_delay"`
	ReconnectMaxDelay    duration `toml:"reconnect_max_delay"`
	BufferSize           int      `toml:"buffer_size"`
}

// AdvisorConfig holds the AgentZero advisory collaborator parameters.
type AdvisorConfig struct {
	Enabled bool     `toml:"enabled"`
	URL     string   `toml:"url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters for the audit store.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the snapshot mirror and
// the external event bus.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the
// opportunity archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Pairs: []string{"BTC/USD", "ETH/USD"},
		Arbitrage: ArbitrageConfig{
			MinProfitPct:        0.5,
			HighProfitPct:       2.0,
			AutoExecute:         false,
			MaxConcurrentTrades: 3,
			BalanceReservePct:   20.0,
			MaxTradeNotionalUSD: 1000.0,
			RiskLevel:           "medium",
			MaxExecutionTime:    duration{10 * time.Second},
			MaxLegGap:           duration{2 * time.Second},
			StalenessWindow:     duration{30 * time.Second},
			RetentionWindow:     duration{15 * time.Minute},
			MaxSlippageBps:      20.0,
			PerVenueFeeBps:      map[string]float64{},
			Compensation:        "reverse",
		},
		Feed: FeedConfig{
			ReconnectMaxAttempts: 5,
			ReconnectBaseDelay:   duration{time.Second},
			ReconnectMaxDelay:    duration{30 * time.Second},
			BufferSize:           256,
		},
		Advisor: AdvisorConfig{
			Enabled: false,
			Timeout: duration{3 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "arbd-archive",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"high_profit_opportunity", "execution_failed"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":    true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validRiskLevels enumerates the accepted values for ArbitrageConfig.RiskLevel.
var validRiskLevels = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.Exchanges) < 2 {
		errs = append(errs, "exchanges: at least two venues are required for cross-exchange arbitrage")
	}
	seen := map[string]bool{}
	for i, ex := range c.Exchanges {
		if ex.ID == "" {
			errs = append(errs, fmt.Sprintf("exchanges[%d]: id must not be empty", i))
			continue
		}
		if seen[ex.ID] {
			errs = append(errs, fmt.Sprintf("exchanges[%d]: duplicate id %q", i, ex.ID))
		}
		seen[ex.ID] = true
		if strings.ToLower(c.Mode) == "live" && ex.WSURL == "" {
			errs = append(errs, fmt.Sprintf("exchanges[%d]: ws_url is required in live mode", i))
		}
	}

	if len(c.Pairs) == 0 {
		errs = append(errs, "pairs: at least one trading pair is required")
	}
	for i, p := range c.Pairs {
		if !strings.Contains(p, "/") {
			errs = append(errs, fmt.Sprintf("pairs[%d]: %q is not in BASE/QUOTE form", i, p))
		}
	}

	a := c.Arbitrage
	if a.MinProfitPct <= 0 {
		errs = append(errs, "arbitrage: min_profit_pct must be > 0")
	}
	if a.HighProfitPct < a.MinProfitPct {
		errs = append(errs, "arbitrage: high_profit_pct must be >= min_profit_pct")
	}
	if a.MaxConcurrentTrades < 1 {
		errs = append(errs, "arbitrage: max_concurrent_trades must be >= 1")
	}
	if a.BalanceReservePct < 0 || a.BalanceReservePct >= 100 {
		errs = append(errs, "arbitrage: balance_reserve_pct must be in [0, 100)")
	}
	if a.MaxTradeNotionalUSD <= 0 {
		errs = append(errs, "arbitrage: max_trade_notional_usd must be > 0")
	}
	if !validRiskLevels[strings.ToLower(a.RiskLevel)] {
		errs = append(errs, fmt.Sprintf("arbitrage: unknown risk_level %q (valid: low, medium, high)", a.RiskLevel))
	}
	if a.MaxExecutionTime.Duration <= 0 {
		errs = append(errs, "arbitrage: max_execution_time must be > 0")
	}
	if a.StalenessWindow.Duration <= 0 {
		errs = append(errs, "arbitrage: staleness_window must be > 0")
	}
	if a.Compensation != "reverse" && a.Compensation != "none" {
		errs = append(errs, fmt.Sprintf("arbitrage: unknown compensation policy %q (valid: reverse, none)", a.Compensation))
	}

	if c.Feed.ReconnectMaxAttempts < 1 {
		errs = append(errs, "feed: reconnect_max_attempts must be >= 1")
	}
	if c.Feed.BufferSize < 1 {
		errs = append(errs, "feed: buffer_size must be >= 1")
	}

	if c.Advisor.Enabled {
		if c.Advisor.URL == "" {
			errs = append(errs, "advisor: url is required when enabled")
		}
		if c.Advisor.Timeout.Duration <= 0 {
			errs = append(errs, "advisor: timeout must be > 0 when enabled")
		}
	}

	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
