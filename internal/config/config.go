// Package config defines the top-level configuration for the arbitrage bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBOT_* environment variables.
type Config struct {
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Fees       FeesConfig       `toml:"fees"`
	Matcher    MatcherConfig    `toml:"matcher"`
	Detect     DetectConfig     `toml:"detect"`
	Risk       RiskConfig       `toml:"risk"`
	Exec       ExecConfig       `toml:"exec"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// KalshiConfig holds Kalshi exchange API parameters.
type KalshiConfig struct {
	ApiKey            string `toml:"api_key"`
	RsaPrivateKeyPath string `toml:"rsa_private_key_path"`
	BaseURL           string `toml:"base_url"`
	WsURL             string `toml:"ws_url"`
	RateLimitPerSec   int    `toml:"rate_limit_per_sec"`
}

// PolymarketConfig holds Polymarket CLOB API parameters.
type PolymarketConfig struct {
	ClobHost        string `toml:"clob_host"`
	GammaHost       string `toml:"gamma_host"`
	WsHost          string `toml:"ws_host"`
	PrivateKey      string `toml:"private_key"`
	KeyfilePath     string `toml:"keyfile_path"`
	KeyfilePass     string `toml:"keyfile_pass"`
	ChainID         int    `toml:"chain_id"`
	RateLimitPerSec int    `toml:"rate_limit_per_sec"`
}

// FeesConfig holds the per-venue settlement fee schedules. K is the convex
// fee coefficient in basis points of p*(100-p); flat_cents is a constant fee
// per contract.
type FeesConfig struct {
	Kalshi     FeeScheduleConfig `toml:"kalshi"`
	Polymarket FeeScheduleConfig `toml:"polymarket"`
}

// FeeScheduleConfig describes one venue's fee curve.
type FeeScheduleConfig struct {
	Convex    bool  `toml:"convex"`
	K         int64 `toml:"k"`
	FlatCents int64 `toml:"flat_cents"`
}

// MatcherConfig holds market matching parameters.
type MatcherConfig struct {
	TTL duration `toml:"ttl"`
}

// DetectConfig holds opportunity detection parameters.
type DetectConfig struct {
	MinNetCents   int64    `toml:"min_net_cents"`
	SweepInterval duration `toml:"sweep_interval"`
	Buffer        int      `toml:"buffer"`
}

// RiskConfig holds circuit breaker thresholds. Zero disables a check.
type RiskConfig struct {
	MaxPositionPerMarket int64    `toml:"max_position_per_market"`
	MaxTotalPosition     int64    `toml:"max_total_position"`
	MaxDailyLossCents    int64    `toml:"max_daily_loss_cents"`
	MaxConsecutiveErrors int      `toml:"max_consecutive_errors"`
	Cooldown             duration `toml:"cooldown"`
}

// ExecConfig holds execution engine parameters.
type ExecConfig struct {
	DryRun       bool     `toml:"dry_run"`
	Timeout      duration `toml:"timeout"`
	PollInterval duration `toml:"poll_interval"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the daily fill
// archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
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

var validModes = map[string]bool{
	"trade":   true,
	"dryrun":  true,
	"monitor": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Defaults returns the built-in configuration. Dry run is on by default so a
// bare config never places live orders.
func Defaults() Config {
	return Config{
		Kalshi: KalshiConfig{
			BaseURL:         "https://api.elections.kalshi.com/trade-api/v2",
			WsURL:           "wss://api.elections.kalshi.com/trade-api/ws/v2",
			RateLimitPerSec: 10,
		},
		Polymarket: PolymarketConfig{
			ClobHost:        "https://clob.polymarket.com",
			GammaHost:       "https://gamma-api.polymarket.com",
			WsHost:          "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:         137,
			RateLimitPerSec: 10,
		},
		Fees: FeesConfig{
			Kalshi:     FeeScheduleConfig{Convex: true, K: 7},
			Polymarket: FeeScheduleConfig{},
		},
		Matcher: MatcherConfig{
			TTL: duration{2 * time.Hour},
		},
		Detect: DetectConfig{
			MinNetCents:   2,
			SweepInterval: duration{5 * time.Second},
			Buffer:        64,
		},
		Risk: RiskConfig{
			MaxPositionPerMarket: 500,
			MaxTotalPosition:     2000,
			MaxDailyLossCents:    10_000,
			MaxConsecutiveErrors: 5,
			Cooldown:             duration{5 * time.Minute},
		},
		Exec: ExecConfig{
			DryRun:       true,
			Timeout:      duration{5 * time.Second},
			PollInterval: duration{100 * time.Millisecond},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbot",
			User:          "arbot",
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
			Region: "us-east-1",
			Bucket: "arbot-data",
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Notify: NotifyConfig{
			Events: []string{"breaker_tripped", "exposure"},
		},
		Mode:     "dryrun",
		LogLevel: "info",
	}
}

// Validate checks the configuration and returns all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, dryrun, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venue credentials are only required when placing live orders.
	live := strings.ToLower(c.Mode) == "trade" && !c.Exec.DryRun
	if live {
		if c.Kalshi.ApiKey == "" {
			errs = append(errs, "kalshi: api_key is required for live trading")
		}
		if c.Kalshi.RsaPrivateKeyPath == "" {
			errs = append(errs, "kalshi: rsa_private_key_path is required for live trading")
		}
		if c.Polymarket.PrivateKey == "" && c.Polymarket.KeyfilePath == "" {
			errs = append(errs, "polymarket: private_key or keyfile_path is required for live trading")
		}
	}
	if c.Kalshi.BaseURL == "" {
		errs = append(errs, "kalshi: base_url must not be empty")
	}
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}

	for _, fs := range []struct {
		name string
		cfg  FeeScheduleConfig
	}{{"kalshi", c.Fees.Kalshi}, {"polymarket", c.Fees.Polymarket}} {
		if fs.cfg.K < 0 {
			errs = append(errs, fmt.Sprintf("fees.%s: k must not be negative", fs.name))
		}
		if fs.cfg.FlatCents < 0 {
			errs = append(errs, fmt.Sprintf("fees.%s: flat_cents must not be negative", fs.name))
		}
	}

	if c.Matcher.TTL.Duration <= 0 {
		errs = append(errs, "matcher: ttl must be positive")
	}
	if c.Detect.MinNetCents < 1 {
		errs = append(errs, "detect: min_net_cents must be at least 1")
	}
	if c.Detect.SweepInterval.Duration <= 0 {
		errs = append(errs, "detect: sweep_interval must be positive")
	}
	if c.Risk.MaxPositionPerMarket < 0 || c.Risk.MaxTotalPosition < 0 ||
		c.Risk.MaxDailyLossCents < 0 || c.Risk.MaxConsecutiveErrors < 0 {
		errs = append(errs, "risk: limits must not be negative")
	}
	if c.Risk.Cooldown.Duration <= 0 {
		errs = append(errs, "risk: cooldown must be positive")
	}
	if c.Exec.Timeout.Duration <= 0 {
		errs = append(errs, "exec: timeout must be positive")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
