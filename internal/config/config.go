// Package config defines the top-level configuration for the swap sentinel
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SENTINEL_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Feed     FeedConfig     `toml:"feed"`
	Executor ExecutorConfig `toml:"executor"`
	Wallet   WalletConfig   `toml:"wallet"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Orders   OrderBounds    `toml:"orders"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
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

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// RetentionDays controls how old a terminal order must be before the
	// archiver exports it. 0 disables archiving.
	RetentionDays int `toml:"retention_days"`
}

// FeedConfig holds price feed parameters.
type FeedConfig struct {
	// BaseURL is the REST quote endpoint root.
	BaseURL string `toml:"base_url"`
	// WSURL is the streaming ticker endpoint. Empty disables the stream; the
	// monitor then quotes over REST on every tick.
	WSURL string `toml:"ws_url"`
	// Pair is the market the monitor watches, e.g. "WETH/USDC".
	Pair string `toml:"pair"`
	// MaxStale bounds how old a cached streamed price may be before the
	// monitor falls back to a REST quote.
	MaxStale duration `toml:"max_stale"`
}

// ExecutorConfig selects and configures the swap execution backend.
type ExecutorConfig struct {
	// Kind is "evm" for on-chain router swaps or "paper" for simulated fills.
	Kind      string `toml:"kind"`
	RPCURL    string `toml:"rpc_url"`
	RouterAddr string `toml:"router_addr"`
	ChainID   int64  `toml:"chain_id"`
	GasLimit  uint64 `toml:"gas_limit"`
	// Assets maps symbols to on-chain token metadata.
	Assets map[string]AssetConfig `toml:"assets"`
}

// AssetConfig describes one tradable token.
type AssetConfig struct {
	Address  string `toml:"address"`
	Decimals int    `toml:"decimals"`
}

// WalletConfig holds the executor wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// MonitorConfig holds the scheduling loop parameters.
type MonitorConfig struct {
	PollInterval            duration `toml:"poll_interval"`
	MaxConcurrentExecutions int      `toml:"max_concurrent_executions"`
	ExecutionTimeout        duration `toml:"execution_timeout"`
	// RecoveryGrace is how long an order may stay claimed before the sweep
	// assumes a crash and releases it.
	RecoveryGrace duration `toml:"recovery_grace"`
	// RecoveryEveryTicks folds the recovery sweep into the tick cadence.
	RecoveryEveryTicks int `toml:"recovery_every_ticks"`
}

// OrderBounds holds the creation-time limits enforced by the gateway.
type OrderBounds struct {
	DefaultMaxRetries int `toml:"default_max_retries"`
	MinMaxRetries     int `toml:"min_max_retries"`
	MaxMaxRetries     int `toml:"max_max_retries"`

	DefaultSlippageBps float64 `toml:"default_slippage_bps"`
	MinSlippageBps     float64 `toml:"min_slippage_bps"`
	MaxSlippageBps     float64 `toml:"max_slippage_bps"`

	MinTriggerPrice float64 `toml:"min_trigger_price"`
	MaxTriggerPrice float64 `toml:"max_trigger_price"`

	MaxLifetime duration `toml:"max_lifetime"`

	// CreateRatePerMinute caps order creations per account. 0 disables the
	// limiter.
	CreateRatePerMinute int `toml:"create_rate_per_minute"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s", "2m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5s" or "2m".
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "sentinel",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "sentinel-archive",
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Feed: FeedConfig{
			BaseURL:  "https://quotes.example.com",
			Pair:     "WETH/USDC",
			MaxStale: duration{10 * time.Second},
		},
		Executor: ExecutorConfig{
			Kind:     "paper",
			ChainID:  1,
			GasLimit: 350_000,
			Assets:   map[string]AssetConfig{},
		},
		Monitor: MonitorConfig{
			PollInterval:            duration{15 * time.Second},
			MaxConcurrentExecutions: 5,
			ExecutionTimeout:        duration{45 * time.Second},
			RecoveryGrace:           duration{5 * time.Minute},
			RecoveryEveryTicks:      20,
		},
		Orders: OrderBounds{
			DefaultMaxRetries:   3,
			MinMaxRetries:       0,
			MaxMaxRetries:       10,
			DefaultSlippageBps:  50,
			MinSlippageBps:      1,
			MaxSlippageBps:      500,
			MinTriggerPrice:     0.000001,
			MaxTriggerPrice:     1_000_000,
			MaxLifetime:         duration{30 * 24 * time.Hour},
			CreateRatePerMinute: 30,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"order_executed", "order_failed"},
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":    true,
	"paper":  true,
	"server": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, paper, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
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
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be 0..pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Feed
	if c.Feed.BaseURL == "" {
		errs = append(errs, "feed: base_url must not be empty")
	}
	if c.Feed.Pair == "" {
		errs = append(errs, "feed: pair must not be empty")
	}

	// Executor
	switch c.Executor.Kind {
	case "paper":
	case "evm":
		if c.Executor.RPCURL == "" {
			errs = append(errs, "executor: rpc_url is required for kind \"evm\"")
		}
		if c.Executor.RouterAddr == "" {
			errs = append(errs, "executor: router_addr is required for kind \"evm\"")
		}
		if c.Executor.ChainID <= 0 {
			errs = append(errs, "executor: chain_id must be positive")
		}
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for kind \"evm\"")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	default:
		errs = append(errs, fmt.Sprintf("executor: unknown kind %q (valid: evm, paper)", c.Executor.Kind))
	}

	// Monitor
	if c.Monitor.PollInterval.Duration <= 0 {
		errs = append(errs, "monitor: poll_interval must be > 0")
	}
	if c.Monitor.MaxConcurrentExecutions < 1 {
		errs = append(errs, "monitor: max_concurrent_executions must be >= 1")
	}
	if c.Monitor.ExecutionTimeout.Duration <= 0 {
		errs = append(errs, "monitor: execution_timeout must be > 0")
	}
	if c.Monitor.RecoveryGrace.Duration <= 0 {
		errs = append(errs, "monitor: recovery_grace must be > 0")
	}
	if c.Monitor.RecoveryEveryTicks < 1 {
		errs = append(errs, "monitor: recovery_every_ticks must be >= 1")
	}

	// Order bounds
	if c.Orders.MinTriggerPrice <= 0 {
		errs = append(errs, "orders: min_trigger_price must be > 0")
	}
	if c.Orders.MaxTriggerPrice <= c.Orders.MinTriggerPrice {
		errs = append(errs, "orders: max_trigger_price must exceed min_trigger_price")
	}
	if c.Orders.MinSlippageBps <= 0 || c.Orders.MaxSlippageBps < c.Orders.MinSlippageBps {
		errs = append(errs, "orders: slippage bounds must satisfy 0 < min <= max")
	}
	if c.Orders.DefaultSlippageBps < c.Orders.MinSlippageBps || c.Orders.DefaultSlippageBps > c.Orders.MaxSlippageBps {
		errs = append(errs, "orders: default_slippage_bps must lie within [min, max]")
	}
	if c.Orders.MinMaxRetries < 0 || c.Orders.MaxMaxRetries < c.Orders.MinMaxRetries {
		errs = append(errs, "orders: retry bounds must satisfy 0 <= min <= max")
	}
	if c.Orders.DefaultMaxRetries < c.Orders.MinMaxRetries || c.Orders.DefaultMaxRetries > c.Orders.MaxMaxRetries {
		errs = append(errs, "orders: default_max_retries must lie within [min, max]")
	}
	if c.Orders.MaxLifetime.Duration <= 0 {
		errs = append(errs, "orders: max_lifetime must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
