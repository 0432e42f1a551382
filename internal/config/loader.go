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
// built-in defaults, applies SENTINEL_* environment variable overrides, and
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

// applyEnvOverrides reads well-known SENTINEL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SENTINEL_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SENTINEL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SENTINEL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SENTINEL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SENTINEL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SENTINEL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SENTINEL_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SENTINEL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SENTINEL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SENTINEL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SENTINEL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SENTINEL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SENTINEL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SENTINEL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SENTINEL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SENTINEL_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SENTINEL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SENTINEL_S3_REGION")
	setStr(&cfg.S3.Bucket, "SENTINEL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SENTINEL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SENTINEL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SENTINEL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SENTINEL_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "SENTINEL_S3_RETENTION_DAYS")

	// ── Feed ──
	setStr(&cfg.Feed.BaseURL, "SENTINEL_FEED_BASE_URL")
	setStr(&cfg.Feed.WSURL, "SENTINEL_FEED_WS_URL")
	setStr(&cfg.Feed.Pair, "SENTINEL_FEED_PAIR")
	setDuration(&cfg.Feed.MaxStale, "SENTINEL_FEED_MAX_STALE")

	// ── Executor / Wallet ──
	setStr(&cfg.Executor.Kind, "SENTINEL_EXECUTOR_KIND")
	setStr(&cfg.Executor.RPCURL, "SENTINEL_EXECUTOR_RPC_URL")
	setStr(&cfg.Executor.RouterAddr, "SENTINEL_EXECUTOR_ROUTER_ADDR")
	setInt64(&cfg.Executor.ChainID, "SENTINEL_EXECUTOR_CHAIN_ID")
	setStr(&cfg.Wallet.PrivateKey, "SENTINEL_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SENTINEL_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SENTINEL_WALLET_KEY_PASSWORD")

	// ── Monitor ──
	setDuration(&cfg.Monitor.PollInterval, "SENTINEL_MONITOR_POLL_INTERVAL")
	setInt(&cfg.Monitor.MaxConcurrentExecutions, "SENTINEL_MONITOR_MAX_CONCURRENT_EXECUTIONS")
	setDuration(&cfg.Monitor.ExecutionTimeout, "SENTINEL_MONITOR_EXECUTION_TIMEOUT")
	setDuration(&cfg.Monitor.RecoveryGrace, "SENTINEL_MONITOR_RECOVERY_GRACE")
	setInt(&cfg.Monitor.RecoveryEveryTicks, "SENTINEL_MONITOR_RECOVERY_EVERY_TICKS")

	// ── Orders ──
	setInt(&cfg.Orders.DefaultMaxRetries, "SENTINEL_ORDERS_DEFAULT_MAX_RETRIES")
	setInt(&cfg.Orders.MaxMaxRetries, "SENTINEL_ORDERS_MAX_MAX_RETRIES")
	setFloat64(&cfg.Orders.DefaultSlippageBps, "SENTINEL_ORDERS_DEFAULT_SLIPPAGE_BPS")
	setFloat64(&cfg.Orders.MinSlippageBps, "SENTINEL_ORDERS_MIN_SLIPPAGE_BPS")
	setFloat64(&cfg.Orders.MaxSlippageBps, "SENTINEL_ORDERS_MAX_SLIPPAGE_BPS")
	setFloat64(&cfg.Orders.MinTriggerPrice, "SENTINEL_ORDERS_MIN_TRIGGER_PRICE")
	setFloat64(&cfg.Orders.MaxTriggerPrice, "SENTINEL_ORDERS_MAX_TRIGGER_PRICE")
	setDuration(&cfg.Orders.MaxLifetime, "SENTINEL_ORDERS_MAX_LIFETIME")
	setInt(&cfg.Orders.CreateRatePerMinute, "SENTINEL_ORDERS_CREATE_RATE_PER_MINUTE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SENTINEL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SENTINEL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SENTINEL_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SENTINEL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SENTINEL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SENTINEL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SENTINEL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SENTINEL_MODE")
	setStr(&cfg.LogLevel, "SENTINEL_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
