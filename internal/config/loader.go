package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration file at path, merges it on top of the
// built-in defaults and applies PREDICTIONM_* environment overrides. Files
// ending in .yaml or .yml are decoded as YAML, anything else as TOML. An
// empty path skips the file. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: decode %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	return nil
}

// applyEnvOverrides overwrites Config fields from PREDICTIONM_* variables
// that are set and non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "PREDICTIONM_CHAIN_RPC_URL")
	setStr(&cfg.Chain.ContractAddress, "PREDICTIONM_CHAIN_CONTRACT_ADDRESS")
	setInt64(&cfg.Chain.ChainID, "PREDICTIONM_CHAIN_CHAIN_ID")
	setFloat64(&cfg.Chain.RPCRatePerSec, "PREDICTIONM_CHAIN_RPC_RATE_PER_SEC")
	setInt(&cfg.Chain.RPCBurst, "PREDICTIONM_CHAIN_RPC_BURST")
	setDuration(&cfg.Chain.ReceiptPoll, "PREDICTIONM_CHAIN_RECEIPT_POLL")
	setUint64(&cfg.Chain.GasLimit, "PREDICTIONM_CHAIN_GAS_LIMIT")
	setStr(&cfg.Chain.ExplorerTxURL, "PREDICTIONM_CHAIN_EXPLORER_TX_URL")
	setDuration(&cfg.Chain.EventPoll, "PREDICTIONM_CHAIN_EVENT_POLL")
	setUint64(&cfg.Chain.StartBlock, "PREDICTIONM_CHAIN_START_BLOCK")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "PREDICTIONM_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "PREDICTIONM_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "PREDICTIONM_WALLET_KEY_PASSWORD")

	// ── Snapshot ──
	setInt(&cfg.Snapshot.ReadConcurrency, "PREDICTIONM_SNAPSHOT_READ_CONCURRENCY")
	setInt(&cfg.Snapshot.MaxMarkets, "PREDICTIONM_SNAPSHOT_MAX_MARKETS")
	setDuration(&cfg.Snapshot.CacheTTL, "PREDICTIONM_SNAPSHOT_CACHE_TTL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PREDICTIONM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PREDICTIONM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDICTIONM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDICTIONM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDICTIONM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREDICTIONM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PREDICTIONM_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PREDICTIONM_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PREDICTIONM_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PREDICTIONM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PREDICTIONM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PREDICTIONM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PREDICTIONM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PREDICTIONM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PREDICTIONM_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PREDICTIONM_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PREDICTIONM_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PREDICTIONM_POSTGRES_RUN_MIGRATIONS")

	// ── SQLite ──
	setStr(&cfg.SQLite.Path, "PREDICTIONM_SQLITE_PATH")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PREDICTIONM_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PREDICTIONM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDICTIONM_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDICTIONM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PREDICTIONM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDICTIONM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREDICTIONM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREDICTIONM_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "PREDICTIONM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDICTIONM_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PREDICTIONM_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PREDICTIONM_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "PREDICTIONM_SERVER_RATE_LIMIT_WINDOW")
	setDuration(&cfg.Server.TickInterval, "PREDICTIONM_SERVER_TICK_INTERVAL")
	setDuration(&cfg.Server.TxLockTTL, "PREDICTIONM_SERVER_TX_LOCK_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramAPIBase, "PREDICTIONM_NOTIFY_TELEGRAM_API_BASE")
	setStr(&cfg.Notify.TelegramToken, "PREDICTIONM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDICTIONM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREDICTIONM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PREDICTIONM_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PREDICTIONM_MODE")
	setStr(&cfg.LogLevel, "PREDICTIONM_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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

func setDuration(dst *Duration, key string) {
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
