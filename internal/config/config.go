// Package config defines the predictionm configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Modes accepted by Config.Mode.
const (
	ModeServe    = "serve"
	ModeSnapshot = "snapshot"
	ModeClaimAll = "claim-all"
)

// Config is the root configuration. Fields are populated from a TOML or YAML
// file and then overridden by PREDICTIONM_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain" yaml:"chain"`
	Wallet   WalletConfig   `toml:"wallet" yaml:"wallet"`
	Snapshot SnapshotConfig `toml:"snapshot" yaml:"snapshot"`
	Redis    RedisConfig    `toml:"redis" yaml:"redis"`
	Postgres PostgresConfig `toml:"postgres" yaml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite" yaml:"sqlite"`
	S3       S3Config       `toml:"s3" yaml:"s3"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Notify   NotifyConfig   `toml:"notify" yaml:"notify"`
	Mode     string         `toml:"mode" yaml:"mode"`
	LogLevel string         `toml:"log_level" yaml:"log_level"`
}

// ChainConfig locates the market contract.
type ChainConfig struct {
	RPCURL          string   `toml:"rpc_url" yaml:"rpc_url"`
	ContractAddress string   `toml:"contract_address" yaml:"contract_address"`
	ChainID         int64    `toml:"chain_id" yaml:"chain_id"`
	RPCRatePerSec   float64  `toml:"rpc_rate_per_sec" yaml:"rpc_rate_per_sec"`
	RPCBurst        int      `toml:"rpc_burst" yaml:"rpc_burst"`
	ReceiptPoll     Duration `toml:"receipt_poll" yaml:"receipt_poll"`
	GasLimit        uint64   `toml:"gas_limit" yaml:"gas_limit"`
	ExplorerTxURL   string   `toml:"explorer_tx_url" yaml:"explorer_tx_url"`
	EventPoll       Duration `toml:"event_poll" yaml:"event_poll"`
	StartBlock      uint64   `toml:"start_block" yaml:"start_block"`
}

// WalletConfig holds the signing key. Without one the client is read-only.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key" yaml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path" yaml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password" yaml:"key_password"`
}

// SnapshotConfig tunes the contract reader.
type SnapshotConfig struct {
	// ReadConcurrency bounds the per-market reads in flight. 1 reads
	// sequentially.
	ReadConcurrency int      `toml:"read_concurrency" yaml:"read_concurrency"`
	// MaxMarkets is the largest market count accepted from the contract.
	MaxMarkets      int      `toml:"max_markets" yaml:"max_markets"`
	CacheTTL        Duration `toml:"cache_ttl" yaml:"cache_ttl"`
}

// RedisConfig holds Redis connection parameters. The serve mode needs Redis
// for its signal bus; the one-shot modes run without it.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled" yaml:"enabled"`
	Addr       string `toml:"addr" yaml:"addr"`
	Password   string `toml:"password" yaml:"password"`
	DB         int    `toml:"db" yaml:"db"`
	PoolSize   int    `toml:"pool_size" yaml:"pool_size"`
	MaxRetries int    `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled" yaml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters. When disabled the
// SQLite file is used instead.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// SQLiteConfig locates the local database file.
type SQLiteConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// S3Config holds S3-compatible object storage parameters for the snapshot
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled" yaml:"enabled"`
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Region         string `toml:"region" yaml:"region"`
	Bucket         string `toml:"bucket" yaml:"bucket"`
	AccessKey      string `toml:"access_key" yaml:"access_key"`
	SecretKey      string `toml:"secret_key" yaml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style" yaml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port" yaml:"port"`
	CORSOrigins     []string `toml:"cors_origins" yaml:"cors_origins"`
	APIKey          string   `toml:"api_key" yaml:"api_key"`
	RateLimit       int      `toml:"rate_limit" yaml:"rate_limit"`
	RateLimitWindow Duration `toml:"rate_limit_window" yaml:"rate_limit_window"`
	TickInterval    Duration `toml:"tick_interval" yaml:"tick_interval"`
	TxLockTTL       Duration `toml:"tx_lock_ttl" yaml:"tx_lock_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPIBase   string   `toml:"telegram_api_base" yaml:"telegram_api_base"`
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
}

// Duration wraps time.Duration so it decodes from strings like "5m" or
// "30s" in both TOML and YAML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration. config.example.toml lists
// every key with these values; Redis is off until enabled there.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:        "http://localhost:8545",
			ChainID:       11155111,
			RPCRatePerSec: 10,
			RPCBurst:      10,
			ReceiptPoll:   Duration{2 * time.Second},
			GasLimit:      1_000_000,
			ExplorerTxURL: "https://sepolia.etherscan.io/tx/",
			EventPoll:     Duration{15 * time.Second},
		},
		Snapshot: SnapshotConfig{
			ReadConcurrency: 1,
			MaxMarkets:      10_000,
			CacheTTL:        Duration{10 * time.Minute},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "predictionm",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "predictionm.db",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "predictionm-snapshots",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: Duration{time.Minute},
			TickInterval:    Duration{time.Second},
			TxLockTTL:       Duration{10 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"tx_confirmed", "tx_failed", "market_resolved"},
		},
		Mode:     ModeServe,
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	ModeServe:    true,
	ModeSnapshot: true,
	ModeClaimAll: true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, snapshot, claim-all)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if strings.TrimSpace(c.Chain.RPCURL) == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if !common.IsHexAddress(c.Chain.ContractAddress) {
		errs = append(errs, fmt.Sprintf("chain: contract_address %q is not a hex address", c.Chain.ContractAddress))
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.RPCRatePerSec < 0 {
		errs = append(errs, "chain: rpc_rate_per_sec must be >= 0")
	}
	if c.Chain.ReceiptPoll.Duration <= 0 {
		errs = append(errs, "chain: receipt_poll must be > 0")
	}

	// Wallet
	if mode == ModeClaimAll && c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode claim-all")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	if c.Snapshot.ReadConcurrency < 1 {
		errs = append(errs, "snapshot: read_concurrency must be >= 1")
	}
	if c.Snapshot.MaxMarkets < 1 {
		errs = append(errs, "snapshot: max_markets must be >= 1")
	}

	// Redis
	if mode == ModeServe && !c.Redis.Enabled {
		errs = append(errs, "redis: must be enabled for mode serve")
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Storage
	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	} else if strings.TrimSpace(c.SQLite.Path) == "" {
		errs = append(errs, "sqlite: path must not be empty when postgres is disabled")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if mode == ModeServe {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.TickInterval.Duration <= 0 {
			errs = append(errs, "server: tick_interval must be > 0")
		}
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
