// Package config defines the top-level configuration for the proptoken
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PROPTOKEN_* environment variables.
type Config struct {
	Database     DatabaseConfig     `toml:"database"`
	Redis        RedisConfig        `toml:"redis"`
	S3           S3Config           `toml:"s3"`
	Solana       SolanaConfig       `toml:"solana"`
	Valuation    ValuationConfig    `toml:"valuation"`
	Tokenization TokenizationConfig `toml:"tokenization"`
	Settlement   SettlementConfig   `toml:"settlement"`
	Distribution DistributionConfig `toml:"distribution"`
	Portfolio    PortfolioConfig    `toml:"portfolio"`
	Archive      ArchiveConfig      `toml:"archive"`
	Server       ServerConfig       `toml:"server"`
	Notify       NotifyConfig       `toml:"notify"`
	Mode         string             `toml:"mode"`
	LogLevel     string             `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
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

	// StatementTimeout bounds every query server-side. Zero leaves the
	// server default.
	StatementTimeout duration `toml:"statement_timeout"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
	KeyPrefix    string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`

	// Prefix namespaces object keys within a shared bucket.
	Prefix string `toml:"prefix"`
	// ServerSideEncryption is "", "AES256" or "aws:kms".
	ServerSideEncryption string `toml:"server_side_encryption"`
	KMSKeyID             string `toml:"kms_key_id"`
}

// SolanaConfig holds the settlement network endpoint and treasury key.
type SolanaConfig struct {
	RPCURL           string   `toml:"rpc_url"`
	Commitment       string   `toml:"commitment"`
	Decimals         int      `toml:"decimals"`
	TreasuryKey      string   `toml:"treasury_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	SendTimeout      duration `toml:"send_timeout"`
	// HolderKeysDir holds encrypted keys of custodial holder accounts,
	// unlocked with KeyPassword. Resales need the seller's key.
	HolderKeysDir    string   `toml:"holder_keys_dir"`
}

// ValuationConfig holds the valuation provider endpoint and the fallback
// policy used when it is unavailable.
type ValuationConfig struct {
	URL                string   `toml:"url"`
	APIKey             string   `toml:"api_key"`
	Timeout            duration `toml:"timeout"`
	FallbackMultiplier float64  `toml:"fallback_multiplier"`
	MinConfidence      float64  `toml:"min_confidence"`
}

// TokenizationConfig holds lifecycle parameters.
type TokenizationConfig struct {
	// ValueToleranceBps is how far unit_price × total_supply may drift from
	// the declared value, in basis points of the declared value.
	ValueToleranceBps int      `toml:"value_tolerance_bps"`
	LockTTL           duration `toml:"lock_ttl"`
}

// SettlementConfig holds the reconciliation policy and circuit breaker
// parameters for the settlement network.
type SettlementConfig struct {
	PendingTimeout    duration `toml:"pending_timeout"`
	MaxAttempts       int      `toml:"max_attempts"`
	ReconcileInterval duration `toml:"reconcile_interval"`
	ReconcileBatch    int      `toml:"reconcile_batch"`
	BreakerFailures   int      `toml:"breaker_failures"`
	BreakerTimeout    duration `toml:"breaker_timeout"`
}

// DistributionConfig holds distribution export parameters.
type DistributionConfig struct {
	ExportStatements bool `toml:"export_statements"`
}

// PortfolioConfig holds portfolio projection parameters.
type PortfolioConfig struct {
	RecentLimit int `toml:"recent_limit"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`

	// IdempotencyTTL is how long purchase and transfer responses are
	// replayable by Idempotency-Key.
	IdempotencyTTL duration `toml:"idempotency_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "proptoken",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,

			StatementTimeout: duration{30 * time.Second},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "proptoken-ledger",
			ForcePathStyle: true,
		},
		Solana: SolanaConfig{
			RPCURL:      "https://api.devnet.solana.com",
			Commitment:  "finalized",
			Decimals:    0,
			SendTimeout: duration{30 * time.Second},
		},
		Valuation: ValuationConfig{
			Timeout:            duration{10 * time.Second},
			FallbackMultiplier: 1.2,
			MinConfidence:      0.5,
		},
		Tokenization: TokenizationConfig{
			ValueToleranceBps: 0,
			LockTTL:           duration{2 * time.Minute},
		},
		Settlement: SettlementConfig{
			PendingTimeout:    duration{24 * time.Hour},
			MaxAttempts:       20,
			ReconcileInterval: duration{time.Minute},
			ReconcileBatch:    100,
			BreakerFailures:   5,
			BreakerTimeout:    duration{30 * time.Second},
		},
		Distribution: DistributionConfig{
			ExportStatements: true,
		},
		Portfolio: PortfolioConfig{
			RecentLimit: 10,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 365,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   30,
			RateWindow:  duration{time.Minute},

			IdempotencyTTL: duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"issuance_failed", "settlement_failed", "settlement_timeout"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":    true,
	"reconcile": true,
	"full":      true,
	"sandbox":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validCommitments = map[string]bool{
	"processed": true,
	"confirmed": true,
	"finalized": true,
}

// NeedsInfrastructure reports whether the mode talks to Postgres, Redis and
// the settlement network. Sandbox mode runs entirely in process.
func (c *Config) NeedsInfrastructure() bool {
	return strings.ToLower(c.Mode) != "sandbox"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, reconcile, full, sandbox)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.NeedsInfrastructure() {
		// Database
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 {
			errs = append(errs, "database: pool_min_conns must be >= 0")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}

		// Redis
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}

		// Solana
		if c.Solana.RPCURL == "" {
			errs = append(errs, "solana: rpc_url must not be empty")
		}
		if !validCommitments[strings.ToLower(c.Solana.Commitment)] {
			errs = append(errs, fmt.Sprintf("solana: unknown commitment %q (valid: processed, confirmed, finalized)", c.Solana.Commitment))
		}
		if c.Solana.TreasuryKey == "" && c.Solana.EncryptedKeyPath == "" {
			errs = append(errs, "solana: either treasury_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Solana.EncryptedKeyPath != "" && c.Solana.KeyPassword == "" {
			errs = append(errs, "solana: key_password is required when encrypted_key_path is set")
		}
		if c.Solana.HolderKeysDir != "" && c.Solana.KeyPassword == "" {
			errs = append(errs, "solana: key_password is required when holder_keys_dir is set")
		}
	}
	if c.Solana.Decimals < 0 || c.Solana.Decimals > 9 {
		errs = append(errs, fmt.Sprintf("solana: decimals must be 0-9, got %d", c.Solana.Decimals))
	}

	// S3 is only needed when something writes to it.
	if c.Distribution.ExportStatements || c.Archive.Enabled {
		if c.NeedsInfrastructure() && c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when statements or archives are enabled")
		}
		switch c.S3.ServerSideEncryption {
		case "", "AES256", "aws:kms":
		default:
			errs = append(errs, fmt.Sprintf("s3: unknown server_side_encryption %q (valid: AES256, aws:kms)", c.S3.ServerSideEncryption))
		}
	}

	// Valuation
	if c.Valuation.FallbackMultiplier <= 0 {
		errs = append(errs, "valuation: fallback_multiplier must be > 0")
	}
	if c.Valuation.MinConfidence < 0 || c.Valuation.MinConfidence > 1 {
		errs = append(errs, "valuation: min_confidence must be within [0, 1]")
	}

	// Tokenization
	if c.Tokenization.ValueToleranceBps < 0 || c.Tokenization.ValueToleranceBps > 10000 {
		errs = append(errs, "tokenization: value_tolerance_bps must be within [0, 10000]")
	}
	if c.Tokenization.LockTTL.Duration <= 0 {
		errs = append(errs, "tokenization: lock_ttl must be > 0")
	}

	// Settlement
	if c.Settlement.PendingTimeout.Duration <= 0 {
		errs = append(errs, "settlement: pending_timeout must be > 0")
	}
	if c.Settlement.MaxAttempts < 1 {
		errs = append(errs, "settlement: max_attempts must be >= 1")
	}
	if c.Settlement.ReconcileInterval.Duration <= 0 {
		errs = append(errs, "settlement: reconcile_interval must be > 0")
	}
	if c.Settlement.BreakerFailures < 1 {
		errs = append(errs, "settlement: breaker_failures must be >= 1")
	}

	// Archive
	if c.Archive.Enabled && c.Archive.RetentionDays < 1 {
		errs = append(errs, "archive: retention_days must be >= 1 when enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
