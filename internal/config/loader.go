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
// built-in defaults, applies PROPTOKEN_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known PROPTOKEN_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Secrets are injected this way at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "PROPTOKEN_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "PROPTOKEN_DATABASE_HOST")
	setInt(&cfg.Database.Port, "PROPTOKEN_DATABASE_PORT")
	setStr(&cfg.Database.Database, "PROPTOKEN_DATABASE_NAME")
	setStr(&cfg.Database.User, "PROPTOKEN_DATABASE_USER")
	setStr(&cfg.Database.Password, "PROPTOKEN_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "PROPTOKEN_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "PROPTOKEN_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "PROPTOKEN_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "PROPTOKEN_DATABASE_RUN_MIGRATIONS")
	setDuration(&cfg.Database.StatementTimeout, "PROPTOKEN_DATABASE_STATEMENT_TIMEOUT")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PROPTOKEN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PROPTOKEN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PROPTOKEN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PROPTOKEN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PROPTOKEN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PROPTOKEN_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "PROPTOKEN_REDIS_STREAM_MAX_LEN")
	setStr(&cfg.Redis.KeyPrefix, "PROPTOKEN_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PROPTOKEN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PROPTOKEN_S3_REGION")
	setStr(&cfg.S3.Bucket, "PROPTOKEN_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PROPTOKEN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PROPTOKEN_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PROPTOKEN_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PROPTOKEN_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "PROPTOKEN_S3_PREFIX")
	setStr(&cfg.S3.ServerSideEncryption, "PROPTOKEN_S3_SERVER_SIDE_ENCRYPTION")
	setStr(&cfg.S3.KMSKeyID, "PROPTOKEN_S3_KMS_KEY_ID")

	// ── Solana ──
	setStr(&cfg.Solana.RPCURL, "PROPTOKEN_SOLANA_RPC_URL")
	setStr(&cfg.Solana.Commitment, "PROPTOKEN_SOLANA_COMMITMENT")
	setInt(&cfg.Solana.Decimals, "PROPTOKEN_SOLANA_DECIMALS")
	setStr(&cfg.Solana.TreasuryKey, "PROPTOKEN_SOLANA_TREASURY_KEY")
	setStr(&cfg.Solana.EncryptedKeyPath, "PROPTOKEN_SOLANA_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Solana.KeyPassword, "PROPTOKEN_SOLANA_KEY_PASSWORD")
	setDuration(&cfg.Solana.SendTimeout, "PROPTOKEN_SOLANA_SEND_TIMEOUT")
	setStr(&cfg.Solana.HolderKeysDir, "PROPTOKEN_SOLANA_HOLDER_KEYS_DIR")

	// ── Valuation ──
	setStr(&cfg.Valuation.URL, "PROPTOKEN_VALUATION_URL")
	setStr(&cfg.Valuation.APIKey, "PROPTOKEN_VALUATION_API_KEY")
	setDuration(&cfg.Valuation.Timeout, "PROPTOKEN_VALUATION_TIMEOUT")
	setFloat64(&cfg.Valuation.FallbackMultiplier, "PROPTOKEN_VALUATION_FALLBACK_MULTIPLIER")
	setFloat64(&cfg.Valuation.MinConfidence, "PROPTOKEN_VALUATION_MIN_CONFIDENCE")

	// ── Tokenization ──
	setInt(&cfg.Tokenization.ValueToleranceBps, "PROPTOKEN_TOKENIZATION_VALUE_TOLERANCE_BPS")
	setDuration(&cfg.Tokenization.LockTTL, "PROPTOKEN_TOKENIZATION_LOCK_TTL")

	// ── Settlement ──
	setDuration(&cfg.Settlement.PendingTimeout, "PROPTOKEN_SETTLEMENT_PENDING_TIMEOUT")
	setInt(&cfg.Settlement.MaxAttempts, "PROPTOKEN_SETTLEMENT_MAX_ATTEMPTS")
	setDuration(&cfg.Settlement.ReconcileInterval, "PROPTOKEN_SETTLEMENT_RECONCILE_INTERVAL")
	setInt(&cfg.Settlement.ReconcileBatch, "PROPTOKEN_SETTLEMENT_RECONCILE_BATCH")
	setInt(&cfg.Settlement.BreakerFailures, "PROPTOKEN_SETTLEMENT_BREAKER_FAILURES")
	setDuration(&cfg.Settlement.BreakerTimeout, "PROPTOKEN_SETTLEMENT_BREAKER_TIMEOUT")

	// ── Distribution / Portfolio ──
	setBool(&cfg.Distribution.ExportStatements, "PROPTOKEN_DISTRIBUTION_EXPORT_STATEMENTS")
	setInt(&cfg.Portfolio.RecentLimit, "PROPTOKEN_PORTFOLIO_RECENT_LIMIT")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PROPTOKEN_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "PROPTOKEN_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "PROPTOKEN_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PROPTOKEN_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PROPTOKEN_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "PROPTOKEN_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "PROPTOKEN_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "PROPTOKEN_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PROPTOKEN_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.IdempotencyTTL, "PROPTOKEN_SERVER_IDEMPOTENCY_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PROPTOKEN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PROPTOKEN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PROPTOKEN_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PROPTOKEN_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PROPTOKEN_MODE")
	setStr(&cfg.LogLevel, "PROPTOKEN_LOG_LEVEL")
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
