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
// built-in defaults, applies WHALECOPY_* environment variable overrides, and
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

// applyEnvOverrides reads well-known WHALECOPY_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "WHALECOPY_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.SafeAddress, "WHALECOPY_WALLET_SAFE_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "WHALECOPY_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "WHALECOPY_WALLET_KEY_PASSWORD")

	// ── Exchange ──
	setStr(&cfg.Exchange.ClobHost, "WHALECOPY_EXCHANGE_CLOB_HOST")
	setStr(&cfg.Exchange.WsHost, "WHALECOPY_EXCHANGE_WS_HOST")
	setInt(&cfg.Exchange.ChainID, "WHALECOPY_EXCHANGE_CHAIN_ID")
	setInt(&cfg.Exchange.SignatureType, "WHALECOPY_EXCHANGE_SIGNATURE_TYPE")
	setStringSlice(&cfg.Exchange.Assets, "WHALECOPY_EXCHANGE_ASSETS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "WHALECOPY_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "WHALECOPY_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WHALECOPY_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WHALECOPY_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WHALECOPY_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WHALECOPY_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WHALECOPY_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "WHALECOPY_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "WHALECOPY_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WHALECOPY_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WHALECOPY_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "WHALECOPY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WHALECOPY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WHALECOPY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WHALECOPY_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WHALECOPY_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WHALECOPY_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "WHALECOPY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WHALECOPY_S3_REGION")
	setStr(&cfg.S3.Bucket, "WHALECOPY_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WHALECOPY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WHALECOPY_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WHALECOPY_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WHALECOPY_S3_FORCE_PATH_STYLE")

	// ── Filter ──
	setFloat64(&cfg.Filter.MinQualityScore, "WHALECOPY_FILTER_MIN_QUALITY_SCORE")
	setFloat64(&cfg.Filter.MaxWhaleDrawdown, "WHALECOPY_FILTER_MAX_WHALE_DRAWDOWN")
	setFloat64(&cfg.Filter.MinNotional, "WHALECOPY_FILTER_MIN_NOTIONAL")
	setFloat64(&cfg.Filter.MinEdge, "WHALECOPY_FILTER_MIN_EDGE")
	setFloat64(&cfg.Filter.MaxTotalExposure, "WHALECOPY_FILTER_MAX_TOTAL_EXPOSURE")
	setFloat64(&cfg.Filter.MaxSectorExposure, "WHALECOPY_FILTER_MAX_SECTOR_EXPOSURE")

	// ── Sizing ──
	setFloat64(&cfg.Sizing.CopyRatio, "WHALECOPY_SIZING_COPY_RATIO")
	setFloat64(&cfg.Sizing.MinSize, "WHALECOPY_SIZING_MIN_SIZE")
	setFloat64(&cfg.Sizing.MaxSize, "WHALECOPY_SIZING_MAX_SIZE")
	setFloat64(&cfg.Sizing.MaxBalancePct, "WHALECOPY_SIZING_MAX_BALANCE_PCT")

	// ── Risk ──
	setFloat64(&cfg.Risk.StartingNAV, "WHALECOPY_RISK_STARTING_NAV")
	setFloat64(&cfg.Risk.DailyLossLimit, "WHALECOPY_RISK_DAILY_LOSS_LIMIT")
	setFloat64(&cfg.Risk.PerWhaleLossLimit, "WHALECOPY_RISK_PER_WHALE_LOSS_LIMIT")
	setInt(&cfg.Risk.MaxConsecutiveLoss, "WHALECOPY_RISK_MAX_CONSECUTIVE_LOSS")
	setDuration(&cfg.Risk.PauseDuration, "WHALECOPY_RISK_PAUSE_DURATION")
	setFloat64(&cfg.Risk.MaxDrawdownPct, "WHALECOPY_RISK_MAX_DRAWDOWN_PCT")

	// ── Allocator ──
	setInt(&cfg.Allocator.TopTierCount, "WHALECOPY_ALLOCATOR_TOP_TIER_COUNT")
	setInt(&cfg.Allocator.MidTierCount, "WHALECOPY_ALLOCATOR_MID_TIER_COUNT")
	setDuration(&cfg.Allocator.RecomputeInterval, "WHALECOPY_ALLOCATOR_RECOMPUTE_INTERVAL")

	// ── Pipeline ──
	setStr(&cfg.Pipeline.SignalStream, "WHALECOPY_PIPELINE_SIGNAL_STREAM")
	setStr(&cfg.Pipeline.OutcomeStream, "WHALECOPY_PIPELINE_OUTCOME_STREAM")
	setStr(&cfg.Pipeline.ResultStream, "WHALECOPY_PIPELINE_RESULT_STREAM")
	setBool(&cfg.Pipeline.DistributedLocks, "WHALECOPY_PIPELINE_DISTRIBUTED_LOCKS")
	setDuration(&cfg.Pipeline.DedupTTL, "WHALECOPY_PIPELINE_DEDUP_TTL")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "WHALECOPY_PIPELINE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Pipeline.ArchiveCron, "WHALECOPY_PIPELINE_ARCHIVE_CRON")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WHALECOPY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WHALECOPY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WHALECOPY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WHALECOPY_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WHALECOPY_MODE")
	setStr(&cfg.LogLevel, "WHALECOPY_LOG_LEVEL")
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
