// Package config defines the top-level configuration for the whale copy
// trader and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WHALECOPY_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Filter    FilterConfig    `toml:"filter"`
	Sizing    SizingConfig    `toml:"sizing"`
	Scaler    ScalerConfig    `toml:"scaler"`
	Allocator AllocatorConfig `toml:"allocator"`
	Risk      RiskConfig      `toml:"risk"`
	Depth     DepthConfig     `toml:"depth"`
	Executor  ExecutorConfig  `toml:"executor"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	SafeAddress      string `toml:"safe_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ExchangeConfig holds exchange API endpoints and chain parameters.
type ExchangeConfig struct {
	ClobHost      string   `toml:"clob_host"`
	WsHost        string   `toml:"ws_host"`
	ChainID       int      `toml:"chain_id"`
	SignatureType int      `toml:"signature_type"`
	Assets        []string `toml:"assets"` // token IDs the market feed subscribes to
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

// S3Config holds S3-compatible object storage parameters for cold archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// FilterConfig holds the signal admission thresholds.
type FilterConfig struct {
	MinQualityScore   float64  `toml:"min_quality_score"`
	MaxWhaleDrawdown  float64  `toml:"max_whale_drawdown"`
	MinNotional       float64  `toml:"min_notional"`
	Volatility        float64  `toml:"volatility"`
	MaxImpact         float64  `toml:"max_impact"`
	MaxToResolution   duration `toml:"max_to_resolution"`
	MinEdge           float64  `toml:"min_edge"`
	MaxCorrelation    float64  `toml:"max_correlation"`
	MaxTotalExposure  float64  `toml:"max_total_exposure"`
	MaxSectorExposure float64  `toml:"max_sector_exposure"`
}

// SizingConfig holds position-sizing parameters.
type SizingConfig struct {
	CopyRatio     float64 `toml:"copy_ratio"`
	MinSize       float64 `toml:"min_size"`
	MaxSize       float64 `toml:"max_size"`
	MaxBalancePct float64 `toml:"max_balance_pct"`
}

// ScalerConfig holds per-whale performance scaler parameters.
type ScalerConfig struct {
	WindowSize          int      `toml:"window_size"`
	NeutralScale        float64  `toml:"neutral_scale"`
	MinScale            float64  `toml:"min_scale"`
	MaxScale            float64  `toml:"max_scale"`
	Increment           float64  `toml:"increment"`
	Decrement           float64  `toml:"decrement"`
	WinStreak           int      `toml:"win_streak"`
	LossStreak          int      `toml:"loss_streak"`
	SevereLossStreak    int      `toml:"severe_loss_streak"`
	MinTradesForScaling int      `toml:"min_trades_for_scaling"`
	InactivityReset     duration `toml:"inactivity_reset"`
}

// AllocatorConfig holds capital allocation parameters.
type AllocatorConfig struct {
	TopTierCount       int      `toml:"top_tier_count"`
	MidTierCount       int      `toml:"mid_tier_count"`
	TopTierPool        float64  `toml:"top_tier_pool"`
	MidTierPool        float64  `toml:"mid_tier_pool"`
	ExperimentalPool   float64  `toml:"experimental_pool"`
	HighCorrelation    float64  `toml:"high_correlation"`
	CorrelationPenalty float64  `toml:"correlation_penalty"`
	MaxPositionPct     float64  `toml:"max_position_pct"`
	RecomputeInterval  duration `toml:"recompute_interval"`
}

// RiskConfig holds circuit-breaker limits.
type RiskConfig struct {
	StartingNAV        float64  `toml:"starting_nav"` // portfolio capital base, USD
	DailyLossLimit     float64  `toml:"daily_loss_limit"`
	PerWhaleLossLimit  float64  `toml:"per_whale_loss_limit"`
	MaxConsecutiveLoss int      `toml:"max_consecutive_loss"`
	PauseDuration      duration `toml:"pause_duration"`
	MaxDrawdownPct     float64  `toml:"max_drawdown_pct"`
	ReduceFactor       float64  `toml:"reduce_factor"`
	MaxTotalExposure   float64  `toml:"max_total_exposure"`
	MaxSectorExposure  float64  `toml:"max_sector_exposure"`
	EmergencyFailures  int      `toml:"emergency_failures"`
}

// DepthConfig holds order-book depth veto thresholds.
type DepthConfig struct {
	MaxSlippageLimit  float64 `toml:"max_slippage_limit"`
	MaxSlippageMarket float64 `toml:"max_slippage_market"`
	MaxLiquidityUsed  float64 `toml:"max_liquidity_used"`
}

// ExecutorPhase is one row of the execution phase ladder.
type ExecutorPhase struct {
	PriceAdjust   float64  `toml:"price_adjust"`
	SizeReduction float64  `toml:"size_reduction"`
	Timeout       duration `toml:"timeout"`
}

// ExecutorConfig holds order execution parameters.
type ExecutorConfig struct {
	Phases          []ExecutorPhase `toml:"phases"`
	PollInterval    duration        `toml:"poll_interval"`
	MinFillFraction float64         `toml:"min_fill_fraction"`
}

// PipelineConfig holds signal-intake and archival parameters.
type PipelineConfig struct {
	SignalStream         string   `toml:"signal_stream"`
	OutcomeStream        string   `toml:"outcome_stream"`
	ResultStream         string   `toml:"result_stream"` // empty disables result publishing
	ReadCount            int      `toml:"read_count"`
	QueueDepth           int      `toml:"queue_depth"`
	LockTTL              duration `toml:"lock_ttl"`
	DedupTTL             duration `toml:"dedup_ttl"`
	DistributedLocks     bool     `toml:"distributed_locks"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveCron          string   `toml:"archive_cron"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			ClobHost:      "https://clob.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "whalecopy",
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
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "whalecopy-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Filter: FilterConfig{
			MinQualityScore:   60,
			MaxWhaleDrawdown:  0.25,
			MinNotional:       1000,
			Volatility:        0.10,
			MaxImpact:         0.03,
			MaxToResolution:   duration{90 * 24 * time.Hour},
			MinEdge:           0.01,
			MaxCorrelation:    0.70,
			MaxTotalExposure:  0.80,
			MaxSectorExposure: 0.30,
		},
		Sizing: SizingConfig{
			CopyRatio:     0.01,
			MinSize:       10,
			MaxSize:       1000,
			MaxBalancePct: 0.20,
		},
		Scaler: ScalerConfig{
			WindowSize:          20,
			NeutralScale:        1.0,
			MinScale:            0.25,
			MaxScale:            2.0,
			Increment:           0.25,
			Decrement:           0.25,
			WinStreak:           3,
			LossStreak:          2,
			SevereLossStreak:    5,
			MinTradesForScaling: 5,
			InactivityReset:     duration{7 * 24 * time.Hour},
		},
		Allocator: AllocatorConfig{
			TopTierCount:       10,
			MidTierCount:       20,
			TopTierPool:        0.70,
			MidTierPool:        0.25,
			ExperimentalPool:   0.05,
			HighCorrelation:    0.70,
			CorrelationPenalty: 0.50,
			MaxPositionPct:     0.50,
			RecomputeInterval:  duration{15 * time.Minute},
		},
		Risk: RiskConfig{
			StartingNAV:        10_000,
			DailyLossLimit:     500,
			PerWhaleLossLimit:  200,
			MaxConsecutiveLoss: 4,
			PauseDuration:      duration{60 * time.Minute},
			MaxDrawdownPct:     0.15,
			ReduceFactor:       0.5,
			MaxTotalExposure:   0.80,
			MaxSectorExposure:  0.30,
			EmergencyFailures:  5,
		},
		Depth: DepthConfig{
			MaxSlippageLimit:  0.02,
			MaxSlippageMarket: 0.05,
			MaxLiquidityUsed:  0.30,
		},
		Executor: ExecutorConfig{
			Phases: []ExecutorPhase{
				{PriceAdjust: 0.00, SizeReduction: 0.00, Timeout: duration{30 * time.Second}},
				{PriceAdjust: 0.02, SizeReduction: 0.10, Timeout: duration{45 * time.Second}},
				{PriceAdjust: 0.05, SizeReduction: 0.25, Timeout: duration{60 * time.Second}},
			},
			PollInterval:    duration{2 * time.Second},
			MinFillFraction: 0.80,
		},
		Pipeline: PipelineConfig{
			SignalStream:         "whalecopy:signals",
			OutcomeStream:        "whalecopy:outcomes",
			ResultStream:         "whalecopy:results",
			ReadCount:            64,
			QueueDepth:           64,
			LockTTL:              duration{2 * time.Minute},
			DedupTTL:             duration{time.Hour},
			DistributedLocks:     false,
			ArchiveRetentionDays: 90,
			ArchiveCron:          "0 3 1 * *",
		},
		Notify: NotifyConfig{
			Events: []string{"breaker_tripped", "execution_failed", "execution_filled", "error"},
		},
		Mode:     "copy",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"copy":    true,
	"paper":   true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: copy, paper, monitor, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — a credential source is only required when orders go to the
	// live exchange.
	needsWallet := c.Mode == "copy" || c.Mode == "full"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Exchange endpoints
	if c.Exchange.ClobHost == "" {
		errs = append(errs, "exchange: clob_host must not be empty")
	}
	if c.Exchange.WsHost == "" {
		errs = append(errs, "exchange: ws_host must not be empty")
	}
	if c.Exchange.ChainID <= 0 {
		errs = append(errs, "exchange: chain_id must be positive")
	}
	if c.Exchange.SignatureType != 1 && c.Exchange.SignatureType != 2 {
		errs = append(errs, fmt.Sprintf("exchange: signature_type must be 1 (EOA) or 2 (Safe), got %d", c.Exchange.SignatureType))
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Filter
	if c.Filter.MinQualityScore < 0 || c.Filter.MinQualityScore > 100 {
		errs = append(errs, fmt.Sprintf("filter: min_quality_score must be 0-100, got %g", c.Filter.MinQualityScore))
	}
	if c.Filter.MaxWhaleDrawdown <= 0 || c.Filter.MaxWhaleDrawdown >= 1 {
		errs = append(errs, "filter: max_whale_drawdown must be in (0, 1)")
	}
	if c.Filter.MinNotional < 0 {
		errs = append(errs, "filter: min_notional must be >= 0")
	}
	if c.Filter.MaxCorrelation <= 0 || c.Filter.MaxCorrelation > 1 {
		errs = append(errs, "filter: max_correlation must be in (0, 1]")
	}
	if c.Filter.MaxTotalExposure <= 0 || c.Filter.MaxTotalExposure > 1 {
		errs = append(errs, "filter: max_total_exposure must be in (0, 1]")
	}
	if c.Filter.MaxSectorExposure <= 0 || c.Filter.MaxSectorExposure > c.Filter.MaxTotalExposure {
		errs = append(errs, "filter: max_sector_exposure must be in (0, max_total_exposure]")
	}

	// Sizing
	if c.Sizing.CopyRatio <= 0 || c.Sizing.CopyRatio > 1 {
		errs = append(errs, "sizing: copy_ratio must be in (0, 1]")
	}
	if c.Sizing.MinSize <= 0 {
		errs = append(errs, "sizing: min_size must be > 0")
	}
	if c.Sizing.MaxSize < c.Sizing.MinSize {
		errs = append(errs, "sizing: max_size must be >= min_size")
	}
	if c.Sizing.MaxBalancePct <= 0 || c.Sizing.MaxBalancePct > 1 {
		errs = append(errs, "sizing: max_balance_pct must be in (0, 1]")
	}

	// Scaler
	if c.Scaler.WindowSize < 1 {
		errs = append(errs, "scaler: window_size must be >= 1")
	}
	if c.Scaler.MinScale <= 0 {
		errs = append(errs, "scaler: min_scale must be > 0")
	}
	if c.Scaler.MaxScale < c.Scaler.MinScale {
		errs = append(errs, "scaler: max_scale must be >= min_scale")
	}
	if c.Scaler.LossStreak < 1 || c.Scaler.WinStreak < 1 {
		errs = append(errs, "scaler: win_streak and loss_streak must be >= 1")
	}
	if c.Scaler.SevereLossStreak < c.Scaler.LossStreak {
		errs = append(errs, "scaler: severe_loss_streak must be >= loss_streak")
	}

	// Allocator — the three pools must cover the whole bankroll.
	if c.Allocator.TopTierCount < 1 {
		errs = append(errs, "allocator: top_tier_count must be >= 1")
	}
	if c.Allocator.MidTierCount < 0 {
		errs = append(errs, "allocator: mid_tier_count must be >= 0")
	}
	poolSum := c.Allocator.TopTierPool + c.Allocator.MidTierPool + c.Allocator.ExperimentalPool
	if poolSum < 0.999 || poolSum > 1.001 {
		errs = append(errs, fmt.Sprintf("allocator: tier pools must sum to 1.0, got %g", poolSum))
	}
	if c.Allocator.MaxPositionPct <= 0 || c.Allocator.MaxPositionPct > 1 {
		errs = append(errs, "allocator: max_position_pct must be in (0, 1]")
	}
	if c.Allocator.RecomputeInterval.Duration <= 0 {
		errs = append(errs, "allocator: recompute_interval must be > 0")
	}

	// Risk
	if c.Risk.StartingNAV <= 0 {
		errs = append(errs, "risk: starting_nav must be > 0")
	}
	if c.Risk.DailyLossLimit <= 0 {
		errs = append(errs, "risk: daily_loss_limit must be > 0")
	}
	if c.Risk.PerWhaleLossLimit <= 0 {
		errs = append(errs, "risk: per_whale_loss_limit must be > 0")
	}
	if c.Risk.MaxConsecutiveLoss < 1 {
		errs = append(errs, "risk: max_consecutive_loss must be >= 1")
	}
	if c.Risk.PauseDuration.Duration <= 0 {
		errs = append(errs, "risk: pause_duration must be > 0")
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct >= 1 {
		errs = append(errs, "risk: max_drawdown_pct must be in (0, 1)")
	}
	if c.Risk.ReduceFactor <= 0 || c.Risk.ReduceFactor >= 1 {
		errs = append(errs, "risk: reduce_factor must be in (0, 1)")
	}
	if c.Risk.EmergencyFailures < 1 {
		errs = append(errs, "risk: emergency_failures must be >= 1")
	}

	// Depth
	if c.Depth.MaxSlippageLimit <= 0 {
		errs = append(errs, "depth: max_slippage_limit must be > 0")
	}
	if c.Depth.MaxSlippageMarket < c.Depth.MaxSlippageLimit {
		errs = append(errs, "depth: max_slippage_market must be >= max_slippage_limit")
	}
	if c.Depth.MaxLiquidityUsed <= 0 || c.Depth.MaxLiquidityUsed > 1 {
		errs = append(errs, "depth: max_liquidity_used must be in (0, 1]")
	}

	// Executor
	if len(c.Executor.Phases) == 0 {
		errs = append(errs, "executor: at least one phase is required")
	}
	for i, p := range c.Executor.Phases {
		if p.Timeout.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("executor: phases[%d].timeout must be > 0", i))
		}
		if p.SizeReduction < 0 || p.SizeReduction >= 1 {
			errs = append(errs, fmt.Sprintf("executor: phases[%d].size_reduction must be in [0, 1)", i))
		}
		if p.PriceAdjust < 0 {
			errs = append(errs, fmt.Sprintf("executor: phases[%d].price_adjust must be >= 0", i))
		}
	}
	if c.Executor.PollInterval.Duration <= 0 {
		errs = append(errs, "executor: poll_interval must be > 0")
	}
	if c.Executor.MinFillFraction <= 0 || c.Executor.MinFillFraction > 1 {
		errs = append(errs, "executor: min_fill_fraction must be in (0, 1]")
	}

	// Pipeline
	if c.Pipeline.SignalStream == "" {
		errs = append(errs, "pipeline: signal_stream must not be empty")
	}
	if c.Pipeline.OutcomeStream == "" {
		errs = append(errs, "pipeline: outcome_stream must not be empty")
	}
	if c.Pipeline.ReadCount < 1 {
		errs = append(errs, "pipeline: read_count must be >= 1")
	}
	if c.Pipeline.QueueDepth < 1 {
		errs = append(errs, "pipeline: queue_depth must be >= 1")
	}
	if c.Pipeline.ArchiveRetentionDays < 1 {
		errs = append(errs, "pipeline: archive_retention_days must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
