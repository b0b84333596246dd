package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VAULTRFQ_* environment variable overrides, and
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

// applyEnvOverrides reads well-known VAULTRFQ_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "VAULTRFQ_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "VAULTRFQ_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "VAULTRFQ_WALLET_KEY_PASSWORD")

	// ── Ledger ──
	setStr(&cfg.Ledger.BaseURL, "VAULTRFQ_LEDGER_BASE_URL")
	setInt(&cfg.Ledger.ChainID, "VAULTRFQ_LEDGER_CHAIN_ID")

	// ── Relay ──
	setStr(&cfg.Relay.URL, "VAULTRFQ_RELAY_URL")
	setStr(&cfg.Relay.ApiKey, "VAULTRFQ_RELAY_API_KEY")
	setStr(&cfg.Relay.ApiSecret, "VAULTRFQ_RELAY_API_SECRET")
	setStr(&cfg.Relay.ApiPassphrase, "VAULTRFQ_RELAY_API_PASSPHRASE")
	setDuration(&cfg.Relay.BaseDelay, "VAULTRFQ_RELAY_BASE_DELAY")
	setDuration(&cfg.Relay.MaxDelay, "VAULTRFQ_RELAY_MAX_DELAY")
	setInt(&cfg.Relay.MaxAttempts, "VAULTRFQ_RELAY_MAX_ATTEMPTS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "VAULTRFQ_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "VAULTRFQ_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "VAULTRFQ_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VAULTRFQ_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VAULTRFQ_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VAULTRFQ_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VAULTRFQ_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VAULTRFQ_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "VAULTRFQ_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VAULTRFQ_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VAULTRFQ_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "VAULTRFQ_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VAULTRFQ_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VAULTRFQ_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VAULTRFQ_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VAULTRFQ_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VAULTRFQ_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "VAULTRFQ_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "VAULTRFQ_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VAULTRFQ_S3_REGION")
	setStr(&cfg.S3.Bucket, "VAULTRFQ_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VAULTRFQ_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VAULTRFQ_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VAULTRFQ_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VAULTRFQ_S3_FORCE_PATH_STYLE")

	// ── RFQ ──
	setInt64(&cfg.RFQ.MaxDeviationBps, "VAULTRFQ_RFQ_MAX_DEVIATION_BPS")
	setFloat64(&cfg.RFQ.RiskFreeRate, "VAULTRFQ_RFQ_RISK_FREE_RATE")
	setFloat64(&cfg.RFQ.FallbackVol, "VAULTRFQ_RFQ_FALLBACK_VOL")
	setInt(&cfg.RFQ.VolWindow, "VAULTRFQ_RFQ_VOL_WINDOW")
	setInt(&cfg.RFQ.TradingDaysPerYear, "VAULTRFQ_RFQ_TRADING_DAYS_PER_YEAR")
	setDuration(&cfg.RFQ.QuoteTimeout, "VAULTRFQ_RFQ_QUOTE_TIMEOUT")

	// ── Auction ──
	setStr(&cfg.Auction.OptionType, "VAULTRFQ_AUCTION_OPTION_TYPE")
	setInt64(&cfg.Auction.StrikeDeltaBps, "VAULTRFQ_AUCTION_STRIKE_DELTA_BPS")
	setDuration(&cfg.Auction.ExpiryAhead, "VAULTRFQ_AUCTION_EXPIRY_AHEAD")
	setInt64(&cfg.Auction.SizeFractionBps, "VAULTRFQ_AUCTION_SIZE_FRACTION_BPS")
	setInt64(&cfg.Auction.PremiumFloorTicks, "VAULTRFQ_AUCTION_PREMIUM_FLOOR_TICKS")
	setBool(&cfg.Auction.Anonymous, "VAULTRFQ_AUCTION_ANONYMOUS")
	setInt(&cfg.Auction.MinQuotes, "VAULTRFQ_AUCTION_MIN_QUOTES")
	setDuration(&cfg.Auction.Interval, "VAULTRFQ_AUCTION_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "VAULTRFQ_MODE")
	setStr(&cfg.LogLevel, "VAULTRFQ_LOG_LEVEL")
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
