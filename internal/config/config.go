// Package config defines the top-level configuration for the vault RFQ
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VAULTRFQ_* environment variables.
type Config struct {
	Wallet   WalletConfig  `toml:"wallet"`
	Ledger   LedgerConfig  `toml:"ledger"`
	Relay    RelayConfig   `toml:"relay"`
	Postgres PGConfig      `toml:"postgres"`
	Redis    RedisConfig   `toml:"redis"`
	S3       S3Config      `toml:"s3"`
	RFQ      RFQConfig     `toml:"rfq"`
	Auction  AuctionConfig `toml:"auction"`
	Vaults   []VaultConfig `toml:"vaults"`
	Mode     string        `toml:"mode"`
	LogLevel string        `toml:"log_level"`
}

// WalletConfig holds the vault authority signing key.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// LedgerConfig holds the settlement ledger endpoint and chain parameters.
type LedgerConfig struct {
	BaseURL string `toml:"base_url"`
	ChainID int    `toml:"chain_id"`
}

// RelayConfig holds the quote relay endpoint and API credentials.
type RelayConfig struct {
	URL           string   `toml:"url"`
	ApiKey        string   `toml:"api_key"`
	ApiSecret     string   `toml:"api_secret"`
	ApiPassphrase string   `toml:"api_passphrase"`
	BaseDelay     duration `toml:"base_delay"`
	MaxDelay      duration `toml:"max_delay"`
	MaxAttempts   int      `toml:"max_attempts"`
}

// PGConfig holds PostgreSQL connection parameters.
type PGConfig struct {
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

// S3Config holds S3-compatible object storage parameters for epoch reports.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RFQConfig tunes quote validation on the RFQ engine.
type RFQConfig struct {
	MaxDeviationBps    int64    `toml:"max_deviation_bps"`
	RiskFreeRate       float64  `toml:"risk_free_rate"`
	FallbackVol        float64  `toml:"fallback_vol"`
	VolWindow          int      `toml:"vol_window"`
	TradingDaysPerYear int      `toml:"trading_days_per_year"`
	QuoteTimeout       duration `toml:"quote_timeout"`
}

// AuctionConfig holds the recurring auction schedule and sizing parameters
// applied to every configured vault.
type AuctionConfig struct {
	OptionType        string   `toml:"option_type"`
	StrikeDeltaBps    int64    `toml:"strike_delta_bps"`
	ExpiryAhead       duration `toml:"expiry_ahead"`
	SizeFractionBps   int64    `toml:"size_fraction_bps"`
	PremiumFloorTicks int64    `toml:"premium_floor_ticks"`
	Anonymous         bool     `toml:"anonymous"`
	MinQuotes         int      `toml:"min_quotes"`
	Interval          duration `toml:"interval"`
}

// VaultConfig declares one covered-call vault managed by this instance.
// Amounts are fixed-point at 1e6 scale.
type VaultConfig struct {
	AssetID           string `toml:"asset_id"`
	VaultAddress      string `toml:"vault_address"`
	Authority         string `toml:"authority"`
	TotalAssets       int64  `toml:"total_assets"`
	TotalShares       int64  `toml:"total_shares"`
	VirtualOffset     int64  `toml:"virtual_offset"`
	UtilizationCapBps int64  `toml:"utilization_cap_bps"`
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
		Ledger: LedgerConfig{
			ChainID: 1,
		},
		Relay: RelayConfig{
			URL:         "wss://relay.covault.io/rfq/ws",
			BaseDelay:   duration{time.Second},
			MaxDelay:    duration{time.Minute},
			MaxAttempts: 10,
		},
		Postgres: PGConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "vaultrfq",
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
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "vaultrfq-reports",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		RFQ: RFQConfig{
			MaxDeviationBps:    500,
			RiskFreeRate:       0.05,
			FallbackVol:        0.6,
			VolWindow:          30,
			TradingDaysPerYear: 252,
			QuoteTimeout:       duration{5 * time.Minute},
		},
		Auction: AuctionConfig{
			OptionType:        "call",
			StrikeDeltaBps:    1_000,
			ExpiryAhead:       duration{7 * 24 * time.Hour},
			SizeFractionBps:   0,
			PremiumFloorTicks: 0,
			Anonymous:         false,
			MinQuotes:         2,
			Interval:          duration{time.Hour},
		},
		Mode:     "auction",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"auction": true,
	"settle":  true,
	"listen":  true,
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
	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: auction, settle, listen)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet. Signing modes need a key; listen mode is read-only.
	needsWallet := mode == "auction" || mode == "settle"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Ledger
	if needsWallet {
		if c.Ledger.BaseURL == "" {
			errs = append(errs, "ledger: base_url must not be empty for mode "+c.Mode)
		}
	}
	if c.Ledger.ChainID <= 0 {
		errs = append(errs, fmt.Sprintf("ledger: chain_id must be positive, got %d", c.Ledger.ChainID))
	}

	// Relay. Required except in settle mode, which never dials.
	if mode != "settle" {
		if c.Relay.URL == "" {
			errs = append(errs, "relay: url must not be empty")
		}
		rk := c.Relay.ApiKey != ""
		rs := c.Relay.ApiSecret != ""
		rp := c.Relay.ApiPassphrase != ""
		if rk || rs || rp {
			if !(rk && rs && rp) {
				errs = append(errs, "relay: api_key, api_secret, and api_passphrase must all be set together")
			}
		}
		if c.Relay.MaxAttempts < 1 {
			errs = append(errs, "relay: max_attempts must be >= 1")
		}
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
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// RFQ
	if c.RFQ.MaxDeviationBps <= 0 {
		errs = append(errs, "rfq: max_deviation_bps must be > 0")
	}
	if c.RFQ.FallbackVol <= 0 {
		errs = append(errs, "rfq: fallback_vol must be > 0")
	}
	if c.RFQ.VolWindow < 2 {
		errs = append(errs, "rfq: vol_window must be >= 2")
	}
	if c.RFQ.TradingDaysPerYear < 1 {
		errs = append(errs, "rfq: trading_days_per_year must be >= 1")
	}
	if c.RFQ.QuoteTimeout.Duration <= 0 {
		errs = append(errs, "rfq: quote_timeout must be > 0")
	}

	// Auction
	if mode == "auction" {
		if c.Auction.OptionType != "call" && c.Auction.OptionType != "put" {
			errs = append(errs, fmt.Sprintf("auction: option_type must be call or put, got %q", c.Auction.OptionType))
		}
		if c.Auction.StrikeDeltaBps < 0 {
			errs = append(errs, "auction: strike_delta_bps must be >= 0")
		}
		if c.Auction.ExpiryAhead.Duration <= 0 {
			errs = append(errs, "auction: expiry_ahead must be > 0")
		}
		if c.Auction.SizeFractionBps < 0 || c.Auction.SizeFractionBps > 10_000 {
			errs = append(errs, fmt.Sprintf("auction: size_fraction_bps must be 0-10000, got %d", c.Auction.SizeFractionBps))
		}
		if c.Auction.MinQuotes < 1 {
			errs = append(errs, "auction: min_quotes must be >= 1")
		}
		if c.Auction.Interval.Duration <= 0 {
			errs = append(errs, "auction: interval must be > 0")
		}
	}

	// Vaults
	if len(c.Vaults) == 0 {
		errs = append(errs, "vaults: at least one vault must be configured")
	}
	seen := make(map[string]bool, len(c.Vaults))
	for i, v := range c.Vaults {
		if v.AssetID == "" {
			errs = append(errs, fmt.Sprintf("vaults[%d]: asset_id must not be empty", i))
			continue
		}
		if seen[v.AssetID] {
			errs = append(errs, fmt.Sprintf("vaults[%d]: duplicate asset_id %q", i, v.AssetID))
		}
		seen[v.AssetID] = true
		if v.UtilizationCapBps <= 0 || v.UtilizationCapBps > 10_000 {
			errs = append(errs, fmt.Sprintf("vaults[%d] %s: utilization_cap_bps must be 1-10000, got %d", i, v.AssetID, v.UtilizationCapBps))
		}
		if v.TotalAssets < 0 || v.TotalShares < 0 {
			errs = append(errs, fmt.Sprintf("vaults[%d] %s: total_assets and total_shares must be >= 0", i, v.AssetID))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
