package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	cfg.Ledger.BaseURL = "http://localhost:8899"
	cfg.Vaults = []VaultConfig{{
		AssetID:           "SOL",
		VaultAddress:      "0x00000000000000000000000000000000000000aa",
		TotalAssets:       1_000_000_000,
		TotalShares:       1_000_000_000,
		UtilizationCapBps: 5_000,
	}}
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "shadow"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateRequiresWalletForSigningModes(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")

	// listen mode is read-only and needs no key.
	cfg.Mode = "listen"
	assert.NoError(t, cfg.Validate())
}

func TestValidateVaultList(t *testing.T) {
	cfg := validConfig()
	cfg.Vaults = nil
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one vault")

	cfg = validConfig()
	cfg.Vaults = append(cfg.Vaults, cfg.Vaults[0])
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate asset_id")

	cfg = validConfig()
	cfg.Vaults[0].UtilizationCapBps = 20_000
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "utilization_cap_bps")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "redis")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "settle"

[relay]
base_delay = "250ms"

[redis]
addr = "redis.internal:6379"

[[vaults]]
asset_id = "SOL"
vault_address = "0x00000000000000000000000000000000000000aa"
total_assets = 1000000000
total_shares = 1000000000
utilization_cap_bps = 5000
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "settle", cfg.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.Relay.BaseDelay.Duration)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	// Untouched sections keep their defaults.
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, 5*time.Minute, cfg.RFQ.QuoteTimeout.Duration)
	require.Len(t, cfg.Vaults, 1)
	assert.Equal(t, "SOL", cfg.Vaults[0].AssetID)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("VAULTRFQ_MODE", "listen")
	t.Setenv("VAULTRFQ_REDIS_ADDR", "override:6379")
	t.Setenv("VAULTRFQ_AUCTION_INTERVAL", "30m")
	t.Setenv("VAULTRFQ_POSTGRES_RUN_MIGRATIONS", "false")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "listen", cfg.Mode)
	assert.Equal(t, "override:6379", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Auction.Interval.Duration)
	assert.False(t, cfg.Postgres.RunMigrations)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.ApiSecret = "super-secret"
	cfg.Postgres.Password = "hunter2"
	cfg.S3.SecretKey = "sk"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Relay.ApiSecret)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	// Originals untouched.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	// Empty secrets stay empty rather than pretending to exist.
	assert.Empty(t, red.Redis.Password)
}
