package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/covault/vaultrfq/internal/blob/s3"
	"github.com/covault/vaultrfq/internal/cache/redis"
	"github.com/covault/vaultrfq/internal/config"
	"github.com/covault/vaultrfq/internal/crypto"
	"github.com/covault/vaultrfq/internal/domain"
	"github.com/covault/vaultrfq/internal/ledger"
	"github.com/covault/vaultrfq/internal/relay"
	"github.com/covault/vaultrfq/internal/rfq"
	"github.com/covault/vaultrfq/internal/store/postgres"
	"github.com/covault/vaultrfq/internal/vault"
)

// Dependencies bundles every dependency the application modes need to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function. Session, Engine, and Bridge are nil in modes that do not use
// them.
type Dependencies struct {
	// Stores
	RFQStore        domain.RFQStore
	VaultStore      domain.VaultStore
	WithdrawalStore domain.WithdrawalStore
	AuditStore      domain.AuditStore

	// Caches
	SpotCache   domain.SpotCache
	EventBus    domain.EventBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Blob storage
	Reporter *s3blob.Reporter

	// Core
	Book    *vault.Book
	Signer  *crypto.Signer
	Bridge  *ledger.Bridge
	Session *relay.Session
	Engine  *rfq.Engine
}

// needsSigner returns true for modes that submit signed ledger instructions.
func needsSigner(mode string) bool {
	return mode == "auction" || mode == "settle"
}

// needsRelay returns true for modes that hold a relay connection.
func needsRelay(mode string) bool {
	return mode == "auction" || mode == "listen"
}

// bookReader adapts the in-memory vault book to the ledger's read interface
// so instructions are always built against the live accounting state.
type bookReader struct {
	book *vault.Book
}

func (r bookReader) GetByAsset(_ context.Context, assetID string) (domain.Vault, error) {
	acct, err := r.book.Get(assetID)
	if err != nil {
		return domain.Vault{}, err
	}
	return acct.Snapshot(), nil
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.RFQStore = postgres.NewRFQStore(pool)
	deps.VaultStore = postgres.NewVaultStore(pool)
	deps.WithdrawalStore = postgres.NewWithdrawalStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.SpotCache = redis.NewSpotCache(redisClient)
	deps.EventBus = redis.NewEventBus(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- S3 epoch report archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Reporter = s3blob.NewReporter(s3blob.NewWriter(s3Client), deps.AuditStore)
	}

	// --- Vault book, seeded from persisted snapshots when present ---
	deps.Book = vault.NewBook(logger)
	for _, vc := range cfg.Vaults {
		v, err := deps.VaultStore.GetByAsset(ctx, vc.AssetID)
		if err != nil {
			v = domain.Vault{
				AssetID:           vc.AssetID,
				VaultAddress:      vc.VaultAddress,
				Authority:         vc.Authority,
				TotalAssets:       vc.TotalAssets,
				TotalShares:       vc.TotalShares,
				VirtualOffset:     vc.VirtualOffset,
				UtilizationCapBps: vc.UtilizationCapBps,
			}
			if err := deps.VaultStore.Upsert(ctx, v); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: seed vault %s: %w", vc.AssetID, err)
			}
			logger.Info("vault seeded from config", slog.String("asset", vc.AssetID))
		} else {
			logger.Info("vault restored from store",
				slog.String("asset", vc.AssetID),
				slog.Uint64("epoch", v.Epoch))
		}
		deps.Book.Add(v)
	}

	// --- Authority signer and ledger bridge ---
	if needsSigner(cfg.Mode) {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: load authority key: %w", err)
		}

		deps.Signer, err = crypto.NewSigner(key, cfg.Ledger.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}

		deps.Bridge = ledger.NewBridge(
			bookReader{deps.Book},
			deps.Signer,
			ledger.NewHTTPSubmitter(cfg.Ledger.BaseURL),
			logger,
		)
	}

	// --- Relay session and RFQ engine ---
	if needsRelay(cfg.Mode) {
		var auth *crypto.HMACAuth
		if cfg.Relay.ApiKey != "" {
			auth = &crypto.HMACAuth{
				Key:        cfg.Relay.ApiKey,
				Secret:     cfg.Relay.ApiSecret,
				Passphrase: cfg.Relay.ApiPassphrase,
			}
		}

		deps.Session = relay.NewSession(relay.Config{
			URL:         cfg.Relay.URL,
			Auth:        auth,
			BaseDelay:   cfg.Relay.BaseDelay.Duration,
			MaxDelay:    cfg.Relay.MaxDelay.Duration,
			MaxAttempts: cfg.Relay.MaxAttempts,
		}, logger)
		closers = append(closers, func() { _ = deps.Session.Close() })

		var settler rfq.Settler
		if deps.Bridge != nil {
			settler = deps.Bridge
		}

		deps.Engine = rfq.NewEngine(
			rfq.Config{
				MaxDeviationBps:     cfg.RFQ.MaxDeviationBps,
				RiskFreeRate:        cfg.RFQ.RiskFreeRate,
				FallbackVol:         cfg.RFQ.FallbackVol,
				VolWindow:           cfg.RFQ.VolWindow,
				TradingDaysPerYear:  cfg.RFQ.TradingDaysPerYear,
				DefaultQuoteTimeout: cfg.RFQ.QuoteTimeout.Duration,
			},
			deps.Session,
			deps.Book,
			settler,
			deps.SpotCache,
			deps.RFQStore,
			deps.EventBus,
			deps.LockManager,
			logger,
		)
	}

	return deps, cleanup, nil
}
