package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/covault/vaultrfq/internal/config"
	"github.com/covault/vaultrfq/internal/domain"
	"github.com/covault/vaultrfq/internal/service"
)

// expiryTickInterval is the cadence of the background sweep that expires RFQs
// whose quote window has closed. Expiry is also checked lazily on quote
// intake and execution, so the sweep only bounds how stale an open RFQ can
// look from the outside.
const expiryTickInterval = 5 * time.Second

// AuctionMode connects to the relay and runs a recurring covered-call auction
// for every configured vault until the context is cancelled.
func (a *App) AuctionMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting auction mode",
		slog.Int("vaults", len(a.cfg.Vaults)))

	if err := deps.Session.Connect(ctx); err != nil {
		return fmt.Errorf("app: relay connect: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	auctionSvc := service.NewAuctionService(
		deps.Engine, deps.Book, deps.SpotCache,
		deps.VaultStore, deps.AuditStore, a.logger,
	)

	for _, vc := range a.cfg.Vaults {
		cfg := a.auctionConfig(vc)
		g.Go(func() error {
			return auctionSvc.Run(ctx, cfg)
		})
	}

	g.Go(func() error {
		return a.runExpirySweep(ctx, deps)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// SettleMode rolls every configured vault to its next epoch and exits. It is
// meant to be invoked on the epoch schedule by an external timer (cron or a
// systemd timer). Vaults are settled sequentially; one failing vault does not
// block the rest, and the first error is returned after all were attempted.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting settle mode",
		slog.Int("vaults", len(a.cfg.Vaults)))

	settleSvc := service.NewSettlementService(
		deps.Book, deps.Bridge, deps.WithdrawalStore,
		deps.VaultStore, deps.RFQStore, deps.LockManager,
		deps.RateLimiter, deps.Reporter, deps.AuditStore, a.logger,
	)

	var firstErr error
	for _, vc := range a.cfg.Vaults {
		if err := settleSvc.SettleEpoch(ctx, vc.AssetID); err != nil {
			a.logger.ErrorContext(ctx, "epoch settlement failed",
				slog.String("asset", vc.AssetID),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		a.logger.InfoContext(ctx, "epoch settled", slog.String("asset", vc.AssetID))
	}
	return firstErr
}

// ListenMode connects to the relay without a signing key and observes: quotes
// are validated and persisted, engine events are logged, and nothing is ever
// executed or submitted to the ledger.
func (a *App) ListenMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting listen mode")

	deps.Engine.OnEvent(func(ev domain.Event) {
		a.logger.InfoContext(ctx, "rfq event",
			slog.String("type", string(ev.Type)),
			slog.String("rfq_id", ev.RFQID),
			slog.String("detail", ev.Detail))
	})

	if err := deps.Session.Connect(ctx); err != nil {
		return fmt.Errorf("app: relay connect: %w", err)
	}

	err := a.runExpirySweep(ctx, deps)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runExpirySweep drives Engine.ExpireDue until the context ends.
func (a *App) runExpirySweep(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(expiryTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			expired := deps.Engine.ExpireDue(now)
			if len(expired) > 0 {
				a.logger.InfoContext(ctx, "rfqs expired",
					slog.Int("count", len(expired)))
			}
		}
	}
}

// auctionConfig builds the per-vault auction settings from the global auction
// section.
func (a *App) auctionConfig(vc config.VaultConfig) service.AuctionConfig {
	return service.AuctionConfig{
		Asset:             vc.AssetID,
		OptionType:        domain.OptionType(a.cfg.Auction.OptionType),
		StrikeDeltaBps:    a.cfg.Auction.StrikeDeltaBps,
		ExpiryAhead:       a.cfg.Auction.ExpiryAhead.Duration,
		SizeFractionBps:   a.cfg.Auction.SizeFractionBps,
		PremiumFloorTicks: a.cfg.Auction.PremiumFloorTicks,
		Anonymous:         a.cfg.Auction.Anonymous,
		MinQuotes:         a.cfg.Auction.MinQuotes,
		QuoteTimeout:      a.cfg.RFQ.QuoteTimeout.Duration,
		Interval:          a.cfg.Auction.Interval.Duration,
	}
}
