// Package service contains the orchestration layer: the auction runner that
// drives recurring RFQ auctions off vault capacity, and the settlement
// service that rolls epochs and pays withdrawals.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/covault/vaultrfq/internal/domain"
	"github.com/covault/vaultrfq/internal/pricing"
	"github.com/covault/vaultrfq/internal/rfq"
	"github.com/covault/vaultrfq/internal/vault"
)

// Negotiator is the slice of the RFQ engine the auction runner drives.
// *rfq.Engine satisfies it; tests substitute a fake.
type Negotiator interface {
	CreateRFQ(ctx context.Context, params domain.RFQParams) (domain.RFQ, error)
	SubscribeQuotes(rfqID string, cb rfq.QuoteCallback) error
	UnsubscribeQuotes(rfqID string) error
	ExecuteOption(ctx context.Context, rfqID, quoteID string) (domain.Fill, error)
	CancelRFQ(rfqID string) error
	GetRFQ(rfqID string) (domain.RFQ, error)
}

// AuctionConfig describes one vault's recurring auction.
type AuctionConfig struct {
	Asset      string
	OptionType domain.OptionType

	// StrikeDeltaBps sets the strike distance from spot, out of the money.
	StrikeDeltaBps int64

	// ExpiryAhead is the option expiry horizon from auction time.
	ExpiryAhead time.Duration

	// SizeFractionBps is the share of remaining capacity to auction per run;
	// 0 auctions the full remaining capacity.
	SizeFractionBps int64

	PremiumFloorTicks int64
	Anonymous         bool
	MinQuotes         int
	QuoteTimeout      time.Duration

	// Interval is the cadence of Run.
	Interval time.Duration
}

// AuctionResult reports one auction attempt.
type AuctionResult struct {
	RFQ    domain.RFQ
	Fill   *domain.Fill
	Filled bool
	Reason string // set when not filled
}

// AuctionService turns vault capacity into recurring covered-call auctions:
// compute capacity, suggest a strike off the cached spot, open an RFQ,
// collect quotes until the window closes, and execute the best premium.
type AuctionService struct {
	engine Negotiator
	book   *vault.Book
	spot   domain.SpotCache
	dedup  *Dedup
	vaults domain.VaultStore // optional, snapshot persistence
	audit  domain.AuditStore // optional
	logger *slog.Logger
}

// NewAuctionService creates an AuctionService. vaults and audit may be nil.
func NewAuctionService(
	engine Negotiator,
	book *vault.Book,
	spot domain.SpotCache,
	vaults domain.VaultStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *AuctionService {
	return &AuctionService{
		engine: engine,
		book:   book,
		spot:   spot,
		dedup:  NewDedup(time.Hour),
		vaults: vaults,
		audit:  audit,
		logger: logger.With(slog.String("component", "auction")),
	}
}

// Run drives RunOnce on the configured interval until the context ends.
func (s *AuctionService) Run(ctx context.Context, cfg AuctionConfig) error {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, cfg); err != nil {
				s.logger.Warn("auction run failed",
					slog.String("asset", cfg.Asset),
					slog.String("error", err.Error()))
			}
			s.dedup.Cleanup()
		}
	}
}

// RunOnce performs a single auction attempt for the configured vault.
func (s *AuctionService) RunOnce(ctx context.Context, cfg AuctionConfig) (AuctionResult, error) {
	acct, err := s.book.Get(cfg.Asset)
	if err != nil {
		return AuctionResult{}, fmt.Errorf("auction: vault %s: %w", cfg.Asset, err)
	}

	snap := acct.Snapshot()
	remaining := acct.RemainingCapacity()
	if remaining <= 0 {
		return AuctionResult{Reason: "no remaining capacity"},
			fmt.Errorf("auction: vault %s: %w", cfg.Asset, domain.ErrCapacityExceeded)
	}

	// One live auction per vault and epoch.
	dedupKey := fmt.Sprintf("%s:%d", cfg.Asset, snap.Epoch)
	if s.dedup.IsDuplicate(dedupKey) {
		return AuctionResult{Reason: "auction already running for this epoch"}, nil
	}

	spotPrice, _, err := s.spot.GetSpot(ctx, cfg.Asset)
	if err != nil {
		return AuctionResult{}, fmt.Errorf("auction: spot price for %s: %w", cfg.Asset, err)
	}

	strike := pricing.SuggestStrike(spotPrice, cfg.StrikeDeltaBps, cfg.OptionType)

	size := remaining
	if cfg.SizeFractionBps > 0 {
		size = domain.MulDiv(remaining, cfg.SizeFractionBps, domain.BpsDenominator)
	}
	if size <= 0 {
		return AuctionResult{Reason: "auction size rounds to zero"}, nil
	}

	params := domain.RFQParams{
		Asset:             cfg.Asset,
		Side:              domain.SideSell,
		OptionType:        cfg.OptionType,
		StrikeTicks:       domain.ToTicks(strike),
		Expiry:            time.Now().Add(cfg.ExpiryAhead),
		SizeUnits:         size,
		VaultAddress:      snap.VaultAddress,
		PremiumFloorTicks: cfg.PremiumFloorTicks,
		Anonymous:         cfg.Anonymous,
		MinQuotes:         cfg.MinQuotes,
		QuoteTimeout:      cfg.QuoteTimeout,
	}

	r, err := s.engine.CreateRFQ(ctx, params)
	if err != nil {
		return AuctionResult{}, fmt.Errorf("auction: create rfq: %w", err)
	}

	s.logger.Info("auction opened",
		slog.String("rfq_id", r.ID),
		slog.String("asset", cfg.Asset),
		slog.Float64("strike", params.Strike()),
		slog.Float64("size", params.Size()))

	return s.collectAndExecute(ctx, cfg, r)
}

// collectAndExecute waits out the quote window, then fills the best quote.
func (s *AuctionService) collectAndExecute(ctx context.Context, cfg AuctionConfig, r domain.RFQ) (AuctionResult, error) {
	minQuotes := cfg.MinQuotes
	if minQuotes <= 0 {
		minQuotes = 1
	}

	// Evaluate shortly before the deadline so the engine's expiry check does
	// not race the accept call.
	window := time.Until(r.Deadline())
	evalAfter := window - window/10

	quoteArrived := make(chan struct{}, 64)
	if err := s.engine.SubscribeQuotes(r.ID, func(domain.Quote) {
		select {
		case quoteArrived <- struct{}{}:
		default:
		}
	}); err != nil {
		return AuctionResult{RFQ: r}, fmt.Errorf("auction: subscribe quotes: %w", err)
	}
	defer func() { _ = s.engine.UnsubscribeQuotes(r.ID) }()

	timer := time.NewTimer(evalAfter)
	defer timer.Stop()

	received := 0
collect:
	for {
		select {
		case <-ctx.Done():
			_ = s.engine.CancelRFQ(r.ID)
			return AuctionResult{RFQ: r, Reason: "cancelled"}, ctx.Err()
		case <-quoteArrived:
			received++
			if received >= minQuotes {
				break collect
			}
		case <-timer.C:
			break collect
		}
	}

	// Re-read the authoritative quote list from the engine.
	current, err := s.engine.GetRFQ(r.ID)
	if err != nil {
		return AuctionResult{RFQ: r}, fmt.Errorf("auction: reload rfq %s: %w", r.ID, err)
	}

	if len(current.Quotes) < minQuotes {
		_ = s.engine.CancelRFQ(r.ID)
		s.logger.Info("auction cancelled, not enough quotes",
			slog.String("rfq_id", r.ID),
			slog.Int("received", len(current.Quotes)),
			slog.Int("min", minQuotes))
		return AuctionResult{RFQ: current, Reason: "not enough quotes"}, nil
	}

	best := bestQuote(current.Quotes)

	fill, err := s.engine.ExecuteOption(ctx, r.ID, best.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrRFQClosed) {
			_ = s.engine.CancelRFQ(r.ID)
		}
		return AuctionResult{RFQ: current, Reason: "execution failed"},
			fmt.Errorf("auction: execute %s: %w", r.ID, err)
	}

	s.afterFill(ctx, cfg.Asset, r.ID, fill)

	current, _ = s.engine.GetRFQ(r.ID)
	return AuctionResult{RFQ: current, Fill: &fill, Filled: true}, nil
}

// afterFill persists the updated vault snapshot and audit trail.
func (s *AuctionService) afterFill(ctx context.Context, asset, rfqID string, fill domain.Fill) {
	if s.vaults != nil {
		if acct, err := s.book.Get(asset); err == nil {
			if err := s.vaults.Upsert(ctx, acct.Snapshot()); err != nil {
				s.logger.Warn("vault snapshot persist failed",
					slog.String("asset", asset),
					slog.String("error", err.Error()))
			}
		}
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, "auction_filled", map[string]any{
			"rfq_id":       rfqID,
			"asset":        asset,
			"quote_id":     fill.QuoteID,
			"counterparty": fill.Counterparty,
			"premium":      fill.Premium(),
			"tx_ref":       fill.TxRef,
		}); err != nil {
			s.logger.Warn("audit log failed",
				slog.String("rfq_id", rfqID),
				slog.String("error", err.Error()))
		}
	}

	s.logger.Info("auction filled",
		slog.String("rfq_id", rfqID),
		slog.String("quote_id", fill.QuoteID),
		slog.Float64("premium", fill.Premium()))
}

// bestQuote returns the highest-premium quote; ties go to the earlier one.
func bestQuote(quotes []domain.Quote) domain.Quote {
	best := quotes[0]
	for _, q := range quotes[1:] {
		if q.PremiumTicks > best.PremiumTicks {
			best = q
		}
	}
	return best
}
