package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/covault/vaultrfq/internal/blob/s3"
	"github.com/covault/vaultrfq/internal/domain"
	"github.com/covault/vaultrfq/internal/vault"
)

// settleLockTTL bounds the per-vault epoch roll lock.
const settleLockTTL = 2 * time.Minute

// withdrawRateLimit bounds how many withdrawal requests one user may file
// per withdrawRateWindow.
const (
	withdrawRateLimit  = 5
	withdrawRateWindow = time.Hour
)

// EpochLedger is the slice of the settlement bridge the epoch roll uses.
// *ledger.Bridge satisfies it.
type EpochLedger interface {
	AdvanceEpoch(ctx context.Context, assetID string, premiumEarned int64) (string, error)
	RequestWithdrawal(ctx context.Context, assetID, user string, shares int64) (string, error)
	ProcessWithdrawal(ctx context.Context, assetID, user string, requestEpoch uint64) (string, error)
}

// SettlementService orchestrates the epoch boundary: advance the epoch on
// the ledger, fold premium into the local vault model, pay out withdrawals
// that became eligible, and archive the epoch report.
type SettlementService struct {
	book        *vault.Book
	ledger      EpochLedger
	withdrawals domain.WithdrawalStore
	vaults      domain.VaultStore  // optional
	rfqs        domain.RFQStore    // optional, fills for the epoch report
	locks       domain.LockManager // optional, multi-instance roll guard
	limiter     domain.RateLimiter // optional, per-user withdrawal throttle
	reporter    *s3blob.Reporter   // optional
	audit       domain.AuditStore  // optional
	logger      *slog.Logger
}

// NewSettlementService creates a SettlementService. vaults, rfqs, locks,
// limiter, reporter, and audit may be nil.
func NewSettlementService(
	book *vault.Book,
	ledger EpochLedger,
	withdrawals domain.WithdrawalStore,
	vaults domain.VaultStore,
	rfqs domain.RFQStore,
	locks domain.LockManager,
	limiter domain.RateLimiter,
	reporter *s3blob.Reporter,
	audit domain.AuditStore,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		book:        book,
		ledger:      ledger,
		withdrawals: withdrawals,
		vaults:      vaults,
		rfqs:        rfqs,
		locks:       locks,
		limiter:     limiter,
		reporter:    reporter,
		audit:       audit,
		logger:      logger.With(slog.String("component", "settlement")),
	}
}

// SettleEpoch rolls one vault to its next epoch and processes the
// withdrawals that become eligible. The ledger transaction goes first; the
// local model follows only after the ledger accepted the roll.
func (s *SettlementService) SettleEpoch(ctx context.Context, assetID string) error {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "epoch:"+assetID, settleLockTTL)
		if err != nil {
			return fmt.Errorf("settlement: epoch lock %s: %w", assetID, err)
		}
		defer unlock()
	}

	acct, err := s.book.Get(assetID)
	if err != nil {
		return fmt.Errorf("settlement: vault %s: %w", assetID, err)
	}

	before := acct.Snapshot()

	txRef, err := s.ledger.AdvanceEpoch(ctx, assetID, before.EpochPremiumEarned)
	if err != nil {
		return fmt.Errorf("settlement: advance epoch for %s: %w", assetID, err)
	}

	now := time.Now().UTC()
	after, folded := acct.AdvanceEpoch(now)

	s.logger.Info("epoch rolled",
		slog.String("asset", assetID),
		slog.Uint64("epoch", after.Epoch),
		slog.Int64("premium_folded", folded),
		slog.String("tx_ref", txRef))

	processed, withdrawErr := s.processEligible(ctx, acct, assetID, now)

	after = acct.Snapshot()
	if s.vaults != nil {
		if err := s.vaults.Upsert(ctx, after); err != nil {
			s.logger.Warn("vault snapshot persist failed",
				slog.String("asset", assetID),
				slog.String("error", err.Error()))
		}
	}

	s.publishReport(ctx, before, after, now, processed)

	if s.audit != nil {
		if err := s.audit.Log(ctx, "epoch_settled", map[string]any{
			"asset":          assetID,
			"epoch":          after.Epoch,
			"premium_folded": folded,
			"withdrawals":    len(processed),
			"tx_ref":         txRef,
			"total_assets":   after.TotalAssets,
			"total_shares":   after.TotalShares,
		}); err != nil {
			s.logger.Warn("audit log failed",
				slog.String("asset", assetID),
				slog.String("error", err.Error()))
		}
	}

	return withdrawErr
}

// processEligible pays out every withdrawal whose filing epoch has settled.
// One failing request does not block the rest; the first error is returned
// after all requests have been attempted.
func (s *SettlementService) processEligible(ctx context.Context, acct *vault.Account, assetID string, now time.Time) ([]domain.WithdrawalRequest, error) {
	snap := acct.Snapshot()

	eligible, err := s.withdrawals.ListEligible(ctx, assetID, snap.Epoch)
	if err != nil {
		return nil, fmt.Errorf("settlement: list eligible withdrawals: %w", err)
	}

	var processed []domain.WithdrawalRequest
	var firstErr error

	for i := range eligible {
		req := eligible[i]

		if _, err := s.ledger.ProcessWithdrawal(ctx, assetID, req.User, req.RequestEpoch); err != nil {
			s.logger.Error("withdrawal rejected by ledger",
				slog.String("request", req.ID),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		payout, err := acct.ProcessWithdrawal(&req, now)
		if err != nil {
			if errors.Is(err, domain.ErrAlreadyProcessed) {
				continue
			}
			s.logger.Error("withdrawal processing failed",
				slog.String("request", req.ID),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if err := s.withdrawals.MarkProcessed(ctx, req.ID); err != nil && !errors.Is(err, domain.ErrAlreadyProcessed) {
			s.logger.Error("withdrawal mark processed failed",
				slog.String("request", req.ID),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}

		if s.audit != nil {
			_ = s.audit.Log(ctx, "withdrawal_processed", map[string]any{
				"request": req.ID,
				"asset":   assetID,
				"user":    req.User,
				"shares":  req.Shares,
				"payout":  payout,
			})
		}

		processed = append(processed, req)
	}

	return processed, firstErr
}

// publishReport archives the settled epoch to blob storage.
func (s *SettlementService) publishReport(ctx context.Context, before, after domain.Vault, rolledAt time.Time, processed []domain.WithdrawalRequest) {
	if s.reporter == nil {
		return
	}

	report := s3blob.EpochReport{
		AssetID:     before.AssetID,
		Epoch:       before.Epoch,
		RolledAt:    rolledAt,
		Before:      before,
		After:       after,
		Withdrawals: processed,
	}

	if s.rfqs != nil {
		since := before.LastRollAt
		fills, err := s.rfqs.ListByVault(ctx, before.VaultAddress, domain.ListOpts{Since: &since})
		if err != nil {
			s.logger.Warn("epoch report fill query failed",
				slog.String("asset", before.AssetID),
				slog.String("error", err.Error()))
		} else {
			for _, r := range fills {
				if r.Status == domain.RFQStatusFilled {
					report.Fills = append(report.Fills, r)
				}
			}
		}
	}

	if err := s.reporter.PublishEpochReport(ctx, report); err != nil {
		s.logger.Warn("epoch report upload failed",
			slog.String("asset", before.AssetID),
			slog.String("error", err.Error()))
	}
}

// RequestWithdrawal files a depositor redemption in the vault's current
// epoch: queued locally, registered on the ledger, persisted.
func (s *SettlementService) RequestWithdrawal(ctx context.Context, assetID, user string, shares int64) (domain.WithdrawalRequest, error) {
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, "withdraw:"+user, withdrawRateLimit, withdrawRateWindow)
		if err != nil {
			return domain.WithdrawalRequest{}, fmt.Errorf("settlement: rate limit check: %w", err)
		}
		if !ok {
			return domain.WithdrawalRequest{}, fmt.Errorf("settlement: withdrawal requests for %s: %w", user, domain.ErrRateLimited)
		}
	}

	acct, err := s.book.Get(assetID)
	if err != nil {
		return domain.WithdrawalRequest{}, fmt.Errorf("settlement: vault %s: %w", assetID, err)
	}

	if err := acct.QueueWithdrawal(shares); err != nil {
		return domain.WithdrawalRequest{}, err
	}

	snap := acct.Snapshot()
	req := domain.WithdrawalRequest{
		ID:           fmt.Sprintf("%s-%s-%d", assetID, user, snap.Epoch),
		User:         user,
		Vault:        assetID,
		Shares:       shares,
		RequestEpoch: snap.Epoch,
		CreatedAt:    time.Now().UTC(),
	}

	if _, err := s.ledger.RequestWithdrawal(ctx, assetID, user, shares); err != nil {
		acct.DequeueWithdrawal(shares)
		return domain.WithdrawalRequest{}, fmt.Errorf("settlement: register withdrawal: %w", err)
	}

	if err := s.withdrawals.Create(ctx, req); err != nil {
		acct.DequeueWithdrawal(shares)
		return domain.WithdrawalRequest{}, fmt.Errorf("settlement: persist withdrawal: %w", err)
	}

	s.logger.Info("withdrawal queued",
		slog.String("request", req.ID),
		slog.String("user", user),
		slog.Int64("shares", shares),
		slog.Uint64("epoch", req.RequestEpoch))

	return req, nil
}
