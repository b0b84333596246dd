// Package vault holds the in-memory economic model of each covered-call
// vault: capacity checks, exposure and premium accounting, the epoch-advance
// transition, and withdrawal processing. Every account carries its own lock;
// nothing here contends across vaults.
package vault

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/covault/vaultrfq/internal/domain"
)

// Account is the mutable mirror of one vault's ledger state. All reads and
// mutations go through the account's mutex so exposure and premium deltas
// are applied atomically with respect to each other.
type Account struct {
	mu     sync.Mutex
	v      domain.Vault
	logger *slog.Logger
}

// NewAccount wraps a vault snapshot in a locked account.
func NewAccount(v domain.Vault, logger *slog.Logger) *Account {
	return &Account{
		v:      v,
		logger: logger.With(slog.String("component", "vault"), slog.String("asset", v.AssetID)),
	}
}

// Snapshot returns a copy of the current vault state.
func (a *Account) Snapshot() domain.Vault {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}

// RemainingCapacity returns the notional still exposable this epoch.
func (a *Account) RemainingCapacity() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v.RemainingCapacity()
}

// CanAcceptExposure reports whether additional notional fits under the
// utilization cap. This is the opportunistic check; callers must re-verify
// under RecordExposure (or the settlement path's lock) immediately before
// submitting to the ledger, because capacity can shrink in between.
func (a *Account) CanAcceptExposure(notional int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v.CanAcceptExposure(notional)
}

// RecordExposure applies a fill's notional and premium to the current epoch.
// The cap invariant is checked before any mutation; a violating call leaves
// the account untouched and returns domain.ErrCapacityExceeded.
func (a *Account) RecordExposure(notional, premium int64) (domain.Vault, error) {
	if notional <= 0 {
		return domain.Vault{}, fmt.Errorf("vault: notional must be positive: %w", domain.ErrInvalidParameter)
	}
	if premium < 0 {
		return domain.Vault{}, fmt.Errorf("vault: premium must be non-negative: %w", domain.ErrInvalidParameter)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.v.CanAcceptExposure(notional) {
		return domain.Vault{}, fmt.Errorf(
			"vault: notional %d over remaining capacity %d: %w",
			notional, a.v.RemainingCapacity(), domain.ErrCapacityExceeded,
		)
	}

	a.v.EpochNotionalExposed += notional
	a.v.EpochPremiumEarned += premium
	a.v.EpochPremiumPerTokenBps = premiumPerTokenBps(a.v.EpochPremiumEarned, a.v.TotalAssets)
	a.v.UpdatedAt = time.Now().UTC()

	a.logger.Info("exposure recorded",
		slog.Int64("notional", notional),
		slog.Int64("premium", premium),
		slog.Int64("epoch_exposed", a.v.EpochNotionalExposed),
	)

	return a.v, nil
}

// ReleaseExposure reverses a prior RecordExposure. It exists solely for the
// settlement abort path: exposure is reserved before the ledger transaction
// is submitted, and released again if submission fails. Floors at zero.
func (a *Account) ReleaseExposure(notional, premium int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.v.EpochNotionalExposed -= notional
	if a.v.EpochNotionalExposed < 0 {
		a.v.EpochNotionalExposed = 0
	}
	a.v.EpochPremiumEarned -= premium
	if a.v.EpochPremiumEarned < 0 {
		a.v.EpochPremiumEarned = 0
	}
	a.v.EpochPremiumPerTokenBps = premiumPerTokenBps(a.v.EpochPremiumEarned, a.v.TotalAssets)
	a.v.UpdatedAt = time.Now().UTC()
}

// AdvanceEpoch folds the epoch's premium into total assets, increments the
// epoch counter, and resets the per-epoch fields. It is the only operation
// that changes Epoch. Returns the new state and the premium that was folded.
//
// The account does not guard against double rolls within one settlement
// cycle; idempotency is the caller's responsibility, durability the ledger's.
func (a *Account) AdvanceEpoch(now time.Time) (domain.Vault, int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	folded := a.v.EpochPremiumEarned

	a.v.TotalAssets += folded
	a.v.Epoch++
	a.v.EpochNotionalExposed = 0
	a.v.EpochPremiumEarned = 0
	a.v.EpochPremiumPerTokenBps = 0
	a.v.LastRollAt = now
	a.v.UpdatedAt = now

	a.logger.Info("epoch advanced",
		slog.Uint64("epoch", a.v.Epoch),
		slog.Int64("premium_folded", folded),
		slog.Int64("total_assets", a.v.TotalAssets),
	)

	return a.v, folded
}

// Deposit mints shares at the current share price for the given asset amount
// and returns the minted share count.
func (a *Account) Deposit(assets int64) (int64, error) {
	if assets <= 0 {
		return 0, fmt.Errorf("vault: deposit must be positive: %w", domain.ErrInvalidParameter)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var shares int64
	if a.v.TotalShares == 0 {
		// First deposit mints one-for-one.
		shares = assets
	} else {
		// shares = assets * totalShares / (totalAssets + virtualOffset)
		n := new(big.Int).Mul(big.NewInt(assets), big.NewInt(a.v.TotalShares))
		n.Div(n, big.NewInt(a.v.TotalAssets+a.v.VirtualOffset))
		shares = n.Int64()
	}

	a.v.TotalAssets += assets
	a.v.TotalShares += shares
	a.v.UpdatedAt = time.Now().UTC()

	return shares, nil
}

// QueueWithdrawal adds shares to the pending redemption aggregate. The
// per-user request record is the caller's to persist.
func (a *Account) QueueWithdrawal(shares int64) error {
	if shares <= 0 {
		return fmt.Errorf("vault: shares must be positive: %w", domain.ErrInvalidParameter)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.v.PendingWithdrawals+shares > a.v.TotalShares {
		return fmt.Errorf("vault: queued shares exceed outstanding shares: %w", domain.ErrInvalidParameter)
	}

	a.v.PendingWithdrawals += shares
	a.v.UpdatedAt = time.Now().UTC()
	return nil
}

// DequeueWithdrawal releases shares previously queued with QueueWithdrawal,
// clamping the aggregate at zero. Called when registering or persisting the
// request fails downstream of the queue.
func (a *Account) DequeueWithdrawal(shares int64) {
	if shares <= 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.v.PendingWithdrawals -= shares
	if a.v.PendingWithdrawals < 0 {
		a.v.PendingWithdrawals = 0
	}
	a.v.UpdatedAt = time.Now().UTC()
}

// ProcessWithdrawal redeems an eligible request at the current share price,
// burning the shares and releasing assets. A request filed in the current or
// a future epoch fails with domain.ErrEpochNotSettled; a processed request
// fails with domain.ErrAlreadyProcessed. On success the request is marked
// processed in place and the asset payout is returned.
func (a *Account) ProcessWithdrawal(req *domain.WithdrawalRequest, now time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if req.Processed {
		return 0, fmt.Errorf("vault: withdrawal %s: %w", req.ID, domain.ErrAlreadyProcessed)
	}
	if req.RequestEpoch >= a.v.Epoch {
		return 0, fmt.Errorf(
			"vault: withdrawal %s filed in epoch %d, current epoch %d: %w",
			req.ID, req.RequestEpoch, a.v.Epoch, domain.ErrEpochNotSettled,
		)
	}
	if req.Shares > a.v.TotalShares {
		return 0, fmt.Errorf("vault: withdrawal %s exceeds outstanding shares: %w", req.ID, domain.ErrInvalidParameter)
	}

	// payout = shares * (totalAssets + virtualOffset) / totalShares
	payout := new(big.Int).Mul(big.NewInt(req.Shares), big.NewInt(a.v.TotalAssets+a.v.VirtualOffset))
	payout.Div(payout, big.NewInt(a.v.TotalShares))
	out := payout.Int64()

	a.v.TotalShares -= req.Shares
	a.v.TotalAssets -= out
	if a.v.PendingWithdrawals >= req.Shares {
		a.v.PendingWithdrawals -= req.Shares
	} else {
		a.v.PendingWithdrawals = 0
	}
	a.v.UpdatedAt = now

	req.Processed = true
	req.ProcessedAt = &now

	a.logger.Info("withdrawal processed",
		slog.String("request", req.ID),
		slog.Int64("shares", req.Shares),
		slog.Int64("payout", out),
	)

	return out, nil
}

// premiumPerTokenBps returns premium*10000/assets, 0 for an empty vault.
func premiumPerTokenBps(premium, assets int64) int64 {
	if assets == 0 {
		return 0
	}
	bps := new(big.Int).Mul(big.NewInt(premium), big.NewInt(domain.BpsDenominator))
	bps.Div(bps, big.NewInt(assets))
	return bps.Int64()
}
