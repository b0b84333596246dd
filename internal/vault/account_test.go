package vault

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covault/vaultrfq/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testVault() domain.Vault {
	return domain.Vault{
		AssetID:           "SOL",
		VaultAddress:      "0x1111111111111111111111111111111111111111",
		Authority:         "0x2222222222222222222222222222222222222222",
		TotalAssets:       1_000_000 * domain.AmountScale,
		TotalShares:       1_000_000 * domain.AmountScale,
		UtilizationCapBps: 5000,
		Epoch:             3,
	}
}

func TestSharePrice(t *testing.T) {
	v := domain.Vault{TotalAssets: 1_000_000 * domain.AmountScale}
	assert.Equal(t, 1.0, v.SharePrice(), "empty vault prices at exactly 1.0")

	v.TotalShares = 900_000 * domain.AmountScale
	assert.InDelta(t, 1.111, v.SharePrice(), 0.001)
}

func TestRecordExposureWithinCap(t *testing.T) {
	a := NewAccount(testVault(), testLogger())

	notional := int64(100_000) * domain.AmountScale
	premium := int64(2_000) * domain.AmountScale

	v, err := a.RecordExposure(notional, premium)
	require.NoError(t, err)

	assert.Equal(t, notional, v.EpochNotionalExposed)
	assert.Equal(t, premium, v.EpochPremiumEarned)
	// 2,000 premium on 1,000,000 assets = 20 bps per token.
	assert.Equal(t, int64(20), v.EpochPremiumPerTokenBps)
}

func TestRecordExposureCapInvariant(t *testing.T) {
	a := NewAccount(testVault(), testLogger())

	// Cap is 50% of 1,000,000 = 500,000.
	cap := int64(500_000) * domain.AmountScale

	_, err := a.RecordExposure(cap, 0)
	require.NoError(t, err, "filling exactly to the cap is allowed")

	// One more unit must be rejected before mutation.
	before := a.Snapshot()
	_, err = a.RecordExposure(1, 0)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
	assert.Equal(t, before, a.Snapshot(), "rejected exposure must not mutate state")
}

func TestRecordExposureRejectsBadInputs(t *testing.T) {
	a := NewAccount(testVault(), testLogger())

	_, err := a.RecordExposure(0, 100)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	_, err = a.RecordExposure(100, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestAdvanceEpochFoldsPremiumAndResets(t *testing.T) {
	a := NewAccount(testVault(), testLogger())

	notional := int64(200_000) * domain.AmountScale
	premium := int64(5_000) * domain.AmountScale
	_, err := a.RecordExposure(notional, premium)
	require.NoError(t, err)

	now := time.Now().UTC()
	v, folded := a.AdvanceEpoch(now)

	assert.Equal(t, premium, folded)
	assert.Equal(t, uint64(4), v.Epoch)
	assert.Equal(t, int64(1_005_000)*domain.AmountScale, v.TotalAssets)
	assert.Zero(t, v.EpochNotionalExposed)
	assert.Zero(t, v.EpochPremiumEarned)
	assert.Zero(t, v.EpochPremiumPerTokenBps)
	assert.Equal(t, now, v.LastRollAt)

	// Premium-only settlement never decreases the share price.
	assert.GreaterOrEqual(t, v.SharePrice(), testVault().SharePrice())
}

func TestRemainingCapacityRecoversAfterRoll(t *testing.T) {
	a := NewAccount(testVault(), testLogger())

	cap := int64(500_000) * domain.AmountScale
	_, err := a.RecordExposure(cap, 0)
	require.NoError(t, err)
	assert.Zero(t, a.RemainingCapacity())

	a.AdvanceEpoch(time.Now().UTC())
	assert.Equal(t, cap, a.RemainingCapacity())
}

func TestProcessWithdrawalEpochGate(t *testing.T) {
	a := NewAccount(testVault(), testLogger())
	require.NoError(t, a.QueueWithdrawal(1000*domain.AmountScale))

	// Filed in the current epoch: not yet settled.
	req := &domain.WithdrawalRequest{
		ID:           "w1",
		Vault:        "SOL",
		Shares:       1000 * domain.AmountScale,
		RequestEpoch: 3,
	}
	_, err := a.ProcessWithdrawal(req, time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrEpochNotSettled)
	assert.False(t, req.Processed)

	// After the epoch rolls the request becomes eligible.
	a.AdvanceEpoch(time.Now().UTC())
	payout, err := a.ProcessWithdrawal(req, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1000)*domain.AmountScale, payout, "1:1 share price pays out par")
	assert.True(t, req.Processed)
	require.NotNil(t, req.ProcessedAt)

	// Exactly once: a second attempt fails.
	_, err = a.ProcessWithdrawal(req, time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
}

func TestProcessWithdrawalBurnsSharesAndAssets(t *testing.T) {
	a := NewAccount(testVault(), testLogger())
	require.NoError(t, a.QueueWithdrawal(500*domain.AmountScale))
	a.AdvanceEpoch(time.Now().UTC())

	before := a.Snapshot()
	req := &domain.WithdrawalRequest{ID: "w2", Shares: 500 * domain.AmountScale, RequestEpoch: 3}
	payout, err := a.ProcessWithdrawal(req, time.Now().UTC())
	require.NoError(t, err)

	after := a.Snapshot()
	assert.Equal(t, before.TotalShares-req.Shares, after.TotalShares)
	assert.Equal(t, before.TotalAssets-payout, after.TotalAssets)
	assert.Zero(t, after.PendingWithdrawals)
}

func TestQueueWithdrawalBounds(t *testing.T) {
	a := NewAccount(testVault(), testLogger())

	assert.ErrorIs(t, a.QueueWithdrawal(0), domain.ErrInvalidParameter)
	assert.ErrorIs(t, a.QueueWithdrawal(testVault().TotalShares+1), domain.ErrInvalidParameter)
}

func TestDequeueWithdrawalReleasesAndClamps(t *testing.T) {
	a := NewAccount(testVault(), testLogger())

	require.NoError(t, a.QueueWithdrawal(100*domain.AmountScale))
	a.DequeueWithdrawal(100 * domain.AmountScale)
	assert.Zero(t, a.Snapshot().PendingWithdrawals)

	// Over-release and non-positive amounts never drive the aggregate negative.
	a.DequeueWithdrawal(50 * domain.AmountScale)
	a.DequeueWithdrawal(-1)
	assert.Zero(t, a.Snapshot().PendingWithdrawals)
}

func TestDepositMintsAtSharePrice(t *testing.T) {
	a := NewAccount(domain.Vault{AssetID: "SOL", UtilizationCapBps: 5000}, testLogger())

	// First deposit mints one-for-one.
	minted, err := a.Deposit(1_000_000 * domain.AmountScale)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000)*domain.AmountScale, minted)

	// Premium raises the share price; the next depositor mints fewer shares.
	_, err = a.RecordExposure(100*domain.AmountScale, 100_000*domain.AmountScale)
	require.NoError(t, err)
	a.AdvanceEpoch(time.Now().UTC())

	minted, err = a.Deposit(1_100_000 * domain.AmountScale)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000)*domain.AmountScale, minted)
}

func TestConcurrentRecordExposureHoldsInvariant(t *testing.T) {
	a := NewAccount(testVault(), testLogger())

	// 100 goroutines each try 10,000; cap admits at most 50 of them.
	const workers = 100
	notional := int64(10_000) * domain.AmountScale

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.RecordExposure(notional, 0); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, accepted)
	v := a.Snapshot()
	assert.LessOrEqual(t, v.EpochNotionalExposed, v.MaxExposure())
}

func TestBookPerVaultIsolation(t *testing.T) {
	b := NewBook(testLogger())
	b.Add(testVault())

	other := testVault()
	other.AssetID = "ETH"
	b.Add(other)

	sol, err := b.Get("SOL")
	require.NoError(t, err)
	_, err = sol.RecordExposure(100*domain.AmountScale, 0)
	require.NoError(t, err)

	eth, err := b.Get("ETH")
	require.NoError(t, err)
	assert.Zero(t, eth.Snapshot().EpochNotionalExposed)

	_, err = b.Get("BTC")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Len(t, b.List(), 2)
}
