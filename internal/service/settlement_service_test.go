package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covault/vaultrfq/internal/domain"
	"github.com/covault/vaultrfq/internal/vault"
)

// fakeEpochLedger records instruction calls in order.
type fakeEpochLedger struct {
	mu         sync.Mutex
	calls      []string
	advErr     error
	reqErr     error
	procErrFor string
	procErr    error
	txSerial   int
}

func (f *fakeEpochLedger) next() string {
	f.txSerial++
	return fmt.Sprintf("tx-%d", f.txSerial)
}

func (f *fakeEpochLedger) AdvanceEpoch(_ context.Context, assetID string, premiumEarned int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advErr != nil {
		return "", f.advErr
	}
	f.calls = append(f.calls, fmt.Sprintf("advance:%s:%d", assetID, premiumEarned))
	return f.next(), nil
}

func (f *fakeEpochLedger) RequestWithdrawal(_ context.Context, assetID, user string, shares int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reqErr != nil {
		return "", f.reqErr
	}
	f.calls = append(f.calls, fmt.Sprintf("request:%s:%s:%d", assetID, user, shares))
	return f.next(), nil
}

func (f *fakeEpochLedger) ProcessWithdrawal(_ context.Context, assetID, user string, requestEpoch uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.procErr != nil && user == f.procErrFor {
		return "", f.procErr
	}
	f.calls = append(f.calls, fmt.Sprintf("process:%s:%s:%d", assetID, user, requestEpoch))
	return f.next(), nil
}

// fakeWithdrawalStore is an in-memory domain.WithdrawalStore.
type fakeWithdrawalStore struct {
	mu        sync.Mutex
	reqs      map[string]domain.WithdrawalRequest
	createErr error
}

func newFakeWithdrawalStore() *fakeWithdrawalStore {
	return &fakeWithdrawalStore{reqs: make(map[string]domain.WithdrawalRequest)}
}

func (f *fakeWithdrawalStore) Create(_ context.Context, req domain.WithdrawalRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.reqs[req.ID]; ok {
		return domain.ErrAlreadyExists
	}
	f.reqs[req.ID] = req
	return nil
}

func (f *fakeWithdrawalStore) MarkProcessed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.reqs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if req.Processed {
		return domain.ErrAlreadyProcessed
	}
	req.Processed = true
	f.reqs[id] = req
	return nil
}

func (f *fakeWithdrawalStore) GetByID(_ context.Context, id string) (domain.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.reqs[id]
	if !ok {
		return domain.WithdrawalRequest{}, domain.ErrNotFound
	}
	return req, nil
}

func (f *fakeWithdrawalStore) ListEligible(_ context.Context, vaultID string, epoch uint64) ([]domain.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.WithdrawalRequest
	for _, req := range f.reqs {
		if req.Vault == vaultID && !req.Processed && req.RequestEpoch < epoch {
			out = append(out, req)
		}
	}
	return out, nil
}

func (f *fakeWithdrawalStore) ListByUser(_ context.Context, user string, _ domain.ListOpts) ([]domain.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.WithdrawalRequest
	for _, req := range f.reqs {
		if req.User == user {
			out = append(out, req)
		}
	}
	return out, nil
}

func newSettlementHarness(t *testing.T) (*SettlementService, *vault.Book, *fakeEpochLedger, *fakeWithdrawalStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	book := vault.NewBook(logger)
	book.Add(domain.Vault{
		AssetID:           "SOL",
		VaultAddress:      testVaultAddr,
		TotalAssets:       1_000 * domain.AmountScale,
		TotalShares:       1_000 * domain.AmountScale,
		UtilizationCapBps: 5_000,
	})

	ledger := &fakeEpochLedger{}
	withdrawals := newFakeWithdrawalStore()
	svc := NewSettlementService(book, ledger, withdrawals, nil, nil, nil, nil, nil, nil, logger)

	return svc, book, ledger, withdrawals
}

func TestSettleEpochRollsAndFoldsPremium(t *testing.T) {
	svc, book, ledger, _ := newSettlementHarness(t)

	acct, err := book.Get("SOL")
	require.NoError(t, err)
	_, err = acct.RecordExposure(100*domain.AmountScale, 5*domain.AmountScale)
	require.NoError(t, err)

	require.NoError(t, svc.SettleEpoch(context.Background(), "SOL"))

	snap := acct.Snapshot()
	assert.Equal(t, uint64(1), snap.Epoch)
	assert.Equal(t, int64(1_005*domain.AmountScale), snap.TotalAssets)
	assert.Zero(t, snap.EpochNotionalExposed)
	assert.Zero(t, snap.EpochPremiumEarned)

	require.Len(t, ledger.calls, 1)
	assert.Equal(t, fmt.Sprintf("advance:SOL:%d", 5*domain.AmountScale), ledger.calls[0])
}

func TestSettleEpochLedgerRejectionLeavesStateUntouched(t *testing.T) {
	svc, book, ledger, _ := newSettlementHarness(t)
	ledger.advErr = fmt.Errorf("%w: roll refused", domain.ErrLedgerRejected)

	err := svc.SettleEpoch(context.Background(), "SOL")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLedgerRejected)

	acct, _ := book.Get("SOL")
	assert.Zero(t, acct.Snapshot().Epoch)
}

func TestSettleEpochProcessesEligibleWithdrawalsOnce(t *testing.T) {
	svc, book, ledger, withdrawals := newSettlementHarness(t)

	// Filed in epoch 0; eligible once the vault reaches epoch 1.
	req := domain.WithdrawalRequest{
		ID:           "w-1",
		User:         "0x00000000000000000000000000000000000000bb",
		Vault:        "SOL",
		Shares:       100 * domain.AmountScale,
		RequestEpoch: 0,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, withdrawals.Create(context.Background(), req))

	acct, err := book.Get("SOL")
	require.NoError(t, err)
	require.NoError(t, acct.QueueWithdrawal(req.Shares))

	require.NoError(t, svc.SettleEpoch(context.Background(), "SOL"))

	// Shares burned at price 1.0, assets paid out.
	snap := acct.Snapshot()
	assert.Equal(t, int64(900*domain.AmountScale), snap.TotalShares)
	assert.Equal(t, int64(900*domain.AmountScale), snap.TotalAssets)
	assert.Zero(t, snap.PendingWithdrawals)

	stored, err := withdrawals.GetByID(context.Background(), "w-1")
	require.NoError(t, err)
	assert.True(t, stored.Processed)

	// A second roll must not reprocess it.
	callsBefore := len(ledger.calls)
	require.NoError(t, svc.SettleEpoch(context.Background(), "SOL"))
	for _, c := range ledger.calls[callsBefore:] {
		assert.NotContains(t, c, "process:")
	}
}

func TestSettleEpochSameEpochRequestNotEligible(t *testing.T) {
	svc, book, ledger, withdrawals := newSettlementHarness(t)

	// Roll once so the vault sits at epoch 1, then file at epoch 1.
	require.NoError(t, svc.SettleEpoch(context.Background(), "SOL"))

	req := domain.WithdrawalRequest{
		ID:           "w-now",
		User:         "user-1",
		Vault:        "SOL",
		Shares:       10 * domain.AmountScale,
		RequestEpoch: 1,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, withdrawals.Create(context.Background(), req))

	acct, _ := book.Get("SOL")
	require.NoError(t, acct.QueueWithdrawal(req.Shares))

	sharesBefore := acct.Snapshot().TotalShares

	// Rolling to epoch 2 makes it eligible; before that roll nothing at
	// epoch 1 may pay out. ListEligible at epoch 1 must exclude it.
	eligible, err := withdrawals.ListEligible(context.Background(), "SOL", 1)
	require.NoError(t, err)
	assert.Empty(t, eligible)

	require.NoError(t, svc.SettleEpoch(context.Background(), "SOL"))
	stored, _ := withdrawals.GetByID(context.Background(), "w-now")
	assert.True(t, stored.Processed)
	assert.Less(t, acct.Snapshot().TotalShares, sharesBefore)
	_ = ledger
}

func TestSettleEpochOneLedgerFailureDoesNotBlockOthers(t *testing.T) {
	svc, book, ledger, withdrawals := newSettlementHarness(t)
	ledger.procErrFor = "user-refused"
	ledger.procErr = fmt.Errorf("%w: principal frozen", domain.ErrLedgerRejected)

	acct, err := book.Get("SOL")
	require.NoError(t, err)

	for _, user := range []string{"user-refused", "user-ok"} {
		req := domain.WithdrawalRequest{
			ID:           "w-" + user,
			User:         user,
			Vault:        "SOL",
			Shares:       50 * domain.AmountScale,
			RequestEpoch: 0,
			CreatedAt:    time.Now(),
		}
		require.NoError(t, withdrawals.Create(context.Background(), req))
		require.NoError(t, acct.QueueWithdrawal(req.Shares))
	}

	err = svc.SettleEpoch(context.Background(), "SOL")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLedgerRejected)

	// The epoch still rolled and the healthy request still paid out.
	snap := acct.Snapshot()
	assert.Equal(t, uint64(1), snap.Epoch)
	assert.Equal(t, int64(950*domain.AmountScale), snap.TotalShares)

	refused, err := withdrawals.GetByID(context.Background(), "w-user-refused")
	require.NoError(t, err)
	assert.False(t, refused.Processed)

	ok, err := withdrawals.GetByID(context.Background(), "w-user-ok")
	require.NoError(t, err)
	assert.True(t, ok.Processed)
}

func TestSettleEpochLockHeld(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	book := vault.NewBook(logger)
	book.Add(domain.Vault{AssetID: "SOL", TotalAssets: domain.AmountScale, UtilizationCapBps: 5_000})

	svc := NewSettlementService(book, &fakeEpochLedger{}, newFakeWithdrawalStore(),
		nil, nil, heldLocks{}, nil, nil, nil, logger)

	err := svc.SettleEpoch(context.Background(), "SOL")
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestRequestWithdrawalFilesInCurrentEpoch(t *testing.T) {
	svc, book, ledger, withdrawals := newSettlementHarness(t)

	req, err := svc.RequestWithdrawal(context.Background(), "SOL", "user-1", 50*domain.AmountScale)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), req.RequestEpoch)

	acct, _ := book.Get("SOL")
	assert.Equal(t, int64(50*domain.AmountScale), acct.Snapshot().PendingWithdrawals)

	stored, err := withdrawals.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.False(t, stored.Processed)

	require.Len(t, ledger.calls, 1)
	assert.Contains(t, ledger.calls[0], "request:SOL:user-1")
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

func TestRequestWithdrawalThrottled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	book := vault.NewBook(logger)
	acct := book.Add(domain.Vault{
		AssetID:           "SOL",
		TotalAssets:       1_000 * domain.AmountScale,
		TotalShares:       1_000 * domain.AmountScale,
		UtilizationCapBps: 5_000,
	})

	ledger := &fakeEpochLedger{}
	svc := NewSettlementService(book, ledger, newFakeWithdrawalStore(),
		nil, nil, nil, denyLimiter{}, nil, nil, logger)

	_, err := svc.RequestWithdrawal(context.Background(), "SOL", "user-1", 10*domain.AmountScale)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	// Nothing was queued anywhere.
	assert.Zero(t, acct.Snapshot().PendingWithdrawals)
	assert.Empty(t, ledger.calls)
}

func TestRequestWithdrawalRejectsOversized(t *testing.T) {
	svc, _, _, _ := newSettlementHarness(t)

	_, err := svc.RequestWithdrawal(context.Background(), "SOL", "user-1", 2_000*domain.AmountScale)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestRequestWithdrawalLedgerFailureReleasesQueuedShares(t *testing.T) {
	svc, book, ledger, withdrawals := newSettlementHarness(t)
	ledger.reqErr = fmt.Errorf("%w: registration refused", domain.ErrLedgerRejected)

	_, err := svc.RequestWithdrawal(context.Background(), "SOL", "user-1", 100*domain.AmountScale)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLedgerRejected)

	// The queued shares are released, nothing was persisted.
	acct, _ := book.Get("SOL")
	assert.Zero(t, acct.Snapshot().PendingWithdrawals)
	assert.Empty(t, withdrawals.reqs)

	// The full share supply is still requestable afterwards; a leaked queue
	// would trip the outstanding-shares bound here.
	ledger.reqErr = nil
	_, err = svc.RequestWithdrawal(context.Background(), "SOL", "user-1", 1_000*domain.AmountScale)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000*domain.AmountScale), acct.Snapshot().PendingWithdrawals)
}

func TestRequestWithdrawalPersistFailureReleasesQueuedShares(t *testing.T) {
	svc, book, _, withdrawals := newSettlementHarness(t)
	withdrawals.createErr = fmt.Errorf("store: %w", context.DeadlineExceeded)

	_, err := svc.RequestWithdrawal(context.Background(), "SOL", "user-1", 100*domain.AmountScale)
	require.Error(t, err)

	acct, _ := book.Get("SOL")
	assert.Zero(t, acct.Snapshot().PendingWithdrawals)
}
