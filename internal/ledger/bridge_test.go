package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covault/vaultrfq/internal/crypto"
	"github.com/covault/vaultrfq/internal/domain"
)

const (
	testKeyHex    = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	testVaultAddr = "0x00000000000000000000000000000000000000aa"
)

type fakeReader struct {
	vault domain.Vault
	err   error
}

func (f *fakeReader) GetByAsset(_ context.Context, assetID string) (domain.Vault, error) {
	if f.err != nil {
		return domain.Vault{}, f.err
	}
	if assetID != f.vault.AssetID {
		return domain.Vault{}, domain.ErrNotFound
	}
	return f.vault, nil
}

type fakeSubmitter struct {
	submitted []Instruction
	err       error
}

func (f *fakeSubmitter) Submit(_ context.Context, in Instruction) (string, error) {
	f.submitted = append(f.submitted, in)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("tx-%d", len(f.submitted)), nil
}

func newTestBridge(t *testing.T) (*Bridge, *fakeSubmitter) {
	t.Helper()

	signer, err := crypto.NewSigner(testKeyHex, 101)
	require.NoError(t, err)

	reader := &fakeReader{vault: domain.Vault{
		AssetID:      "SOL",
		VaultAddress: testVaultAddr,
		Authority:    signer.Address().Hex(),
	}}
	sub := &fakeSubmitter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewBridge(reader, signer, sub, logger), sub
}

func TestRecordNotionalExposureBuildsInstruction(t *testing.T) {
	b, sub := newTestBridge(t)

	txRef, err := b.RecordNotionalExposure(context.Background(), "SOL", 10_000_000, 450_000)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", txRef)

	require.Len(t, sub.submitted, 1)
	in := sub.submitted[0]
	assert.Equal(t, MethodRecordNotionalExposure, in.Method)
	assert.Equal(t, testVaultAddr, in.Vault)
	require.Len(t, in.Args, 2)
	assert.Equal(t, int64(10_000_000), in.Args[0].Int64())
	assert.Equal(t, int64(450_000), in.Args[1].Int64())
	assert.NotEmpty(t, in.Signature)
	assert.NotZero(t, in.Nonce)
}

func TestNoncesIncrease(t *testing.T) {
	b, sub := newTestBridge(t)

	_, err := b.CollectPremium(context.Background(), "SOL", 1)
	require.NoError(t, err)
	_, err = b.CollectPremium(context.Background(), "SOL", 1)
	require.NoError(t, err)

	require.Len(t, sub.submitted, 2)
	assert.Greater(t, sub.submitted[1].Nonce, sub.submitted[0].Nonce)
}

func TestArgumentValidation(t *testing.T) {
	b, sub := newTestBridge(t)
	ctx := context.Background()

	_, err := b.RecordNotionalExposure(ctx, "SOL", 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	_, err = b.RecordNotionalExposure(ctx, "SOL", 100, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	_, err = b.CollectPremium(ctx, "SOL", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	_, err = b.PaySettlement(ctx, "SOL", -5)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	_, err = b.AdvanceEpoch(ctx, "SOL", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	_, err = b.RequestWithdrawal(ctx, "SOL", "", 100)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	_, err = b.RequestWithdrawal(ctx, "SOL", "user-1", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	_, err = b.ProcessWithdrawal(ctx, "SOL", "", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	// Nothing reached the submitter.
	assert.Empty(t, sub.submitted)
}

func TestUnknownVault(t *testing.T) {
	b, _ := newTestBridge(t)

	_, err := b.CollectPremium(context.Background(), "DOGE", 100)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSettleSubmitsExposureThenPremium(t *testing.T) {
	b, sub := newTestBridge(t)

	v := domain.Vault{AssetID: "SOL", VaultAddress: testVaultAddr}
	r := domain.RFQ{
		ID: "rfq-1",
		Params: domain.RFQParams{
			Asset:     "SOL",
			SizeUnits: 10 * domain.AmountScale,
		},
	}
	q := domain.Quote{
		ID:           "q-1",
		RFQID:        "rfq-1",
		PremiumTicks: 450_000, // 0.45 per unit
		ReceivedAt:   time.Now(),
	}

	txRef, err := b.Settle(context.Background(), v, r, q)
	require.NoError(t, err)
	assert.Equal(t, "tx-2", txRef)

	require.Len(t, sub.submitted, 2)
	assert.Equal(t, MethodRecordNotionalExposure, sub.submitted[0].Method)
	assert.Equal(t, MethodCollectPremium, sub.submitted[1].Method)

	// Total premium is per-unit premium times size: 0.45 * 10 = 4.5.
	wantPremium := int64(4_500_000)
	assert.Equal(t, wantPremium, sub.submitted[0].Args[1].Int64())
	assert.Equal(t, wantPremium, sub.submitted[1].Args[0].Int64())
}

func TestSettleStopsAfterExposureRejection(t *testing.T) {
	b, sub := newTestBridge(t)
	sub.err = fmt.Errorf("%w: cap exceeded on chain", domain.ErrLedgerRejected)

	v := domain.Vault{AssetID: "SOL", VaultAddress: testVaultAddr}
	r := domain.RFQ{ID: "rfq-1", Params: domain.RFQParams{Asset: "SOL", SizeUnits: domain.AmountScale}}
	q := domain.Quote{ID: "q-1", RFQID: "rfq-1", PremiumTicks: 100_000}

	_, err := b.Settle(context.Background(), v, r, q)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLedgerRejected)

	// Exactly one attempt: rejections are never retried.
	assert.Len(t, sub.submitted, 1)
}

func TestProcessWithdrawalArgs(t *testing.T) {
	b, sub := newTestBridge(t)

	_, err := b.ProcessWithdrawal(context.Background(), "SOL", "0x00000000000000000000000000000000000000bb", 3)
	require.NoError(t, err)

	require.Len(t, sub.submitted, 1)
	in := sub.submitted[0]
	assert.Equal(t, MethodProcessWithdrawal, in.Method)
	require.Len(t, in.Args, 2)
	assert.Equal(t, big.NewInt(0xbb), in.Args[0])
	assert.Equal(t, int64(3), in.Args[1].Int64())
}

func TestPrincipalArgDistinguishesUsers(t *testing.T) {
	a := principalArg("alice")
	b := principalArg("bob")
	assert.NotEqual(t, a, b)
	assert.Equal(t, principalArg("alice"), a)
}

func TestLedgerRejectionSurfacesVerbatim(t *testing.T) {
	b, sub := newTestBridge(t)
	sub.err = fmt.Errorf("%w: vault frozen", domain.ErrLedgerRejected)

	_, err := b.PaySettlement(context.Background(), "SOL", 100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrLedgerRejected))
	assert.Contains(t, err.Error(), "vault frozen")
	assert.Len(t, sub.submitted, 1)
}
