package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/covault/vaultrfq/internal/crypto"
	"github.com/covault/vaultrfq/internal/domain"
)

// VaultReader fetches the current vault state an instruction depends on.
// domain.VaultStore satisfies it.
type VaultReader interface {
	GetByAsset(ctx context.Context, assetID string) (domain.Vault, error)
}

// Submitter delivers a signed instruction to the ledger and returns a
// transaction reference. Rejections come back wrapped in
// domain.ErrLedgerRejected and are never retried here: a rejected
// transaction may still have partial effects.
type Submitter interface {
	Submit(ctx context.Context, in Instruction) (string, error)
}

// Bridge builds, signs, and submits ledger instructions for one authority
// key. It fetches fresh vault state before every build because in-memory
// snapshots can lag ledger-side deposits and withdrawals.
type Bridge struct {
	vaults    VaultReader
	signer    *crypto.Signer
	submitter Submitter
	logger    *slog.Logger

	nonce atomic.Int64
}

// NewBridge creates a Bridge. The nonce counter is seeded from the wall
// clock so restarts do not reuse nonces the program has already seen.
func NewBridge(vaults VaultReader, signer *crypto.Signer, submitter Submitter, logger *slog.Logger) *Bridge {
	b := &Bridge{
		vaults:    vaults,
		signer:    signer,
		submitter: submitter,
		logger:    logger.With(slog.String("component", "ledger")),
	}
	b.nonce.Store(time.Now().UnixNano())
	return b
}

// Settle submits the ledger transactions for an accepted quote: exposure
// registration followed by premium collection from the maker's settlement
// account. It returns the premium-collection transaction reference.
//
// Settle implements the settler contract of the negotiation engine; the
// engine has already reserved local capacity and rolls it back if this
// call fails.
func (b *Bridge) Settle(ctx context.Context, v domain.Vault, r domain.RFQ, q domain.Quote) (string, error) {
	totalPremium := domain.MulDiv(q.PremiumTicks, r.Params.SizeUnits, domain.AmountScale)

	recordRef, err := b.RecordNotionalExposure(ctx, v.AssetID, r.Params.Notional(), totalPremium)
	if err != nil {
		return "", err
	}

	collectRef, err := b.CollectPremium(ctx, v.AssetID, totalPremium)
	if err != nil {
		return "", fmt.Errorf("ledger: premium collection after exposure tx %s: %w", recordRef, err)
	}

	b.logger.Info("fill settled",
		slog.String("rfq_id", r.ID),
		slog.String("quote_id", q.ID),
		slog.String("tx_ref", collectRef))

	return collectRef, nil
}

// RecordNotionalExposure registers sold option exposure and the premium due
// against the vault's epoch accounting.
func (b *Bridge) RecordNotionalExposure(ctx context.Context, assetID string, notional, premium int64) (string, error) {
	if notional <= 0 {
		return "", domain.NewValidationError("notional", "must be positive")
	}
	if premium < 0 {
		return "", domain.NewValidationError("premium", "must be non-negative")
	}
	return b.submit(ctx, assetID, MethodRecordNotionalExposure,
		big.NewInt(notional), big.NewInt(premium))
}

// CollectPremium pulls earned premium into the vault's asset account.
func (b *Bridge) CollectPremium(ctx context.Context, assetID string, amount int64) (string, error) {
	if amount <= 0 {
		return "", domain.NewValidationError("amount", "must be positive")
	}
	return b.submit(ctx, assetID, MethodCollectPremium, big.NewInt(amount))
}

// PaySettlement pays out an exercised option from the vault's assets.
// Privileged: only the vault authority may call it.
func (b *Bridge) PaySettlement(ctx context.Context, assetID string, amount int64) (string, error) {
	if amount <= 0 {
		return "", domain.NewValidationError("amount", "must be positive")
	}
	return b.submit(ctx, assetID, MethodPaySettlement, big.NewInt(amount))
}

// AdvanceEpoch rolls the vault to the next epoch on the ledger, folding the
// stated premium into total assets. Privileged.
func (b *Bridge) AdvanceEpoch(ctx context.Context, assetID string, premiumEarned int64) (string, error) {
	if premiumEarned < 0 {
		return "", domain.NewValidationError("premiumEarned", "must be non-negative")
	}
	return b.submit(ctx, assetID, MethodAdvanceEpoch, big.NewInt(premiumEarned))
}

// RequestWithdrawal files a withdrawal of shares for a user in the current
// epoch.
func (b *Bridge) RequestWithdrawal(ctx context.Context, assetID, user string, shares int64) (string, error) {
	if user == "" {
		return "", domain.NewValidationError("user", "must not be empty")
	}
	if shares <= 0 {
		return "", domain.NewValidationError("shares", "must be positive")
	}
	return b.submit(ctx, assetID, MethodRequestWithdrawal,
		principalArg(user), big.NewInt(shares))
}

// ProcessWithdrawal redeems a previously filed withdrawal once its request
// epoch has settled. Privileged.
func (b *Bridge) ProcessWithdrawal(ctx context.Context, assetID, user string, requestEpoch uint64) (string, error) {
	if user == "" {
		return "", domain.NewValidationError("user", "must not be empty")
	}
	return b.submit(ctx, assetID, MethodProcessWithdrawal,
		principalArg(user), new(big.Int).SetUint64(requestEpoch))
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// submit fetches fresh vault state, builds and signs the instruction, and
// hands it to the submitter.
func (b *Bridge) submit(ctx context.Context, assetID, method string, args ...*big.Int) (string, error) {
	v, err := b.vaults.GetByAsset(ctx, assetID)
	if err != nil {
		return "", fmt.Errorf("ledger: fetch vault %s: %w", assetID, err)
	}

	in := Instruction{
		Method:    method,
		Vault:     v.VaultAddress,
		Authority: b.signer.Address().Hex(),
		Args:      args,
		Nonce:     b.nonce.Add(1),
	}

	sig, err := b.signer.SignInstruction(crypto.InstructionPayload{
		Method: in.Method,
		Vault:  in.Vault,
		Args:   in.Args,
		Nonce:  in.Nonce,
	})
	if err != nil {
		return "", fmt.Errorf("ledger: %w: %v", domain.ErrSigningFailed, err)
	}
	in.Signature = sig

	txRef, err := b.submitter.Submit(ctx, in)
	if err != nil {
		return "", fmt.Errorf("ledger: submit %s for %s: %w", method, assetID, err)
	}

	b.logger.Debug("instruction submitted",
		slog.String("method", method),
		slog.String("asset_id", assetID),
		slog.String("tx_ref", txRef))

	return txRef, nil
}
