package domain

import (
	"math/big"
	"time"
)

// AmountScale is the fixed-point scale shared by all ledger-facing amounts:
// assets, shares, notionals, and premiums are stored as integer units of
// 1e-6. Pricing-engine quantities stay float64; the conversion happens at the
// ledger boundary only.
const AmountScale int64 = 1_000_000

// BpsDenominator is the basis-point denominator used for caps and deviations.
const BpsDenominator int64 = 10_000

// Vault mirrors the on-ledger accounting state of one covered-call vault.
// One vault exists per underlying asset.
type Vault struct {
	AssetID      string
	VaultAddress string // derived ledger address, hex
	Authority    string // principal allowed to roll epochs and pay settlements

	// Share accounting, fixed-point at AmountScale.
	TotalAssets   int64
	TotalShares   int64
	VirtualOffset int64

	// Epoch state.
	Epoch                   uint64
	UtilizationCapBps       int64
	LastRollAt              time.Time
	EpochNotionalExposed    int64
	EpochPremiumEarned      int64
	EpochPremiumPerTokenBps int64

	// Aggregate shares queued for redemption.
	PendingWithdrawals int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SharePrice returns assets-plus-offset per share. An empty vault prices at
// exactly 1.0 so the first depositor mints shares one-for-one.
func (v Vault) SharePrice() float64 {
	if v.TotalShares == 0 {
		return 1.0
	}
	return float64(v.TotalAssets+v.VirtualOffset) / float64(v.TotalShares)
}

// MaxExposure returns the epoch notional ceiling:
// totalAssets * utilizationCapBps / 10000. Computed through big.Int because
// the intermediate product can overflow int64 for large vaults.
func (v Vault) MaxExposure() int64 {
	cap := new(big.Int).Mul(big.NewInt(v.TotalAssets), big.NewInt(v.UtilizationCapBps))
	cap.Div(cap, big.NewInt(BpsDenominator))
	return cap.Int64()
}

// RemainingCapacity returns how much additional notional may be exposed in
// the current epoch, floored at zero.
func (v Vault) RemainingCapacity() int64 {
	rem := v.MaxExposure() - v.EpochNotionalExposed
	if rem < 0 {
		return 0
	}
	return rem
}

// CanAcceptExposure reports whether adding notional keeps the vault within
// its utilization cap.
func (v Vault) CanAcceptExposure(notional int64) bool {
	return v.EpochNotionalExposed+notional <= v.MaxExposure()
}

// Utilization returns the currently exposed fraction of assets in basis
// points, 0 when the vault holds no assets.
func (v Vault) Utilization() int64 {
	if v.TotalAssets == 0 {
		return 0
	}
	u := new(big.Int).Mul(big.NewInt(v.EpochNotionalExposed), big.NewInt(BpsDenominator))
	u.Div(u, big.NewInt(v.TotalAssets))
	return u.Int64()
}

// Assets returns the float64 display value of TotalAssets.
func (v Vault) Assets() float64 {
	return float64(v.TotalAssets) / float64(AmountScale)
}
