package domain

import "time"

// WithdrawalRequest is a depositor's queued redemption. The share amount is
// immutable once created; a request becomes processable only after the epoch
// it was filed in has fully settled (vault.Epoch > RequestEpoch), and it is
// processed exactly once.
type WithdrawalRequest struct {
	ID           string
	User         string
	Vault        string // asset ID of the owning vault
	Shares       int64  // fixed-point at AmountScale
	RequestEpoch uint64
	Processed    bool
	CreatedAt    time.Time
	ProcessedAt  *time.Time
}

// Eligible reports whether the request may be processed at the given vault
// epoch.
func (w WithdrawalRequest) Eligible(vaultEpoch uint64) bool {
	return !w.Processed && vaultEpoch > w.RequestEpoch
}
