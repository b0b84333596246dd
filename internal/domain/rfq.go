package domain

import "time"

// Side indicates whether the vault is buying or selling the option.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OptionType is the contract type auctioned through an RFQ.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// RFQStatus tracks the auction lifecycle. Transitions are one-way: an RFQ
// leaves "open" exactly once and never returns.
type RFQStatus string

const (
	RFQStatusOpen      RFQStatus = "open"
	RFQStatusFilled    RFQStatus = "filled"
	RFQStatusCancelled RFQStatus = "cancelled"
	RFQStatusExpired   RFQStatus = "expired"
)

// Terminal reports whether the status can no longer change.
func (s RFQStatus) Terminal() bool {
	return s != RFQStatusOpen
}

// RFQParams are the immutable terms of one auction attempt.
type RFQParams struct {
	Asset        string
	Side         Side
	OptionType   OptionType
	StrikeTicks  int64 // fixed-point: strike * 1e6
	Expiry       time.Time
	SizeUnits    int64 // fixed-point: contract quantity * 1e6
	VaultAddress string

	// Optional auction constraints.
	PremiumFloorTicks int64
	Anonymous         bool
	MinQuotes         int
	QuoteTimeout      time.Duration
}

// Strike returns the float64 display strike from fixed-point ticks.
func (p RFQParams) Strike() float64 {
	return float64(p.StrikeTicks) / float64(AmountScale)
}

// Size returns the float64 display quantity from fixed-point units.
func (p RFQParams) Size() float64 {
	return float64(p.SizeUnits) / float64(AmountScale)
}

// Notional is the vault capacity consumed by this auction: the quantity of
// underlying set aside as cover, in the same units as Vault.TotalAssets.
func (p RFQParams) Notional() int64 {
	return p.SizeUnits
}

// Fill records the winning side of a completed auction.
type Fill struct {
	QuoteID      string
	Counterparty string
	PremiumTicks int64
	TxRef        string // ledger transaction reference
	FilledAt     time.Time
}

// Premium returns the float64 display premium of the fill.
func (f Fill) Premium() float64 {
	return float64(f.PremiumTicks) / float64(AmountScale)
}

// RFQ is one auction attempt. Quotes are append-only while the RFQ is open;
// at most one Fill is ever set.
type RFQ struct {
	ID        string
	Params    RFQParams
	Quotes    []Quote
	Status    RFQStatus
	CreatedAt time.Time
	Fill      *Fill
}

// Deadline returns the instant after which no further quotes are accepted
// and the RFQ becomes eligible for expiry.
func (r RFQ) Deadline() time.Time {
	return r.CreatedAt.Add(r.Params.QuoteTimeout)
}

// Expired reports whether the RFQ's quote window has elapsed at now.
func (r RFQ) Expired(now time.Time) bool {
	return !now.Before(r.Deadline())
}
