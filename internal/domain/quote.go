package domain

import "time"

// Quote is a market maker's offer for a specific RFQ. A quote that arrives
// after its RFQ has left the open state is logged and dropped, never stored.
type Quote struct {
	ID                string
	RFQID             string
	Maker             string
	SettlementAccount string
	PremiumTicks      int64 // fixed-point: premium * 1e6, non-negative
	ReceivedAt        time.Time
	ExpiresAt         time.Time
}

// Premium returns the float64 display premium from fixed-point ticks.
func (q Quote) Premium() float64 {
	return float64(q.PremiumTicks) / float64(AmountScale)
}

// Expired reports whether the maker's quote validity window has elapsed.
func (q Quote) Expired(now time.Time) bool {
	return !q.ExpiresAt.IsZero() && now.After(q.ExpiresAt)
}
