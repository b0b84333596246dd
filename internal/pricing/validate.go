package pricing

import (
	"fmt"
	"math"

	"github.com/covault/vaultrfq/internal/domain"
)

// DefaultMaxDeviationBps is the default tolerated gap between a quoted
// premium and fair value: 5%.
const DefaultMaxDeviationBps int64 = 500

// QuoteCheck is the outcome of validating one quoted premium against fair
// value.
type QuoteCheck struct {
	Valid        bool
	DeviationBps int64
	Reason       string
}

// ValidateQuote compares a quoted premium to the Black-Scholes fair value and
// rejects quotes that deviate more than maxDeviationBps. A deviation exactly
// at the bound is accepted. A non-positive fair value cannot anchor a
// comparison and always rejects.
func ValidateQuote(quotedPremium, fairValue float64, maxDeviationBps int64) QuoteCheck {
	if fairValue <= 0 {
		return QuoteCheck{
			Valid:  false,
			Reason: "fair value must be positive",
		}
	}
	if quotedPremium < 0 {
		return QuoteCheck{
			Valid:  false,
			Reason: "quoted premium must be non-negative",
		}
	}

	deviation := math.Abs(quotedPremium-fairValue) / fairValue * float64(domain.BpsDenominator)
	bps := int64(math.Round(deviation))

	if deviation > float64(maxDeviationBps) {
		return QuoteCheck{
			Valid:        false,
			DeviationBps: bps,
			Reason:       fmt.Sprintf("deviation %d bps exceeds bound %d bps", bps, maxDeviationBps),
		}
	}

	return QuoteCheck{Valid: true, DeviationBps: bps}
}

// SuggestStrike returns a strike offset from spot by deltaBps basis points:
// above spot for calls, below spot for puts.
func SuggestStrike(spot float64, deltaBps int64, optType domain.OptionType) float64 {
	offset := float64(deltaBps) / float64(domain.BpsDenominator)
	if optType == domain.OptionPut {
		return spot * (1 - offset)
	}
	return spot * (1 + offset)
}
