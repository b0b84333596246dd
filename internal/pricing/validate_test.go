package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/covault/vaultrfq/internal/domain"
)

func TestValidateQuoteWithinBound(t *testing.T) {
	check := ValidateQuote(10.2, 10, 500)
	assert.True(t, check.Valid)
	assert.Equal(t, int64(200), check.DeviationBps)
	assert.Empty(t, check.Reason)
}

func TestValidateQuoteBoundaryAccepted(t *testing.T) {
	// Exactly 5% deviation sits on the bound and is accepted.
	check := ValidateQuote(10.5, 10, 500)
	assert.True(t, check.Valid)
	assert.Equal(t, int64(500), check.DeviationBps)
}

func TestValidateQuoteExceedsBound(t *testing.T) {
	check := ValidateQuote(12, 10, 500)
	assert.False(t, check.Valid)
	assert.Equal(t, int64(2000), check.DeviationBps)
	assert.Contains(t, check.Reason, "2000 bps")
}

func TestValidateQuoteUndercutRejectedSymmetrically(t *testing.T) {
	// Deviation is absolute: a lowball quote is as invalid as an inflated one.
	check := ValidateQuote(8, 10, 500)
	assert.False(t, check.Valid)
	assert.Equal(t, int64(2000), check.DeviationBps)
}

func TestValidateQuoteNonPositiveFairValue(t *testing.T) {
	check := ValidateQuote(10, 0, 500)
	assert.False(t, check.Valid)
	assert.Contains(t, check.Reason, "fair value")

	check = ValidateQuote(10, -1, 500)
	assert.False(t, check.Valid)
}

func TestValidateQuoteNegativePremium(t *testing.T) {
	check := ValidateQuote(-1, 10, 500)
	assert.False(t, check.Valid)
	assert.Contains(t, check.Reason, "non-negative")
}

func TestSuggestStrike(t *testing.T) {
	// Calls strike above spot, puts below.
	assert.InDelta(t, 105.0, SuggestStrike(100, 500, domain.OptionCall), 1e-9)
	assert.InDelta(t, 95.0, SuggestStrike(100, 500, domain.OptionPut), 1e-9)
	assert.InDelta(t, 100.0, SuggestStrike(100, 0, domain.OptionCall), 1e-9)
}
