package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covault/vaultrfq/internal/domain"
)

func TestImpliedVolatilityRoundTrip(t *testing.T) {
	cases := []struct {
		name                         string
		spot, strike, tte, rate, vol float64
		optType                      domain.OptionType
	}{
		{"atm call", 100, 100, 1, 0.05, 0.2, domain.OptionCall},
		{"atm put", 100, 100, 1, 0.05, 0.2, domain.OptionPut},
		{"otm call", 100, 115, 0.5, 0.03, 0.45, domain.OptionCall},
		{"itm put", 100, 120, 0.25, 0.01, 0.3, domain.OptionPut},
		{"high vol", 100, 100, 1, 0.0, 1.5, domain.OptionCall},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res, err := BlackScholes(c.spot, c.strike, c.tte, c.rate, c.vol)
			require.NoError(t, err)

			price := res.Call
			if c.optType == domain.OptionPut {
				price = res.Put
			}

			iv, err := ImpliedVolatility(price, c.spot, c.strike, c.tte, c.rate, c.optType)
			require.NoError(t, err)
			assert.InDelta(t, c.vol, iv, 1e-4)
		})
	}
}

func TestImpliedVolatilityRejectsBadInputs(t *testing.T) {
	_, err := ImpliedVolatility(0, 100, 100, 1, 0.05, domain.OptionCall)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	_, err = ImpliedVolatility(10, 100, 100, 0, 0.05, domain.OptionCall)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	_, err = ImpliedVolatility(10, -100, 100, 1, 0.05, domain.OptionCall)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestImpliedVolatilityNonConvergence(t *testing.T) {
	// A price below intrinsic value has no implied volatility; the search
	// must fail rather than fabricate one. Deep ITM call with near-zero
	// extrinsic value drives vega to underflow at the sigma floor.
	_, err := ImpliedVolatility(0.0001, 100, 10, 0.01, 0.0, domain.OptionCall)
	assert.ErrorIs(t, err, domain.ErrConvergence)
}

func TestHistoricalVolatility(t *testing.T) {
	// Constant series has exactly zero volatility.
	vol, err := HistoricalVolatility([]float64{100, 100, 100, 100}, 252)
	require.NoError(t, err)
	assert.Equal(t, 0.0, vol)

	// A moving series has positive volatility.
	vol, err = HistoricalVolatility([]float64{100, 102, 99, 103, 101, 104}, 252)
	require.NoError(t, err)
	assert.Greater(t, vol, 0.0)

	// Wider swings mean higher volatility.
	wild, err := HistoricalVolatility([]float64{100, 110, 90, 115, 85, 120}, 252)
	require.NoError(t, err)
	assert.Greater(t, wild, vol)
}

func TestHistoricalVolatilityInsufficientData(t *testing.T) {
	_, err := HistoricalVolatility(nil, 252)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)

	_, err = HistoricalVolatility([]float64{100}, 252)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestHistoricalVolatilityRejectsNonPositivePrices(t *testing.T) {
	_, err := HistoricalVolatility([]float64{100, 0, 101}, 252)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}
