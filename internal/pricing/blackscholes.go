// Package pricing implements the option math used to bound acceptable RFQ
// quotes: Black-Scholes valuation, implied and historical volatility, strike
// suggestion, and quote-deviation validation. All functions are pure and
// deterministic; there is no shared state.
package pricing

import (
	"fmt"
	"math"

	"github.com/covault/vaultrfq/internal/domain"
)

// Result holds the Black-Scholes outputs for one parameter set.
type Result struct {
	Call      float64
	Put       float64
	DeltaCall float64
	DeltaPut  float64
}

// BlackScholes prices a European call and put.
//
// spot and strike are in premium currency, timeToExpiry is in years,
// riskFreeRate and volatility are annualized decimals. At timeToExpiry <= 0
// the option is worth intrinsic value and delta collapses to {-1, 0, 1} by
// moneyness; no volatility term applies there.
func BlackScholes(spot, strike, timeToExpiry, riskFreeRate, volatility float64) (Result, error) {
	if spot <= 0 {
		return Result{}, fmt.Errorf("pricing: spot must be positive: %w", domain.ErrInvalidParameter)
	}
	if strike <= 0 {
		return Result{}, fmt.Errorf("pricing: strike must be positive: %w", domain.ErrInvalidParameter)
	}

	if timeToExpiry <= 0 {
		return intrinsic(spot, strike), nil
	}

	if volatility <= 0 {
		return Result{}, fmt.Errorf("pricing: volatility must be positive: %w", domain.ErrInvalidParameter)
	}

	sqrtT := math.Sqrt(timeToExpiry)
	d1 := (math.Log(spot/strike) + (riskFreeRate+0.5*volatility*volatility)*timeToExpiry) / (volatility * sqrtT)
	d2 := d1 - volatility*sqrtT

	discount := math.Exp(-riskFreeRate * timeToExpiry)

	return Result{
		Call:      spot*normCDF(d1) - strike*discount*normCDF(d2),
		Put:       strike*discount*normCDF(-d2) - spot*normCDF(-d1),
		DeltaCall: normCDF(d1),
		DeltaPut:  normCDF(d1) - 1,
	}, nil
}

// intrinsic returns expiry values: max(0, S-K) for the call, max(0, K-S)
// for the put, with deltas by moneyness.
func intrinsic(spot, strike float64) Result {
	r := Result{
		Call: math.Max(0, spot-strike),
		Put:  math.Max(0, strike-spot),
	}
	switch {
	case spot > strike:
		r.DeltaCall = 1
	case spot < strike:
		r.DeltaPut = -1
	}
	return r
}

// Vega returns the Black-Scholes vega (price sensitivity to volatility),
// identical for calls and puts. Zero at or past expiry.
func Vega(spot, strike, timeToExpiry, riskFreeRate, volatility float64) float64 {
	if timeToExpiry <= 0 || volatility <= 0 || spot <= 0 || strike <= 0 {
		return 0
	}
	sqrtT := math.Sqrt(timeToExpiry)
	d1 := (math.Log(spot/strike) + (riskFreeRate+0.5*volatility*volatility)*timeToExpiry) / (volatility * sqrtT)
	return spot * normPDF(d1) * sqrtT
}

// normCDF is the standard normal cumulative distribution function.
func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// normPDF is the standard normal density.
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
