package pricing

import (
	"fmt"
	"math"

	"github.com/covault/vaultrfq/internal/domain"
)

const (
	// ivTolerance is the absolute price error below which Newton-Raphson stops.
	ivTolerance = 1e-6

	// ivMaxIterations bounds the Newton-Raphson loop.
	ivMaxIterations = 100

	// vegaFloor guards the Newton step against division by a vanishing vega.
	vegaFloor = 1e-10

	// sigmaMin and sigmaMax clamp each iterate to keep the search from
	// diverging on far-from-the-money inputs.
	sigmaMin = 0.01
	sigmaMax = 5.0
)

// ImpliedVolatility inverts Black-Scholes for the volatility that reproduces
// marketPrice. The search is Newton-Raphson seeded with the
// Brenner-Subrahmanyam approximation and stops when the price error falls
// below 1e-6 or after 100 iterations, whichever comes first.
//
// Returns domain.ErrConvergence when vega underflows or the iteration budget
// is exhausted; the caller must propagate the failure rather than fabricate
// a volatility.
func ImpliedVolatility(marketPrice, spot, strike, timeToExpiry, riskFreeRate float64, optType domain.OptionType) (float64, error) {
	if marketPrice <= 0 {
		return 0, fmt.Errorf("pricing: market price must be positive: %w", domain.ErrInvalidParameter)
	}
	if spot <= 0 || strike <= 0 {
		return 0, fmt.Errorf("pricing: spot and strike must be positive: %w", domain.ErrInvalidParameter)
	}
	if timeToExpiry <= 0 {
		return 0, fmt.Errorf("pricing: option already expired: %w", domain.ErrInvalidParameter)
	}

	// Brenner-Subrahmanyam seed: sigma ~ sqrt(2*pi/T) * price / spot.
	sigma := clampSigma(math.Sqrt(2*math.Pi/timeToExpiry) * marketPrice / spot)

	for i := 0; i < ivMaxIterations; i++ {
		res, err := BlackScholes(spot, strike, timeToExpiry, riskFreeRate, sigma)
		if err != nil {
			return 0, err
		}

		price := res.Call
		if optType == domain.OptionPut {
			price = res.Put
		}

		diff := price - marketPrice
		if math.Abs(diff) < ivTolerance {
			return sigma, nil
		}

		vega := Vega(spot, strike, timeToExpiry, riskFreeRate, sigma)
		if vega < vegaFloor {
			return 0, fmt.Errorf("pricing: vega underflow at sigma=%.6f: %w", sigma, domain.ErrConvergence)
		}

		sigma = clampSigma(sigma - diff/vega)
	}

	return 0, fmt.Errorf("pricing: %d iterations exhausted: %w", ivMaxIterations, domain.ErrConvergence)
}

func clampSigma(sigma float64) float64 {
	if sigma < sigmaMin {
		return sigmaMin
	}
	if sigma > sigmaMax {
		return sigmaMax
	}
	return sigma
}

// HistoricalVolatility annualizes the sample standard deviation of log
// returns over the given price series by sqrt(tradingDaysPerYear). A constant
// series returns exactly 0. Fewer than two prices is domain.ErrInsufficientData.
func HistoricalVolatility(prices []float64, tradingDaysPerYear int) (float64, error) {
	if len(prices) < 2 {
		return 0, fmt.Errorf("pricing: need at least 2 prices, got %d: %w", len(prices), domain.ErrInsufficientData)
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			return 0, fmt.Errorf("pricing: prices must be positive: %w", domain.ErrInvalidParameter)
		}
		returns = append(returns, math.Log(prices[i]/prices[i-1]))
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var sumSq float64
	for _, r := range returns {
		d := r - mean
		sumSq += d * d
	}

	if sumSq == 0 {
		return 0, nil
	}
	if len(returns) < 2 {
		// A single return carries no dispersion information.
		return 0, nil
	}

	stdev := math.Sqrt(sumSq / float64(len(returns)-1))
	return stdev * math.Sqrt(float64(tradingDaysPerYear)), nil
}
