package domain

import (
	"math"
	"math/big"
)

// ToTicks converts a float display value to fixed-point at AmountScale,
// rounding half away from zero. Used only at the boundary where relay floats
// enter ledger accounting.
func ToTicks(v float64) int64 {
	return int64(math.Round(v * float64(AmountScale)))
}

// MulDiv computes a*b/div through big.Int so the intermediate product cannot
// overflow int64. div must be non-zero.
func MulDiv(a, b, div int64) int64 {
	n := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	n.Div(n, big.NewInt(div))
	return n.Int64()
}
