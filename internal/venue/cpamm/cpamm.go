// Package cpamm implements constant-product pool pricing shared by the venue
// clients. All amounts are integer base units; intermediate products run in
// big.Int so large reserves cannot overflow.
package cpamm

import "math/big"

// EstimateOut prices amountIn against a constant-product pool with the given
// reserves and fee schedule:
//
//	amountInAfterFee = amountIn * (10000 - feeBps) / 10000
//	out = reserveOut * amountInAfterFee / (reserveIn + amountInAfterFee)
//
// It returns 0 when either reserve is empty or the input amount is zero.
func EstimateOut(reserveIn, reserveOut, amountIn uint64, feeBps int) uint64 {
	if reserveIn == 0 || reserveOut == 0 || amountIn == 0 {
		return 0
	}
	if feeBps < 0 {
		feeBps = 0
	}
	if feeBps >= 10000 {
		return 0
	}

	rIn := new(big.Int).SetUint64(reserveIn)
	rOut := new(big.Int).SetUint64(reserveOut)
	aIn := new(big.Int).SetUint64(amountIn)

	aIn.Mul(aIn, big.NewInt(int64(10000-feeBps)))
	aIn.Div(aIn, big.NewInt(10000))

	num := new(big.Int).Mul(rOut, aIn)
	den := new(big.Int).Add(rIn, aIn)
	if den.Sign() == 0 {
		return 0
	}
	num.Div(num, den)
	return num.Uint64()
}

// PriceImpactBps returns how far the executed price falls below the spot
// price, in basis points. Display-only; float precision is acceptable here.
func PriceImpactBps(reserveIn, reserveOut, amountIn, amountOut uint64) int {
	if reserveIn == 0 || reserveOut == 0 || amountIn == 0 || amountOut == 0 {
		return 0
	}
	spot := float64(reserveOut) / float64(reserveIn)
	executed := float64(amountOut) / float64(amountIn)
	if spot <= 0 {
		return 0
	}
	impact := (1 - executed/spot) * 10000
	if impact < 0 {
		impact = 0
	}
	return int(impact)
}
