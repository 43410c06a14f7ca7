// internal/swap/math.go
package swap

// Default slippage tolerance applied to every quote, in percent.
const slippagePercent = 5.0

// constantProductOut prices amount against x*y=k reserves after applying the
// pool's fee to the input side.
//
// outputAmount = outReserve * amountAfterFee / (inReserve + amountAfterFee)
func constantProductOut(inReserve, outReserve, amount uint64, feeFactor float64) uint64 {
	if inReserve == 0 || outReserve == 0 || amount == 0 {
		return 0
	}
	x := float64(inReserve)
	y := float64(outReserve)
	a := float64(amount) * feeFactor
	return uint64((y * a) / (x + a))
}

// withSlippage reduces an estimated output by the slippage tolerance.
func withSlippage(amount uint64) uint64 {
	return uint64(float64(amount) * (1.0 - slippagePercent/100.0))
}

// feeFactorFromBps converts a fee in basis points to the input multiplier,
// falling back to the variant default when the pool does not carry one.
func feeFactorFromBps(poolBps uint16, defaultBps uint16) float64 {
	bps := poolBps
	if bps == 0 {
		bps = defaultBps
	}
	return 1.0 - float64(bps)/10_000.0
}

// reserves orders a pool's vault balances by trade direction: the in-side
// reserve first.
func reserves(baseReserve, quoteReserve uint64, direction Direction) (in, out uint64) {
	if direction == DirectionBuy {
		return quoteReserve, baseReserve
	}
	return baseReserve, quoteReserve
}
