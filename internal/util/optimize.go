package util

import "math/big"

// ternarySearchIterations is fixed at 20: each iteration keeps two
// thirds of the window, so 20 iterations narrow it to (2/3)^20, about
// 0.03% of its starting width.
const ternarySearchIterations = 20

// TernarySearchMaxProfit finds the trade size in [low, high] that
// maximizes profit, assuming profit is unimodal over the range (true
// for AMM arbitrage cost curves: marginal output shrinks with size
// while marginal cost grows). Returns the best size found and its
// profit.
func TernarySearchMaxProfit(low, high *big.Int, profit func(size *big.Int) *big.Rat) (*big.Int, *big.Rat) {
	lo := new(big.Int).Set(low)
	hi := new(big.Int).Set(high)
	three := big.NewInt(3)

	for i := 0; i < ternarySearchIterations; i++ {
		diff := new(big.Int).Sub(hi, lo)
		if diff.Sign() <= 0 {
			break
		}
		third := new(big.Int).Div(diff, three)
		m1 := new(big.Int).Add(lo, third)
		m2 := new(big.Int).Sub(hi, third)

		if profit(m1).Cmp(profit(m2)) < 0 {
			lo = m1
		} else {
			hi = m2
		}
	}

	best := new(big.Int).Add(lo, hi)
	best.Div(best, big.NewInt(2))
	return best, profit(best)
}
