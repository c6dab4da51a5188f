package util

import "math/big"

// q96Prec is the big.Float precision (bits) used for tick/price math.
// Wide enough that rounding error in a 256-tick-wide position never
// reaches the least-significant digit of a Q64.96 sqrtPrice.
const q96Prec = 256

var (
	tickBase  = mustParseFloat("1.0001")
	q96Factor = new(big.Float).SetPrec(q96Prec).SetMantExp(big.NewFloat(1), 96)
	q96Int    = new(big.Int).Lsh(big.NewInt(1), 96)
)

func mustParseFloat(s string) *big.Float {
	f, _, err := big.ParseFloat(s, 10, q96Prec, big.ToNearestEven)
	if err != nil {
		panic(err)
	}
	return f
}

// ratioAtTick computes 1.0001^tick at q96Prec via exponentiation by
// squaring, handling negative ticks as a reciprocal.
func ratioAtTick(tick int) *big.Float {
	neg := tick < 0
	e := tick
	if neg {
		e = -e
	}

	result := new(big.Float).SetPrec(q96Prec).SetInt64(1)
	b := new(big.Float).SetPrec(q96Prec).Copy(tickBase)
	for e > 0 {
		if e&1 == 1 {
			result.Mul(result, b)
		}
		b.Mul(b, b)
		e >>= 1
	}

	if neg {
		one := new(big.Float).SetPrec(q96Prec).SetInt64(1)
		result.Quo(one, result)
	}
	return result
}

// TickToSqrtPriceX96 converts a pool tick into its Q64.96 sqrt price,
// the representation Algebra/UniswapV3-family pools return from
// safelyGetStateOfAMM.
func TickToSqrtPriceX96(tick int) *big.Int {
	ratio := ratioAtTick(tick)
	sqrtRatio := new(big.Float).SetPrec(q96Prec).Sqrt(ratio)
	sqrtRatio.Mul(sqrtRatio, q96Factor)

	out, _ := sqrtRatio.Int(nil)
	return out
}

// SqrtPriceToPrice converts a Q64.96 sqrt price into the raw
// token1-per-token0 ratio, (sqrtPriceX96 / 2^96)^2. Callers apply their
// own decimal adjustment (token0Decimals - token1Decimals) to obtain a
// human-readable quote.
func SqrtPriceToPrice(sqrtPriceX96 *big.Int) *big.Float {
	sp := new(big.Float).SetPrec(q96Prec).SetInt(sqrtPriceX96)
	sp.Quo(sp, q96Factor)
	sp.Mul(sp, sp)
	return sp
}

func mulDiv(a, b, denom *big.Int) *big.Int {
	num := new(big.Int).Mul(a, b)
	if denom.Sign() == 0 {
		return big.NewInt(0)
	}
	return num.Div(num, denom)
}

func orderSqrt(a, b *big.Int) (*big.Int, *big.Int) {
	if a.Cmp(b) > 0 {
		return b, a
	}
	return a, b
}

func liquidityForAmount0(sqrtA, sqrtB, amount0 *big.Int) *big.Int {
	sqrtA, sqrtB = orderSqrt(sqrtA, sqrtB)
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	if diff.Sign() <= 0 {
		return big.NewInt(0)
	}
	intermediate := mulDiv(sqrtA, sqrtB, q96Int)
	return mulDiv(amount0, intermediate, diff)
}

func liquidityForAmount1(sqrtA, sqrtB, amount1 *big.Int) *big.Int {
	sqrtA, sqrtB = orderSqrt(sqrtA, sqrtB)
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	if diff.Sign() <= 0 {
		return big.NewInt(0)
	}
	return mulDiv(amount1, q96Int, diff)
}

func amount0ForLiquidity(sqrtA, sqrtB, liquidity *big.Int) *big.Int {
	sqrtA, sqrtB = orderSqrt(sqrtA, sqrtB)
	if sqrtA.Sign() <= 0 || sqrtB.Sign() <= 0 {
		return big.NewInt(0)
	}
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	num := mulDiv(liquidity, q96Int, sqrtA)
	return mulDiv(num, diff, sqrtB)
}

func amount1ForLiquidity(sqrtA, sqrtB, liquidity *big.Int) *big.Int {
	sqrtA, sqrtB = orderSqrt(sqrtA, sqrtB)
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	return mulDiv(liquidity, diff, q96Int)
}

// ComputeAmounts sizes a concentrated-liquidity position against a
// token0/token1 budget (amount0Max/amount1Max), returning the amounts
// actually deployable and the resulting liquidity, following the same
// single-sided-outside-range rule as Uniswap V3's LiquidityAmounts.
func ComputeAmounts(sqrtPriceX96 *big.Int, tick, tickLower, tickUpper int, amount0Max, amount1Max *big.Int) (*big.Int, *big.Int, *big.Int) {
	sqrtA := TickToSqrtPriceX96(tickLower)
	sqrtB := TickToSqrtPriceX96(tickUpper)

	var liquidity *big.Int
	switch {
	case tick <= tickLower:
		liquidity = liquidityForAmount0(sqrtA, sqrtB, amount0Max)
	case tick >= tickUpper:
		liquidity = liquidityForAmount1(sqrtA, sqrtB, amount1Max)
	default:
		l0 := liquidityForAmount0(sqrtPriceX96, sqrtB, amount0Max)
		l1 := liquidityForAmount1(sqrtA, sqrtPriceX96, amount1Max)
		if l0.Cmp(l1) < 0 {
			liquidity = l0
		} else {
			liquidity = l1
		}
	}

	amount0, amount1 := amountsForLiquidityAtPrice(liquidity, sqrtPriceX96, sqrtA, sqrtB, tick, tickLower, tickUpper)
	return amount0, amount1, liquidity
}

func amountsForLiquidityAtPrice(liquidity, sqrtPriceX96, sqrtA, sqrtB *big.Int, tick, tickLower, tickUpper int) (*big.Int, *big.Int) {
	switch {
	case tick <= tickLower:
		return amount0ForLiquidity(sqrtA, sqrtB, liquidity), big.NewInt(0)
	case tick >= tickUpper:
		return big.NewInt(0), amount1ForLiquidity(sqrtA, sqrtB, liquidity)
	default:
		return amount0ForLiquidity(sqrtPriceX96, sqrtB, liquidity), amount1ForLiquidity(sqrtA, sqrtPriceX96, liquidity)
	}
}

// CalculateTokenAmountsFromLiquidity returns the token0/token1 amounts
// a given liquidity would hold at sqrtPriceX96, for a position spanning
// [tickLower, tickUpper]. Used to value an existing position, or a
// hypothetical one, at an arbitrary price rather than the pool's
// current tick.
func CalculateTokenAmountsFromLiquidity(liquidity, sqrtPriceX96 *big.Int, tickLower, tickUpper int32) (*big.Int, *big.Int, error) {
	if liquidity == nil || sqrtPriceX96 == nil {
		return nil, nil, errNilArgument
	}
	if tickLower >= tickUpper {
		return nil, nil, errInvalidTickRange
	}

	sqrtA := TickToSqrtPriceX96(int(tickLower))
	sqrtB := TickToSqrtPriceX96(int(tickUpper))

	switch {
	case sqrtPriceX96.Cmp(sqrtA) <= 0:
		return amount0ForLiquidity(sqrtA, sqrtB, liquidity), big.NewInt(0), nil
	case sqrtPriceX96.Cmp(sqrtB) >= 0:
		return big.NewInt(0), amount1ForLiquidity(sqrtA, sqrtB, liquidity), nil
	default:
		return amount0ForLiquidity(sqrtPriceX96, sqrtB, liquidity), amount1ForLiquidity(sqrtA, sqrtPriceX96, liquidity), nil
	}
}

// CalculateTickBounds aligns currentTick down to the nearest tickSpacing
// multiple and widens rangeWidth spacings upward, giving a
// spacing-aligned [tickLower, tickUpper) window around the pool's tick.
func CalculateTickBounds(currentTick int32, rangeWidth, tickSpacing int) (int32, int32, error) {
	if tickSpacing <= 0 {
		return 0, 0, errInvalidTickSpacing
	}
	if rangeWidth <= 0 {
		return 0, 0, errInvalidRangeWidth
	}

	ts := int64(tickSpacing)
	ct := int64(currentTick)

	q := ct / ts
	r := ct % ts
	if r != 0 && ((ct < 0) != (ts < 0)) {
		q--
	}
	aligned := q * ts

	tickLower := aligned
	tickUpper := aligned + int64(rangeWidth)*ts

	return int32(tickLower), int32(tickUpper), nil
}

// CalculateRebalanceAmounts decides which side of a token0/token1
// balance pair is overweight relative to the pool price and how much
// of it should be swapped to restore a 50/50 split. tokenToSwap is 0
// for "swap token0 into token1", 1 for the reverse, -1 if already
// balanced.
func CalculateRebalanceAmounts(balance0, balance1, sqrtPriceX96 *big.Int) (int, *big.Int, error) {
	if balance0 == nil || balance1 == nil || sqrtPriceX96 == nil {
		return 0, nil, errNilArgument
	}

	price := SqrtPriceToPrice(sqrtPriceX96)
	value0 := new(big.Float).SetPrec(q96Prec).SetInt(balance0)
	value0.Mul(value0, price)
	value1 := new(big.Float).SetPrec(q96Prec).SetInt(balance1)

	cmp := value0.Cmp(value1)
	if cmp == 0 {
		return -1, big.NewInt(0), nil
	}

	diff := new(big.Float).SetPrec(q96Prec)
	if cmp > 0 {
		diff.Sub(value0, value1)
		diff.Quo(diff, big.NewFloat(2))
		amount, _ := diff.Int(nil)
		return 0, amount, nil
	}

	diff.Sub(value1, value0)
	diff.Quo(diff, big.NewFloat(2))
	amount, _ := diff.Int(nil)
	return 1, amount, nil
}

// CalculateMinAmount applies a slippage tolerance (percentage points)
// to a desired amount, floor-rounded.
func CalculateMinAmount(amount *big.Int, slippagePct int) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(amount, big.NewInt(int64(100-slippagePct)))
	return numerator.Div(numerator, big.NewInt(100))
}
