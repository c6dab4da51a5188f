package util

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

// memo. SqrtPrice는 두 tick 사이의 값이기에, safelyGetStateOfAMM 결과로 나오는 sprtPrice 랑 tick 완벽하게 매칭되지 않음
func TestTickToSqrtPriceX96(t *testing.T) {

	sqrtPrice := TickToSqrtPriceX96(-249428)

	expected, _ := big.NewInt(0).SetString("304011615425126403287043", 10)
	assert.Equal(t, expected, sqrtPrice)
}

func TestComputeAmounts(t *testing.T) {

	sqrtPrice := TickToSqrtPriceX96(-249428)

	expected, _ := big.NewInt(0).SetString("304011615425126403287043", 10)
	assert.Equal(t, expected, sqrtPrice)

	// The current tick sits below the range, so the position is sized
	// from token0 alone and holds no token1.
	amount0Max, _ := big.NewInt(0).SetString("1000000000000000000", 10)
	amount1Max, _ := big.NewInt(0).SetString("1000000000000000000", 10)
	amount0, amount1, liquidity := ComputeAmounts(sqrtPrice, -249428, -249400, -249300, amount0Max, amount1Max)
	assert.Equal(t, 1, liquidity.Sign())
	assert.Equal(t, 1, amount0.Sign())
	assert.True(t, amount0.Cmp(amount0Max) <= 0)
	assert.Equal(t, 0, amount1.Sign())
}
