package detector

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cqtfi/arbengine/pkg/domain"
)

func TestConstantProductOutNoFee(t *testing.T) {
	reserveIn := big.NewInt(1_000_000)
	reserveOut := big.NewInt(1_000_000)
	out := constantProductOut(reserveIn, reserveOut, big.NewInt(1000), 0)

	// x*y=k: (1_000_000+1000)*(1_000_000-out) = 1_000_000*1_000_000
	expected := new(big.Int).Sub(reserveOut, new(big.Int).Div(
		new(big.Int).Mul(reserveOut, reserveOut),
		new(big.Int).Add(reserveIn, big.NewInt(1000)),
	))
	assert.Equal(t, expected.String(), out.String())
}

func TestConstantProductOutZeroReserves(t *testing.T) {
	out := constantProductOut(big.NewInt(0), big.NewInt(100), big.NewInt(10), 3000)
	assert.Equal(t, "0", out.String())
}

func TestConstantProductOutFeeReducesOutput(t *testing.T) {
	reserveIn := big.NewInt(1_000_000)
	reserveOut := big.NewInt(1_000_000)
	outNoFee := constantProductOut(reserveIn, reserveOut, big.NewInt(1000), 0)
	outWithFee := constantProductOut(reserveIn, reserveOut, big.NewInt(1000), 3000)
	assert.True(t, outWithFee.Cmp(outNoFee) < 0, "fee should reduce output")
}

func TestLiquidityDepthFactorCapsAtOne(t *testing.T) {
	f := liquidityDepthFactor(big.NewInt(1_000_000), big.NewInt(1))
	assert.Equal(t, 1.0, f)
}

func TestLiquidityDepthFactorZeroOnMissingInputs(t *testing.T) {
	assert.Equal(t, 0.0, liquidityDepthFactor(nil, big.NewInt(1)))
	assert.Equal(t, 0.0, liquidityDepthFactor(big.NewInt(1), nil))
	assert.Equal(t, 0.0, liquidityDepthFactor(big.NewInt(0), big.NewInt(1)))
}

func TestPoolFeePPMFallback(t *testing.T) {
	assert.Equal(t, uint32(3000), poolFeePPM(domain.Pool{FeeTier: 0}, 3000))
	assert.Equal(t, uint32(500), poolFeePPM(domain.Pool{FeeTier: 500}, 3000))
}

func TestRatToDecimalRoundTrip(t *testing.T) {
	r := big.NewRat(1, 4)
	d := ratToDecimal(r)
	assert.True(t, d.Equal(ratToDecimal(big.NewRat(1, 4))))
	assert.Equal(t, "0.25", d.StringFixed(2))
}
