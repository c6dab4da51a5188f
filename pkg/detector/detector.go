// Package detector enumerates arbitrage legs across every ordered pair
// of CQT pools with a fresh oracle quote, sizes each with a ternary
// search over the constant-product profit curve, costs gas and (for
// cross-network pairs) bridging, and emits an Opportunity for every
// pair whose net profit is positive.
package detector

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cqtfi/arbengine/internal/util"
	"github.com/cqtfi/arbengine/pkg/domain"
	"github.com/cqtfi/arbengine/pkg/oracle"
)

// PricePredictor is the external ML confidence collaborator (spec.md §1:
// modeled only as an opaque scalar source, the LSTM predictor itself is
// out of scope).
type PricePredictor interface {
	Score(sourcePoolID, targetPoolID string) float64
}

// Config holds the tunables spec.md §4.3 and §4.4 name for sizing and costing.
type Config struct {
	MinPositionSize          *big.Int
	MaxPositionSize          *big.Int
	FeeTierPPM               uint32 // default fee tier when a Pool doesn't override; 3000 = 0.3%
	GasUnitsPerSwap          uint64
	BridgeFlatFee            *big.Int
	BridgeFeePct             *big.Float
	BridgeConfirmationBudget time.Duration
	StaleThreshold           time.Duration
}

// PoolInfo is the static metadata the detector needs alongside a live oracle quote.
type PoolInfo struct {
	Pool            domain.Pool
	CounterToken    [20]byte // the non-CQT token this pool pairs CQT against
	GasPricePerUnit *big.Int
}

// Detector evaluates every ordered pair of tracked pools for an arbitrage edge.
type Detector struct {
	oracle    *oracle.Oracle
	predictor PricePredictor
	cfg       Config
}

// New builds a Detector reading quotes from o and scoring confidence via predictor.
func New(o *oracle.Oracle, predictor PricePredictor, cfg Config) *Detector {
	return &Detector{oracle: o, predictor: predictor, cfg: cfg}
}

// Detect enumerates every ordered pair of pools, returning one
// Opportunity per pair with positive net profit. When both (A,B) and
// (B,A) qualify they are kept separately — they represent opposite
// trade directions — but if the same (source,target) pair appears more
// than once in pools (duplicate config entries), only the
// highest-netProfit one survives.
func (d *Detector) Detect(pools []PoolInfo) []domain.Opportunity {
	best := make(map[[2]string]domain.Opportunity)

	for _, a := range pools {
		quoteA, ok := d.oracle.Latest(a.Pool.ID)
		if !ok || quoteA.Stale {
			continue
		}
		for _, b := range pools {
			if a.Pool.ID == b.Pool.ID {
				continue
			}
			quoteB, ok := d.oracle.Latest(b.Pool.ID)
			if !ok || quoteB.Stale {
				continue
			}

			opp, ok := d.evaluatePair(a, quoteA, b, quoteB)
			if !ok {
				continue
			}

			key := [2]string{opp.SourcePoolID, opp.TargetPoolID}
			if existing, present := best[key]; !present || opp.NetProfit.Cmp(existing.NetProfit) > 0 {
				best[key] = opp
			}
		}
	}

	out := make([]domain.Opportunity, 0, len(best))
	for _, opp := range best {
		out = append(out, opp)
	}
	return out
}

func (d *Detector) evaluatePair(a PoolInfo, quoteA oracle.Quote, b PoolInfo, quoteB oracle.Quote) (domain.Opportunity, bool) {
	low := new(big.Int).Set(d.cfg.MinPositionSize)
	high := new(big.Int).Set(d.cfg.MaxPositionSize)
	if halfReserve := virtualReserveCQT(quoteA); halfReserve != nil {
		reserveCap := new(big.Int).Div(halfReserve, big.NewInt(2))
		if reserveCap.Cmp(high) < 0 {
			high = reserveCap
		}
	}
	if low.Cmp(high) >= 0 {
		return domain.Opportunity{}, false
	}

	feeA := poolFeePPM(a.Pool, d.cfg.FeeTierPPM)
	feeB := poolFeePPM(b.Pool, d.cfg.FeeTierPPM)

	profitFn := func(size *big.Int) *big.Rat {
		return d.roundTripProfit(size, a, quoteA, feeA, b, quoteB, feeB)
	}

	size, profit := util.TernarySearchMaxProfit(low, high, profitFn)
	if profit.Sign() <= 0 {
		return domain.Opportunity{}, false
	}

	crossNetwork := a.Pool.NetworkID != b.Pool.NetworkID
	gasCost := new(big.Int).Mul(big.NewInt(2), new(big.Int).Mul(new(big.Int).SetUint64(d.cfg.GasUnitsPerSwap), a.GasPricePerUnit))

	var bridgeCost *big.Int
	if crossNetwork {
		// A misconfigured (zero) confirmation budget can never be met; drop
		// cross-network pairs rather than silently skip the deadline check.
		if d.cfg.BridgeConfirmationBudget <= 0 {
			return domain.Opportunity{}, false
		}
		notional := new(big.Float).SetInt(size)
		pctCost := new(big.Float).Mul(notional, d.cfg.BridgeFeePct)
		pctCostInt, _ := pctCost.Int(nil)
		bridgeCost = new(big.Int).Add(d.cfg.BridgeFlatFee, pctCostInt)
	} else {
		bridgeCost = big.NewInt(0)
	}

	profitWei := ratToWei(profit, size)
	netProfit := new(big.Int).Sub(profitWei, gasCost)
	netProfit.Sub(netProfit, bridgeCost)
	if netProfit.Sign() <= 0 {
		return domain.Opportunity{}, false
	}

	confidence := d.confidence(a, b, quoteA, quoteB, size)
	grossEdgeBps := ratToDecimal(profit).Mul(decimal.NewFromInt(10000))

	return domain.Opportunity{
		ID:            uuid.New(),
		SourcePoolID:  a.Pool.ID,
		TargetPoolID:  b.Pool.ID,
		GrossEdgeBps:  grossEdgeBps,
		TradeSize:     size,
		EstGasCost:    gasCost,
		EstBridgeCost: bridgeCost,
		NetProfit:     netProfit,
		Confidence:    confidence,
		DetectedAt:    time.Now(),
		Status:        domain.OpportunityDetected,
	}, true
}

// roundTripProfit sells size CQT into pool a, then sells the proceeds
// back into CQT through pool b, returning (received - size) / size.
func (d *Detector) roundTripProfit(size *big.Int, a PoolInfo, quoteA oracle.Quote, feeA uint32, b PoolInfo, quoteB oracle.Quote, feeB uint32) *big.Rat {
	reserveCQTa, reserveXa := virtualReserves(quoteA)
	out := constantProductOut(reserveCQTa, reserveXa, size, feeA)

	reserveCQTb, reserveXb := virtualReserves(quoteB)
	back := constantProductOut(reserveXb, reserveCQTb, out, feeB)

	diff := new(big.Int).Sub(back, size)
	return new(big.Rat).SetFrac(diff, size)
}

// constantProductOut applies the Uniswap-style x*y=k swap formula with a
// fee expressed in parts-per-million.
func constantProductOut(reserveIn, reserveOut, amountIn *big.Int, feePPM uint32) *big.Int {
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || amountIn.Sign() <= 0 {
		return big.NewInt(0)
	}
	million := big.NewInt(1_000_000)
	amountInWithFee := new(big.Int).Mul(amountIn, new(big.Int).Sub(million, big.NewInt(int64(feePPM))))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(new(big.Int).Mul(reserveIn, million), amountInWithFee)
	if denominator.Sign() == 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Div(numerator, denominator)
}

// virtualReserves approximates the two token reserves implied by a
// concentrated-liquidity pool's current liquidity and price, valid
// locally around the current tick: reserve0 = L/sqrt(P), reserve1 = L*sqrt(P).
func virtualReserves(q oracle.Quote) (reserve0, reserve1 *big.Int) {
	if q.Snapshot.Liquidity == nil || q.Snapshot.SqrtPriceX96 == nil || q.Snapshot.SqrtPriceX96.Sign() == 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	liquidity := new(big.Float).SetInt(q.Snapshot.Liquidity)
	sqrtPrice := new(big.Float).Quo(new(big.Float).SetInt(q.Snapshot.SqrtPriceX96), q96Float())

	r0f := new(big.Float).Quo(liquidity, sqrtPrice)
	r1f := new(big.Float).Mul(liquidity, sqrtPrice)

	r0, _ := r0f.Int(nil)
	r1, _ := r1f.Int(nil)
	return r0, r1
}

func virtualReserveCQT(q oracle.Quote) *big.Int {
	r0, _ := virtualReserves(q)
	return r0
}

var q96 = new(big.Float).SetPrec(256).SetMantExp(big.NewFloat(1), 96)

func q96Float() *big.Float { return q96 }

func poolFeePPM(p domain.Pool, fallback uint32) uint32 {
	if p.FeeTier > 0 {
		return p.FeeTier
	}
	return fallback
}

// ratToWei scales a size by a round-trip edge ratio to get a wei-denominated profit.
func ratToWei(r *big.Rat, size *big.Int) *big.Int {
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(size))
	return new(big.Int).Div(scaled.Num(), scaled.Denom())
}

func ratToDecimal(r *big.Rat) decimal.Decimal {
	d, _ := decimal.NewFromString(r.FloatString(12))
	return d
}

// confidence is the multiplicative combination spec.md Sec 4.3 names:
// predictor score, liquidity-depth factor, and staleness penalty.
func (d *Detector) confidence(a, b PoolInfo, quoteA, quoteB oracle.Quote, size *big.Int) decimal.Decimal {
	predictorScore := 1.0
	if d.predictor != nil {
		predictorScore = d.predictor.Score(a.Pool.ID, b.Pool.ID)
	}

	liquidityFactor := liquidityDepthFactor(quoteA.Snapshot.Liquidity, size)

	stalePenalty := 1.0
	if d.cfg.StaleThreshold > 0 {
		agems := float64(quoteA.AgeMs)
		if b2 := float64(quoteB.AgeMs); b2 > agems {
			agems = b2
		}
		stalePenalty = 1.0 - agems/float64(d.cfg.StaleThreshold.Milliseconds())
		if stalePenalty < 0 {
			stalePenalty = 0
		}
	}

	return decimal.NewFromFloat(predictorScore * liquidityFactor * stalePenalty)
}

func liquidityDepthFactor(liquidity *big.Int, requiredSize *big.Int) float64 {
	if liquidity == nil || liquidity.Sign() <= 0 || requiredSize == nil || requiredSize.Sign() <= 0 {
		return 0
	}
	ratio := new(big.Float).Quo(new(big.Float).SetInt(liquidity), new(big.Float).SetInt(requiredSize))
	ratio.Mul(ratio, big.NewFloat(10))
	f, _ := ratio.Float64()
	if f > 1 {
		return 1
	}
	return f
}
