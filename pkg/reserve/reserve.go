// Package reserve implements the ReserveManager (Built-in Liquidity
// Provider) of spec.md §4.7: it accumulates a slice of realized profit
// plus external deposits into one ReserveEntry per pool, then on a
// timer injects the accumulated balance back into the pool with the
// highest configured priority once it clears the minimum-reserve and
// minimum-interval gates. It generalizes the teacher's single-pool
// CurrentAssetSnapshot tracking into a per-pool ledger.
package reserve

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cqtfi/arbengine/pkg/domain"
)

// Defaults per spec.md §4.7/§6.
const (
	DefaultProfitAllocationFraction = 0.20
	DefaultMinInjectionInterval     = time.Hour
	DefaultTickInterval             = 60 * time.Second
	DefaultMaxLiquidityFraction     = 0.01
)

// LiquidityInjector submits and confirms an addLiquidity transaction for
// a pool. It is an opaque collaborator built on ChainGateway.Submit +
// AwaitConfirmation; the wait is bounded only by the gateway's
// TxListener timeout (2 minutes by default), with no separate
// injection timeout. A failed or unconfirmed injection must leave
// the reserve untouched so it is retried on the next eligible tick.
type LiquidityInjector interface {
	Inject(pool domain.Pool, cqtAmount, pairedAmount *big.Int) (confirmed bool, err error)
}

// PriceLookup reports the current paired-token-per-CQT price for a
// pool, used to split an injection notional between the two tokens.
type PriceLookup func(poolID string) (pricePairedPerCQT *big.Float, ok bool)

// LiquidityLookup reports a pool's current on-chain liquidity, used to
// cap injection notional and avoid price impact.
type LiquidityLookup func(poolID string) *big.Int

// HealthLookup reports whether a network's ChainGateway is currently healthy.
type HealthLookup func(networkID string) bool

// Config holds the tunables spec.md §4.7/§6 name.
type Config struct {
	ProfitAllocationFraction float64
	MinInjectionReserve      *big.Int // default nil: every positive balance is eligible
	MinInjectionInterval     time.Duration
	MaxLiquidityFraction     float64
}

// Manager is the ReserveManager / BLP.
type Manager struct {
	cfg         Config
	pools       map[string]domain.Pool
	priorities  map[string]int
	priceOf     PriceLookup
	liquidityOf LiquidityLookup
	healthOf    HealthLookup
	injector    LiquidityInjector
	logger      *zap.Logger

	mu      sync.Mutex
	entries map[string]*domain.ReserveEntry
}

// New builds a Manager tracking one ReserveEntry per pool in pools.
// priorities maps Pool.ID to a poolPriorities weight (spec.md §6
// "blp.poolPriorities"); an unlisted pool defaults to weight 0.
func New(
	cfg Config,
	pools []domain.Pool,
	priorities map[string]int,
	priceOf PriceLookup,
	liquidityOf LiquidityLookup,
	healthOf HealthLookup,
	injector LiquidityInjector,
	logger *zap.Logger,
) *Manager {
	if cfg.ProfitAllocationFraction <= 0 {
		cfg.ProfitAllocationFraction = DefaultProfitAllocationFraction
	}
	if cfg.MinInjectionInterval <= 0 {
		cfg.MinInjectionInterval = DefaultMinInjectionInterval
	}
	if cfg.MaxLiquidityFraction <= 0 {
		cfg.MaxLiquidityFraction = DefaultMaxLiquidityFraction
	}

	poolsByID := make(map[string]domain.Pool, len(pools))
	entries := make(map[string]*domain.ReserveEntry, len(pools))
	for _, p := range pools {
		poolsByID[p.ID] = p
		entries[p.ID] = &domain.ReserveEntry{PoolID: p.ID, Balance: big.NewInt(0)}
	}
	if priorities == nil {
		priorities = make(map[string]int)
	}

	return &Manager{
		cfg:         cfg,
		pools:       poolsByID,
		priorities:  priorities,
		priceOf:     priceOf,
		liquidityOf: liquidityOf,
		healthOf:    healthOf,
		injector:    injector,
		logger:      logger,
		entries:     entries,
	}
}

// entryLocked returns (creating if necessary) the entry for poolID.
// Callers must hold m.mu.
func (m *Manager) entryLocked(poolID string) *domain.ReserveEntry {
	e, ok := m.entries[poolID]
	if !ok {
		e = &domain.ReserveEntry{PoolID: poolID, Balance: big.NewInt(0)}
		m.entries[poolID] = e
	}
	return e
}

// Balance returns poolID's current reserve balance.
func (m *Manager) Balance(poolID string) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.entryLocked(poolID).Balance)
}

// Deposit credits an external deposit to poolID's reserve (spec.md
// §4.7's deposit(poolId, amount), e.g. from the mining collaborator).
func (m *Manager) Deposit(poolID string, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entryLocked(poolID)
	e.Balance = new(big.Int).Add(e.Balance, amount)
}

// SetBalance overwrites poolID's reserve balance directly, with no
// effect on LastInjectionAt. It exists for ledger-replay reconstruction
// at startup, where the ledger already records the post-change balance
// rather than a delta to apply.
func (m *Manager) SetBalance(poolID string, balance *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entryLocked(poolID).Balance = new(big.Int).Set(balance)
}

// AllocateFromExecution credits profitAllocationFraction*realizedProfit,
// split evenly between sourcePoolID and targetPoolID's reserves, on a
// Completed execution (spec.md §4.7's allocateFromExecution).
func (m *Manager) AllocateFromExecution(sourcePoolID, targetPoolID string, realizedProfit *big.Int) {
	if realizedProfit == nil || realizedProfit.Sign() <= 0 {
		return
	}
	allocated := fractionOf(realizedProfit, m.cfg.ProfitAllocationFraction)
	half := new(big.Int).Div(allocated, big.NewInt(2))
	if half.Sign() <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.entryLocked(sourcePoolID)
	src.Balance = new(big.Int).Add(src.Balance, half)
	dst := m.entryLocked(targetPoolID)
	dst.Balance = new(big.Int).Add(dst.Balance, half)
}

// Tick evaluates the injection predicate for every tracked pool and, if
// more than one qualifies, injects into only the single
// highest-priority one — lowest Pool.ID breaking ties — to avoid
// simultaneous multi-pool capital exposure (spec.md §4.7's priority rule).
func (m *Manager) Tick() {
	now := time.Now()
	var eligible []domain.Pool

	m.mu.Lock()
	for id, pool := range m.pools {
		if !pool.Enabled {
			continue
		}
		if m.healthOf != nil && !m.healthOf(pool.NetworkID) {
			continue
		}
		e := m.entryLocked(id)
		if m.cfg.MinInjectionReserve != nil && e.Balance.Cmp(m.cfg.MinInjectionReserve) < 0 {
			continue
		}
		if e.Balance.Sign() <= 0 {
			continue
		}
		if !e.LastInjectionAt.IsZero() && now.Sub(e.LastInjectionAt) < m.cfg.MinInjectionInterval {
			continue
		}
		eligible = append(eligible, pool)
	}
	m.mu.Unlock()

	if len(eligible) == 0 {
		return
	}

	sort.Slice(eligible, func(i, j int) bool {
		wi, wj := m.priorities[eligible[i].ID], m.priorities[eligible[j].ID]
		if wi != wj {
			return wi > wj
		}
		return eligible[i].ID < eligible[j].ID
	})

	m.injectInto(eligible[0])
}

func (m *Manager) injectInto(pool domain.Pool) {
	m.mu.Lock()
	entry := m.entryLocked(pool.ID)
	balance := new(big.Int).Set(entry.Balance)
	m.mu.Unlock()

	cqtAmount, pairedAmount := m.splitAmounts(pool, balance)
	if cqtAmount.Sign() <= 0 {
		return
	}

	confirmed, err := m.injector.Inject(pool, cqtAmount, pairedAmount)
	if err != nil {
		m.logger.Warn("liquidity injection failed, reserve left untouched", zap.String("pool", pool.ID), zap.Error(err))
		return
	}
	if !confirmed {
		m.logger.Warn("liquidity injection not confirmed, reserve left untouched", zap.String("pool", pool.ID))
		return
	}

	m.mu.Lock()
	entry.Balance = big.NewInt(0)
	entry.LastInjectionAt = time.Now()
	m.mu.Unlock()
}

// splitAmounts caps the injectable notional at MaxLiquidityFraction of
// the pool's current liquidity (avoiding price impact) and splits it
// between CQT and the paired token at the pool's current price.
func (m *Manager) splitAmounts(pool domain.Pool, balance *big.Int) (cqtAmount, pairedAmount *big.Int) {
	notional := balance
	if m.liquidityOf != nil {
		if liquidity := m.liquidityOf(pool.ID); liquidity != nil && liquidity.Sign() > 0 {
			liquidityCap := fractionOf(liquidity, m.cfg.MaxLiquidityFraction)
			if liquidityCap.Cmp(notional) < 0 {
				notional = liquidityCap
			}
		}
	}

	half := new(big.Int).Div(notional, big.NewInt(2))
	cqtAmount = half
	pairedAmount = new(big.Int).Set(half)
	if m.priceOf != nil {
		if price, ok := m.priceOf(pool.ID); ok && price.Sign() > 0 {
			pairedF := new(big.Float).Mul(new(big.Float).SetInt(half), price)
			if converted, _ := pairedF.Int(nil); converted != nil {
				pairedAmount = converted
			}
		}
	}
	return cqtAmount, pairedAmount
}

func fractionOf(amount *big.Int, fraction float64) *big.Int {
	f := new(big.Float).Mul(new(big.Float).SetInt(amount), big.NewFloat(fraction))
	out, _ := f.Int(nil)
	return out
}
