// Package riskfilter applies spec.md §4.4's ordered gating predicates to
// each detected Opportunity, then ranks the survivors by net profit and
// confidence before they are handed to the Executor.
package riskfilter

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cqtfi/arbengine/pkg/domain"
)

// RejectReason names which ordered predicate dropped an opportunity.
type RejectReason string

const (
	RejectLowConfidence RejectReason = "low-confidence"
	RejectLowProfit      RejectReason = "below-profit-threshold"
	RejectSizeOutOfRange RejectReason = "trade-size-out-of-range"
	RejectGasPrice       RejectReason = "gas-price-too-high"
	RejectCooldown       RejectReason = "cooldown-active"
	RejectConcurrency    RejectReason = "concurrency-limit"
	RejectDailyLoss      RejectReason = "daily-loss-budget-exceeded"
	RejectEmergencyStop  RejectReason = "emergency-stopped"
)

// Config holds the tunables spec.md §4.4 names, with its defaults.
type Config struct {
	MinConfidence         decimal.Decimal
	MinProfitThreshold    decimal.Decimal // fraction of notional, e.g. 0.005 for 0.5%
	MinPositionSize       decimal.Decimal
	MaxPositionSize       decimal.Decimal
	MaxGasPrice           decimal.Decimal
	CooldownPeriod        time.Duration
	MaxConcurrentArbitrages int
	MaxDailyLoss          decimal.Decimal
}

// DefaultConfig returns spec.md §4.4's stated defaults.
func DefaultConfig() Config {
	return Config{
		MinConfidence:           decimal.NewFromFloat(0.7),
		MinProfitThreshold:      decimal.NewFromFloat(0.005),
		CooldownPeriod:          60 * time.Second,
		MaxConcurrentArbitrages: 3,
	}
}

// GasPriceLookup reports the current gas price on a network, in the
// same unit MaxGasPrice is configured in.
type GasPriceLookup func(networkID string) decimal.Decimal

// NetworkOf resolves a pool ID to the network it lives on, needed to
// check predicate 4 (gas price on both involved networks).
type NetworkOf func(poolID string) string

// Filter applies the ordered predicate chain and ranks survivors.
type Filter struct {
	cfg       Config
	gasPrice  GasPriceLookup
	networkOf NetworkOf

	mu               sync.Mutex
	lastExecutionAt  map[[2]string]time.Time
	inFlight         int
	dailyLoss        decimal.Decimal
	emergencyStopped bool
}

// New builds a Filter. gasPrice and networkOf are consulted for
// predicates 4 and (implicitly) 5.
func New(cfg Config, gasPrice GasPriceLookup, networkOf NetworkOf) *Filter {
	return &Filter{
		cfg:             cfg,
		gasPrice:        gasPrice,
		networkOf:       networkOf,
		lastExecutionAt: make(map[[2]string]time.Time),
		dailyLoss:       decimal.Zero,
	}
}

// Admit applies every predicate in spec order to opp, returning the
// reason for the first one it fails, or "" if opp is admissible.
func (f *Filter) Admit(opp domain.Opportunity) RejectReason {
	if opp.Confidence.LessThan(f.cfg.MinConfidence) {
		return RejectLowConfidence
	}

	notional := decimal.NewFromBigInt(opp.TradeSize, 0)
	minProfit := notional.Mul(f.cfg.MinProfitThreshold)
	if decimal.NewFromBigInt(opp.NetProfit, 0).LessThan(minProfit) {
		return RejectLowProfit
	}

	if !f.cfg.MinPositionSize.IsZero() && notional.LessThan(f.cfg.MinPositionSize) {
		return RejectSizeOutOfRange
	}
	if !f.cfg.MaxPositionSize.IsZero() && notional.GreaterThan(f.cfg.MaxPositionSize) {
		return RejectSizeOutOfRange
	}

	if f.gasPrice != nil && f.networkOf != nil && !f.cfg.MaxGasPrice.IsZero() {
		sourceNet := f.networkOf(opp.SourcePoolID)
		targetNet := f.networkOf(opp.TargetPoolID)
		if f.gasPrice(sourceNet).GreaterThan(f.cfg.MaxGasPrice) || f.gasPrice(targetNet).GreaterThan(f.cfg.MaxGasPrice) {
			return RejectGasPrice
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := [2]string{opp.SourcePoolID, opp.TargetPoolID}
	if last, ok := f.lastExecutionAt[key]; ok && time.Since(last) < f.cfg.CooldownPeriod {
		return RejectCooldown
	}

	if f.cfg.MaxConcurrentArbitrages > 0 && f.inFlight >= f.cfg.MaxConcurrentArbitrages {
		return RejectConcurrency
	}

	if !f.cfg.MaxDailyLoss.IsZero() && f.dailyLoss.GreaterThanOrEqual(f.cfg.MaxDailyLoss) {
		return RejectDailyLoss
	}

	if f.emergencyStopped {
		return RejectEmergencyStop
	}

	return ""
}

// Seed records (sourcePoolID, targetPoolID) as last dispatched at `at`,
// without affecting the in-flight count. It exists for ledger-replay
// reconstruction at startup, where a pair's cooldown window must be
// restored from a past EventSubmitted without the execution it belonged
// to still being in flight.
func (f *Filter) Seed(sourcePoolID, targetPoolID string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastExecutionAt[[2]string{sourcePoolID, targetPoolID}] = at
}

// RecordDispatch marks (sourcePool, targetPool) as just-dispatched for
// cooldown purposes and bumps the in-flight count. The Executor calls
// this when an admitted opportunity transitions Detected -> Reserved.
func (f *Filter) RecordDispatch(sourcePoolID, targetPoolID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastExecutionAt[[2]string{sourcePoolID, targetPoolID}] = time.Now()
	f.inFlight++
}

// RecordCompletion releases the in-flight slot an execution held, and
// folds a realized loss (positive value) into today's running total.
func (f *Filter) RecordCompletion(loss decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight > 0 {
		f.inFlight--
	}
	if loss.IsPositive() {
		f.dailyLoss = f.dailyLoss.Add(loss)
	}
}

// ResetDailyLoss zeroes the daily-loss counter. Nothing in this module
// calls it, so the counter accumulates for the life of the process.
func (f *Filter) ResetDailyLoss() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dailyLoss = decimal.Zero
}

// SetEmergencyStop engages or releases the emergency-stop predicate.
func (f *Filter) SetEmergencyStop(stopped bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emergencyStopped = stopped
}

// EmergencyStopped reports the current emergency-stop state.
func (f *Filter) EmergencyStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emergencyStopped
}

// AdmitAndRank applies Admit to every opportunity and returns the
// survivors ranked by netProfit desc, then confidence desc, keeping at
// most as many as there are free concurrency slots. The engine
// dispatches them directly; there is no channel to the Executor.
func (f *Filter) AdmitAndRank(opportunities []domain.Opportunity) []domain.Opportunity {
	admitted := make([]domain.Opportunity, 0, len(opportunities))
	for _, opp := range opportunities {
		if f.Admit(opp) == "" {
			admitted = append(admitted, opp)
		}
	}

	sort.Slice(admitted, func(i, j int) bool {
		if cmp := admitted[i].NetProfit.Cmp(admitted[j].NetProfit); cmp != 0 {
			return cmp > 0
		}
		return admitted[i].Confidence.GreaterThan(admitted[j].Confidence)
	})

	if f.cfg.MaxConcurrentArbitrages > 0 {
		f.mu.Lock()
		free := f.cfg.MaxConcurrentArbitrages - f.inFlight
		f.mu.Unlock()
		if free < 0 {
			free = 0
		}
		if len(admitted) > free {
			admitted = admitted[:free]
		}
	}

	return admitted
}
