// Package executor drives an admitted Opportunity through spec.md
// §4.5's state machine: Detected -> Reserved -> Submitting -> Submitted
// -> Confirming -> Completed|Failed|Superseded. It generalizes the
// teacher's StrategyPhase/StrategyReport/CircuitBreaker trio
// (specs/001-liquidity-repositioning/contracts/strategy_api.go) and
// Blackhole.Swap's approve-then-send idiom to a multi-leg, possibly
// cross-network, round trip.
package executor

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/cqtfi/arbengine/pkg/chaingateway"
	"github.com/cqtfi/arbengine/pkg/domain"
	"github.com/cqtfi/arbengine/pkg/errs"
	"github.com/cqtfi/arbengine/pkg/riskfilter"
	enginetypes "github.com/cqtfi/arbengine/pkg/types"
)

// Phase is one state in the execution lifecycle.
type Phase string

const (
	PhaseReserved   Phase = "reserved"
	PhaseSubmitting Phase = "submitting"
	PhaseSubmitted  Phase = "submitted"
	PhaseConfirming Phase = "confirming"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
	PhaseSuperseded Phase = "superseded"
)

// Failure/supersede reasons the ledger records alongside a Report.
const (
	ReasonGasDrift      = "gas-drift"
	ReasonBridgeTimeout = "bridge-timeout"
	ReasonEmergencyStop = "emergency-stop"
	ReasonSlotLost      = "slot-lost"
)

// Report is one state transition, generalizing the teacher's StrategyReport.
type Report struct {
	ExecutionID   uuid.UUID
	OpportunityID uuid.UUID
	Phase         Phase
	Reason        string
	Leg           *domain.Leg
	Timestamp     time.Time
	Err           error
	// RealizedProfit is set on a terminal report once capital has left
	// the signer's control. On Completed it is the amount the final swap
	// leg's receipt paid out minus the opportunity's TradeSize; on Failed
	// it is minus the whole TradeSize. Nil when no swap leg had confirmed
	// yet, or when a Completed execution's receipts carried no matching
	// transfer.
	RealizedProfit *big.Int
}

// LegPlan is one on-chain call the Executor must submit for a leg of an
// execution. ExpectedGasPrice, when set, is the per-unit gas price the
// Opportunity was costed at; the Executor aborts the leg if the
// observed price has drifted past the configured tolerance.
type LegPlan struct {
	Kind              string // "swap", "bridge-deposit"
	NetworkID         string
	Gateway           chaingateway.Gateway
	ContractAddress   common.Address
	ABI               abi.ABI
	Method            string
	Args              []interface{}
	GasLimit          *big.Int
	ExpectedGasPrice  *big.Int
	ConfirmationDepth uint64
}

// PlanBuilder decomposes an admitted Opportunity into its ordered legs:
// one swap on each side for an intra-network pair, swap-bridge-swap for
// a cross-network one. This is an opaque external collaborator (pool
// routing/calldata assembly is outside this engine's scope).
type PlanBuilder interface {
	BuildLegs(opp domain.Opportunity) ([]LegPlan, error)
}

// BridgeInitiator hands a bridge-deposit leg off to the BridgeCoordinator
// and blocks (respecting ctx) until the transfer reaches a terminal
// status. The Executor never drives bridge polling itself.
type BridgeInitiator interface {
	Begin(transfer domain.BridgeTransfer) (uuid.UUID, error)
	Await(ctx context.Context, transferID uuid.UUID) (domain.BridgeTransfer, error)
}

// Signer is the single EOA the Executor submits every leg from.
type Signer struct {
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
}

// Config holds the tunables spec.md §4.5/§5/§6 name.
type Config struct {
	GasDriftFactor         float64       // default 1.2, per spec.md §4.5
	LegConfirmTimeout      time.Duration // default 120s, per spec.md §5
	MaxConsecutiveFailures uint32        // security.maxConsecutiveFailures; default 5
	ReportBufferSize       int           // default 100, per the teacher's report-channel convention
}

type slotClaim struct {
	executionID uuid.UUID
	netProfit   *big.Int
	cancel      context.CancelFunc
}

// Executor runs one admitted opportunity at a time per (sourcePool,
// targetPool) slot, enforcing spec.md §8 invariant 1.
type Executor struct {
	cfg         Config
	riskFilter  *riskfilter.Filter
	planBuilder PlanBuilder
	signer      Signer
	bridge      BridgeInitiator
	breaker     *gobreaker.CircuitBreaker[any]
	logger      *zap.Logger

	mu    sync.Mutex
	slots map[[2]string]*slotClaim

	emergencyStop atomic.Bool

	reports chan Report
}

// New builds an Executor. The circuit breaker generalizes the teacher's
// hand-rolled CircuitBreaker: it trips emergency stop after
// cfg.MaxConsecutiveFailures consecutive leg failures within the
// breaker's rolling interval, same trigger spec.md §7 names.
func New(cfg Config, rf *riskfilter.Filter, planBuilder PlanBuilder, signer Signer, bridge BridgeInitiator, logger *zap.Logger) *Executor {
	if cfg.GasDriftFactor <= 0 {
		cfg.GasDriftFactor = 1.2
	}
	if cfg.LegConfirmTimeout <= 0 {
		cfg.LegConfirmTimeout = 120 * time.Second
	}
	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	if cfg.ReportBufferSize < 100 {
		cfg.ReportBufferSize = 100
	}

	e := &Executor{
		cfg:         cfg,
		riskFilter:  rf,
		planBuilder: planBuilder,
		signer:      signer,
		bridge:      bridge,
		logger:      logger,
		slots:       make(map[[2]string]*slotClaim),
		reports:     make(chan Report, cfg.ReportBufferSize),
	}

	settings := gobreaker.Settings{
		Name:        "executor",
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				logger.Warn("executor circuit breaker tripped, engaging emergency stop",
					zap.String("from", from.String()))
				e.SetEmergencyStop(true)
			}
		},
	}
	e.breaker = gobreaker.NewCircuitBreaker[any](settings)
	return e
}

// Reports streams every phase transition for every execution. The
// engine (or the Ledger directly) drains it.
func (e *Executor) Reports() <-chan Report { return e.reports }

// SetEmergencyStop engages or releases the halt spec.md §4.5 names as
// "any state -> Superseded".
func (e *Executor) SetEmergencyStop(stopped bool) { e.emergencyStop.Store(stopped) }

// EmergencyStopped reports the current halt state.
func (e *Executor) EmergencyStopped() bool { return e.emergencyStop.Load() }

func (e *Executor) emit(r Report) {
	select {
	case e.reports <- r:
	default:
		e.logger.Warn("execution report dropped, channel full", zap.String("phase", string(r.Phase)))
	}
}

// reserve atomically claims the (sourcePool, targetPool) slot for
// executionID. If the slot is already held by a strictly lower-profit
// execution, that execution is preempted (its context is cancelled) and
// this one takes the slot; if held by one with equal or higher profit,
// this call fails and the caller becomes Superseded.
func (e *Executor) reserve(executionID uuid.UUID, opp domain.Opportunity) (context.Context, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := [2]string{opp.SourcePoolID, opp.TargetPoolID}
	ctx, cancel := context.WithCancel(context.Background())

	if existing, held := e.slots[key]; held {
		if opp.NetProfit.Cmp(existing.netProfit) <= 0 {
			cancel()
			return ctx, false
		}
		existing.cancel()
	}
	e.slots[key] = &slotClaim{executionID: executionID, netProfit: opp.NetProfit, cancel: cancel}
	return ctx, true
}

func (e *Executor) release(sourcePoolID, targetPoolID string, executionID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := [2]string{sourcePoolID, targetPoolID}
	if claim, ok := e.slots[key]; ok && claim.executionID == executionID {
		delete(e.slots, key)
	}
}

// Dispatch runs opp through the full state machine, blocking until a
// terminal phase is reached. The caller (the engine) runs one goroutine
// per admitted opportunity, bounded overall by maxConcurrentArbitrages
// via riskFilter's concurrency predicate.
func (e *Executor) Dispatch(ctx context.Context, opp domain.Opportunity) {
	executionID := uuid.New()

	report := func(phase Phase, reason string, leg *domain.Leg, err error) {
		e.emit(Report{ExecutionID: executionID, OpportunityID: opp.ID, Phase: phase, Reason: reason, Leg: leg, Timestamp: time.Now(), Err: err})
	}
	// finish closes out a terminal phase. realizedProfit is the actual
	// CQT delta recovered from receipts (nil if no capital had moved
	// yet); RecordCompletion only ever sees a loss, never a profit, so
	// the daily-loss budget can actually trip on a losing trade.
	finish := func(phase Phase, reason string, realizedProfit *big.Int) {
		loss := decimal.Zero
		if realizedProfit != nil && realizedProfit.Sign() < 0 {
			loss = decimal.NewFromBigInt(new(big.Int).Neg(realizedProfit), 0)
		}
		e.riskFilter.RecordCompletion(loss)
		e.emit(Report{ExecutionID: executionID, OpportunityID: opp.ID, Phase: phase, Reason: reason, Timestamp: time.Now(), RealizedProfit: realizedProfit})
	}

	if e.emergencyStop.Load() {
		report(PhaseSuperseded, ReasonEmergencyStop, nil, nil)
		return
	}

	execCtx, claimed := e.reserve(executionID, opp)
	if !claimed {
		report(PhaseSuperseded, ReasonSlotLost, nil, nil)
		return
	}
	defer e.release(opp.SourcePoolID, opp.TargetPoolID, executionID)

	e.riskFilter.RecordDispatch(opp.SourcePoolID, opp.TargetPoolID)
	report(PhaseReserved, "", nil, nil)

	legs, err := e.planBuilder.BuildLegs(opp)
	if err != nil {
		finish(PhaseFailed, fmt.Sprintf("build legs: %v", err), nil)
		return
	}
	report(PhaseSubmitting, "", nil, nil)

	var lastTxHash common.Hash
	// tradeAtRisk becomes the CQT amount actually sent once the first
	// swap leg confirms, and stays set until the round trip closes back
	// into CQT; a failure while it is set treats the whole notional as
	// lost rather than reporting a zero realized loss for capital that
	// never came back. lastSwapOut is the CQT amount the most recent
	// confirmed swap leg's receipt actually paid the signer.
	var tradeAtRisk *big.Int
	var lastSwapOut *big.Int

	for i, leg := range legs {
		if e.emergencyStop.Load() {
			report(PhaseSuperseded, ReasonEmergencyStop, nil, nil)
			return
		}
		select {
		case <-execCtx.Done():
			report(PhaseSuperseded, ReasonSlotLost, nil, nil)
			return
		default:
		}

		if leg.Kind == "bridge-deposit" {
			if !e.runBridgeLeg(execCtx, executionID, leg, lastTxHash, report, finish, tradeAtRisk) {
				return
			}
			continue
		}

		if err := e.checkGasDrift(ctx, leg); err != nil {
			e.recordFailure(err)
			finish(PhaseFailed, ReasonGasDrift, negateAtRisk(tradeAtRisk))
			return
		}

		txHash, err := leg.Gateway.Submit(enginetypes.Standard, leg.GasLimit, &e.signer.Address, e.signer.PrivateKey, leg.ContractAddress, leg.ABI, leg.Method, leg.Args...)
		if err != nil {
			e.recordFailure(err)
			finish(PhaseFailed, fmt.Sprintf("submit leg %d: %v", i, err), negateAtRisk(tradeAtRisk))
			return
		}
		domainLeg := domain.Leg{NetworkID: leg.NetworkID, TxHash: txHash, Kind: leg.Kind}
		report(PhaseSubmitted, "", &domainLeg, nil)

		receipt, err := leg.Gateway.AwaitConfirmation(txHash, leg.ConfirmationDepth)
		if err != nil {
			e.recordFailure(err)
			finish(PhaseFailed, fmt.Sprintf("await confirmation leg %d: %v", i, err), negateAtRisk(tradeAtRisk))
			return
		}
		if receipt.Status == 0 {
			e.recordFailure(errs.New(errs.KindExecutionRevert, "leg reverted", nil))
			finish(PhaseFailed, "leg reverted on-chain", negateAtRisk(tradeAtRisk))
			return
		}

		if tradeAtRisk == nil {
			tradeAtRisk = new(big.Int).Set(opp.TradeSize)
		}
		if out := decodeSwapOutput(receipt, e.signer.Address); out != nil {
			lastSwapOut = out
			domainLeg.AmountOut = out
		}

		lastTxHash = txHash
		report(PhaseConfirming, "", &domainLeg, nil)
	}

	e.recordSuccess()
	var realizedProfit *big.Int
	if lastSwapOut != nil && tradeAtRisk != nil {
		realizedProfit = new(big.Int).Sub(lastSwapOut, tradeAtRisk)
	}
	finish(PhaseCompleted, "", realizedProfit)
}

// negateAtRisk turns a still-deployed notional into a negative realized
// amount for finish, or nil if nothing had been committed yet.
func negateAtRisk(tradeAtRisk *big.Int) *big.Int {
	if tradeAtRisk == nil {
		return nil
	}
	return new(big.Int).Neg(tradeAtRisk)
}

// erc20TransferTopic is keccak256("Transfer(address,address,uint256)"),
// the standard ERC-20 log signature every swap proceeds arrive under
// regardless of the pool/router ABI's own event shape.
var erc20TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// decodeSwapOutput sums every ERC-20 Transfer log in receipt paid to
// recipient, recovering the token amount a swap leg actually delivered.
// Returns nil if the receipt carries no matching transfer.
func decodeSwapOutput(receipt *enginetypes.TxReceipt, recipient common.Address) *big.Int {
	total := big.NewInt(0)
	found := false
	for _, l := range receipt.Logs {
		if len(l.Topics) != 3 || l.Topics[0] != erc20TransferTopic {
			continue
		}
		if common.BytesToAddress(l.Topics[2].Bytes()) != recipient {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(l.Data))
		found = true
	}
	if !found {
		return nil
	}
	return total
}

// runBridgeLeg hands leg off to the BridgeCoordinator and blocks for its
// terminal status. It reports and finishes the execution itself on
// failure/timeout so Dispatch's loop can simply `continue` on success.
func (e *Executor) runBridgeLeg(
	ctx context.Context,
	executionID uuid.UUID,
	leg LegPlan,
	sourceTxHash common.Hash,
	report func(Phase, string, *domain.Leg, error),
	finish func(Phase, string, *big.Int),
	tradeAtRisk *big.Int,
) bool {
	transfer := domain.BridgeTransfer{
		ID:            uuid.New(),
		ExecutionID:   executionID,
		SourceNetwork: leg.NetworkID,
		SourceTxHash:  sourceTxHash,
		Status:        domain.BridgePending,
	}

	transferID, err := e.bridge.Begin(transfer)
	if err != nil {
		finish(PhaseFailed, fmt.Sprintf("begin bridge transfer: %v", err), negateAtRisk(tradeAtRisk))
		return false
	}

	confirmed, err := e.bridge.Await(ctx, transferID)
	if err != nil || confirmed.Status == domain.BridgeTimedOut {
		// StrandedAsset: control passes to the BridgeCoordinator's reclaim
		// queue from here; no compensating trade is ever initiated.
		finish(PhaseFailed, ReasonBridgeTimeout, negateAtRisk(tradeAtRisk))
		return false
	}
	if confirmed.Status != domain.BridgeConfirmed {
		finish(PhaseFailed, "bridge transfer failed", negateAtRisk(tradeAtRisk))
		return false
	}

	domainLeg := domain.Leg{NetworkID: leg.NetworkID, TxHash: confirmed.TargetTxHash, Kind: leg.Kind}
	report(PhaseConfirming, "bridge transfer confirmed", &domainLeg, nil)
	return true
}

// checkGasDrift re-estimates a leg's gas price immediately before
// submission and aborts if it has drifted past the configured tolerance
// relative to the price the opportunity was costed at.
func (e *Executor) checkGasDrift(ctx context.Context, leg LegPlan) error {
	if leg.ExpectedGasPrice == nil || leg.ExpectedGasPrice.Sign() == 0 {
		return nil
	}
	estimate, err := leg.Gateway.EstimateGas(ctx, leg.ContractAddress, leg.ABI, leg.Method, leg.Args...)
	if err != nil {
		return err
	}
	threshold := new(big.Float).Mul(new(big.Float).SetInt(leg.ExpectedGasPrice), big.NewFloat(e.cfg.GasDriftFactor))
	observed := new(big.Float).SetInt(estimate.PricePerUnit)
	if observed.Cmp(threshold) > 0 {
		return errs.New(errs.KindSlippageExceeded, "observed gas price exceeds drift tolerance", nil)
	}
	return nil
}

func (e *Executor) recordFailure(cause error) {
	_, _ = e.breaker.Execute(func() (any, error) { return nil, cause })
}

func (e *Executor) recordSuccess() {
	_, _ = e.breaker.Execute(func() (any, error) { return nil, nil })
}
