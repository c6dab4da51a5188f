// Package arbengine wires spec.md's modules into one running process:
// one ChainGateway per network, a PoolMonitor feeding a shared Oracle, a
// Detector/RiskFilter/Executor pipeline, a BridgeCoordinator for
// cross-network legs, and a ReserveManager fed from completed
// executions. It generalizes the teacher's root Blackhole struct -
// which wired one DEX's ContractClient/TxListener/MySQLRecorder trio -
// into a multi-network, multi-pool orchestrator built from this
// module's own pkg/* collaborators.
package arbengine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cqtfi/arbengine/configs"
	"github.com/cqtfi/arbengine/internal/db"
	"github.com/cqtfi/arbengine/pkg/bridge"
	"github.com/cqtfi/arbengine/pkg/chaingateway"
	"github.com/cqtfi/arbengine/pkg/detector"
	"github.com/cqtfi/arbengine/pkg/domain"
	"github.com/cqtfi/arbengine/pkg/executor"
	"github.com/cqtfi/arbengine/pkg/metrics"
	"github.com/cqtfi/arbengine/pkg/oracle"
	"github.com/cqtfi/arbengine/pkg/poolmonitor"
	"github.com/cqtfi/arbengine/pkg/reserve"
	"github.com/cqtfi/arbengine/pkg/riskfilter"
)

// ABIs bundles the three contract interfaces the engine drives:
// pools (safelyGetStateOfAMM reads), the router methods (swap and
// addLiquidity) that routePlanBuilder and contractLiquidityInjector call
// against each pool's own address, and the bridge contract's delivery
// and refund views. spec.md §6 keeps these out of the declarative YAML
// schema; New accepts them directly, the way cmd/engine/main.go loads
// them with internal/util.LoadABI.
type ABIs struct {
	Pool   abi.ABI
	Router abi.ABI
	Bridge abi.ABI
}

// Engine is the assembled, runnable arbitrage process.
type Engine struct {
	logger *zap.Logger
	cfg    *configs.Config
	abis   ABIs

	gateways map[string]chaingateway.Gateway // by network ID
	pools    map[string]domain.Pool          // by pool ID

	oracle     *oracle.Oracle
	monitor    *poolmonitor.Monitor
	detector   *detector.Detector
	riskFilter *riskfilter.Filter
	executor   *executor.Executor
	bridge     *bridge.Coordinator
	reserve    *reserve.Manager
	ledger     *db.Ledger
	metrics    *metrics.Registry

	targets      []poolmonitor.Target
	tickInterval time.Duration

	// trackingMu guards pendingByOpp and dispatched. An admitted
	// opportunity is recorded in pendingByOpp (keyed by Opportunity.ID)
	// when it is dispatched; its PhaseReserved Report carries the
	// ExecutionID the Executor assigned, at which point it moves into
	// dispatched (keyed by ExecutionID) so later reports can look it up
	// without threading the Opportunity through the Executor itself.
	trackingMu    sync.Mutex
	pendingByOpp  map[uuid.UUID]domain.Opportunity
	dispatched    map[uuid.UUID]domain.Opportunity
}

// New dials a Gateway for every configured network, converts pools, and
// wires every collaborator together. A network whose RPC endpoints are
// all unreachable at startup is skipped with a warning rather than
// failing New outright; New only errors if every configured network
// fails to dial, since a fully degraded start can never detect or
// execute anything.
func New(cfg *configs.Config, abis ABIs, signer executor.Signer, ledger *db.Ledger, reg *metrics.Registry, logger *zap.Logger) (*Engine, error) {
	networks := cfg.ToNetworks()
	gateways := make(map[string]chaingateway.Gateway, len(networks))
	for id, n := range networks {
		gw, err := chaingateway.New(id, n.RPCEndpoints, n.MaxGasPrice, logger)
		if err != nil {
			logger.Warn("network unreachable at startup, skipping", zap.String("network", id), zap.Error(err))
			continue
		}
		gateways[id] = gw
	}
	if len(gateways) == 0 {
		return nil, fmt.Errorf("arbengine: every configured network failed to dial, refusing to start")
	}

	pools, err := cfg.ToPools()
	if err != nil {
		return nil, fmt.Errorf("convert pool config: %w", err)
	}
	poolsByID := make(map[string]domain.Pool, len(pools))
	for _, p := range pools {
		poolsByID[p.ID] = p
	}

	staleThreshold := 3 * cfg.MonitoringInterval()
	o := oracle.New(staleThreshold, 0)

	monitor := poolmonitor.NewMonitor(o, logger, nil)
	var targets []poolmonitor.Target
	for _, p := range pools {
		gw, ok := gateways[p.NetworkID]
		if !ok {
			continue
		}
		targets = append(targets, poolmonitor.Target{
			Pool:         p,
			Gateway:      gw,
			ABI:          abis.Pool,
			PollInterval: cfg.MonitoringInterval(),
		})
	}

	minPos, err := cfg.MinPositionSize()
	if err != nil {
		return nil, fmt.Errorf("arbitrage.minPositionSize: %w", err)
	}
	maxPos, err := cfg.MaxPositionSize()
	if err != nil {
		return nil, fmt.Errorf("arbitrage.maxPositionSize: %w", err)
	}

	det := detector.New(o, &constantPredictor{}, detector.Config{
		MinPositionSize:          minPos,
		MaxPositionSize:          maxPos,
		FeeTierPPM:               3000,
		GasUnitsPerSwap:          150_000,
		BridgeFlatFee:            usdToBaseUnits(cfg.CrossChain.FlatFeeUsd),
		BridgeFeePct:             big.NewFloat(cfg.CrossChain.PercentFee),
		BridgeConfirmationBudget: cfg.BridgeConfirmationTimeout(),
		StaleThreshold:           staleThreshold,
	})

	networkOf := func(poolID string) string {
		if p, ok := poolsByID[poolID]; ok {
			return p.NetworkID
		}
		return ""
	}
	gasPriceOf := func(networkID string) decimal.Decimal {
		gw, ok := gateways[networkID]
		if !ok {
			return decimal.Zero
		}
		price, err := gw.SuggestGasPrice(context.Background())
		if err != nil {
			return decimal.Zero
		}
		return decimal.NewFromBigInt(price, 0)
	}

	minProfit, err := cfg.MinProfitThreshold()
	if err != nil {
		return nil, fmt.Errorf("arbitrage.minProfitThreshold: %w", err)
	}
	maxDailyLoss, err := cfg.MaxDailyLoss()
	if err != nil {
		return nil, fmt.Errorf("security.maxDailyLoss: %w", err)
	}

	rf := riskfilter.New(riskfilter.Config{
		MinConfidence:           decimal.NewFromFloat(0.7),
		MinProfitThreshold:      decimal.NewFromBigInt(minProfit, 0).Div(decimal.NewFromBigInt(maxPos, 0)),
		MinPositionSize:         decimal.NewFromBigInt(minPos, 0),
		MaxPositionSize:         decimal.NewFromBigInt(maxPos, 0),
		MaxGasPrice:             decimal.NewFromFloat(cfg.Security.MaxGasPriceGwei).Mul(decimal.New(1, 9)),
		CooldownPeriod:          cfg.CooldownPeriod(),
		MaxConcurrentArbitrages: cfg.Arbitrage.MaxConcurrentArbitrages,
		MaxDailyLoss:            decimal.NewFromBigInt(maxDailyLoss, 0),
	}, gasPriceOf, networkOf)

	planBuilder := &routePlanBuilder{pools: poolsByID, gateways: gateways, abis: abis, signer: signer}

	minReserve, err := cfg.MinReserveBalance()
	if err != nil {
		return nil, fmt.Errorf("blp.minReserveBalance: %w", err)
	}

	// priceOf/liquidityOf read the same oracle quotes the detector trades
	// on, so a reserve injection is capped and priced off the pool's
	// actual current state rather than a naive balance split.
	priceOf := func(poolID string) (*big.Float, bool) {
		q, ok := o.Latest(poolID)
		if !ok || q.Price == nil {
			return nil, false
		}
		return q.Price, true
	}
	liquidityOf := func(poolID string) *big.Int {
		q, ok := o.Latest(poolID)
		if !ok {
			return nil
		}
		return q.Snapshot.Liquidity
	}

	reserveMgr := reserve.New(
		reserve.Config{MinInjectionReserve: minReserve, MinInjectionInterval: cfg.MinInjectionInterval()},
		pools,
		cfg.PoolPriorityWeights(),
		priceOf,
		liquidityOf,
		func(networkID string) bool {
			gw, ok := gateways[networkID]
			return ok && !gw.Degraded()
		},
		&contractLiquidityInjector{gateways: gateways, abis: abis, signer: signer},
		logger,
	)

	bridgeAddrsByNetwork := make(map[string]common.Address, len(cfg.CrossChain.BridgeContracts))
	for networkID, addr := range cfg.CrossChain.BridgeContracts {
		bridgeAddrsByNetwork[networkID] = common.HexToAddress(addr)
	}

	poolForTransfer := func(transfer domain.BridgeTransfer) (string, bool) {
		for _, p := range pools {
			if p.NetworkID == transfer.TargetNetwork && (p.Token0 == transfer.Token || p.Token1 == transfer.Token) {
				return p.ID, true
			}
		}
		return "", false
	}

	bridgeCoord := bridge.New(
		&contractDeliveryChecker{gateways: gateways, abis: abis, bridgeAddrsByN: bridgeAddrsByNetwork},
		cfg.BridgeConfirmationTimeout(),
		0,
		func(transfer domain.BridgeTransfer) {
			if poolID, ok := poolForTransfer(transfer); ok {
				reserveMgr.Deposit(poolID, transfer.Amount)
			}
		},
		logger,
	)

	exec := executor.New(executor.Config{MaxConsecutiveFailures: cfg.Security.MaxConsecutiveFailures}, rf, planBuilder, signer, bridgeCoord, logger)

	tickInterval := cfg.MonitoringInterval()
	if tickInterval <= 0 {
		tickInterval = 15 * time.Second
	}

	return &Engine{
		logger:       logger,
		cfg:          cfg,
		abis:         abis,
		gateways:     gateways,
		pools:        poolsByID,
		oracle:       o,
		monitor:      monitor,
		detector:     det,
		riskFilter:   rf,
		executor:     exec,
		bridge:       bridgeCoord,
		reserve:      reserveMgr,
		ledger:       ledger,
		metrics:      reg,
		targets:      targets,
		tickInterval: tickInterval,
		pendingByOpp: make(map[uuid.UUID]domain.Opportunity),
		dispatched:   make(map[uuid.UUID]domain.Opportunity),
	}, nil
}

// usdToBaseUnits is a placeholder conversion pending a live USD/CQT
// price feed; it treats the configured flat fee as already denominated
// in CQT base units at 18 decimals.
func usdToBaseUnits(usd float64) *big.Int {
	return decimal.NewFromFloat(usd).Mul(decimal.New(1, 18)).BigInt()
}

// Run starts the pool monitor, the detect-admit-dispatch loop, and the
// reserve injection timer, blocking until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.replay(); err != nil {
		return fmt.Errorf("replay ledger: %w", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.monitor.Run(ctx, e.targets); err != nil && ctx.Err() == nil {
			e.logger.Error("pool monitor exited", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.drainReports(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.tickLoop(ctx)
	}()

	wg.Wait()
	return ctx.Err()
}

func (e *Engine) poolInfos() []detector.PoolInfo {
	infos := make([]detector.PoolInfo, 0, len(e.pools))
	for _, p := range e.pools {
		if !p.Enabled {
			continue
		}
		gw, ok := e.gateways[p.NetworkID]
		if !ok {
			continue
		}
		price, err := gw.SuggestGasPrice(context.Background())
		if err != nil {
			price = big.NewInt(0)
		}
		infos = append(infos, detector.PoolInfo{Pool: p, CounterToken: p.Token1, GasPricePerUnit: price})
	}
	return infos
}

func (e *Engine) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	opportunities := e.detector.Detect(e.poolInfos())
	if e.metrics != nil {
		for range opportunities {
			e.metrics.RecordOpportunityDetected()
		}
	}

	if e.metrics != nil {
		for _, opp := range opportunities {
			if reason := e.riskFilter.Admit(opp); reason != "" {
				e.metrics.RecordOpportunityRejected(string(reason))
			}
		}
	}
	admitted := e.riskFilter.AdmitAndRank(opportunities)

	for _, opp := range admitted {
		if e.metrics != nil {
			e.metrics.RecordOpportunityAdmitted()
		}
		e.trackingMu.Lock()
		e.pendingByOpp[opp.ID] = opp
		e.trackingMu.Unlock()
		go e.executor.Dispatch(ctx, opp)
	}

	e.reserve.Tick()
	e.bridge.PollReclaimQueue(ctx)
}

func (e *Engine) drainReports(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-e.executor.Reports():
			e.handleReport(r)
		}
	}
}

func (e *Engine) handleReport(r executor.Report) {
	if r.Phase == executor.PhaseReserved {
		e.trackingMu.Lock()
		if opp, ok := e.pendingByOpp[r.OpportunityID]; ok {
			e.dispatched[r.ExecutionID] = opp
			delete(e.pendingByOpp, r.OpportunityID)
			e.trackingMu.Unlock()
			e.appendSubmitted(r.ExecutionID, opp)
		} else {
			e.trackingMu.Unlock()
		}
		return
	}

	switch r.Phase {
	case executor.PhaseCompleted:
		opp, ok := e.takeDispatched(r.ExecutionID)
		if e.metrics != nil {
			e.metrics.RecordExecutionOutcome(domain.OutcomeSuccess)
		}
		if ok {
			e.reserve.AllocateFromExecution(opp.SourcePoolID, opp.TargetPoolID, r.RealizedProfit)
			if e.metrics != nil {
				e.metrics.SetReserveBalance(opp.SourcePoolID, weiToFloat(e.reserve.Balance(opp.SourcePoolID)))
				e.metrics.SetReserveBalance(opp.TargetPoolID, weiToFloat(e.reserve.Balance(opp.TargetPoolID)))
			}
			e.appendConfirmed(r, opp)
			e.appendReserveChange(opp.SourcePoolID, e.reserve.Balance(opp.SourcePoolID))
			e.appendReserveChange(opp.TargetPoolID, e.reserve.Balance(opp.TargetPoolID))
		}
	case executor.PhaseFailed:
		_, ok := e.takeDispatched(r.ExecutionID)
		outcome := domain.OutcomeReverted
		if r.Reason == executor.ReasonBridgeTimeout {
			outcome = domain.OutcomeBridgeTimeout
			e.appendBridgeTimeout(r)
		} else if ok {
			e.appendReverted(r)
		}
		if e.metrics != nil {
			e.metrics.RecordExecutionOutcome(outcome)
		}
	case executor.PhaseSuperseded:
		e.takeDispatched(r.ExecutionID)
		if e.metrics != nil {
			e.metrics.RecordExecutionOutcome(domain.OutcomeSuperseded)
		}
	}
}

// takeDispatched removes and returns the opportunity tracked against
// executionID, if any.
func (e *Engine) takeDispatched(executionID uuid.UUID) (domain.Opportunity, bool) {
	e.trackingMu.Lock()
	defer e.trackingMu.Unlock()
	opp, ok := e.dispatched[executionID]
	if ok {
		delete(e.dispatched, executionID)
	}
	return opp, ok
}

func weiToFloat(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	out, _ := f.Float64()
	return out
}

// Shutdown releases resources the Engine opened (currently the Ledger's
// database connection; ChainGateway endpoints hold no closable state).
func (e *Engine) Shutdown() error {
	if e.ledger == nil {
		return nil
	}
	return e.ledger.Close()
}
