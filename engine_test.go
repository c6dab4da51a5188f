package arbengine

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/cqtfi/arbengine/pkg/chaingateway"
	"github.com/cqtfi/arbengine/pkg/domain"
	"github.com/cqtfi/arbengine/pkg/executor"
	"github.com/cqtfi/arbengine/pkg/metrics"
	"github.com/cqtfi/arbengine/pkg/reserve"
	enginetypes "github.com/cqtfi/arbengine/pkg/types"
)

// fakeGateway is a minimal chaingateway.Gateway stub used across this
// file's collaborator tests, mirroring pkg/executor's own fakeGateway.
type fakeGateway struct {
	networkID string

	callResult []interface{}
	callErr    error

	submitHash common.Hash
	submitErr  error

	receipt  *enginetypes.TxReceipt
	awaitErr error
}

func (g *fakeGateway) ReadPoolState(ctx context.Context, poolAddress common.Address, poolABI abi.ABI) (*chaingateway.PoolState, error) {
	return nil, nil
}
func (g *fakeGateway) Call(ctx context.Context, contractAddress common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	return g.callResult, g.callErr
}
func (g *fakeGateway) EstimateGas(ctx context.Context, contractAddress common.Address, contractABI abi.ABI, method string, args ...interface{}) (*chaingateway.GasEstimate, error) {
	return nil, nil
}
func (g *fakeGateway) Submit(txType enginetypes.TxType, gasLimit *big.Int, from *common.Address, privateKey *ecdsa.PrivateKey, contractAddress common.Address, contractABI abi.ABI, method string, args ...interface{}) (common.Hash, error) {
	return g.submitHash, g.submitErr
}
func (g *fakeGateway) AwaitConfirmation(txHash common.Hash, depth uint64) (*enginetypes.TxReceipt, error) {
	return g.receipt, g.awaitErr
}
func (g *fakeGateway) Degraded() bool    { return false }
func (g *fakeGateway) NetworkID() string { return g.networkID }
func (g *fakeGateway) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(0), nil
}

func TestConstantPredictorScoreIsFixed(t *testing.T) {
	p := &constantPredictor{}
	assert.Equal(t, constantPredictorScore, p.Score("a", "b"))
}

func testPool(id, networkID string, addr common.Address) domain.Pool {
	return domain.Pool{ID: id, NetworkID: networkID, Address: addr, Enabled: true}
}

func TestRoutePlanBuilderSameNetworkIsTwoLegs(t *testing.T) {
	gw := &fakeGateway{networkID: "polygon"}
	pools := map[string]domain.Pool{
		"src": testPool("src", "polygon", common.HexToAddress("0x1")),
		"dst": testPool("dst", "polygon", common.HexToAddress("0x2")),
	}
	b := &routePlanBuilder{
		pools:    pools,
		gateways: map[string]chaingateway.Gateway{"polygon": gw},
		signer:   executor.Signer{Address: common.HexToAddress("0xaa")},
	}

	legs, err := b.BuildLegs(domain.Opportunity{SourcePoolID: "src", TargetPoolID: "dst", TradeSize: big.NewInt(100)})
	assert.NoError(t, err)
	assert.Len(t, legs, 2)
	assert.Equal(t, "swap", legs[0].Kind)
	assert.Equal(t, "swap", legs[1].Kind)
}

func TestRoutePlanBuilderCrossNetworkInsertsBridgeLeg(t *testing.T) {
	gwPolygon := &fakeGateway{networkID: "polygon"}
	gwBase := &fakeGateway{networkID: "base"}
	pools := map[string]domain.Pool{
		"src": testPool("src", "polygon", common.HexToAddress("0x1")),
		"dst": testPool("dst", "base", common.HexToAddress("0x2")),
	}
	b := &routePlanBuilder{
		pools:    pools,
		gateways: map[string]chaingateway.Gateway{"polygon": gwPolygon, "base": gwBase},
		signer:   executor.Signer{Address: common.HexToAddress("0xaa")},
	}

	legs, err := b.BuildLegs(domain.Opportunity{SourcePoolID: "src", TargetPoolID: "dst", TradeSize: big.NewInt(100)})
	assert.NoError(t, err)
	assert.Len(t, legs, 3)
	assert.Equal(t, "swap", legs[0].Kind)
	assert.Equal(t, "bridge-deposit", legs[1].Kind)
	assert.Equal(t, "swap", legs[2].Kind)
}

func TestRoutePlanBuilderRejectsUnknownPool(t *testing.T) {
	b := &routePlanBuilder{pools: map[string]domain.Pool{}, gateways: map[string]chaingateway.Gateway{}}
	_, err := b.BuildLegs(domain.Opportunity{SourcePoolID: "ghost", TargetPoolID: "dst"})
	assert.Error(t, err)
}

func TestContractDeliveryCheckerReportsDeliveredAtDepth(t *testing.T) {
	gw := &fakeGateway{callResult: []interface{}{true}}
	c := &contractDeliveryChecker{
		gateways:       map[string]chaingateway.Gateway{"base": gw},
		bridgeAddrsByN: map[string]common.Address{"base": common.HexToAddress("0xbb")},
	}

	delivered, _, atDepth, err := c.CheckDelivery(context.Background(), domain.BridgeTransfer{TargetNetwork: "base"})
	assert.NoError(t, err)
	assert.True(t, delivered)
	assert.True(t, atDepth)
}

func TestContractDeliveryCheckerReportsNotYetDelivered(t *testing.T) {
	gw := &fakeGateway{callResult: []interface{}{false}}
	c := &contractDeliveryChecker{
		gateways:       map[string]chaingateway.Gateway{"base": gw},
		bridgeAddrsByN: map[string]common.Address{"base": common.HexToAddress("0xbb")},
	}

	delivered, _, atDepth, err := c.CheckDelivery(context.Background(), domain.BridgeTransfer{TargetNetwork: "base"})
	assert.NoError(t, err)
	assert.False(t, delivered)
	assert.False(t, atDepth)
}

func TestContractDeliveryCheckerMissingBridgeAddressErrors(t *testing.T) {
	gw := &fakeGateway{}
	c := &contractDeliveryChecker{
		gateways:       map[string]chaingateway.Gateway{"base": gw},
		bridgeAddrsByN: map[string]common.Address{},
	}
	_, _, _, err := c.CheckDelivery(context.Background(), domain.BridgeTransfer{TargetNetwork: "base"})
	assert.Error(t, err)
}

func TestContractDeliveryCheckerRefund(t *testing.T) {
	gw := &fakeGateway{callResult: []interface{}{true}}
	c := &contractDeliveryChecker{
		gateways:       map[string]chaingateway.Gateway{"polygon": gw},
		bridgeAddrsByN: map[string]common.Address{"polygon": common.HexToAddress("0xcc")},
	}
	refunded, err := c.CheckRefund(context.Background(), domain.BridgeTransfer{SourceNetwork: "polygon"})
	assert.NoError(t, err)
	assert.True(t, refunded)
}

func TestContractLiquidityInjectorConfirmedOnStatusOne(t *testing.T) {
	gw := &fakeGateway{submitHash: common.HexToHash("0x1"), receipt: &enginetypes.TxReceipt{Status: 1}}
	inj := &contractLiquidityInjector{
		gateways: map[string]chaingateway.Gateway{"polygon": gw},
		signer:   executor.Signer{Address: common.HexToAddress("0xaa")},
	}
	pool := testPool("src", "polygon", common.HexToAddress("0x1"))
	confirmed, err := inj.Inject(pool, big.NewInt(100), big.NewInt(100))
	assert.NoError(t, err)
	assert.True(t, confirmed)
}

func TestContractLiquidityInjectorNotConfirmedOnStatusZero(t *testing.T) {
	gw := &fakeGateway{submitHash: common.HexToHash("0x1"), receipt: &enginetypes.TxReceipt{Status: 0}}
	inj := &contractLiquidityInjector{
		gateways: map[string]chaingateway.Gateway{"polygon": gw},
		signer:   executor.Signer{Address: common.HexToAddress("0xaa")},
	}
	pool := testPool("src", "polygon", common.HexToAddress("0x1"))
	confirmed, err := inj.Inject(pool, big.NewInt(100), big.NewInt(100))
	assert.NoError(t, err)
	assert.False(t, confirmed)
}

func TestContractLiquidityInjectorPropagatesSubmitError(t *testing.T) {
	gw := &fakeGateway{submitErr: assertError("submit failed")}
	inj := &contractLiquidityInjector{gateways: map[string]chaingateway.Gateway{"polygon": gw}}
	pool := testPool("src", "polygon", common.HexToAddress("0x1"))
	_, err := inj.Inject(pool, big.NewInt(100), big.NewInt(100))
	assert.Error(t, err)
}

type assertError string

func (e assertError) Error() string { return string(e) }

func testEngine() *Engine {
	pools := []domain.Pool{
		{ID: "src", NetworkID: "polygon", Enabled: true},
		{ID: "dst", NetworkID: "base", Enabled: true},
	}
	reserveMgr := reserve.New(reserve.Config{}, pools, nil, nil, nil, nil, &noopInjector{}, zap.NewNop())
	return &Engine{
		logger:       zap.NewNop(),
		reserve:      reserveMgr,
		metrics:      metrics.New(prometheus.NewRegistry()),
		pendingByOpp: make(map[uuid.UUID]domain.Opportunity),
		dispatched:   make(map[uuid.UUID]domain.Opportunity),
	}
}

type noopInjector struct{}

func (n *noopInjector) Inject(pool domain.Pool, cqtAmount, pairedAmount *big.Int) (bool, error) {
	return true, nil
}

func TestHandleReportReservedMovesPendingToDispatched(t *testing.T) {
	e := testEngine()
	oppID := uuid.New()
	execID := uuid.New()
	opp := domain.Opportunity{ID: oppID, SourcePoolID: "src", TargetPoolID: "dst", NetProfit: big.NewInt(100)}
	e.pendingByOpp[oppID] = opp

	e.handleReport(executor.Report{ExecutionID: execID, OpportunityID: oppID, Phase: executor.PhaseReserved})

	_, stillPending := e.pendingByOpp[oppID]
	assert.False(t, stillPending)
	tracked, ok := e.dispatched[execID]
	assert.True(t, ok)
	assert.Equal(t, "src", tracked.SourcePoolID)
}

func TestHandleReportCompletedAllocatesReserveAndClearsTracking(t *testing.T) {
	e := testEngine()
	execID := uuid.New()
	opp := domain.Opportunity{SourcePoolID: "src", TargetPoolID: "dst", NetProfit: big.NewInt(1000)}
	e.dispatched[execID] = opp

	e.handleReport(executor.Report{ExecutionID: execID, Phase: executor.PhaseCompleted, RealizedProfit: big.NewInt(1000)})

	_, stillTracked := e.dispatched[execID]
	assert.False(t, stillTracked)
	// AllocateFromExecution splits 20% of profit evenly between the two pools.
	assert.Equal(t, "100", e.reserve.Balance("src").String())
	assert.Equal(t, "100", e.reserve.Balance("dst").String())
}

func TestHandleReportFailedClearsTrackingWithoutAllocating(t *testing.T) {
	e := testEngine()
	execID := uuid.New()
	opp := domain.Opportunity{SourcePoolID: "src", TargetPoolID: "dst", NetProfit: big.NewInt(1000)}
	e.dispatched[execID] = opp

	e.handleReport(executor.Report{ExecutionID: execID, Phase: executor.PhaseFailed, Reason: "leg reverted on-chain"})

	_, stillTracked := e.dispatched[execID]
	assert.False(t, stillTracked)
	assert.Equal(t, "0", e.reserve.Balance("src").String())
}

func TestHandleReportSupersededClearsTracking(t *testing.T) {
	e := testEngine()
	execID := uuid.New()
	e.dispatched[execID] = domain.Opportunity{SourcePoolID: "src", TargetPoolID: "dst"}

	e.handleReport(executor.Report{ExecutionID: execID, Phase: executor.PhaseSuperseded})

	_, stillTracked := e.dispatched[execID]
	assert.False(t, stillTracked)
}

func TestTakeDispatchedRemovesEntry(t *testing.T) {
	e := testEngine()
	execID := uuid.New()
	e.dispatched[execID] = domain.Opportunity{SourcePoolID: "src"}

	opp, ok := e.takeDispatched(execID)
	assert.True(t, ok)
	assert.Equal(t, "src", opp.SourcePoolID)

	_, ok = e.takeDispatched(execID)
	assert.False(t, ok)
}

func TestWeiToFloatHandlesNil(t *testing.T) {
	assert.Equal(t, 0.0, weiToFloat(nil))
}

func TestWeiToFloatConvertsPositiveAmount(t *testing.T) {
	assert.Equal(t, 1000.0, weiToFloat(big.NewInt(1000)))
}

func TestUsdToBaseUnitsScalesTo18Decimals(t *testing.T) {
	out := usdToBaseUnits(1)
	assert.Equal(t, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil).String(), out.String())
}

func TestShutdownWithNilLedgerIsNoop(t *testing.T) {
	e := &Engine{}
	assert.NoError(t, e.Shutdown())
}
