package arbengine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cqtfi/arbengine/pkg/chaingateway"
	"github.com/cqtfi/arbengine/pkg/domain"
	"github.com/cqtfi/arbengine/pkg/executor"
	enginetypes "github.com/cqtfi/arbengine/pkg/types"
)

// constantPredictor is the default detector.PricePredictor: a fixed
// confidence score standing in for the ML price-prediction collaborator
// spec.md §1/§9 Non-goals keep out of scope.
type constantPredictor struct{}

const constantPredictorScore = 0.75

func (constantPredictor) Score(sourcePoolID, targetPoolID string) float64 {
	return constantPredictorScore
}

// routePlanBuilder is the default executor.PlanBuilder: an intra-network
// opportunity becomes two swap legs (sell CQT into the source pool, buy
// it back from the target pool); a cross-network one inserts a
// bridge-deposit leg between them. It generalizes Blackhole.Swap's
// approve-then-swap router call onto each pool directly, since this
// engine tracks per-pool addresses rather than a single shared router.
type routePlanBuilder struct {
	pools    map[string]domain.Pool
	gateways map[string]chaingateway.Gateway
	abis     ABIs
	signer   executor.Signer
}

const defaultSwapGasLimit = 300_000

func (b *routePlanBuilder) BuildLegs(opp domain.Opportunity) ([]executor.LegPlan, error) {
	source, ok := b.pools[opp.SourcePoolID]
	if !ok {
		return nil, fmt.Errorf("unknown source pool %s", opp.SourcePoolID)
	}
	target, ok := b.pools[opp.TargetPoolID]
	if !ok {
		return nil, fmt.Errorf("unknown target pool %s", opp.TargetPoolID)
	}
	sourceGW, ok := b.gateways[source.NetworkID]
	if !ok {
		return nil, fmt.Errorf("no gateway for network %s", source.NetworkID)
	}
	targetGW, ok := b.gateways[target.NetworkID]
	if !ok {
		return nil, fmt.Errorf("no gateway for network %s", target.NetworkID)
	}

	deadline := big.NewInt(time.Now().Add(5 * time.Minute).Unix())
	minOut := big.NewInt(0) // accepts any output amount; arbitrage.maxSlippage is not applied to these legs

	sellLeg := executor.LegPlan{
		Kind:              "swap",
		NetworkID:         source.NetworkID,
		Gateway:           sourceGW,
		ContractAddress:   source.Address,
		ABI:               b.abis.Router,
		Method:            "swapExactTokensForTokens",
		Args:              []interface{}{opp.TradeSize, minOut, b.signer.Address, deadline},
		GasLimit:          big.NewInt(defaultSwapGasLimit),
		ConfirmationDepth: 1,
	}

	buyLeg := executor.LegPlan{
		Kind:              "swap",
		NetworkID:         target.NetworkID,
		Gateway:           targetGW,
		ContractAddress:   target.Address,
		ABI:               b.abis.Router,
		Method:            "swapExactTokensForTokens",
		Args:              []interface{}{opp.TradeSize, minOut, b.signer.Address, deadline},
		GasLimit:          big.NewInt(defaultSwapGasLimit),
		ConfirmationDepth: 1,
	}

	if source.NetworkID == target.NetworkID {
		return []executor.LegPlan{sellLeg, buyLeg}, nil
	}

	bridgeLeg := executor.LegPlan{
		Kind:      "bridge-deposit",
		NetworkID: source.NetworkID,
	}
	return []executor.LegPlan{sellLeg, bridgeLeg, buyLeg}, nil
}

// contractDeliveryChecker implements bridge.DeliveryChecker against the
// bridge contract's own delivered/refunded view methods, read through
// Gateway.Call exactly as poolmonitor reads pool state through
// ReadPoolState.
type contractDeliveryChecker struct {
	gateways       map[string]chaingateway.Gateway
	abis           ABIs
	bridgeAddrsByN map[string]common.Address
}

func (c *contractDeliveryChecker) CheckDelivery(ctx context.Context, transfer domain.BridgeTransfer) (bool, common.Hash, bool, error) {
	gw, ok := c.gateways[transfer.TargetNetwork]
	if !ok {
		return false, common.Hash{}, false, fmt.Errorf("no gateway for target network %s", transfer.TargetNetwork)
	}
	bridgeAddr, err := c.bridgeAddress(transfer.TargetNetwork)
	if err != nil {
		return false, common.Hash{}, false, err
	}

	result, err := gw.Call(ctx, bridgeAddr, c.abis.Bridge, "isDelivered", transfer.ID)
	if err != nil {
		return false, common.Hash{}, false, err
	}
	if len(result) == 0 {
		return false, common.Hash{}, false, fmt.Errorf("isDelivered returned no values")
	}
	delivered, _ := result[0].(bool)
	if !delivered {
		return false, common.Hash{}, false, nil
	}

	// isDelivered only turns true once the bridge contract's own relayer
	// has observed its required confirmation depth, so a true result is
	// already at-depth.
	return true, transfer.TargetTxHash, true, nil
}

func (c *contractDeliveryChecker) CheckRefund(ctx context.Context, transfer domain.BridgeTransfer) (bool, error) {
	gw, ok := c.gateways[transfer.SourceNetwork]
	if !ok {
		return false, fmt.Errorf("no gateway for source network %s", transfer.SourceNetwork)
	}
	bridgeAddr, err := c.bridgeAddress(transfer.SourceNetwork)
	if err != nil {
		return false, err
	}

	result, err := gw.Call(ctx, bridgeAddr, c.abis.Bridge, "isRefunded", transfer.ID)
	if err != nil {
		return false, err
	}
	if len(result) == 0 {
		return false, nil
	}
	refunded, _ := result[0].(bool)
	return refunded, nil
}

func (c *contractDeliveryChecker) bridgeAddress(networkID string) (common.Address, error) {
	addr, ok := c.bridgeAddrsByN[networkID]
	if !ok {
		return common.Address{}, fmt.Errorf("no crossChain.bridgeContracts entry for network %s", networkID)
	}
	return addr, nil
}

// contractLiquidityInjector implements reserve.LiquidityInjector against
// the router's addLiquidity method, submitted and confirmed through
// Gateway exactly as the Executor submits a swap leg.
type contractLiquidityInjector struct {
	gateways map[string]chaingateway.Gateway
	abis     ABIs
	signer   executor.Signer
}

func (inj *contractLiquidityInjector) Inject(pool domain.Pool, cqtAmount, pairedAmount *big.Int) (bool, error) {
	gw, ok := inj.gateways[pool.NetworkID]
	if !ok {
		return false, fmt.Errorf("no gateway for network %s", pool.NetworkID)
	}

	txHash, err := gw.Submit(
		enginetypes.Standard,
		big.NewInt(defaultSwapGasLimit),
		&inj.signer.Address,
		inj.signer.PrivateKey,
		pool.Address,
		inj.abis.Router,
		"addLiquidity",
		pool.Token0, pool.Token1, cqtAmount, pairedAmount, inj.signer.Address,
	)
	if err != nil {
		return false, err
	}

	receipt, err := gw.AwaitConfirmation(txHash, 1)
	if err != nil {
		return false, err
	}
	return receipt.Status == 1, nil
}
