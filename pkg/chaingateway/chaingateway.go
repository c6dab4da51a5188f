// Package chaingateway implements spec.md's per-network facade: one
// instance per chain, wrapping a primary RPC endpoint and an ordered
// list of backups behind readPoolState / estimateGas / submit /
// awaitConfirmation, generalizing the teacher's direct Blackhole.ccm
// contract-client map with failover and health tracking.
package chaingateway

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/cqtfi/arbengine/pkg/contractclient"
	"github.com/cqtfi/arbengine/pkg/errs"
	enginetypes "github.com/cqtfi/arbengine/pkg/types"
	"github.com/cqtfi/arbengine/pkg/txlistener"
)

// PoolState is the decoded result of readPoolState: the Algebra/UniswapV3
// style safelyGetStateOfAMM output the teacher's GetAMMState parses, plus
// the block it was observed at.
type PoolState struct {
	SqrtPriceX96 *big.Int
	Tick         int32
	Liquidity    *big.Int
	BlockNumber  uint64
}

// GasEstimate is the expected cost of a not-yet-submitted transaction.
type GasEstimate struct {
	Units        uint64
	PricePerUnit *big.Int
}

// Gateway is the per-network facade spec.md §4.1 names.
type Gateway interface {
	ReadPoolState(ctx context.Context, poolAddress common.Address, poolABI abi.ABI) (*PoolState, error)
	// Call performs an arbitrary read-only contract call, rotating to a
	// backup endpoint on failure exactly as ReadPoolState does. Used for
	// collaborators outside this package's own ABI knowledge (bridge
	// delivery/refund views, liquidity-injection previews).
	Call(ctx context.Context, contractAddress common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error)
	EstimateGas(ctx context.Context, contractAddress common.Address, contractABI abi.ABI, method string, args ...interface{}) (*GasEstimate, error)
	Submit(txType enginetypes.TxType, gasLimit *big.Int, from *common.Address, privateKey *ecdsa.PrivateKey, contractAddress common.Address, contractABI abi.ABI, method string, args ...interface{}) (common.Hash, error)
	AwaitConfirmation(txHash common.Hash, depth uint64) (*enginetypes.TxReceipt, error)
	// SuggestGasPrice reports the network's current suggested gas price,
	// independent of any specific contract call, for the RiskFilter's
	// per-network gas-price predicate.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	Degraded() bool
	NetworkID() string
}

type endpoint struct {
	url    string
	client *ethclient.Client
}

type gateway struct {
	networkID   string
	maxGasPrice *big.Int
	logger      *zap.Logger

	mu        sync.Mutex
	endpoints []*endpoint
	activeIdx int
	listener  txlistener.TxListener
	degraded  atomic.Bool
}

// New dials each of rpcURLs (first is primary, rest are failover
// backups) and returns a Gateway for networkID. Endpoints that fail to
// dial at startup are skipped with a warning; if none dial
// successfully, New returns a KindConfig error and no Gateway.
func New(networkID string, rpcURLs []string, maxGasPrice *big.Int, logger *zap.Logger) (Gateway, error) {
	if len(rpcURLs) == 0 {
		return nil, errs.New(errs.KindConfig, fmt.Sprintf("network %s has no RPC endpoints configured", networkID), nil)
	}

	g := &gateway{networkID: networkID, maxGasPrice: maxGasPrice, logger: logger}
	for _, url := range rpcURLs {
		client, err := ethclient.Dial(url)
		if err != nil {
			logger.Warn("rpc dial failed at startup", zap.String("network", networkID), zap.String("url", url), zap.Error(err))
			continue
		}
		g.endpoints = append(g.endpoints, &endpoint{url: url, client: client})
	}
	if len(g.endpoints) == 0 {
		return nil, errs.New(errs.KindConfig, fmt.Sprintf("network %s: no configured RPC endpoint could be dialed", networkID), nil)
	}

	g.listener = txlistener.NewTxListener(g.endpoints[0].client)
	return g, nil
}

func (g *gateway) Degraded() bool   { return g.degraded.Load() }
func (g *gateway) NetworkID() string { return g.networkID }

func (g *gateway) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	for {
		price, err := g.current().client.SuggestGasPrice(ctx)
		if err != nil {
			if g.rotate() {
				continue
			}
			return nil, errs.New(errs.KindTransientRPC, fmt.Sprintf("suggest gas price for %s: all endpoints exhausted", g.networkID), err)
		}
		g.resetHealthy()
		return price, nil
	}
}

func (g *gateway) current() *endpoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.endpoints[g.activeIdx]
}

// rotate advances to the next backup endpoint. It returns false, and
// marks the network degraded, once every endpoint has been tried.
func (g *gateway) rotate() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.activeIdx+1 >= len(g.endpoints) {
		g.degraded.Store(true)
		return false
	}
	g.activeIdx++
	g.listener = txlistener.NewTxListener(g.endpoints[g.activeIdx].client)
	g.logger.Warn("rotating to backup rpc endpoint",
		zap.String("network", g.networkID), zap.String("url", g.endpoints[g.activeIdx].url))
	return true
}

// resetHealthy clears degraded once an endpoint answers successfully
// again. activeIdx is not reset, so after exhaustion later calls keep
// using the last endpoint.
func (g *gateway) resetHealthy() {
	if g.degraded.CompareAndSwap(true, false) {
		g.logger.Info("network recovered from degraded state", zap.String("network", g.networkID))
	}
}

func (g *gateway) ReadPoolState(ctx context.Context, poolAddress common.Address, poolABI abi.ABI) (*PoolState, error) {
	for {
		ep := g.current()
		cc := contractclient.NewContractClient(ep.client, poolAddress, poolABI)

		result, err := cc.Call(nil, "safelyGetStateOfAMM")
		if err != nil {
			if g.rotate() {
				continue
			}
			return nil, errs.New(errs.KindTransientRPC, fmt.Sprintf("read pool state for %s: all endpoints exhausted", poolAddress.Hex()), err)
		}
		if len(result) < 5 {
			return nil, errs.New(errs.KindPoolNotFound, fmt.Sprintf("pool %s returned an unexpected state shape", poolAddress.Hex()), nil)
		}

		blockNumber, err := ep.client.BlockNumber(ctx)
		if err != nil {
			if g.rotate() {
				continue
			}
			return nil, errs.New(errs.KindTransientRPC, "fetch head block number: all endpoints exhausted", err)
		}

		g.resetHealthy()
		return &PoolState{
			SqrtPriceX96: result[0].(*big.Int),
			Tick:         int32(result[1].(*big.Int).Int64()),
			Liquidity:    result[4].(*big.Int),
			BlockNumber:  blockNumber,
		}, nil
	}
}

func (g *gateway) Call(ctx context.Context, contractAddress common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	for {
		ep := g.current()
		cc := contractclient.NewContractClient(ep.client, contractAddress, contractABI)

		result, err := cc.Call(nil, method, args...)
		if err != nil {
			if g.rotate() {
				continue
			}
			return nil, errs.New(errs.KindTransientRPC, fmt.Sprintf("call %s on %s: all endpoints exhausted", method, contractAddress.Hex()), err)
		}
		g.resetHealthy()
		return result, nil
	}
}

func (g *gateway) EstimateGas(ctx context.Context, contractAddress common.Address, contractABI abi.ABI, method string, args ...interface{}) (*GasEstimate, error) {
	packed, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, errs.New(errs.KindConfig, fmt.Sprintf("pack %s for gas estimate", method), err)
	}

	for {
		ep := g.current()
		msg := ethereum.CallMsg{To: &contractAddress, Data: packed}

		units, err := ep.client.EstimateGas(ctx, msg)
		if err != nil {
			if g.rotate() {
				continue
			}
			return nil, errs.New(errs.KindTransientRPC, fmt.Sprintf("estimate gas for %s: all endpoints exhausted", method), err)
		}

		pricePerUnit, err := ep.client.SuggestGasPrice(ctx)
		if err != nil {
			if g.rotate() {
				continue
			}
			return nil, errs.New(errs.KindTransientRPC, "suggest gas price: all endpoints exhausted", err)
		}

		if g.maxGasPrice != nil && pricePerUnit.Cmp(g.maxGasPrice) > 0 {
			return &GasEstimate{Units: units, PricePerUnit: pricePerUnit}, errs.New(errs.KindSlippageExceeded, fmt.Sprintf("gas price %s exceeds max %s", pricePerUnit, g.maxGasPrice), nil)
		}

		g.resetHealthy()
		return &GasEstimate{Units: units, PricePerUnit: pricePerUnit}, nil
	}
}

func (g *gateway) Submit(
	txType enginetypes.TxType,
	gasLimit *big.Int,
	from *common.Address,
	privateKey *ecdsa.PrivateKey,
	contractAddress common.Address,
	contractABI abi.ABI,
	method string,
	args ...interface{},
) (common.Hash, error) {
	ep := g.current()
	cc := contractclient.NewContractClient(ep.client, contractAddress, contractABI)

	txHash, err := cc.Send(txType, gasLimit, from, privateKey, method, args...)
	if err != nil {
		return common.Hash{}, errs.New(errs.KindPermanentRPC, fmt.Sprintf("submit %s to %s", method, contractAddress.Hex()), err)
	}
	return txHash, nil
}

// confirmationPollInterval is how often AwaitConfirmation re-checks the
// chain head once a receipt has been seen but depth has not yet elapsed.
const confirmationPollInterval = 2 * time.Second

func (g *gateway) AwaitConfirmation(txHash common.Hash, depth uint64) (*enginetypes.TxReceipt, error) {
	receipt, err := g.listener.WaitForTransaction(txHash)
	if err != nil {
		return nil, errs.New(errs.KindTimeout, fmt.Sprintf("await confirmation for %s", txHash.Hex()), err)
	}

	if depth <= 1 {
		return receipt, nil
	}

	required := receipt.BlockNumber + depth - 1
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	for {
		head, err := g.current().client.BlockNumber(ctx)
		if err == nil && head >= required {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, errs.New(errs.KindTimeout, fmt.Sprintf("tx %s never reached confirmation depth %d", txHash.Hex(), depth), nil)
		case <-time.After(confirmationPollInterval):
		}
	}
}
