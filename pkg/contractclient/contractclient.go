// Package contractclient binds a single on-chain contract address and ABI
// to an RPC connection, giving ChainGateway uniform read calls, signed
// sends, and calldata/receipt decoding regardless of which network the
// contract lives on.
package contractclient

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	enginetypes "github.com/cqtfi/arbengine/pkg/types"
)

// ContractClient is the uniform surface every pool, token, router, and
// bridge contract is driven through. Implementations own one address and
// one ABI; the caller supplies method names and arguments.
type ContractClient interface {
	// Call performs an eth_call and unpacks the result against the ABI.
	Call(from *common.Address, method string, args ...interface{}) ([]interface{}, error)
	// Send packs, signs, and broadcasts a state-changing call. A nil
	// gasLimit estimates the limit automatically.
	Send(txType enginetypes.TxType, gasLimit *big.Int, from *common.Address, privateKey *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error)
	ContractAddress() common.Address
	Abi() abi.ABI
	// TransactionData fetches the calldata of an already-broadcast transaction.
	TransactionData(txHash common.Hash) ([]byte, error)
	DecodeTransaction(data []byte) (*enginetypes.DecodedCall, error)
	// ParseReceipt decodes every log in receipt that matches this
	// contract's ABI, returning them JSON-encoded.
	ParseReceipt(receipt *enginetypes.TxReceipt) (string, error)
}

type ethContractClient struct {
	client  *ethclient.Client
	address common.Address
	abi     abi.ABI
}

// NewContractClient builds a ContractClient bound to address and abi,
// issuing calls and transactions over client.
func NewContractClient(client *ethclient.Client, address common.Address, contractABI abi.ABI) ContractClient {
	return &ethContractClient{client: client, address: address, abi: contractABI}
}

func (c *ethContractClient) ContractAddress() common.Address { return c.address }

func (c *ethContractClient) Abi() abi.ABI { return c.abi }

func (c *ethContractClient) Call(from *common.Address, method string, args ...interface{}) ([]interface{}, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("contractclient: pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &c.address, Data: input}
	if from != nil {
		msg.From = *from
	}

	output, err := c.client.CallContract(context.Background(), msg, nil)
	if err != nil {
		return nil, fmt.Errorf("contractclient: call %s on %s: %w", method, c.address.Hex(), err)
	}

	result, err := c.abi.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("contractclient: unpack %s: %w", method, err)
	}
	return result, nil
}

func (c *ethContractClient) Send(
	txType enginetypes.TxType,
	gasLimit *big.Int,
	from *common.Address,
	privateKey *ecdsa.PrivateKey,
	method string,
	args ...interface{},
) (common.Hash, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: pack %s: %w", method, err)
	}

	ctx := context.Background()

	chainID, err := c.client.NetworkID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: network id: %w", err)
	}

	sender := crypto.PubkeyToAddress(privateKey.PublicKey)
	if from != nil {
		sender = *from
	}

	nonce, err := c.client.PendingNonceAt(ctx, sender)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: pending nonce for %s: %w", sender.Hex(), err)
	}

	limit := gasLimit
	if limit == nil {
		estimated, err := c.client.EstimateGas(ctx, ethereum.CallMsg{From: sender, To: &c.address, Data: input})
		if err != nil {
			return common.Hash{}, fmt.Errorf("contractclient: estimate gas for %s: %w", method, err)
		}
		limit = new(big.Int).SetUint64(estimated)
	}

	feeCap, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: suggest gas price: %w", err)
	}

	var tx *gethtypes.Transaction
	switch txType {
	case enginetypes.DynamicFee:
		tipCap, err := c.client.SuggestGasTipCap(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("contractclient: suggest gas tip cap: %w", err)
		}
		tx = gethtypes.NewTx(&gethtypes.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tipCap,
			GasFeeCap: feeCap,
			Gas:       limit.Uint64(),
			To:        &c.address,
			Data:      input,
		})
	default:
		tx = gethtypes.NewTx(&gethtypes.LegacyTx{
			Nonce:    nonce,
			GasPrice: feeCap,
			Gas:      limit.Uint64(),
			To:       &c.address,
			Data:     input,
		})
	}

	signer := gethtypes.LatestSignerForChainID(chainID)
	signedTx, err := gethtypes.SignTx(tx, signer, privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: sign tx: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: broadcast tx: %w", err)
	}

	return signedTx.Hash(), nil
}

func (c *ethContractClient) TransactionData(txHash common.Hash) ([]byte, error) {
	tx, _, err := c.client.TransactionByHash(context.Background(), txHash)
	if err != nil {
		return nil, fmt.Errorf("contractclient: fetch tx %s: %w", txHash.Hex(), err)
	}
	return tx.Data(), nil
}

func (c *ethContractClient) DecodeTransaction(data []byte) (*enginetypes.DecodedCall, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("contractclient: calldata shorter than a method selector")
	}

	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("contractclient: resolve method selector %x: %w", data[:4], err)
	}

	args := make(map[string]interface{})
	if err := method.Inputs.UnpackIntoMap(args, data[4:]); err != nil {
		return nil, fmt.Errorf("contractclient: unpack args for %s: %w", method.Name, err)
	}

	return &enginetypes.DecodedCall{MethodName: method.Name, Parameter: args}, nil
}

func (c *ethContractClient) ParseReceipt(receipt *enginetypes.TxReceipt) (string, error) {
	if receipt == nil {
		return "", fmt.Errorf("contractclient: nil receipt")
	}

	events := make([]enginetypes.DecodedEvent, 0, len(receipt.Logs))
	for _, l := range receipt.Logs {
		if len(l.Topics) == 0 {
			continue
		}

		event, err := c.abi.EventByID(l.Topics[0])
		if err != nil {
			continue // log belongs to a different contract's ABI
		}

		args := make(map[string]interface{})
		if len(l.Data) > 0 {
			if err := event.Inputs.UnpackIntoMap(args, l.Data); err != nil {
				return "", fmt.Errorf("contractclient: unpack event %s: %w", event.Name, err)
			}
		}

		topicIdx := 1
		for _, input := range event.Inputs {
			if input.Indexed && topicIdx < len(l.Topics) {
				args[input.Name] = l.Topics[topicIdx].Hex()
				topicIdx++
			}
		}

		events = append(events, enginetypes.DecodedEvent{EventName: event.Name, Parameter: args})
	}

	encoded, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("contractclient: marshal decoded events: %w", err)
	}
	return string(encoded), nil
}
