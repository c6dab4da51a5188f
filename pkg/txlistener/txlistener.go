// Package txlistener polls an RPC node until a broadcast transaction is
// mined, translating go-ethereum's receipt shape into the engine's
// string-encoded TxReceipt.
package txlistener

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	enginetypes "github.com/cqtfi/arbengine/pkg/types"
)

// ErrTimedOut is returned when a transaction is not mined within the
// listener's configured timeout.
var ErrTimedOut = errors.New("txlistener: transaction not mined before timeout")

// TxListener waits for a submitted transaction's receipt.
type TxListener interface {
	WaitForTransaction(txHash common.Hash) (*enginetypes.TxReceipt, error)
}

type ethTxListener struct {
	client       *ethclient.Client
	pollInterval time.Duration
	timeout      time.Duration
}

// Option configures an ethTxListener at construction time.
type Option func(*ethTxListener)

// WithPollInterval sets how often the listener re-checks for a receipt.
func WithPollInterval(d time.Duration) Option {
	return func(l *ethTxListener) { l.pollInterval = d }
}

// WithTimeout bounds how long WaitForTransaction will wait before giving up.
func WithTimeout(d time.Duration) Option {
	return func(l *ethTxListener) { l.timeout = d }
}

// NewTxListener builds a TxListener polling client. Defaults to a 2s poll
// interval and a 2 minute timeout; override either with an Option.
func NewTxListener(client *ethclient.Client, opts ...Option) TxListener {
	l := &ethTxListener{
		client:       client,
		pollInterval: 2 * time.Second,
		timeout:      2 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *ethTxListener) WaitForTransaction(txHash common.Hash) (*enginetypes.TxReceipt, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			return toEngineReceipt(receipt), nil
		case !errors.Is(err, ethereum.NotFound):
			return nil, fmt.Errorf("txlistener: fetch receipt %s: %w", txHash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrTimedOut, txHash.Hex())
		case <-ticker.C:
		}
	}
}

func toEngineReceipt(r *gethtypes.Receipt) *enginetypes.TxReceipt {
	logs := make([]enginetypes.Log, 0, len(r.Logs))
	for _, l := range r.Logs {
		logs = append(logs, enginetypes.Log{Address: l.Address, Topics: l.Topics, Data: l.Data})
	}

	gasPrice := "0"
	if r.EffectiveGasPrice != nil {
		gasPrice = r.EffectiveGasPrice.String()
	}

	var blockNumber uint64
	if r.BlockNumber != nil {
		blockNumber = r.BlockNumber.Uint64()
	}

	return &enginetypes.TxReceipt{
		TxHash:            r.TxHash,
		BlockNumber:       blockNumber,
		ContractAddress:   r.ContractAddress,
		Status:            r.Status,
		GasUsed:           strconv.FormatUint(r.GasUsed, 10),
		EffectiveGasPrice: gasPrice,
		Logs:              logs,
	}
}
