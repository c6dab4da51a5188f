// Package types defines wire-level transaction shapes shared by
// contractclient and txlistener across every chain the engine talks to.
package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxType selects which go-ethereum transaction envelope Send signs.
type TxType int

const (
	// Standard is a legacy gas-price transaction.
	Standard TxType = iota
	// DynamicFee is an EIP-1559 fee-market transaction.
	DynamicFee
)

func (t TxType) String() string {
	switch t {
	case Standard:
		return "standard"
	case DynamicFee:
		return "dynamicFee"
	default:
		return "unknown"
	}
}

// TxReceipt is the string-encoded receipt shape surfaced to callers.
// Big values travel as base-10 strings so callers decide precision
// (SetString(..., 0) for hex-prefixed, 10 for decimal) rather than the
// client silently truncating into a machine int.
type TxReceipt struct {
	TxHash            common.Hash    `json:"txHash"`
	BlockNumber       uint64         `json:"blockNumber"`
	ContractAddress   common.Address `json:"contractAddress"`
	Status            uint64         `json:"status"`
	GasUsed           string         `json:"gasUsed"`
	EffectiveGasPrice string         `json:"effectiveGasPrice"`
	Logs              []Log          `json:"logs"`
}

// Log is a decode-ready copy of a go-ethereum log entry.
type Log struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    []byte         `json:"data"`
}

// DecodedCall is the result of decoding a packed transaction's input
// data against an ABI: method name plus named parameters.
type DecodedCall struct {
	MethodName string                 `json:"methodName"`
	Parameter  map[string]interface{} `json:"parameter"`
}

// DecodedEvent is one emitted event recovered from a receipt's logs.
type DecodedEvent struct {
	EventName string                 `json:"eventName"`
	Parameter map[string]interface{} `json:"parameter"`
}

// GasUsedBig parses GasUsed, returning zero if the receipt has none.
func (r *TxReceipt) GasUsedBig() *big.Int {
	v := new(big.Int)
	if r.GasUsed == "" {
		return v
	}
	v.SetString(r.GasUsed, 0)
	return v
}

// EffectiveGasPriceBig parses EffectiveGasPrice, returning zero if unset.
func (r *TxReceipt) EffectiveGasPriceBig() *big.Int {
	v := new(big.Int)
	if r.EffectiveGasPrice == "" {
		return v
	}
	v.SetString(r.EffectiveGasPrice, 0)
	return v
}
