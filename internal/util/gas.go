package util

import (
	"math/big"

	"github.com/cqtfi/arbengine/pkg/types"
)

// ExtractGasCost computes GasUsed * EffectiveGasPrice (both wei) from a
// confirmed receipt.
func ExtractGasCost(receipt *types.TxReceipt) (*big.Int, error) {
	if receipt == nil {
		return nil, errNilArgument
	}
	return new(big.Int).Mul(receipt.GasUsedBig(), receipt.EffectiveGasPriceBig()), nil
}
