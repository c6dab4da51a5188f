// Package domain defines the engine's entities: the networks and pools
// it watches, and the records (price snapshots, opportunities,
// executions, bridge transfers, reserve entries, ledger events) that
// flow between components. This generalizes the teacher's root-level
// types.go from one DEX's staking params to the full arbitrage
// lifecycle.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Network is one chain the engine trades on.
type Network struct {
	ID                 string
	ChainID             uint64
	ConfirmationDepth   uint64
	MaxGasPrice         *big.Int
	NativeSymbol        string
	RPCEndpoints        []string // first is primary, rest are failover backups
}

// Pool is one tracked liquidity pool on a Network.
type Pool struct {
	ID                 string
	NetworkID          string
	Address            common.Address
	Token0             common.Address
	Token1             common.Address
	FeeTier            uint32
	ExpectedPriceRange [2]decimal.Decimal // [min, max] expected token1-per-token0; no component checks quotes against it
	Enabled            bool
}

// PriceSnapshot is one PoolMonitor observation of a Pool's state.
type PriceSnapshot struct {
	PoolID       string
	SqrtPriceX96 *big.Int
	Tick         int32
	Liquidity    *big.Int
	BlockNumber  uint64
	ObservedAt   time.Time
}

// OpportunityStatus is the lifecycle stage of a detected arbitrage.
type OpportunityStatus string

const (
	OpportunityDetected OpportunityStatus = "detected"
	OpportunityAdmitted OpportunityStatus = "admitted"
	OpportunityRejected OpportunityStatus = "rejected"
	OpportunityExecuted OpportunityStatus = "executed"
)

// Opportunity is a detected price divergence between two pools, sized
// and costed into a candidate trade.
type Opportunity struct {
	ID             uuid.UUID
	SourcePoolID   string
	TargetPoolID   string
	DirectionToken common.Address
	GrossEdgeBps   decimal.Decimal
	TradeSize      *big.Int
	EstGasCost     *big.Int
	EstBridgeCost  *big.Int
	NetProfit      *big.Int
	Confidence     decimal.Decimal
	DetectedAt     time.Time
	Status         OpportunityStatus
}

// ExecutionOutcome is the terminal result of a dispatched Execution.
type ExecutionOutcome string

const (
	OutcomeNone          ExecutionOutcome = ""
	OutcomeSuccess       ExecutionOutcome = "success"
	OutcomeReverted      ExecutionOutcome = "reverted"
	OutcomeBridgeTimeout ExecutionOutcome = "bridge-timeout"
	OutcomeSuperseded    ExecutionOutcome = "superseded"
)

// Leg is one on-chain transaction within an Execution (a swap on one
// pool, or a bridge deposit/withdrawal).
type Leg struct {
	NetworkID string
	TxHash    common.Hash
	Kind      string // "swap", "bridge-deposit", "bridge-withdraw"
	// AmountOut is the token amount the leg's receipt actually paid out
	// to the signer, decoded from its logs; nil for a leg that isn't a
	// confirmed swap (bridge legs, or a swap whose receipt carried no
	// matching transfer).
	AmountOut *big.Int
}

// Execution is one dispatched arbitrage attempt.
type Execution struct {
	ID             uuid.UUID
	OpportunityID  uuid.UUID
	Legs           []Leg
	SubmittedAt    time.Time
	ConfirmedAt    time.Time
	RealizedProfit *big.Int
	Outcome        ExecutionOutcome
}

// BridgeTransferStatus tracks a cross-chain asset move. It only ever
// advances pending -> confirmed or pending -> failed/timed-out.
type BridgeTransferStatus string

const (
	BridgePending   BridgeTransferStatus = "pending"
	BridgeConfirmed BridgeTransferStatus = "confirmed"
	BridgeFailed    BridgeTransferStatus = "failed"
	BridgeTimedOut  BridgeTransferStatus = "timed-out"
)

// BridgeTransfer is one cross-chain leg of an Execution.
type BridgeTransfer struct {
	ID            uuid.UUID
	ExecutionID   uuid.UUID
	SourceNetwork string
	TargetNetwork string
	Token         common.Address
	Amount        *big.Int
	SourceTxHash  common.Hash
	TargetTxHash  common.Hash
	Deadline      time.Time
	Status        BridgeTransferStatus
	TimedOutAt    time.Time // zero unless Status == BridgeTimedOut; orders the reclaim queue
}

// ReserveEntry is the built-in-liquidity-provider balance held against one Pool.
type ReserveEntry struct {
	PoolID         string
	Balance        *big.Int
	LastInjectionAt time.Time
}

// LedgerEventKind names the append-only event stream's record types.
type LedgerEventKind string

const (
	EventSubmitted      LedgerEventKind = "submitted"
	EventConfirmed      LedgerEventKind = "confirmed"
	EventReverted       LedgerEventKind = "reverted"
	EventBridgeTimeout  LedgerEventKind = "bridge-timeout"
	EventReserveChange  LedgerEventKind = "reserve-change"
	EventEmergencyStop  LedgerEventKind = "emergency-stop"
)

// LedgerEvent is one immutable fact recorded by the Ledger. Sequence is
// assigned by the store and is monotonic within it.
type LedgerEvent struct {
	Sequence  uint64
	Timestamp time.Time
	Kind      LedgerEventKind
	Payload   []byte // JSON-encoded kind-specific detail
}
