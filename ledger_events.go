package arbengine

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cqtfi/arbengine/pkg/domain"
	"github.com/cqtfi/arbengine/pkg/executor"
)

// Ledger payload shapes for each domain.LedgerEventKind the engine
// appends. Fields travel as decimal strings for *big.Int amounts, the
// teacher's bigIntToString habit generalized onto a JSON event stream
// instead of one recorder table's columns.
type submittedPayload struct {
	ExecutionID  uuid.UUID `json:"executionId"`
	SourcePoolID string    `json:"sourcePoolId"`
	TargetPoolID string    `json:"targetPoolId"`
	TradeSize    string    `json:"tradeSize"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

type confirmedPayload struct {
	ExecutionID    uuid.UUID `json:"executionId"`
	SourcePoolID   string    `json:"sourcePoolId"`
	TargetPoolID   string    `json:"targetPoolId"`
	RealizedProfit string    `json:"realizedProfit"`
	ConfirmedAt    time.Time `json:"confirmedAt"`
}

type revertedPayload struct {
	ExecutionID uuid.UUID `json:"executionId"`
	Reason      string    `json:"reason"`
}

type bridgeTimeoutPayload struct {
	ExecutionID uuid.UUID `json:"executionId"`
	Reason      string    `json:"reason"`
}

type reserveChangePayload struct {
	PoolID  string `json:"poolId"`
	Balance string `json:"balance"`
}

func (e *Engine) appendLedger(kind domain.LedgerEventKind, payload interface{}) {
	if e.ledger == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("marshal ledger payload", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	if _, err := e.ledger.Append(kind, data); err != nil {
		e.logger.Error("append ledger event", zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (e *Engine) appendSubmitted(executionID uuid.UUID, opp domain.Opportunity) {
	e.appendLedger(domain.EventSubmitted, submittedPayload{
		ExecutionID:  executionID,
		SourcePoolID: opp.SourcePoolID,
		TargetPoolID: opp.TargetPoolID,
		TradeSize:    opp.TradeSize.String(),
		SubmittedAt:  time.Now(),
	})
}

func (e *Engine) appendConfirmed(r executor.Report, opp domain.Opportunity) {
	realized := big.NewInt(0)
	if r.RealizedProfit != nil {
		realized = r.RealizedProfit
	}
	e.appendLedger(domain.EventConfirmed, confirmedPayload{
		ExecutionID:    r.ExecutionID,
		SourcePoolID:   opp.SourcePoolID,
		TargetPoolID:   opp.TargetPoolID,
		RealizedProfit: realized.String(),
		ConfirmedAt:    time.Now(),
	})
}

func (e *Engine) appendReverted(r executor.Report) {
	e.appendLedger(domain.EventReverted, revertedPayload{ExecutionID: r.ExecutionID, Reason: r.Reason})
}

func (e *Engine) appendBridgeTimeout(r executor.Report) {
	e.appendLedger(domain.EventBridgeTimeout, bridgeTimeoutPayload{ExecutionID: r.ExecutionID, Reason: r.Reason})
}

func (e *Engine) appendReserveChange(poolID string, balance *big.Int) {
	if balance == nil {
		return
	}
	e.appendLedger(domain.EventReserveChange, reserveChangePayload{PoolID: poolID, Balance: balance.String()})
}

// replay reconstructs reserve balances and cooldown windows from the
// ledger's event stream before Run starts its worker loops (spec.md
// §4.8's restart behavior). Open executions and open bridge transfers
// at the time of a crash are not re-driven against their in-flight
// on-chain transactions; they are left for the Executor's and
// Coordinator's own from-scratch dispatch/polling on the next
// detected opportunity rather than reconstructed mid-flight.
func (e *Engine) replay() error {
	if e.ledger == nil {
		return nil
	}
	return e.ledger.Replay(func(event domain.LedgerEvent) error {
		switch event.Kind {
		case domain.EventSubmitted:
			var p submittedPayload
			if err := json.Unmarshal(event.Payload, &p); err != nil {
				return nil
			}
			e.riskFilter.Seed(p.SourcePoolID, p.TargetPoolID, event.Timestamp)
		case domain.EventReserveChange:
			var p reserveChangePayload
			if err := json.Unmarshal(event.Payload, &p); err != nil {
				return nil
			}
			if balance, ok := new(big.Int).SetString(p.Balance, 10); ok {
				e.reserve.SetBalance(p.PoolID, balance)
			}
		case domain.EventEmergencyStop:
			e.riskFilter.SetEmergencyStop(true)
			e.executor.SetEmergencyStop(true)
		}
		return nil
	})
}
