// Package bridge implements the BridgeCoordinator of spec.md §4.6: it
// tracks every open cross-chain transfer an Executor hands it, polls the
// target-side bridge contract for delivery, and resolves each transfer
// to Confirmed, Failed, or (after confirmationTimeout) TimedOut — in
// which case the transfer moves to a low-priority reclaim queue instead
// of being forgotten. It implements executor.BridgeInitiator.
package bridge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cqtfi/arbengine/pkg/domain"
)

// DefaultConfirmationTimeout is spec.md §4.6's stated default.
const DefaultConfirmationTimeout = 600 * time.Second

// DefaultPollInterval approximates bridgeBlockTime x2 for chains whose
// config doesn't override it.
const DefaultPollInterval = 4 * time.Second

// DeliveryChecker is the opaque per-bridge adapter spec.md §6 names
// ("Bridge-contract ABI... treated as opaque per-bridge adapters").
// CheckDelivery polls the target chain for the event matching
// transfer's deposit; atDepth reports whether it has also reached the
// target network's confirmation depth. CheckRefund polls the source
// chain for a refund event once delivery looks absent.
type DeliveryChecker interface {
	CheckDelivery(ctx context.Context, transfer domain.BridgeTransfer) (delivered bool, targetTxHash common.Hash, atDepth bool, err error)
	CheckRefund(ctx context.Context, transfer domain.BridgeTransfer) (refunded bool, err error)
}

// ReserveCredit is invoked when a transfer previously moved to the
// reclaim queue is later found delivered, so the asset is credited back
// to the reserve instead of silently vanishing from the books.
type ReserveCredit func(transfer domain.BridgeTransfer)

type openTransfer struct {
	transfer domain.BridgeTransfer
	done     chan struct{}
	result   domain.BridgeTransfer
}

// Coordinator is the BridgeCoordinator. One instance serves every
// network pair; DeliveryChecker dispatches to the right bridge adapter
// internally.
type Coordinator struct {
	checker             DeliveryChecker
	confirmationTimeout time.Duration
	pollInterval        time.Duration
	reserveCredit       ReserveCredit
	logger              *zap.Logger

	mu      sync.Mutex
	open    map[uuid.UUID]*openTransfer
	reclaim []*openTransfer // FIFO by TimedOutAt, per the decided Open Question
}

// New builds a Coordinator. reserveCredit may be nil if nothing needs
// to be notified when a reclaimed transfer is later recovered.
func New(checker DeliveryChecker, confirmationTimeout, pollInterval time.Duration, reserveCredit ReserveCredit, logger *zap.Logger) *Coordinator {
	if confirmationTimeout <= 0 {
		confirmationTimeout = DefaultConfirmationTimeout
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Coordinator{
		checker:             checker,
		confirmationTimeout: confirmationTimeout,
		pollInterval:        pollInterval,
		reserveCredit:       reserveCredit,
		logger:              logger,
		open:                make(map[uuid.UUID]*openTransfer),
	}
}

// Begin registers transfer and starts polling it in its own goroutine,
// matching spec.md §5's "one worker per bridge transfer (short-lived)".
func (c *Coordinator) Begin(transfer domain.BridgeTransfer) (uuid.UUID, error) {
	if transfer.ID == uuid.Nil {
		transfer.ID = uuid.New()
	}
	if transfer.Deadline.IsZero() {
		transfer.Deadline = time.Now().Add(c.confirmationTimeout)
	}
	transfer.Status = domain.BridgePending

	ot := &openTransfer{transfer: transfer, done: make(chan struct{})}
	c.mu.Lock()
	c.open[transfer.ID] = ot
	c.mu.Unlock()

	go c.run(ot)
	return transfer.ID, nil
}

// Await blocks until transferID reaches a terminal status, or ctx is done.
func (c *Coordinator) Await(ctx context.Context, transferID uuid.UUID) (domain.BridgeTransfer, error) {
	c.mu.Lock()
	ot, ok := c.open[transferID]
	c.mu.Unlock()
	if !ok {
		return domain.BridgeTransfer{}, fmt.Errorf("bridge: unknown transfer %s", transferID)
	}

	select {
	case <-ot.done:
		return ot.result, nil
	case <-ctx.Done():
		return domain.BridgeTransfer{}, ctx.Err()
	}
}

func (c *Coordinator) run(ot *openTransfer) {
	ctx, cancel := context.WithDeadline(context.Background(), ot.transfer.Deadline)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.timeout(ot)
			return
		case <-ticker.C:
			delivered, targetTxHash, atDepth, err := c.checker.CheckDelivery(ctx, ot.transfer)
			if err != nil {
				c.logger.Warn("bridge delivery check failed", zap.String("transfer", ot.transfer.ID.String()), zap.Error(err))
				continue
			}
			if delivered && atDepth {
				ot.transfer.Status = domain.BridgeConfirmed
				ot.transfer.TargetTxHash = targetTxHash
				c.finish(ot)
				return
			}
			if !delivered {
				if refunded, err := c.checker.CheckRefund(ctx, ot.transfer); err == nil && refunded {
					ot.transfer.Status = domain.BridgeFailed
					c.finish(ot)
					return
				}
			}
		}
	}
}

func (c *Coordinator) finish(ot *openTransfer) {
	c.mu.Lock()
	delete(c.open, ot.transfer.ID)
	c.mu.Unlock()
	ot.result = ot.transfer
	close(ot.done)
}

// timeout moves a transfer that reached its deadline unresolved into
// the reclaim queue rather than dropping it, so a late delivery is
// still credited to the reserve (spec.md §4.6, §8 invariant 5).
func (c *Coordinator) timeout(ot *openTransfer) {
	ot.transfer.Status = domain.BridgeTimedOut
	ot.transfer.TimedOutAt = time.Now()

	c.mu.Lock()
	delete(c.open, ot.transfer.ID)
	c.reclaim = append(c.reclaim, ot)
	c.mu.Unlock()

	ot.result = ot.transfer
	close(ot.done)
	c.logger.Warn("bridge transfer timed out, moved to reclaim queue", zap.String("transfer", ot.transfer.ID.String()))
}

// ReclaimQueueLen reports how many timed-out transfers are still being
// tracked for late delivery.
func (c *Coordinator) ReclaimQueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reclaim)
}

// PollReclaimQueue re-checks every timed-out transfer still tracked,
// oldest-by-TimedOutAt first, crediting the reserve for any now found
// delivered. The engine's reserve-manager timer worker calls this
// alongside its own injection tick.
func (c *Coordinator) PollReclaimQueue(ctx context.Context) {
	c.mu.Lock()
	pending := make([]*openTransfer, len(c.reclaim))
	copy(pending, c.reclaim)
	c.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].transfer.TimedOutAt.Before(pending[j].transfer.TimedOutAt)
	})

	for _, ot := range pending {
		delivered, targetTxHash, atDepth, err := c.checker.CheckDelivery(ctx, ot.transfer)
		if err != nil || !delivered || !atDepth {
			continue
		}

		ot.transfer.Status = domain.BridgeConfirmed
		ot.transfer.TargetTxHash = targetTxHash
		c.removeFromReclaim(ot.transfer.ID)

		if c.reserveCredit != nil {
			c.reserveCredit(ot.transfer)
		}
		c.logger.Info("stranded bridge transfer recovered from reclaim queue", zap.String("transfer", ot.transfer.ID.String()))
	}
}

func (c *Coordinator) removeFromReclaim(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ot := range c.reclaim {
		if ot.transfer.ID == id {
			c.reclaim = append(c.reclaim[:i], c.reclaim[i+1:]...)
			return
		}
	}
}
