package bridge

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/cqtfi/arbengine/pkg/domain"
)

type fakeChecker struct {
	delivered   bool
	atDepth     bool
	targetHash  common.Hash
	checkErr    error
	refunded    bool
	refundErr   error
	checkCalls  int32
}

func (f *fakeChecker) CheckDelivery(ctx context.Context, transfer domain.BridgeTransfer) (bool, common.Hash, bool, error) {
	atomic.AddInt32(&f.checkCalls, 1)
	return f.delivered, f.targetHash, f.atDepth, f.checkErr
}

func (f *fakeChecker) CheckRefund(ctx context.Context, transfer domain.BridgeTransfer) (bool, error) {
	return f.refunded, f.refundErr
}

func TestBeginAndAwaitConfirms(t *testing.T) {
	checker := &fakeChecker{delivered: true, atDepth: true, targetHash: common.HexToHash("0x2")}
	c := New(checker, 5*time.Second, 10*time.Millisecond, nil, zap.NewNop())

	id, err := c.Begin(domain.BridgeTransfer{SourceNetwork: "polygon", TargetNetwork: "base"})
	assert.NoError(t, err)

	result, err := c.Await(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, domain.BridgeConfirmed, result.Status)
	assert.Equal(t, common.HexToHash("0x2"), result.TargetTxHash)
}

func TestBeginTimesOutIntoReclaimQueue(t *testing.T) {
	checker := &fakeChecker{delivered: false}
	c := New(checker, 30*time.Millisecond, 10*time.Millisecond, nil, zap.NewNop())

	id, err := c.Begin(domain.BridgeTransfer{SourceNetwork: "polygon", TargetNetwork: "base"})
	assert.NoError(t, err)

	result, err := c.Await(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, domain.BridgeTimedOut, result.Status)
	assert.False(t, result.TimedOutAt.IsZero())
	assert.Equal(t, 1, c.ReclaimQueueLen())
}

func TestRefundResolvesAsFailed(t *testing.T) {
	checker := &fakeChecker{delivered: false, refunded: true}
	c := New(checker, 5*time.Second, 10*time.Millisecond, nil, zap.NewNop())

	id, _ := c.Begin(domain.BridgeTransfer{SourceNetwork: "polygon", TargetNetwork: "base"})

	result, err := c.Await(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, domain.BridgeFailed, result.Status)
}

func TestPollReclaimQueueCreditsLateDelivery(t *testing.T) {
	checker := &fakeChecker{delivered: false}
	c := New(checker, 20*time.Millisecond, 10*time.Millisecond, nil, zap.NewNop())

	var credited domain.BridgeTransfer
	c.reserveCredit = func(transfer domain.BridgeTransfer) { credited = transfer }

	id, _ := c.Begin(domain.BridgeTransfer{SourceNetwork: "polygon", TargetNetwork: "base"})
	_, err := c.Await(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, 1, c.ReclaimQueueLen())

	checker.delivered = true
	checker.atDepth = true
	checker.targetHash = common.HexToHash("0x3")

	c.PollReclaimQueue(context.Background())

	assert.Equal(t, 0, c.ReclaimQueueLen())
	assert.Equal(t, domain.BridgeConfirmed, credited.Status)
	assert.Equal(t, common.HexToHash("0x3"), credited.TargetTxHash)
}

func TestAwaitUnknownTransferErrors(t *testing.T) {
	c := New(&fakeChecker{}, time.Second, time.Millisecond, nil, zap.NewNop())
	_, err := c.Await(context.Background(), uuid.UUID{})
	assert.Error(t, err)
}
