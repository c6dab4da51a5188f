package oracle

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cqtfi/arbengine/pkg/domain"
)

func TestLatestUnknownPool(t *testing.T) {
	o := New(0, 0)
	_, ok := o.Latest("missing")
	assert.False(t, ok)
}

func TestLatestFreshSnapshot(t *testing.T) {
	o := New(90*time.Second, 4)
	o.Publish(domain.PriceSnapshot{
		PoolID:       "p1",
		SqrtPriceX96: new(big.Int).Lsh(big.NewInt(1), 96), // 1.0 in Q64.96
		ObservedAt:   time.Now(),
	})

	q, ok := o.Latest("p1")
	assert.True(t, ok)
	assert.False(t, q.Stale)
}

func TestLatestStaleSnapshot(t *testing.T) {
	o := New(10*time.Millisecond, 4)
	o.Publish(domain.PriceSnapshot{
		PoolID:       "p1",
		SqrtPriceX96: big.NewInt(1),
		ObservedAt:   time.Now().Add(-time.Second),
	})

	q, ok := o.Latest("p1")
	assert.True(t, ok)
	assert.True(t, q.Stale)
}

func TestHistoryRingWraps(t *testing.T) {
	o := New(0, 3)
	for i := 0; i < 5; i++ {
		o.Publish(domain.PriceSnapshot{PoolID: "p1", BlockNumber: uint64(i), ObservedAt: time.Now()})
	}

	hist := o.History("p1", 0)
	assert.Len(t, hist, 3)
	// newest first: blocks 4, 3, 2 survive a depth-3 ring after 5 pushes
	assert.Equal(t, uint64(4), hist[0].BlockNumber)
	assert.Equal(t, uint64(3), hist[1].BlockNumber)
	assert.Equal(t, uint64(2), hist[2].BlockNumber)
}

func TestHistoryRespectsLimit(t *testing.T) {
	o := New(0, 5)
	for i := 0; i < 5; i++ {
		o.Publish(domain.PriceSnapshot{PoolID: "p1", BlockNumber: uint64(i), ObservedAt: time.Now()})
	}

	hist := o.History("p1", 2)
	assert.Len(t, hist, 2)
	assert.Equal(t, uint64(4), hist[0].BlockNumber)
	assert.Equal(t, uint64(3), hist[1].BlockNumber)
}
