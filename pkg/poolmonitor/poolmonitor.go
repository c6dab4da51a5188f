// Package poolmonitor schedules one concurrent polling task per enabled
// pool, reading its on-chain state through a ChainGateway and publishing
// PriceSnapshots to the oracle. Each pool polls on its own interval,
// independent of every other pool. A network listed in NewMonitor's
// maxCallsPerSecond map is bounded by a rate limiter; a network not
// listed there is not rate-limited.
package poolmonitor

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cqtfi/arbengine/pkg/chaingateway"
	"github.com/cqtfi/arbengine/pkg/domain"
)

// DefaultPollInterval is used for a pool whose config omits one.
const DefaultPollInterval = 30 * time.Second

// Publisher receives a PriceSnapshot every time a pool is polled
// successfully. The oracle implements this.
type Publisher interface {
	Publish(snapshot domain.PriceSnapshot)
}

// Target is one pool to poll, paired with the gateway and ABI needed to read it.
type Target struct {
	Pool         domain.Pool
	Gateway      chaingateway.Gateway
	ABI          abi.ABI
	PollInterval time.Duration
}

// Monitor runs one polling goroutine per Target until its context is canceled.
type Monitor struct {
	logger    *zap.Logger
	publisher Publisher
	limiters  map[string]*rate.Limiter // keyed by network ID
}

// NewMonitor builds a Monitor that publishes snapshots to publisher,
// rate-limiting RPC calls per network to maxCallsPerSecond.
func NewMonitor(publisher Publisher, logger *zap.Logger, maxCallsPerSecond map[string]float64) *Monitor {
	limiters := make(map[string]*rate.Limiter, len(maxCallsPerSecond))
	for networkID, perSecond := range maxCallsPerSecond {
		limiters[networkID] = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return &Monitor{logger: logger, publisher: publisher, limiters: limiters}
}

// Run starts one poll loop per target and blocks until ctx is canceled
// or a target's poll loop returns a non-context error.
func (m *Monitor) Run(ctx context.Context, targets []Target) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, target := range targets {
		target := target
		if !target.Pool.Enabled {
			continue
		}
		g.Go(func() error { return m.pollLoop(ctx, target) })
	}
	return g.Wait()
}

func (m *Monitor) pollLoop(ctx context.Context, target Target) error {
	interval := target.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.pollOnce(ctx, target)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) pollOnce(ctx context.Context, target Target) {
	if limiter, ok := m.limiters[target.Pool.NetworkID]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return // context canceled while waiting for a rate-limit slot
		}
	}

	state, err := target.Gateway.ReadPoolState(ctx, target.Pool.Address, target.ABI)
	if err != nil {
		m.logger.Warn("pool poll failed",
			zap.String("pool", target.Pool.ID), zap.String("network", target.Pool.NetworkID), zap.Error(err))
		return
	}

	m.publisher.Publish(domain.PriceSnapshot{
		PoolID:       target.Pool.ID,
		SqrtPriceX96: state.SqrtPriceX96,
		Tick:         state.Tick,
		Liquidity:    state.Liquidity,
		BlockNumber:  state.BlockNumber,
		ObservedAt:   time.Now(),
	})
}
