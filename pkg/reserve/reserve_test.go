package reserve

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/cqtfi/arbengine/pkg/domain"
)

type fakeInjector struct {
	confirmed bool
	err       error
	calls     []string
	lastCQT   *big.Int
	lastPair  *big.Int
}

func (f *fakeInjector) Inject(pool domain.Pool, cqtAmount, pairedAmount *big.Int) (bool, error) {
	f.calls = append(f.calls, pool.ID)
	f.lastCQT = cqtAmount
	f.lastPair = pairedAmount
	return f.confirmed, f.err
}

func testPools() []domain.Pool {
	return []domain.Pool{
		{ID: "a", NetworkID: "polygon", Enabled: true},
		{ID: "b", NetworkID: "polygon", Enabled: true},
	}
}

func TestDepositAndBalance(t *testing.T) {
	m := New(Config{}, testPools(), nil, nil, nil, nil, &fakeInjector{}, zap.NewNop())
	m.Deposit("a", big.NewInt(500))
	assert.Equal(t, "500", m.Balance("a").String())
}

func TestSetBalanceOverwritesRatherThanAccumulates(t *testing.T) {
	m := New(Config{}, testPools(), nil, nil, nil, nil, &fakeInjector{}, zap.NewNop())
	m.Deposit("a", big.NewInt(500))
	m.SetBalance("a", big.NewInt(200))
	assert.Equal(t, "200", m.Balance("a").String())
}

func TestAllocateFromExecutionSplitsEvenly(t *testing.T) {
	m := New(Config{}, testPools(), nil, nil, nil, nil, &fakeInjector{}, zap.NewNop())
	m.AllocateFromExecution("a", "b", big.NewInt(1000)) // 20% of 1000 = 200, split 100/100
	assert.Equal(t, "100", m.Balance("a").String())
	assert.Equal(t, "100", m.Balance("b").String())
}

func TestTickInjectsHighestPriorityOnly(t *testing.T) {
	injector := &fakeInjector{confirmed: true}
	priorities := map[string]int{"a": 1, "b": 5}
	m := New(Config{MinInjectionReserve: big.NewInt(10)}, testPools(), priorities, nil, nil, nil, injector, zap.NewNop())
	m.Deposit("a", big.NewInt(1000))
	m.Deposit("b", big.NewInt(1000))

	m.Tick()

	assert.Equal(t, []string{"b"}, injector.calls)
	assert.Equal(t, "0", m.Balance("b").String(), "injected pool's reserve is zeroed")
	assert.Equal(t, "1000", m.Balance("a").String(), "non-injected pool is untouched")
}

func TestTickBreaksPriorityTieByLowestPoolID(t *testing.T) {
	injector := &fakeInjector{confirmed: true}
	m := New(Config{MinInjectionReserve: big.NewInt(10)}, testPools(), nil, nil, nil, nil, injector, zap.NewNop())
	m.Deposit("a", big.NewInt(1000))
	m.Deposit("b", big.NewInt(1000))

	m.Tick()

	assert.Equal(t, []string{"a"}, injector.calls)
}

func TestTickSkipsBelowMinReserve(t *testing.T) {
	injector := &fakeInjector{confirmed: true}
	m := New(Config{MinInjectionReserve: big.NewInt(500)}, testPools(), nil, nil, nil, nil, injector, zap.NewNop())
	m.Deposit("a", big.NewInt(100))

	m.Tick()

	assert.Empty(t, injector.calls)
}

func TestTickSkipsWithinMinInterval(t *testing.T) {
	injector := &fakeInjector{confirmed: true}
	m := New(Config{MinInjectionReserve: big.NewInt(10), MinInjectionInterval: time.Hour}, testPools(), nil, nil, nil, nil, injector, zap.NewNop())
	m.Deposit("a", big.NewInt(1000))
	m.Tick()
	assert.Equal(t, []string{"a"}, injector.calls)

	m.Deposit("a", big.NewInt(1000))
	m.Tick()
	assert.Equal(t, []string{"a"}, injector.calls, "second tick within the cooldown should not inject again")
}

func TestTickSkipsDegradedNetwork(t *testing.T) {
	injector := &fakeInjector{confirmed: true}
	healthy := func(networkID string) bool { return false }
	m := New(Config{MinInjectionReserve: big.NewInt(10)}, testPools(), nil, nil, nil, healthy, injector, zap.NewNop())
	m.Deposit("a", big.NewInt(1000))

	m.Tick()

	assert.Empty(t, injector.calls)
}

func TestInjectionFailureLeavesReserveUntouched(t *testing.T) {
	injector := &fakeInjector{confirmed: false}
	m := New(Config{MinInjectionReserve: big.NewInt(10)}, testPools(), nil, nil, nil, nil, injector, zap.NewNop())
	m.Deposit("a", big.NewInt(1000))

	m.Tick()

	assert.Equal(t, "1000", m.Balance("a").String())
}

func TestSplitAmountsCapsAtLiquidityFraction(t *testing.T) {
	liquidityOf := func(poolID string) *big.Int { return big.NewInt(1_000_000) }
	m := New(Config{MaxLiquidityFraction: 0.01}, testPools(), nil, nil, liquidityOf, nil, &fakeInjector{}, zap.NewNop())

	cqt, paired := m.splitAmounts(domain.Pool{ID: "a"}, big.NewInt(1_000_000))
	// cap = 1% of 1_000_000 = 10_000, split evenly -> 5000/5000
	assert.Equal(t, "5000", cqt.String())
	assert.Equal(t, "5000", paired.String())
}
