package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testYAML = `
networks:
  polygon:
    rpcUrl: "https://polygon-rpc.example/v1"
    backupRpcUrls: ["https://polygon-backup.example/v1"]
    chainId: 137
    confirmationBlocks: 5
    maxGasPriceGwei: 300
  base:
    rpcUrl: "https://base-rpc.example/v1"
    chainId: 8453
    confirmationBlocks: 3
    maxGasPriceGwei: 50

pools:
  - id: cqt-usdc-polygon
    networkId: polygon
    address: "0x1111111111111111111111111111111111111111"
    token0: "0x2222222222222222222222222222222222222222"
    token1: "0x3333333333333333333333333333333333333333"
    feeTier: 3000
    enabledFlag: true
    expectedPriceRange:
      min: "0.01"
      max: "10"

arbitrage:
  minProfitThreshold: "1000000000000000000"
  minPositionSize: "100000000000000000000"
  maxPositionSize: "5000000000000000000000"
  maxSlippage: 0.02
  monitoringIntervalSec: 15
  cooldownPeriodSec: 60
  maxConcurrentArbitrages: 3

crossChain:
  bridgeContracts:
    polygon: "0x4444444444444444444444444444444444444444"
    base: "0x5555555555555555555555555555555555555555"
  flatFeeUsd: 1.5
  percentFee: 0.001
  confirmationTimeoutSec: 600

blp:
  profitAllocationPercent: 20
  minReserveBalance: "1000000000000000000000"
  minInjectionIntervalSec: 3600
  poolPriorities:
    cqt-usdc-polygon: 5

security:
  maxDailyLoss: "10000000000000000000000"
  maxConsecutiveFailures: 5
  maxGasPriceGwei: 400
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(testYAML), 0o600); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

func TestLoadConfigParsesAllSections(t *testing.T) {
	cfg, err := LoadConfig(writeTestConfig(t))
	assert.NoError(t, err)
	assert.Len(t, cfg.Networks, 2)
	assert.Len(t, cfg.Pools, 1)
	assert.Equal(t, 3, cfg.Arbitrage.MaxConcurrentArbitrages)
	assert.Equal(t, 600, cfg.CrossChain.ConfirmationTimeoutSec)
	assert.Equal(t, 5, cfg.BLP.PoolPriorities["cqt-usdc-polygon"])
	assert.Equal(t, uint32(5), cfg.Security.MaxConsecutiveFailures)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestToNetworksIncludesBackupRPCs(t *testing.T) {
	cfg, err := LoadConfig(writeTestConfig(t))
	assert.NoError(t, err)

	networks := cfg.ToNetworks()
	polygon := networks["polygon"]
	assert.Equal(t, uint64(137), polygon.ChainID)
	assert.Equal(t, uint64(5), polygon.ConfirmationDepth)
	assert.Equal(t, []string{"https://polygon-rpc.example/v1", "https://polygon-backup.example/v1"}, polygon.RPCEndpoints)
	assert.Equal(t, "300000000000", polygon.MaxGasPrice.String())

	base := networks["base"]
	assert.Equal(t, []string{"https://base-rpc.example/v1"}, base.RPCEndpoints)
}

func TestToPoolsParsesExpectedPriceRange(t *testing.T) {
	cfg, err := LoadConfig(writeTestConfig(t))
	assert.NoError(t, err)

	pools, err := cfg.ToPools()
	assert.NoError(t, err)
	assert.Len(t, pools, 1)
	assert.Equal(t, "cqt-usdc-polygon", pools[0].ID)
	assert.True(t, pools[0].Enabled)
	assert.Equal(t, "0.01", pools[0].ExpectedPriceRange[0].String())
	assert.Equal(t, "10", pools[0].ExpectedPriceRange[1].String())
}

func TestToPoolsRejectsUnparsablePriceRange(t *testing.T) {
	cfg := &Config{Pools: []PoolConfig{{ID: "bad", ExpectedPriceRange: PriceRangeConfig{Min: "not-a-number", Max: "1"}}}}
	_, err := cfg.ToPools()
	assert.Error(t, err)
}

func TestDurationHelpers(t *testing.T) {
	cfg, err := LoadConfig(writeTestConfig(t))
	assert.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.MonitoringInterval())
	assert.Equal(t, 60*time.Second, cfg.CooldownPeriod())
	assert.Equal(t, 600*time.Second, cfg.BridgeConfirmationTimeout())
	assert.Equal(t, time.Hour, cfg.MinInjectionInterval())
}

func TestBridgeConfirmationTimeoutZeroWhenUnset(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, time.Duration(0), cfg.BridgeConfirmationTimeout())
}

func TestBigIntHelpersParseBaseUnits(t *testing.T) {
	cfg, err := LoadConfig(writeTestConfig(t))
	assert.NoError(t, err)

	minProfit, err := cfg.MinProfitThreshold()
	assert.NoError(t, err)
	assert.Equal(t, "1000000000000000000", minProfit.String())

	maxDailyLoss, err := cfg.MaxDailyLoss()
	assert.NoError(t, err)
	assert.Equal(t, "10000000000000000000000", maxDailyLoss.String())

	minReserve, err := cfg.MinReserveBalance()
	assert.NoError(t, err)
	assert.Equal(t, "1000000000000000000000", minReserve.String())
}

func TestParseBigIntRejectsGarbage(t *testing.T) {
	_, err := parseBigInt("test.field", "not-a-number")
	assert.Error(t, err)
}

func TestParseBigIntDefaultsToZero(t *testing.T) {
	v, err := parseBigInt("test.field", "")
	assert.NoError(t, err)
	assert.Equal(t, "0", v.String())
}

func TestSecurityMaxGasPriceConvertsGweiToWei(t *testing.T) {
	cfg := &Config{Security: SecurityConfig{MaxGasPriceGwei: 400}}
	assert.Equal(t, "400000000000", cfg.SecurityMaxGasPrice().String())
}
