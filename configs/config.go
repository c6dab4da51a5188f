// Package configs loads the engine's declarative startup configuration
// from YAML and converts it into the pkg/domain model the rest of the
// engine operates on.
package configs

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cqtfi/arbengine/pkg/domain"
)

// Config is the entire configuration structure loaded from config.yml.
type Config struct {
	Networks   map[string]NetworkConfig `yaml:"networks"`
	Pools      []PoolConfig             `yaml:"pools"`
	Arbitrage  ArbitrageConfig          `yaml:"arbitrage"`
	CrossChain CrossChainConfig         `yaml:"crossChain"`
	BLP        BLPConfig                `yaml:"blp"`
	Security   SecurityConfig           `yaml:"security"`
}

// NetworkConfig describes one chain the engine trades on.
type NetworkConfig struct {
	RPCURL             string   `yaml:"rpcUrl"`
	BackupRPCURLs      []string `yaml:"backupRpcUrls"`
	ChainID            uint64   `yaml:"chainId"`
	ConfirmationBlocks uint64   `yaml:"confirmationBlocks"`
	MaxGasPriceGwei    float64  `yaml:"maxGasPriceGwei"`
}

// PriceRangeConfig is a pool's expected token1-per-token0 price range.
// It is carried into domain.Pool; no component checks quotes against it.
type PriceRangeConfig struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
}

// PoolConfig describes one tracked liquidity pool.
type PoolConfig struct {
	ID                 string           `yaml:"id"`
	NetworkID          string           `yaml:"networkId"`
	Address            string           `yaml:"address"`
	Token0             string           `yaml:"token0"`
	Token1             string           `yaml:"token1"`
	FeeTier            uint32           `yaml:"feeTier"`
	EnabledFlag        bool             `yaml:"enabledFlag"`
	ExpectedPriceRange PriceRangeConfig `yaml:"expectedPriceRange"`
}

// ArbitrageConfig tunes opportunity sizing, detection cadence, and
// concurrency of the core arbitrage loop.
type ArbitrageConfig struct {
	MinProfitThreshold      string  `yaml:"minProfitThreshold"`
	MinPositionSize         string  `yaml:"minPositionSize"`
	MaxPositionSize         string  `yaml:"maxPositionSize"`
	MaxSlippage             float64 `yaml:"maxSlippage"`
	MonitoringIntervalSec   int     `yaml:"monitoringIntervalSec"`
	CooldownPeriodSec       int     `yaml:"cooldownPeriodSec"`
	MaxConcurrentArbitrages int     `yaml:"maxConcurrentArbitrages"`
}

// CrossChainConfig configures the bridge leg of cross-network executions.
type CrossChainConfig struct {
	BridgeContracts        map[string]string `yaml:"bridgeContracts"`
	FlatFeeUsd             float64           `yaml:"flatFeeUsd"`
	PercentFee             float64           `yaml:"percentFee"`
	ConfirmationTimeoutSec int               `yaml:"confirmationTimeoutSec"`
}

// BLPConfig configures the built-in-liquidity-provider reserve manager.
type BLPConfig struct {
	ProfitAllocationPercent float64        `yaml:"profitAllocationPercent"`
	MinReserveBalance       string         `yaml:"minReserveBalance"`
	MinInjectionIntervalSec int            `yaml:"minInjectionIntervalSec"`
	PoolPriorities          map[string]int `yaml:"poolPriorities"`
}

// SecurityConfig bounds daily loss, consecutive failures, and gas price
// before the circuit breaker engages an emergency stop.
type SecurityConfig struct {
	MaxDailyLoss           string  `yaml:"maxDailyLoss"`
	MaxConsecutiveFailures uint32  `yaml:"maxConsecutiveFailures"`
	MaxGasPriceGwei        float64 `yaml:"maxGasPriceGwei"`
}

// LoadConfig reads and parses a config.yml path into a Config struct.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	return &config, nil
}

// ToNetworks converts the networks section into domain.Network values,
// keyed by network ID.
func (c *Config) ToNetworks() map[string]domain.Network {
	networks := make(map[string]domain.Network, len(c.Networks))
	for id, n := range c.Networks {
		networks[id] = domain.Network{
			ID:                id,
			ChainID:           n.ChainID,
			ConfirmationDepth: n.ConfirmationBlocks,
			MaxGasPrice:       gweiToWei(n.MaxGasPriceGwei),
			RPCEndpoints:      append([]string{n.RPCURL}, n.BackupRPCURLs...),
		}
	}
	return networks
}

// ToPools converts the pools section into domain.Pool values.
func (c *Config) ToPools() ([]domain.Pool, error) {
	pools := make([]domain.Pool, 0, len(c.Pools))
	for _, p := range c.Pools {
		min, err := decimal.NewFromString(p.ExpectedPriceRange.Min)
		if err != nil {
			return nil, fmt.Errorf("pool %s: parse expectedPriceRange.min: %w", p.ID, err)
		}
		max, err := decimal.NewFromString(p.ExpectedPriceRange.Max)
		if err != nil {
			return nil, fmt.Errorf("pool %s: parse expectedPriceRange.max: %w", p.ID, err)
		}
		pools = append(pools, domain.Pool{
			ID:                 p.ID,
			NetworkID:          p.NetworkID,
			Address:            common.HexToAddress(p.Address),
			Token0:             common.HexToAddress(p.Token0),
			Token1:             common.HexToAddress(p.Token1),
			FeeTier:            p.FeeTier,
			ExpectedPriceRange: [2]decimal.Decimal{min, max},
			Enabled:            p.EnabledFlag,
		})
	}
	return pools, nil
}

// PoolPriorityWeights returns blp.poolPriorities, the map pkg/reserve's
// Manager uses to break injection ties.
func (c *Config) PoolPriorityWeights() map[string]int {
	return c.BLP.PoolPriorities
}

// MonitoringInterval is the PoolMonitor's per-pool poll cadence.
func (c *Config) MonitoringInterval() time.Duration {
	return time.Duration(c.Arbitrage.MonitoringIntervalSec) * time.Second
}

// CooldownPeriod is the RiskFilter's per-pair reattempt cooldown.
func (c *Config) CooldownPeriod() time.Duration {
	return time.Duration(c.Arbitrage.CooldownPeriodSec) * time.Second
}

// BridgeConfirmationTimeout is the BridgeCoordinator's terminal timeout.
// Zero means the caller should fall back to bridge.DefaultConfirmationTimeout.
func (c *Config) BridgeConfirmationTimeout() time.Duration {
	if c.CrossChain.ConfirmationTimeoutSec == 0 {
		return 0
	}
	return time.Duration(c.CrossChain.ConfirmationTimeoutSec) * time.Second
}

// MinInjectionInterval is the ReserveManager's per-pool injection cooldown.
func (c *Config) MinInjectionInterval() time.Duration {
	return time.Duration(c.BLP.MinInjectionIntervalSec) * time.Second
}

// MinReserveBalance parses blp.minReserveBalance into base units.
func (c *Config) MinReserveBalance() (*big.Int, error) {
	return parseBigInt("blp.minReserveBalance", c.BLP.MinReserveBalance)
}

// MinProfitThreshold parses arbitrage.minProfitThreshold into base units.
func (c *Config) MinProfitThreshold() (*big.Int, error) {
	return parseBigInt("arbitrage.minProfitThreshold", c.Arbitrage.MinProfitThreshold)
}

// MinPositionSize parses arbitrage.minPositionSize into base units.
func (c *Config) MinPositionSize() (*big.Int, error) {
	return parseBigInt("arbitrage.minPositionSize", c.Arbitrage.MinPositionSize)
}

// MaxPositionSize parses arbitrage.maxPositionSize into base units.
func (c *Config) MaxPositionSize() (*big.Int, error) {
	return parseBigInt("arbitrage.maxPositionSize", c.Arbitrage.MaxPositionSize)
}

// MaxDailyLoss parses security.maxDailyLoss into base units.
func (c *Config) MaxDailyLoss() (*big.Int, error) {
	return parseBigInt("security.maxDailyLoss", c.Security.MaxDailyLoss)
}

// SecurityMaxGasPrice converts security.maxGasPriceGwei, the global gas
// ceiling independent of any single network's maxGasPriceGwei, to wei.
func (c *Config) SecurityMaxGasPrice() *big.Int {
	return gweiToWei(c.Security.MaxGasPriceGwei)
}

func parseBigInt(field, value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s %q", field, value)
	}
	return amount, nil
}

func gweiToWei(gwei float64) *big.Int {
	return decimal.NewFromFloat(gwei).Mul(decimal.New(1, 9)).BigInt()
}
