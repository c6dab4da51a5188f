package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	arbengine "github.com/cqtfi/arbengine"
	"github.com/cqtfi/arbengine/configs"
	"github.com/cqtfi/arbengine/internal/db"
	"github.com/cqtfi/arbengine/internal/util"
	"github.com/cqtfi/arbengine/pkg/executor"
	"github.com/cqtfi/arbengine/pkg/metrics"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("arbengine exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	encryptedPk := os.Getenv("ENC_PK")
	if encryptedPk == "" {
		return fmt.Errorf("ENC_PK not set")
	}
	key := os.Getenv("KEY")
	if key == "" {
		return fmt.Errorf("KEY not set")
	}
	pkHex, err := util.Decrypt([]byte(key), encryptedPk)
	if err != nil {
		return fmt.Errorf("decrypt private key: %w", err)
	}
	privateKey, err := crypto.HexToECDSA(pkHex)
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}
	signer := executor.Signer{
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		PrivateKey: privateKey,
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yml"
	}
	cfg, err := configs.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	poolABI, err := util.LoadABI(abiPathOrDefault("POOL_ABI_PATH", "abi/pool.json"))
	if err != nil {
		return fmt.Errorf("load pool abi: %w", err)
	}
	routerABI, err := util.LoadABI(abiPathOrDefault("ROUTER_ABI_PATH", "abi/router.json"))
	if err != nil {
		return fmt.Errorf("load router abi: %w", err)
	}
	bridgeABI, err := util.LoadABI(abiPathOrDefault("BRIDGE_ABI_PATH", "abi/bridge.json"))
	if err != nil {
		return fmt.Errorf("load bridge abi: %w", err)
	}

	reg := metrics.New(prometheus.NewRegistry())

	ledgerDSN := os.Getenv("LEDGER_DSN")
	if ledgerDSN == "" {
		ledgerDSN = "root:root@tcp(127.0.0.1:3306)/arbengine?charset=utf8mb4&parseTime=True&loc=Local"
	}
	ledger, err := db.NewLedger(ledgerDSN, reg)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	engine, err := arbengine.New(cfg, arbengine.ABIs{Pool: poolABI, Router: routerABI, Bridge: bridgeABI}, signer, ledger, reg, logger)
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := engine.Run(ctx)
	if shutdownErr := engine.Shutdown(); shutdownErr != nil {
		logger.Error("shutdown ledger connection", zap.Error(shutdownErr))
	}
	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	return nil
}

func abiPathOrDefault(env, fallback string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return fallback
}
