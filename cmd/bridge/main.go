package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/oklog/run"
	"github.com/smartcontractkit/chainlink-common/pkg/beholder"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"go.uber.org/zap/zapcore"

	"github.com/claimbridge/claimbridge/internal/logging"
	"github.com/claimbridge/claimbridge/internal/monitoring"
	"github.com/claimbridge/claimbridge/pkg/api"
	"github.com/claimbridge/claimbridge/pkg/bridge"
	"github.com/claimbridge/claimbridge/pkg/config"
	"github.com/claimbridge/claimbridge/pkg/github"
	"github.com/claimbridge/claimbridge/pkg/ledger"
	"github.com/claimbridge/claimbridge/pkg/listener"
)

const (
	configPathEnvVar  = "BRIDGE_CONFIG_PATH"
	defaultConfigFile = "bridge.toml"
)

func main() {
	//
	// Load configuration
	// ------------------------------------------------------------------------------------------------
	configPath := defaultConfigFile
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	if envConfig := os.Getenv(configPathEnvVar); envConfig != "" {
		configPath = envConfig
	}

	//
	// Initialize logger
	// ------------------------------------------------------------------------------------------------
	lggr, err := logger.NewWith(logging.DevelopmentConfig(zapcore.InfoLevel))
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	lggr = logger.Sugared(logger.Named(lggr, "bridge"))

	cfg, err := config.Load(configPath)
	if err != nil {
		lggr.Errorw("Failed to load configuration", "path", configPath, "error", err)
		os.Exit(1)
	}

	//
	// Setup OTEL monitoring (via beholder)
	// ------------------------------------------------------------------------------------------------
	var bridgeMonitoring bridge.Monitoring
	if cfg.Monitoring.Enabled && cfg.Monitoring.Type == "beholder" {
		bridgeMonitoring, err = monitoring.InitMonitoring(beholder.Config{
			InsecureConnection:       cfg.Monitoring.InsecureConnection,
			OtelExporterGRPCEndpoint: cfg.Monitoring.OtelExporterGRPCEndpoint,
			MetricReaderInterval:     30 * time.Second,
		})
		if err != nil {
			lggr.Errorw("Failed to initialize monitoring", "error", err)
			os.Exit(1)
		}
	} else {
		lggr.Info("Using noop monitoring")
		bridgeMonitoring = monitoring.NewNoopBridgeMonitoring()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	//
	// Connect to the ledger
	// ------------------------------------------------------------------------------------------------
	chainClient, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		lggr.Errorw("Failed to connect to chain node", "url", cfg.Chain.RPCURL, "error", err)
		os.Exit(1)
	}
	defer chainClient.Close()

	gateway, err := ledger.NewGateway(ledger.Config{
		ContractAddress: common.HexToAddress(cfg.Chain.ContractAddress),
		PrivateKey:      cfg.Chain.PrivateKey,
		ChainID:         big.NewInt(cfg.Chain.ChainID),
		GasLimit:        cfg.Chain.GasLimit,
	}, chainClient, lggr)
	if err != nil {
		lggr.Errorw("Failed to create ledger gateway", "error", err)
		os.Exit(1)
	}

	registry, err := gateway.JobRegistry(ctx)
	if err != nil {
		lggr.Errorw("Failed to read oracle job registry", "error", err)
		os.Exit(1)
	}
	lggr.Infow("Oracle job registry loaded", "oracle", gateway.Sender(), "jobs", len(registry))

	//
	// Initialize bridge components
	// ------------------------------------------------------------------------------------------------
	checkpoints := listener.NewFileCheckpointStore(listener.DefaultCheckpointPath(cfg.Chain.CheckpointDir))

	events := listener.NewEventListener(listener.Config{
		ContractAddress: common.HexToAddress(cfg.Chain.ContractAddress),
		PollInterval:    cfg.Chain.PollInterval(),
	}, chainClient, checkpoints, lggr)

	verifier := github.NewClient(github.Config{
		Endpoint:       cfg.GitHub.Endpoint,
		Token:          cfg.GitHub.Token,
		RequestTimeout: cfg.GitHub.RequestTimeout(),
	}, lggr)

	processor, err := bridge.NewClaimProcessor(bridge.ProcessorConfig{
		Workers:            cfg.Processor.Workers,
		MaxRetries:         cfg.Processor.MaxRetries,
		RetryBaseDelay:     cfg.Processor.RetryBaseDelay(),
		RetryMaxDelay:      cfg.Processor.RetryMaxDelay(),
		DedupTTL:           cfg.Processor.DedupTTL(),
		MergeRecencyWindow: cfg.Processor.MergeRecencyWindow(),
		ShutdownGrace:      cfg.Processor.ShutdownGrace(),
	}, events.Requests(), verifier, gateway, bridgeMonitoring, lggr)
	if err != nil {
		lggr.Errorw("Failed to create claim processor", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(cfg.API.Address, api.NewV1API(lggr, events, processor, events, gateway))

	//
	// Run everything until a signal or a component failure
	// ------------------------------------------------------------------------------------------------
	var g run.Group

	g.Add(func() error {
		if err := events.Start(ctx); err != nil {
			return fmt.Errorf("event listener failed to start: %w", err)
		}
		<-ctx.Done()
		return nil
	}, func(error) {
		if err := events.Stop(); err != nil {
			lggr.Errorw("Failed to stop event listener", "error", err)
		}
	})

	g.Add(func() error {
		if err := processor.Start(ctx); err != nil {
			return fmt.Errorf("claim processor failed to start: %w", err)
		}
		<-ctx.Done()
		return nil
	}, func(error) {
		if err := processor.Stop(); err != nil {
			lggr.Errorw("Failed to stop claim processor", "error", err)
		}
	})

	g.Add(func() error {
		lggr.Infow("Operational API listening", "address", cfg.API.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(error) {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			lggr.Errorw("Failed to shut down API server", "error", err)
		}
	})

	g.Add(func() error {
		<-ctx.Done()
		lggr.Infow("🛑 Shutdown signal received, stopping bridge")
		return nil
	}, func(error) { cancel() })

	if err := g.Run(); err != nil {
		lggr.Errorw("Bridge exited with error", "error", err)
		os.Exit(1)
	}
	lggr.Infow("✅ Bridge stopped")
}
