package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"commodrails/internal/chain"
	"commodrails/internal/config"
	"commodrails/internal/escrow"
	"commodrails/internal/eventlog"
	"commodrails/internal/host"
	"commodrails/internal/idempotency"
	"commodrails/internal/logging"
	"commodrails/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New("commodrails-api", cfg.Service.Env, cfg.Service.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	var store idempotency.Store
	if cfg.Service.IdempotencyPostgresDSN != "" {
		pg, err := idempotency.NewPostgresStore(ctx, cfg.Service.IdempotencyPostgresDSN)
		if err != nil {
			logger.Fatal("idempotency store error", zap.Error(err))
		}
		defer pg.Close()
		store = pg
	} else {
		fs, err := idempotency.NewFileStore(cfg.Service.IdempotencyStorePath)
		if err != nil {
			logger.Fatal("idempotency store error", zap.Error(err))
		}
		store = fs
	}

	var blocks chain.BlockSource = chain.NewManualClock(cfg.Genesis.InitialBlock)
	if cfg.Chain.RPCURL != "" {
		eth, err := chain.NewEthBlockSource(ctx, chain.EthClientConfig{RPCURL: cfg.Chain.RPCURL})
		if err != nil {
			logger.Fatal("block source error", zap.Error(err))
		}
		defer eth.Close()
		blocks = eth
	}

	supply, err := cfg.Genesis.Supply()
	if err != nil {
		logger.Fatal("genesis error", zap.Error(err))
	}

	metrics := server.NewMetrics()
	feed := eventlog.NewFeed(cfg.Service.EventFeedSize)
	sink := eventlog.Fanout{
		feed,
		eventlog.LogSink{Logger: logger},
		eventlog.NewMetricsSink(metrics.Registerer()),
	}

	ledger := escrow.NewLedger(supply, cfg.Genesis.Genesis(), sink)
	registry := escrow.NewRegistry(ledger, cfg.Genesis.Custodian(), sink)
	logger.Info("ledger initialised",
		zap.String("totalSupply", supply.Dec()),
		zap.String("genesis", cfg.Genesis.Genesis().Hex()),
		zap.String("custodian", registry.Custodian().Hex()),
		zap.Bool("manualClock", cfg.Chain.RPCURL == ""),
	)

	apiServer := server.NewServer(cfg, server.Deps{
		Host:    host.New(registry, blocks, cfg.Retry, logger),
		Store:   store,
		Feed:    feed,
		Metrics: metrics,
		Logger:  logger,
	})

	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}
