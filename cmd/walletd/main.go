// Package main provides the wallet sync daemon: it mirrors the wallet
// backend's state into the entity store and serves it over HTTP.
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

	"github.com/wallet-sync/internal/api"
	"github.com/wallet-sync/internal/backend"
	"github.com/wallet-sync/internal/bridge"
	"github.com/wallet-sync/internal/cache"
	"github.com/wallet-sync/internal/config"
	"github.com/wallet-sync/internal/logging"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/orchestrator"
	"github.com/wallet-sync/internal/store"
	"github.com/wallet-sync/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := store.New(store.Config{
		TxRetention:    cfg.Store.TxRetention,
		MutationBuffer: cfg.Store.MutationBuffer,
	}, logger)
	defer st.Close()

	// Query cache
	var cacheBackend cache.Backend
	switch cfg.Cache.Driver {
	case "redis":
		client, err := cache.NewRedisClient(&cfg.Cache.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		cacheBackend = cache.NewRedisBackend(client)
		logger.WithField("addr", cfg.Cache.Redis.Addr()).Info("Redis cache connected")
	default:
		cacheBackend = cache.NewMemoryBackend()
	}
	queryCache := cache.New(cacheBackend, cfg.Cache.TTL, logger)
	defer queryCache.Close()
	st.AddHook(queryCache.Hook())

	// Wallet backend
	rpcClient, err := backend.NewRPCClient(cfg.Backend, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create backend client")
	}
	defer rpcClient.Close()

	br := bridge.New(st, logger)

	orch := orchestrator.New(orchestrator.Config{
		MaxUnlockAttempts: cfg.Orchestrator.MaxUnlockAttempts,
		DefaultNetwork:    models.NetworkKey{ChainID: cfg.Orchestrator.DefaultChainID, Coin: cfg.Orchestrator.DefaultCoin},
		Currency:          cfg.Pricing.DefaultCurrency,
	}, st, rpcClient, queryCache, br, logger)
	defer orch.Close()

	monitors := api.Monitors{
		Bridge:  br.Stats,
		Cache:   queryCache.Stats,
		Backend: rpcClient.Health,
	}

	// Notification stream; every (re)connect resyncs what may have been missed
	if cfg.Backend.StreamURL != "" {
		stream := bridge.NewStream(bridge.DefaultStreamConfig(cfg.Backend.StreamURL), br, logger)
		stream.OnConnect = func(ctx context.Context) {
			report, err := orch.Resync(ctx)
			if err != nil {
				logger.WithError(err).Warn("Resync after connect failed")
				return
			}
			logger.WithFields(map[string]interface{}{
				"revision": report.Revision,
				"accounts": report.Accounts,
				"duration": report.Duration.String(),
			}).Info("Resynced after connect")
		}
		monitors.StreamConnected = stream.Connected
		go func() {
			if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("Notification stream stopped")
			}
		}()
	} else {
		// without a stream the initial discovery is the only sync
		logger.Warn("BACKEND_STREAM_URL not set; state only refreshes on demand")
		go func() {
			if _, err := orch.Discover(ctx); err != nil {
				logger.WithError(err).Warn("Initial discovery failed")
			}
		}()
	}

	// Periodic balance and price refresh
	if cfg.Refresh.Interval > 0 {
		refresher, err := worker.NewRefreshWorker(orch, cfg.Refresh.Interval, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create refresh worker")
		}
		if err := refresher.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start refresh worker")
		}
		monitors.Refresh = refresher.Stats
	}

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		DefaultCurrency:   cfg.Pricing.DefaultCurrency,
	}
	server := api.NewServer(serverConfig, st, orch, monitors, logger)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Server failed")
			stop()
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		os.Exit(1)
	}

	logger.Info("Server exited")
}
