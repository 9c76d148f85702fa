package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rickgao/crypto-market-server/internal/cache"
	"github.com/rickgao/crypto-market-server/internal/config"
	"github.com/rickgao/crypto-market-server/internal/connection"
	"github.com/rickgao/crypto-market-server/internal/database"
	"github.com/rickgao/crypto-market-server/internal/exchange"
	"github.com/rickgao/crypto-market-server/internal/feed"
	"github.com/rickgao/crypto-market-server/internal/latest"
	"github.com/rickgao/crypto-market-server/internal/logging"
	"github.com/rickgao/crypto-market-server/internal/server"
	"github.com/rickgao/crypto-market-server/internal/service"
	"github.com/rickgao/crypto-market-server/internal/version"
	"github.com/rickgao/crypto-market-server/internal/writer"
)

func main() {
	configPath := flag.String("config", "", "path to config file (empty = defaults and environment)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	logger.Info("starting market data server",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("market data server stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Response cache
	responses := cache.New(cfg.Cache.TTL, cfg.Cache.MaxSize, cache.WithLogger(logger))
	if cfg.Cache.SweepInterval > 0 {
		go responses.Run(ctx, cfg.Cache.SweepInterval)
	}

	// Exchange adapters and market registry
	adapters := make([]exchange.Adapter, 0, len(cfg.Exchanges))
	for _, ex := range cfg.Exchanges {
		a, err := exchange.NewAdapter(exchange.AdapterConfig{
			ID:         ex.ID,
			RESTURL:    ex.RestURL,
			Timeout:    ex.Timeout,
			MaxRetries: ex.MaxRetries,
		}, logger)
		if err != nil {
			return err
		}
		adapters = append(adapters, a)
	}

	registry := exchange.NewRegistry(exchange.RegistryConfig{
		ReloadInterval: cfg.Markets.ReloadInterval,
		LoadTimeout:    cfg.Markets.LoadTimeout,
	}, adapters, logger)

	logger.Info("loading exchange markets", "exchanges", len(adapters))
	if err := registry.Start(ctx); err != nil {
		return fmt.Errorf("start market registry: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer stopCancel()
		registry.Stop(stopCtx)
	}()
	logger.Info("market registry started", "loaded", len(registry.Supported()))

	svc := service.New(responses, registry, logger)
	hub := connection.NewManager(connection.ManagerConfig{
		BroadcastConcurrency: cfg.WebSocket.BroadcastConcurrency,
	}, logger)

	opts := []server.Option{
		server.WithStats("connections", func() any { return hub.Stats() }),
	}
	var sinks []feed.TickerSink

	// Ticker history (optional)
	var historyWriter *writer.TickerWriter
	if cfg.Database.Enabled {
		db := cfg.Database.Postgres
		logger.Info("connecting to database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)

		pool, err := database.Connect(ctx, db)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		logger.Info("database connected")

		historyWriter = writer.NewTickerWriter(writer.WriterConfig{
			BatchSize:     cfg.Writer.BatchSize,
			FlushInterval: cfg.Writer.FlushInterval,
			BufferSize:    cfg.Writer.BufferSize,
		}, pool, logger)
		if err := historyWriter.Start(ctx); err != nil {
			return fmt.Errorf("start writer: %w", err)
		}

		sinks = append(sinks, historyWriter)
		opts = append(opts,
			server.WithHealthCheck("postgres", server.PingerFunc(pool.Ping)),
			server.WithStats("writer", func() any { return historyWriter.Stats() }),
		)
	}

	// Latest ticker store (optional)
	if cfg.Redis.Enabled {
		store, err := latest.NewRedisStore(ctx, latest.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer store.Close()
		logger.Info("redis connected", "addr", cfg.Redis.Addr)

		sinks = append(sinks, store)
		opts = append(opts,
			server.WithLatest(store),
			server.WithHealthCheck("redis", store),
		)
	}

	// Live ticker feed (optional)
	var poller *feed.Poller
	if cfg.Feed.Enabled {
		targets := make([]feed.Target, 0, len(cfg.Feed.Symbols))
		for _, s := range cfg.Feed.Symbols {
			targets = append(targets, feed.Target{Exchange: s.Exchange, Symbol: s.Symbol})
		}

		poller = feed.New(feed.Config{
			Interval:             cfg.Feed.Interval,
			Concurrency:          cfg.Feed.Concurrency,
			Timeout:              cfg.Feed.Timeout,
			FilterBySubscription: cfg.Feed.FilterBySubscription,
			Targets:              targets,
		}, svc, hub, logger, sinks...)
		if err := poller.Start(ctx); err != nil {
			return fmt.Errorf("start feed: %w", err)
		}
		opts = append(opts, server.WithStats("feed", func() any { return poller.Stats() }))
	}

	// HTTP server
	srv := server.New(server.Config{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		WebSocketEnabled: cfg.WebSocket.IsEnabled(),
		Socket: connection.SocketConfig{
			WriteTimeout: cfg.WebSocket.WriteTimeout,
			PingInterval: cfg.WebSocket.PingInterval,
			PongTimeout:  cfg.WebSocket.PongTimeout,
			ReadLimit:    cfg.WebSocket.ReadLimit,
		},
	}, svc, responses, hub, logger, opts...)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			"addr", addr,
			"websocket", cfg.WebSocket.IsEnabled(),
			"feed", cfg.Feed.Enabled,
		)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		cancel()
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if poller != nil {
		poller.Stop(shutdownCtx)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	hub.CloseAll()
	if historyWriter != nil {
		historyWriter.Stop(shutdownCtx)
	}

	return serveErr
}
