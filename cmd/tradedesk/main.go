package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/jchen042/tradedesk/internal/events"
	"github.com/jchen042/tradedesk/internal/gateway"
	"github.com/jchen042/tradedesk/internal/infrastructure/config"
	"github.com/jchen042/tradedesk/internal/orders"
	"github.com/jchen042/tradedesk/internal/server"
	"github.com/jchen042/tradedesk/internal/subscription"
	"github.com/jchen042/tradedesk/pkg/logger"
	"github.com/jchen042/tradedesk/pkg/models"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// The gateway session. Paper-trading mode runs the in-process simulator;
	// a live session plugs the vendor adapter in behind the same interface.
	if cfg.Gateway.Mode != "sim" {
		zapLogger.Fatal("unsupported gateway mode", zap.String("mode", cfg.Gateway.Mode))
	}
	sim := gateway.NewSim("SIM-001")
	var gw gateway.Client = sim

	registry := subscription.NewRegistry(logger.Named(zapLogger, "subscription"))
	coordinator := subscription.NewCoordinator(registry, gw, cfg.Gateway.CallTimeout, logger.Named(zapLogger, "subscription"))

	gate := orders.NewRefreshGate(gw, cfg.Refresh.AcquireWait, cfg.Refresh.AccountTimeout, logger.Named(zapLogger, "orders"))
	aggregator := orders.NewAggregator(gw, gate, cfg.Gateway.CallTimeout, logger.Named(zapLogger, "orders"))
	executor := orders.NewBatchCancelExecutor(gw, gate, aggregator,
		cfg.Cancel.PerCallTimeout, cfg.Cancel.SettleDelay, cfg.Cancel.MaxParallelism,
		logger.Named(zapLogger, "orders"))

	router := events.NewRouter(registry, 256, logger.Named(zapLogger, "events"))
	executor.SetStatusNotifier(func(o models.Order) {
		router.Handle(events.LocalCancelAck(o))
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Simulated push channel feeds the router like a live session would.
	go func() {
		for {
			select {
			case ev := <-sim.Push():
				router.Handle(ev)
			case <-ctx.Done():
				return
			}
		}
	}()

	// Remote push stream, when configured alongside the sim book.
	if cfg.Gateway.StreamURL != "" {
		stream := gateway.NewStreamClient(cfg.Gateway.StreamURL, router.Handle,
			cfg.Gateway.ReconnectMaxWait, logger.Named(zapLogger, "gateway"))
		go func() {
			if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
				zapLogger.Error("push stream stopped", zap.Error(err))
			}
		}()
	}

	// Stand-in for the display-affinity consumer: drain the statistics
	// queue so windows embedding this process can observe it.
	go func() {
		for {
			select {
			case upd := <-router.StatsUpdates():
				zapLogger.Debug("stats update",
					zap.String("kind", string(upd.Event.Kind)),
					zap.Int("windows", len(upd.WindowIDs)),
				)
			case <-ctx.Done():
				return
			}
		}
	}()

	srv := server.New(cfg.Server, coordinator, aggregator, executor, logger.Named(zapLogger, "http"))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		zapLogger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			zapLogger.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := coordinator.UnsubscribeAll(shutdownCtx); err != nil {
		zapLogger.Warn("shutdown unsubscribe incomplete", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Warn("http shutdown incomplete", zap.Error(err))
	}
	zapLogger.Info("tradedesk stopped")
}
