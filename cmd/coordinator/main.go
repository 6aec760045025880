package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/pulsegrid/coordinator/internal/aggregator"
	"github.com/pulsegrid/coordinator/internal/autoscaler"
	"github.com/pulsegrid/coordinator/internal/config"
	"github.com/pulsegrid/coordinator/internal/event"
	"github.com/pulsegrid/coordinator/internal/monitor"
	"github.com/pulsegrid/coordinator/internal/provision"
	"github.com/pulsegrid/coordinator/internal/registry"
	"github.com/pulsegrid/coordinator/internal/scheduler"
	"github.com/pulsegrid/coordinator/internal/server"
	"github.com/pulsegrid/coordinator/internal/storage"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Connect to NATS with retry
	opts := []nats.Option{
		nats.Name("coordinator"),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	bus, err := event.NewBus(js, logger)
	if err != nil {
		logger.Fatal("Failed to create event bus", zap.Error(err))
	}

	resultLog, err := storage.NewSQLiteResultLog(logger, cfg.Storage.Path)
	if err != nil {
		logger.Fatal("Failed to open result log", zap.Error(err))
	}
	defer resultLog.Close()

	agg := aggregator.New(resultLog, cfg.Aggregator.Window, logger)
	reg := registry.New(logger)
	// Results feed the aggregator and go out on the event stream.
	sched := scheduler.New(reg, bus, scheduler.MultiSink{agg, bus}, cfg.Scheduler.SweepInterval, logger)
	heartbeats := monitor.New(reg, sched, bus, cfg.Heartbeat.Interval, cfg.Heartbeat.Timeout, logger)
	schedules := scheduler.NewScheduleManager(sched, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	if err := heartbeats.Start(ctx); err != nil {
		logger.Fatal("Failed to start heartbeat monitor", zap.Error(err))
	}
	defer heartbeats.Stop()

	schedules.Start()
	defer schedules.Stop()

	if cfg.Storage.Retention > 0 {
		resultLog.StartRetention(ctx, time.Hour, cfg.Storage.Retention)
	}

	// Auto-scaling runs only when a worker image is configured.
	var scaler *autoscaler.AutoScaler
	if cfg.Scaler.WorkerImage != "" {
		provisioner, err := provision.NewDockerProvisioner(cfg.Scaler.WorkerEnv, logger)
		if err != nil {
			logger.Fatal("Failed to create provisioner", zap.Error(err))
		}
		scaler = autoscaler.New(reg, sched, agg, provisioner, autoscaler.Config{
			MinWorkers:         cfg.Scaler.MinWorkers,
			MaxWorkers:         cfg.Scaler.MaxWorkers,
			ScaleUpThreshold:   cfg.Scaler.ScaleUpThreshold,
			ScaleDownThreshold: cfg.Scaler.ScaleDownThreshold,
			Cooldown:           cfg.Scaler.Cooldown,
			Interval:           cfg.Scaler.Interval,
			WorkerSpec: provision.WorkerSpec{
				Image: cfg.Scaler.WorkerImage,
				Env:   cfg.Scaler.WorkerEnv,
			},
		}, logger)
		if err := scaler.Start(ctx); err != nil {
			logger.Fatal("Failed to start auto-scaler", zap.Error(err))
		}
		defer scaler.Stop()
	} else {
		logger.Info("Auto-scaling disabled: no worker image configured")
		scaler = autoscaler.New(reg, sched, agg, nil, autoscaler.Config{}, logger)
	}

	deps := server.NewDeps(reg, sched, agg, schedules, scaler, bus, logger)
	srv := server.New(cfg, logger, deps)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	logger.Info("Coordinator stopped")
}
