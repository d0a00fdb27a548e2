package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/larriantoniy/device_gateway/internal/adapters/broker"
	"github.com/larriantoniy/device_gateway/internal/adapters/memstore"
	"github.com/larriantoniy/device_gateway/internal/adapters/redisstore"
	"github.com/larriantoniy/device_gateway/internal/adapters/statusfeed"
	"github.com/larriantoniy/device_gateway/internal/adapters/tg"
	"github.com/larriantoniy/device_gateway/internal/adapters/webhook"
	"github.com/larriantoniy/device_gateway/internal/config"
	"github.com/larriantoniy/device_gateway/internal/domain"
	"github.com/larriantoniy/device_gateway/internal/metrics"
	"github.com/larriantoniy/device_gateway/internal/ports"
	"github.com/larriantoniy/device_gateway/internal/storage"
	"github.com/larriantoniy/device_gateway/internal/useCases"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		panic(err)
	}

	logger := setupLogger(cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gateway stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("exit")
}

func run(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, closeStore, err := openStore(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	devices := config.NewYAMLDeviceRepo(cfg.DevicesFile)
	feed := statusfeed.NewHub(logger)
	defer feed.Close()

	gateway := storage.NewGateway(store, devices, feed.Hooks(storage.Hooks{
		OnAlert: func(_ context.Context, deviceID string, verdict domain.Verdict, cause error) {
			logger.Error("connection alert", "device", deviceID, "reason", verdict.Reason, "cause", cause)
		},
	}), logger)

	var sink ports.MessageSink
	if cfg.RabbitMQ.Enabled() {
		cache := broker.New(broker.Options{
			Host:     cfg.RabbitMQ.Host,
			Port:     cfg.RabbitMQ.Port,
			Username: cfg.RabbitMQ.Username,
			Password: cfg.RabbitMQ.Password,
		}, logger)
		defer cache.Close()
		sink = broker.NewPublisher(cache, cfg.RabbitMQ.QueuePrefix)
	}

	protocol := tg.New(tg.Options{
		APIID:        cfg.Telegram.APIID,
		APIHash:      cfg.Telegram.APIHash,
		AppVersion:   cfg.Telegram.AppVersion,
		LogVerbosity: cfg.Telegram.LogVerbosity,
		ProbeNetwork: cfg.Telegram.ProbeNetwork,
	}, logger)

	dispatcher := webhook.New(logger, m, webhook.Options{
		MaxAttempts: cfg.Webhook.MaxAttempts,
		Timeout:     cfg.Webhook.Timeout,
	})
	processor := useCases.NewProcessor(protocol, dispatcher, sink, m, logger)

	manager := useCases.NewManager(useCases.ManagerConfig{
		AppName:    cfg.AppName,
		SessionDir: cfg.SessionDir,
		Restart: useCases.RestartPolicy{
			MaxAttempts:  cfg.Restart.MaxAttempts,
			InitialDelay: cfg.Restart.InitialDelay,
			MaxDelay:     cfg.Restart.MaxDelay,
			Multiplier:   cfg.Restart.Multiplier,
		},
	}, gateway, protocol, processor, m, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newMux(reg, feed, manager, gateway),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
			cancel()
		}
	}()
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = srv.Shutdown(shutdownCtx)
	}()

	runner := useCases.NewRunner(devices, manager, logger, cfg.StartParallel)
	if err := runner.StartAll(ctx); err != nil {
		logger.Error("runner.StartAll error", "error", err)
		return err
	}
	return nil
}

// openStore redis, если задан адрес, иначе память процесса
func openStore(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (ports.KVStore, func(), error) {
	if cfg.Addr == "" {
		logger.Warn("redis not configured, using in-memory store")
		return memstore.New(), func() {}, nil
	}

	store, err := redisstore.Connect(ctx, redisstore.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Prefix:   cfg.Prefix,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("redis connected", "addr", cfg.Addr)
	return store, func() { _ = store.Close() }, nil
}

func setupLogger(env string) *slog.Logger {
	var logger *slog.Logger

	switch env {
	case config.EnvDev:
		logger = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	default:
		logger = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return logger
}
