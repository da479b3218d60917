package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-ledger/internal/audit"
	"github.com/ariefcatur/go-pos-ledger/internal/config"
	"github.com/ariefcatur/go-pos-ledger/internal/httpx"
	kafkax "github.com/ariefcatur/go-pos-ledger/internal/kafka"
	"github.com/ariefcatur/go-pos-ledger/internal/observability"
	"github.com/ariefcatur/go-pos-ledger/internal/orders"
	"github.com/ariefcatur/go-pos-ledger/internal/payments"
	"github.com/ariefcatur/go-pos-ledger/internal/postgres"
	"github.com/ariefcatur/go-pos-ledger/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("telemetry init", zap.Error(err))
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
	}
	store := postgres.NewStore(db)

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := redisx.NewCache(rdb)

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
	prod.Start(ctx)

	recorder := audit.NewRecorder()
	orderEngine, err := orders.NewEngine(orders.EngineDeps{
		Store:     store.Orders(),
		Recorder:  recorder,
		Publisher: prod,
		Logger:    logger.Named("orders"),
		Metrics:   observability.NewLifecycleMetrics("order"),
		Producer:  cfg.ServiceName,
	})
	if err != nil {
		logger.Fatal("orders engine", zap.Error(err))
	}
	paymentEngine, err := payments.NewEngine(payments.EngineDeps{
		Store:           store.Payments(),
		Providers:       payments.NewRegistry(),
		Recorder:        recorder,
		Publisher:       prod,
		Logger:          logger.Named("payments"),
		Metrics:         observability.NewLifecycleMetrics("payment"),
		ProviderTimeout: cfg.ProviderTimeout,
		Producer:        cfg.ServiceName,
	})
	if err != nil {
		logger.Fatal("payments engine", zap.Error(err))
	}

	router := httpx.NewRouter(logger)
	(&httpx.OrdersHandler{Orders: orderEngine, Cache: cache, IsConflict: postgres.IsUniqueViolation}).Register(router)
	(&httpx.PaymentsHandler{Payments: paymentEngine, Cache: cache, IsConflict: postgres.IsUniqueViolation}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // stop inbox -> flush & close writer
	prod.WaitClosed() // drain
	if err := shutdownTelemetry(ctx2); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}
}
