package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/xela07ax/cors-relay/internal/access"
	"github.com/xela07ax/cors-relay/internal/audit"
	"github.com/xela07ax/cors-relay/internal/connectors"
	"github.com/xela07ax/cors-relay/internal/consent"
	"github.com/xela07ax/cors-relay/internal/console/handler"
	"github.com/xela07ax/cors-relay/internal/console/server"
	"github.com/xela07ax/cors-relay/internal/console/service"
	"github.com/xela07ax/cors-relay/internal/engine"
	"github.com/xela07ax/cors-relay/internal/infra"
	"github.com/xela07ax/cors-relay/internal/infra/auth"
	"github.com/xela07ax/cors-relay/internal/policy"
	"github.com/xela07ax/cors-relay/internal/repository/memory"
	"github.com/xela07ax/cors-relay/internal/repository/postgres"
	"github.com/xela07ax/cors-relay/internal/repository/redis"
	"github.com/xela07ax/cors-relay/internal/rulesync"
	"github.com/xela07ax/cors-relay/internal/store"
)

// storageAttempts: сколько раз ждать хранилище на старте.
const storageAttempts = 10

type backend interface {
	store.Backend
	engine.Pinger
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	var (
		pool *pgxpool.Pool
		rdb  *goredis.Client
		kv   backend
	)
	if cfg.Storage.Driver == infra.StoragePostgres || cfg.Audit.Sink == infra.StoragePostgres {
		pool, err = postgres.NewPool(appCtx, cfg.Database)
		if err != nil {
			logger.Fatal("postgres pool", zap.Error(err))
		}
		defer pool.Close()
	}

	var ready engine.Pinger
	switch cfg.Storage.Driver {
	case infra.StorageRedis:
		rdb = redis.NewClient(cfg.Redis)
		defer rdb.Close()
		kv = redis.NewKV(rdb)
		ready = kv
	case infra.StoragePostgres:
		repo := postgres.NewKVRepo(pool)
		kv = repo
		ready = pingFunc(func(ctx context.Context) error {
			if err := repo.Ping(ctx); err != nil {
				return err
			}
			return postgres.EnsureSchema(ctx, pool)
		})
	default:
		kv = memory.NewKV()
		ready = kv
		logger.Warn("in-memory storage: grants are lost on restart")
	}

	// Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 3. Журнал аудита
	var sink audit.Sink = audit.NewLogSink(logger)
	if cfg.Audit.Sink == infra.StoragePostgres {
		sink = postgres.NewAuditRepo(pool)
	}
	journal := audit.NewJournal(sink, audit.Options{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
	}, logger)
	journal.Start()

	// 4. Правила: хранилище, счетчик, движок, синхронизатор
	ruleStore := store.NewRuleStore(kv, logger)
	rules := policy.NewMemoEngine(logger)
	syncer := rulesync.NewSynchronizer(rules, store.NewRuleIDCounter(kv), logger)
	manager := access.NewManager(ruleStore, syncer, journal, logger)

	// 5. Барьер старта: трафик принимаем только после сверки правил
	warmCtx, warmCancel := context.WithTimeout(appCtx, cfg.Storage.WaitTimeout)
	if err := engine.Warmup(warmCtx, ready, storageAttempts, manager, logger); err != nil {
		warmCancel()
		logger.Fatal("startup barrier failed", zap.Error(err))
	}
	warmCancel()

	// Инстансы на общем Redis узнают об изменениях друг друга
	if rdb != nil {
		signals := engine.NewRuleSignals(rdb, logger)
		manager.OnChange(func(ctx context.Context, origin string) {
			signals.Publish(context.WithoutCancel(ctx), origin)
		})
		go signals.Listen(appCtx, manager.Reconcile, func(origin string) {
			logger.Info("peer changed access, reconciling", zap.String("origin", origin))
			if err := manager.Reconcile(appCtx); err != nil {
				logger.Error("reconcile after peer change failed", zap.Error(err))
			}
		})
	}

	// 6. Исполнение: коннектор + надежность, диспетчер, согласие
	transport := engine.NewReliabilityWrapper(connectors.NewHTTPConnector(cfg.Relay.FetchTimeout), engine.ReliabilityOptions{
		RateLimit:     cfg.Relay.RateLimit,
		RateBurst:     cfg.Relay.RateBurst,
		CBMaxRequests: cfg.Relay.CBMaxRequests,
		CBInterval:    cfg.Relay.CBInterval,
		CBTimeout:     cfg.Relay.CBTimeout,
		CBFailures:    cfg.Relay.CBFailures,
	}, metrics, logger)
	dispatcher := engine.NewDispatcher(manager, transport, rules, journal, metrics, logger)

	coord := consent.NewCoordinator(manager, nil, journal, logger)
	hub := handler.NewApproverHub(coord, logger)
	hub.EnablePolling(cfg.Relay.ApproverPolling)
	coord.SetSurface(hub)

	svc := engine.NewService(manager, coord, dispatcher, metrics, logger)
	tracker := engine.NewSurfaceTracker(manager)

	// 7. Аутентификация (RS256)
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey, cfg.Auth.Issuer)
	authSvc := service.NewAuthService(cfg.Auth, nil)
	if len(cfg.Auth.PrivateKey) > 0 {
		privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
		if err != nil {
			logger.Fatal("auth private key", zap.Error(err))
		}
		authSvc = service.NewAuthService(cfg.Auth, privKey)
	} else {
		logger.Warn("auth private key not set: /auth/token is disabled")
	}

	// 8. HTTP Server
	router := server.NewRelayServer(logger, validator, server.Handlers{
		Auth:     handler.NewAuthHandler(authSvc, logger),
		Page:     handler.NewPageHandler(svc, logger),
		Approver: handler.NewApproverHandler(svc, coord, logger),
		Hub:      hub,
		Rules:    handler.NewRulesHandler(svc, logger),
		Surface:  handler.NewSurfaceHandler(tracker, logger),
	})
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Экспортируем метрики для Prometheus
	metricsSrv := &http.Server{
		Addr:    cfg.Metrics.Addr,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// 9. gRPC мост для доверенных фронтов
	var grpcSrv *grpc.Server
	if cfg.GRPC.Addr != "" {
		grpcSrv = grpc.NewServer(grpc.UnaryInterceptor(engine.UnaryAuthInterceptor(validator, logger)))
		engine.RegisterRelayServer(grpcSrv, engine.NewGRPCGatewayServer(svc, logger))

		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			logger.Fatal("failed to listen gRPC", zap.Error(err))
		}
		go func() {
			logger.Info("gRPC bridge started", zap.String("addr", cfg.GRPC.Addr))
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error("failed to serve gRPC", zap.Error(err))
			}
		}()
	}

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("relay started", zap.String("addr", srv.Addr), zap.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("relay stopping...")
	cancel()

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	journal.Stop()
	logger.Info("relay exited properly")
}
