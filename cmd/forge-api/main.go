// Forge API — принимает запросы на сборку индексов операторов.
//
// API:
//   - Проверяет payload'ы и идентичность отправителя
//   - Сохраняет запросы и батчи в Postgres
//   - Отправляет задания сборки в очереди RabbitMQ
//   - Принимает PATCH-отчёты воркеров о прогрессе
//   - Отдаёт состояние запросов, историю и логи сборок
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Forge/internal/api"
	"github.com/shaiso/Forge/internal/config"
	"github.com/shaiso/Forge/internal/mq"
	"github.com/shaiso/Forge/internal/orchestrator"
	"github.com/shaiso/Forge/internal/repo"
	"github.com/shaiso/Forge/internal/telemetry"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forge_api_http_requests_total",
		Help: "Total HTTP requests handled by forge_api",
	})
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting forge-api")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Подключаемся к базе данных
	pool, err := repo.NewPool(context.Background(), cfg.DB.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	// Создаём репозитории
	requestRepo := repo.NewRequestRepo(pool)
	batchRepo := repo.NewBatchRepo(pool)

	// RabbitMQ. Без брокера API работает в деградированном режиме:
	// чтение доступно, новые запросы сразу проваливаются.
	var submitter orchestrator.Submitter = orchestrator.UnavailableSubmitter{}
	var notifier orchestrator.Notifier
	var mqConn *mq.Connection

	if cfg.AMQP.URL != "" {
		mqConn, err = mq.NewConnection(cfg.AMQP.URL, "forge-api", logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, submissions will fail", "error", err)
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			// Создаём топологию: exchanges, очереди сборок, DLQ
			if err := mq.SetupTopology(context.Background(), mqConn, cfg.Queues.AllQueues()); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}

			publisher := mq.NewPublisher(mqConn, logger)
			submitter = orchestrator.NewAMQPSubmitter(publisher)
			notifier = orchestrator.NewAMQPNotifier(publisher)
		}
	} else {
		logger.Warn("AMQP URL not configured, submissions will fail")
	}

	// Gating-политики по очередям
	gating := make(map[string]mq.GatingPolicy, len(cfg.Gating))
	for queue, p := range cfg.Gating {
		gating[queue] = mq.GatingPolicy{
			DecisionContext: p.DecisionContext,
			ProductVersion:  p.ProductVersion,
			SubjectType:     p.SubjectType,
		}
	}

	// Собираем цепочку отправки: Router -> Dispatcher -> Builder
	router := orchestrator.NewRouter(orchestrator.RouterConfig{
		DefaultQueue:    cfg.Queues.Default,
		UserToQueue:     cfg.Queues.UserToQueue,
		ForceOverwrite:  cfg.ForceOverwriteFromIndex,
		PrivilegedUsers: cfg.Auth.PrivilegedUsernames,
	})
	dispatcher := orchestrator.NewDispatcher(orchestrator.DispatcherConfig{
		Submitter: submitter,
		States:    requestRepo,
		Notifier:  notifier,
		Gating:    gating,
		Logger:    logger,
	})
	builder := orchestrator.NewBuilder(orchestrator.BuilderConfig{
		Store:      batchRepo,
		Router:     router,
		Dispatcher: dispatcher,
		Notifier:   notifier,
		Logger:     logger,
	})
	patcher := orchestrator.NewPatcher(orchestrator.PatcherConfig{
		Requests: requestRepo,
		Notifier: notifier,
		Logger:   logger,
	})

	// Watcher переводит запросы из DLQ в failed. Живёт в процессе API:
	// это единственный всегда работающий потребитель с доступом к БД.
	if mqConn != nil {
		watcher := orchestrator.NewWatcher(orchestrator.WatcherConfig{
			Requests: requestRepo,
			Notifier: notifier,
			Conn:     mqConn,
			Logger:   logger,
		})
		if err := watcher.Start(context.Background()); err != nil {
			logger.Error("failed to start failure watcher", "error", err)
			os.Exit(1)
		}
		defer watcher.Stop()
	}

	// Создаём API handler
	handler := api.NewHandler(api.Config{
		Builder:     builder,
		Patcher:     patcher,
		RequestRepo: requestRepo,
		BatchRepo:   batchRepo,
		Auth:        cfg.Auth,
		LogsDir:     cfg.Logs.Dir,
		LogLifetime: time.Duration(cfg.Logs.LifetimeDays) * 24 * time.Hour,
		Logger:      logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	// Создаём HTTP сервер с возможностью graceful shutdown
	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: mux,
	}

	// Запускаем сервер в горутине
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Ожидаем сигнал завершения
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
