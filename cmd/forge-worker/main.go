// Forge Worker — выполняет сборки индексов операторов.
//
// Worker:
//   - Получает задания сборки из своей очереди RabbitMQ
//   - Резолвит образы и собирает индекс через skopeo/opm
//   - Отчитывается о прогрессе PATCH-запросами в API
//   - Пишет построчный лог каждой сборки в файл
//
// Workers масштабируются горизонтально; очередь с перезаписью индекса
// обслуживается одним воркером с prefetch=1.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Forge/internal/config"
	"github.com/shaiso/Forge/internal/mq"
	"github.com/shaiso/Forge/internal/telemetry"
	"github.com/shaiso/Forge/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting forge-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Воркер без брокера бесполезен: очередь обязательна.
	if cfg.AMQP.URL == "" {
		logger.Error("AMQP URL not configured")
		os.Exit(1)
	}

	queue := cfg.Worker.Queue
	if queue == "" {
		queue = cfg.Queues.Default
	}

	mqConn, err := mq.NewConnection(cfg.AMQP.URL, "forge-worker", logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected", "queue", queue)

	// Создаём топологию: очередь должна существовать до подписки
	if err := mq.SetupTopology(ctx, mqConn, cfg.Queues.AllQueues()); err != nil {
		logger.Warn("failed to setup topology", "error", err)
	}

	// Инструменты сборки и отчёты в API
	tools := worker.NewTools(cfg.Worker.Skopeo, cfg.Worker.Opm)
	registry := worker.NewRegistry(worker.RunnerConfig{
		Tools:        tools,
		PushRegistry: cfg.Worker.Registry,
	})
	reporter := worker.NewReporter(cfg.Worker.APIURL, cfg.Worker.Username, logger)

	// Создаём worker
	w := worker.New(worker.Config{
		Conn:     mqConn,
		Queue:    queue,
		Prefetch: cfg.Worker.Prefetch,
		Registry: registry,
		Reporter: reporter,
		LogsDir:  cfg.Logs.Dir,
		Logger:   logger,
	})

	// Запускаем worker
	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8082"
	if v := os.Getenv("FORGE_WORKER_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем worker
	w.Stop()
	logger.Info("forge-worker stopped")
}
