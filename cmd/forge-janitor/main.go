// Forge Janitor — удаляет логи завершённых запросов по истечении срока.
//
// Janitor работает в единственном экземпляре: лидерство обеспечивается
// advisory-блокировкой Postgres, лишние реплики ждут её освобождения.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Forge/internal/config"
	"github.com/shaiso/Forge/internal/janitor"
	"github.com/shaiso/Forge/internal/repo"
	"github.com/shaiso/Forge/internal/telemetry"
)

const janitorLockKey int64 = 724031

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting forge-janitor")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DB.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	requestRepo := repo.NewRequestRepo(pool)

	j, err := janitor.New(janitor.Config{
		Requests: requestRepo,
		Schedule: cfg.Janitor.Schedule,
		LogsDir:  cfg.Logs.Dir,
		Lifetime: time.Duration(cfg.Logs.LifetimeDays) * 24 * time.Hour,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("invalid janitor config", "error", err)
		os.Exit(1)
	}

	// Уборка за advisory-блокировкой: advisory lock живёт в рамках
	// сессии, поэтому держим выделенное соединение из пула.
	go func() {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			logger.Error("failed to acquire lock connection", "error", err)
			cancel()
			return
		}
		defer conn.Release()

		tk := time.NewTicker(15 * time.Second)
		defer tk.Stop()

		var hasLock bool
		defer func() {
			if hasLock {
				_, _ = conn.Exec(context.Background(), "select pg_advisory_unlock($1)", janitorLockKey)
			}
		}()

		for !hasLock {
			// пытаемся стать лидером
			if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", janitorLockKey).Scan(&hasLock); err != nil {
				logger.Warn("leader lock attempt failed", "error", err)
			}
			if hasLock {
				break
			}
			select {
			case <-tk.C:
			case <-ctx.Done():
				return
			}
		}

		logger.Info("acquired janitor leadership")
		if err := j.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("janitor loop error", "error", err)
		}
	}()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8081"
	if v := os.Getenv("FORGE_JANITOR_PORT"); v != "" {
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
	logger.Info("forge-janitor stopped")
}
