// Forge Migrate — применяет миграции схемы Postgres и выходит.
//
// Запускается перед остальными бинарями (init-контейнер или шаг деплоя).
// Повторный запуск на актуальной схеме — no-op.
package main

import (
	"context"
	"os"

	"github.com/shaiso/Forge/internal/config"
	"github.com/shaiso/Forge/internal/repo"
	"github.com/shaiso/Forge/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting forge-migrate")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := repo.NewPool(ctx, cfg.DB.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	logger.Info("migrations applied")
}
