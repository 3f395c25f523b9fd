package api

import (
	"log/slog"
	"time"

	"github.com/shaiso/Forge/internal/config"
	"github.com/shaiso/Forge/internal/orchestrator"
	"github.com/shaiso/Forge/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	builder     *orchestrator.Builder
	patcher     *orchestrator.Patcher
	requestRepo *repo.RequestRepo
	batchRepo   *repo.BatchRepo
	auth        config.AuthConfig
	logsDir     string
	logLifetime time.Duration
	logger      *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Builder     *orchestrator.Builder
	Patcher     *orchestrator.Patcher
	RequestRepo *repo.RequestRepo
	BatchRepo   *repo.BatchRepo

	// Auth — идентичности: воркеры для PATCH, флаг отключения auth.
	Auth config.AuthConfig

	// LogsDir — каталог файлов логов сборок ({id}.log).
	// Пустая строка — выдача логов отключена.
	LogsDir string

	// LogLifetime — сколько логи завершённого запроса остаются доступны.
	LogLifetime time.Duration

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		builder:     cfg.Builder,
		patcher:     cfg.Patcher,
		requestRepo: cfg.RequestRepo,
		batchRepo:   cfg.BatchRepo,
		auth:        cfg.Auth,
		logsDir:     cfg.LogsDir,
		logLifetime: cfg.LogLifetime,
		logger:      logger,
	}
}
