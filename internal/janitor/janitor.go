package janitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shaiso/Forge/internal/telemetry"
)

// defaultBatchSize — количество запросов за один проход уборки.
const defaultBatchSize = 1000

// cronParser — парсер 5-польных cron-выражений расписания уборки.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ExpiredLister возвращает id завершённых запросов, чей последний
// переход состояния старше cutoff. Реализуется repo.RequestRepo.
type ExpiredLister interface {
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// Janitor удаляет файлы логов сборок завершённых запросов по
// истечении срока хранения. После удаления API отвечает на
// GET /builds/{id}/logs статусом 410 Gone.
type Janitor struct {
	requests  ExpiredLister
	schedule  cron.Schedule
	logsDir   string
	lifetime  time.Duration
	batchSize int
	logger    *slog.Logger
}

// Config — конфигурация Janitor.
type Config struct {
	// Requests — источник завершённых запросов.
	Requests ExpiredLister

	// Schedule — cron-выражение запуска уборки (5 полей).
	Schedule string

	// LogsDir — каталог файлов логов сборок ({request_id}.log).
	LogsDir string

	// Lifetime — сколько времени после завершения запроса логи хранятся.
	Lifetime time.Duration

	// BatchSize — количество запросов за один проход (default: 1000).
	BatchSize int

	// Logger
	Logger *slog.Logger
}

// New создаёт Janitor. Расписание парсится сразу: некорректное
// выражение — ошибка конфигурации.
func New(cfg Config) (*Janitor, error) {
	schedule, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse janitor schedule %q: %w", cfg.Schedule, err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Janitor{
		requests:  cfg.Requests,
		schedule:  schedule,
		logsDir:   cfg.LogsDir,
		lifetime:  cfg.Lifetime,
		batchSize: batchSize,
		logger:    logger,
	}, nil
}

// Run выполняет уборку по расписанию до отмены контекста.
func (j *Janitor) Run(ctx context.Context) error {
	for {
		next := j.schedule.Next(time.Now())
		j.logger.Info("next sweep scheduled", "at", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := j.Sweep(ctx); err != nil {
			j.logger.Error("sweep failed", "error", err)
		}
	}
}

// Sweep выполняет один проход уборки: находит завершённые запросы с
// истёкшим сроком хранения и удаляет их файлы логов.
//
// Отсутствующий файл не ошибка: запрос мог выполняться воркером без
// каталога логов или файл удалён предыдущим проходом.
func (j *Janitor) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-j.lifetime)

	ids, err := j.requests.ListFinishedBefore(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("list expired requests: %w", err)
	}

	if len(ids) == 0 {
		j.logger.Debug("nothing to sweep")
		return nil
	}

	var removed int
	for _, id := range ids {
		path := filepath.Join(j.logsDir, id.String()+".log")

		err := os.Remove(path)
		switch {
		case err == nil:
			removed++
			j.logger.Debug("removed build log", "request_id", id)
		case errors.Is(err, fs.ErrNotExist):
		default:
			j.logger.Warn("failed to remove build log", "request_id", id, "error", err)
		}
	}

	telemetry.SweptLogs.Add(float64(removed))

	j.logger.Info("sweep completed",
		"expired", len(ids),
		"removed", removed,
	)
	return nil
}
