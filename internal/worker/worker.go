package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/shaiso/Forge/internal/mq"
)

// defaultPrefetch — QoS prefetch, если он не задан в конфигурации.
const defaultPrefetch = 1

// Worker выполняет запросы на сборку индексных образов.
//
// Worker — stateless компонент системы, который:
//   - Получает работу из назначенной очереди RabbitMQ
//   - Выполняет сборку через внешние утилиты (skopeo, opm)
//   - Отчитывается о ходе сборки через PATCH-эндпоинт API
//   - Пишет лог сборки каждого запроса в отдельный файл
//
// Воркер не ходит в БД: единственный канал изменения запроса — API.
// Несколько воркеров могут потреблять из одной очереди; очереди
// с overwrite обслуживаются одним воркером с prefetch=1.
type Worker struct {
	// MQ
	conn  *mq.Connection
	queue string

	// Runner registry
	registry *Registry

	// Отчёты в API
	reporter *Reporter

	// Логи сборок
	logsDir string

	// Consumer
	consumer *mq.Consumer
	prefetch int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// Conn — соединение с RabbitMQ.
	Conn *mq.Connection

	// Queue — очередь сборок, которую слушает воркер.
	Queue string

	// Prefetch — QoS prefetch (default: 1).
	Prefetch int

	// Registry — реестр runner'ов (опционально; если nil —
	// используется NewRegistry с RunnerConfig по умолчанию).
	Registry *Registry

	// Reporter — клиент PATCH-отчётов в API.
	Reporter *Reporter

	// LogsDir — каталог файлов логов сборок. Пустая строка —
	// логи сборок не пишутся.
	LogsDir string

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry(RunnerConfig{})
	}

	return &Worker{
		conn:     cfg.Conn,
		queue:    cfg.Queue,
		registry: registry,
		reporter: cfg.Reporter,
		logsDir:  cfg.LogsDir,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Start запускает Worker: создаёт consumer назначенной очереди и
// начинает потребление сборок.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"queue", w.queue,
		"prefetch", w.prefetch,
	)

	// Создаём consumer
	w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:    w.queue,
		Handler:  w.handleBuild,
		Prefetch: w.prefetch,
	})

	// Запускаем consumer
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("build consumer error", "error", err)
		}
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	if w.consumer != nil {
		w.consumer.Stop()
	}

	// Ждём завершения горутин
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}
