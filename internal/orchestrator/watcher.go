package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Forge/internal/domain"
	"github.com/shaiso/Forge/internal/mq"
	"github.com/shaiso/Forge/internal/repo"
	"github.com/shaiso/Forge/internal/telemetry"
)

// Watcher помечает запросы недоставленных сборок проваленными.
//
// Сборка, которую брокер не смог доставить воркеру или воркер отверг,
// попадает в builds.failed. Её запрос не должен навсегда остаться в
// in_progress: Watcher переводит его в failed со стандартной причиной.
// Повтор для уже завершённого запроса — no-op.
type Watcher struct {
	requests *repo.RequestRepo
	notifier Notifier
	conn     *mq.Connection
	logger   *slog.Logger

	consumer   *mq.Consumer
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// WatcherConfig — конфигурация Watcher.
type WatcherConfig struct {
	Requests *repo.RequestRepo
	Notifier Notifier
	Conn     *mq.Connection
	Logger   *slog.Logger
}

// NewWatcher создаёт новый Watcher.
func NewWatcher(cfg WatcherConfig) *Watcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}

	return &Watcher{
		requests: cfg.Requests,
		notifier: notifier,
		conn:     cfg.Conn,
		logger:   logger,
	}
}

// Start запускает потребление builds.failed.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueFailedBuilds),
		Handler:  w.handleFailedBuild,
		Prefetch: 10,
		// Ошибка здесь — временная (обычно БД): сообщение нельзя терять.
		RequeueOnError: true,
	})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("failed builds consumer error", "error", err)
		}
	}()

	w.logger.Info("failure watcher started")
	return nil
}

// Stop останавливает Watcher.
func (w *Watcher) Stop() {
	w.logger.Info("stopping failure watcher...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	if w.consumer != nil {
		w.consumer.Stop()
	}

	w.wg.Wait()
	w.logger.Info("failure watcher stopped")
}

// failedBuildPayload — минимум, который нужен от недоставленной сборки.
type failedBuildPayload struct {
	RequestID uuid.UUID `json:"request_id"`
}

// handleFailedBuild переводит запрос недоставленной сборки в failed.
func (w *Watcher) handleFailedBuild(ctx context.Context, d *mq.Delivery) error {
	payload, err := mq.ParsePayload[failedBuildPayload](&d.Message)
	if err != nil || payload.RequestID == uuid.Nil {
		w.logger.Error("failed build message without request_id",
			"message_id", d.Message.ID,
			"type", d.Message.Type,
			"error", err,
		)
		// Сообщение не про запрос — признаём и забываем.
		return nil
	}

	telemetry.DeadLettered.Inc()

	changed, err := w.requests.AppendState(ctx, payload.RequestID,
		domain.RequestStateFailed, domain.StateReasonUnknownError)
	if err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) || errors.Is(err, repo.ErrNotFound) {
			// Запрос уже завершён или удалён — помечать нечего.
			return nil
		}
		return err
	}
	if !changed {
		return nil
	}

	telemetry.StateTransitions.WithLabelValues(string(domain.RequestStateFailed)).Inc()

	w.logger.Warn("dead-lettered build marked as failed",
		"request_id", payload.RequestID,
		"message_id", d.Message.ID,
		"type", d.Message.Type,
	)

	req, err := w.requests.GetByID(ctx, payload.RequestID)
	if err != nil {
		w.logger.Error("failed to load request for notification",
			"request_id", payload.RequestID,
			"error", err,
		)
		return nil
	}

	if err := w.notifier.StateChanged(ctx, req); err != nil {
		w.logger.Warn("failed to publish state change",
			"request_id", req.ID,
			"error", err,
		)
	}
	return nil
}
