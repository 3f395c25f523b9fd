package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/Forge/internal/domain"
	"github.com/shaiso/Forge/internal/mq"
)

// buildRef — общая для всех типов сборок часть payload.
type buildRef struct {
	RequestID uuid.UUID `json:"request_id"`
}

// handleBuild обрабатывает одно сообщение сборки из очереди.
//
// Ожидаемый провал сборки (*BuildError) завершается PATCH'ем failed и
// подтверждением сообщения. Инфраструктурная ошибка возвращается
// наружу: consumer отправит сообщение в DLQ, где его подберёт вотчер
// провалившихся сборок.
func (w *Worker) handleBuild(ctx context.Context, delivery *mq.Delivery) error {
	msg := &delivery.Message

	runner, err := w.registry.Get(msg.Type)
	if err != nil {
		w.logger.Error("no runner for message", "message_id", msg.ID, "type", msg.Type)
		return err
	}

	ref, err := mq.ParsePayload[buildRef](msg)
	if err != nil {
		return fmt.Errorf("parse build payload: %w", err)
	}
	if ref.RequestID == uuid.Nil {
		return fmt.Errorf("%w: message %s", ErrMissingRequestID, msg.ID)
	}

	logger := w.logger.With("request_id", ref.RequestID, "type", msg.Type)

	buildLog := w.openBuildLog(ref.RequestID)
	defer buildLog.Close()

	build := &Build{
		RequestID: ref.RequestID,
		Message:   msg,
		Reporter:  w.reporter,
		Log:       buildLog.Logger,
	}

	logger.Info("build started")
	buildLog.Logger.Info("build started", "type", msg.Type)

	if err := runner.Run(ctx, build); err != nil {
		return w.finishFailed(ctx, logger, build, err)
	}

	logger.Info("build finished")
	return nil
}

// finishFailed разбирает ошибку сборки: ожидаемый провал помечает
// запрос failed, инфраструктурный — возвращается наружу.
func (w *Worker) finishFailed(ctx context.Context, logger *slog.Logger, build *Build, err error) error {
	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		logger.Error("build aborted", "error", err)
		build.Log.Error("build aborted", "error", err)
		return err
	}

	logger.Warn("build failed", "error", buildErr.Message)
	build.Log.Error("build failed", "error", buildErr.Message)

	if rerr := w.reporter.ReportState(ctx, build.RequestID, domain.RequestStateFailed, buildErr.Message); rerr != nil {
		logger.Error("failed to report build failure", "error", rerr)
		return rerr
	}

	return nil
}

// openBuildLog открывает файл лога сборки. Недоступный файл не
// останавливает сборку: лог уходит в никуда.
func (w *Worker) openBuildLog(id uuid.UUID) *BuildLog {
	if w.logsDir == "" {
		return discardBuildLog()
	}

	buildLog, err := OpenBuildLog(w.logsDir, id)
	if err != nil {
		w.logger.Warn("failed to open build log", "request_id", id, "error", err)
		return discardBuildLog()
	}
	return buildLog
}
