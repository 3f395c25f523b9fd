package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Forge/internal/domain"
	"github.com/shaiso/Forge/internal/mq"
	"github.com/shaiso/Forge/internal/telemetry"
)

// Submitter отправляет задание сборки в очередь.
type Submitter interface {
	Submit(ctx context.Context, queue string, msgType mq.MessageType, payload any) error
}

// StateWriter применяет переходы состояний. Реализуется RequestRepo.
type StateWriter interface {
	AppendState(ctx context.Context, id uuid.UUID, state domain.RequestState, reason string) (bool, error)
}

// AMQPSubmitter отправляет сборки через RabbitMQ publisher.
type AMQPSubmitter struct {
	publisher *mq.Publisher
}

// NewAMQPSubmitter создаёт Submitter поверх RabbitMQ publisher.
func NewAMQPSubmitter(publisher *mq.Publisher) *AMQPSubmitter {
	return &AMQPSubmitter{publisher: publisher}
}

func (s *AMQPSubmitter) Submit(ctx context.Context, queue string, msgType mq.MessageType, payload any) error {
	if err := s.publisher.PublishBuild(ctx, queue, msgType, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return nil
}

// UnavailableSubmitter всегда возвращает ErrBrokerUnavailable. Используется
// при запуске без брокера: новые запросы сразу помечаются failed, читающие
// эндпоинты продолжают работать.
type UnavailableSubmitter struct{}

func (UnavailableSubmitter) Submit(ctx context.Context, queue string, msgType mq.MessageType, payload any) error {
	return ErrBrokerUnavailable
}

// Submission — сохранённый запрос вместе с исходным payload и очередью.
// Секреты (токены) живут только в payload: в БД они не попадают,
// в аргументы сборки уходят как есть.
type Submission struct {
	Request *domain.Request
	Queue   string

	Add              *domain.AddPayload
	Rm               *domain.RmPayload
	RegenerateBundle *domain.RegenerateBundlePayload
}

// Dispatcher отправляет сохранённые запросы в очереди сборок.
type Dispatcher struct {
	submitter Submitter
	states    StateWriter
	notifier  Notifier
	gating    map[string]mq.GatingPolicy
	logger    *slog.Logger
}

// DispatcherConfig — конфигурация Dispatcher.
type DispatcherConfig struct {
	Submitter Submitter
	States    StateWriter
	Notifier  Notifier

	// Gating — политика gating-проверок по имени очереди.
	Gating map[string]mq.GatingPolicy

	Logger *slog.Logger
}

// NewDispatcher создаёт новый Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}

	return &Dispatcher{
		submitter: cfg.Submitter,
		states:    cfg.States,
		notifier:  notifier,
		gating:    cfg.Gating,
		logger:    logger,
	}
}

// Dispatch отправляет сборки в порядке подачи. Ошибка отправки одного
// запроса не останавливает остальные и не трогает уже отправленные:
// проваливается только запрос, чья отправка реально упала, после чего
// отправка продолжается со следующего.
func (d *Dispatcher) Dispatch(ctx context.Context, subs []Submission) {
	for i := range subs {
		sub := &subs[i]

		if err := d.dispatchOne(ctx, sub); err != nil {
			d.logger.Error("failed to dispatch build",
				"request_id", sub.Request.ID,
				"queue", sub.Queue,
				"error", err,
			)
			telemetry.Dispatches.WithLabelValues("error").Inc()
			d.markFailed(ctx, sub.Request, failureReason(err))
			continue
		}

		telemetry.Dispatches.WithLabelValues("ok").Inc()
	}
}

// dispatchOne готовит аргументы варианта и отправляет одно задание.
// В лог уходит только отображаемая форма аргументов с маскированными
// секретами; отправляется полная.
func (d *Dispatcher) dispatchOne(ctx context.Context, sub *Submission) error {
	msgType, payload, redacted := d.buildArgs(sub)

	d.logger.Info("dispatching build",
		"request_id", sub.Request.ID,
		"queue", sub.Queue,
		"type", msgType,
		"args", redacted,
	)

	return d.submitter.Submit(ctx, sub.Queue, msgType, payload)
}

// buildArgs собирает аргументы сборки для варианта запроса.
// Возвращает тип сообщения, полный payload и отображаемую форму.
func (d *Dispatcher) buildArgs(sub *Submission) (mq.MessageType, any, any) {
	switch {
	case sub.Add != nil:
		p := mq.AddBuildPayload{
			RequestID:          sub.Request.ID,
			Bundles:            sub.Add.Bundles,
			BinaryImage:        sub.Add.BinaryImage,
			FromIndex:          sub.Add.FromIndex,
			AddArches:          sub.Add.AddArches,
			CnrToken:           sub.Add.CnrToken,
			Organization:       sub.Add.Organization,
			ForceBackport:      sub.Add.ForceBackport,
			OverwriteFromIndex: sub.Add.OverwriteFromIndex,
			OverwriteToken:     sub.Add.OverwriteFromIndexToken,
			DistributionScope:  sub.Add.DistributionScope,
		}
		if g, ok := d.gating[sub.Queue]; ok {
			p.Gating = &g
		}
		return mq.MessageTypeBuildAdd, p, p.Redacted()

	case sub.Rm != nil:
		p := mq.RmBuildPayload{
			RequestID:          sub.Request.ID,
			Operators:          sub.Rm.Operators,
			BinaryImage:        sub.Rm.BinaryImage,
			FromIndex:          sub.Rm.FromIndex,
			OverwriteFromIndex: sub.Rm.OverwriteFromIndex,
			OverwriteToken:     sub.Rm.OverwriteFromIndexToken,
			DistributionScope:  sub.Rm.DistributionScope,
		}
		return mq.MessageTypeBuildRm, p, p.Redacted()

	default:
		p := mq.RegenerateBundleBuildPayload{
			RequestID:       sub.Request.ID,
			FromBundleImage: sub.RegenerateBundle.FromBundleImage,
			Organization:    sub.RegenerateBundle.Organization,
			RegistryAuths:   sub.RegenerateBundle.RegistryAuths,
		}
		return mq.MessageTypeBuildRegenerateBundle, p, p.Redacted()
	}
}

// markFailed помечает запрос проваленным. Повторная пометка уже
// завершённого запроса — идемпотентный no-op на уровне репозитория.
func (d *Dispatcher) markFailed(ctx context.Context, req *domain.Request, reason string) {
	changed, err := d.states.AppendState(ctx, req.ID, domain.RequestStateFailed, reason)
	if err != nil {
		d.logger.Error("failed to mark request as failed",
			"request_id", req.ID,
			"error", err,
		)
		return
	}
	if !changed {
		return
	}

	telemetry.StateTransitions.WithLabelValues(string(domain.RequestStateFailed)).Inc()

	// Репозиторий переход уже проверил, обновляем копию в памяти.
	req.State = domain.RequestStateFailed
	req.StateReason = reason
	req.UpdatedAt = time.Now().UTC()

	if err := d.notifier.StateChanged(ctx, req); err != nil {
		d.logger.Warn("failed to publish state change",
			"request_id", req.ID,
			"error", err,
		)
	}
}

// failureReason переводит ошибку отправки в state_reason.
func failureReason(err error) string {
	if errors.Is(err, ErrBrokerUnavailable) {
		return domain.StateReasonBrokerUnavailable
	}
	return domain.StateReasonUnknownError
}
