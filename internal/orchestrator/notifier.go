package orchestrator

import (
	"context"

	"github.com/shaiso/Forge/internal/domain"
	"github.com/shaiso/Forge/internal/mq"
)

// Notifier публикует события жизненного цикла запросов для внешних
// подписчиков. Ошибки публикации не должны проваливать операцию:
// вызывающий логирует их и продолжает.
type Notifier interface {
	// StateChanged публикует событие перехода состояния запроса.
	StateChanged(ctx context.Context, req *domain.Request) error

	// BatchCreated публикует событие создания батча. Вызывается ровно
	// один раз на батч, включая батчи-одиночки.
	BatchCreated(ctx context.Context, batch *domain.Batch, user string) error
}

// AMQPNotifier публикует события в обменник forge.events.
type AMQPNotifier struct {
	publisher *mq.Publisher
}

// NewAMQPNotifier создаёт Notifier поверх RabbitMQ publisher.
func NewAMQPNotifier(publisher *mq.Publisher) *AMQPNotifier {
	return &AMQPNotifier{publisher: publisher}
}

func (n *AMQPNotifier) StateChanged(ctx context.Context, req *domain.Request) error {
	return n.publisher.PublishStateChanged(ctx, mq.StateChangedPayload{
		RequestID:   req.ID,
		RequestType: string(req.Type),
		BatchID:     req.BatchID,
		State:       string(req.State),
		StateReason: req.StateReason,
		UpdatedAt:   req.UpdatedAt,
	})
}

func (n *AMQPNotifier) BatchCreated(ctx context.Context, batch *domain.Batch, user string) error {
	return n.publisher.PublishBatchCreated(ctx, mq.BatchCreatedPayload{
		BatchID:     batch.ID,
		RequestIDs:  batch.RequestIDs,
		Annotations: batch.Annotations,
		User:        user,
	})
}

// NopNotifier — заглушка для тестов и конфигураций без брокера событий.
type NopNotifier struct{}

func (NopNotifier) StateChanged(ctx context.Context, req *domain.Request) error { return nil }

func (NopNotifier) BatchCreated(ctx context.Context, batch *domain.Batch, user string) error {
	return nil
}
