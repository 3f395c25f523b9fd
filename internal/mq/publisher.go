package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeBuildAdd              MessageType = "build.add"
	MessageTypeBuildRm               MessageType = "build.rm"
	MessageTypeBuildRegenerateBundle MessageType = "build.regenerate-bundle"
	MessageTypeStateChanged          MessageType = "build.state-changed"
	MessageTypeBatchCreated          MessageType = "batch.created"
)

// RedactedValue подставляется вместо секретов в отображаемых аргументах.
const RedactedValue = "*****"

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// GatingPolicy — параметры gating-проверки, передаваемые воркеру.
type GatingPolicy struct {
	DecisionContext string `json:"decision_context"`
	ProductVersion  string `json:"product_version"`
	SubjectType     string `json:"subject_type"`
}

// AddBuildPayload — аргументы сборки add. Токены — секреты: наружу
// payload уходит целиком, в логи — только через Redacted.
type AddBuildPayload struct {
	RequestID          uuid.UUID     `json:"request_id"`
	Bundles            []string      `json:"bundles"`
	BinaryImage        string        `json:"binary_image"`
	FromIndex          string        `json:"from_index,omitempty"`
	AddArches          []string      `json:"add_arches,omitempty"`
	CnrToken           string        `json:"cnr_token,omitempty"`
	Organization       string        `json:"organization,omitempty"`
	ForceBackport      bool          `json:"force_backport,omitempty"`
	OverwriteFromIndex bool          `json:"overwrite_from_index,omitempty"`
	OverwriteToken     string        `json:"overwrite_from_index_token,omitempty"`
	DistributionScope  string        `json:"distribution_scope,omitempty"`
	Gating             *GatingPolicy `json:"gating,omitempty"`
}

// Redacted возвращает копию для логирования с маскированными секретами.
func (p AddBuildPayload) Redacted() AddBuildPayload {
	if p.CnrToken != "" {
		p.CnrToken = RedactedValue
	}
	if p.OverwriteToken != "" {
		p.OverwriteToken = RedactedValue
	}
	return p
}

// RmBuildPayload — аргументы сборки rm.
type RmBuildPayload struct {
	RequestID          uuid.UUID `json:"request_id"`
	Operators          []string  `json:"operators"`
	BinaryImage        string    `json:"binary_image"`
	FromIndex          string    `json:"from_index"`
	OverwriteFromIndex bool      `json:"overwrite_from_index,omitempty"`
	OverwriteToken     string    `json:"overwrite_from_index_token,omitempty"`
	DistributionScope  string    `json:"distribution_scope,omitempty"`
}

// Redacted возвращает копию для логирования с маскированными секретами.
func (p RmBuildPayload) Redacted() RmBuildPayload {
	if p.OverwriteToken != "" {
		p.OverwriteToken = RedactedValue
	}
	return p
}

// RegenerateBundleBuildPayload — аргументы пересборки бандла.
type RegenerateBundleBuildPayload struct {
	RequestID       uuid.UUID      `json:"request_id"`
	FromBundleImage string         `json:"from_bundle_image"`
	Organization    string         `json:"organization,omitempty"`
	RegistryAuths   map[string]any `json:"registry_auths,omitempty"`
}

// Redacted возвращает копию для логирования с маскированными секретами.
// registry_auths маскируются целиком.
func (p RegenerateBundleBuildPayload) Redacted() RegenerateBundleBuildPayload {
	if p.RegistryAuths != nil {
		p.RegistryAuths = map[string]any{"auths": RedactedValue}
	}
	return p
}

// StateChangedPayload — событие перехода состояния запроса.
type StateChangedPayload struct {
	RequestID   uuid.UUID `json:"request_id"`
	RequestType string    `json:"request_type"`
	BatchID     uuid.UUID `json:"batch"`
	State       string    `json:"state"`
	StateReason string    `json:"state_reason"`
	UpdatedAt   time.Time `json:"updated"`
}

// BatchCreatedPayload — событие создания батча.
type BatchCreatedPayload struct {
	BatchID     uuid.UUID      `json:"batch"`
	RequestIDs  []uuid.UUID    `json:"requests"`
	Annotations map[string]any `json:"annotations,omitempty"`
	User        string         `json:"user,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishBuild публикует задание сборки в очередь queue.
// Потребитель: Worker, подписанный на эту очередь.
func (p *Publisher) PublishBuild(ctx context.Context, queue string, msgType MessageType, payload any) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeBuilds, RoutingKey(queue), msg)
}

// PublishStateChanged публикует событие перехода состояния.
// Потребители: внешние подписчики forge.events.
func (p *Publisher) PublishStateChanged(ctx context.Context, payload StateChangedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeStateChanged,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeEvents, RoutingKeyStateChanged, msg)
}

// PublishBatchCreated публикует событие создания батча.
// Потребители: внешние подписчики forge.events.
func (p *Publisher) PublishBatchCreated(ctx context.Context, payload BatchCreatedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeBatchCreated,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeEvents, RoutingKeyBatchCreated, msg)
}

// PublishJSON публикует произвольный JSON payload.
func (p *Publisher) PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, exchange, routingKey, msg)
}
