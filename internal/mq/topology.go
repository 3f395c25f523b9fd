package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeBuilds Exchange = "forge.builds"
	ExchangeEvents Exchange = "forge.events"
	ExchangeDLX    Exchange = "forge.builds.dlx"
)

// Queues — статические имена очередей. Очереди сборок задаются
// конфигурацией и объявляются по списку в SetupTopology.
const (
	QueueFailedBuilds Queue = "builds.failed"
)

// Routing keys.
const (
	RoutingKeyFailed       RoutingKey = "failed"
	RoutingKeyStateChanged RoutingKey = "build.state-changed"
	RoutingKeyBatchCreated RoutingKey = "batch.created"
)

// SetupTopology объявляет обменники и очереди. buildQueues — очереди
// сборок из конфигурации; каждая привязывается к forge.builds с ключом,
// равным имени очереди, и получает DLX на builds.failed.
func SetupTopology(ctx context.Context, conn *Connection, buildQueues []string) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch, buildQueues); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		if err := bindQueues(ch, buildQueues); err != nil {
			return err
		}

		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeBuilds, "direct"},
		{ExchangeEvents, "topic"},
		{ExchangeDLX, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel, buildQueues []string) error {
	// Недоставленные сборки уходят в builds.failed через DLX.
	dlxArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLX),
		"x-dead-letter-routing-key": string(RoutingKeyFailed),
	}

	queues := []struct {
		name string
		args amqp.Table
	}{
		// builds.failed — сама DLQ очередь
		{string(QueueFailedBuilds), nil},
	}
	for _, q := range buildQueues {
		queues = append(queues, struct {
			name string
			args amqp.Table
		}{q, dlxArgs})
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			q.name, // name
			true,   // durable
			false,  // delete when unused
			false,  // exclusive
			false,  // no-wait
			q.args, // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel, buildQueues []string) error {
	bindings := []struct {
		queue      string
		routingKey string
		exchange   Exchange
	}{
		{string(QueueFailedBuilds), string(RoutingKeyFailed), ExchangeDLX},
	}
	for _, q := range buildQueues {
		bindings = append(bindings, struct {
			queue      string
			routingKey string
			exchange   Exchange
		}{q, q, ExchangeBuilds})
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			b.queue,            // queue name
			b.routingKey,       // routing key
			string(b.exchange), // exchange
			false,              // no-wait
			nil,                // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Forge RabbitMQ Topology:

    forge.builds (direct)
    └── <build queue per config> [routing: queue name]
            Consumer: Worker
            DLQ: builds.failed

    forge.builds.dlx (direct)
    └── builds.failed [routing: failed]
            Consumer: API failure watcher

    forge.events (topic)
    ├── build.state-changed
    └── batch.created
            External consumers bind their own queues
  `
}
