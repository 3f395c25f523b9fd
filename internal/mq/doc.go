// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - build.add               — задание сборки add
//   - build.rm                — задание сборки rm
//   - build.regenerate-bundle — задание пересборки бандла
//   - build.state-changed     — событие перехода состояния запроса
//   - batch.created           — событие создания батча
//
// Exchanges:
//   - forge.builds      — задания сборок (очереди из конфигурации)
//   - forge.events      — события для внешних подписчиков
//   - forge.builds.dlx  — dead letter exchange недоставленных сборок
package mq
