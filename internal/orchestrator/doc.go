// Package orchestrator превращает проверенные запросы в отправленные сборки.
//
// Компоненты:
//   - Router     — выбор очереди сборки по пользователю и payload
//   - Builder    — валидация батча, атомарное сохранение, событие batch.created
//   - Dispatcher — подготовка аргументов и отправка сборок по очередям
//   - Patcher    — применение PATCH от воркера с контролем переходов
//   - Watcher    — пометка недоставленных сборок из DLQ проваленными
//
// Orchestrator — это "мозг" системы: принять, сохранить, отправить.
package orchestrator
