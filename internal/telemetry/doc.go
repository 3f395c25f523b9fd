// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики жизненного цикла запросов
//
// Счётчики покрывают путь запроса целиком: создание, отправка в очередь,
// переходы состояний, dead letter и чистку логов. Все сервисы используют
// единый формат логирования и экспортируют метрики на /metrics endpoint.
package telemetry
