// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go        — Handler с DI (оркестратор, репозитории, logger)
//   - routes.go         — регистрация маршрутов
//   - middleware.go     — middleware (logging, recovery, identity)
//   - response.go       — унифицированные JSON-ответы и обработка ошибок
//   - dto.go            — Data Transfer Objects (request/response)
//   - submit_handler.go — обработчики создания запросов и батчей
//   - build_handler.go  — чтение, логи и PATCH запросов, батчи
//
// API предоставляет REST endpoints для отправки и отслеживания запросов
// на сборку индексных образов. Идентичность вызывающего приходит из
// заголовка доверенного прокси (X-Remote-User).
package api
