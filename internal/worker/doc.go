// Package worker выполняет запросы на сборку индексных образов.
//
// # Обзор
//
// Worker — stateless компонент системы Forge, который выполняет
// сборки, созданные оркестратором. Worker отвечает за:
//
//   - Получение работы из назначенной очереди RabbitMQ
//   - Выполнение сборки через внешние утилиты (skopeo, opm)
//   - PATCH-отчёты о ходе сборки в API (состояния и резолвнутые образы)
//   - Запись лога сборки каждого запроса в файл {logs_dir}/{id}.log
//
// Воркеры масштабируются горизонтально в пределах одной очереди.
// Очереди с overwrite_from_index обслуживаются одним воркером с
// prefetch=1: перезапись общего индекса не параллелится.
//
// # Ключевые компоненты
//
// ## Worker
//
// Основная структура, управляющая жизненным циклом. Создаётся через
// New(cfg Config) и запускается методом Start(ctx).
//
//	w := worker.New(worker.Config{
//	    Conn:     mqConn,
//	    Queue:    queue,
//	    Prefetch: prefetch,
//	    Registry: registry,
//	    Reporter: reporter,
//	    LogsDir:  logsDir,
//	    Logger:   logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// ## Runner
//
// Интерфейс выполнения сборки конкретного типа запроса:
//
//	type Runner interface {
//	    Run(ctx context.Context, build *Build) error
//	}
//
// Реализации:
//   - AddRunner — добавление бандлов в индекс (opm index add)
//   - RmRunner — удаление операторов из индекса (opm index rm)
//   - RegenerateBundleRunner — пересборка бандла оператора
//
// ## Registry
//
// Реестр runner'ов по типу сообщения. NewRegistry(cfg) создаёт реестр
// с runner'ами всех типов сборок (build.add, build.rm,
// build.regenerate-bundle).
//
// ## Reporter
//
// HTTP-клиент PATCH /api/v1/builds/{id}. Воркер не ходит в БД:
// состояния, резолвнутые ссылки и результаты сборки он сообщает
// только через API, представляясь заголовком X-Remote-User.
//
// # Обработка сборки
//
//  1. Получение сообщения из очереди
//  2. Выбор runner'а по типу сообщения
//  3. Открытие файла лога запроса
//  4. Выполнение: резолв образов, сборка, пуш
//  5. Успех → PATCH complete, "The request completed successfully"
//  6. Ожидаемый провал (*BuildError) → PATCH failed с текстом ошибки, ack
//  7. Инфраструктурная ошибка → nack без requeue, сообщение уходит в
//     DLQ, запрос пометит вотчер провалившихся сборок
//
// # Ошибки
//
// Пакет различает два уровня ошибок:
//   - Ожидаемые (*BuildError) — образ не резолвится, opm вернул ошибку;
//     запрос помечается failed, сообщение подтверждается
//   - Инфраструктурные (все прочие) — API недоступен, контекст отменён;
//     сообщение уходит в DLQ
//
// Повторные доставки безопасны: одинаковые PATCH'и состояния
// схлопываются на стороне API без новой записи истории.
package worker
