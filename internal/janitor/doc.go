// Package janitor реализует уборку логов сборок по расписанию.
//
// Janitor по cron-расписанию находит завершённые запросы, чей срок
// хранения логов (logs.lifetime_days) истёк, и удаляет их файлы
// {logs_dir}/{request_id}.log. После удаления API отвечает на
// GET /builds/{id}/logs статусом 410 Gone.
//
// Использование:
//
//	j, err := janitor.New(janitor.Config{
//	    Requests: requestRepo,
//	    Schedule: cfg.Janitor.Schedule,
//	    LogsDir:  cfg.Logs.Dir,
//	    Lifetime: time.Duration(cfg.Logs.LifetimeDays) * 24 * time.Hour,
//	    Logger:   logger,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Блокируется до отмены контекста
//	j.Run(ctx)
//
// Janitor рассчитан на один экземпляр. Конкурентные прогоны
// безопасны: удаление отсутствующего файла — не ошибка.
package janitor
