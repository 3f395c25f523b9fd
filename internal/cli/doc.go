// Package cli реализует инструмент командной строки Forge.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Forge API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется для отправки запросов на сборку индексов,
// просмотра их состояния и логов.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Forge API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (dataResponse, listResponse, errorResponse)
// и обработку ошибок. Имя пользователя из --user передаётся
// заголовком X-Remote-User.
//
//	client := cli.NewClient("http://localhost:8080", "alice")
//	builds, err := client.ListBuilds(cli.ListBuildsOpts{State: "in_progress"})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: forge builds list --json | jq .
// Логи сборки выводятся как есть через Raw.
//
// ## Commands
//
// Cobra-команды организованы по операциям API:
//   - add, rm, regenerate-bundle: отправка запросов на сборку
//   - builds: list, show, logs
//   - batch: add-rm, regenerate-bundle, show
//
// Каждая группа создаётся через фабричную функцию (NewBuildsCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
