package config

import (
	"reflect"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Config — конфигурация всех бинарей Forge. Каждый процесс читает общий
// файл/окружение и берёт свои секции.
type Config struct {
	// HTTP — настройки API-сервера.
	HTTP HTTPConfig `mapstructure:"http"`

	// DB — подключение к Postgres.
	DB DBConfig `mapstructure:"db"`

	// AMQP — подключение к RabbitMQ.
	AMQP AMQPConfig `mapstructure:"amqp"`

	// Auth — идентичности и привилегии.
	Auth AuthConfig `mapstructure:"auth"`

	// Queues — маршрутизация запросов по очередям.
	Queues QueueConfig `mapstructure:"queues"`

	// ForceOverwriteFromIndex — глобальный флаг: привилегированные
	// отправители принудительно получают overwrite (и сериализацию).
	ForceOverwriteFromIndex bool `mapstructure:"force_overwrite_from_index"`

	// Gating — политика gating-проверок по имени очереди.
	Gating map[string]GatingPolicy `mapstructure:"gating"`

	// Logs — хранение и ретенция логов сборок.
	Logs LogsConfig `mapstructure:"logs"`

	// Worker — настройки воркера.
	Worker WorkerConfig `mapstructure:"worker"`

	// Janitor — расписание уборки.
	Janitor JanitorConfig `mapstructure:"janitor"`
}

// HTTPConfig — настройки HTTP-сервера API.
type HTTPConfig struct {
	// Addr — адрес прослушивания, например ":8080".
	Addr string `mapstructure:"addr"`
}

// DBConfig — настройки Postgres.
type DBConfig struct {
	// URL — строка подключения (postgres://...).
	URL string `mapstructure:"url"`
}

// AMQPConfig — настройки RabbitMQ.
type AMQPConfig struct {
	// URL — строка подключения (amqp://...). Пустая строка — брокер
	// не используется, процессы работают в деградированном режиме.
	URL string `mapstructure:"url"`
}

// AuthConfig — доверенные идентичности.
type AuthConfig struct {
	// Disabled — отключает требование идентичности на создающих эндпоинтах.
	Disabled bool `mapstructure:"disabled"`

	// WorkerUsernames — идентичности, которым разрешён PATCH запросов.
	WorkerUsernames []string `mapstructure:"worker_usernames"`

	// PrivilegedUsernames — отправители, попадающие под
	// force_overwrite_from_index.
	PrivilegedUsernames []string `mapstructure:"privileged_usernames"`
}

// QueueConfig — маршрутизация по очередям.
type QueueConfig struct {
	// Default — очередь по умолчанию. Туда уходят анонимные запросы и
	// все, для кого нет записи в UserToQueue.
	Default string `mapstructure:"default"`

	// UserToQueue — отображение идентичности в очередь. Ключ — либо
	// голая идентичность, либо с префиксом "SERIAL:"/"PARALLEL:" для
	// раздельной маршрутизации сериализованных запросов.
	UserToQueue map[string]string `mapstructure:"user_to_queue"`
}

// AllQueues возвращает очередь по умолчанию и все очереди из UserToQueue
// без дубликатов, отсортированные. Используется при объявлении топологии.
func (q QueueConfig) AllQueues() []string {
	seen := map[string]bool{q.Default: true}
	queues := []string{q.Default}
	for _, name := range q.UserToQueue {
		if name != "" && !seen[name] {
			seen[name] = true
			queues = append(queues, name)
		}
	}
	sort.Strings(queues)
	return queues
}

// GatingPolicy — параметры gating-проверки перед публикацией.
type GatingPolicy struct {
	// DecisionContext — контекст решения в системе gating.
	DecisionContext string `mapstructure:"decision_context" json:"decision_context"`

	// ProductVersion — версия продукта для проверки.
	ProductVersion string `mapstructure:"product_version" json:"product_version"`

	// SubjectType — тип проверяемого субъекта.
	SubjectType string `mapstructure:"subject_type" json:"subject_type"`
}

// LogsConfig — логи сборок.
type LogsConfig struct {
	// Dir — каталог с файлами логов ({request_id}.log). Пустая строка —
	// выдача логов через API отключена.
	Dir string `mapstructure:"dir"`

	// LifetimeDays — сколько дней после завершения запроса логи доступны.
	LifetimeDays int `mapstructure:"lifetime_days"`
}

// WorkerConfig — настройки воркера.
type WorkerConfig struct {
	// Queue — очередь, которую слушает этот воркер.
	// Пустая строка — очередь по умолчанию из Queues.Default.
	Queue string `mapstructure:"queue"`

	// Prefetch — QoS prefetch. Для сериализованных очередей ставится 1.
	Prefetch int `mapstructure:"prefetch"`

	// APIURL — базовый URL API для отчётов о прогрессе.
	APIURL string `mapstructure:"api_url"`

	// Username — идентичность воркера для PATCH-отчётов.
	// Должна входить в auth.worker_usernames на стороне API.
	Username string `mapstructure:"username"`

	// Skopeo — путь к бинарю skopeo для резолва образов.
	Skopeo string `mapstructure:"skopeo"`

	// Opm — путь к бинарю opm для операций над индексом.
	Opm string `mapstructure:"opm"`

	// Registry — реестр, куда пушатся собранные образы.
	// Итоговый индекс: {registry}/forge-build:{request_id}.
	Registry string `mapstructure:"registry"`
}

// JanitorConfig — настройки уборщика.
type JanitorConfig struct {
	// Schedule — cron-выражение запуска уборки (5 полей).
	Schedule string `mapstructure:"schedule"`
}

// Load читает конфигурацию из файла forge.yaml (текущий каталог или
// /etc/forge) и переменных окружения с префиксом FORGE. Точка в ключе
// заменяется подчёркиванием: "db.url" становится "FORGE_DB_URL".
func Load() (*Config, error) {
	cfg := &Config{
		HTTP:    HTTPConfig{Addr: ":8080"},
		Queues:  QueueConfig{Default: "forge-builds"},
		Logs:    LogsConfig{LifetimeDays: 30},
		Worker:  WorkerConfig{Prefetch: 1, APIURL: "http://localhost:8080", Username: "worker", Skopeo: "skopeo", Opm: "opm"},
		Janitor: JanitorConfig{Schedule: "0 3 * * *"},
	}

	v := viper.New()
	v.SetConfigName("forge")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/forge")
	v.SetEnvPrefix("FORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs регистрирует все ключи cfg, чтобы viper смотрел соответствующие
// переменные окружения при Unmarshal.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}

// IsWorker возвращает true, если identity входит в список воркеров.
func (a AuthConfig) IsWorker(identity string) bool {
	for _, u := range a.WorkerUsernames {
		if u == identity {
			return true
		}
	}
	return false
}

// IsPrivileged возвращает true, если identity привилегирована.
func (a AuthConfig) IsPrivileged(identity string) bool {
	for _, u := range a.PrivilegedUsernames {
		if u == identity {
			return true
		}
	}
	return false
}
