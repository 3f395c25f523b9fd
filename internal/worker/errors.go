package worker

import (
	"errors"
	"fmt"
)

// Ошибки воркера.
var (
	// ErrUnknownBuildType — нет runner'а для данного типа сообщения.
	ErrUnknownBuildType = errors.New("unknown build type")

	// ErrMissingRequestID — в payload сообщения нет request_id.
	ErrMissingRequestID = errors.New("build message without request_id")
)

// BuildError — ожидаемый провал сборки: образ не резолвится, opm
// вернул ошибку и т.п. Запрос помечается failed с текстом ошибки,
// сообщение подтверждается.
//
// Все прочие ошибки (API недоступен, контекст отменён) считаются
// инфраструктурными: сообщение уходит в DLQ, запрос пометит вотчер
// провалившихся сборок.
type BuildError struct {
	Message string
}

// Error реализует интерфейс error.
func (e *BuildError) Error() string {
	return e.Message
}

// Buildf создаёт BuildError с форматированным сообщением.
func Buildf(format string, args ...any) error {
	return &BuildError{Message: fmt.Sprintf(format, args...)}
}
