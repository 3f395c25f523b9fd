package domain

import (
	"errors"
	"fmt"
)

// Ошибки доменного уровня. Слои выше (repo, orchestrator, api) оборачивают
// их через fmt.Errorf("%w: ...") и проверяют errors.Is/errors.As.
var (
	// ErrInvalidState — значение состояния вне фиксированного набора.
	ErrInvalidState = errors.New("invalid state")

	// ErrIllegalTransition — попытка вывести запрос из терминального
	// состояния. Терминальность — инвариант: complete и failed финальны.
	ErrIllegalTransition = errors.New("illegal state transition")
)

// ValidationError — ошибка проверки клиентского payload.
// Message отдаётся клиенту как есть, поэтому текст пишется полными
// предложениями с именами полей в кавычках.
type ValidationError struct {
	Message string
}

// Error возвращает текст ошибки.
func (e *ValidationError) Error() string {
	return e.Message
}

// Validationf создаёт ValidationError с форматированным сообщением.
func Validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation возвращает true, если err (или обёрнутая в нём ошибка) —
// ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
