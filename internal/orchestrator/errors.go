package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrBrokerUnavailable — брокер недоступен при отправке сборки.
	// Текст ошибки попадает в state_reason проваленного запроса как есть.
	ErrBrokerUnavailable = errors.New("broker unavailable")
)
