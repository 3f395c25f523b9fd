package domain

import "fmt"

// RequestState — состояние запроса на сборку.
//
// Жизненный цикл:
//
//	in_progress → complete
//	            ↘ failed
//
// complete и failed — терминальные состояния: выход из них запрещён,
// допускается только идемпотентный повтор той же пары (state, reason).
type RequestState string

const (
	// RequestStateInProgress — запрос создан и выполняется.
	// Начальное состояние каждого запроса.
	RequestStateInProgress RequestState = "in_progress"

	// RequestStateComplete — запрос успешно завершён.
	RequestStateComplete RequestState = "complete"

	// RequestStateFailed — запрос завершился с ошибкой.
	RequestStateFailed RequestState = "failed"
)

// Valid возвращает true, если значение входит в фиксированный набор состояний.
func (s RequestState) Valid() bool {
	switch s {
	case RequestStateInProgress, RequestStateComplete, RequestStateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal возвращает true, если состояние финальное.
func (s RequestState) IsTerminal() bool {
	switch s {
	case RequestStateComplete, RequestStateFailed:
		return true
	default:
		return false
	}
}

// ParseRequestState парсит строку в RequestState.
// Возвращает ErrInvalidState для неизвестного значения.
func ParseRequestState(s string) (RequestState, error) {
	state := RequestState(s)
	if !state.Valid() {
		return "", fmt.Errorf("%w %q: must be one of %q, %q, %q",
			ErrInvalidState, s, RequestStateInProgress, RequestStateComplete, RequestStateFailed)
	}
	return state, nil
}

// Стандартные state_reason, которые проставляет сама система.
// Воркеры передают произвольные причины при отчёте о прогрессе.
const (
	// StateReasonInitiated — причина начального состояния при создании запроса.
	StateReasonInitiated = "The request was initiated"

	// StateReasonCompleted — причина успешного завершения.
	StateReasonCompleted = "The request completed successfully"

	// StateReasonBrokerUnavailable — заявка не дошла до брокера при отправке.
	StateReasonBrokerUnavailable = "broker unavailable"

	// StateReasonUnknownError — рабочий элемент упал без внятного отчёта
	// (сообщение попало в dead-letter очередь).
	StateReasonUnknownError = "An unknown error occurred"
)
