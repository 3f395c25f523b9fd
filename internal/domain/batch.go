package domain

import (
	"time"

	"github.com/google/uuid"
)

// Batch — группа запросов, созданная атомарно.
//
// Каждый запрос принадлежит батчу: одиночная отправка — это батч из одного
// элемента, так что уведомление "создан новый батч" едино для обоих путей.
// Персистентность all-or-nothing: либо батч и все его запросы записаны в
// одной транзакции, либо ничего. Ошибки диспатча после коммита батч
// не откатывают.
type Batch struct {
	// ID — уникальный идентификатор батча.
	ID uuid.UUID `json:"id"`

	// Annotations — произвольные клиентские аннотации (JSON-объект).
	Annotations map[string]any `json:"annotations,omitempty"`

	// RequestIDs — идентификаторы запросов батча в порядке отправки.
	RequestIDs []uuid.UUID `json:"requests,omitempty"`

	// CreatedAt — время создания батча.
	CreatedAt time.Time `json:"created_at"`
}

// CallerContext — явная идентичность вызывающего.
//
// Передаётся параметром в Queue Router и Batch Builder вместо чтения
// глобального состояния сессии: кто вызвал — всегда видно в сигнатуре.
type CallerContext struct {
	// Identity — имя вызывающего (из доверенного прокси).
	Identity string

	// Authenticated — true, если прокси подтвердил идентичность.
	// Неаутентифицированные запросы всегда уходят в очередь по умолчанию.
	Authenticated bool
}
