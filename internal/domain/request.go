package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RequestType — вид запроса на модификацию индекса операторов.
type RequestType string

const (
	// RequestTypeAdd — добавить бандлы в индексный образ.
	RequestTypeAdd RequestType = "add"

	// RequestTypeRm — удалить операторов из индексного образа.
	RequestTypeRm RequestType = "rm"

	// RequestTypeRegenerateBundle — пересобрать bundle-образ.
	RequestTypeRegenerateBundle RequestType = "regenerate-bundle"
)

// Valid возвращает true, если тип входит в поддерживаемый набор.
func (t RequestType) Valid() bool {
	switch t {
	case RequestTypeAdd, RequestTypeRm, RequestTypeRegenerateBundle:
		return true
	default:
		return false
	}
}

// Request — запрос на сборку: общий конверт плюс поля конкретного варианта.
//
// Request создаётся Batch Builder'ом (одиночная отправка — это батч из
// одного элемента), дальше воркеры двигают его по состояниям через
// AddState. Терминальные состояния — complete и failed.
//
// Поля варианта иммутабельны после создания, кроме явного allow-list'а
// (см. MutableKeys): резолвнутые ссылки на образы, добавление архитектур,
// добавления в bundle_mapping и пара (state, state_reason).
type Request struct {
	// ID — уникальный идентификатор запроса.
	ID uuid.UUID `json:"id"`

	// Type — дискриминатор варианта.
	Type RequestType `json:"request_type"`

	// BatchID — батч, в составе которого запрос был создан.
	BatchID uuid.UUID `json:"batch"`

	// User — идентичность отправителя. Пустая строка для анонимных запросов.
	User string `json:"user,omitempty"`

	// State — текущее состояние. Всегда равно последней записи истории.
	State RequestState `json:"state"`

	// StateReason — человекочитаемая причина текущего состояния.
	StateReason string `json:"state_reason"`

	// History — упорядоченная append-only история переходов.
	// Загружается по требованию; при частичной загрузке AddState
	// по-прежнему корректен: ему достаточно текущей пары.
	History []StateEntry `json:"state_history,omitempty"`

	// Arches — архитектуры, для которых собран (или собирается) результат.
	// Набор только растёт: патчи добавляют, удаление не предусмотрено.
	Arches []string `json:"arches"`

	// CreatedAt — время создания запроса.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего перехода состояния.
	UpdatedAt time.Time `json:"updated_at"`

	// Add — поля варианта add. Не nil только при Type == RequestTypeAdd.
	Add *AddDetails `json:"add,omitempty"`

	// Rm — поля варианта rm. Не nil только при Type == RequestTypeRm.
	Rm *RmDetails `json:"rm,omitempty"`

	// RegenerateBundle — поля варианта regenerate-bundle.
	RegenerateBundle *RegenerateBundleDetails `json:"regenerate_bundle,omitempty"`
}

// StateEntry — одна запись истории состояний: (state, reason, timestamp).
type StateEntry struct {
	// State — состояние на момент записи.
	State RequestState `json:"state"`

	// Reason — причина перехода.
	Reason string `json:"state_reason"`

	// UpdatedAt — время перехода.
	UpdatedAt time.Time `json:"updated"`
}

// AddDetails — поля запроса add: какие бандлы добавить и в какой индекс.
type AddDetails struct {
	// Bundles — pull spec'и bundle-образов для добавления.
	Bundles []string `json:"bundles"`

	// BinaryImage — базовый образ, поверх которого собирается индекс.
	BinaryImage string `json:"binary_image"`

	// BinaryImageResolved — BinaryImage, резолвнутый в digest (патчится воркером).
	BinaryImageResolved string `json:"binary_image_resolved,omitempty"`

	// FromIndex — исходный индекс, на основе которого идёт сборка.
	FromIndex string `json:"from_index,omitempty"`

	// FromIndexResolved — FromIndex, резолвнутый в digest.
	FromIndexResolved string `json:"from_index_resolved,omitempty"`

	// IndexImage — итоговый индексный образ (патчится воркером).
	IndexImage string `json:"index_image,omitempty"`

	// IndexImageResolved — итоговый индекс, резолвнутый в digest.
	IndexImageResolved string `json:"index_image_resolved,omitempty"`

	// BundleMapping — оператор → pull spec'и его бандлов.
	// Вычисляется из реестра сущностей при загрузке; пополняется патчами.
	BundleMapping map[string][]string `json:"bundle_mapping,omitempty"`

	// Organization — организация для публикации (router/backport логика воркера).
	Organization string `json:"organization,omitempty"`

	// ForceBackport — принудительный backport при публикации.
	ForceBackport bool `json:"force_backport,omitempty"`

	// OverwriteFromIndex — перезаписать from_index результатом сборки.
	// Требует сериализованного выполнения (см. Queue Router).
	OverwriteFromIndex bool `json:"overwrite_from_index,omitempty"`

	// DistributionScope — контур дистрибуции: dev, stage или prod.
	DistributionScope string `json:"distribution_scope,omitempty"`
}

// RmDetails — поля запроса rm: каких операторов удалить из индекса.
type RmDetails struct {
	// Operators — имена операторов для удаления.
	Operators []string `json:"operators"`

	// BinaryImage — базовый образ, поверх которого собирается индекс.
	BinaryImage string `json:"binary_image"`

	// BinaryImageResolved — BinaryImage, резолвнутый в digest.
	BinaryImageResolved string `json:"binary_image_resolved,omitempty"`

	// FromIndex — исходный индекс. Для rm обязателен.
	FromIndex string `json:"from_index"`

	// FromIndexResolved — FromIndex, резолвнутый в digest.
	FromIndexResolved string `json:"from_index_resolved,omitempty"`

	// IndexImage — итоговый индексный образ.
	IndexImage string `json:"index_image,omitempty"`

	// IndexImageResolved — итоговый индекс, резолвнутый в digest.
	IndexImageResolved string `json:"index_image_resolved,omitempty"`

	// OverwriteFromIndex — перезаписать from_index результатом сборки.
	OverwriteFromIndex bool `json:"overwrite_from_index,omitempty"`

	// DistributionScope — контур дистрибуции: dev, stage или prod.
	DistributionScope string `json:"distribution_scope,omitempty"`
}

// RegenerateBundleDetails — поля запроса regenerate-bundle.
type RegenerateBundleDetails struct {
	// FromBundleImage — исходный bundle-образ.
	FromBundleImage string `json:"from_bundle_image"`

	// FromBundleImageResolved — FromBundleImage, резолвнутый в digest.
	FromBundleImageResolved string `json:"from_bundle_image_resolved,omitempty"`

	// BundleImage — пересобранный bundle-образ (патчится воркером).
	BundleImage string `json:"bundle_image,omitempty"`

	// Organization — организация, под чьи правила пересобирается бандл.
	Organization string `json:"organization,omitempty"`
}

// NewAddRequest строит запрос add из проверенного payload.
// Начальное состояние — in_progress с причиной StateReasonInitiated.
func NewAddRequest(p AddPayload, user string) *Request {
	req := newRequest(RequestTypeAdd, user)
	req.Add = &AddDetails{
		Bundles:            p.Bundles,
		BinaryImage:        p.BinaryImage,
		FromIndex:          p.FromIndex,
		Organization:       p.Organization,
		ForceBackport:      p.ForceBackport,
		OverwriteFromIndex: p.OverwriteFromIndex,
		DistributionScope:  p.DistributionScope,
	}
	return req
}

// NewRmRequest строит запрос rm из проверенного payload.
func NewRmRequest(p RmPayload, user string) *Request {
	req := newRequest(RequestTypeRm, user)
	req.Rm = &RmDetails{
		Operators:          p.Operators,
		BinaryImage:        p.BinaryImage,
		FromIndex:          p.FromIndex,
		OverwriteFromIndex: p.OverwriteFromIndex,
		DistributionScope:  p.DistributionScope,
	}
	return req
}

// NewRegenerateBundleRequest строит запрос regenerate-bundle из
// проверенного payload. registry_auths — секрет, в запрос не попадает.
func NewRegenerateBundleRequest(p RegenerateBundlePayload, user string) *Request {
	req := newRequest(RequestTypeRegenerateBundle, user)
	req.RegenerateBundle = &RegenerateBundleDetails{
		FromBundleImage: p.FromBundleImage,
		Organization:    p.Organization,
	}
	return req
}

func newRequest(t RequestType, user string) *Request {
	now := time.Now().UTC()
	return &Request{
		ID:          uuid.New(),
		Type:        t,
		User:        user,
		State:       RequestStateInProgress,
		StateReason: StateReasonInitiated,
		History: []StateEntry{
			{State: RequestStateInProgress, Reason: StateReasonInitiated, UpdatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddState применяет переход состояния к запросу.
//
// Возвращает (true, nil), если переход применён: запись добавлена в историю
// и стала текущей. Возвращает (false, nil) — NoOp — если пара (state, reason)
// совпадает с текущей: защита от повторной доставки одного и того же отчёта
// (at-least-once семантика слоя выполнения). Уведомления при NoOp не шлются.
//
// Неизвестное состояние — ErrInvalidState. Попытка выйти из терминального
// состояния — ErrIllegalTransition.
func (r *Request) AddState(state RequestState, reason string) (bool, error) {
	if !state.Valid() {
		return false, fmt.Errorf("%w %q: must be one of %q, %q, %q",
			ErrInvalidState, state, RequestStateInProgress, RequestStateComplete, RequestStateFailed)
	}
	if r.State == state && r.StateReason == reason {
		return false, nil
	}
	if r.State.IsTerminal() {
		return false, fmt.Errorf("%w: request %s is in terminal state %q",
			ErrIllegalTransition, r.ID, r.State)
	}
	now := time.Now().UTC()
	r.State = state
	r.StateReason = reason
	r.UpdatedAt = now
	r.History = append(r.History, StateEntry{State: state, Reason: reason, UpdatedAt: now})
	return true, nil
}

// IsFinished возвращает true, если запрос в терминальном состоянии.
func (r *Request) IsFinished() bool {
	return r.State.IsTerminal()
}

// AddArchitecture добавляет архитектуру в набор запроса.
// Возвращает false, если такая уже есть (набор, не список).
func (r *Request) AddArchitecture(name string) bool {
	for _, a := range r.Arches {
		if a == name {
			return false
		}
	}
	r.Arches = append(r.Arches, name)
	return true
}

// MutableKeys возвращает allow-list ключей, которые разрешено патчить
// после создания запроса. Состав зависит от варианта.
func (r *Request) MutableKeys() map[string]bool {
	keys := map[string]bool{
		"arches":       true,
		"state":        true,
		"state_reason": true,
	}
	switch r.Type {
	case RequestTypeAdd:
		keys["binary_image_resolved"] = true
		keys["from_index_resolved"] = true
		keys["index_image"] = true
		keys["index_image_resolved"] = true
		keys["bundle_mapping"] = true
		keys["distribution_scope"] = true
	case RequestTypeRm:
		keys["binary_image_resolved"] = true
		keys["from_index_resolved"] = true
		keys["index_image"] = true
		keys["index_image_resolved"] = true
		keys["distribution_scope"] = true
	case RequestTypeRegenerateBundle:
		keys["from_bundle_image_resolved"] = true
		keys["bundle_image"] = true
	}
	return keys
}

// RequiresOverwrite возвращает true, если payload запросил перезапись
// from_index. Такие запросы маршрутизируются в сериализованную очередь.
func (r *Request) RequiresOverwrite() bool {
	switch {
	case r.Add != nil:
		return r.Add.OverwriteFromIndex
	case r.Rm != nil:
		return r.Rm.OverwriteFromIndex
	default:
		return false
	}
}
