package domain

import "github.com/google/uuid"

// Реестр сущностей: value-объекты, идентифицируемые натуральным значением
// (pull spec, имя). Семантика get-or-create: одно и то же значение всегда
// резолвится в одну и ту же строку; дедупликация при конкурентном создании
// обеспечивается уникальным констрейнтом на стороне БД. Сущности реестра
// никогда не удаляются.

// Image — контейнерный образ, на который ссылаются запросы.
type Image struct {
	// ID — суррогатный идентификатор.
	ID uuid.UUID `json:"id"`

	// PullSpec — полная pull-спецификация (registry/repo:tag или @digest).
	// Натуральный ключ.
	PullSpec string `json:"pull_specification"`

	// OperatorID — оператор, которому принадлежит bundle-образ.
	// Проставляется патчами bundle_mapping; для индексных образов пуст.
	OperatorID uuid.NullUUID `json:"-"`
}

// Operator — оператор, чьи бандлы попадают в индекс.
type Operator struct {
	// ID — суррогатный идентификатор.
	ID uuid.UUID `json:"id"`

	// Name — имя оператора. Натуральный ключ.
	Name string `json:"name"`
}

// Architecture — целевая архитектура сборки (amd64, s390x, ...).
type Architecture struct {
	// ID — суррогатный идентификатор.
	ID uuid.UUID `json:"id"`

	// Name — имя архитектуры. Натуральный ключ.
	Name string `json:"name"`
}
