package domain

import "strings"

// Payload'ы создания запросов. Это JSON-тела клиентских отправок; Batch
// Builder валидирует их и материализует в Request. Секретные поля
// (cnr_token, overwrite_from_index_token, registry_auths) живут только в
// payload и в аргументах рабочего элемента — в базу и в ответы API они
// не попадают никогда.

// AddPayload — тело запроса add.
type AddPayload struct {
	// Bundles — pull spec'и бандлов для добавления. Обязательное, непустое.
	Bundles []string `json:"bundles"`

	// BinaryImage — базовый образ индекса. Обязательное.
	BinaryImage string `json:"binary_image"`

	// FromIndex — исходный индекс. Обязателен, если AddArches пуст.
	FromIndex string `json:"from_index,omitempty"`

	// AddArches — архитектуры для сборки. Обязательны, если FromIndex пуст.
	AddArches []string `json:"add_arches,omitempty"`

	// Organization — организация для публикации бандлов.
	Organization string `json:"organization,omitempty"`

	// CnrToken — токен реестра организации. Секрет, не персистится.
	CnrToken string `json:"cnr_token,omitempty"`

	// ForceBackport — форсировать backport-публикацию.
	ForceBackport bool `json:"force_backport,omitempty"`

	// OverwriteFromIndex — перезаписать from_index результатом.
	OverwriteFromIndex bool `json:"overwrite_from_index,omitempty"`

	// OverwriteFromIndexToken — токен для push в from_index. Секрет.
	OverwriteFromIndexToken string `json:"overwrite_from_index_token,omitempty"`

	// DistributionScope — dev, stage или prod.
	DistributionScope string `json:"distribution_scope,omitempty"`
}

// Validate проверяет поля payload. Сообщения отдаются клиенту как есть.
func (p *AddPayload) Validate() error {
	if err := validateStringList("bundles", p.Bundles, true); err != nil {
		return err
	}
	for _, b := range p.Bundles {
		if err := ValidatePullSpec(b); err != nil {
			return err
		}
	}
	if p.BinaryImage == "" {
		return Validationf(`"binary_image" must be a non-empty string`)
	}
	if err := ValidatePullSpec(p.BinaryImage); err != nil {
		return err
	}
	if p.FromIndex == "" && len(p.AddArches) == 0 {
		return Validationf(`One of "from_index" or "add_arches" must be specified`)
	}
	if p.FromIndex != "" {
		if err := ValidatePullSpec(p.FromIndex); err != nil {
			return err
		}
	}
	if err := validateStringList("add_arches", p.AddArches, false); err != nil {
		return err
	}
	if err := validateOverwriteParams(p.OverwriteFromIndex, p.OverwriteFromIndexToken, p.FromIndex); err != nil {
		return err
	}
	return ValidateDistributionScope(p.DistributionScope)
}

// RmPayload — тело запроса rm.
type RmPayload struct {
	// Operators — имена операторов для удаления. Обязательное, непустое.
	Operators []string `json:"operators"`

	// BinaryImage — базовый образ индекса. Обязательное.
	BinaryImage string `json:"binary_image"`

	// FromIndex — исходный индекс. Для rm обязателен.
	FromIndex string `json:"from_index"`

	// OverwriteFromIndex — перезаписать from_index результатом.
	OverwriteFromIndex bool `json:"overwrite_from_index,omitempty"`

	// OverwriteFromIndexToken — токен для push в from_index. Секрет.
	OverwriteFromIndexToken string `json:"overwrite_from_index_token,omitempty"`

	// DistributionScope — dev, stage или prod.
	DistributionScope string `json:"distribution_scope,omitempty"`
}

// Validate проверяет поля payload.
func (p *RmPayload) Validate() error {
	if err := validateStringList("operators", p.Operators, true); err != nil {
		return err
	}
	if p.BinaryImage == "" {
		return Validationf(`"binary_image" must be a non-empty string`)
	}
	if err := ValidatePullSpec(p.BinaryImage); err != nil {
		return err
	}
	if p.FromIndex == "" {
		return Validationf(`"from_index" must be a non-empty string`)
	}
	if err := ValidatePullSpec(p.FromIndex); err != nil {
		return err
	}
	if err := validateOverwriteParams(p.OverwriteFromIndex, p.OverwriteFromIndexToken, p.FromIndex); err != nil {
		return err
	}
	return ValidateDistributionScope(p.DistributionScope)
}

// RegenerateBundlePayload — тело запроса regenerate-bundle.
type RegenerateBundlePayload struct {
	// FromBundleImage — исходный bundle-образ. Обязательное.
	FromBundleImage string `json:"from_bundle_image"`

	// Organization — организация, под чьи правила пересобирать.
	Organization string `json:"organization,omitempty"`

	// RegistryAuths — docker-style auth'ы для приватных реестров. Секрет.
	RegistryAuths map[string]any `json:"registry_auths,omitempty"`
}

// Validate проверяет поля payload.
func (p *RegenerateBundlePayload) Validate() error {
	if p.FromBundleImage == "" {
		return Validationf(`"from_bundle_image" must be a non-empty string`)
	}
	return ValidatePullSpec(p.FromBundleImage)
}

func validateStringList(name string, values []string, required bool) error {
	if required && len(values) == 0 {
		return Validationf(`%q should be a non-empty array of strings`, name)
	}
	for _, v := range values {
		if v == "" {
			return Validationf(`%q should be a non-empty array of strings`, name)
		}
	}
	return nil
}

func validateOverwriteParams(overwrite bool, token, fromIndex string) error {
	if token != "" && !overwrite {
		return Validationf(`The "overwrite_from_index_token" parameter is provided without the "overwrite_from_index" parameter`)
	}
	if overwrite && fromIndex == "" {
		return Validationf(`The "overwrite_from_index" parameter is only valid when "from_index" is specified`)
	}
	return nil
}

// ValidateDistributionScope проверяет значение distribution_scope.
// Пустая строка допустима: поле опционально.
func ValidateDistributionScope(scope string) error {
	switch scope {
	case "", "dev", "stage", "prod":
		return nil
	default:
		return Validationf(`The "distribution_scope" value must be one of "dev", "stage", or "prod"`)
	}
}

// ValidatePullSpec проверяет, что строка похожа на pull-спецификацию:
// присутствует тег или digest.
func ValidatePullSpec(spec string) error {
	if !strings.ContainsAny(spec, ":@") {
		return Validationf("%s is not a valid pull specification. A tag or a digest is required", spec)
	}
	return nil
}
