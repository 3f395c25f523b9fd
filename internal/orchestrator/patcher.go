package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shaiso/Forge/internal/domain"
	"github.com/shaiso/Forge/internal/repo"
	"github.com/shaiso/Forge/internal/telemetry"
)

// Patcher применяет PATCH-отчёты воркеров к запросам.
//
// Воркер может менять только ключи из allow-list'а варианта (см.
// Request.MutableKeys): резолвнутые ссылки на образы, архитектуры,
// bundle_mapping, distribution_scope и пару (state, state_reason).
type Patcher struct {
	requests *repo.RequestRepo
	notifier Notifier
	logger   *slog.Logger
}

// PatcherConfig — конфигурация Patcher.
type PatcherConfig struct {
	Requests *repo.RequestRepo
	Notifier Notifier
	Logger   *slog.Logger
}

// NewPatcher создаёт новый Patcher.
func NewPatcher(cfg PatcherConfig) *Patcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}

	return &Patcher{
		requests: cfg.Requests,
		notifier: notifier,
		logger:   logger,
	}
}

// Apply проверяет и применяет изменения к запросу id. payload — сырые
// ключи PATCH. Возвращает обновлённый запрос.
func (p *Patcher) Apply(ctx context.Context, id uuid.UUID, payload map[string]json.RawMessage) (*domain.Request, error) {
	if len(payload) == 0 {
		return nil, domain.Validationf("The input data must be a JSON object and it cannot be empty")
	}

	req, err := p.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := checkAllowedKeys(req, payload); err != nil {
		return nil, err
	}
	if err := checkStatePair(payload); err != nil {
		return nil, err
	}

	patch, err := buildPatch(payload)
	if err != nil {
		return nil, err
	}

	updated, transitioned, err := p.requests.ApplyPatch(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	if transitioned {
		telemetry.StateTransitions.WithLabelValues(string(updated.State)).Inc()

		p.logger.Info("request state changed",
			"request_id", updated.ID,
			"state", updated.State,
			"state_reason", updated.StateReason,
		)

		if err := p.notifier.StateChanged(ctx, updated); err != nil {
			p.logger.Warn("failed to publish state change",
				"request_id", updated.ID,
				"error", err,
			)
		}
	}

	return updated, nil
}

// checkAllowedKeys сверяет ключи payload с allow-list'ом варианта.
func checkAllowedKeys(req *domain.Request, payload map[string]json.RawMessage) error {
	allowed := req.MutableKeys()

	var invalid []string
	for key := range payload {
		if !allowed[key] {
			invalid = append(invalid, key)
		}
	}
	if len(invalid) == 0 {
		return nil
	}

	sort.Strings(invalid)
	return domain.Validationf("The following keys are not allowed: %s", strings.Join(invalid, ", "))
}

// checkStatePair требует state и state_reason строго парой.
func checkStatePair(payload map[string]json.RawMessage) error {
	_, hasState := payload["state"]
	_, hasReason := payload["state_reason"]

	if hasState && !hasReason {
		return domain.Validationf(`The "state_reason" key is required when "state" is supplied`)
	}
	if hasReason && !hasState {
		return domain.Validationf(`The "state" key is required when "state_reason" is supplied`)
	}
	return nil
}

// buildPatch декодирует значения payload в типизированный RequestPatch.
func buildPatch(payload map[string]json.RawMessage) (repo.RequestPatch, error) {
	var patch repo.RequestPatch

	for key, raw := range payload {
		switch key {
		case "arches":
			var arches []string
			if err := json.Unmarshal(raw, &arches); err != nil || hasEmpty(arches) {
				return patch, domain.Validationf(`The value for "arches" must be an array of non-empty strings`)
			}
			patch.Arches = arches

		case "bundle_mapping":
			var mapping map[string][]string
			if err := json.Unmarshal(raw, &mapping); err != nil {
				return patch, domain.Validationf(`The "bundle_mapping" key must be an object with the values being lists of strings`)
			}
			patch.BundleMapping = mapping

		case "distribution_scope":
			var scope string
			if err := json.Unmarshal(raw, &scope); err != nil {
				return patch, domain.Validationf(`The value for "distribution_scope" must be a non-empty string`)
			}
			if err := domain.ValidateDistributionScope(scope); err != nil {
				return patch, err
			}
			patch.DistributionScope = scope

		case "state":
			var value string
			if err := json.Unmarshal(raw, &value); err != nil {
				return patch, domain.Validationf(`The value for "state" must be a non-empty string`)
			}
			state, err := domain.ParseRequestState(value)
			if err != nil {
				return patch, domain.Validationf("%v", err)
			}
			patch.State = &state

		case "state_reason":
			var reason string
			if err := json.Unmarshal(raw, &reason); err != nil || reason == "" {
				return patch, domain.Validationf(`The value for "state_reason" must be a non-empty string`)
			}
			patch.StateReason = reason

		default:
			// Остальные разрешённые ключи — ссылки на образы.
			var value string
			if err := json.Unmarshal(raw, &value); err != nil || value == "" {
				return patch, domain.Validationf("The value for %q must be a non-empty string", key)
			}
			if patch.ResolvedImages == nil {
				patch.ResolvedImages = make(map[string]string)
			}
			patch.ResolvedImages[key] = value
		}
	}

	return patch, nil
}

// hasEmpty возвращает true, если в списке есть пустая строка.
func hasEmpty(values []string) bool {
	for _, v := range values {
		if v == "" {
			return true
		}
	}
	return false
}
