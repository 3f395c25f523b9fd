package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Forge/internal/domain"
	"github.com/shaiso/Forge/internal/telemetry"
)

// BatchStore атомарно сохраняет батчи с запросами. Реализуется BatchRepo.
type BatchStore interface {
	CreateWithRequests(ctx context.Context, batch *domain.Batch, requests []*domain.Request) error
}

// Builder проверяет payload'ы, собирает из них батчи и запускает отправку.
//
// Одиночная отправка — это батч из одного запроса: путь сохранения и
// уведомления общий, различие только в количестве членов.
type Builder struct {
	store      BatchStore
	router     *Router
	dispatcher *Dispatcher
	notifier   Notifier
	logger     *slog.Logger
}

// BuilderConfig — конфигурация Builder.
type BuilderConfig struct {
	Store      BatchStore
	Router     *Router
	Dispatcher *Dispatcher
	Notifier   Notifier
	Logger     *slog.Logger
}

// NewBuilder создаёт новый Builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}

	return &Builder{
		store:      cfg.Store,
		router:     cfg.Router,
		dispatcher: cfg.Dispatcher,
		notifier:   notifier,
		logger:     logger,
	}
}

// SubmitAdd проверяет payload add, сохраняет батч-одиночку и отправляет
// сборку.
func (b *Builder) SubmitAdd(ctx context.Context, caller domain.CallerContext, p domain.AddPayload) (*domain.Request, error) {
	sub, err := b.addSubmission(caller, p)
	if err != nil {
		return nil, err
	}
	if err := b.submit(ctx, caller, nil, []Submission{sub}); err != nil {
		return nil, err
	}
	return sub.Request, nil
}

// SubmitRm проверяет payload rm, сохраняет батч-одиночку и отправляет
// сборку.
func (b *Builder) SubmitRm(ctx context.Context, caller domain.CallerContext, p domain.RmPayload) (*domain.Request, error) {
	sub, err := b.rmSubmission(caller, p)
	if err != nil {
		return nil, err
	}
	if err := b.submit(ctx, caller, nil, []Submission{sub}); err != nil {
		return nil, err
	}
	return sub.Request, nil
}

// SubmitRegenerateBundle проверяет payload regenerate-bundle, сохраняет
// батч-одиночку и отправляет пересборку.
func (b *Builder) SubmitRegenerateBundle(ctx context.Context, caller domain.CallerContext, p domain.RegenerateBundlePayload) (*domain.Request, error) {
	sub, err := b.regenerateBundleSubmission(caller, p)
	if err != nil {
		return nil, err
	}
	if err := b.submit(ctx, caller, nil, []Submission{sub}); err != nil {
		return nil, err
	}
	return sub.Request, nil
}

// SubmitAddRmBatch проверяет все члены батча и сохраняет их одним куском.
// Вариант члена определяется по дискриминирующему полю: operators — rm,
// bundles — add. Первый невалидный член прерывает весь батч: ошибка
// аннотируется его индексом, не сохраняется ничего.
func (b *Builder) SubmitAddRmBatch(ctx context.Context, caller domain.CallerContext, annotations map[string]any, members []json.RawMessage) ([]*domain.Request, error) {
	if len(members) == 0 {
		return nil, domain.Validationf(`"build_requests" should be a non-empty array`)
	}

	subs := make([]Submission, 0, len(members))
	for i, raw := range members {
		sub, err := b.addRmMember(caller, raw)
		if err != nil {
			return nil, annotateMemberError(err, i)
		}
		subs = append(subs, sub)
	}

	return b.submitBatch(ctx, caller, annotations, subs)
}

// SubmitRegenerateBundleBatch проверяет члены батча regenerate-bundle и
// сохраняет их одним куском с той же семантикой всё-или-ничего.
func (b *Builder) SubmitRegenerateBundleBatch(ctx context.Context, caller domain.CallerContext, annotations map[string]any, members []json.RawMessage) ([]*domain.Request, error) {
	if len(members) == 0 {
		return nil, domain.Validationf(`"build_requests" should be a non-empty array`)
	}

	subs := make([]Submission, 0, len(members))
	for i, raw := range members {
		var p domain.RegenerateBundlePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, annotateMemberError(
				domain.Validationf("Build request is not a valid regenerate-bundle request."), i)
		}
		sub, err := b.regenerateBundleSubmission(caller, p)
		if err != nil {
			return nil, annotateMemberError(err, i)
		}
		subs = append(subs, sub)
	}

	return b.submitBatch(ctx, caller, annotations, subs)
}

// addRmMember разбирает один член батча add-rm.
func (b *Builder) addRmMember(caller domain.CallerContext, raw json.RawMessage) (Submission, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Submission{}, domain.Validationf("Build request is not a valid Add/Rm request.")
	}

	switch {
	case hasField(fields, "operators"):
		var p domain.RmPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return Submission{}, domain.Validationf("Build request is not a valid Add/Rm request.")
		}
		return b.rmSubmission(caller, p)

	case hasField(fields, "bundles"):
		var p domain.AddPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return Submission{}, domain.Validationf("Build request is not a valid Add/Rm request.")
		}
		return b.addSubmission(caller, p)

	default:
		return Submission{}, domain.Validationf("Build request is not a valid Add/Rm request.")
	}
}

// addSubmission валидирует payload add и готовит Submission с очередью.
func (b *Builder) addSubmission(caller domain.CallerContext, p domain.AddPayload) (Submission, error) {
	if err := p.Validate(); err != nil {
		return Submission{}, err
	}
	b.forceOverwrite(caller, p.FromIndex, &p.OverwriteFromIndex)

	return Submission{
		Request: domain.NewAddRequest(p, caller.Identity),
		Queue:   b.router.RouteFor(caller, p.OverwriteFromIndex),
		Add:     &p,
	}, nil
}

// rmSubmission валидирует payload rm и готовит Submission с очередью.
func (b *Builder) rmSubmission(caller domain.CallerContext, p domain.RmPayload) (Submission, error) {
	if err := p.Validate(); err != nil {
		return Submission{}, err
	}
	b.forceOverwrite(caller, p.FromIndex, &p.OverwriteFromIndex)

	return Submission{
		Request: domain.NewRmRequest(p, caller.Identity),
		Queue:   b.router.RouteFor(caller, p.OverwriteFromIndex),
		Rm:      &p,
	}, nil
}

// regenerateBundleSubmission валидирует payload regenerate-bundle.
// Перезаписи здесь нет, маршрутизация всегда параллельная.
func (b *Builder) regenerateBundleSubmission(caller domain.CallerContext, p domain.RegenerateBundlePayload) (Submission, error) {
	if err := p.Validate(); err != nil {
		return Submission{}, err
	}

	return Submission{
		Request:          domain.NewRegenerateBundleRequest(p, caller.Identity),
		Queue:            b.router.RouteFor(caller, false),
		RegenerateBundle: &p,
	}, nil
}

// forceOverwrite включает перезапись индекса привилегированному
// вызывающему при включённом глобальном флаге. Применяется после
// валидации payload, чтобы не легализовать невалидные комбинации.
func (b *Builder) forceOverwrite(caller domain.CallerContext, fromIndex string, overwrite *bool) {
	if *overwrite || fromIndex == "" {
		return
	}
	if b.router.ForcesOverwrite(caller) {
		b.logger.Info("forcing overwrite of the from_index image", "user", caller.Identity)
		*overwrite = true
	}
}

// submitBatch сохраняет батч и возвращает его запросы.
func (b *Builder) submitBatch(ctx context.Context, caller domain.CallerContext, annotations map[string]any, subs []Submission) ([]*domain.Request, error) {
	if err := b.submit(ctx, caller, annotations, subs); err != nil {
		return nil, err
	}
	requests := make([]*domain.Request, len(subs))
	for i := range subs {
		requests[i] = subs[i].Request
	}
	return requests, nil
}

// submit атомарно сохраняет батч, публикует единственное событие
// batch.created и запускает отправку. Отправка идёт после коммита и
// в транзакцию не входит: её ошибки проваливают отдельные запросы,
// но не создание батча.
func (b *Builder) submit(ctx context.Context, caller domain.CallerContext, annotations map[string]any, subs []Submission) error {
	batch := &domain.Batch{
		ID:          uuid.New(),
		Annotations: annotations,
		CreatedAt:   time.Now().UTC(),
	}

	requests := make([]*domain.Request, len(subs))
	for i := range subs {
		subs[i].Request.BatchID = batch.ID
		requests[i] = subs[i].Request
		batch.RequestIDs = append(batch.RequestIDs, subs[i].Request.ID)
	}

	if err := b.store.CreateWithRequests(ctx, batch, requests); err != nil {
		return fmt.Errorf("persist batch: %w", err)
	}

	telemetry.BatchesCreated.Inc()
	for _, req := range requests {
		telemetry.RequestsCreated.WithLabelValues(string(req.Type)).Inc()
	}

	b.logger.Info("batch created",
		"batch_id", batch.ID,
		"requests", len(requests),
		"user", caller.Identity,
	)

	if err := b.notifier.BatchCreated(ctx, batch, caller.Identity); err != nil {
		b.logger.Warn("failed to publish batch.created",
			"batch_id", batch.ID,
			"error", err,
		)
	}

	b.dispatcher.Dispatch(ctx, subs)
	return nil
}

// annotateMemberError добавляет к ошибке валидации индекс члена батча
// (нумерация с нуля). Прочие ошибки проходят без изменений.
func annotateMemberError(err error, index int) error {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		msg := strings.TrimSuffix(verr.Message, ".")
		return domain.Validationf("%s. This occurred on the build request in index %d.", msg, index)
	}
	return err
}

// hasField возвращает true, если ключ присутствует и не равен null.
func hasField(fields map[string]json.RawMessage, key string) bool {
	raw, ok := fields[key]
	if !ok {
		return false
	}
	return string(raw) != "null"
}
