package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Forge/internal/domain"
	"github.com/shaiso/Forge/internal/repo"
	"github.com/shaiso/Forge/internal/telemetry"
)

// ListBuilds возвращает список запросов с фильтрацией.
// GET /api/v1/builds?state=...&user=...&batch=...&request_type=...&limit=...&offset=...
func (h *Handler) ListBuilds(w http.ResponseWriter, r *http.Request) {
	filter := repo.RequestFilter{Limit: 50}

	q := r.URL.Query()
	if state := q.Get("state"); state != "" {
		parsed, err := domain.ParseRequestState(state)
		if err != nil {
			BadRequest(w, err.Error())
			return
		}
		filter.State = parsed
	}

	filter.User = q.Get("user")

	if batch := q.Get("batch"); batch != "" {
		id, err := uuid.Parse(batch)
		if err != nil {
			BadRequest(w, "invalid batch id")
			return
		}
		filter.BatchID = &id
	}

	if rt := q.Get("request_type"); rt != "" {
		t := domain.RequestType(rt)
		if !t.Valid() {
			BadRequest(w, fmt.Sprintf("%s is not a valid request type", rt))
			return
		}
		filter.Type = t
	}

	if limit := q.Get("limit"); limit != "" {
		filter.Limit = parseIntOr(limit, 50)
	}
	filter.Offset = parseIntOr(q.Get("offset"), 0)

	requests, err := h.requestRepo.List(r.Context(), filter)
	if HandleRequestError(w, h.logger, err, "") {
		return
	}

	result := make([]RequestResponse, len(requests))
	for i := range requests {
		result[i] = RequestFromDomain(&requests[i])
	}

	List(w, result, len(result))
}

// GetBuild возвращает запрос по ID вместе с историей состояний.
// GET /api/v1/builds/{id}
func (h *Handler) GetBuild(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid build request id")
		return
	}

	req, err := h.requestRepo.GetByID(r.Context(), id)
	if HandleRequestError(w, h.logger, err, "build request not found") {
		return
	}

	history, err := h.requestRepo.GetHistory(r.Context(), id)
	if HandleRequestError(w, h.logger, err, "") {
		return
	}
	req.History = history

	Success(w, RequestFromDomain(req))
}

// GetBuildLogs отдаёт лог сборки как text/plain.
//
// Файл есть — 200 с содержимым. Файла нет: незавершённый запрос — 200 с
// пустым телом (лог ещё пишется), завершённый в пределах ретенции — 404,
// после ретенции — 410 Gone.
// GET /api/v1/builds/{id}/logs
func (h *Handler) GetBuildLogs(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid build request id")
		return
	}

	if h.logsDir == "" {
		NotFound(w, "build logs are not available")
		return
	}

	data, err := os.ReadFile(filepath.Join(h.logsDir, id.String()+".log"))
	if err == nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write(data)
		return
	}
	if !errors.Is(err, fs.ErrNotExist) {
		InternalError(w, h.logger, err)
		return
	}

	req, err := h.requestRepo.GetByID(r.Context(), id)
	if HandleRequestError(w, h.logger, err, "build request not found") {
		return
	}

	if !req.IsFinished() {
		// Запрос выполняется, лог ещё не выгружен.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		return
	}

	if time.Since(req.UpdatedAt) > h.logLifetime {
		Gone(w, fmt.Sprintf("The logs for the build request %s are no longer available", id))
		return
	}

	NotFound(w, "build request logs not found")
}

// PatchBuild применяет отчёт воркера к запросу.
//
// Эндпоинт закрыт для всех, кроме идентичностей из auth.worker_usernames.
// PATCH /api/v1/builds/{id}
func (h *Handler) PatchBuild(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())
	if caller.Authenticated && !h.auth.IsWorker(caller.Identity) {
		Forbidden(w, "This API endpoint is restricted to Forge workers")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid build request id")
		return
	}

	var payload map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		BadRequest(w, "The input data must be a JSON object and it cannot be empty")
		return
	}

	var req *domain.Request
	err = telemetry.Operation(r.Context(), "patch_request", func(ctx context.Context) error {
		var err error
		req, err = h.patcher.Apply(ctx, id, payload)
		return err
	})
	if HandleRequestError(w, h.logger, err, "build request not found") {
		return
	}

	Success(w, RequestFromDomain(req))
}

// GetBatch возвращает батч по ID.
// GET /api/v1/batches/{id}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid batch id")
		return
	}

	batch, err := h.batchRepo.GetByID(r.Context(), id)
	if HandleRequestError(w, h.logger, err, "batch not found") {
		return
	}

	Success(w, BatchFromDomain(batch))
}

// parseIntOr парсит строку в неотрицательный int с дефолтным значением.
func parseIntOr(s string, defaultVal int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
