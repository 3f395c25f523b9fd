package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shaiso/Forge/internal/domain"
	"github.com/shaiso/Forge/internal/telemetry"
)

// SubmitAdd создаёт запрос add и отправляет сборку.
// POST /api/v1/builds/add
func (h *Handler) SubmitAdd(w http.ResponseWriter, r *http.Request) {
	var payload domain.AddPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		BadRequest(w, "The input data must be a JSON object")
		return
	}

	caller := CallerFrom(r.Context())

	var req *domain.Request
	err := telemetry.Operation(r.Context(), "submit_add", func(ctx context.Context) error {
		var err error
		req, err = h.builder.SubmitAdd(ctx, caller, payload)
		return err
	})
	if HandleRequestError(w, h.logger, err, "") {
		return
	}

	Created(w, RequestFromDomain(req))
}

// SubmitRm создаёт запрос rm и отправляет сборку.
// POST /api/v1/builds/rm
func (h *Handler) SubmitRm(w http.ResponseWriter, r *http.Request) {
	var payload domain.RmPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		BadRequest(w, "The input data must be a JSON object")
		return
	}

	caller := CallerFrom(r.Context())

	var req *domain.Request
	err := telemetry.Operation(r.Context(), "submit_rm", func(ctx context.Context) error {
		var err error
		req, err = h.builder.SubmitRm(ctx, caller, payload)
		return err
	})
	if HandleRequestError(w, h.logger, err, "") {
		return
	}

	Created(w, RequestFromDomain(req))
}

// SubmitRegenerateBundle создаёт запрос regenerate-bundle и отправляет
// пересборку.
// POST /api/v1/builds/regenerate-bundle
func (h *Handler) SubmitRegenerateBundle(w http.ResponseWriter, r *http.Request) {
	var payload domain.RegenerateBundlePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		BadRequest(w, "The input data must be a JSON object")
		return
	}

	caller := CallerFrom(r.Context())

	var req *domain.Request
	err := telemetry.Operation(r.Context(), "submit_regenerate_bundle", func(ctx context.Context) error {
		var err error
		req, err = h.builder.SubmitRegenerateBundle(ctx, caller, payload)
		return err
	})
	if HandleRequestError(w, h.logger, err, "") {
		return
	}

	Created(w, RequestFromDomain(req))
}

// SubmitAddRmBatch создаёт смешанный батч add/rm запросов.
// POST /api/v1/builds/add-rm-batch
func (h *Handler) SubmitAddRmBatch(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBatch(w, r)
	if !ok {
		return
	}

	caller := CallerFrom(r.Context())

	var requests []*domain.Request
	err := telemetry.Operation(r.Context(), "submit_add_rm_batch", func(ctx context.Context) error {
		var err error
		requests, err = h.builder.SubmitAddRmBatch(ctx, caller, body.Annotations, body.BuildRequests)
		return err
	})
	if HandleRequestError(w, h.logger, err, "") {
		return
	}

	Created(w, RequestsFromDomain(requests))
}

// SubmitRegenerateBundleBatch создаёт батч regenerate-bundle запросов.
// POST /api/v1/builds/regenerate-bundle-batch
func (h *Handler) SubmitRegenerateBundleBatch(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBatch(w, r)
	if !ok {
		return
	}

	caller := CallerFrom(r.Context())

	var requests []*domain.Request
	err := telemetry.Operation(r.Context(), "submit_regenerate_bundle_batch", func(ctx context.Context) error {
		var err error
		requests, err = h.builder.SubmitRegenerateBundleBatch(ctx, caller, body.Annotations, body.BuildRequests)
		return err
	})
	if HandleRequestError(w, h.logger, err, "") {
		return
	}

	Created(w, RequestsFromDomain(requests))
}

// decodeBatch декодирует конверт батча из тела запроса.
func decodeBatch(w http.ResponseWriter, r *http.Request) (BatchRequest, bool) {
	var body BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.BuildRequests == nil {
		BadRequest(w, `The input data must be a JSON object and the "build_requests" array must be provided`)
		return BatchRequest{}, false
	}
	return body, true
}
