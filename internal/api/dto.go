package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Forge/internal/domain"
)

// Build request DTOs.
//
// Тела создания декодируются сразу в domain.*Payload: payload'ы и есть
// проводной формат. Здесь только ответы и конверты батчей.

// BatchRequest — тело батч-эндпоинтов.
type BatchRequest struct {
	Annotations   map[string]any    `json:"annotations,omitempty"`
	BuildRequests []json.RawMessage `json:"build_requests"`
}

// RequestResponse — запрос на сборку в ответе API. Поля вариантов
// разложены плоско; не относящиеся к варианту поля опускаются.
// Секретные поля payload'ов в Request не хранятся, поэтому попасть
// сюда не могут.
type RequestResponse struct {
	ID          uuid.UUID            `json:"id"`
	RequestType string               `json:"request_type"`
	Batch       uuid.UUID            `json:"batch"`
	User        string               `json:"user,omitempty"`
	State       string               `json:"state"`
	StateReason string               `json:"state_reason"`
	History     []StateEntryResponse `json:"state_history,omitempty"`
	Arches      []string             `json:"arches"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated"`

	// add / rm
	Bundles             []string            `json:"bundles,omitempty"`
	Operators           []string            `json:"operators,omitempty"`
	BinaryImage         string              `json:"binary_image,omitempty"`
	BinaryImageResolved string              `json:"binary_image_resolved,omitempty"`
	FromIndex           string              `json:"from_index,omitempty"`
	FromIndexResolved   string              `json:"from_index_resolved,omitempty"`
	IndexImage          string              `json:"index_image,omitempty"`
	IndexImageResolved  string              `json:"index_image_resolved,omitempty"`
	BundleMapping       map[string][]string `json:"bundle_mapping,omitempty"`
	ForceBackport       bool                `json:"force_backport,omitempty"`
	OverwriteFromIndex  bool                `json:"overwrite_from_index,omitempty"`
	DistributionScope   string              `json:"distribution_scope,omitempty"`

	// regenerate-bundle
	FromBundleImage         string `json:"from_bundle_image,omitempty"`
	FromBundleImageResolved string `json:"from_bundle_image_resolved,omitempty"`
	BundleImage             string `json:"bundle_image,omitempty"`

	// add / regenerate-bundle
	Organization string `json:"organization,omitempty"`
}

// StateEntryResponse — запись истории состояний.
type StateEntryResponse struct {
	State       string    `json:"state"`
	StateReason string    `json:"state_reason"`
	Updated     time.Time `json:"updated"`
}

// RequestFromDomain конвертирует domain.Request в RequestResponse.
// История включается, если загружена.
func RequestFromDomain(req *domain.Request) RequestResponse {
	resp := RequestResponse{
		ID:          req.ID,
		RequestType: string(req.Type),
		Batch:       req.BatchID,
		User:        req.User,
		State:       string(req.State),
		StateReason: req.StateReason,
		Arches:      req.Arches,
		CreatedAt:   req.CreatedAt,
		UpdatedAt:   req.UpdatedAt,
	}

	for _, e := range req.History {
		resp.History = append(resp.History, StateEntryResponse{
			State:       string(e.State),
			StateReason: e.Reason,
			Updated:     e.UpdatedAt,
		})
	}

	switch {
	case req.Add != nil:
		resp.Bundles = req.Add.Bundles
		resp.BinaryImage = req.Add.BinaryImage
		resp.BinaryImageResolved = req.Add.BinaryImageResolved
		resp.FromIndex = req.Add.FromIndex
		resp.FromIndexResolved = req.Add.FromIndexResolved
		resp.IndexImage = req.Add.IndexImage
		resp.IndexImageResolved = req.Add.IndexImageResolved
		resp.BundleMapping = req.Add.BundleMapping
		resp.Organization = req.Add.Organization
		resp.ForceBackport = req.Add.ForceBackport
		resp.OverwriteFromIndex = req.Add.OverwriteFromIndex
		resp.DistributionScope = req.Add.DistributionScope

	case req.Rm != nil:
		resp.Operators = req.Rm.Operators
		resp.BinaryImage = req.Rm.BinaryImage
		resp.BinaryImageResolved = req.Rm.BinaryImageResolved
		resp.FromIndex = req.Rm.FromIndex
		resp.FromIndexResolved = req.Rm.FromIndexResolved
		resp.IndexImage = req.Rm.IndexImage
		resp.IndexImageResolved = req.Rm.IndexImageResolved
		resp.OverwriteFromIndex = req.Rm.OverwriteFromIndex
		resp.DistributionScope = req.Rm.DistributionScope

	case req.RegenerateBundle != nil:
		resp.FromBundleImage = req.RegenerateBundle.FromBundleImage
		resp.FromBundleImageResolved = req.RegenerateBundle.FromBundleImageResolved
		resp.BundleImage = req.RegenerateBundle.BundleImage
		resp.Organization = req.RegenerateBundle.Organization
	}

	return resp
}

// RequestsFromDomain конвертирует срез запросов.
func RequestsFromDomain(requests []*domain.Request) []RequestResponse {
	result := make([]RequestResponse, len(requests))
	for i, req := range requests {
		result[i] = RequestFromDomain(req)
	}
	return result
}

// BatchResponse — ответ с батчем.
type BatchResponse struct {
	ID          uuid.UUID      `json:"id"`
	Annotations map[string]any `json:"annotations,omitempty"`
	Requests    []uuid.UUID    `json:"requests"`
	CreatedAt   time.Time      `json:"created_at"`
}

// BatchFromDomain конвертирует domain.Batch в BatchResponse.
func BatchFromDomain(b *domain.Batch) BatchResponse {
	return BatchResponse{
		ID:          b.ID,
		Annotations: b.Annotations,
		Requests:    b.RequestIDs,
		CreatedAt:   b.CreatedAt,
	}
}
