package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Forge/internal/domain"
)

// Reporter отправляет PATCH-отчёты о ходе сборки в API.
//
// Идентичность воркера передаётся заголовком X-Remote-User и должна
// входить в auth.worker_usernames на стороне API, иначе PATCH будет
// отклонён с 403.
type Reporter struct {
	baseURL    string
	username   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewReporter создаёт Reporter для API по адресу baseURL.
func NewReporter(baseURL, username string, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reporter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Patch отправляет произвольный набор ключей запроса id.
// Состав ключей ограничен allow-list'ом варианта на стороне API.
func (r *Reporter) Patch(ctx context.Context, id uuid.UUID, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal patch: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/builds/%s", r.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if r.username != "" {
		req.Header.Set("X-Remote-User", r.username)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("patch request %s: %w", id, err)
	}
	defer resp.Body.Close()

	if err := checkAPIError(resp); err != nil {
		return fmt.Errorf("patch request %s: %w", id, err)
	}

	r.logger.Debug("request patched", "request_id", id)
	return nil
}

// ReportState переводит запрос id в состояние state с причиной reason.
func (r *Reporter) ReportState(ctx context.Context, id uuid.UUID, state domain.RequestState, reason string) error {
	return r.Patch(ctx, id, map[string]any{
		"state":        state,
		"state_reason": reason,
	})
}

// checkAPIError извлекает ошибку из конверта {"error": {...}} API.
func checkAPIError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
