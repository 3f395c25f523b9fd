package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// DefaultAPIURL возвращает адрес API: значение FORGE_API_URL или
// локальный сервер по умолчанию.
func DefaultAPIURL() string {
	if apiURL := os.Getenv("FORGE_API_URL"); apiURL != "" {
		return apiURL
	}
	return "http://localhost:8080"
}

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// BuildResponse — запрос на сборку из API.
type BuildResponse struct {
	ID          string       `json:"id"`
	RequestType string       `json:"request_type"`
	Batch       string       `json:"batch,omitempty"`
	User        string       `json:"user,omitempty"`
	State       string       `json:"state"`
	StateReason string       `json:"state_reason"`
	History     []StateEntry `json:"state_history,omitempty"`
	Arches      []string     `json:"arches,omitempty"`
	CreatedAt   string       `json:"created_at"`
	Updated     string       `json:"updated"`

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

	FromBundleImage         string `json:"from_bundle_image,omitempty"`
	FromBundleImageResolved string `json:"from_bundle_image_resolved,omitempty"`
	BundleImage             string `json:"bundle_image,omitempty"`
	Organization            string `json:"organization,omitempty"`
}

// StateEntry — запись истории состояний.
type StateEntry struct {
	State       string `json:"state"`
	StateReason string `json:"state_reason"`
	Updated     string `json:"updated"`
}

// BatchResponse — батч из API.
type BatchResponse struct {
	ID          string         `json:"id"`
	Annotations map[string]any `json:"annotations,omitempty"`
	Requests    []string       `json:"requests"`
	CreatedAt   string         `json:"created_at"`
}

// --- Request types ---

// AddRequest — создание запроса add.
type AddRequest struct {
	Bundles                 []string `json:"bundles,omitempty"`
	BinaryImage             string   `json:"binary_image,omitempty"`
	FromIndex               string   `json:"from_index,omitempty"`
	AddArches               []string `json:"add_arches,omitempty"`
	Organization            string   `json:"organization,omitempty"`
	CnrToken                string   `json:"cnr_token,omitempty"`
	ForceBackport           bool     `json:"force_backport,omitempty"`
	OverwriteFromIndex      bool     `json:"overwrite_from_index,omitempty"`
	OverwriteFromIndexToken string   `json:"overwrite_from_index_token,omitempty"`
	DistributionScope       string   `json:"distribution_scope,omitempty"`
}

// RmRequest — создание запроса rm.
type RmRequest struct {
	Operators               []string `json:"operators,omitempty"`
	BinaryImage             string   `json:"binary_image,omitempty"`
	FromIndex               string   `json:"from_index,omitempty"`
	OverwriteFromIndex      bool     `json:"overwrite_from_index,omitempty"`
	OverwriteFromIndexToken string   `json:"overwrite_from_index_token,omitempty"`
	DistributionScope       string   `json:"distribution_scope,omitempty"`
}

// RegenerateBundleRequest — создание запроса regenerate-bundle.
type RegenerateBundleRequest struct {
	FromBundleImage string         `json:"from_bundle_image,omitempty"`
	Organization    string         `json:"organization,omitempty"`
	RegistryAuths   map[string]any `json:"registry_auths,omitempty"`
}

// ListBuildsOpts — параметры фильтрации запросов.
type ListBuildsOpts struct {
	State       string
	User        string
	Batch       string
	RequestType string
	Limit       int
	Offset      int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Forge API.
type Client struct {
	baseURL    string
	username   string
	httpClient *http.Client
}

// NewClient создаёт клиент для API. Непустой username передаётся
// заголовком X-Remote-User в каждом запросе.
func NewClient(baseURL, username string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Builds ---

// ListBuilds возвращает запросы на сборку с фильтрацией.
func (c *Client) ListBuilds(opts ListBuildsOpts) ([]BuildResponse, error) {
	params := url.Values{}
	if opts.State != "" {
		params.Set("state", opts.State)
	}
	if opts.User != "" {
		params.Set("user", opts.User)
	}
	if opts.Batch != "" {
		params.Set("batch", opts.Batch)
	}
	if opts.RequestType != "" {
		params.Set("request_type", opts.RequestType)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var builds []BuildResponse
	err := c.list("/api/v1/builds", params, &builds)
	return builds, err
}

// GetBuild возвращает запрос по ID вместе с историей состояний.
func (c *Client) GetBuild(id string) (*BuildResponse, error) {
	var build BuildResponse
	err := c.get("/api/v1/builds/"+id, &build)
	return &build, err
}

// GetBuildLogs возвращает лог сборки запроса как текст.
func (c *Client) GetBuildLogs(id string) (string, error) {
	resp, err := c.do(http.MethodGet, "/api/v1/builds/"+id+"/logs", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return "", err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(data), nil
}

// SubmitAdd отправляет запрос add.
func (c *Client) SubmitAdd(req AddRequest) (*BuildResponse, error) {
	var build BuildResponse
	err := c.post("/api/v1/builds/add", req, &build)
	return &build, err
}

// SubmitRm отправляет запрос rm.
func (c *Client) SubmitRm(req RmRequest) (*BuildResponse, error) {
	var build BuildResponse
	err := c.post("/api/v1/builds/rm", req, &build)
	return &build, err
}

// SubmitRegenerateBundle отправляет запрос regenerate-bundle.
func (c *Client) SubmitRegenerateBundle(req RegenerateBundleRequest) (*BuildResponse, error) {
	var build BuildResponse
	err := c.post("/api/v1/builds/regenerate-bundle", req, &build)
	return &build, err
}

// --- Batches ---

// SubmitAddRmBatch отправляет батч add/rm. body — готовое JSON-тело
// с annotations и build_requests.
func (c *Client) SubmitAddRmBatch(body json.RawMessage) ([]BuildResponse, error) {
	var builds []BuildResponse
	err := c.post("/api/v1/builds/add-rm-batch", body, &builds)
	return builds, err
}

// SubmitRegenerateBundleBatch отправляет батч regenerate-bundle.
func (c *Client) SubmitRegenerateBundleBatch(body json.RawMessage) ([]BuildResponse, error) {
	var builds []BuildResponse
	err := c.post("/api/v1/builds/regenerate-bundle-batch", body, &builds)
	return builds, err
}

// GetBatch возвращает батч по ID.
func (c *Client) GetBatch(id string) (*BatchResponse, error) {
	var batch BatchResponse
	err := c.get("/api/v1/batches/"+id, &batch)
	return &batch, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.Header.Set("X-Remote-User", c.username)
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
