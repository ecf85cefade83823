package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (копия формы ответов API: CLI не импортирует internal/api) ---

// TriggerResponse — определение trigger'а.
type TriggerResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Disabled  bool   `json:"disabled,omitempty"`
	Cron      string `json:"cron,omitempty"`
	Interval  string `json:"interval,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
	Composite string `json:"composite,omitempty"`
}

// FlowResponse — flow из каталога.
type FlowResponse struct {
	Key         string            `json:"key"`
	Revision    int               `json:"revision"`
	Disabled    bool              `json:"disabled"`
	Triggers    []TriggerResponse `json:"triggers"`
	Concurrency *struct {
		Limit    int    `json:"limit"`
		Behavior string `json:"behavior,omitempty"`
	} `json:"concurrency,omitempty"`
}

// TriggerContextResponse — состояние trigger'а.
type TriggerContextResponse struct {
	Phase               string     `json:"phase"`
	LastEvaluatedAt     *time.Time `json:"last_evaluated_at,omitempty"`
	NextEvaluationAt    *time.Time `json:"next_evaluation_at,omitempty"`
	NextScheduleDate    *time.Time `json:"next_schedule_date,omitempty"`
	LastFiredAt         *time.Time `json:"last_fired_at,omitempty"`
	LastExecutionID     string     `json:"last_execution_id,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	Invalid             bool       `json:"invalid,omitempty"`
	InvalidReason       string     `json:"invalid_reason,omitempty"`
}

// ConcurrencyResponse — счётчик concurrency flow.
type ConcurrencyResponse struct {
	FlowKey        string `json:"flow_key"`
	MaxConcurrent  int    `json:"max_concurrent"`
	CurrentCount   int    `json:"current_count"`
	OverflowPolicy string `json:"overflow_policy"`
	Queued         []struct {
		ExecutionID string    `json:"execution_id"`
		CreatedAt   time.Time `json:"created_at"`
	} `json:"queued,omitempty"`
}

// ExecutionResponse — execution.
type ExecutionResponse struct {
	ID        string `json:"id"`
	Tenant    string `json:"tenant"`
	Namespace string `json:"namespace"`
	FlowID    string `json:"flow_id"`
	State     struct {
		Current string `json:"current"`
		History []struct {
			State string    `json:"state"`
			Date  time.Time `json:"date"`
		} `json:"history"`
	} `json:"state"`
	Trigger struct {
		Type      string `json:"type"`
		TriggerID string `json:"trigger_id,omitempty"`
	} `json:"trigger"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Finished  bool           `json:"finished"`
	Duration  string         `json:"duration,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// SubmitRequest — запрос ручного запуска.
type SubmitRequest struct {
	Inputs    map[string]any `json:"inputs,omitempty"`
	CreatedBy string         `json:"created_by,omitempty"`
}

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

// Client — HTTP-клиент для Orbit API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Flows ---

// ListFlows возвращает активные flows (tenant пустой — все).
func (c *Client) ListFlows(ctx context.Context, tenant string) ([]FlowResponse, error) {
	params := url.Values{}
	if tenant != "" {
		params.Set("tenant", tenant)
	}
	var flows []FlowResponse
	return flows, c.list(ctx, "/api/v1/flows", params, &flows)
}

// GetFlow возвращает flow по ключу "tenant/namespace/flow".
func (c *Client) GetFlow(ctx context.Context, key string) (*FlowResponse, error) {
	var flow FlowResponse
	return &flow, c.get(ctx, "/api/v1/flows/"+key, &flow)
}

// GetTrigger возвращает состояние trigger'а.
func (c *Client) GetTrigger(ctx context.Context, flowKey, triggerID string) (*TriggerContextResponse, error) {
	var tc TriggerContextResponse
	return &tc, c.get(ctx, "/api/v1/flows/"+flowKey+"/triggers/"+url.PathEscape(triggerID), &tc)
}

// GetConcurrency возвращает счётчик concurrency flow.
func (c *Client) GetConcurrency(ctx context.Context, flowKey string) (*ConcurrencyResponse, error) {
	var limit ConcurrencyResponse
	return &limit, c.get(ctx, "/api/v1/flows/"+flowKey+"/concurrency", &limit)
}

// --- Executions ---

// Submit запускает flow вручную.
func (c *Client) Submit(ctx context.Context, flowKey string, req SubmitRequest) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	return &exec, c.post(ctx, "/api/v1/flows/"+flowKey+"/executions", req, &exec)
}

// GetExecution возвращает execution.
func (c *Client) GetExecution(ctx context.Context, id string) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	return &exec, c.get(ctx, "/api/v1/executions/"+url.PathEscape(id), &exec)
}

// Kill запрашивает остановку execution.
func (c *Client) Kill(ctx context.Context, id, reason string) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	body := map[string]string{"reason": reason}
	return &exec, c.post(ctx, "/api/v1/executions/"+url.PathEscape(id)+"/kill", body, &exec)
}

// SetState сообщает о переходе execution (как это делает воркер).
func (c *Client) SetState(ctx context.Context, id, state, reason string) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	body := map[string]string{"state": state, "reason": reason}
	return &exec, c.post(ctx, "/api/v1/executions/"+url.PathEscape(id)+"/state", body, &exec)
}

// Health проверяет /healthz.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.doData(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	return c.doData(ctx, http.MethodPost, path, body, result)
}

func (c *Client) list(ctx context.Context, path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
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

func (c *Client) doData(ctx context.Context, method, path string, body any, result any) error {
	resp, err := c.do(ctx, method, path, body)
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

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error.Code == "" {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
