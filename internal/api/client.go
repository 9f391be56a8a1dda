package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/slashforyou/swift-app-sub000/internal/model"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the operations backend.
	BaseURL string

	// ClientID identifies this device/installation for authentication.
	ClientID string

	// APIKey is the secret used to obtain a bearer token.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the operations backend.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL, ClientID, or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("api: BaseURL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("api: ClientID is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.ClientID, cfg.APIKey, httpClient),
	}, nil
}

// PostEvents delivers a telemetry batch to the analytics sink.
func (c *Client) PostEvents(ctx context.Context, events []model.TelemetryEvent) error {
	body := map[string]any{"events": events}
	return c.post(ctx, "/analytics/events", body, nil)
}

// PostLogs delivers a log batch to the log sink.
func (c *Client) PostLogs(ctx context.Context, entries []model.LogEntry) error {
	body := map[string]any{"logs": entries}
	return c.post(ctx, "/logs", body, nil)
}

type metricsResponse struct {
	Metrics map[string]float64 `json:"metrics"`
}

// CurrentMetrics fetches the backend's current aggregate metrics as a flat
// name -> value map.
func (c *Client) CurrentMetrics(ctx context.Context) (map[string]float64, error) {
	var resp metricsResponse
	if err := c.get(ctx, "/analytics/current-metrics", &resp); err != nil {
		return nil, err
	}
	if resp.Metrics == nil {
		resp.Metrics = map[string]float64{}
	}
	return resp.Metrics, nil
}

// CreateAlert persists a newly triggered alert.
func (c *Client) CreateAlert(ctx context.Context, alert model.Alert) error {
	return c.post(ctx, "/alerts", alert, nil)
}

// UpdateAlert pushes a resolved or suppressed alert update.
func (c *Client) UpdateAlert(ctx context.Context, alert model.Alert) error {
	return c.put(ctx, "/alerts/"+alert.ID.String(), alert, nil)
}

// EmailNotification is the payload for backend-relayed alert emails.
type EmailNotification struct {
	Type        string         `json:"type"`
	Severity    model.Severity `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	AlertID     string         `json:"alert_id"`
}

// SendEmailNotification relays an alert email through the backend.
func (c *Client) SendEmailNotification(ctx context.Context, n EmailNotification) error {
	return c.post(ctx, "/notifications/email", n, nil)
}

// CorrectionRequest asks the backend to repair job-state inconsistencies.
type CorrectionRequest struct {
	JobID           string                `json:"jobId"`
	JobCode         string                `json:"jobCode,omitempty"`
	DetectedAt      time.Time             `json:"detectedAt"`
	Inconsistencies []model.Inconsistency `json:"inconsistencies"`
	AppVersion      string                `json:"appVersion"`
	Platform        string                `json:"platform"`
}

// CorrectionOutcome is the backend's verdict on one requested correction.
type CorrectionOutcome struct {
	Type      string    `json:"type"`
	Applied   bool      `json:"applied"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// CorrectionResponse is the full fix-inconsistencies result. HTTP 200 does
// not imply every correction was applied; callers must inspect Corrections.
type CorrectionResponse struct {
	Success     bool                    `json:"success"`
	Fixed       int                     `json:"fixed"`
	Corrections []CorrectionOutcome     `json:"corrections"`
	Job         *model.JobStateSnapshot `json:"job,omitempty"`
	Message     string                  `json:"message,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

// FixInconsistencies submits detected inconsistencies for server-side
// correction. The job is addressed by its numeric backend identifier.
func (c *Client) FixInconsistencies(ctx context.Context, numericJobID int64, req CorrectionRequest) (*CorrectionResponse, error) {
	var resp CorrectionResponse
	path := fmt.Sprintf("/job/%d/fix-inconsistencies", numericJobID)
	if err := c.post(ctx, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PostWebhook delivers an arbitrary JSON payload to an external webhook URL.
// Webhook targets are operator-configured and live outside the backend, so
// this bypasses the base URL and auth token.
func (c *Client) PostWebhook(ctx context.Context, url string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("api: marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("api: create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("api: webhook %s: %w: %w", url, ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return &Error{StatusCode: resp.StatusCode, Code: http.StatusText(resp.StatusCode), Message: "webhook rejected"}
	}
	return nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiErrorEnvelope is the backend's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	return c.send(ctx, http.MethodPost, path, body, dest)
}

func (c *Client) put(ctx context.Context, path string, body any, dest any) error {
	return c.send(ctx, http.MethodPut, path, body, dest)
}

func (c *Client) send(ctx context.Context, method, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("api: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("api: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("api: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w: %w", req.Method, req.URL.Path, ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	return json.Unmarshal(bodyBytes, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
