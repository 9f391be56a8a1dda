package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/slashforyou/swift-app-sub000/internal/model"
)

// mockServer creates an httptest server that mimics the operations backend.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	// Always register the auth endpoint.
	if _, ok := handlers["POST /auth/token"]; !ok {
		mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"token": "test-token-xyz"})
		})
	}

	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}

	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:  serverURL,
		ClientID: "test-device",
		APIKey:   "test-key",
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{ClientID: "d", APIKey: "k"}); err == nil {
		t.Error("expected error for missing BaseURL")
	}
	if _, err := NewClient(Config{BaseURL: "http://x", APIKey: "k"}); err == nil {
		t.Error("expected error for missing ClientID")
	}
	if _, err := NewClient(Config{BaseURL: "http://x", ClientID: "d"}); err == nil {
		t.Error("expected error for missing APIKey")
	}
}

func TestPostEventsWrapsBatch(t *testing.T) {
	var receivedAuth string
	var receivedBody struct {
		Events []model.TelemetryEvent `json:"events"`
	}
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /analytics/events": func(w http.ResponseWriter, r *http.Request) {
			receivedAuth = r.Header.Get("Authorization")
			if err := json.NewDecoder(r.Body).Decode(&receivedBody); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error": map[string]any{"code": "INVALID_INPUT", "message": err.Error()},
				})
				return
			}
			w.WriteHeader(http.StatusAccepted)
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	events := []model.TelemetryEvent{
		{EventType: "job_step_completed", Category: model.CategoryBusiness, Timestamp: time.Now()},
		{EventType: "screen_view", Category: model.CategoryUserAction, Timestamp: time.Now()},
	}
	if err := client.PostEvents(context.Background(), events); err != nil {
		t.Fatalf("PostEvents failed: %v", err)
	}

	if receivedAuth != "Bearer test-token-xyz" {
		t.Errorf("expected bearer token header, got %q", receivedAuth)
	}
	if len(receivedBody.Events) != 2 {
		t.Fatalf("expected 2 events in wire body, got %d", len(receivedBody.Events))
	}
	if receivedBody.Events[0].EventType != "job_step_completed" {
		t.Errorf("expected event_type 'job_step_completed', got %q", receivedBody.Events[0].EventType)
	}
}

func TestPostLogsWrapsBatch(t *testing.T) {
	var receivedBody struct {
		Logs []model.LogEntry `json:"logs"`
	}
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /logs": func(w http.ResponseWriter, r *http.Request) {
			if err := json.NewDecoder(r.Body).Decode(&receivedBody); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error": map[string]any{"code": "INVALID_INPUT", "message": err.Error()},
				})
				return
			}
			w.WriteHeader(http.StatusAccepted)
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.PostLogs(context.Background(), []model.LogEntry{
		{Level: model.LevelError, Message: "sync failed", Module: "jobs", Timestamp: time.Now()},
	})
	if err != nil {
		t.Fatalf("PostLogs failed: %v", err)
	}
	if len(receivedBody.Logs) != 1 {
		t.Fatalf("expected 1 log in wire body, got %d", len(receivedBody.Logs))
	}
	if receivedBody.Logs[0].Message != "sync failed" {
		t.Errorf("expected message 'sync failed', got %q", receivedBody.Logs[0].Message)
	}
}

func TestCurrentMetrics(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /analytics/current-metrics": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"metrics": map[string]float64{"error_rate": 0.02, "uptime": 0.999},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	metrics, err := client.CurrentMetrics(context.Background())
	if err != nil {
		t.Fatalf("CurrentMetrics failed: %v", err)
	}
	if metrics["error_rate"] != 0.02 {
		t.Errorf("expected error_rate 0.02, got %v", metrics["error_rate"])
	}
	if metrics["uptime"] != 0.999 {
		t.Errorf("expected uptime 0.999, got %v", metrics["uptime"])
	}
}

func TestCurrentMetricsEmptyBody(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /analytics/current-metrics": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	metrics, err := client.CurrentMetrics(context.Background())
	if err != nil {
		t.Fatalf("CurrentMetrics failed: %v", err)
	}
	if metrics == nil {
		t.Fatal("expected non-nil metrics map for empty response")
	}
}

func TestTokenCachedAcrossRequests(t *testing.T) {
	var authCalls atomic.Int64
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
			var body struct {
				ClientID string `json:"client_id"`
				APIKey   string `json:"api_key"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ClientID != "test-device" || body.APIKey != "test-key" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"error": map[string]any{"code": "UNAUTHORIZED", "message": "bad credentials"},
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"token": "test-token-xyz"})
		},
		"GET /analytics/current-metrics": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"metrics": map[string]float64{}})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := client.CurrentMetrics(context.Background()); err != nil {
			t.Fatalf("CurrentMetrics call %d failed: %v", i, err)
		}
	}
	if got := authCalls.Load(); got != 1 {
		t.Errorf("expected 1 auth call with a cached token, got %d", got)
	}
}

func TestServerErrorParsed(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /alerts": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error": map[string]any{"code": "INVALID_ALERT", "message": "threshold out of range"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.CreateAlert(context.Background(), model.Alert{ID: uuid.New()})
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422, got %d", apiErr.StatusCode)
	}
	if apiErr.Code != "INVALID_ALERT" {
		t.Errorf("expected code INVALID_ALERT, got %q", apiErr.Code)
	}
	if apiErr.Message != "threshold out of range" {
		t.Errorf("expected server message, got %q", apiErr.Message)
	}
	if IsUnreachable(err) {
		t.Error("a parsed server error must not read as unreachable")
	}
}

func TestUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	deadURL := srv.URL
	srv.Close()

	client := newTestClient(t, deadURL)
	err := client.PostEvents(context.Background(), []model.TelemetryEvent{{EventType: "x"}})
	if err == nil {
		t.Fatal("expected error against a dead server")
	}
	if !IsUnreachable(err) {
		t.Errorf("expected IsUnreachable, got %v", err)
	}
}

func TestFixInconsistenciesAddressesNumericJob(t *testing.T) {
	var gotPath string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /job/{id}/fix-inconsistencies": func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			writeJSON(w, http.StatusOK, CorrectionResponse{
				Success: true,
				Fixed:   1,
				Corrections: []CorrectionOutcome{
					{Type: "fix_timer_not_started", Applied: true},
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.FixInconsistencies(context.Background(), 1042, CorrectionRequest{JobID: "JOB-1042"})
	if err != nil {
		t.Fatalf("FixInconsistencies failed: %v", err)
	}
	if gotPath != "/job/1042/fix-inconsistencies" {
		t.Errorf("expected numeric job path, got %q", gotPath)
	}
	if len(resp.Corrections) != 1 || !resp.Corrections[0].Applied {
		t.Errorf("unexpected corrections payload: %+v", resp.Corrections)
	}
}

func TestUpdateAlertUsesAlertPath(t *testing.T) {
	alertID := uuid.New()
	var gotPath string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"PUT /alerts/{id}": func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.WriteHeader(http.StatusOK)
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	if err := client.UpdateAlert(context.Background(), model.Alert{ID: alertID, Status: model.AlertResolved}); err != nil {
		t.Fatalf("UpdateAlert failed: %v", err)
	}
	if gotPath != "/alerts/"+alertID.String() {
		t.Errorf("expected /alerts/%s, got %q", alertID, gotPath)
	}
}

func TestWebhookBypassesAuth(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
	}))
	defer hook.Close()

	// No backend needed: webhooks never touch the base URL.
	client := newTestClient(t, "http://127.0.0.1:1")
	err := client.PostWebhook(context.Background(), hook.URL, map[string]any{"type": "alert"})
	if err != nil {
		t.Fatalf("PostWebhook failed: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("webhook request must carry no auth token, got %q", gotAuth)
	}
	if gotBody["type"] != "alert" {
		t.Errorf("expected payload to round-trip, got %v", gotBody)
	}
}

func TestWebhookRejectionIsError(t *testing.T) {
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer hook.Close()

	client := newTestClient(t, "http://127.0.0.1:1")
	err := client.PostWebhook(context.Background(), hook.URL, map[string]any{})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("expected *Error with 502, got %v", err)
	}
}
