package opscore

import (
	"log/slog"
	"net/http"

	"github.com/slashforyou/swift-app-sub000/internal/alerting"
)

// SMSDispatcher sends alert text messages. Implemented by the embedding
// application (the engine has no carrier credentials of its own).
type SMSDispatcher = alerting.SMSDispatcher

// PushDispatcher sends alert push notifications to operator devices.
type PushDispatcher = alerting.PushDispatcher

// Option configures an Engine.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger        *slog.Logger
	version       string
	baseURL       string
	clientID      string
	apiKey        string
	pendingDBPath string
	httpClient    *http.Client
	sms           SMSDispatcher
	push          PushDispatcher
	webhookURLs   []string
}

// WithLogger sets the structured logger for the engine's own output.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the app version reported in logs and attached to
// correction requests and log entries.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithBaseURL overrides the backend URL from config (OPSCORE_API_URL).
func WithBaseURL(url string) Option {
	return func(o *resolvedOptions) { o.baseURL = url }
}

// WithCredentials overrides the device credentials from config
// (OPSCORE_CLIENT_ID, OPSCORE_API_KEY).
func WithCredentials(clientID, apiKey string) Option {
	return func(o *resolvedOptions) {
		o.clientID = clientID
		o.apiKey = apiKey
	}
}

// WithPendingDBPath overrides where the pending-correction store lives
// (OPSCORE_PENDING_DB). Use ":memory:" in tests.
func WithPendingDBPath(path string) Option {
	return func(o *resolvedOptions) { o.pendingDBPath = path }
}

// WithHTTPClient replaces the backend HTTP client, e.g. to add a proxy
// or instrument transport.
func WithHTTPClient(client *http.Client) Option {
	return func(o *resolvedOptions) { o.httpClient = client }
}

// WithSMSDispatcher wires the SMS notification channel. Without one,
// rules configured for SMS silently skip that channel.
func WithSMSDispatcher(d SMSDispatcher) Option {
	return func(o *resolvedOptions) { o.sms = d }
}

// WithPushDispatcher wires the push notification channel.
func WithPushDispatcher(d PushDispatcher) Option {
	return func(o *resolvedOptions) { o.push = d }
}

// WithAlertWebhooks sets the operator webhook URLs alerts are posted to
// when a rule configures the webhook channel.
func WithAlertWebhooks(urls []string) Option {
	return func(o *resolvedOptions) { o.webhookURLs = urls }
}
