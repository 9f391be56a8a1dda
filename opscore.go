// Package opscore is the public API for embedding the operations engine:
// buffered telemetry and log delivery, threshold alerting, and job-state
// consistency repair for field-operations apps on unreliable networks.
//
// Construct one Engine at process start and pass it by reference to
// consumers:
//
//	eng, err := opscore.New(
//	    opscore.WithVersion(version),
//	    opscore.WithLogger(logger),
//	    opscore.WithAlertWebhooks(urls),
//	)
//	if err != nil { ... }
//	eng.Start(ctx)
//	defer eng.Drain(context.Background())
//
// The import graph enforces a strict no-cycle rule: opscore (root)
// imports internal/*, but internal/* never imports opscore.
package opscore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"

	"github.com/slashforyou/swift-app-sub000/internal/alerting"
	"github.com/slashforyou/swift-app-sub000/internal/analytics"
	"github.com/slashforyou/swift-app-sub000/internal/api"
	"github.com/slashforyou/swift-app-sub000/internal/buffer"
	"github.com/slashforyou/swift-app-sub000/internal/config"
	"github.com/slashforyou/swift-app-sub000/internal/consistency"
	"github.com/slashforyou/swift-app-sub000/internal/dispatch"
	"github.com/slashforyou/swift-app-sub000/internal/logging"
	"github.com/slashforyou/swift-app-sub000/internal/model"
	"github.com/slashforyou/swift-app-sub000/internal/pending"
	"github.com/slashforyou/swift-app-sub000/internal/telemetry"
)

// Engine bundles the telemetry channel, log channel, alert engine, and
// consistency machinery behind one lifecycle. Engine has no public
// fields — use New() options to configure it.
type Engine struct {
	cfg        config.Config
	client     *api.Client
	probe      *api.Probe
	store      *pending.Store
	tracker    *analytics.Tracker
	logChannel *logging.Channel
	hook       *logging.Hook
	alerts     *alerting.Engine
	validator  *consistency.Validator
	dispatcher *dispatch.Dispatcher

	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New wires the engine from environment configuration plus option
// overrides. It does NOT start any goroutines — call Start().
func New(opts ...Option) (*Engine, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.baseURL != "" {
		cfg.APIBaseURL = o.baseURL
	}
	if o.clientID != "" {
		cfg.ClientID = o.clientID
	}
	if o.apiKey != "" {
		cfg.APIKey = o.apiKey
	}
	if o.pendingDBPath != "" {
		cfg.PendingDBPath = o.pendingDBPath
	}
	version := o.version
	if version == "" {
		version = "dev"
	}
	cfg.AppVersion = version
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger.Info("opscore starting", "version", version, "backend", cfg.APIBaseURL)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	client, err := api.NewClient(api.Config{
		BaseURL:    cfg.APIBaseURL,
		ClientID:   cfg.ClientID,
		APIKey:     cfg.APIKey,
		HTTPClient: o.httpClient,
		Timeout:    cfg.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}
	probe := api.NewProbe(client, cfg.ProbeTTL)

	store, err := pending.Open(cfg.PendingDBPath)
	if err != nil {
		return nil, err
	}

	eventBuf := buffer.New(buffer.Config{
		Name:          "telemetry",
		BatchSize:     cfg.TelemetryBatchSize,
		FlushInterval: cfg.TelemetryFlush,
		Capacity:      cfg.BufferCapacity,
		Restore:       cfg.TelemetryRestore,
	}, analytics.NewSink(client, probe), logger)
	tracker := analytics.NewTracker(eventBuf, cfg.TelemetryEnabled)

	logBuf := buffer.New(buffer.Config{
		Name:          "logs",
		BatchSize:     cfg.LogBatchSize,
		FlushInterval: cfg.LogFlush,
		Capacity:      cfg.BufferCapacity,
		Restore:       cfg.LogRestore,
	}, logging.NewSink(client, probe), logger)
	logChannel := logging.NewChannel(logBuf, model.ParseLogLevel(cfg.LogMinLevel), model.DeviceInfo{
		Platform:   cfg.Platform,
		AppVersion: version,
		DeviceID:   cfg.ClientID,
	})

	notifier := alerting.NewNotifier(client, o.sms, o.push, o.webhookURLs, logger)

	eng := &Engine{
		cfg:          cfg,
		client:       client,
		probe:        probe,
		store:        store,
		tracker:      tracker,
		logChannel:   logChannel,
		hook:         logging.NewHook(logChannel),
		alerts:       alerting.NewEngine(client, notifier, logger, cfg.AlertPollInterval),
		validator:    consistency.NewValidator(cfg.TimerMaxReasonableHours),
		dispatcher:   dispatch.New(client, probe, store, logger, version, cfg.Platform),
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}
	return eng, nil
}

// Start launches the flush loops and the alert poll loop, then replays
// any corrections queued by a previous run.
func (e *Engine) Start(ctx context.Context) {
	e.tracker.Buffer().Start(ctx)
	e.logChannel.Buffer().Start(ctx)
	e.alerts.Start(ctx)

	go e.dispatcher.ReplayAll(ctx)
}

// Drain stops the background loops and pushes every buffered record in a
// final flush, bounded by ctx. Call once at shutdown.
func (e *Engine) Drain(ctx context.Context) {
	e.alerts.Stop()
	e.tracker.Buffer().Drain(ctx)
	e.logChannel.Buffer().Drain(ctx)

	if err := e.store.Close(); err != nil {
		e.logger.Warn("opscore: closing pending store", "error", err)
	}
	if e.otelShutdown != nil {
		if err := e.otelShutdown(ctx); err != nil {
			e.logger.Warn("opscore: telemetry shutdown", "error", err)
		}
	}
	e.logger.Info("opscore stopped", "version", e.version)
}

// Telemetry is the event tracking channel.
func (e *Engine) Telemetry() *analytics.Tracker { return e.tracker }

// Logs is the structured remote-logging channel.
func (e *Engine) Logs() *logging.Channel { return e.logChannel }

// Hook captures otherwise-unlogged failures (uncaught errors, panics)
// into the log channel. Install it at the process's top level.
func (e *Engine) Hook() *logging.Hook { return e.hook }

// Alerts is the alert rule engine.
func (e *Engine) Alerts() *alerting.Engine { return e.alerts }

// ValidateJob checks a job snapshot against the state invariants and
// auto-corrects what the backend can repair. It never returns an error:
// corrections that cannot be applied are queued for replay.
func (e *Engine) ValidateJob(ctx context.Context, snap model.JobStateSnapshot) consistency.Result {
	return e.validator.ValidateAndCorrect(ctx, snap, e.dispatcher)
}

// ReconcileJob resolves diverging local and remote snapshots of one job.
// Offline, local state wins; online, remote wins per diverging field and
// queued corrections are replayed.
func (e *Engine) ReconcileJob(ctx context.Context, jobID string, remote, local, lastKnownGood model.JobStateSnapshot) model.JobStateSnapshot {
	return e.dispatcher.Reconcile(ctx, jobID, remote, local, lastKnownGood)
}

// RequestServerCorrection submits inconsistencies for server-side repair
// without running validation first.
func (e *Engine) RequestServerCorrection(ctx context.Context, jobID string, inconsistencies []model.Inconsistency) (dispatch.Outcome, error) {
	return e.dispatcher.RequestServerCorrection(ctx, jobID, inconsistencies)
}

// FlushAll forces an immediate flush of both channels, waiting up to the
// given timeout.
func (e *Engine) FlushAll(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	e.tracker.Buffer().FlushNow(ctx)
	e.logChannel.Buffer().FlushNow(ctx)
}
