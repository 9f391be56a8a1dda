// Package alerting evaluates backend aggregate metrics against a rule
// set on a fixed interval and manages the resulting alert lifecycle:
// trigger, notify, resolve, with operator-driven suppression.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/slashforyou/swift-app-sub000/internal/api"
	"github.com/slashforyou/swift-app-sub000/internal/model"
	"github.com/slashforyou/swift-app-sub000/internal/telemetry"
)

// Engine is the process-wide alert rule engine. Construct one per
// process and share it by reference; rules mutate only through its
// management methods.
type Engine struct {
	client   *api.Client
	notifier *Notifier
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	pollDuration metric.Float64Histogram

	mu      sync.Mutex
	rules   map[string]model.AlertRule
	active  map[string]model.Alert // rule ID -> current alert (active or suppressed)
	history []model.Alert

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewEngine creates an engine polling every interval (default 60s).
func NewEngine(client *api.Client, notifier *Notifier, logger *slog.Logger, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Engine{
		client:   client,
		notifier: notifier,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		rules:    make(map[string]model.AlertRule),
		active:   make(map[string]model.Alert),
	}
}

// ---------------------------------------------------------------------------
// Rule management
// ---------------------------------------------------------------------------

// AddRule registers or replaces a rule by ID.
func (e *Engine) AddRule(rule model.AlertRule) error {
	if rule.ID == "" {
		return fmt.Errorf("alerting: rule ID is required")
	}
	if rule.Metric == "" {
		return fmt.Errorf("alerting: rule %q has no metric", rule.ID)
	}
	if _, err := rule.Operator.Compare(0, 0); err != nil {
		return fmt.Errorf("alerting: rule %q: %w", rule.ID, err)
	}

	e.mu.Lock()
	e.rules[rule.ID] = rule
	e.mu.Unlock()
	return nil
}

// UpdateThreshold changes a rule's threshold in place.
func (e *Engine) UpdateThreshold(ruleID string, threshold float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.rules[ruleID]
	if !ok {
		return fmt.Errorf("alerting: unknown rule %q", ruleID)
	}
	rule.Threshold = threshold
	e.rules[ruleID] = rule
	return nil
}

// SetEnabled enables or disables a rule. Disabling does not resolve an
// already-active alert; the next poll of a re-enabled rule does.
func (e *Engine) SetEnabled(ruleID string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.rules[ruleID]
	if !ok {
		return fmt.Errorf("alerting: unknown rule %q", ruleID)
	}
	rule.Enabled = enabled
	e.rules[ruleID] = rule
	return nil
}

// Rules returns a snapshot of all rules, ordered by ID.
func (e *Engine) Rules() []model.AlertRule {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]model.AlertRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Start launches the poll loop. Stop with Stop.
func (e *Engine) Start(ctx context.Context) {
	e.registerMetrics()

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancelLoop = cancel
	e.loopDone = make(chan struct{})
	go e.pollLoop(loopCtx)
}

// Stop halts the poll loop and waits for the in-flight cycle to finish.
func (e *Engine) Stop() {
	if e.cancelLoop == nil {
		return
	}
	e.cancelLoop()
	<-e.loopDone
}

func (e *Engine) pollLoop(ctx context.Context) {
	defer close(e.loopDone)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.EvaluateOnce(ctx)
		}
	}
}

// EvaluateOnce runs a single poll cycle: fetch metrics, evaluate every
// enabled rule, trigger and resolve alerts accordingly.
func (e *Engine) EvaluateOnce(ctx context.Context) {
	started := e.now()

	metrics, fetchFailed := e.fetchMetrics(ctx)

	e.mu.Lock()
	rules := make([]model.AlertRule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	e.mu.Unlock()

	for _, rule := range rules {
		value, ok := ruleValue(metrics, rule.Metric, fetchFailed)
		if !ok {
			continue
		}

		firing, err := rule.Operator.Compare(value, rule.Threshold)
		if err != nil {
			e.logger.Error("alerting: rule evaluation failed", "rule_id", rule.ID, "error", err)
			continue
		}

		if firing {
			e.trigger(ctx, rule, value)
		} else {
			e.resolve(ctx, rule, value)
		}
	}

	if e.pollDuration != nil {
		e.pollDuration.Record(ctx, e.now().Sub(started).Seconds())
	}
}

// fetchMetrics returns the backend's current aggregates. On failure it
// returns nil with fetchFailed set; evaluation then substitutes
// conservative defaults so a dead backend cannot fire alerts.
func (e *Engine) fetchMetrics(ctx context.Context) (map[string]float64, bool) {
	metrics, err := e.client.CurrentMetrics(ctx)
	if err != nil {
		e.logger.Warn("alerting: metrics fetch failed, using conservative defaults", "error", err)
		return nil, true
	}
	return metrics, false
}

// ruleValue resolves the metric value a rule evaluates against. After a
// failed fetch only metrics with a conservative default are evaluated;
// the rest skip the cycle.
func ruleValue(metrics map[string]float64, name string, fetchFailed bool) (float64, bool) {
	if !fetchFailed {
		v, ok := metrics[name]
		return v, ok
	}
	return conservativeDefault(name)
}

// conservativeDefault maps a metric name to the value least likely to
// trigger an alert: failure-shaped metrics read 0, health-shaped metrics
// read perfect.
func conservativeDefault(name string) (float64, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "error"), strings.Contains(lower, "failure"),
		strings.Contains(lower, "latency"), strings.Contains(lower, "pending"):
		return 0, true
	case strings.Contains(lower, "uptime"), strings.Contains(lower, "success"),
		strings.Contains(lower, "rate"):
		return 1.0, true
	default:
		return 0, false
	}
}

// ---------------------------------------------------------------------------
// Alert lifecycle
// ---------------------------------------------------------------------------

func (e *Engine) trigger(ctx context.Context, rule model.AlertRule, value float64) {
	e.mu.Lock()
	if _, exists := e.active[rule.ID]; exists {
		// One active alert per rule; suppressed alerts also hold the slot.
		e.mu.Unlock()
		return
	}

	alert := model.Alert{
		ID:             uuid.New(),
		RuleID:         rule.ID,
		Severity:       rule.Severity,
		Title:          rule.Name,
		Description:    fmt.Sprintf("%s is %.2f (threshold %s %.2f)", rule.Metric, value, rule.Operator, rule.Threshold),
		CurrentValue:   value,
		ThresholdValue: rule.Threshold,
		TriggeredAt:    e.now().UTC(),
		Status:         model.AlertActive,
	}
	e.active[rule.ID] = alert
	e.mu.Unlock()

	e.logger.Warn("alerting: alert triggered",
		"rule_id", rule.ID, "alert_id", alert.ID, "severity", alert.Severity,
		"metric", rule.Metric, "value", value, "threshold", rule.Threshold)

	e.notifier.Notify(ctx, alert, rule.Channels)

	if err := e.client.CreateAlert(ctx, alert); err != nil {
		e.logger.Error("alerting: failed to persist alert", "alert_id", alert.ID, "error", err)
	}
}

func (e *Engine) resolve(ctx context.Context, rule model.AlertRule, value float64) {
	e.mu.Lock()
	alert, exists := e.active[rule.ID]
	if !exists {
		e.mu.Unlock()
		return
	}
	resolvedAt := e.now().UTC()
	alert.ResolvedAt = &resolvedAt
	alert.Status = model.AlertResolved
	alert.CurrentValue = value
	delete(e.active, rule.ID)
	e.history = append(e.history, alert)
	e.mu.Unlock()

	e.logger.Info("alerting: alert resolved",
		"rule_id", rule.ID, "alert_id", alert.ID,
		"duration", resolvedAt.Sub(alert.TriggeredAt).String())

	if err := e.client.UpdateAlert(ctx, alert); err != nil {
		e.logger.Error("alerting: failed to persist resolution", "alert_id", alert.ID, "error", err)
	}
}

// Suppress silences an active alert by ID. The alert keeps holding its
// rule's slot so the rule cannot re-fire, and it resolves normally once
// the condition stops holding.
func (e *Engine) Suppress(ctx context.Context, alertID uuid.UUID) error {
	e.mu.Lock()
	var (
		found bool
		alert model.Alert
	)
	for ruleID, a := range e.active {
		if a.ID != alertID {
			continue
		}
		if a.Status != model.AlertActive {
			e.mu.Unlock()
			return fmt.Errorf("alerting: alert %s is %s, only active alerts can be suppressed", alertID, a.Status)
		}
		a.Status = model.AlertSuppressed
		e.active[ruleID] = a
		alert, found = a, true
		break
	}
	e.mu.Unlock()

	if !found {
		return fmt.Errorf("alerting: no active alert %s", alertID)
	}

	if err := e.client.UpdateAlert(ctx, alert); err != nil {
		e.logger.Error("alerting: failed to persist suppression", "alert_id", alertID, "error", err)
	}
	return nil
}

// ActiveAlerts returns the current alert (active or suppressed) per
// firing rule, ordered by trigger time.
func (e *Engine) ActiveAlerts() []model.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]model.Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.Before(out[j].TriggeredAt) })
	return out
}

// History returns the append-only log of resolved alerts, oldest first.
func (e *Engine) History() []model.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Alert(nil), e.history...)
}

func (e *Engine) registerMetrics() {
	meter := telemetry.Meter("opscore/alerting")

	hist, err := meter.Float64Histogram("opscore.alerts.poll.duration",
		metric.WithDescription("Duration of one alert poll cycle in seconds"),
		metric.WithUnit("s"),
	)
	if err == nil {
		e.pollDuration = hist
	}

	_, _ = meter.Int64ObservableGauge("opscore.alerts.active",
		metric.WithDescription("Number of currently firing alerts"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			e.mu.Lock()
			n := len(e.active)
			e.mu.Unlock()
			o.Observe(int64(n))
			return nil
		}),
	)
}
