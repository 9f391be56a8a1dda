// Package analytics is the telemetry channel: a fixed taxonomy of tracking
// calls feeding business and technical events into a buffered delivery
// pipeline toward the backend analytics sink.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/slashforyou/swift-app-sub000/internal/api"
	"github.com/slashforyou/swift-app-sub000/internal/buffer"
	"github.com/slashforyou/swift-app-sub000/internal/model"
)

// minScreenDwell filters transient screens: dwell times below this are
// navigation noise, not reading time.
const minScreenDwell = 1000 * time.Millisecond

// currencyTag is the fixed currency attached to payment events.
const currencyTag = "CAD"

// Tracker is the telemetry channel. Tracking calls construct an event and
// enqueue it; they never block on delivery. A disabled tracker turns every
// call into a no-op.
type Tracker struct {
	buf     *buffer.Buffer[model.TelemetryEvent]
	enabled atomic.Bool
	now     func() time.Time
}

// NewTracker creates the telemetry channel over the given buffer.
func NewTracker(buf *buffer.Buffer[model.TelemetryEvent], enabled bool) *Tracker {
	t := &Tracker{buf: buf, now: time.Now}
	t.enabled.Store(enabled)
	return t
}

// NewSink builds the delivery sink for telemetry batches. The availability
// probe distinguishes a missing analytics route (skip silently) from a
// transport failure (retry per policy).
func NewSink(client *api.Client, probe *api.Probe) buffer.Sink[model.TelemetryEvent] {
	return buffer.SinkFunc[model.TelemetryEvent](func(ctx context.Context, batch []model.TelemetryEvent) error {
		if !probe.Available(ctx, api.RouteAnalyticsEvents) {
			return buffer.ErrEndpointAbsent
		}
		err := client.PostEvents(ctx, batch)
		if api.IsUnreachable(err) {
			return fmt.Errorf("%w: %w", buffer.ErrTransport, err)
		}
		return err
	})
}

// SetEnabled gates all tracking calls. Disabled tracking leaves the buffer
// untouched.
func (t *Tracker) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// Enabled reports whether tracking calls currently enqueue events.
func (t *Tracker) Enabled() bool { return t.enabled.Load() }

// Buffer exposes the underlying buffer for lifecycle management
// (Start/Drain) and size inspection.
func (t *Tracker) Buffer() *buffer.Buffer[model.TelemetryEvent] { return t.buf }

func (t *Tracker) track(eventType string, category model.EventCategory, data map[string]any) {
	if !t.enabled.Load() {
		return
	}
	t.buf.Append(model.TelemetryEvent{
		EventType: eventType,
		Category:  category,
		Data:      data,
		Timestamp: t.now().UTC(),
	})
}

// TrackJobStep records job-step advancement. The progress percentage is
// computed from the raw inputs and deliberately not clamped: a step count
// past the total is observable garbage, not something to hide.
func (t *Tracker) TrackJobStep(jobID string, currentStep, totalSteps int, note string) {
	data := map[string]any{
		"job_id":       jobID,
		"current_step": currentStep,
		"total_steps":  totalSteps,
	}
	if totalSteps != 0 {
		data["progress_percentage"] = roundTenth(float64(currentStep) / float64(totalSteps) * 100)
	}
	if note != "" {
		data["note"] = note
	}
	t.track("job_step_progress", model.CategoryBusiness, data)
}

// TrackPayment records a payment lifecycle stage.
func (t *Tracker) TrackPayment(status model.PaymentStatus, amount float64, jobID string) {
	data := map[string]any{
		"status":   string(status),
		"amount":   amount,
		"currency": currencyTag,
	}
	if jobID != "" {
		data["job_id"] = jobID
	}
	t.track("payment_"+string(status), model.CategoryBusiness, data)
}

// TrackScreen records a screen navigation.
func (t *Tracker) TrackScreen(name string) {
	t.track("screen_view", model.CategoryUserAction, map[string]any{"screen": name})
}

// TrackScreenTime records how long a screen was displayed. Dwell times
// under one second are discarded as transient navigation.
func (t *Tracker) TrackScreenTime(name string, dwell time.Duration) {
	if dwell < minScreenDwell {
		return
	}
	t.track("screen_time", model.CategoryUserAction, map[string]any{
		"screen":      name,
		"duration_ms": dwell.Milliseconds(),
	})
}

// TrackAPICall records the outcome of a backend call made by the host app.
func (t *Tracker) TrackAPICall(endpoint, method string, duration time.Duration, statusCode int) {
	t.track("api_call", model.CategoryTechnical, map[string]any{
		"endpoint":    endpoint,
		"method":      method,
		"duration_ms": duration.Milliseconds(),
		"status_code": statusCode,
		"success":     statusCode < 400,
	})
}

// TrackError records an application error under the fixed error taxonomy.
func (t *Tracker) TrackError(kind model.ErrorKind, message string, context map[string]any) {
	data := map[string]any{
		"error_kind": string(kind),
		"message":    message,
	}
	for k, v := range context {
		data[k] = v
	}
	t.track("error_occurred", model.CategoryError, data)
}

// TrackMetric records a free-form performance measurement.
func (t *Tracker) TrackMetric(name string, value float64, unit string, context map[string]any) {
	data := map[string]any{
		"metric": name,
		"value":  value,
		"unit":   unit,
	}
	for k, v := range context {
		data[k] = v
	}
	t.track("performance_metric", model.CategoryTechnical, data)
}

// Measure wraps an operation, emitting its duration and success/failure as
// a performance event. The operation's error is returned unchanged.
func (t *Tracker) Measure(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	start := t.now()
	err := fn(ctx)
	t.track("operation_timed", model.CategoryTechnical, map[string]any{
		"operation":   name,
		"duration_ms": t.now().Sub(start).Milliseconds(),
		"success":     err == nil,
	})
	return err
}

// roundTenth rounds to one decimal place, matching the precision the
// backend dashboards display.
func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
