package analytics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slashforyou/swift-app-sub000/internal/buffer"
	"github.com/slashforyou/swift-app-sub000/internal/model"
)

func newTestTracker(t *testing.T) (*Tracker, *capture) {
	t.Helper()
	sink := &capture{}
	buf := buffer.New(buffer.Config{Name: "telemetry", BatchSize: 1000}, sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewTracker(buf, true), sink
}

type capture struct {
	events []model.TelemetryEvent
}

func (c *capture) Deliver(_ context.Context, batch []model.TelemetryEvent) error {
	c.events = append(c.events, batch...)
	return nil
}

func drainEvents(t *testing.T, tr *Tracker, sink *capture) []model.TelemetryEvent {
	t.Helper()
	require.Equal(t, buffer.FlushDelivered, tr.Buffer().FlushNow(context.Background()))
	return sink.events
}

func TestTrackJobStepProgress(t *testing.T) {
	tests := []struct {
		name  string
		step  int
		total int
		want  float64
	}{
		{"forty percent", 2, 5, 40},
		{"no clamping above tenths", 999, 1000, 99.9},
		{"past the end stays raw", 6, 5, 120},
		{"first step", 1, 4, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, sink := newTestTracker(t)
			tr.TrackJobStep("JOB-1042", tt.step, tt.total, "")
			events := drainEvents(t, tr, sink)
			require.Len(t, events, 1)
			assert.Equal(t, "job_step_progress", events[0].EventType)
			assert.Equal(t, model.CategoryBusiness, events[0].Category)
			assert.Equal(t, tt.want, events[0].Data["progress_percentage"])
		})
	}
}

func TestTrackJobStepZeroTotalOmitsPercentage(t *testing.T) {
	tr, sink := newTestTracker(t)
	tr.TrackJobStep("JOB-1", 1, 0, "")
	events := drainEvents(t, tr, sink)
	require.Len(t, events, 1)
	_, ok := events[0].Data["progress_percentage"]
	assert.False(t, ok)
}

func TestTrackPaymentCarriesCurrency(t *testing.T) {
	tr, sink := newTestTracker(t)
	tr.TrackPayment(model.PaymentCompleted, 1250.50, "JOB-7")
	events := drainEvents(t, tr, sink)
	require.Len(t, events, 1)
	assert.Equal(t, "payment_completed", events[0].EventType)
	assert.Equal(t, "CAD", events[0].Data["currency"])
	assert.Equal(t, 1250.50, events[0].Data["amount"])
	assert.Equal(t, "JOB-7", events[0].Data["job_id"])
}

func TestTrackScreenTimeFiltersTransientScreens(t *testing.T) {
	tr, sink := newTestTracker(t)

	tr.TrackScreenTime("JobDetails", 400*time.Millisecond)
	assert.Zero(t, tr.Buffer().Size(), "sub-second dwell must not emit")

	tr.TrackScreenTime("JobDetails", 2500*time.Millisecond)
	events := drainEvents(t, tr, sink)
	require.Len(t, events, 1)
	assert.Equal(t, int64(2500), events[0].Data["duration_ms"])
}

func TestTrackAPICallSuccessThreshold(t *testing.T) {
	tr, sink := newTestTracker(t)
	tr.TrackAPICall("/jobs", "GET", 120*time.Millisecond, 200)
	tr.TrackAPICall("/jobs", "GET", 80*time.Millisecond, 404)
	events := drainEvents(t, tr, sink)
	require.Len(t, events, 2)
	assert.Equal(t, true, events[0].Data["success"])
	assert.Equal(t, false, events[1].Data["success"])
}

func TestDisabledTrackerLeavesBufferUnchanged(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.SetEnabled(false)

	tr.TrackScreen("Home")
	tr.TrackJobStep("JOB-1", 2, 5, "")
	tr.TrackError(model.ErrorKindNetwork, "offline", nil)
	tr.TrackMetric("startup_ms", 812, "ms", nil)

	assert.Zero(t, tr.Buffer().Size())
}

func TestMeasureEmitsDurationAndOutcome(t *testing.T) {
	tr, sink := newTestTracker(t)

	wantErr := errors.New("boom")
	err := tr.Measure(context.Background(), "sync_jobs", func(context.Context) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	require.NoError(t, tr.Measure(context.Background(), "sync_jobs", func(context.Context) error {
		return nil
	}))

	events := drainEvents(t, tr, sink)
	require.Len(t, events, 2)
	assert.Equal(t, "operation_timed", events[0].EventType)
	assert.Equal(t, false, events[0].Data["success"])
	assert.Equal(t, true, events[1].Data["success"])
}

func TestTrackErrorMergesContext(t *testing.T) {
	tr, sink := newTestTracker(t)
	tr.TrackError(model.ErrorKindPayment, "card declined", map[string]any{"job_id": "JOB-9"})
	events := drainEvents(t, tr, sink)
	require.Len(t, events, 1)
	assert.Equal(t, model.CategoryError, events[0].Category)
	assert.Equal(t, "payment", events[0].Data["error_kind"])
	assert.Equal(t, "JOB-9", events[0].Data["job_id"])
}
