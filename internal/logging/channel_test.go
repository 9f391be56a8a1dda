package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slashforyou/swift-app-sub000/internal/buffer"
	"github.com/slashforyou/swift-app-sub000/internal/model"
)

type capture struct {
	mu      sync.Mutex
	entries []model.LogEntry
}

func (c *capture) Deliver(_ context.Context, batch []model.LogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, batch...)
	return nil
}

func newTestChannel(t *testing.T, minLevel model.LogLevel) (*Channel, *capture) {
	t.Helper()
	sink := &capture{}
	buf := buffer.New(buffer.Config{Name: "logs", BatchSize: 1000}, sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	device := model.DeviceInfo{Platform: "test", AppVersion: "0.0.0"}
	return NewChannel(buf, minLevel, device), sink
}

func flush(t *testing.T, c *Channel) {
	t.Helper()
	c.Buffer().FlushNow(context.Background())
}

func TestMinLevelFiltersBeforeEnqueue(t *testing.T) {
	c, _ := newTestChannel(t, model.LevelWarn)

	c.Debug("noise", nil)
	c.Info("still noise", nil)
	assert.Zero(t, c.Buffer().Size(), "below-threshold entries must never enter the buffer")

	c.Warn("kept", nil)
	assert.Equal(t, 1, c.Buffer().Size())
}

func TestEntriesCarrySessionAndDevice(t *testing.T) {
	c, sink := newTestChannel(t, model.LevelDebug)

	c.Info("hello", map[string]any{"k": "v"})
	flush(t, c)

	require.Len(t, sink.entries, 1)
	e := sink.entries[0]
	assert.Equal(t, c.SessionID(), e.SessionID)
	assert.Equal(t, "test", e.Device.Platform)
	assert.NotEmpty(t, e.CorrelationID, "correlation ID auto-assigned when absent")
	assert.False(t, e.Timestamp.IsZero())
}

func TestCorrelationIDThreadsThroughFlow(t *testing.T) {
	c, sink := newTestChannel(t, model.LevelDebug)

	id := c.GenerateCorrelationID()
	c.Info("step one", nil)
	c.Info("step two", nil)
	c.ClearCorrelationID()
	c.Info("new flow", nil)
	flush(t, c)

	require.Len(t, sink.entries, 3)
	assert.Equal(t, id, sink.entries[0].CorrelationID)
	assert.Equal(t, id, sink.entries[1].CorrelationID)
	assert.NotEqual(t, id, sink.entries[2].CorrelationID)
}

func TestSetCorrelationIDUsesCallerValue(t *testing.T) {
	c, sink := newTestChannel(t, model.LevelDebug)

	c.SetCorrelationID("req-123")
	c.Info("within request", nil)
	flush(t, c)

	require.Len(t, sink.entries, 1)
	assert.Equal(t, "req-123", sink.entries[0].CorrelationID)
}

func TestErrorTriggersImmediateFlush(t *testing.T) {
	sink := &capture{}
	buf := buffer.New(buffer.Config{Name: "logs", BatchSize: 1000, FlushInterval: time.Hour}, sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c := NewChannel(buf, model.LevelDebug, model.DeviceInfo{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	buf.Start(ctx)
	defer buf.Drain(context.Background())

	c.Error("it broke", nil)

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.entries) == 1
	}, 2*time.Second, 10*time.Millisecond, "error entry should flush without waiting for the timer")
}

func TestFatalAttachesStackTrace(t *testing.T) {
	c, sink := newTestChannel(t, model.LevelDebug)

	c.Fatal("unrecoverable", nil)
	flush(t, c)

	require.Len(t, sink.entries, 1)
	assert.Equal(t, model.LevelFatal, sink.entries[0].Level)
	assert.Contains(t, sink.entries[0].StackTrace, "goroutine")
}

func TestHookCapturesPanicValue(t *testing.T) {
	c, sink := newTestChannel(t, model.LevelDebug)
	h := NewHook(c)

	func() {
		defer func() {
			if r := recover(); r != nil {
				h.CapturePanic(r)
			}
		}()
		panic("boom")
	}()

	flush(t, c)
	require.Len(t, sink.entries, 1)
	assert.Contains(t, sink.entries[0].Message, "boom")
	assert.Equal(t, "uncaught", sink.entries[0].Module)
	assert.NotEmpty(t, sink.entries[0].StackTrace)
}

func TestHookSuppressesNoisyDuplicates(t *testing.T) {
	c, sink := newTestChannel(t, model.LevelDebug)
	h := NewHook(c)

	h.CaptureError(errors.New(`insert failed: duplicate key value violates unique constraint "jobs_pkey"`))

	flush(t, c)
	assert.Empty(t, sink.entries)
	assert.Equal(t, int64(1), h.Suppressed())
}

func TestHookIgnoresNil(t *testing.T) {
	c, _ := newTestChannel(t, model.LevelDebug)
	h := NewHook(c)

	h.CaptureError(nil)
	h.CapturePanic(nil)

	assert.Zero(t, c.Buffer().Size())
	assert.Zero(t, h.Suppressed())
}
