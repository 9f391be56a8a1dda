// Package logging is the log channel: leveled structured entries with
// correlation-ID propagation and session/device enrichment, buffered and
// delivered to the backend log sink.
package logging

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slashforyou/swift-app-sub000/internal/api"
	"github.com/slashforyou/swift-app-sub000/internal/buffer"
	"github.com/slashforyou/swift-app-sub000/internal/model"
)

// Channel collects structured log entries. Entries below the configured
// minimum level are suppressed before they ever reach the buffer;
// error and fatal entries trigger an immediate flush attempt.
type Channel struct {
	buf      *buffer.Buffer[model.LogEntry]
	minLevel model.LogLevel
	session  string
	device   model.DeviceInfo
	now      func() time.Time

	mu          sync.Mutex
	correlation string
}

// NewChannel creates the log channel. The session ID is fixed for the
// lifetime of the process.
func NewChannel(buf *buffer.Buffer[model.LogEntry], minLevel model.LogLevel, device model.DeviceInfo) *Channel {
	return &Channel{
		buf:      buf,
		minLevel: minLevel,
		session:  uuid.NewString(),
		device:   device,
		now:      time.Now,
	}
}

// NewSink builds the delivery sink for log batches.
func NewSink(client *api.Client, probe *api.Probe) buffer.Sink[model.LogEntry] {
	return buffer.SinkFunc[model.LogEntry](func(ctx context.Context, batch []model.LogEntry) error {
		if !probe.Available(ctx, api.RouteLogs) {
			return buffer.ErrEndpointAbsent
		}
		err := client.PostLogs(ctx, batch)
		if api.IsUnreachable(err) {
			return fmt.Errorf("%w: %w", buffer.ErrTransport, err)
		}
		return err
	})
}

// Buffer exposes the underlying buffer for lifecycle management.
func (c *Channel) Buffer() *buffer.Buffer[model.LogEntry] { return c.buf }

// SessionID returns the process-lifetime session identifier.
func (c *Channel) SessionID() string { return c.session }

// GenerateCorrelationID starts a new logical flow and returns its ID.
func (c *Channel) GenerateCorrelationID() string {
	id := uuid.NewString()
	c.SetCorrelationID(id)
	return id
}

// SetCorrelationID threads a caller-supplied flow ID through subsequent
// entries.
func (c *Channel) SetCorrelationID(id string) {
	c.mu.Lock()
	c.correlation = id
	c.mu.Unlock()
}

// ClearCorrelationID ends the current flow.
func (c *Channel) ClearCorrelationID() {
	c.SetCorrelationID("")
}

// correlationID returns the current flow ID, starting a new flow when none
// is active.
func (c *Channel) correlationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.correlation == "" {
		c.correlation = uuid.NewString()
	}
	return c.correlation
}

// Log records an entry at the given level. Below-threshold entries are
// dropped before enqueueing.
func (c *Channel) Log(level model.LogLevel, message string, context map[string]any) {
	c.log(level, message, context, "", "")
}

// LogModule records an entry attributed to a named subsystem.
func (c *Channel) LogModule(level model.LogLevel, module, message string, context map[string]any) {
	c.log(level, message, context, module, "")
}

func (c *Channel) log(level model.LogLevel, message string, context map[string]any, module, stack string) {
	if level < c.minLevel {
		return
	}
	if level >= model.LevelFatal && stack == "" {
		stack = string(debug.Stack())
	}

	c.buf.Append(model.LogEntry{
		Level:         level,
		Message:       message,
		Context:       context,
		Module:        module,
		CorrelationID: c.correlationID(),
		SessionID:     c.session,
		Device:        c.device,
		Timestamp:     c.now().UTC(),
		StackTrace:    stack,
	})

	// Error-grade entries should reach the backend before the periodic
	// timer fires; the flush may still fail and follow the restore policy.
	if level >= model.LevelError {
		c.buf.TriggerFlush()
	}
}

// Debug records a debug entry.
func (c *Channel) Debug(message string, context map[string]any) {
	c.Log(model.LevelDebug, message, context)
}

// Info records an info entry.
func (c *Channel) Info(message string, context map[string]any) {
	c.Log(model.LevelInfo, message, context)
}

// Warn records a warning entry.
func (c *Channel) Warn(message string, context map[string]any) {
	c.Log(model.LevelWarn, message, context)
}

// Error records an error entry and triggers an immediate flush.
func (c *Channel) Error(message string, context map[string]any) {
	c.Log(model.LevelError, message, context)
}

// Fatal records a fatal entry with a stack trace and triggers an
// immediate flush. It does not terminate the process; that decision
// belongs to the caller.
func (c *Channel) Fatal(message string, context map[string]any) {
	c.Log(model.LevelFatal, message, context)
}
