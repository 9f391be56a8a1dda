// Package buffer is the shared delivery primitive behind the telemetry and
// log channels: an append-only, size-bounded, time-flushed batch buffer
// with at-least-once delivery to a remote sink and a configurable
// rollback-to-buffer policy on transport failure.
package buffer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/slashforyou/swift-app-sub000/internal/telemetry"
)

// ErrEndpointAbsent is returned by a Sink when the remote route does not
// exist at all (as opposed to existing and failing). The batch is
// discarded silently: retrying a route that is categorically missing only
// accumulates memory.
var ErrEndpointAbsent = errors.New("buffer: endpoint absent")

// ErrTransport wraps network-level delivery failures. The backend was
// never reached, so the batch may be restored for retry depending on the
// channel's restore policy.
var ErrTransport = errors.New("buffer: transport failure")

// Sink delivers a batch to the remote backend.
type Sink[T any] interface {
	Deliver(ctx context.Context, batch []T) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc[T any] func(ctx context.Context, batch []T) error

func (f SinkFunc[T]) Deliver(ctx context.Context, batch []T) error { return f(ctx, batch) }

// Outcome describes what a flush did with the batch it swapped out.
type Outcome int

const (
	FlushEmpty Outcome = iota // nothing buffered, no network call
	FlushDelivered
	FlushSkipped  // endpoint absent, batch discarded silently
	FlushRestored // transport failure, batch returned to the buffer
	FlushDropped  // transport failure with restore disabled, or backend rejection
)

// Config holds per-channel buffer tuning.
type Config struct {
	Name          string        // channel name for logs and metrics
	BatchSize     int           // size that triggers an immediate flush
	FlushInterval time.Duration // periodic flush cadence
	Capacity      int           // hard cap on buffered records
	Restore       bool          // restore the batch on transport failure
}

// Buffer accumulates records and flushes them to a Sink when the batch
// size is reached, on a periodic timer, or on demand. Appends never block
// on delivery; a single flush path guarantees the swap-out/restore
// sequence never interleaves with another flush.
type Buffer[T any] struct {
	cfg    Config
	sink   Sink[T]
	logger *slog.Logger

	mu      sync.Mutex
	records []T

	// flushMu serializes flushes from the background loop and FlushNow.
	flushMu sync.Mutex

	dropped atomic.Int64

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainCtx   context.Context
}

// New creates a buffer. The zero values of cfg are replaced with safe
// defaults (batch 10, interval 30s, capacity 10000).
func New[T any](cfg Config, sink Sink[T], logger *slog.Logger) *Buffer[T] {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.Capacity < cfg.BatchSize {
		cfg.Capacity = 10_000
	}
	return &Buffer[T]{
		cfg:     cfg,
		sink:    sink,
		logger:  logger,
		flushCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start begins the background flush loop and registers health gauges.
// Call Drain to stop.
func (b *Buffer[T]) Start(ctx context.Context) {
	b.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	go b.flushLoop(loopCtx)
}

// Append enqueues a record. It never fails and never blocks on delivery.
// Reaching the configured batch size signals an immediate flush; reaching
// the hard capacity evicts the oldest records, which are counted as
// dropped.
func (b *Buffer[T]) Append(record T) {
	b.mu.Lock()
	b.records = append(b.records, record)
	if over := len(b.records) - b.cfg.Capacity; over > 0 {
		b.records = b.records[over:]
		b.dropped.Add(int64(over))
	}
	full := len(b.records) >= b.cfg.BatchSize
	b.mu.Unlock()

	if full {
		b.TriggerFlush()
	}
}

// TriggerFlush signals the flush loop without waiting for the result.
// Signals coalesce: at most one flush is pending at a time.
func (b *Buffer[T]) TriggerFlush() {
	select {
	case b.flushCh <- struct{}{}:
	default:
	}
}

// Size returns the current number of buffered records.
func (b *Buffer[T]) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Dropped returns the total records lost to capacity eviction or
// non-restorable delivery failures. A non-zero value indicates data loss.
func (b *Buffer[T]) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Buffer[T]) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush; ctx is already cancelled so use the drain
			// context (or a bounded fallback) for delivery.
			final := b.drainCtx
			if final == nil {
				var cancel context.CancelFunc
				final, cancel = context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
			}
			b.FlushNow(final)
			close(b.done)
			return
		case <-ticker.C:
			b.FlushNow(ctx)
		case <-b.flushCh:
			b.FlushNow(ctx)
		}
	}
}

// FlushNow swaps out the buffered records and attempts delivery, applying
// the channel's policy to the result. Concurrent callers serialize; a
// flush in progress always completes before the next begins.
func (b *Buffer[T]) FlushNow(ctx context.Context) Outcome {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.records) == 0 {
		b.mu.Unlock()
		return FlushEmpty
	}
	batch := b.records
	b.records = nil
	b.mu.Unlock()

	start := time.Now()
	err := b.sink.Deliver(ctx, batch)
	if err == nil {
		b.logger.Debug("buffer: batch flushed",
			"channel", b.cfg.Name,
			"batch_size", len(batch),
			"flush_duration_ms", time.Since(start).Milliseconds(),
		)
		return FlushDelivered
	}

	switch {
	case errors.Is(err, ErrEndpointAbsent):
		// The route does not exist on this backend. Not an error: the
		// batch is dropped without noise so a permanently missing route
		// cannot grow the buffer without bound.
		return FlushSkipped

	case errors.Is(err, ErrTransport):
		if b.cfg.Restore {
			b.restore(batch)
			b.logger.Warn("buffer: delivery failed, batch restored",
				"channel", b.cfg.Name, "batch_size", len(batch), "error", err)
			return FlushRestored
		}
		b.dropped.Add(int64(len(batch)))
		b.logger.Warn("buffer: delivery failed, batch dropped",
			"channel", b.cfg.Name, "batch_size", len(batch), "error", err)
		return FlushDropped

	default:
		// Backend reachable but rejected the batch. Retrying a batch the
		// server refuses would loop forever, so it is dropped and logged
		// as a real failure.
		b.dropped.Add(int64(len(batch)))
		b.logger.Error("buffer: batch rejected by backend",
			"channel", b.cfg.Name, "batch_size", len(batch), "error", err)
		return FlushDropped
	}
}

// restore returns an undelivered batch to the front of the buffer,
// respecting the capacity cap (newest overflow is counted as dropped).
func (b *Buffer[T]) restore(batch []T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	merged := append(batch, b.records...)
	if over := len(merged) - b.cfg.Capacity; over > 0 {
		merged = merged[:b.cfg.Capacity]
		b.dropped.Add(int64(over))
	}
	b.records = merged
}

// Drain signals the flush loop to stop, waits for its final flush, and
// returns. ctx bounds the wait and the final delivery attempt. On a
// buffer that was never started there is no loop to wait for; Drain
// flushes whatever accumulated and returns.
func (b *Buffer[T]) Drain(ctx context.Context) {
	b.drainCtx = ctx
	if b.cancelLoop == nil {
		b.FlushNow(ctx)
		return
	}
	b.cancelLoop()
	select {
	case <-b.done:
	case <-ctx.Done():
		b.logger.Warn("buffer: drain timed out waiting for flush loop", "channel", b.cfg.Name)
	}
}

// registerMetrics publishes observable gauges for buffer health.
func (b *Buffer[T]) registerMetrics() {
	meter := telemetry.Meter("opscore/buffer")

	_, _ = meter.Int64ObservableGauge("opscore.buffer."+b.cfg.Name+".depth",
		metric.WithDescription("Current number of records in the "+b.cfg.Name+" buffer"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(b.Size()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("opscore.buffer."+b.cfg.Name+".dropped_total",
		metric.WithDescription("Total records dropped by the "+b.cfg.Name+" buffer"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.Dropped())
			return nil
		}),
	)
}
