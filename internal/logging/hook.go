package logging

import (
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"

	"github.com/slashforyou/swift-app-sub000/internal/model"
)

// levelForCapture is the severity assigned to hook-captured failures.
// Error rather than fatal: the process survived, the report did not.
const levelForCapture = model.LevelError

// noisyPatterns are known-duplicate failure messages that would otherwise
// feed back into the log channel in a loop (each suppressed occurrence can
// itself trigger the reporter that produced it).
var noisyPatterns = []string{
	"duplicate key",
	"UNIQUE constraint failed",
}

// Hook captures otherwise-unlogged failures from the process's top-level
// error reporting path (panics recovered at goroutine boundaries, foreign
// error callbacks). It must be registered explicitly by the host.
type Hook struct {
	channel *Channel

	// inHook prevents the hook from re-entering itself when its own
	// logging path fails and reports through the same mechanism.
	inHook atomic.Bool

	suppressed atomic.Int64
}

// NewHook creates a capture hook bound to the log channel.
func NewHook(channel *Channel) *Hook {
	return &Hook{channel: channel}
}

// CaptureError reports a failure from the host's error-reporting path.
// Re-entrant calls and known-noisy duplicates are dropped.
func (h *Hook) CaptureError(err error) {
	if err == nil {
		return
	}
	h.capture(err.Error(), "")
}

// CapturePanic logs a recovered panic value with the current stack.
// Use in a deferred recover at goroutine boundaries:
//
//	defer func() {
//		if r := recover(); r != nil {
//			hook.CapturePanic(r)
//		}
//	}()
func (h *Hook) CapturePanic(recovered any) {
	if recovered == nil {
		return
	}
	h.capture(fmt.Sprint(recovered), string(debug.Stack()))
}

// Suppressed returns how many reports were dropped by the re-entrancy
// guard or the noise filter.
func (h *Hook) Suppressed() int64 {
	return h.suppressed.Load()
}

func (h *Hook) capture(message, stack string) {
	if !h.inHook.CompareAndSwap(false, true) {
		h.suppressed.Add(1)
		return
	}
	defer h.inHook.Store(false)

	if isNoisy(message) {
		h.suppressed.Add(1)
		return
	}

	h.channel.log(levelForCapture, "uncaught: "+message, nil, "uncaught", stack)
}

func isNoisy(message string) bool {
	for _, p := range noisyPatterns {
		if strings.Contains(message, p) {
			return true
		}
	}
	return false
}
