package model

import (
	"encoding/json"
	"time"
)

// LogLevel orders log severities from debug (lowest) to fatal (highest).
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = [...]string{"debug", "info", "warn", "error", "fatal"}

func (l LogLevel) String() string {
	if l < LevelDebug || l > LevelFatal {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLogLevel maps a level name to its LogLevel. Unknown names map to
// LevelInfo so a bad configuration value cannot silence error logs.
func ParseLogLevel(s string) LogLevel {
	for i, name := range levelNames {
		if name == s {
			return LogLevel(i)
		}
	}
	return LevelInfo
}

// MarshalJSON emits the level name rather than its ordinal so the backend
// log pipeline can filter on strings.
func (l LogLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

func (l *LogLevel) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*l = ParseLogLevel(name)
	return nil
}

// DeviceInfo describes the installation emitting log entries.
type DeviceInfo struct {
	Platform   string `json:"platform"`
	AppVersion string `json:"app_version"`
	DeviceID   string `json:"device_id,omitempty"`
}

// LogEntry is a structured, leveled log record. SessionID lives for the
// process; CorrelationID is flow-scoped and may be caller-supplied or
// auto-generated.
type LogEntry struct {
	Level         LogLevel       `json:"level"`
	Message       string         `json:"message"`
	Context       map[string]any `json:"context,omitempty"`
	Module        string         `json:"module,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	SessionID     string         `json:"session_id"`
	Device        DeviceInfo     `json:"device_info"`
	Timestamp     time.Time      `json:"timestamp"`
	StackTrace    string         `json:"stack_trace,omitempty"`
}
