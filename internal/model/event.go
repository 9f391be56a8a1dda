package model

import "time"

// EventCategory classifies a telemetry event.
type EventCategory string

const (
	CategoryUserAction EventCategory = "user_action"
	CategoryBusiness   EventCategory = "business"
	CategoryTechnical  EventCategory = "technical"
	CategoryError      EventCategory = "error"
)

// TelemetryEvent is a single tracked business or technical event.
// Immutable once created; owned by the telemetry channel until a flush
// confirms delivery.
type TelemetryEvent struct {
	EventType string         `json:"event_type"`
	Category  EventCategory  `json:"category"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// ErrorKind is the fixed taxonomy for tracked errors.
type ErrorKind string

const (
	ErrorKindNetwork    ErrorKind = "network"
	ErrorKindAPI        ErrorKind = "api"
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindPayment    ErrorKind = "payment"
	ErrorKindTimer      ErrorKind = "timer"
	ErrorKindStorage    ErrorKind = "storage"
	ErrorKindUnknown    ErrorKind = "unknown"
)

// PaymentStatus is the payment lifecycle stage reported to telemetry.
type PaymentStatus string

const (
	PaymentInitiated PaymentStatus = "initiated"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)
