package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operator compares a metric value against a rule threshold.
type Operator string

const (
	OpGreaterThan  Operator = "gt"
	OpLessThan     Operator = "lt"
	OpGreaterEqual Operator = "gte"
	OpLessEqual    Operator = "lte"
	OpEqual        Operator = "eq"
)

// Compare evaluates value <op> threshold.
func (o Operator) Compare(value, threshold float64) (bool, error) {
	switch o {
	case OpGreaterThan:
		return value > threshold, nil
	case OpLessThan:
		return value < threshold, nil
	case OpGreaterEqual:
		return value >= threshold, nil
	case OpLessEqual:
		return value <= threshold, nil
	case OpEqual:
		return value == threshold, nil
	default:
		return false, fmt.Errorf("model: unknown operator %q", o)
	}
}

// Severity ranks alert importance.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// NotificationChannel is an outbound alert delivery mechanism.
type NotificationChannel string

const (
	ChannelEmail   NotificationChannel = "email"
	ChannelSMS     NotificationChannel = "sms"
	ChannelPush    NotificationChannel = "push"
	ChannelWebhook NotificationChannel = "webhook"
)

// AlertRule is a threshold condition over a backend aggregate metric.
// Mutated only through the engine's rule-management operations.
type AlertRule struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	Metric    string                `json:"metric"`
	Operator  Operator              `json:"operator"`
	Threshold float64               `json:"threshold"`
	Severity  Severity              `json:"severity"`
	Enabled   bool                  `json:"enabled"`
	Channels  []NotificationChannel `json:"notification_channels"`
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertActive     AlertStatus = "active"
	AlertResolved   AlertStatus = "resolved"
	AlertSuppressed AlertStatus = "suppressed"
)

// Alert records one firing of a rule. At most one active alert exists per
// rule at any time; resolved alerts move to an append-only history.
type Alert struct {
	ID             uuid.UUID   `json:"id"`
	RuleID         string      `json:"rule_id"`
	Severity       Severity    `json:"severity"`
	Title          string      `json:"title"`
	Description    string      `json:"description"`
	CurrentValue   float64     `json:"current_value"`
	ThresholdValue float64     `json:"threshold_value"`
	TriggeredAt    time.Time   `json:"triggered_at"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`
	Status         AlertStatus `json:"status"`
}
