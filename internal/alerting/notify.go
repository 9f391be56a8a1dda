package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slashforyou/swift-app-sub000/internal/api"
	"github.com/slashforyou/swift-app-sub000/internal/model"
)

// SMSDispatcher sends alert text messages through a carrier gateway.
// Implementations are provided by the embedding application.
type SMSDispatcher interface {
	SendSMS(ctx context.Context, severity model.Severity, message string) error
}

// PushDispatcher sends alert push notifications to operator devices.
type PushDispatcher interface {
	SendPush(ctx context.Context, title, body string) error
}

// Notifier fans one alert out to the channels its rule configured.
// Every channel is best effort: a failed delivery is logged and never
// blocks the others or the poll loop.
type Notifier struct {
	client      *api.Client
	sms         SMSDispatcher
	push        PushDispatcher
	webhookURLs []string
	logger      *slog.Logger
}

// NewNotifier creates a notifier. sms and push may be nil when the
// embedding app provides no dispatcher for those channels; webhookURLs
// may be empty.
func NewNotifier(client *api.Client, sms SMSDispatcher, push PushDispatcher, webhookURLs []string, logger *slog.Logger) *Notifier {
	return &Notifier{
		client:      client,
		sms:         sms,
		push:        push,
		webhookURLs: webhookURLs,
		logger:      logger,
	}
}

// Notify delivers the alert on each configured channel.
func (n *Notifier) Notify(ctx context.Context, alert model.Alert, channels []model.NotificationChannel) {
	for _, ch := range channels {
		var err error
		switch ch {
		case model.ChannelEmail:
			err = n.client.SendEmailNotification(ctx, api.EmailNotification{
				Type:        "alert",
				Severity:    alert.Severity,
				Title:       alert.Title,
				Description: alert.Description,
				AlertID:     alert.ID.String(),
			})
		case model.ChannelSMS:
			if n.sms == nil {
				continue
			}
			err = n.sms.SendSMS(ctx, alert.Severity, fmt.Sprintf("[%s] %s: %s", alert.Severity, alert.Title, alert.Description))
		case model.ChannelPush:
			if n.push == nil {
				continue
			}
			err = n.push.SendPush(ctx, alert.Title, alert.Description)
		case model.ChannelWebhook:
			err = n.postWebhooks(ctx, alert)
		default:
			n.logger.Warn("alerting: unknown notification channel", "channel", ch)
			continue
		}
		if err != nil {
			n.logger.Error("alerting: notification failed",
				"channel", ch, "alert_id", alert.ID, "rule_id", alert.RuleID, "error", err)
		}
	}
}

// webhookPayload is the JSON body posted to operator-configured webhooks.
type webhookPayload struct {
	Type           string         `json:"type"`
	AlertID        string         `json:"alert_id"`
	RuleID         string         `json:"rule_id"`
	Severity       model.Severity `json:"severity"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	CurrentValue   float64        `json:"current_value"`
	ThresholdValue float64        `json:"threshold_value"`
	TriggeredAt    time.Time      `json:"triggered_at"`
}

func (n *Notifier) postWebhooks(ctx context.Context, alert model.Alert) error {
	payload := webhookPayload{
		Type:           "alert",
		AlertID:        alert.ID.String(),
		RuleID:         alert.RuleID,
		Severity:       alert.Severity,
		Title:          alert.Title,
		Description:    alert.Description,
		CurrentValue:   alert.CurrentValue,
		ThresholdValue: alert.ThresholdValue,
		TriggeredAt:    alert.TriggeredAt,
	}

	var firstErr error
	for _, url := range n.webhookURLs {
		if err := n.client.PostWebhook(ctx, url, payload); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("webhook %s: %w", url, err)
		}
	}
	return firstErr
}
