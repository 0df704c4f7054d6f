package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/anthill-platform/anthill-market/internal/market"
	"github.com/anthill-platform/anthill-market/internal/metrics"
)

// DefaultWebhookTimeout bounds one delivery attempt.
const DefaultWebhookTimeout = 10 * time.Second

// Webhook POSTs each notification as JSON to a configured endpoint.
// Typically the endpoint is the platform's messaging service, which
// routes the event to the recipient's live sessions.
type Webhook struct {
	client  *resty.Client
	url     string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewWebhook creates the webhook notifier. A zero timeout falls back to
// DefaultWebhookTimeout.
func NewWebhook(url string, timeout time.Duration, logger *slog.Logger, met *metrics.Metrics) *Webhook {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Webhook{
		client:  client,
		url:     url,
		logger:  logger.With("component", "webhook"),
		metrics: met,
	}
}

func (w *Webhook) Send(ctx context.Context, n market.Notification) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(n).
		Post(w.url)
	if err != nil {
		w.metrics.Notification(metrics.NotifyFailed)
		w.logger.Error("webhook delivery failed",
			"kind", n.Kind, "recipient", n.RecipientKey, "error", err)
		return err
	}
	if resp.IsError() {
		w.metrics.Notification(metrics.NotifyFailed)
		err := fmt.Errorf("webhook responded %s", resp.Status())
		w.logger.Error("webhook delivery rejected",
			"kind", n.Kind, "recipient", n.RecipientKey, "status", resp.StatusCode())
		return err
	}

	w.metrics.Notification(metrics.NotifyDelivered)
	return nil
}
