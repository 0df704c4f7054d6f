// Package notify delivers market events to their owners. Delivery is
// best-effort everywhere: the engine has already committed when Send is
// called, so implementations log failures, count them, and move on. The
// Outbox wrapper adds at-least-once retry on top for transports that
// can fail transiently.
package notify

import (
	"context"
	"log/slog"

	"github.com/anthill-platform/anthill-market/internal/market"
	"github.com/anthill-platform/anthill-market/internal/metrics"
)

// Log writes every notification to the log and nothing else. It is the
// default sink when no transport is configured.
type Log struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewLog creates the logging notifier.
func NewLog(logger *slog.Logger, met *metrics.Metrics) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		logger:  logger.With("component", "notify"),
		metrics: met,
	}
}

func (l *Log) Send(ctx context.Context, n market.Notification) error {
	l.logger.Info("notification",
		"tenant", n.Tenant, "kind", n.Kind,
		"recipient_class", n.RecipientClass, "recipient", n.RecipientKey)
	l.metrics.Notification(metrics.NotifyDelivered)
	return nil
}

// Multi fans one notification out to several sinks. Every sink sees the
// notification; the first error is returned after all have run.
type Multi []market.Notifier

func (m Multi) Send(ctx context.Context, n market.Notification) error {
	var first error
	for _, sink := range m {
		if err := sink.Send(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}
