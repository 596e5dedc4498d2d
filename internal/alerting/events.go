package alerting

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/sns"
)

// EventPublisher publishes lifecycle events. Implemented by sns.Publisher
// and circuitbreaker.ProtectedPublisher.
type EventPublisher interface {
	Publish(ctx context.Context, event sns.Event) (string, error)
}

// publishEvent is fire-and-forget: it runs after the owning transaction has
// committed, so a publish failure is logged and never undoes the operation.
func publishEvent(ctx context.Context, events EventPublisher, logger *zap.Logger, event sns.Event) {
	if events == nil {
		return
	}

	_, err := events.Publish(ctx, event)
	metrics.RecordEventPublished(string(event.Type), err)
	if err != nil {
		logger.Warn("failed to publish event",
			zap.String("type", string(event.Type)),
			zap.Int64("alert_id", event.AlertID),
			zap.Error(err),
		)
	}
}
