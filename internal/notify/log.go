package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes events to the structured log. It is the default backend
// for development and for deployments without a message broker.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Publish logs the event at info level.
func (n *LogNotifier) Publish(_ context.Context, evt Event) {
	n.logger.Info("workflow event",
		zap.String("event_type", evt.Type),
		zap.String("workflow_id", evt.WorkflowID),
		zap.String("request_id", evt.RequestID),
		zap.String("tenant_id", evt.TenantID),
		zap.String("stage", evt.Stage),
		zap.Time("occurred_at", evt.OccurredAt),
	)
}
