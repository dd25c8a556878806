// Package notify publishes workflow lifecycle events to interested
// collaborators. Publishing is fire-and-forget: a delivery failure is logged
// and never fails the operation that produced the event.
package notify

import (
	"context"
	"time"
)

// Event types emitted over the workflow lifecycle.
const (
	EventWorkflowStarted   = "SwiftCheck.WorkflowStarted"
	EventApprovalSubmitted = "SwiftCheck.ApprovalSubmitted"
	EventWorkflowExpired   = "SwiftCheck.WorkflowExpired"
	EventTemplatePublished = "SwiftCheck.TemplatePublished"
)

// Event is one workflow lifecycle notification.
type Event struct {
	Type       string         `json:"type"`
	WorkflowID string         `json:"workflowId"`
	RequestID  string         `json:"requestId"`
	TenantID   string         `json:"tenantId"`
	Stage      string         `json:"stage,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Notifier delivers events to subscribers. Implementations must not return
// delivery failures to the caller; they log and drop instead.
type Notifier interface {
	Publish(ctx context.Context, evt Event)
}

// NoopNotifier discards every event.
type NoopNotifier struct{}

// Publish drops the event.
func (NoopNotifier) Publish(context.Context, Event) {}
