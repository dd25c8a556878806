// Package workflow implements the approval state machine and its persistence.
package workflow

import (
	"context"
	"time"

	"github.com/swiftcheck/qcflow/model"
)

// Store persists workflow documents, published templates, and the audit
// trail. Implementations validate documents at the boundary and apply
// workflow mutations only through conditional replace.
type Store interface {
	// Create persists a new workflow document. Returns CONFLICT if the ID
	// already exists.
	Create(ctx context.Context, wf model.Workflow) error

	// Get retrieves a workflow by ID, scoped to a tenant. Returns
	// WORKFLOW_NOT_FOUND if the workflow doesn't exist or belongs to a
	// different tenant.
	Get(ctx context.Context, tenantID, workflowID string) (model.Workflow, error)

	// Replace persists a mutated workflow with optimistic locking: the
	// stored version must equal wf.Version, and the stored document is
	// replaced with the version incremented. Returns VERSION_CONFLICT when
	// another writer got there first; the caller's transition was not
	// applied.
	Replace(ctx context.Context, wf model.Workflow) error

	// UpsertPublishedTemplate persists the published-template document.
	// Replaying the upsert for the same ID overwrites rather than fails, so
	// the publish side effect stays idempotent per request.
	UpsertPublishedTemplate(ctx context.Context, tpl model.PublishedTemplate) error

	// GetPublishedTemplate retrieves a published template by ID, scoped to
	// a tenant.
	GetPublishedTemplate(ctx context.Context, tenantID, id string) (model.PublishedTemplate, error)

	// AppendEvent adds an entry to a workflow's audit trail.
	AppendEvent(ctx context.Context, event model.WorkflowEvent) error

	// GetEvents retrieves the audit trail for a workflow, oldest first,
	// scoped to a tenant.
	GetEvents(ctx context.Context, tenantID, workflowID string) ([]model.WorkflowEvent, error)

	// FindPendingByRole returns pending workflows whose current stage is
	// assigned to the given approver role, oldest due date first.
	FindPendingByRole(ctx context.Context, tenantID, role string) ([]model.Workflow, error)

	// FindOverdue returns pending workflows whose current stage due date is
	// before the cutoff.
	FindOverdue(ctx context.Context, cutoff time.Time) ([]model.Workflow, error)
}
