package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/swiftcheck/qcflow/model"
)

// MemoryStore is an in-memory Store for testing and single-instance
// deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]model.Workflow          // key: workflow ID
	published map[string]model.PublishedTemplate // key: published template ID
	events    map[string][]model.WorkflowEvent   // key: workflow ID
}

// NewMemoryStore creates a new in-memory workflow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]model.Workflow),
		published: make(map[string]model.PublishedTemplate),
		events:    make(map[string][]model.WorkflowEvent),
	}
}

// Create persists a new workflow document.
func (s *MemoryStore) Create(_ context.Context, wf model.Workflow) error {
	if err := wf.Validate(); err != nil {
		return model.NewBadRequestError(err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[wf.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("workflow %q already exists", wf.ID),
		)
	}

	s.workflows[wf.ID] = cloneWorkflow(wf)
	return nil
}

// Get retrieves a workflow by ID, scoped to tenant.
func (s *MemoryStore) Get(_ context.Context, tenantID, workflowID string) (model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, exists := s.workflows[workflowID]
	if !exists || wf.TenantID != tenantID {
		return model.Workflow{}, model.NewWorkflowNotFoundError(workflowID)
	}
	return cloneWorkflow(wf), nil
}

// Replace persists a mutated workflow with optimistic locking.
func (s *MemoryStore) Replace(_ context.Context, wf model.Workflow) error {
	if err := wf.Validate(); err != nil {
		return model.NewBadRequestError(err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.workflows[wf.ID]
	if !exists {
		return model.NewWorkflowNotFoundError(wf.ID)
	}

	// Optimistic lock check.
	if existing.Version != wf.Version {
		return model.NewVersionConflictError(wf.ID, wf.Version)
	}

	wf.Version++
	s.workflows[wf.ID] = cloneWorkflow(wf)
	return nil
}

// UpsertPublishedTemplate persists the published-template document, replacing
// any prior version under the same ID.
func (s *MemoryStore) UpsertPublishedTemplate(_ context.Context, tpl model.PublishedTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.published[tpl.ID] = tpl
	return nil
}

// GetPublishedTemplate retrieves a published template by ID, scoped to tenant.
func (s *MemoryStore) GetPublishedTemplate(_ context.Context, tenantID, id string) (model.PublishedTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, exists := s.published[id]
	if !exists || tpl.TenantID != tenantID {
		return model.PublishedTemplate{}, model.NewNotFoundError(
			fmt.Sprintf("published template %q not found", id),
		)
	}
	return tpl, nil
}

// AppendEvent adds an entry to the workflow's audit trail.
func (s *MemoryStore) AppendEvent(_ context.Context, event model.WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[event.WorkflowID] = append(s.events[event.WorkflowID], event)
	return nil
}

// GetEvents retrieves the audit trail for a workflow, ordered by timestamp.
func (s *MemoryStore) GetEvents(_ context.Context, tenantID, workflowID string) ([]model.WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Verify tenant access.
	wf, exists := s.workflows[workflowID]
	if !exists || wf.TenantID != tenantID {
		return nil, model.NewWorkflowNotFoundError(workflowID)
	}

	events := s.events[workflowID]
	result := make([]model.WorkflowEvent, len(events))
	copy(result, events)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// FindPendingByRole returns pending workflows whose current stage is assigned
// to the given role.
func (s *MemoryStore) FindPendingByRole(_ context.Context, tenantID, role string) ([]model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Workflow
	for _, wf := range s.workflows {
		if wf.TenantID != tenantID || wf.Status != model.StatusPending {
			continue
		}
		rec := wf.CurrentStageRecord()
		if rec == nil || rec.ApproverRole != role {
			continue
		}
		result = append(result, cloneWorkflow(wf))
	}

	// Oldest due date first so the queue surfaces the most urgent work.
	sort.Slice(result, func(i, j int) bool {
		return result[i].CurrentStageRecord().DueDate.Before(result[j].CurrentStageRecord().DueDate)
	})
	return result, nil
}

// FindOverdue returns pending workflows past their current stage due date.
func (s *MemoryStore) FindOverdue(_ context.Context, cutoff time.Time) ([]model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Workflow
	for _, wf := range s.workflows {
		if wf.Status != model.StatusPending {
			continue
		}
		rec := wf.CurrentStageRecord()
		if rec == nil || !rec.DueDate.Before(cutoff) {
			continue
		}
		result = append(result, cloneWorkflow(wf))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CurrentStageRecord().DueDate.Before(result[j].CurrentStageRecord().DueDate)
	})
	return result, nil
}

// Len returns the total number of workflows. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workflows)
}

// cloneWorkflow deep-copies the approval chain so callers can't mutate stored
// state behind the version check.
func cloneWorkflow(wf model.Workflow) model.Workflow {
	chain := make([]model.StageRecord, len(wf.ApprovalChain))
	copy(chain, wf.ApprovalChain)
	wf.ApprovalChain = chain
	return wf
}
