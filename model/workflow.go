package model

import (
	"fmt"
	"time"
)

// Stage identifies one checkpoint in a workflow's approval chain.
type Stage string

// Workflow stages. The chain is assigned at creation time and never
// reordered or resized afterwards.
const (
	StageDraft           Stage = "draft"
	StageQCReview        Stage = "qc_review"
	StageManagerApproval Stage = "manager_approval"
	StageFinalApproval   Stage = "final_approval"
	StagePublished       Stage = "published"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageDraft, StageQCReview, StageManagerApproval, StageFinalApproval, StagePublished:
		return true
	}
	return false
}

// Status is the approval status of a workflow or of a single stage record.
type Status string

// Approval statuses. Approved, rejected, and expired are terminal for a
// workflow; once reached the record is never mutated again. Waiting applies
// to stage records only: it marks a chain entry the workflow has not reached
// yet, so at any moment exactly one record is pending while the workflow is.
const (
	StatusPending  Status = "pending"
	StatusWaiting  Status = "waiting"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Valid reports whether st is a known status.
func (st Status) Valid() bool {
	switch st {
	case StatusPending, StatusWaiting, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether st ends a workflow's lifecycle.
func (st Status) Terminal() bool {
	return st == StatusApproved || st == StatusRejected || st == StatusExpired
}

// Decision is the outcome an approver submits for the current stage.
// Only approved and rejected are submittable; expiry is system-driven.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Valid reports whether d is a submittable decision.
func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// StageRecord is one element of a workflow's approval chain.
type StageRecord struct {
	Stage        Stage      `json:"stage"`
	ApproverRole string     `json:"approver_role"`
	ApproverID   string     `json:"approver_id,omitempty"`
	Status       Status     `json:"status"`
	Required     bool       `json:"required"`
	DueDate      time.Time  `json:"due_date"`
	Comments     string     `json:"comments,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
}

// Workflow is one approval instance tied to a generated template request.
// It is persisted as a single document and mutated only through conditional
// replace keyed on Version.
type Workflow struct {
	ID               string         `json:"id"`
	RequestID        string         `json:"request_id"`
	TenantID         string         `json:"tenant_id"`
	CurrentStage     Stage          `json:"current_stage"`
	Status           Status         `json:"status"`
	ApprovalChain    []StageRecord  `json:"approval_chain"`
	TemplateSnapshot map[string]any `json:"template_snapshot,omitempty"`
	RejectedBy       string         `json:"rejected_by,omitempty"`
	RejectionReason  string         `json:"rejection_reason,omitempty"`
	Version          int            `json:"version"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// CurrentStageRecord returns a pointer to the chain entry referenced by
// CurrentStage, or nil if the chain does not contain it (published is never
// a chain member).
func (w *Workflow) CurrentStageRecord() *StageRecord {
	for i := range w.ApprovalChain {
		if w.ApprovalChain[i].Stage == w.CurrentStage {
			return &w.ApprovalChain[i]
		}
	}
	return nil
}

// Validate rejects malformed workflow documents at the store boundary.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workflow: missing id")
	}
	if w.RequestID == "" {
		return fmt.Errorf("workflow %s: missing request_id", w.ID)
	}
	if w.TenantID == "" {
		return fmt.Errorf("workflow %s: missing tenant_id", w.ID)
	}
	if !w.Status.Valid() {
		return fmt.Errorf("workflow %s: unknown status %q", w.ID, w.Status)
	}
	if w.Status == StatusWaiting {
		return fmt.Errorf("workflow %s: waiting is a stage-only status", w.ID)
	}
	if !w.CurrentStage.Valid() {
		return fmt.Errorf("workflow %s: unknown stage %q", w.ID, w.CurrentStage)
	}
	if len(w.ApprovalChain) == 0 {
		return fmt.Errorf("workflow %s: empty approval chain", w.ID)
	}
	for i := range w.ApprovalChain {
		rec := &w.ApprovalChain[i]
		if !rec.Stage.Valid() {
			return fmt.Errorf("workflow %s: chain[%d] unknown stage %q", w.ID, i, rec.Stage)
		}
		if !rec.Status.Valid() {
			return fmt.Errorf("workflow %s: chain[%d] unknown status %q", w.ID, i, rec.Status)
		}
	}
	if w.Status == StatusPending {
		cur := w.CurrentStageRecord()
		if cur == nil {
			return fmt.Errorf("workflow %s: current stage %q not in chain", w.ID, w.CurrentStage)
		}
		if cur.Status != StatusPending {
			return fmt.Errorf("workflow %s: current stage %q is %q, not pending", w.ID, cur.Stage, cur.Status)
		}
		for i := range w.ApprovalChain {
			rec := &w.ApprovalChain[i]
			if rec.Status == StatusPending && rec.Stage != w.CurrentStage {
				return fmt.Errorf("workflow %s: chain[%d] pending but current stage is %q", w.ID, i, w.CurrentStage)
			}
		}
	}
	return nil
}

// PublishedTemplate is the terminal side effect of an approved workflow:
// the template snapshot persisted as authoritative output, keyed by request.
type PublishedTemplate struct {
	ID               string         `json:"id"`
	RequestID        string         `json:"request_id"`
	TenantID         string         `json:"tenant_id"`
	TemplateSnapshot map[string]any `json:"template_snapshot"`
	Status           string         `json:"status"`
	PublishedAt      time.Time      `json:"published_at"`
	Version          string         `json:"version"`
}

// PublishedTemplateID builds the fixed document ID for a published template.
// The fixed key makes the publish side effect idempotent per request.
func PublishedTemplateID(requestID string) string {
	return "published_" + requestID
}

// PendingApproval is one entry in a reviewer's pull-based queue.
type PendingApproval struct {
	WorkflowID   string    `json:"workflow_id"`
	RequestID    string    `json:"request_id"`
	CurrentStage Stage     `json:"current_stage"`
	ApproverRole string    `json:"approver_role"`
	DueDate      time.Time `json:"due_date"`
}

// WorkflowEvent records an entry in a workflow's audit trail. The trail is
// append-only and best effort; it never gates the primary mutation.
type WorkflowEvent struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Stage      Stage          `json:"stage"`
	Event      string         `json:"event"`
	ActorID    string         `json:"actor_id"`
	Data       map[string]any `json:"data,omitempty"`
	Comment    string         `json:"comment,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
