package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/swiftcheck/qcflow/internal/config"
	"github.com/swiftcheck/qcflow/internal/notify"
	"github.com/swiftcheck/qcflow/model"
)

// Engine drives workflows through their approval chain. All transitions are
// read-mutate-replace against the store's version check, so two approvers
// racing on the same workflow resolve to one winner and one VERSION_CONFLICT.
type Engine struct {
	store    Store
	chain    []config.StageConfig
	notifier notify.Notifier
	logger   *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewEngine creates a new workflow engine. The chain configures the stages
// assigned to every workflow at creation time.
func NewEngine(store Store, chain []config.StageConfig, notifier notify.Notifier, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		chain:    chain,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return "wf_" + uuid.New().String() },
	}
}

// CreateWorkflow starts a new approval workflow for a generated template
// request. The approval chain is fixed at creation; later config changes
// never touch workflows already in flight.
func (e *Engine) CreateWorkflow(
	ctx context.Context,
	rctx *model.RequestContext,
	requestID string,
	snapshot map[string]any,
) (model.Workflow, error) {
	if requestID == "" {
		return model.Workflow{}, model.NewValidationError([]model.FieldError{
			{Field: "requestId", Code: "required", Message: "requestId is required"},
		})
	}

	if len(e.chain) == 0 {
		return model.Workflow{}, model.NewInternalError()
	}

	// Only the entry stage starts pending; the rest wait their turn so the
	// chain always carries exactly one pending record while the workflow does.
	now := e.now()
	chain := make([]model.StageRecord, 0, len(e.chain))
	for i, s := range e.chain {
		status := model.StatusWaiting
		if i == 0 {
			status = model.StatusPending
		}
		chain = append(chain, model.StageRecord{
			Stage:        model.Stage(s.Stage),
			ApproverRole: s.Role,
			Status:       status,
			Required:     s.Required,
			DueDate:      now.Add(s.DueOffset),
		})
	}

	wf := model.Workflow{
		ID:               e.newID(),
		RequestID:        requestID,
		TenantID:         rctx.TenantID,
		CurrentStage:     chain[0].Stage,
		Status:           model.StatusPending,
		ApprovalChain:    chain,
		TemplateSnapshot: snapshot,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := e.store.Create(ctx, wf); err != nil {
		return model.Workflow{}, err
	}

	e.appendEvent(ctx, wf.ID, wf.CurrentStage, "workflow_started", rctx.SubjectID, nil, "")
	e.publish(ctx, notify.EventWorkflowStarted, wf, map[string]any{
		"initialStage": string(wf.CurrentStage),
	})

	return wf, nil
}

// Get retrieves a workflow scoped to the caller's tenant.
func (e *Engine) Get(ctx context.Context, rctx *model.RequestContext, workflowID string) (model.Workflow, error) {
	return e.store.Get(ctx, rctx.TenantID, workflowID)
}

// History retrieves a workflow's audit trail, oldest first.
func (e *Engine) History(ctx context.Context, rctx *model.RequestContext, workflowID string) ([]model.WorkflowEvent, error) {
	return e.store.GetEvents(ctx, rctx.TenantID, workflowID)
}

// SubmitApproval records an approver's decision on the workflow's current
// stage. An approval advances the workflow to the next required stage, or
// completes and publishes it when none remains. A rejection terminates the
// workflow immediately. The transition is applied with conditional replace:
// on VERSION_CONFLICT nothing was recorded and the caller must reload.
func (e *Engine) SubmitApproval(
	ctx context.Context,
	rctx *model.RequestContext,
	workflowID string,
	decision model.Decision,
	comments string,
) (model.Workflow, error) {
	if !decision.Valid() {
		return model.Workflow{}, model.NewValidationError([]model.FieldError{
			{Field: "decision", Code: "invalid", Message: "decision must be approved or rejected"},
		})
	}

	wf, err := e.store.Get(ctx, rctx.TenantID, workflowID)
	if err != nil {
		return model.Workflow{}, err
	}

	// Terminal workflows reject resubmission rather than reprocessing.
	if wf.Status != model.StatusPending {
		return model.Workflow{}, model.NewWorkflowNotPendingError(workflowID, wf.Status)
	}

	rec := wf.CurrentStageRecord()
	if rec == nil {
		return model.Workflow{}, model.NewWorkflowNotPendingError(workflowID, wf.Status)
	}

	now := e.now()
	decidedStage := rec.Stage
	rec.ApproverID = rctx.SubjectID
	rec.Comments = comments
	rec.ApprovedAt = &now

	completed := false
	switch decision {
	case model.DecisionRejected:
		rec.Status = model.StatusRejected
		wf.Status = model.StatusRejected
		wf.RejectedBy = rctx.SubjectID
		wf.RejectionReason = comments

	case model.DecisionApproved:
		rec.Status = model.StatusApproved
		if next := nextRequiredStage(wf, decidedStage); next != nil {
			next.Status = model.StatusPending
			wf.CurrentStage = next.Stage
		} else {
			wf.Status = model.StatusApproved
			wf.CurrentStage = model.StagePublished
			completed = true
		}
	}
	wf.UpdatedAt = now

	// The version check decides the race: the loser's decision is discarded
	// and everything after this point runs only for the winner.
	if err := e.store.Replace(ctx, wf); err != nil {
		return model.Workflow{}, err
	}
	wf.Version++

	event := "stage_approved"
	if decision == model.DecisionRejected {
		event = "stage_rejected"
	}
	e.appendEvent(ctx, wf.ID, decidedStage, event, rctx.SubjectID, nil, comments)
	e.publish(ctx, notify.EventApprovalSubmitted, wf, map[string]any{
		"stage":    string(decidedStage),
		"decision": string(decision),
	})

	if completed {
		e.publishTemplate(ctx, rctx, wf)
	}

	return wf, nil
}

// GetPendingApprovals returns the pending queue for an approver role, most
// urgent due date first.
func (e *Engine) GetPendingApprovals(ctx context.Context, rctx *model.RequestContext, role string) ([]model.PendingApproval, error) {
	if role == "" {
		return nil, model.NewValidationError([]model.FieldError{
			{Field: "role", Code: "required", Message: "role is required"},
		})
	}

	workflows, err := e.store.FindPendingByRole(ctx, rctx.TenantID, role)
	if err != nil {
		return nil, err
	}

	pending := make([]model.PendingApproval, 0, len(workflows))
	for _, wf := range workflows {
		rec := wf.CurrentStageRecord()
		if rec == nil {
			continue
		}
		pending = append(pending, model.PendingApproval{
			WorkflowID:   wf.ID,
			RequestID:    wf.RequestID,
			CurrentStage: wf.CurrentStage,
			ApproverRole: rec.ApproverRole,
			DueDate:      rec.DueDate,
		})
	}
	return pending, nil
}

// GetPublishedTemplate retrieves the published output for a request.
func (e *Engine) GetPublishedTemplate(ctx context.Context, rctx *model.RequestContext, requestID string) (model.PublishedTemplate, error) {
	return e.store.GetPublishedTemplate(ctx, rctx.TenantID, model.PublishedTemplateID(requestID))
}

// ExpireOverdue marks pending workflows past their current stage due date as
// expired and returns how many were transitioned. Each expiry goes through
// conditional replace; a conflict means an approver acted concurrently and
// the workflow is left alone.
func (e *Engine) ExpireOverdue(ctx context.Context) (int, error) {
	overdue, err := e.store.FindOverdue(ctx, e.now())
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, wf := range overdue {
		if err := e.expire(ctx, wf); err != nil {
			if model.IsCode(err, model.ErrVersionConflict) {
				continue
			}
			e.logger.Warn("expire workflow",
				zap.String("workflow_id", wf.ID),
				zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}

func (e *Engine) expire(ctx context.Context, wf model.Workflow) error {
	now := e.now()
	stage := wf.CurrentStage
	if rec := wf.CurrentStageRecord(); rec != nil {
		rec.Status = model.StatusExpired
	}
	wf.Status = model.StatusExpired
	wf.UpdatedAt = now

	if err := e.store.Replace(ctx, wf); err != nil {
		return err
	}

	e.appendEvent(ctx, wf.ID, stage, "workflow_expired", "system", nil, "stage due date elapsed")
	e.publish(ctx, notify.EventWorkflowExpired, wf, map[string]any{
		"stage": string(stage),
	})
	return nil
}

// publishTemplate persists the approved snapshot as the authoritative output.
// It runs only on the path where the final conditional replace succeeded, and
// the fixed document ID keeps a replay harmless. A storage failure here is
// logged, not returned: the approval itself is already durable.
func (e *Engine) publishTemplate(ctx context.Context, rctx *model.RequestContext, wf model.Workflow) {
	tpl := model.PublishedTemplate{
		ID:               model.PublishedTemplateID(wf.RequestID),
		RequestID:        wf.RequestID,
		TenantID:         wf.TenantID,
		TemplateSnapshot: wf.TemplateSnapshot,
		Status:           "published",
		PublishedAt:      e.now(),
		Version:          "1.0",
	}
	if err := e.store.UpsertPublishedTemplate(ctx, tpl); err != nil {
		e.logger.Error("publish approved template",
			zap.String("workflow_id", wf.ID),
			zap.String("request_id", wf.RequestID),
			zap.Error(err))
		return
	}

	e.appendEvent(ctx, wf.ID, model.StagePublished, "template_published", rctx.SubjectID, nil, "")
	e.publish(ctx, notify.EventTemplatePublished, wf, map[string]any{
		"publishedTemplateId": tpl.ID,
	})
}

// nextRequiredStage scans the chain forward from the stage just decided and
// returns the next required stage still waiting its turn. Optional stages are
// informational and never block completion.
func nextRequiredStage(wf model.Workflow, from model.Stage) *model.StageRecord {
	idx := -1
	for i := range wf.ApprovalChain {
		if wf.ApprovalChain[i].Stage == from {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	for i := idx + 1; i < len(wf.ApprovalChain); i++ {
		rec := &wf.ApprovalChain[i]
		if rec.Required && rec.Status == model.StatusWaiting {
			return rec
		}
	}
	return nil
}

// appendEvent records an audit trail entry. The trail is best effort; a
// failed append never unwinds the transition it describes.
func (e *Engine) appendEvent(ctx context.Context, workflowID string, stage model.Stage, event, actorID string, data map[string]any, comment string) {
	err := e.store.AppendEvent(ctx, model.WorkflowEvent{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Stage:      stage,
		Event:      event,
		ActorID:    actorID,
		Data:       data,
		Comment:    comment,
		Timestamp:  e.now(),
	})
	if err != nil {
		e.logger.Warn("append workflow event",
			zap.String("workflow_id", workflowID),
			zap.String("event", event),
			zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, eventType string, wf model.Workflow, payload map[string]any) {
	e.notifier.Publish(ctx, notify.Event{
		Type:       eventType,
		WorkflowID: wf.ID,
		RequestID:  wf.RequestID,
		TenantID:   wf.TenantID,
		Stage:      string(wf.CurrentStage),
		Payload:    payload,
		OccurredAt: e.now(),
	})
}
