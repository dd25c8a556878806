package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swiftcheck/qcflow/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5. The approval chain and
// template snapshot live in JSONB columns; the current stage's approver role
// and due date are denormalized into dedicated columns so the pending-queue
// and overdue queries stay indexable.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL workflow store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// HealthCheck verifies database connectivity for the readiness endpoint.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Create inserts a new workflow document.
func (s *PgStore) Create(ctx context.Context, wf model.Workflow) error {
	if err := wf.Validate(); err != nil {
		return model.NewBadRequestError(err.Error())
	}

	chainJSON, snapshotJSON, err := marshalWorkflowJSON(wf)
	if err != nil {
		return err
	}
	role, due := currentStageColumns(wf)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflows (
			id, request_id, tenant_id, current_stage, status,
			approval_chain, template_snapshot, rejected_by, rejection_reason,
			current_role, current_due, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14
		)`,
		wf.ID, wf.RequestID, wf.TenantID, wf.CurrentStage, wf.Status,
		chainJSON, snapshotJSON, wf.RejectedBy, wf.RejectionReason,
		role, due, wf.Version, wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// Get retrieves a workflow by ID, scoped to tenant.
func (s *PgStore) Get(ctx context.Context, tenantID, workflowID string) (model.Workflow, error) {
	row := s.pool.QueryRow(ctx, workflowSelect+` WHERE id = $1 AND tenant_id = $2`,
		workflowID, tenantID)

	wf, err := scanWorkflow(row)
	if err == pgx.ErrNoRows {
		return model.Workflow{}, model.NewWorkflowNotFoundError(workflowID)
	}
	if err != nil {
		return model.Workflow{}, fmt.Errorf("query workflow: %w", err)
	}
	return wf, nil
}

// Replace persists a mutated workflow with optimistic locking. The version
// predicate in the WHERE clause is what makes the replace conditional: a
// concurrent writer's increment leaves RowsAffected at zero.
func (s *PgStore) Replace(ctx context.Context, wf model.Workflow) error {
	if err := wf.Validate(); err != nil {
		return model.NewBadRequestError(err.Error())
	}

	chainJSON, snapshotJSON, err := marshalWorkflowJSON(wf)
	if err != nil {
		return err
	}
	role, due := currentStageColumns(wf)

	tag, err := s.pool.Exec(ctx, `
		UPDATE workflows SET
			current_stage = $1,
			status = $2,
			approval_chain = $3,
			template_snapshot = $4,
			rejected_by = $5,
			rejection_reason = $6,
			current_role = $7,
			current_due = $8,
			version = $9,
			updated_at = $10
		WHERE id = $11 AND version = $12`,
		wf.CurrentStage, wf.Status, chainJSON, snapshotJSON,
		wf.RejectedBy, wf.RejectionReason, role, due,
		wf.Version+1, wf.UpdatedAt,
		wf.ID, wf.Version,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewVersionConflictError(wf.ID, wf.Version)
	}
	return nil
}

// UpsertPublishedTemplate persists the published-template document. The fixed
// ID plus ON CONFLICT overwrite keeps the publish side effect idempotent.
func (s *PgStore) UpsertPublishedTemplate(ctx context.Context, tpl model.PublishedTemplate) error {
	snapshotJSON, err := json.Marshal(tpl.TemplateSnapshot)
	if err != nil {
		return fmt.Errorf("marshal template snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO published_templates (
			id, request_id, tenant_id, template_snapshot, status, published_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			template_snapshot = EXCLUDED.template_snapshot,
			status = EXCLUDED.status,
			published_at = EXCLUDED.published_at,
			version = EXCLUDED.version`,
		tpl.ID, tpl.RequestID, tpl.TenantID, snapshotJSON, tpl.Status, tpl.PublishedAt, tpl.Version,
	)
	if err != nil {
		return fmt.Errorf("upsert published template: %w", err)
	}
	return nil
}

// GetPublishedTemplate retrieves a published template by ID, scoped to tenant.
func (s *PgStore) GetPublishedTemplate(ctx context.Context, tenantID, id string) (model.PublishedTemplate, error) {
	var tpl model.PublishedTemplate
	var snapshotJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, request_id, tenant_id, template_snapshot, status, published_at, version
		FROM published_templates
		WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	).Scan(&tpl.ID, &tpl.RequestID, &tpl.TenantID, &snapshotJSON, &tpl.Status, &tpl.PublishedAt, &tpl.Version)
	if err == pgx.ErrNoRows {
		return model.PublishedTemplate{}, model.NewNotFoundError(
			fmt.Sprintf("published template %q not found", id),
		)
	}
	if err != nil {
		return model.PublishedTemplate{}, fmt.Errorf("query published template: %w", err)
	}

	if snapshotJSON != nil {
		if err := json.Unmarshal(snapshotJSON, &tpl.TemplateSnapshot); err != nil {
			return model.PublishedTemplate{}, fmt.Errorf("unmarshal template snapshot: %w", err)
		}
	}
	return tpl, nil
}

// AppendEvent adds an entry to the workflow audit trail.
func (s *PgStore) AppendEvent(ctx context.Context, event model.WorkflowEvent) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_events (
			id, workflow_id, stage, event, actor_id, data, comment, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.WorkflowID, event.Stage, event.Event,
		event.ActorID, dataJSON, event.Comment, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert workflow event: %w", err)
	}
	return nil
}

// GetEvents retrieves the audit trail for a workflow.
func (s *PgStore) GetEvents(ctx context.Context, tenantID, workflowID string) ([]model.WorkflowEvent, error) {
	// Verify tenant access.
	if _, err := s.Get(ctx, tenantID, workflowID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, stage, event, actor_id, data, comment, created_at
		FROM workflow_events
		WHERE workflow_id = $1
		ORDER BY created_at ASC`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("query workflow events: %w", err)
	}
	defer rows.Close()

	var events []model.WorkflowEvent
	for rows.Next() {
		var evt model.WorkflowEvent
		var dataJSON []byte
		if err := rows.Scan(
			&evt.ID, &evt.WorkflowID, &evt.Stage, &evt.Event,
			&evt.ActorID, &dataJSON, &evt.Comment, &evt.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan workflow event: %w", err)
		}
		if dataJSON != nil {
			_ = json.Unmarshal(dataJSON, &evt.Data)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// FindPendingByRole returns pending workflows whose current stage is assigned
// to the given role.
func (s *PgStore) FindPendingByRole(ctx context.Context, tenantID, role string) ([]model.Workflow, error) {
	query := workflowSelect + `
		WHERE tenant_id = $1 AND status = 'pending' AND current_role = $2
		ORDER BY current_due ASC`
	return s.queryWorkflows(ctx, query, tenantID, role)
}

// FindOverdue returns pending workflows past their current stage due date.
func (s *PgStore) FindOverdue(ctx context.Context, cutoff time.Time) ([]model.Workflow, error) {
	query := workflowSelect + `
		WHERE status = 'pending' AND current_due < $1
		ORDER BY current_due ASC`
	return s.queryWorkflows(ctx, query, cutoff)
}

const workflowSelect = `
	SELECT id, request_id, tenant_id, current_stage, status,
	       approval_chain, template_snapshot, rejected_by, rejection_reason,
	       version, created_at, updated_at
	FROM workflows`

func (s *PgStore) queryWorkflows(ctx context.Context, query string, args ...any) ([]model.Workflow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	var workflows []model.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (model.Workflow, error) {
	var wf model.Workflow
	var chainJSON, snapshotJSON []byte

	err := row.Scan(
		&wf.ID, &wf.RequestID, &wf.TenantID, &wf.CurrentStage, &wf.Status,
		&chainJSON, &snapshotJSON, &wf.RejectedBy, &wf.RejectionReason,
		&wf.Version, &wf.CreatedAt, &wf.UpdatedAt,
	)
	if err != nil {
		return model.Workflow{}, err
	}

	if err := json.Unmarshal(chainJSON, &wf.ApprovalChain); err != nil {
		return model.Workflow{}, fmt.Errorf("unmarshal approval chain: %w", err)
	}
	if snapshotJSON != nil {
		if err := json.Unmarshal(snapshotJSON, &wf.TemplateSnapshot); err != nil {
			return model.Workflow{}, fmt.Errorf("unmarshal template snapshot: %w", err)
		}
	}
	return wf, nil
}

func marshalWorkflowJSON(wf model.Workflow) (chainJSON, snapshotJSON []byte, err error) {
	chainJSON, err = json.Marshal(wf.ApprovalChain)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal approval chain: %w", err)
	}
	snapshotJSON, err = json.Marshal(wf.TemplateSnapshot)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal template snapshot: %w", err)
	}
	return chainJSON, snapshotJSON, nil
}

// currentStageColumns derives the denormalized role and due-date columns from
// the current stage record. Terminal workflows have no current record; the
// zero values are never matched by the pending queries.
func currentStageColumns(wf model.Workflow) (string, time.Time) {
	rec := wf.CurrentStageRecord()
	if rec == nil {
		return "", time.Time{}
	}
	return rec.ApproverRole, rec.DueDate
}
