package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/swiftcheck/qcflow/internal/observability"
	"github.com/swiftcheck/qcflow/internal/workflow"
	"github.com/swiftcheck/qcflow/model"
)

func handleWorkflowCreate(engine *workflow.Engine, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			RequestID        string         `json:"requestId"`
			TemplateSnapshot map[string]any `json:"templateSnapshot"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		wf, err := engine.CreateWorkflow(r.Context(), rctx, body.RequestID, body.TemplateSnapshot)
		if err != nil {
			WriteError(w, err)
			return
		}
		if metrics != nil {
			metrics.RecordWorkflowStart(string(wf.CurrentStage))
		}
		WriteJSON(w, http.StatusCreated, wf)
	}
}

func handleApprovalSubmit(engine *workflow.Engine, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		workflowID := chi.URLParam(r, "workflowId")

		var body struct {
			Decision string `json:"decision"`
			Comments string `json:"comments"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		decidedAt := time.Now()
		wf, err := engine.SubmitApproval(r.Context(), rctx, workflowID, model.Decision(body.Decision), body.Comments)
		if err != nil {
			if metrics != nil && model.IsCode(err, model.ErrVersionConflict) {
				metrics.RecordVersionConflict()
			}
			WriteError(w, err)
			return
		}

		if metrics != nil {
			recordApprovalMetrics(metrics, wf, body.Decision, decidedAt)
		}
		WriteJSON(w, http.StatusOK, wf)
	}
}

// recordApprovalMetrics derives the decided stage from the chain: the record
// carrying the caller's fresh timestamp is the one just acted on.
func recordApprovalMetrics(metrics *observability.Metrics, wf model.Workflow, decision string, decidedAt time.Time) {
	for i := range wf.ApprovalChain {
		rec := &wf.ApprovalChain[i]
		if rec.ApprovedAt == nil || rec.ApprovedAt.Before(decidedAt.Add(-time.Minute)) {
			continue
		}
		metrics.RecordApproval(string(rec.Stage), decision, rec.ApprovedAt.Sub(wf.CreatedAt))
	}
	if wf.Status.Terminal() {
		metrics.RecordWorkflowCompletion(string(wf.Status))
	}
}

func handleWorkflowGet(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		workflowID := chi.URLParam(r, "workflowId")

		wf, err := engine.Get(r.Context(), rctx, workflowID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, wf)
	}
}

func handleWorkflowHistory(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		workflowID := chi.URLParam(r, "workflowId")

		events, err := engine.History(r.Context(), rctx, workflowID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"events": events})
	}
}

func handlePendingApprovals(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		role := r.URL.Query().Get("role")
		pending, err := engine.GetPendingApprovals(r.Context(), rctx, role)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"approvals": pending,
			"count":     len(pending),
		})
	}
}

func handlePublishedTemplateGet(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		requestID := chi.URLParam(r, "requestId")

		tpl, err := engine.GetPublishedTemplate(r.Context(), rctx, requestID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, tpl)
	}
}
