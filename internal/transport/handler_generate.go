package transport

import (
	"encoding/json"
	"net/http"

	"github.com/swiftcheck/qcflow/internal/observability"
	"github.com/swiftcheck/qcflow/internal/template"
	"github.com/swiftcheck/qcflow/model"
)

func handleGenerate(generator template.Generator, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var in template.Input
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		var details []model.FieldError
		if in.DocType == "" {
			details = append(details, model.FieldError{Field: "docType", Code: "required", Message: "docType is required"})
		}
		if in.ProductName == "" {
			details = append(details, model.FieldError{Field: "productName", Code: "required", Message: "productName is required"})
		}
		if len(details) > 0 {
			WriteValidationError(w, details)
			return
		}

		res, err := generator.Generate(r.Context(), rctx, in)
		if err != nil {
			WriteError(w, err)
			return
		}

		if metrics != nil {
			if res.Cached {
				metrics.RecordResponseCacheHit()
			} else {
				metrics.RecordResponseCacheMiss()
			}
		}
		WriteJSON(w, http.StatusOK, res)
	}
}
