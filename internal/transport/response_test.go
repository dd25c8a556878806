package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/swiftcheck/qcflow/model"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{model.NewBadRequestError("bad"), http.StatusBadRequest},
		{model.NewUnauthorizedError("nope"), http.StatusUnauthorized},
		{model.NewNotFoundError("gone"), http.StatusNotFound},
		{model.NewWorkflowNotFoundError("wf_x"), http.StatusNotFound},
		{model.NewWorkflowNotPendingError("wf_x", model.StatusApproved), http.StatusConflict},
		{model.NewVersionConflictError("wf_x", 2), http.StatusConflict},
		{model.NewRateLimitedError("slow down"), http.StatusTooManyRequests},
		{model.NewBackendUnavailableError("redis down"), http.StatusBadGateway},
		{model.NewValidationError(nil), http.StatusUnprocessableEntity},
		{errors.New("plain error"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		WriteError(rec, tc.err)
		if rec.Code != tc.status {
			t.Errorf("WriteError(%v) status = %d, want %d", tc.err, rec.Code, tc.status)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
			t.Errorf("Content-Type = %q", ct)
		}

		var body struct {
			Error *model.ErrorEnvelope `json:"error"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		if body.Error == nil || body.Error.Code == "" {
			t.Errorf("error envelope missing code: %+v", body.Error)
		}
	}
}

func TestWriteValidationErrorDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteValidationError(rec, []model.FieldError{
		{Field: "requestId", Code: "required", Message: "requestId is required"},
	})

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Error.Details) != 1 || body.Error.Details[0].Field != "requestId" {
		t.Errorf("details = %+v", body.Error.Details)
	}
}
