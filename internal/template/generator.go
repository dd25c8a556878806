// Package template defines the document generation collaborator and the
// caching wrapper that memoizes its results.
package template

import (
	"context"

	"github.com/swiftcheck/qcflow/model"
)

// Input identifies one generation request. Logically equal inputs are
// expected to produce the same document, which is what makes memoization
// sound.
type Input struct {
	DocType      string `json:"docType"`
	ProductName  string `json:"productName"`
	SupplierName string `json:"supplierName"`
	UserMessage  string `json:"userMessage"`
}

// Result is a generated document.
type Result struct {
	Template map[string]any `json:"template"`
	Model    string         `json:"model,omitempty"`
	Cached   bool           `json:"cached"`
}

// Generator produces quality-control documents from structured inputs.
// Implementations typically call an external generation service.
type Generator interface {
	Generate(ctx context.Context, rctx *model.RequestContext, in Input) (Result, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, rctx *model.RequestContext, in Input) (Result, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, rctx *model.RequestContext, in Input) (Result, error) {
	return f(ctx, rctx, in)
}
