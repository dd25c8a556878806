package template

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/swiftcheck/qcflow/model"
)

// ScaffoldGenerator produces a deterministic document skeleton from the
// request inputs. It stands in when no external generation backend is
// configured, and its determinism is what makes it useful behind the cache.
type ScaffoldGenerator struct {
	now func() time.Time
}

// NewScaffoldGenerator creates a generator that builds document scaffolds
// locally.
func NewScaffoldGenerator() *ScaffoldGenerator {
	return &ScaffoldGenerator{now: time.Now}
}

// Generate builds a section skeleton for the requested document type.
func (g *ScaffoldGenerator) Generate(_ context.Context, _ *model.RequestContext, in Input) (Result, error) {
	sections := sectionsFor(in.DocType)
	doc := map[string]any{
		"title":        fmt.Sprintf("%s: %s", strings.ToUpper(in.DocType), in.ProductName),
		"docType":      in.DocType,
		"productName":  in.ProductName,
		"supplierName": in.SupplierName,
		"sections":     sections,
		"generatedAt":  g.now().UTC().Format(time.RFC3339),
	}
	if in.UserMessage != "" {
		doc["notes"] = in.UserMessage
	}
	return Result{Template: doc, Model: "scaffold"}, nil
}

func sectionsFor(docType string) []map[string]any {
	var names []string
	switch docType {
	case "sop":
		names = []string{"Purpose", "Scope", "Responsibilities", "Procedure", "Records"}
	case "haccp":
		names = []string{"Hazard Analysis", "Critical Control Points", "Critical Limits", "Monitoring", "Corrective Actions", "Verification"}
	case "spec":
		names = []string{"Product Description", "Ingredients", "Physical Parameters", "Microbiological Limits", "Packaging", "Shelf Life"}
	default:
		names = []string{"Overview", "Requirements", "Verification"}
	}

	sections := make([]map[string]any, len(names))
	for i, name := range names {
		sections[i] = map[string]any{
			"heading": name,
			"order":   i + 1,
			"content": "",
		}
	}
	return sections
}
