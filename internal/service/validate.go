package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/target/docpipe/internal/domain/model"
)

// totalsTolerance is the allowed absolute difference between subtotal+tax and
// the stated total before the extraction is flagged for review. Generous on
// purpose: it absorbs rounding differences in scanned documents.
const totalsTolerance = 1.0

// extractionSchema is the structural contract for extracted invoice fields.
const extractionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["invoice_number", "total_amount"],
  "properties": {
    "invoice_number": {"type": "string", "minLength": 1},
    "invoice_date":   {"type": "string"},
    "due_date":       {"type": "string"},
    "vendor_name":    {"type": "string"},
    "bill_to":        {"type": "string"},
    "currency":       {"type": "string"},
    "subtotal":       {"type": "number", "minimum": 0},
    "tax_amount":     {"type": "number", "minimum": 0},
    "total_amount":   {"type": "number", "minimum": 0},
    "line_items": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "description": {"type": "string"},
          "quantity":    {"type": "number"},
          "unit_price":  {"type": "number"},
          "amount":      {"type": "number"}
        }
      }
    }
  }
}`

// Validator checks extracted fields against the invoice schema and
// cross-checks the totals. Verdicts are advisory: a failed validation marks
// the job for review, it never fails the job.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded invoice schema.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("invoice.json", strings.NewReader(extractionSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("invoice.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// MustNewValidator compiles the embedded schema and panics on error.
func MustNewValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		//nolint:forbidigo // the schema is a compile-time constant; failure is a programming error
		panic(fmt.Sprintf("failed to create validator: %v", err))
	}
	return v
}

// Validate produces the validation report for one extraction.
func (v *Validator) Validate(extraction *model.ExtractionResult) *model.ValidationReport {
	report := &model.ValidationReport{
		Passed:     true,
		Confidence: extraction.Confidence,
	}

	fields := extraction.Fields

	if strings.TrimSpace(fields.InvoiceNumber) == "" {
		report.Problems = append(report.Problems, "invoice_number is missing")
	}
	if fields.TotalAmount <= 0 {
		report.Problems = append(report.Problems, "total_amount is missing or zero")
	}

	if schemaProblem := v.checkSchema(fields); schemaProblem != "" {
		report.Problems = append(report.Problems, schemaProblem)
	}

	// Cross-check only when the parts were extracted at all.
	if fields.Subtotal > 0 || fields.TaxAmount > 0 {
		if diff := math.Abs(fields.Subtotal + fields.TaxAmount - fields.TotalAmount); diff > totalsTolerance {
			report.Problems = append(report.Problems,
				fmt.Sprintf("subtotal (%.2f) + tax (%.2f) does not match total (%.2f)",
					fields.Subtotal, fields.TaxAmount, fields.TotalAmount))
		}
	}

	report.Passed = len(report.Problems) == 0
	return report
}

func (v *Validator) checkSchema(fields model.InvoiceFields) string {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Sprintf("fields are not serializable: %v", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Sprintf("fields are not serializable: %v", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Sprintf("fields do not match the invoice schema: %v", err)
	}
	return ""
}
