package model

// JobResult is the terminal payload attached to a completed job. It is a tagged
// union stored as JSONB: Extraction is always set on success, Validation carries
// the review verdict, and exactly one of Commit or Duplicate may be present
// depending on how the finalize stage ended.
type JobResult struct {
	Filename   string            `json:"filename,omitempty"`
	Extraction *ExtractionResult `json:"extraction,omitempty"`
	Validation *ValidationReport `json:"validation,omitempty"`
	Commit     *CommitRef        `json:"commit,omitempty"`
	Duplicate  *DuplicateNote    `json:"duplicate,omitempty"`
	// RequiresReview is set when validation flagged problems or confidence fell
	// below the job's threshold. Review jobs are never auto-committed.
	RequiresReview bool `json:"requires_review,omitempty"`
	// Committed mirrors Commit != nil; kept as a flat flag so the attach-once
	// guard can test it with a single JSONB path expression.
	Committed bool `json:"committed,omitempty"`
	// SkipReason explains why finalize did not commit (review required,
	// auto-commit off, low confidence).
	SkipReason string `json:"skip_reason,omitempty"`
}

// ExtractionResult is the extraction engine's output for one document.
type ExtractionResult struct {
	Fields     InvoiceFields `json:"fields"`
	Confidence float64       `json:"confidence"`
	// Engine identifies which extraction backend produced the fields.
	Engine string `json:"engine,omitempty"`
	// RawText is the recognized document text, kept for reviewer display.
	RawText string `json:"raw_text,omitempty"`
}

// InvoiceFields are the structured fields extracted from an invoice document.
// Dates stay as strings; the engine reports them in whatever format the document
// used and normalization is a reviewer concern.
type InvoiceFields struct {
	InvoiceNumber string            `json:"invoice_number"`
	InvoiceDate   string            `json:"invoice_date,omitempty"`
	DueDate       string            `json:"due_date,omitempty"`
	VendorName    string            `json:"vendor_name,omitempty"`
	BillTo        string            `json:"bill_to,omitempty"`
	Currency      string            `json:"currency,omitempty"`
	Subtotal      float64           `json:"subtotal,omitempty"`
	TaxAmount     float64           `json:"tax_amount,omitempty"`
	TotalAmount   float64           `json:"total_amount"`
	LineItems     []InvoiceLineItem `json:"line_items,omitempty"`
}

// ValidationReport is the validate stage's verdict on an extraction.
type ValidationReport struct {
	Passed bool `json:"passed"`
	// Problems lists human-readable findings (missing fields, schema violations,
	// totals that do not add up).
	Problems []string `json:"problems,omitempty"`
	// Confidence echoes the extraction confidence the verdict was made against.
	Confidence float64 `json:"confidence"`
}

// CommitRef points at the durable invoice record created by the commit guard.
type CommitRef struct {
	InvoiceID     string `json:"invoice_id"`
	InvoiceNumber string `json:"invoice_number"`
}

// DuplicateNote annotates a completed job whose commit hit an existing record.
type DuplicateNote struct {
	InvoiceNumber string `json:"invoice_number"`
	// ExistingFilename is the filename of the record that was already committed.
	ExistingFilename string `json:"existing_filename,omitempty"`
	// Message carries the user-facing duplicate explanation.
	Message string `json:"message"`
	// SameFile distinguishes re-processing the same upload from a genuine
	// invoice number collision between different files.
	SameFile bool `json:"same_file"`
}
