package model

import "time"

// InvoiceRecord is the durable record created when an extraction is committed.
// invoice_number is the natural key; the database enforces uniqueness and the
// commit guard translates violations into duplicate outcomes.
type InvoiceRecord struct {
	ID            string            `json:"id"`
	InvoiceNumber string            `json:"invoice_number"`
	InvoiceDate   string            `json:"invoice_date,omitempty"`
	DueDate       string            `json:"due_date,omitempty"`
	VendorName    string            `json:"vendor_name,omitempty"`
	BillTo        string            `json:"bill_to,omitempty"`
	Currency      string            `json:"currency,omitempty"`
	Subtotal      float64           `json:"subtotal"`
	TaxAmount     float64           `json:"tax_amount"`
	TotalAmount   float64           `json:"total_amount"`
	SourceFile    string            `json:"source_file"`
	Confidence    float64           `json:"confidence"`
	CommittedBy   *string           `json:"committed_by,omitempty"`
	LineItems     []InvoiceLineItem `json:"line_items,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// InvoiceLineItem is one line of a committed invoice.
type InvoiceLineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Amount      float64 `json:"amount"`
}
