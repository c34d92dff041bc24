package extractor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/docpipe/internal/core"
	apperrors "github.com/target/docpipe/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts Options) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts.BaseURL = server.URL
	client, err := NewClient(opts)
	require.NoError(t, err)
	return client
}

func TestExtract_NormalizesEngineResponse(t *testing.T) {
	var gotReq extractRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/extract", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"fields": map[string]any{
				"invoice_number": "INV-7001",
				"vendor_name":    "Acme Corp",
				"total_amount":   120.50,
			},
			"confidence": 0.93,
			"raw_text":   "ACME CORP INVOICE INV-7001",
		})
	}, Options{})

	result, err := client.Extract(context.Background(), core.ExtractInput{
		Data:     []byte("%PDF-1.7 fake"),
		Filename: "inv.pdf",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "inv.pdf", gotReq.Filename)
	decoded, err := base64.StdEncoding.DecodeString(gotReq.Content)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 fake", string(decoded))

	assert.Equal(t, "INV-7001", result.Fields.InvoiceNumber)
	assert.Equal(t, "Acme Corp", result.Fields.VendorName)
	assert.InDelta(t, 120.50, result.Fields.TotalAmount, 0.001)
	assert.InDelta(t, 0.93, result.Confidence, 0.001)
	assert.Equal(t, "ACME CORP INVOICE INV-7001", result.RawText)
	assert.Equal(t, "docpipe-extract", result.Engine)
}

func TestExtract_CustomExpressions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"invoice": map[string]any{
					"invoice_number": "INV-9",
					"total_amount":   10.0,
				},
				"score": 0.7,
			},
		})
	}, Options{
		FieldsExpr:     "result.invoice",
		ConfidenceExpr: "result.score",
		EngineName:     "vision-v2",
	})

	result, err := client.Extract(context.Background(), core.ExtractInput{
		Data:     []byte("doc"),
		Filename: "a.pdf",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "INV-9", result.Fields.InvoiceNumber)
	assert.InDelta(t, 0.7, result.Confidence, 0.001)
	assert.Equal(t, "vision-v2", result.Engine)
}

func TestExtract_HeuristicConfidenceWhenUnreported(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"fields": map[string]any{
				"invoice_number": "INV-5",
				"vendor_name":    "Acme",
				"invoice_date":   "2026-01-05",
				"subtotal":       90.0,
				"tax_amount":     10.0,
				"total_amount":   100.0,
				"line_items": []map[string]any{
					{"description": "widgets", "amount": 100.0},
				},
			},
		})
	}, Options{})

	result, err := client.Extract(context.Background(), core.ExtractInput{
		Data:     []byte("doc"),
		Filename: "a.pdf",
	}, nil)
	require.NoError(t, err)

	// All headline fields present, line items, and consistent totals.
	assert.InDelta(t, 1.0, result.Confidence, 0.001)
}

func TestExtract_ReportsProgressFractions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"fields": map[string]any{"invoice_number": "INV-1", "total_amount": 1.0},
		})
	}, Options{})

	var fractions []float64
	_, err := client.Extract(context.Background(), core.ExtractInput{
		Data:     []byte("doc"),
		Filename: "a.pdf",
	}, func(f float64) { fractions = append(fractions, f) })
	require.NoError(t, err)

	require.NotEmpty(t, fractions)
	last := 0.0
	for _, f := range fractions {
		assert.GreaterOrEqual(t, f, last)
		last = f
	}
	assert.Equal(t, 1.0, last)
}

func TestExtract_EngineErrorStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}, Options{})

	_, err := client.Extract(context.Background(), core.ExtractInput{
		Data:     []byte("doc"),
		Filename: "a.pdf",
	}, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsExtraction(err))
	assert.Contains(t, err.Error(), "status 503")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestExtract_MissingFieldsInResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}, Options{})

	_, err := client.Extract(context.Background(), core.ExtractInput{
		Data:     []byte("doc"),
		Filename: "a.pdf",
	}, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsExtraction(err))
	assert.Contains(t, err.Error(), "no extracted fields")
}

func TestExtract_EmptyDocumentRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("engine must not be called for an empty document")
	}, Options{})

	_, err := client.Extract(context.Background(), core.ExtractInput{Filename: "a.pdf"}, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Options{})
	require.Error(t, err)

	_, err = NewClient(Options{BaseURL: "http://engine", FieldsExpr: "not]]valid"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fields expression")
}
