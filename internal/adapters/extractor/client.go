// Package extractor adapts the HTTP extraction engine to the pipeline.
package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/target/docpipe/internal/core"
	"github.com/target/docpipe/internal/domain/model"
	apperrors "github.com/target/docpipe/internal/errors"
)

const (
	defaultExtractPath = "/v1/extract"
	defaultFieldsExpr  = "fields"
	defaultScoreExpr   = "confidence"
	defaultTextExpr    = "raw_text"
	defaultTimeout     = 2 * time.Minute

	maxErrorBodyBytes = 4 << 10
)

// Options configures the extraction engine client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger

	// JMESPath expressions that pluck the interesting parts out of the
	// engine response. The defaults match the reference engine contract.
	FieldsExpr     string
	ConfidenceExpr string
	RawTextExpr    string

	EngineName string
}

// Client calls a remote extraction engine over HTTP and normalises its
// response into the model types the pipeline persists.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	fieldsExpr string
	scoreExpr  string
	textExpr   string

	engineName string
}

var _ core.Extractor = (*Client)(nil)

// NewClient validates the configured expressions up front so a bad deploy
// fails at startup rather than on the first job.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("extraction engine base URL is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fieldsExpr, err := validateExpr(opts.FieldsExpr, defaultFieldsExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid fields expression: %w", err)
	}
	scoreExpr, err := validateExpr(opts.ConfidenceExpr, defaultScoreExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid confidence expression: %w", err)
	}
	textExpr, err := validateExpr(opts.RawTextExpr, defaultTextExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid raw text expression: %w", err)
	}

	engineName := strings.TrimSpace(opts.EngineName)
	if engineName == "" {
		engineName = "docpipe-extract"
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger.With("component", "extractor_client"),
		fieldsExpr: fieldsExpr,
		scoreExpr:  scoreExpr,
		textExpr:   textExpr,
		engineName: engineName,
	}, nil
}

// MustNewClient constructs a new Client and panics on error.
func MustNewClient(opts Options) *Client {
	client, err := NewClient(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // fail fast on invalid startup configuration
	}
	return client
}

type extractRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// Extract submits the document to the engine and normalises the response.
// The progress callback is invoked with coarse fractions as the call moves
// through upload, engine processing, and response handling.
func (c *Client) Extract(
	ctx context.Context,
	input core.ExtractInput,
	progress core.ProgressFunc,
) (*model.ExtractionResult, error) {
	if len(input.Data) == 0 {
		return nil, apperrors.ValidationField("document", "document payload is empty")
	}
	if progress == nil {
		progress = func(float64) {}
	}

	body, err := json.Marshal(extractRequest{
		Filename: input.Filename,
		Content:  base64.StdEncoding.EncodeToString(input.Data),
	})
	if err != nil {
		return nil, apperrors.Extraction(err, "encode engine request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+defaultExtractPath, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Extraction(err, "build engine request")
	}
	req.Header.Set("Content-Type", "application/json")

	progress(0.05)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Extraction(err, "call extraction engine")
	}
	defer resp.Body.Close()

	progress(0.8)

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, apperrors.Extraction(
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
			"extraction engine returned an error",
		)
	}

	var doc any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, apperrors.Extraction(err, "decode engine response")
	}

	result, err := c.normalize(doc)
	if err != nil {
		return nil, err
	}

	progress(1.0)
	return result, nil
}

func (c *Client) normalize(doc any) (*model.ExtractionResult, error) {
	rawFields, err := jmespath.Search(c.fieldsExpr, doc)
	if err != nil {
		return nil, apperrors.Extraction(err, "evaluate fields expression")
	}
	if rawFields == nil {
		return nil, apperrors.Extraction(nil, "engine response has no extracted fields")
	}

	fields, err := decodeFields(rawFields)
	if err != nil {
		return nil, apperrors.Extraction(err, "normalise extracted fields")
	}

	result := &model.ExtractionResult{
		Fields: fields,
		Engine: c.engineName,
	}

	if raw, err := jmespath.Search(c.textExpr, doc); err == nil {
		if text, ok := raw.(string); ok {
			result.RawText = text
		}
	}

	confidence, ok := c.reportedConfidence(doc)
	if !ok {
		confidence = heuristicConfidence(fields)
		c.logger.Debug("engine reported no confidence, using heuristic", "confidence", confidence)
	}
	result.Confidence = confidence

	return result, nil
}

func (c *Client) reportedConfidence(doc any) (float64, bool) {
	raw, err := jmespath.Search(c.scoreExpr, doc)
	if err != nil || raw == nil {
		return 0, false
	}
	score, ok := raw.(float64)
	if !ok || score <= 0 {
		return 0, false
	}
	return math.Min(score, 1.0), true
}

func decodeFields(raw any) (model.InvoiceFields, error) {
	var fields model.InvoiceFields
	b, err := json.Marshal(raw)
	if err != nil {
		return fields, fmt.Errorf("re-encode extracted fields: %w", err)
	}
	if err := json.Unmarshal(b, &fields); err != nil {
		return fields, fmt.Errorf("extracted fields do not match the invoice shape: %w", err)
	}
	return fields, nil
}

// heuristicConfidence scores an extraction when the engine does not report
// its own confidence. Presence of the headline fields dominates; recognised
// line items and internally consistent totals nudge the score up.
func heuristicConfidence(fields model.InvoiceFields) float64 {
	present := 0.0
	if strings.TrimSpace(fields.InvoiceNumber) != "" {
		present++
	}
	if fields.TotalAmount > 0 {
		present++
	}
	if strings.TrimSpace(fields.VendorName) != "" {
		present++
	}
	if strings.TrimSpace(fields.InvoiceDate) != "" {
		present++
	}

	score := 0.5 + 0.3*(present/4)
	if len(fields.LineItems) > 0 {
		score += 0.1
	}
	if fields.Subtotal > 0 && fields.TotalAmount > 0 &&
		math.Abs(fields.Subtotal+fields.TaxAmount-fields.TotalAmount) < 1.0 {
		score += 0.1
	}

	return math.Min(math.Max(score, 0), 1)
}

func validateExpr(expr, fallback string) (string, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		e = fallback
	}
	if _, err := jmespath.Compile(e); err != nil {
		return "", err
	}
	return e, nil
}
