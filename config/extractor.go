package config

import (
	"strings"
	"time"
)

// ExtractorConfig contains extraction engine client configuration.
type ExtractorConfig struct {
	// BaseURL is the extraction engine endpoint. Empty disables the HTTP
	// client; the worker cannot start without one.
	BaseURL string `env:"BASE_URL" envDefault:""`

	// Timeout bounds a single extraction request.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"2m"`

	// EngineName labels extraction results when the engine response does not
	// identify itself.
	EngineName string `env:"ENGINE_NAME" envDefault:"docpipe-extract"`

	// FieldsExpr, ConfidenceExpr, and RawTextExpr are JMESPath expressions
	// that pluck the structured fields, confidence score, and recognized text
	// out of the engine response. Defaults match the reference engine's
	// top-level keys; point them elsewhere for engines with nested shapes.
	FieldsExpr     string `env:"FIELDS_EXPR"     envDefault:"fields"`
	ConfidenceExpr string `env:"CONFIDENCE_EXPR" envDefault:"confidence"`
	RawTextExpr    string `env:"RAW_TEXT_EXPR"   envDefault:"raw_text"`
}

// Sanitize applies guardrails to extractor configuration values.
func (e *ExtractorConfig) Sanitize() {
	e.BaseURL = strings.TrimSpace(e.BaseURL)
	if e.Timeout <= 0 {
		e.Timeout = 2 * time.Minute
	}
}
