package model

import "time"

// ExtractionRecord is the provenance of one extracted field.
type ExtractionRecord struct {
	MessageID       string    `json:"message_id"`
	FieldPath       string    `json:"field_path"`
	FieldName       string    `json:"field_name"`
	FieldValue      any       `json:"field_value"`
	Source          string    `json:"source"`
	EvidenceSnippet string    `json:"evidence_snippet,omitempty"`
	Reasoning       string    `json:"reasoning,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ExtractionResult is the merged structured output of one extraction run
// together with the QA flags computed over it.
type ExtractionResult struct {
	MessageID       string         `json:"message_id"`
	Data            map[string]any `json:"data"`
	Warnings        []string       `json:"warnings"`
	ConfidenceFlags []string       `json:"confidence_flags"`
	Fallback        bool           `json:"fallback"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
