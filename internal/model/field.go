package model

import (
	"strings"
)

// FieldDefinition carries the extraction guidance for one schema leaf,
// matched to the leaf by field name.
type FieldDefinition struct {
	ID                  string `json:"id"`
	FieldName           string `json:"field_name"`
	BusinessDescription string `json:"business_description"`
	ExtractorLogic      string `json:"extractor_logic"`
	WhereToLook         string `json:"where_to_look"`
	Status              string `json:"status"`
}

// Sections returns the context section labels named by WhereToLook, in the
// order given. Unknown labels are dropped.
func (d *FieldDefinition) Sections() []string {
	if d == nil || d.WhereToLook == "" {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.FieldsFunc(d.WhereToLook, func(r rune) bool {
		return r == ',' || r == ';' || r == '/' || r == '\n' || r == '>'
	}) {
		label := normalizeSection(part)
		if label == "" || seen[label] || !IsValidSource(label) {
			continue
		}
		seen[label] = true
		out = append(out, label)
	}
	return out
}

func normalizeSection(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	switch s {
	case "body", "email_body", "email_header", "emails":
		return SourceEmail
	case "lossrun", "loss_runs", "lossruns":
		return string(DocLossRun)
	case "statement_of_values", "schedule_of_values":
		return string(DocSOV)
	case "acord", "app":
		return string(DocApplication)
	}
	return s
}

// FieldRegistry is an indexed collection of field definitions.
type FieldRegistry struct {
	Fields []FieldDefinition
	byName map[string]*FieldDefinition
}

// NewFieldRegistry creates a FieldRegistry indexed by field name. Later
// duplicates override earlier ones.
func NewFieldRegistry(fields []FieldDefinition) *FieldRegistry {
	r := &FieldRegistry{
		Fields: fields,
		byName: make(map[string]*FieldDefinition, len(fields)),
	}
	for i := range r.Fields {
		f := &r.Fields[i]
		r.byName[f.FieldName] = f
	}
	return r
}

// ByName returns the definition for the given field name, or nil if not found.
func (r *FieldRegistry) ByName(name string) *FieldDefinition {
	if r == nil {
		return nil
	}
	return r.byName[name]
}

// Len returns the number of distinct field names.
func (r *FieldRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byName)
}
