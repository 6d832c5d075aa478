package extract

import (
	"fmt"
	"strings"

	"github.com/sells-group/submission-intake/internal/model"
	"github.com/sells-group/submission-intake/internal/schema"
)

const systemInstructions = `You are a commercial property underwriting assistant extracting one field at a time from a broker submission.
The submission email and its attachments follow, split into sections. Each section starts with a line "=== SECTION: <label> ===".
Only use facts stated in the submission. Do not guess. If the field is not present, return null for fieldValue.
Return only a valid JSON object with no surrounding text.`

const fieldPrompt = `Field to extract: %s
Field path: %s
Business description: %s
Extraction logic: %s

%s

Return a valid JSON object:
{"fieldValue": <extracted value or null>, "source": "<label of the section it was found in: %s>", "evidenceSnippet": "<short verbatim quote supporting the value>", "reasoning": "<brief explanation>"}`

// buildFieldPrompt renders the per-field user message. Fields without a
// definition fall back to the schema description.
func buildFieldPrompt(f schema.Field, def *model.FieldDefinition, present []string) string {
	description := f.Description
	logic := "Extract the value exactly as stated. Use numbers for amounts, counts and years. Use ISO dates (YYYY-MM-DD)."
	var preferred []string
	if def != nil {
		if def.BusinessDescription != "" {
			description = def.BusinessDescription
		}
		if def.ExtractorLogic != "" {
			logic = def.ExtractorLogic
		}
		preferred = def.Sections()
	}
	if description == "" {
		description = f.Name
	}

	return fmt.Sprintf(fieldPrompt,
		f.Name,
		f.Path,
		description,
		logic,
		searchOrder(preferred, present),
		strings.Join(allLabels(), ", "),
	)
}

// searchOrder names the preferred sections that exist in this context first,
// then directs a search over all remaining ones.
func searchOrder(preferred, present []string) string {
	has := make(map[string]bool, len(present))
	for _, p := range present {
		has[p] = true
	}
	var first []string
	used := make(map[string]bool)
	for _, p := range preferred {
		if has[p] && !used[p] {
			first = append(first, p)
			used[p] = true
		}
	}
	var rest []string
	for _, p := range present {
		if !used[p] {
			rest = append(rest, p)
		}
	}

	if len(first) == 0 {
		return "Search all sections: " + strings.Join(present, ", ") + "."
	}
	out := "Search these sections first, in order: " + strings.Join(first, ", ") + "."
	if len(rest) > 0 {
		out += " If the value is not found there, search all remaining sections: " + strings.Join(rest, ", ") + "."
	}
	return out
}

func allLabels() []string {
	labels := []string{model.SourceEmail}
	for _, t := range model.DocumentTypes {
		labels = append(labels, string(t))
	}
	return labels
}
