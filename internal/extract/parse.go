package extract

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/submission-intake/internal/model"
)

type fieldAnswer struct {
	Value     any
	Source    string
	Evidence  string
	Reasoning string
}

// parseFieldAnswer decodes a model reply. Missing or placeholder values
// become nil and unknown source labels become "other".
func parseFieldAnswer(text string) (fieldAnswer, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(cleanJSON(text)), &raw); err != nil {
		return fieldAnswer{Source: string(model.DocOther)}, eris.Wrap(err, "extract: parse answer json")
	}

	val, ok := raw["fieldValue"]
	if !ok {
		val = raw["value"]
	}

	ans := fieldAnswer{
		Value:     normalizeValue(val),
		Source:    normalizeSource(stringOf(raw["source"])),
		Evidence:  strings.TrimSpace(stringOf(raw["evidenceSnippet"])),
		Reasoning: strings.TrimSpace(stringOf(raw["reasoning"])),
	}
	return ans, nil
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

var nullish = map[string]bool{
	"": true, "null": true, "none": true, "n/a": true, "na": true,
	"unknown": true, "not found": true, "not provided": true,
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if nullish[strings.ToLower(s)] {
			return nil
		}
		return s
	case []any:
		if len(t) == 0 {
			return nil
		}
		return t
	case map[string]any:
		if len(t) == 0 {
			return nil
		}
		return t
	default:
		return v
	}
}

func normalizeSource(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	if model.IsValidSource(s) {
		return s
	}
	return string(model.DocOther)
}

// cleanJSON strips markdown code fences and trims to the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
