package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/submission-intake/internal/model"
)

// Document is the rendered text of one classified attachment.
type Document struct {
	Filename string
	Type     model.DocumentType
	Text     string
}

// Section is one labeled block of the extraction context.
type Section struct {
	Label string
	Text  string
}

// Context is the shared text every field request searches.
type Context struct {
	Sections []Section
	Text     string
}

// Labels returns section labels in rendering order.
func (c Context) Labels() []string {
	out := make([]string, len(c.Sections))
	for i, s := range c.Sections {
		out[i] = s.Label
	}
	return out
}

func sectionHeader(label string) string {
	return "=== SECTION: " + label + " ==="
}

// BuildContext renders the email under the "email" label followed by one
// section per document type present, each document prefixed by its filename.
// Each section is cut to maxSectionChars runes on its own, with a marker, so
// an oversized schedule never pushes a later section out of the context.
func BuildContext(email model.Email, docs []Document, maxSectionChars int) Context {
	var sections []Section
	sections = append(sections, Section{
		Label: model.SourceEmail,
		Text:  truncate(strings.TrimSpace(email.Header()+"\n"+email.Body), maxSectionChars),
	})

	byType := make(map[model.DocumentType][]Document)
	for _, d := range docs {
		t := d.Type
		if t == "" {
			t = model.DocOther
		}
		byType[t] = append(byType[t], d)
	}
	for _, t := range model.DocumentTypes {
		group := byType[t]
		if len(group) == 0 {
			continue
		}
		var b strings.Builder
		for i, d := range group {
			if i > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "--- %s ---\n%s", d.Filename, strings.TrimSpace(d.Text))
		}
		sections = append(sections, Section{Label: string(t), Text: truncate(b.String(), maxSectionChars)})
	}

	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(sectionHeader(s.Label))
		b.WriteByte('\n')
		b.WriteString(s.Text)
	}

	return Context{Sections: sections, Text: b.String()}
}

// truncate keeps the first maxChars runes of s. Zero means no limit.
func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	total := utf8.RuneCountInString(s)
	if total <= maxChars {
		return s
	}
	cut, n := 0, 0
	for i := range s {
		if n == maxChars {
			cut = i
			break
		}
		n++
	}
	return s[:cut] + fmt.Sprintf("\n\n[... section truncated: %d characters omitted ...]", total-maxChars)
}
