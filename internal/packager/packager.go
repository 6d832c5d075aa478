// Package packager turns a merged extraction and its QA flags into the reply
// sent back to the submitting broker.
package packager

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/submission-intake/internal/fieldpath"
	"github.com/sells-group/submission-intake/internal/model"
)

const (
	notFound       = "not found"
	maxCellChars   = 120
	replyPrefix    = "Re: "
	defaultSubject = "your submission"
)

// Package is the rendered reply.
type Package struct {
	Subject string `json:"subject"`
	Summary string `json:"summary"`
	Table   string `json:"table"`
	Body    string `json:"body"`
}

// Input is what Build needs from one processed message.
type Input struct {
	Email   model.Email
	Result  *model.ExtractionResult
	Records []model.ExtractionRecord
}

// Build renders the reply subject, summary line, field table and plain-text
// body.
func Build(in Input) Package {
	data := map[string]any{}
	if in.Result != nil && in.Result.Data != nil {
		data = in.Result.Data
	}
	p := Package{
		Subject: ReplySubject(in.Email.Subject),
		Summary: Summary(data),
		Table:   Table(in.Records),
	}

	var b strings.Builder
	b.WriteString("Thank you for your submission. We extracted the following details.\n\n")
	b.WriteString(p.Summary + "\n\n")
	b.WriteString(p.Table)
	if in.Result != nil {
		if in.Result.Fallback {
			b.WriteString("\nThe extraction service was busy, so some fields were read with simple pattern matching and may be incomplete.\n")
		}
		b.WriteString("\n" + qaSection(in.Result.Warnings, in.Result.ConfidenceFlags))
	}
	b.WriteString("\nThis reply was generated automatically. Reply to this email if anything looks wrong.\n")
	p.Body = b.String()
	return p
}

// ReplySubject prefixes the original subject with "Re: " once.
func ReplySubject(subject string) string {
	s := strings.TrimSpace(subject)
	if s == "" {
		s = defaultSubject
	}
	if strings.HasPrefix(strings.ToLower(s), "re:") {
		return s
	}
	return replyPrefix + s
}

// Summary is a one-line digest: insured, location and building counts, TIV.
func Summary(data map[string]any) string {
	insured := text(data, "submission.namedInsured")
	if insured == "" {
		insured = "Unknown insured"
	}

	locs, _ := data["locations"].([]any)
	var nLoc, nBld int
	for i := range locs {
		if !present(locs[i]) {
			continue
		}
		nLoc++
		blds, _ := fieldpath.Get(data, fmt.Sprintf("locations[%d].buildings", i))
		list, _ := blds.([]any)
		for _, bld := range list {
			if present(bld) {
				nBld++
			}
		}
	}

	tiv := "TIV not provided"
	if v, ok := fieldpath.Get(data, "coverage.totalInsuredValue"); ok {
		if n, ok := model.Number(v); ok {
			tiv = "TIV " + money(n)
		}
	}
	return fmt.Sprintf("%s: %s, %s, %s", insured, plural(nLoc, "location"), plural(nBld, "building"), tiv)
}

// Table renders records as a pipe table with one row per field path.
func Table(records []model.ExtractionRecord) string {
	var b strings.Builder
	b.WriteString("| Field | Value | Source |\n")
	b.WriteString("|---|---|---|\n")
	for _, r := range records {
		source := r.Source
		if source == "" {
			source = string(model.DocOther)
		}
		fmt.Fprintf(&b, "| %s | %s | %s |\n", cell(r.FieldPath), cell(formatValue(r.FieldValue)), cell(source))
	}
	return b.String()
}

func qaSection(warnings, flags []string) string {
	if len(warnings) == 0 && len(flags) == 0 {
		return "QA: no consistency issues found.\n"
	}
	var b strings.Builder
	if len(warnings) > 0 {
		b.WriteString("QA warnings:\n")
		for _, w := range warnings {
			b.WriteString("- " + w + "\n")
		}
	}
	if len(flags) > 0 {
		b.WriteString("Please confirm:\n")
		for _, f := range flags {
			b.WriteString("- " + f + "\n")
		}
	}
	return b.String()
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return notFound
	case string:
		if strings.TrimSpace(t) == "" {
			return notFound
		}
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return fmt.Sprintf("%.0f", t)
		}
		return fmt.Sprint(t)
	case bool:
		if t {
			return "yes"
		}
		return "no"
	default:
		return fmt.Sprint(t)
	}
}

// cell flattens s onto one line, escapes pipes and truncates long values.
func cell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, "|", `\|`)
	if r := []rune(s); len(r) > maxCellChars {
		s = string(r[:maxCellChars-3]) + "..."
	}
	return s
}

func text(data map[string]any, path string) string {
	v, _ := fieldpath.Get(data, path)
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case map[string]any:
		for _, x := range t {
			if present(x) {
				return true
			}
		}
		return false
	case []any:
		for _, x := range t {
			if present(x) {
				return true
			}
		}
		return false
	case string:
		return strings.TrimSpace(t) != ""
	default:
		return true
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

var printer = message.NewPrinter(language.English)

func money(v float64) string {
	if v < 0 {
		return "-" + printer.Sprintf("$%.0f", -v)
	}
	return printer.Sprintf("$%.0f", v)
}
