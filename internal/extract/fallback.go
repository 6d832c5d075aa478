package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/araddon/dateparse"

	"github.com/sells-group/submission-intake/internal/model"
	"github.com/sells-group/submission-intake/internal/schema"
)

// FallbackHit is one value recovered by pattern matching.
type FallbackHit struct {
	Value   any
	Source  string
	Snippet string
}

type fallbackRule struct {
	path    string
	pattern *regexp.Regexp
	convert func(string) (any, bool)
}

const (
	datePattern  = `(\d{1,2}/\d{1,2}/\d{2,4}|\d{4}-\d{2}-\d{2}|[A-Z][a-z]{2,8}\.?\s+\d{1,2},?\s+\d{4})`
	moneyPattern = `(\$?\s*\d[\d,]*(?:\.\d+)?(?:\s*(?:million|mm|m|k)\b)?)`
)

var fallbackRules = []fallbackRule{
	{"submission.namedInsured", regexp.MustCompile(`(?im)^[ \t>*]*(?:named\s+insured|insured\s+name|applicant(?:\s+name)?|insured)\s*[:\-–]\s*(.+?)\s*$`), convertText},
	{"submission.mailingAddress", regexp.MustCompile(`(?im)^[ \t>*]*mailing\s+address\s*[:\-–]\s*(.+?)\s*$`), convertText},
	{"submission.brokerEmail", regexp.MustCompile(`(?im)^From:\s*(?:[^<\n]*<)?([\w.+-]+@[\w-]+(?:\.[\w-]+)+)`), convertText},
	{"submission.effectiveDate", regexp.MustCompile(`(?i)effective(?:\s+date)?\s*[:\-–]?\s*` + datePattern), convertDate},
	{"submission.expirationDate", regexp.MustCompile(`(?i)expir(?:ation|es|y)(?:\s+date)?\s*[:\-–]?\s*` + datePattern), convertDate},
	{"submission.currentCarrier", regexp.MustCompile(`(?im)(?:current|incumbent|expiring)\s+carrier\s*[:\-–]\s*(.+?)\s*$`), convertText},
	{"locations[0].riskAddress", regexp.MustCompile(`(?im)^[ \t>*]*(?:risk|property|location|premises)\s+address\s*[:\-–]\s*(.+?)\s*$`), convertText},
	{"locations[0].buildings[0].squareFootage", regexp.MustCompile(`(?i)(\d[\d,]{2,})\s*(?:sq\.?\s*ft\.?|square\s+feet|sf)\b`), convertNumber},
	{"locations[0].buildings[0].yearBuilt", regexp.MustCompile(`(?i)(?:year\s+built|built\s+in)\s*[:\-–]?\s*((?:18|19|20)\d{2})\b`), convertNumber},
	{"locations[0].buildings[0].buildingLimit", regexp.MustCompile(`(?i)building\s+(?:limit|value)\s*[:\-–]?\s*` + moneyPattern), convertMoney},
	{"coverage.totalInsuredValue", regexp.MustCompile(`(?i)(?:\btiv\b|total\s+insured\s+values?)\s*[:\-–]?\s*` + moneyPattern), convertMoney},
	{"coverage.deductible", regexp.MustCompile(`(?i)deductible\s*[:\-–]?\s*` + moneyPattern), convertMoney},
}

// Fallback scans the context sections in order and returns the first match
// for each well-known field, keyed by field path.
func Fallback(c Context) map[string]FallbackHit {
	hits := make(map[string]FallbackHit)
	for _, rule := range fallbackRules {
		for _, s := range c.Sections {
			m := rule.pattern.FindStringSubmatch(s.Text)
			if m == nil {
				continue
			}
			v, ok := rule.convert(m[1])
			if !ok {
				continue
			}
			hits[rule.path] = FallbackHit{Value: v, Source: s.Label, Snippet: strings.TrimSpace(m[0])}
			break
		}
	}
	return hits
}

// applyFallback fills null records from Fallback hits and returns how many
// were filled.
func applyFallback(records []model.ExtractionRecord, fields []schema.Field, c Context) int {
	hits := Fallback(c)
	filled := 0
	for i, f := range fields {
		if records[i].FieldValue != nil {
			continue
		}
		hit, ok := hits[f.Path]
		if !ok {
			continue
		}
		records[i].FieldValue = hit.Value
		records[i].Source = hit.Source
		records[i].EvidenceSnippet = hit.Snippet
		records[i].Reasoning = "filled by pattern fallback after rate-limit exhaustion"
		filled++
	}
	return filled
}

func convertText(s string) (any, bool) {
	s = strings.TrimSpace(strings.TrimRight(s, " .;,"))
	return s, s != ""
}

func convertDate(s string) (any, bool) {
	t, err := dateparse.ParseAny(strings.TrimSpace(s))
	if err != nil {
		return nil, false
	}
	return t.Format("2006-01-02"), true
}

func convertNumber(s string) (any, bool) {
	n, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
	if err != nil {
		return nil, false
	}
	return n, true
}

func convertMoney(s string) (any, bool) {
	n, ok := model.ParseAmount(s)
	if !ok {
		return nil, false
	}
	return n, true
}
