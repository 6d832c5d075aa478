// Package classify holds the deterministic submission and document classifiers.
package classify

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sells-group/submission-intake/internal/model"
)

// SubmissionResult is the outcome of IsSubmission. Reason is always set.
type SubmissionResult struct {
	IsSubmission bool   `json:"is_submission"`
	Reason       string `json:"reason"`
}

var submissionToken = regexp.MustCompile(`(?i)\bsubmissions?\b`)

// documentExtensions are attachment kinds that carry underwriting data.
var documentExtensions = map[string]bool{
	".pdf": true, ".xls": true, ".xlsx": true, ".xlsm": true, ".csv": true,
	".doc": true, ".docx": true,
}

var attachmentKeywords = []string{
	"sov", "statement of values", "schedule of values", "loss run", "lossrun",
	"acord", "application", "supplemental", "questionnaire", "property",
	"schedule", "values", "premium", "policy", "renewal", "quote", "coverage",
	"payroll", "exposure", "loss history",
}

var insuranceKeywords = []string{
	"quote", "quotation", "rfq", "indication", "bind", "underwrit", "renewal", "new business",
	"coverage", "premium", "policy", "insured", "tiv", "total insured value",
	"loss run", "sov", "statement of values", "acord", "effective date",
	"property schedule", "binder", "deductible", "carrier", "broker",
}

var submissionSubject = regexp.MustCompile(
	`(?i)^(?:(?:re|fw|fwd):\s*)*[\w&.,'()\s]+\s[-–—:|]\s.*\b(?:property|package|casualty|liability|gl|umbrella|excess|habitational|builders risk|inland marine|commercial)\b`)

// IsSubmission decides whether an email is an insurance submission. The
// checks run in priority order and the first that fires supplies the reason.
func IsSubmission(email model.Email, attachments []model.Attachment) SubmissionResult {
	text := strings.ToLower(email.Subject + "\n" + email.Body)

	if submissionToken.MatchString(text) {
		return SubmissionResult{IsSubmission: true, Reason: "subject or body contains the word 'submission'"}
	}

	for _, a := range attachments {
		ext := strings.ToLower(filepath.Ext(a.Filename))
		if !documentExtensions[ext] {
			continue
		}
		if kw := firstMatch(normalizeName(a.Filename), attachmentKeywords); kw != "" {
			return SubmissionResult{
				IsSubmission: true,
				Reason:       "document attachment " + a.Filename + " is named like insurance material (" + kw + ")",
			}
		}
	}

	if kw := firstMatch(text, insuranceKeywords); kw != "" {
		if len(attachments) > 0 {
			return SubmissionResult{
				IsSubmission: true,
				Reason:       "insurance keyword '" + kw + "' with attachments",
			}
		}
		return SubmissionResult{
			IsSubmission: true,
			Reason:       "insurance keyword '" + kw + "' without attachments",
		}
	}

	if submissionSubject.MatchString(email.Subject) {
		return SubmissionResult{IsSubmission: true, Reason: "subject matches submission title pattern"}
	}

	return SubmissionResult{
		IsSubmission: false,
		Reason: "no submission signals: no 'submission' token, no insurance-named document attachment, " +
			"no insurance keywords, subject does not match submission title pattern",
	}
}

var (
	renewalPattern     = regexp.MustCompile(`(?i)\b(?:renewal|renewing|renew|expiring|re-?market(?:ing)?)\b`)
	endorsementPattern = regexp.MustCompile(`(?i)\b(?:endorsement|endorse|policy change|mid-?term|add(?:ing)? (?:a )?(?:location|building|vehicle|insured))\b`)
	newBusinessPattern = regexp.MustCompile(`(?i)\bnew\b(?:\s+\w+){0,3}\s+(?:business|submission|account|risk|insured|quote|opportunity)\b|\bnew business\b|\bprospect\b`)
)

// SubmissionType assigns a submission's business category. Renewal wins over
// endorsement, which wins over new business.
func SubmissionType(email model.Email) model.SubmissionType {
	text := email.Subject + "\n" + email.Body
	switch {
	case renewalPattern.MatchString(text):
		return model.SubmissionRenewal
	case endorsementPattern.MatchString(text):
		return model.SubmissionEndorsement
	case newBusinessPattern.MatchString(text):
		return model.SubmissionNewBusiness
	default:
		return model.SubmissionOther
	}
}

func firstMatch(text string, keywords []string) string {
	for _, kw := range keywords {
		if containsWord(text, kw) {
			return kw
		}
	}
	return ""
}

// containsWord reports whether kw appears in text starting at a word boundary.
// Keywords are treated as prefixes so "underwrit" matches "underwriting".
func containsWord(text, kw string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], kw)
		if j < 0 {
			return false
		}
		pos := i + j
		if pos == 0 || !isWordByte(text[pos-1]) {
			end := pos + len(kw)
			if len(kw) > 3 || end == len(text) || !isWordByte(text[end]) {
				return true
			}
		}
		i = pos + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// normalizeName lowercases a filename and turns separators into spaces.
func normalizeName(name string) string {
	name = strings.ToLower(name)
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.', '(', ')', '[', ']':
			return ' '
		}
		return r
	}, name)
}
