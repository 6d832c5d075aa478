package classify

import (
	"path/filepath"
	"strings"

	"github.com/sells-group/submission-intake/internal/model"
)

type docRule struct {
	docType  model.DocumentType
	keywords []string
}

// documentRules run in order; earlier rules win when a filename matches more
// than one. Payroll and questionnaires often mention "schedule" or "values",
// and loss runs are often spreadsheets.
var documentRules = []docRule{
	{model.DocPayroll, []string{"payroll", "remuneration", "wage", "941"}},
	{model.DocQuestionnaire, []string{"questionnaire", "question"}},
	{model.DocApplication, []string{"application", "acord", "app"}},
	{model.DocSOV, []string{"sov", "statement of value", "schedule of value", "values"}},
	{model.DocLossRun, []string{
		"loss run", "lossrun", "loss hist", "loss report", "loss summary",
		"loss experience", "losses", "claims hist", "claim hist", "claims report",
		"claim report", "currently valued", "valued", "experience",
	}},
}

var spreadsheetExtensions = map[string]bool{
	".xls": true, ".xlsx": true, ".xlsm": true, ".csv": true, ".ods": true, ".tsv": true,
}

var supplementalKeywords = []string{"supplemental", "supplement", "addendum", "additional", "addl", "misc"}

// DocumentType classifies an attachment from its filename and content type.
func DocumentType(filename, contentType string) model.DocumentType {
	name := normalizeName(filename)
	compact := strings.ReplaceAll(name, " ", "")

	for _, rule := range documentRules {
		for _, kw := range rule.keywords {
			if containsWord(name, kw) || (strings.Contains(kw, " ") && strings.Contains(compact, strings.ReplaceAll(kw, " ", ""))) {
				return rule.docType
			}
		}
	}

	if isSpreadsheet(filename, contentType) || containsWord(name, "schedule") {
		return model.DocSchedule
	}

	if firstMatch(name, supplementalKeywords) != "" {
		return model.DocSupplemental
	}

	return model.DocOther
}

func isSpreadsheet(filename, contentType string) bool {
	if spreadsheetExtensions[strings.ToLower(filepath.Ext(filename))] {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "spreadsheet") || strings.Contains(ct, "excel") || strings.Contains(ct, "csv")
}
