package model

// DocumentType is the class assigned to an attachment.
type DocumentType string

const (
	DocSOV           DocumentType = "sov"
	DocLossRun       DocumentType = "loss_run"
	DocSchedule      DocumentType = "schedule"
	DocSupplemental  DocumentType = "supplemental"
	DocPayroll       DocumentType = "payroll"
	DocQuestionnaire DocumentType = "questionnaire"
	DocApplication   DocumentType = "application"
	DocOther         DocumentType = "other"
)

// SourceEmail labels the email header and body section of the extraction context.
const SourceEmail = "email"

// DocumentTypes lists every document type in context rendering order.
var DocumentTypes = []DocumentType{
	DocSOV,
	DocLossRun,
	DocSchedule,
	DocApplication,
	DocQuestionnaire,
	DocPayroll,
	DocSupplemental,
	DocOther,
}

// IsValidSource reports whether s names the email section or a document type.
func IsValidSource(s string) bool {
	if s == SourceEmail {
		return true
	}
	for _, dt := range DocumentTypes {
		if string(dt) == s {
			return true
		}
	}
	return false
}
