package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/submission-intake/internal/model"
)

func TestIsSubmission(t *testing.T) {
	t.Parallel()

	pdf := []model.Attachment{{Filename: "Acme_SOV_2025.pdf"}}
	img := []model.Attachment{{Filename: "logo.png"}}

	tests := []struct {
		name        string
		email       model.Email
		attachments []model.Attachment
		want        bool
		reason      string
	}{
		{
			name:   "submission token",
			email:  model.Email{Subject: "New Property Submission - Acme Holdings"},
			want:   true,
			reason: "'submission'",
		},
		{
			name:        "insurance named attachment",
			email:       model.Email{Subject: "see attached", Body: "thanks"},
			attachments: pdf,
			want:        true,
			reason:      "Acme_SOV_2025.pdf",
		},
		{
			name:        "keyword with attachments",
			email:       model.Email{Subject: "Acme", Body: "Please quote the attached."},
			attachments: img,
			want:        true,
			reason:      "with attachments",
		},
		{
			name:   "keyword without attachments",
			email:  model.Email{Subject: "Acme", Body: "Looking for a quote on this risk."},
			want:   true,
			reason: "without attachments",
		},
		{
			name:   "indication request",
			email:  model.Email{Subject: "Indication request for Acme Corp", Body: "Can you give us an indication by Friday?"},
			want:   true,
			reason: "'indication'",
		},
		{
			name:   "bind request",
			email:  model.Email{Subject: "Acme Corp", Body: "Please bind at the terms discussed."},
			want:   true,
			reason: "'bind'",
		},
		{
			name:   "subject pattern",
			email:  model.Email{Subject: "Acme Holdings LLC - Commercial Property", Body: "hi"},
			want:   true,
			reason: "title pattern",
		},
		{
			name:        "non-document attachment name ignored",
			email:       model.Email{Subject: "lunch", Body: "friday?"},
			attachments: []model.Attachment{{Filename: "property.png"}},
			want:        false,
			reason:      "no submission signals",
		},
		{
			name:   "plain chatter",
			email:  model.Email{Subject: "Lunch on Friday?", Body: "Are you free at noon?"},
			want:   false,
			reason: "no submission signals",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := IsSubmission(tt.email, tt.attachments)
			assert.Equal(t, tt.want, got.IsSubmission)
			assert.NotEmpty(t, got.Reason)
			assert.Contains(t, got.Reason, tt.reason)
		})
	}
}

func TestIsSubmission_ShortKeywordNeedsBoundary(t *testing.T) {
	t.Parallel()

	got := IsSubmission(model.Email{Subject: "improvements", Body: "tivoli gardens"}, nil)
	assert.False(t, got.IsSubmission)
}

func TestSubmissionType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		subject string
		body    string
		want    model.SubmissionType
	}{
		{"New Property Submission - Acme", "", model.SubmissionNewBusiness},
		{"Acme renewal 1/1", "", model.SubmissionRenewal},
		{"Acme", "Expiring policy attached", model.SubmissionRenewal},
		{"Endorsement request", "", model.SubmissionEndorsement},
		{"Acme", "Please add a location to the policy", model.SubmissionEndorsement},
		{"Renewal with endorsement", "", model.SubmissionRenewal},
		{"Acme - new business", "", model.SubmissionNewBusiness},
		{"Acme account", "see attached", model.SubmissionOther},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			t.Parallel()
			got := SubmissionType(model.Email{Subject: tt.subject, Body: tt.body})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDocumentType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		filename    string
		contentType string
		want        model.DocumentType
	}{
		{"Acme_SOV_2025.xlsx", "", model.DocSOV},
		{"Statement of Values.pdf", "application/pdf", model.DocSOV},
		{"WC_LossRuns_2023.xlsx", "", model.DocLossRun},
		{"Loss-Run-Acme.pdf", "application/pdf", model.DocLossRun},
		{"claims history.pdf", "", model.DocLossRun},
		{"Payroll Schedule.xlsx", "", model.DocPayroll},
		{"Payroll values.xlsx", "", model.DocPayroll},
		{"Habitational Questionnaire.pdf", "", model.DocQuestionnaire},
		{"ACORD 140.pdf", "", model.DocApplication},
		{"Signed Application.pdf", "", model.DocApplication},
		{"building list.xlsx", "", model.DocSchedule},
		{"export", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", model.DocSchedule},
		{"vehicle schedule.pdf", "application/pdf", model.DocSchedule},
		{"Supplemental Info.pdf", "", model.DocSupplemental},
		{"Misc Docs.pdf", "application/pdf", model.DocSupplemental},
		{"miscellaneous.docx", "", model.DocSupplemental},
		{"photo.jpg", "image/jpeg", model.DocOther},
		{"apple.pdf", "", model.DocOther},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DocumentType(tt.filename, tt.contentType))
		})
	}
}
