package extract

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/submission-intake/internal/model"
	"github.com/sells-group/submission-intake/internal/schema"
)

func TestBuildContext_SectionOrder(t *testing.T) {
	email := model.Email{From: "a@b.com", Subject: "Submission", Body: "See attached."}
	docs := []Document{
		{Filename: "loss.pdf", Type: model.DocLossRun, Text: "No losses"},
		{Filename: "misc.txt", Text: "untyped"},
		{Filename: "sov-1.xlsx", Type: model.DocSOV, Text: "Bldg 1"},
		{Filename: "sov-2.xlsx", Type: model.DocSOV, Text: "Bldg 2"},
	}

	c := BuildContext(email, docs, 0)
	assert.Equal(t, []string{"email", "sov", "loss_run", "other"}, c.Labels())

	assert.True(t, strings.HasPrefix(c.Text, "=== SECTION: email ==="))
	assert.Contains(t, c.Sections[1].Text, "--- sov-1.xlsx ---\nBldg 1\n\n--- sov-2.xlsx ---\nBldg 2")
	assert.Less(t, strings.Index(c.Text, "=== SECTION: sov ==="), strings.Index(c.Text, "=== SECTION: loss_run ==="))
	assert.Contains(t, c.Sections[0].Text, "See attached.")
}

func TestBuildContext_Truncates(t *testing.T) {
	email := model.Email{Body: strings.Repeat("é", 500)}
	c := BuildContext(email, nil, 101)

	text := c.Sections[0].Text
	assert.Contains(t, text, "[... section truncated:")
	head, _, _ := strings.Cut(text, "\n\n[...")
	assert.Equal(t, 101, utf8.RuneCountInString(head))
	assert.True(t, utf8.ValidString(head))
}

func TestBuildContext_OversizedSectionKeepsOthers(t *testing.T) {
	docs := []Document{
		{Filename: "SOV.xlsx", Type: model.DocSOV, Text: strings.Repeat("x", 500_000)},
		{Filename: "Loss Run.pdf", Type: model.DocLossRun, Text: "Total incurred: $42,000"},
	}
	c := BuildContext(model.Email{Body: "Please quote."}, docs, 200_000)

	assert.Equal(t, []string{"email", "sov", "loss_run"}, c.Labels())
	assert.Contains(t, c.Text, "=== SECTION: loss_run ===")
	assert.Contains(t, c.Text, "Total incurred: $42,000")
	assert.Contains(t, c.Sections[1].Text, "[... section truncated:")
	assert.NotContains(t, c.Sections[2].Text, "truncated")
	assert.Less(t, len(c.Text), 210_000)
}

func TestSearchOrder(t *testing.T) {
	present := []string{"email", "sov", "loss_run"}

	assert.Equal(t,
		"Search these sections first, in order: loss_run. If the value is not found there, search all remaining sections: email, sov.",
		searchOrder([]string{"loss_run", "payroll"}, present))
	assert.Equal(t, "Search all sections: email, sov, loss_run.", searchOrder(nil, present))
	assert.Equal(t, "Search all sections: email, sov, loss_run.", searchOrder([]string{"payroll"}, present))
}

func TestBuildFieldPrompt_WithoutDefinition(t *testing.T) {
	f := schema.Field{Path: "coverage.deductible", Name: "deductible", Description: "All other perils deductible"}
	p := buildFieldPrompt(f, nil, []string{"email"})

	assert.Contains(t, p, "Field path: coverage.deductible\n")
	assert.Contains(t, p, "Business description: All other perils deductible")
	assert.Contains(t, p, "Search all sections: email.")
	assert.Contains(t, p, "email, sov, loss_run")
}

func TestParseFieldAnswer(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		value  any
		source string
	}{
		{"fenced", "```json\n{\"fieldValue\": \"Acme\", \"source\": \"Email\"}\n```", "Acme", "email"},
		{"prose around", "Here you go: {\"fieldValue\": 1987, \"source\": \"sov\"} done", 1987.0, "sov"},
		{"value alias", `{"value": true, "source": "loss run"}`, true, "loss_run"},
		{"placeholder", `{"fieldValue": "Not Provided", "source": "email"}`, nil, "email"},
		{"empty list", `{"fieldValue": [], "source": "sov"}`, nil, "sov"},
		{"unknown source", `{"fieldValue": "x", "source": "attachment 3"}`, "x", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ans, err := parseFieldAnswer(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.value, ans.Value)
			assert.Equal(t, tt.source, ans.Source)
		})
	}

	_, err := parseFieldAnswer("I could not find it.")
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	data := Merge([]model.ExtractionRecord{
		{FieldPath: "submission.namedInsured", FieldValue: "Acme"},
		{FieldPath: "locations[1].buildings[0].yearBuilt", FieldValue: 1990.0},
		{FieldPath: "coverage.deductible", FieldValue: nil},
		{FieldPath: "submission.namedInsured.first", FieldValue: "bad"},
		{FieldPath: ""},
	})

	assert.Equal(t, "Acme", data["submission"].(map[string]any)["namedInsured"])
	locs := data["locations"].([]any)
	require.Len(t, locs, 2)
	assert.Equal(t, map[string]any{}, locs[0])
	cov := data["coverage"].(map[string]any)
	v, ok := cov["deductible"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestFallback(t *testing.T) {
	c := BuildContext(model.Email{
		From: "Jane Broker <jane@agency.com>",
		Body: "Insured: Riverside Storage Inc.\nPolicy effective 3/15/2026, expires 3/15/2027.\nDeductible: $25k\n",
	}, []Document{{Filename: "sov.xlsx", Type: model.DocSOV, Text: "Risk Address: 100 Main St, Tulsa OK\n52,000 sq ft"}}, 0)

	hits := Fallback(c)
	assert.Equal(t, "Riverside Storage Inc", hits["submission.namedInsured"].Value)
	assert.Equal(t, "jane@agency.com", hits["submission.brokerEmail"].Value)
	assert.Equal(t, "2026-03-15", hits["submission.effectiveDate"].Value)
	assert.Equal(t, "2027-03-15", hits["submission.expirationDate"].Value)
	assert.Equal(t, 25_000.0, hits["coverage.deductible"].Value)
	assert.Equal(t, "100 Main St, Tulsa OK", hits["locations[0].riskAddress"].Value)
	assert.Equal(t, "sov", hits["locations[0].riskAddress"].Source)
	assert.Equal(t, 52_000.0, hits["locations[0].buildings[0].squareFootage"].Value)
	assert.NotContains(t, hits, "submission.currentCarrier")
}
