package packager

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/submission-intake/internal/model"
)

func sampleData() map[string]any {
	return map[string]any{
		"submission": map[string]any{"namedInsured": "Acme Holdings LLC"},
		"locations": []any{
			map[string]any{
				"riskAddress": "1 Main St",
				"buildings": []any{
					map[string]any{"buildingLimit": 4_000_000.0},
					map[string]any{"buildingLimit": 1_200_000.0},
				},
			},
			map[string]any{"riskAddress": nil, "buildings": []any{map[string]any{"yearBuilt": nil}}},
		},
		"coverage": map[string]any{"totalInsuredValue": 5_200_000.0},
	}
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "Acme Holdings LLC: 1 location, 2 buildings, TIV $5,200,000", Summary(sampleData()))
	assert.Equal(t, "Unknown insured: 0 locations, 0 buildings, TIV not provided", Summary(map[string]any{}))
}

func TestSummary_TIVAsText(t *testing.T) {
	data := sampleData()
	data["coverage"] = map[string]any{"totalInsuredValue": "$12,500,000"}
	assert.Contains(t, Summary(data), "TIV $12,500,000")
}

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: New Property Submission - Acme", ReplySubject(" New Property Submission - Acme "))
	assert.Equal(t, "RE: already replied", ReplySubject("RE: already replied"))
	assert.Equal(t, "Re: your submission", ReplySubject(""))
}

func TestTable(t *testing.T) {
	records := []model.ExtractionRecord{
		{FieldPath: "submission.namedInsured", FieldValue: "Acme | Co", Source: "email"},
		{FieldPath: "locations[0].buildings[0].yearBuilt", FieldValue: 1987.0, Source: "sov"},
		{FieldPath: "coverage.deductible", FieldValue: nil, Source: ""},
		{FieldPath: "lossHistory.lossRunPresent", FieldValue: true, Source: "loss_run"},
	}
	got := Table(records)
	lines := strings.Split(strings.TrimSpace(got), "\n")
	assert.Len(t, lines, 6)
	assert.Equal(t, "| Field | Value | Source |", lines[0])
	assert.Equal(t, `| submission.namedInsured | Acme \| Co | email |`, lines[2])
	assert.Equal(t, "| locations[0].buildings[0].yearBuilt | 1987 | sov |", lines[3])
	assert.Equal(t, "| coverage.deductible | not found | other |", lines[4])
	assert.Equal(t, "| lossHistory.lossRunPresent | yes | loss_run |", lines[5])
}

func TestCell_Truncates(t *testing.T) {
	long := strings.Repeat("a", 200)
	got := cell(long + "\n\nmore")
	assert.Len(t, []rune(got), maxCellChars)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestBuild(t *testing.T) {
	in := Input{
		Email: model.Email{Subject: "Submission: Acme"},
		Result: &model.ExtractionResult{
			Data:            sampleData(),
			Warnings:        []string{"limit_mismatch: totals differ"},
			ConfidenceFlags: []string{"missing_effective_date: effective date was not found"},
			Fallback:        true,
		},
		Records: []model.ExtractionRecord{{FieldPath: "submission.namedInsured", FieldValue: "Acme Holdings LLC", Source: "email"}},
	}
	p := Build(in)
	assert.Equal(t, "Re: Submission: Acme", p.Subject)
	assert.Contains(t, p.Body, p.Summary)
	assert.Contains(t, p.Body, p.Table)
	assert.Contains(t, p.Body, "- limit_mismatch: totals differ")
	assert.Contains(t, p.Body, "Please confirm:\n- missing_effective_date")
	assert.Contains(t, p.Body, "simple pattern matching")
}

func TestBuild_CleanResult(t *testing.T) {
	p := Build(Input{Result: &model.ExtractionResult{Data: sampleData()}})
	assert.Contains(t, p.Body, "QA: no consistency issues found.")
	assert.NotContains(t, p.Body, "pattern matching")
}
