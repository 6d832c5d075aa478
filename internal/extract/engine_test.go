package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/submission-intake/internal/fieldpath"
	"github.com/sells-group/submission-intake/internal/model"
	"github.com/sells-group/submission-intake/internal/resilience"
	"github.com/sells-group/submission-intake/internal/schema"
	"github.com/sells-group/submission-intake/pkg/anthropic"
	"github.com/sells-group/submission-intake/pkg/anthropic/mocks"
)

const testSchemaYAML = `
submission:
  namedInsured: Legal name
  effectiveDate: Effective date
locations:
  - riskAddress: Address
    buildings:
      - yearBuilt: Year built
        buildingLimit: Building limit
coverage:
  totalInsuredValue: TIV
  deductible: Deductible
`

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Parse([]byte(testSchemaYAML))
	require.NoError(t, err)
	return s
}

func forPath(path string) any {
	return mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) == 1 && strings.Contains(req.Messages[0].Content, "Field path: "+path+"\n")
	})
}

func answer(value any, source string) *anthropic.MessageResponse {
	v := "null"
	switch t := value.(type) {
	case string:
		v = fmt.Sprintf("%q", t)
	case float64, int:
		v = fmt.Sprintf("%v", t)
	}
	text := fmt.Sprintf("```json\n{\"fieldValue\": %s, \"source\": %q, \"evidenceSnippet\": \"quoted\", \"reasoning\": \"stated\"}\n```", v, source)
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 10},
	}
}

func rateLimited() error {
	return &anthropic.RateLimitError{StatusCode: 429, Err: errors.New("429 Too Many Requests")}
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func newTestEngine(t *testing.T, client anthropic.Client, batchSize int) (*Engine, *sleepRecorder) {
	t.Helper()
	cfg := Config{
		BatchSize:  batchSize,
		BatchPause: time.Second,
		Cooldown:   5 * time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts:    4,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Multiplier:     2,
		},
	}
	defs := model.NewFieldRegistry([]model.FieldDefinition{
		{FieldName: "yearBuilt", BusinessDescription: "Year the building was constructed", WhereToLook: "sov, email"},
	})
	e := New(client, testSchema(t), defs, cfg)
	rec := &sleepRecorder{}
	e.sleep = rec.sleep
	return e, rec
}

var testInput = Input{
	MessageID: "msg-1",
	Email: model.Email{
		From:    "broker@agency.com",
		Subject: "New Property Submission - Acme",
		Body:    "Named Insured: Acme Holdings LLC\nEffective Date: 01/01/2026\nTIV: $12,500,000",
	},
	Documents: []Document{
		{Filename: "sov.xlsx", Type: model.DocSOV, Text: "Year Built: 1987\t45,000 sq ft\tBuilding Limit: $4.2M"},
	},
}

func TestExtract_MergesEveryField(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, forPath("submission.namedInsured")).Return(answer("Acme Holdings LLC", "email"), nil).Once()
	client.On("CreateMessage", mock.Anything, forPath("submission.effectiveDate")).Return(answer("2026-01-01", "Email"), nil).Once()
	client.On("CreateMessage", mock.Anything, forPath("locations[0].riskAddress")).Return(answer(nil, ""), nil).Once()
	client.On("CreateMessage", mock.Anything, forPath("locations[0].buildings[0].yearBuilt")).Return(answer(float64(1987), "sov"), nil).Once()
	client.On("CreateMessage", mock.Anything, forPath("locations[0].buildings[0].buildingLimit")).Return(answer(float64(4200000), "spreadsheet"), nil).Once()
	client.On("CreateMessage", mock.Anything, forPath("coverage.totalInsuredValue")).Return(answer(float64(12500000), "email"), nil).Once()
	client.On("CreateMessage", mock.Anything, forPath("coverage.deductible")).Return(answer("N/A", "email"), nil).Once()

	e, sleeps := newTestEngine(t, client, 5)
	res, err := e.Extract(context.Background(), testInput)
	require.NoError(t, err)

	fields := testSchema(t).Flatten()
	require.Len(t, res.Records, len(fields))
	assert.False(t, res.Fallback)
	assert.Equal(t, int64(700), res.Usage.InputTokens)

	for i, f := range fields {
		rec := res.Records[i]
		assert.Equal(t, f.Path, rec.FieldPath)
		assert.Equal(t, "msg-1", rec.MessageID)
		assert.NotEmpty(t, rec.Source, f.Path)

		got, ok := fieldpath.Get(res.Data, f.Path)
		require.True(t, ok, f.Path)
		assert.Equal(t, rec.FieldValue, got, f.Path)
	}

	assert.Equal(t, "email", res.Records[1].Source, "source labels are normalized")
	assert.Nil(t, res.Records[2].FieldValue)
	assert.Equal(t, "other", res.Records[2].Source, "null values still carry a source")
	assert.Equal(t, "other", res.Records[4].Source, "unknown labels become other")
	assert.Nil(t, res.Records[6].FieldValue, "placeholder strings become null")

	// Seven fields in batches of five: one pause between the two batches.
	assert.Equal(t, []time.Duration{time.Second}, sleeps.delays)
}

func TestExtract_RetriesRateLimitedFieldsOnly(t *testing.T) {
	client := mocks.NewMockClient(t)

	// Two fields are throttled twice before succeeding.
	for _, p := range []string{"submission.namedInsured", "coverage.deductible"} {
		client.On("CreateMessage", mock.Anything, forPath(p)).Return(nil, rateLimited()).Twice()
		client.On("CreateMessage", mock.Anything, forPath(p)).Return(answer("ok", "email"), nil).Once()
	}
	for _, p := range []string{
		"submission.effectiveDate",
		"locations[0].riskAddress",
		"locations[0].buildings[0].yearBuilt",
		"locations[0].buildings[0].buildingLimit",
		"coverage.totalInsuredValue",
	} {
		client.On("CreateMessage", mock.Anything, forPath(p)).Return(answer("v", "email"), nil).Once()
	}

	e, sleeps := newTestEngine(t, client, 5)
	res, err := e.Extract(context.Background(), testInput)
	require.NoError(t, err)

	assert.Equal(t, 0, res.RateLimited)
	assert.False(t, res.Fallback)
	assert.Equal(t, "ok", res.Records[0].FieldValue)
	assert.Equal(t, "ok", res.Records[6].FieldValue)
	client.AssertNumberOfCalls(t, "CreateMessage", 11)
	assert.Equal(t, []time.Duration{time.Second}, sleeps.delays, "recovered retries do not trigger a cool-down")
}

func TestExtract_ExhaustedRetriesCoolDownAndFallBack(t *testing.T) {
	client := mocks.NewMockClient(t)

	// Every first-batch field is throttled on every attempt.
	for _, p := range []string{
		"submission.namedInsured",
		"submission.effectiveDate",
		"locations[0].riskAddress",
		"locations[0].buildings[0].yearBuilt",
		"locations[0].buildings[0].buildingLimit",
	} {
		client.On("CreateMessage", mock.Anything, forPath(p)).Return(nil, rateLimited()).Times(4)
	}
	client.On("CreateMessage", mock.Anything, forPath("coverage.totalInsuredValue")).Return(answer(nil, ""), nil).Once()
	client.On("CreateMessage", mock.Anything, forPath("coverage.deductible")).Return(answer(nil, ""), nil).Once()

	e, sleeps := newTestEngine(t, client, 5)
	res, err := e.Extract(context.Background(), testInput)
	require.NoError(t, err)

	assert.Equal(t, 5, res.RateLimited)
	assert.True(t, res.Fallback)
	assert.Equal(t, []time.Duration{5 * time.Second}, sleeps.delays)

	byPath := make(map[string]model.ExtractionRecord)
	for _, r := range res.Records {
		byPath[r.FieldPath] = r
	}
	assert.Equal(t, "Acme Holdings LLC", byPath["submission.namedInsured"].FieldValue)
	assert.Equal(t, "email", byPath["submission.namedInsured"].Source)
	assert.Equal(t, "2026-01-01", byPath["submission.effectiveDate"].FieldValue)
	assert.Equal(t, 1987.0, byPath["locations[0].buildings[0].yearBuilt"].FieldValue)
	assert.Equal(t, "sov", byPath["locations[0].buildings[0].yearBuilt"].Source)
	assert.Equal(t, 4_200_000.0, byPath["locations[0].buildings[0].buildingLimit"].FieldValue)
	assert.Equal(t, 12_500_000.0, byPath["coverage.totalInsuredValue"].FieldValue)

	addr := byPath["locations[0].riskAddress"]
	assert.Nil(t, addr.FieldValue)
	assert.Contains(t, addr.Reasoning, "rate limit retries exhausted")
}

func TestExtract_SingleExhaustedFieldTriggersFallbackKeepingAnswers(t *testing.T) {
	client := mocks.NewMockClient(t)

	client.On("CreateMessage", mock.Anything, forPath("submission.effectiveDate")).Return(nil, rateLimited()).Times(4)
	client.On("CreateMessage", mock.Anything, forPath("submission.namedInsured")).Return(answer("Acme Holdings, LLC", "email"), nil).Once()
	for _, p := range []string{
		"locations[0].riskAddress",
		"locations[0].buildings[0].yearBuilt",
		"locations[0].buildings[0].buildingLimit",
		"coverage.totalInsuredValue",
		"coverage.deductible",
	} {
		client.On("CreateMessage", mock.Anything, forPath(p)).Return(answer("v", "email"), nil).Once()
	}

	e, sleeps := newTestEngine(t, client, 5)
	res, err := e.Extract(context.Background(), testInput)
	require.NoError(t, err)

	assert.Equal(t, 1, res.RateLimited)
	assert.True(t, res.Fallback)
	assert.Equal(t, []time.Duration{5 * time.Second}, sleeps.delays)

	byPath := make(map[string]model.ExtractionRecord)
	for _, r := range res.Records {
		byPath[r.FieldPath] = r
	}
	assert.Equal(t, "2026-01-01", byPath["submission.effectiveDate"].FieldValue)
	assert.Equal(t, "Acme Holdings, LLC", byPath["submission.namedInsured"].FieldValue)
	assert.Equal(t, "v", byPath["coverage.totalInsuredValue"].FieldValue)
}

func TestExtract_AuthFailureAborts(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, &anthropic.AuthError{StatusCode: 401, Err: errors.New("invalid x-api-key")}).Maybe()

	e, _ := newTestEngine(t, client, 5)
	res, err := e.Extract(context.Background(), testInput)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, anthropic.IsAuth(err))
}

func TestExtract_OtherErrorsYieldNullRecords(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, forPath("submission.namedInsured")).Return(nil, errors.New("boom")).Once()
	client.On("CreateMessage", mock.Anything, forPath("submission.effectiveDate")).
		Return(&anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: "not json"}}}, nil).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(answer(nil, ""), nil)

	e, _ := newTestEngine(t, client, 10)
	res, err := e.Extract(context.Background(), testInput)
	require.NoError(t, err)

	assert.Nil(t, res.Records[0].FieldValue)
	assert.Contains(t, res.Records[0].Reasoning, "extraction failed")
	assert.Nil(t, res.Records[1].FieldValue)
	assert.Equal(t, "unparseable model response", res.Records[1].Reasoning)
	assert.False(t, res.Fallback)
}

func TestExtract_ContextCancelled(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(answer(nil, ""), nil).Maybe()

	e, _ := newTestEngine(t, client, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Extract(ctx, testInput)
	require.Error(t, err)
}

func TestExtract_PromptCarriesDefinitionAndSearchOrder(t *testing.T) {
	client := mocks.NewMockClient(t)
	var prompt string
	var system []anthropic.SystemBlock
	client.On("CreateMessage", mock.Anything, forPath("locations[0].buildings[0].yearBuilt")).
		Run(func(args mock.Arguments) {
			req := args.Get(1).(anthropic.MessageRequest)
			prompt = req.Messages[0].Content
			system = req.System
		}).
		Return(answer(float64(1987), "sov"), nil).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(answer(nil, ""), nil)

	e, _ := newTestEngine(t, client, 10)
	_, err := e.Extract(context.Background(), testInput)
	require.NoError(t, err)

	assert.Contains(t, prompt, "Business description: Year the building was constructed")
	assert.Contains(t, prompt, "Search these sections first, in order: sov, email.")
	require.Len(t, system, 2)
	assert.Contains(t, system[1].Text, "=== SECTION: sov ===")
	assert.NotNil(t, system[1].CacheControl)
}
