package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/submission-intake/pkg/notion"
)

func rich(s string) []notionapi.RichText {
	return []notionapi.RichText{{PlainText: s}}
}

func makeFieldPage(id, name, desc, logic string, where notionapi.Property, status string) notionapi.Page {
	props := notionapi.Properties{
		propFieldName:   &notionapi.TitleProperty{Title: rich(name)},
		propDescription: &notionapi.RichTextProperty{RichText: rich(desc)},
		propLogic:       &notionapi.RichTextProperty{RichText: rich(logic)},
		propStatus:      &notionapi.StatusProperty{Status: notionapi.Status{Name: status}},
	}
	if where != nil {
		props[propWhereToLook] = where
	}
	return notionapi.Page{ID: notionapi.ObjectID(id), Properties: props}
}

func TestLoadFieldRegistry(t *testing.T) {
	mc := new(mockNotionClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "defs-db", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		pf, ok := req.Filter.(notionapi.PropertyFilter)
		return ok && pf.Property == propStatus && pf.Status != nil && pf.Status.DoesNotEqual == "Retired"
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{
			makeFieldPage("p1", "yearBuilt", "Year of construction", "Four digits",
				&notionapi.RichTextProperty{RichText: rich("sov, application")}, "Active"),
			makeFieldPage("p2", "deductible", "AOP deductible", "",
				&notionapi.MultiSelectProperty{MultiSelect: []notionapi.Option{{Name: "email"}, {Name: "quote"}}}, "Draft"),
			makeFieldPage("p3", "", "no name", "", nil, "Active"),
		},
	}, nil).Once()

	reg, err := LoadFieldRegistry(ctx, mc, "defs-db")
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	yb := reg.ByName("yearBuilt")
	require.NotNil(t, yb)
	assert.Equal(t, "p1", yb.ID)
	assert.Equal(t, "Year of construction", yb.BusinessDescription)
	assert.Equal(t, "Four digits", yb.ExtractorLogic)
	assert.Equal(t, []string{"sov", "application"}, yb.Sections())

	ded := reg.ByName("deductible")
	require.NotNil(t, ded)
	assert.Equal(t, "email, quote", ded.WhereToLook)
	assert.Equal(t, []string{"email"}, ded.Sections())
	assert.Equal(t, "Draft", ded.Status)
	mc.AssertExpectations(t)
}

func TestLoadFieldRegistry_QueryError(t *testing.T) {
	mc := new(mockNotionClient)
	mc.On("QueryDatabase", mock.Anything, "defs-db", mock.Anything).Return(nil, assert.AnError).Once()

	reg, err := LoadFieldRegistry(context.Background(), mc, "defs-db")
	assert.Error(t, err)
	assert.Nil(t, reg)
	assert.Contains(t, err.Error(), "registry: load field definitions")
}

func TestLoadFieldsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fields.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"field_name": "namedInsured", "where_to_look": "application"},
		{"field_name": "fein", "extractor_logic": "nine digits"}
	]`), 0o644))

	reg, err := LoadFieldsFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, "nine digits", reg.ByName("fein").ExtractorLogic)
}

func TestLoadFieldsFromFile_Errors(t *testing.T) {
	_, err := LoadFieldsFromFile("/nonexistent/fields.json")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err = LoadFieldsFromFile(path)
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	assert.Greater(t, reg.Len(), 10)

	for _, f := range reg.Fields {
		assert.NotEmpty(t, f.FieldName)
		assert.NotEmpty(t, f.Sections(), "every bundled definition names at least one known section: %s", f.FieldName)
	}
	assert.Equal(t, []string{"loss_run", "email"}, reg.ByName("numberOfClaims").Sections())
}

func TestLoad_PicksSource(t *testing.T) {
	ctx := context.Background()
	mc := new(mockNotionClient)
	mc.On("QueryDatabase", ctx, "db", mock.Anything).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{makeFieldPage("p1", "fein", "", "", nil, "Active")},
	}, nil).Once()

	var gotToken string
	newClient := func(token string) notion.Client {
		gotToken = token
		return mc
	}

	reg, err := load(ctx, Options{NotionToken: "tok", NotionDBID: "db", FixturePath: "ignored.json"}, newClient)
	require.NoError(t, err)
	assert.Equal(t, "tok", gotToken)
	assert.Equal(t, 1, reg.Len())

	path := filepath.Join(t.TempDir(), "fields.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"field_name": "dba"}]`), 0o644))
	reg, err = load(ctx, Options{FixturePath: path}, newClient)
	require.NoError(t, err)
	assert.NotNil(t, reg.ByName("dba"))

	reg, err = load(ctx, Options{}, newClient)
	require.NoError(t, err)
	assert.NotNil(t, reg.ByName("namedInsured"))

	_, err = load(ctx, Options{FixturePath: "/nonexistent.json"}, newClient)
	assert.Error(t, err)
}
