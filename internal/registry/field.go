// Package registry loads the field definitions that guide extraction.
package registry

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/submission-intake/internal/model"
	"github.com/sells-group/submission-intake/pkg/notion"
)

// Notion property names on the field definitions database.
const (
	propFieldName   = "Field Name"
	propDescription = "Business Description"
	propLogic       = "Extractor Logic"
	propWhereToLook = "Where to Look"
	propStatus      = "Status"
)

// LoadFieldRegistry queries the Notion field definitions database for every
// definition not marked Retired and returns an indexed FieldRegistry.
func LoadFieldRegistry(ctx context.Context, client notion.Client, dbID string) (*model.FieldRegistry, error) {
	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: propStatus,
			Status: &notionapi.StatusFilterCondition{
				DoesNotEqual: "Retired",
			},
		},
	}

	pages, err := notion.QueryAll(ctx, client, dbID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "registry: load field definitions")
	}

	fields := make([]model.FieldDefinition, 0, len(pages))
	for _, p := range pages {
		f, err := parseFieldPage(p)
		if err != nil {
			zap.L().Warn("registry: skipping malformed field page",
				zap.String("page_id", string(p.ID)),
				zap.Error(err),
			)
			continue
		}
		fields = append(fields, f)
	}

	return model.NewFieldRegistry(fields), nil
}

func parseFieldPage(p notionapi.Page) (model.FieldDefinition, error) {
	f := model.FieldDefinition{
		ID: string(p.ID),
	}

	if prop, ok := p.Properties[propFieldName]; ok {
		if tp, ok := prop.(*notionapi.TitleProperty); ok {
			f.FieldName = strings.TrimSpace(notion.PlainText(tp.Title))
		}
	}
	f.BusinessDescription = richText(p, propDescription)
	f.ExtractorLogic = richText(p, propLogic)

	// Where to Look is either free text or a multi-select of section labels.
	switch prop := p.Properties[propWhereToLook].(type) {
	case *notionapi.RichTextProperty:
		f.WhereToLook = notion.PlainText(prop.RichText)
	case *notionapi.MultiSelectProperty:
		names := make([]string, 0, len(prop.MultiSelect))
		for _, o := range prop.MultiSelect {
			names = append(names, o.Name)
		}
		f.WhereToLook = strings.Join(names, ", ")
	}

	if prop, ok := p.Properties[propStatus]; ok {
		if sp, ok := prop.(*notionapi.StatusProperty); ok {
			f.Status = sp.Status.Name
		}
	}

	if f.FieldName == "" {
		return f, eris.Errorf("missing %s property", propFieldName)
	}
	return f, nil
}

func richText(p notionapi.Page, name string) string {
	if rtp, ok := p.Properties[name].(*notionapi.RichTextProperty); ok {
		return notion.PlainText(rtp.RichText)
	}
	return ""
}
