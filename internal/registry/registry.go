package registry

import (
	"context"
	_ "embed"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/submission-intake/internal/model"
	"github.com/sells-group/submission-intake/pkg/notion"
)

//go:embed fields.json
var defaultFields []byte

// Default returns the field definitions bundled with the binary.
func Default() (*model.FieldRegistry, error) {
	var fields []model.FieldDefinition
	if err := json.Unmarshal(defaultFields, &fields); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal bundled definitions")
	}
	return model.NewFieldRegistry(fields), nil
}

// Options selects where field definitions come from. A Notion database
// wins over a fixture file; with neither set the bundled set is used.
type Options struct {
	NotionToken string
	NotionDBID  string
	FixturePath string
}

// Load resolves the field definitions named by opts.
func Load(ctx context.Context, opts Options) (*model.FieldRegistry, error) {
	return load(ctx, opts, func(token string) notion.Client { return notion.NewClient(token) })
}

func load(ctx context.Context, opts Options, newClient func(string) notion.Client) (*model.FieldRegistry, error) {
	var (
		reg    *model.FieldRegistry
		err    error
		source string
	)
	switch {
	case opts.NotionToken != "" && opts.NotionDBID != "":
		source = "notion"
		reg, err = LoadFieldRegistry(ctx, newClient(opts.NotionToken), opts.NotionDBID)
	case opts.FixturePath != "":
		source = opts.FixturePath
		reg, err = LoadFieldsFromFile(opts.FixturePath)
	default:
		source = "bundled"
		reg, err = Default()
	}
	if err != nil {
		return nil, err
	}
	zap.L().Info("registry: field definitions loaded",
		zap.String("source", source),
		zap.Int("fields", reg.Len()),
	)
	return reg, nil
}
