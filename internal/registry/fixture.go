package registry

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/submission-intake/internal/model"
)

// LoadFieldsFromFile reads a JSON array of model.FieldDefinition from the
// given path and returns an indexed FieldRegistry.
func LoadFieldsFromFile(path string) (*model.FieldRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read fields fixture")
	}

	var fields []model.FieldDefinition
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal fields fixture")
	}

	return model.NewFieldRegistry(fields), nil
}
