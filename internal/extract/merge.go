package extract

import (
	"go.uber.org/zap"

	"github.com/sells-group/submission-intake/internal/fieldpath"
	"github.com/sells-group/submission-intake/internal/model"
)

// Merge writes every record's value, null included, into a fresh document at
// its field path.
func Merge(records []model.ExtractionRecord) map[string]any {
	data := make(map[string]any)
	for _, r := range records {
		if r.FieldPath == "" {
			continue
		}
		if err := fieldpath.Set(data, r.FieldPath, r.FieldValue); err != nil {
			zap.L().Warn("extract: merge skipped record",
				zap.String("field_path", r.FieldPath),
				zap.Error(err),
			)
		}
	}
	return data
}
