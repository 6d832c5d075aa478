package doctext

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVText renders a CSV file as tab-separated rows. Ragged rows and stray
// quotes are tolerated.
func CSVText(ctx context.Context, data []byte) (string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var b strings.Builder
	for {
		if ctx.Err() != nil {
			return "", eris.Wrap(ctx.Err(), "csv: context cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", eris.Wrap(err, "csv: read row")
		}
		for i, field := range record {
			record[i] = strings.TrimSpace(field)
		}
		if strings.Join(record, "") == "" {
			continue
		}
		b.WriteString(strings.Join(record, "\t"))
		b.WriteString("\n")
	}
	return b.String(), nil
}
