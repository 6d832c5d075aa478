package doctext

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXText renders every sheet of a workbook as tab-separated rows under a
// "## Sheet: <name>" heading. Blank rows are dropped.
func XLSXText(data []byte) (string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return "", eris.Wrap(err, "xlsx: open workbook")
	}

	var b strings.Builder
	for _, sheet := range f.Sheets {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## Sheet: " + sheet.Name + "\n")
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := rowToStrings(row)
			if len(cells) == 0 {
				continue
			}
			b.WriteString(strings.Join(cells, "\t"))
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// rowToStrings returns the cell text of a row with trailing blanks trimmed.
func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	last := -1
	for j, cell := range row.Cells {
		cells[j] = strings.TrimSpace(cell.String())
		if cells[j] != "" {
			last = j
		}
	}
	return cells[:last+1]
}
