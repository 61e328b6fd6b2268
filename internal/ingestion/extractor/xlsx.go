package extractor

import (
	"bytes"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractXLSX emits one "[sheet-name]" marker line per sheet, then each
// non-empty row with its populated cells tab-joined.
func extractXLSX(content []byte) (string, error) {
	workbook, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", err
	}
	defer workbook.Close()

	var lines []string
	for _, sheet := range workbook.GetSheetList() {
		lines = append(lines, "["+sheet+"]")
		rows, err := workbook.GetRows(sheet)
		if err != nil {
			return "", err
		}
		for _, row := range rows {
			values := make([]string, 0, len(row))
			for _, cell := range row {
				if cell == "" {
					continue
				}
				values = append(values, cell)
			}
			if len(values) > 0 {
				lines = append(lines, strings.Join(values, "\t"))
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}
