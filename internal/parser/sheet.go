package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/manabu/internal/models"
)

// parseXLSX emits one table block per non-empty sheet with tab-separated cells.
func parseXLSX(content []byte) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var b builder
	sheets := f.GetSheetList()
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			lines = append(lines, strings.Join(row, "\t"))
		}
		b.add(models.BlockTable, strings.Join(lines, "\n"), nil, map[string]interface{}{"sheet": sheet})
	}
	res := b.result()
	res.Metadata = map[string]interface{}{"sheets": sheets}
	return res, nil
}
