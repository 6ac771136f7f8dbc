package parser

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/hyperjump/manabu/internal/models"
)

// parsePDF emits one block per non-empty page.
func parsePDF(content []byte) (*Result, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	var b builder
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		pageNum := i
		b.add(models.BlockParagraph, text, &pageNum, nil)
	}
	res := b.result()
	res.Metadata = map[string]interface{}{"pageCount": numPages}
	return res, nil
}
