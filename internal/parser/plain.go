package parser

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/hyperjump/manabu/internal/models"
)

// blankLine matches a paragraph separator: a newline, optional horizontal space, a newline.
var blankLine = regexp.MustCompile(`\n[ \t\r]*\n`)

// parsePlain keeps the input verbatim as canonical text.
func parsePlain(content []byte) *Result {
	text := validUTF8(content)
	return &Result{CanonicalText: text, Blocks: splitParagraphs(text)}
}

// splitParagraphs returns one paragraph block per blank-line-delimited segment of text.
// Offsets come from the split positions, so repeated paragraphs are located exactly.
func splitParagraphs(text string) []models.Block {
	var blocks []models.Block
	emit := func(start, end int) {
		seg := text[start:end]
		body := strings.TrimSpace(seg)
		if body == "" {
			return
		}
		lead := len(seg) - len(strings.TrimLeftFunc(seg, unicode.IsSpace))
		blocks = append(blocks, models.Block{
			Kind:        models.BlockParagraph,
			Text:        body,
			StartOffset: start + lead,
			EndOffset:   start + lead + len(body),
		})
	}

	start := 0
	for _, loc := range blankLine.FindAllStringIndex(text, -1) {
		emit(start, loc[0])
		start = loc[1]
	}
	emit(start, len(text))
	return blocks
}
