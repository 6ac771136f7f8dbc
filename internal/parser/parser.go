// Package parser converts uploaded document bytes into canonical text and ordered,
// offset-addressed blocks.
//
// Every block satisfies 0 <= StartOffset < EndOffset <= len(CanonicalText) and
// CanonicalText[StartOffset:EndOffset] == Text. Blocks are emitted in increasing
// StartOffset order and never overlap.
package parser

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/pkg/utils"
)

// Format is a supported input family.
type Format string

const (
	FormatPlain        Format = "plain"
	FormatMarkdown     Format = "markdown"
	FormatDOCX         Format = "docx"
	FormatPDF          Format = "pdf"
	FormatXLSX         Format = "xlsx"
	FormatPPTX         Format = "pptx"
	FormatOpenDocument Format = "opendocument"
	FormatRTF          Format = "rtf"
)

var formatsByMIME = map[string]Format{
	"text/plain":      FormatPlain,
	"text/markdown":   FormatMarkdown,
	"text/x-markdown": FormatMarkdown,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   FormatDOCX,
	"application/pdf": FormatPDF,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         FormatXLSX,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": FormatPPTX,
	"application/vnd.oasis.opendocument.text":         FormatOpenDocument,
	"application/vnd.oasis.opendocument.presentation": FormatOpenDocument,
	"application/vnd.oasis.opendocument.spreadsheet":  FormatOpenDocument,
	"application/rtf": FormatRTF,
	"text/rtf":        FormatRTF,
}

var formatsByExt = map[string]Format{
	".txt":      FormatPlain,
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".docx":     FormatDOCX,
	".pdf":      FormatPDF,
	".xlsx":     FormatXLSX,
	".pptx":     FormatPPTX,
	".odt":      FormatOpenDocument,
	".odp":      FormatOpenDocument,
	".ods":      FormatOpenDocument,
	".rtf":      FormatRTF,
}

// genericMIME types say nothing beyond "some bytes" or "some text", so a known
// extension wins over them.
var genericMIME = map[string]bool{
	"":                         true,
	"application/octet-stream": true,
	"text/plain":               true,
}

// SupportedExtensions lists the file extensions the parser accepts.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(formatsByExt))
	for ext := range formatsByExt {
		exts = append(exts, ext)
	}
	return exts
}

// DetectFormat resolves the input format from the MIME type, falling back to the
// filename extension. ok is false for unsupported inputs, including zip archives.
func DetectFormat(mimeType, filename string) (Format, bool) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	ext := strings.ToLower(filepath.Ext(filename))

	if genericMIME[mt] {
		if f, ok := formatsByExt[ext]; ok {
			return f, true
		}
	}
	if f, ok := formatsByMIME[mt]; ok {
		return f, true
	}
	f, ok := formatsByExt[ext]
	return f, ok
}

// Result is the parse output stored on a completed document.
type Result struct {
	CanonicalText string
	Blocks        []models.Block
	Metadata      map[string]interface{}
}

// Parser converts document bytes to a Result.
type Parser struct{}

// NewParser returns a new Parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile reads path and parses it using its extension.
func (p *Parser) ParseFile(path string) (*Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return p.Parse(content, mime.TypeByExtension(filepath.Ext(path)), filepath.Base(path))
}

// Parse converts raw into canonical text and blocks. Unrecognized types fail with an
// apperr UnsupportedFormat error.
func (p *Parser) Parse(raw []byte, mimeType, filename string) (*Result, error) {
	format, ok := DetectFormat(mimeType, filename)
	if !ok {
		return nil, apperr.UnsupportedFormat(mimeType, strings.ToLower(filepath.Ext(filename)))
	}

	var (
		res *Result
		err error
	)
	switch format {
	case FormatPlain:
		res = parsePlain(raw)
	case FormatMarkdown:
		res = parseMarkdown(validUTF8(raw))
	case FormatDOCX:
		res, err = parseDOCX(raw)
	case FormatPDF:
		res, err = parsePDF(raw)
	case FormatXLSX:
		res, err = parseXLSX(raw)
	case FormatPPTX:
		res, err = parsePPTX(raw)
	case FormatOpenDocument:
		res, err = parseOpenDocument(raw)
	case FormatRTF:
		res, err = parseRTF(raw)
	}
	if err != nil {
		return nil, err
	}

	for i := range res.Blocks {
		res.Blocks[i].BlockID = fmt.Sprintf("block-%d", i)
	}
	if res.Metadata == nil {
		res.Metadata = map[string]interface{}{}
	}
	res.Metadata["format"] = string(format)
	res.Metadata["wordCount"] = utils.WordCount(res.CanonicalText)
	res.Metadata["charCount"] = utf8.RuneCountInString(res.CanonicalText)
	res.Metadata["blockCount"] = len(res.Blocks)
	return res, nil
}

// validUTF8 returns content as a string with invalid sequences replaced by U+FFFD.
func validUTF8(content []byte) string {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "\ufffd")
	}
	return string(content)
}

// builder assembles canonical text from structural units joined by a blank line and
// records one block per unit.
type builder struct {
	sb     strings.Builder
	blocks []models.Block
}

func (b *builder) add(kind models.BlockKind, text string, page *int, meta map[string]interface{}) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if b.sb.Len() > 0 {
		b.sb.WriteString("\n\n")
	}
	start := b.sb.Len()
	b.sb.WriteString(text)
	b.blocks = append(b.blocks, models.Block{
		Kind:        kind,
		Text:        text,
		StartOffset: start,
		EndOffset:   b.sb.Len(),
		Page:        page,
		Meta:        meta,
	})
}

func (b *builder) result() *Result {
	return &Result{CanonicalText: b.sb.String(), Blocks: b.blocks}
}
