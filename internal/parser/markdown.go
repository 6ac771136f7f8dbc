package parser

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/hyperjump/manabu/internal/models"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough))

// parseMarkdown strips markup from each top-level block and joins the results with a
// blank line. Blocks are computed against that stripped text.
func parseMarkdown(src string) *Result {
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var b builder
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		kind := models.BlockParagraph
		meta := map[string]interface{}{}
		switch t := n.(type) {
		case *ast.Heading:
			kind = models.BlockHeading
			meta["level"] = t.Level
		case *ast.List:
			kind = models.BlockList
		case *extast.Table:
			kind = models.BlockTable
		case *ast.ThematicBreak, *ast.HTMLBlock:
			continue
		}
		if line := lineNumber(n, source); line > 0 {
			meta["lineNumber"] = line
		}
		b.add(kind, blockText(n, source), nil, meta)
	}
	return b.result()
}

func blockText(n ast.Node, source []byte) string {
	switch t := n.(type) {
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return linesText(n, source)
	case *ast.HTMLBlock, *ast.ThematicBreak:
		return ""
	case *extast.Table:
		return tableText(t, source)
	}
	if c := n.FirstChild(); c != nil && c.Type() == ast.TypeInline {
		var sb strings.Builder
		inlineText(n, source, &sb)
		return strings.TrimSpace(sb.String())
	}
	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if s := blockText(c, source); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

func inlineText(n ast.Node, source []byte, sb *strings.Builder) {
	_, inCode := n.(*ast.CodeSpan)
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			v := t.Segment.Value(source)
			if !inCode {
				v = util.ResolveEntityNames(util.ResolveNumericReferences(util.UnescapePunctuations(v)))
			}
			sb.Write(v)
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.String:
			sb.Write(t.Value)
		case *ast.AutoLink:
			sb.Write(t.Label(source))
		case *ast.RawHTML, *ast.Image:
		default:
			inlineText(c, source, sb)
		}
	}
}

func linesText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return strings.TrimRight(buf.String(), "\n")
}

// tableText renders rows as tab-separated cells, one row per line.
func tableText(t *extast.Table, source []byte) string {
	var rows []string
	for row := t.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			var sb strings.Builder
			inlineText(cell, source, &sb)
			cells = append(cells, strings.TrimSpace(sb.String()))
		}
		rows = append(rows, strings.Join(cells, "\t"))
	}
	return strings.Join(rows, "\n")
}

// lineNumber returns the 1-based source line where n's first text line starts, or 0.
func lineNumber(n ast.Node, source []byte) int {
	var start = -1
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || c.Type() != ast.TypeBlock {
			return ast.WalkContinue, nil
		}
		if lines := c.Lines(); lines.Len() > 0 {
			start = lines.At(0).Start
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	if start < 0 {
		return 0
	}
	return bytes.Count(source[:start], []byte("\n")) + 1
}
