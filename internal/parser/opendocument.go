package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"os"
	"regexp"
	"strconv"

	"github.com/lu4p/cat"

	"github.com/hyperjump/manabu/internal/models"
)

// odfContentPath is the main content part of OpenDocument text, presentation and
// spreadsheet packages.
const odfContentPath = "content.xml"

var (
	// odfElement matches <text:p> and <text:h> elements. Self-closing empty ones do not match.
	odfElement  = regexp.MustCompile(`(?s)<text:(p|h)((?:\s[^>]*[^/>])?)>(.*?)</text:(?:p|h)>`)
	odfLevel    = regexp.MustCompile(`text:outline-level="(\d+)"`)
	odfSpace    = regexp.MustCompile(`<text:s(?:\s[^>]*)?/>`)
	odfTab      = regexp.MustCompile(`<text:tab(?:\s[^>]*)?/>`)
	odfBreak    = regexp.MustCompile(`<text:line-break(?:\s[^>]*)?/>`)
	markupTagRe = regexp.MustCompile(`<[^>]+>`)
)

// parseOpenDocument reads content.xml of an .odt, .odp or .ods package. Each paragraph
// or heading element becomes one block.
func parseOpenDocument(content []byte) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("parse OpenDocument: not a zip: %w", err)
	}
	contentXML, err := readZipFile(zr, odfContentPath)
	if err != nil {
		return nil, fmt.Errorf("parse OpenDocument: %w", err)
	}

	var b builder
	for _, m := range odfElement.FindAllSubmatch(contentXML, -1) {
		inner := odfSpace.ReplaceAll(m[3], []byte(" "))
		inner = odfTab.ReplaceAll(inner, []byte("\t"))
		inner = odfBreak.ReplaceAll(inner, []byte("\n"))
		inner = markupTagRe.ReplaceAll(inner, nil)
		text := html.UnescapeString(string(inner))

		if string(m[1]) == "h" {
			level := 1
			if lm := odfLevel.FindSubmatch(m[2]); len(lm) > 1 {
				level, _ = strconv.Atoi(string(lm[1]))
			}
			b.add(models.BlockHeading, text, nil, map[string]interface{}{"level": level})
			continue
		}
		b.add(models.BlockParagraph, text, nil, nil)
	}
	return b.result(), nil
}

// parseRTF converts RTF to text with lu4p/cat and splits it like plain text. cat reads
// from a path, so the bytes are staged in a temporary file.
func parseRTF(content []byte) (*Result, error) {
	tmp, err := os.CreateTemp("", "manabu-*.rtf")
	if err != nil {
		return nil, fmt.Errorf("parse RTF: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("parse RTF: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("parse RTF: %w", err)
	}

	text, err := cat.File(tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("parse RTF: %w", err)
	}
	return parsePlain([]byte(text)), nil
}
