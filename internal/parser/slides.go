package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/manabu/internal/models"
)

var (
	pptxSlidePath = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	aParagraph    = regexp.MustCompile(`(?s)<a:p(?:\s[^>]*[^/>])?>(.*?)</a:p>`)
	atTag         = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)
)

// parsePPTX emits one block per slide in slide order. Paragraphs within a slide are
// separated by newlines.
func parsePPTX(content []byte) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("parse PPTX: not a zip: %w", err)
	}

	type slide struct {
		num  int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		if m := pptxSlidePath.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{num: n, name: f.Name})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var b builder
	for _, s := range slides {
		data, err := readZipFile(zr, s.name)
		if err != nil {
			return nil, fmt.Errorf("parse PPTX: %w", err)
		}
		var lines []string
		for _, p := range aParagraph.FindAllSubmatch(data, -1) {
			var sb strings.Builder
			for _, run := range atTag.FindAllSubmatch(p[1], -1) {
				sb.Write(run[1])
			}
			if line := strings.TrimSpace(html.UnescapeString(sb.String())); line != "" {
				lines = append(lines, line)
			}
		}
		b.add(models.BlockParagraph, strings.Join(lines, "\n"), nil, map[string]interface{}{"slide": s.num})
	}
	res := b.result()
	res.Metadata = map[string]interface{}{"slideCount": len(slides)}
	return res, nil
}
