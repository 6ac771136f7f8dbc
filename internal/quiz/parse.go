package quiz

import (
	"regexp"
	"strings"

	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/provider"
)

var (
	stemLine   = regexp.MustCompile(`^\d+[.、]\s*`)
	optionLine = regexp.MustCompile(`^[A-D][.、]\s*`)
)

// ParseQuestions recovers questions from a provider reply. JSON (an array or an object
// with a "questions" array, fenced or not) is preferred; otherwise numbered lines become
// stems and, for mcq, lettered lines become options. The line fallback recovers no answers.
// Every question takes the requested kind, whatever the reply claims; with no requested
// kind, the reply's kind is kept.
func ParseQuestions(raw string, requested models.QuestionKind) []models.QuestionCandidate {
	qs, err := provider.DecodeQuestions(raw)
	if err != nil {
		qs = parseLines(raw, requested)
	}
	if requested != "" {
		for i := range qs {
			qs[i].Kind = requested
		}
	}
	return qs
}

func parseLines(raw string, requested models.QuestionKind) []models.QuestionCandidate {
	var (
		out     []models.QuestionCandidate
		current *models.QuestionCandidate
	)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case stemLine.MatchString(line):
			if current != nil {
				out = append(out, *current)
			}
			current = &models.QuestionCandidate{Stem: stemLine.ReplaceAllString(line, "")}
		case current != nil && requested == models.QuestionMCQ && optionLine.MatchString(line):
			current.Options = append(current.Options, optionLine.ReplaceAllString(line, ""))
		}
	}
	if current != nil {
		out = append(out, *current)
	}
	return out
}
