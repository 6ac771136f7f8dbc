package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/pkg/utils"
)

// Header lines of a quiz prompt. Mock reads them back to shape its reply.
const (
	quizCountLabel      = "Question count: "
	quizTypeLabel       = "Question type: "
	quizDifficultyLabel = "Difficulty: "
)

var (
	quizCountRe      = regexp.MustCompile(`(?m)^` + quizCountLabel + `(\d+)\s*$`)
	quizTypeRe       = regexp.MustCompile(`(?m)^` + quizTypeLabel + `([\w, ]+?)\s*$`)
	quizDifficultyRe = regexp.MustCompile(`(?m)^` + quizDifficultyLabel + `(\w+)\s*$`)
)

// BuildQuizPrompt renders the completion prompt for a quiz request.
func BuildQuizPrompt(req QuizRequest) string {
	types := make([]string, len(req.QuestionTypes))
	for i, t := range req.QuestionTypes {
		types[i] = string(t)
	}
	difficulty := req.Difficulty
	if difficulty == "" {
		difficulty = models.DifficultyMedium
	}

	var b strings.Builder
	b.WriteString("You write study quizzes. Generate questions that test understanding of the content below.\n")
	b.WriteString(quizCountLabel + strconv.Itoa(req.Count) + "\n")
	b.WriteString(quizTypeLabel + strings.Join(types, ", ") + "\n")
	b.WriteString(quizDifficultyLabel + string(difficulty) + "\n\n")
	b.WriteString("Question types: mcq = four options labelled A-D with the letter as correctAnswer; ")
	b.WriteString("fill_blank = a sentence with ___ for the missing term; short_answer = a brief free-text answer.\n")
	b.WriteString("Return only a JSON array, no prose:\n")
	b.WriteString(`[{"type": "mcq", "question": "...", "options": ["A. ...", "B. ...", "C. ...", "D. ..."], "correctAnswer": "A", "explanation": "...", "difficulty": "` + string(difficulty) + `"}]`)
	b.WriteString("\n\nContent:\n")
	b.WriteString(req.Content)
	return b.String()
}

// parseQuizPrompt recovers the header of a prompt built by BuildQuizPrompt. ok is false for
// any other prompt.
func parseQuizPrompt(prompt string) (req QuizRequest, ok bool) {
	m := quizCountRe.FindStringSubmatch(prompt)
	if m == nil {
		return req, false
	}
	req.Count, _ = strconv.Atoi(m[1])
	if tm := quizTypeRe.FindStringSubmatch(prompt); tm != nil {
		for _, t := range strings.Split(tm[1], ",") {
			if k, ok := NormalizeKind(t); ok {
				req.QuestionTypes = append(req.QuestionTypes, k)
			}
		}
	}
	if dm := quizDifficultyRe.FindStringSubmatch(prompt); dm != nil {
		req.Difficulty = models.Difficulty(dm[1])
	}
	return req, true
}

func suggestPrompt(text string) string {
	return `Analyze the document below. Mark passages worth asking questions about as "focus" ` +
		`(definitions, key concepts, facts) and irrelevant passages as "exclude" (contact details, ` +
		`copyright notices, boilerplate). Offsets are byte offsets into the document, end exclusive.
Return only JSON:
{"annotations": [{"type": "focus", "text": "...", "startOffset": 0, "endOffset": 10, "confidence": 0.95, "reason": "..."}]}

Document:
` + text
}

func evaluatePrompt(question, correctAnswer, userAnswer string) string {
	return fmt.Sprintf(`Grade the answer to the question below on a 0-100 scale.
90-100: fully correct. 70-89: mostly correct with small mistakes. 50-69: partially correct.
20-49: mostly wrong but related. 0-19: wrong.
Return only JSON: {"score": 85, "feedback": "..."}

Question: %s
Reference answer: %s
User answer: %s`, question, correctAnswer, userAnswer)
}

// rawQuestion accepts the field spellings seen in provider replies.
type rawQuestion struct {
	Type          string   `json:"type"`
	Kind          string   `json:"kind"`
	Question      string   `json:"question"`
	Stem          string   `json:"stem"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Answer        string   `json:"answer"`
	Explanation   string   `json:"explanation"`
	Difficulty    string   `json:"difficulty"`
}

func (r rawQuestion) candidate() models.QuestionCandidate {
	c := models.QuestionCandidate{
		Stem:          strings.TrimSpace(firstNonEmpty(r.Question, r.Stem)),
		Options:       r.Options,
		CorrectAnswer: strings.TrimSpace(firstNonEmpty(r.CorrectAnswer, r.Answer)),
		Explanation:   strings.TrimSpace(r.Explanation),
		Difficulty:    models.Difficulty(strings.ToLower(strings.TrimSpace(r.Difficulty))),
	}
	if k, ok := NormalizeKind(firstNonEmpty(r.Type, r.Kind)); ok {
		c.Kind = k
	}
	return c
}

// DecodeQuestions reads a JSON question list from raw, accepting a top-level array or an
// object with a "questions" array, optionally inside a code fence. Items without a stem
// are dropped.
func DecodeQuestions(raw string) ([]models.QuestionCandidate, error) {
	body := utils.StripCodeFences(raw)

	var items []rawQuestion
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		var wrapped struct {
			Questions []rawQuestion `json:"questions"`
		}
		if err2 := json.Unmarshal([]byte(body), &wrapped); err2 != nil || wrapped.Questions == nil {
			if inner, ok := outermostJSON(body, '[', ']'); ok && json.Unmarshal([]byte(inner), &items) == nil {
				return candidates(items), nil
			}
			return nil, fmt.Errorf("response is not a JSON question list: %w", err)
		}
		items = wrapped.Questions
	}
	return candidates(items), nil
}

func candidates(items []rawQuestion) []models.QuestionCandidate {
	out := make([]models.QuestionCandidate, 0, len(items))
	for _, it := range items {
		c := it.candidate()
		if c.Stem == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// outermostJSON returns the text between the first open and the last close delimiter.
func outermostJSON(s string, open, close byte) (string, bool) {
	i := strings.IndexByte(s, open)
	j := strings.LastIndexByte(s, close)
	if i < 0 || j <= i {
		return "", false
	}
	return s[i : j+1], true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// completionSuggest asks p for annotation suggestions through a JSON completion.
func completionSuggest(ctx context.Context, p Provider, text string) ([]models.AnnotationSuggestion, error) {
	resp, err := p.GenerateCompletion(ctx, []Message{{Role: RoleUser, Content: suggestPrompt(text)}})
	if err != nil {
		return nil, err
	}
	body := utils.StripCodeFences(resp.Content)

	type rawSuggestion struct {
		Type        string  `json:"type"`
		Kind        string  `json:"kind"`
		Text        string  `json:"text"`
		StartOffset int     `json:"startOffset"`
		EndOffset   int     `json:"endOffset"`
		Confidence  float64 `json:"confidence"`
		Reason      string  `json:"reason"`
	}
	var wrapped struct {
		Annotations []rawSuggestion `json:"annotations"`
	}
	if err := json.Unmarshal([]byte(body), &wrapped); err != nil {
		if err2 := json.Unmarshal([]byte(body), &wrapped.Annotations); err2 != nil {
			return nil, apperr.Provider(apperr.ReasonInvalidResponse, p.Name()+": malformed annotation suggestions", err)
		}
	}

	out := make([]models.AnnotationSuggestion, 0, len(wrapped.Annotations))
	for _, s := range wrapped.Annotations {
		kind := models.AnnotationKind(strings.ToLower(firstNonEmpty(s.Type, s.Kind)))
		if kind != models.AnnotationFocus && kind != models.AnnotationExclude {
			continue
		}
		out = append(out, models.AnnotationSuggestion{
			Kind:        kind,
			Text:        s.Text,
			StartOffset: s.StartOffset,
			EndOffset:   s.EndOffset,
			Confidence:  math.Max(0, math.Min(1, s.Confidence)),
			Reason:      s.Reason,
		})
	}
	return out, nil
}

// completionQuiz asks p for a question set through a JSON completion.
func completionQuiz(ctx context.Context, p Provider, req QuizRequest) ([]models.QuestionCandidate, error) {
	resp, err := p.GenerateCompletion(ctx, []Message{{Role: RoleUser, Content: BuildQuizPrompt(req)}})
	if err != nil {
		return nil, err
	}
	qs, err := DecodeQuestions(resp.Content)
	if err != nil {
		return nil, apperr.Provider(apperr.ReasonInvalidResponse, p.Name()+": malformed quiz", err)
	}
	return qs, nil
}

// completionEvaluate asks p to grade an answer through a JSON completion.
func completionEvaluate(ctx context.Context, p Provider, question, correctAnswer, userAnswer string) (*models.Evaluation, error) {
	resp, err := p.GenerateCompletion(ctx, []Message{{Role: RoleUser, Content: evaluatePrompt(question, correctAnswer, userAnswer)}})
	if err != nil {
		return nil, err
	}
	var out struct {
		Score    float64 `json:"score"`
		Feedback string  `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(utils.StripCodeFences(resp.Content)), &out); err != nil {
		return nil, apperr.Provider(apperr.ReasonInvalidResponse, p.Name()+": malformed evaluation", err)
	}
	score := int(math.Round(math.Max(0, math.Min(100, out.Score))))
	if out.Feedback == "" {
		out.Feedback = evaluationFeedback(score)
	}
	return &models.Evaluation{Score: score, Feedback: out.Feedback}, nil
}

// formatMessages flattens chat turns for backends that take a single prompt.
func formatMessages(messages []Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, string(m.Role)+": "+m.Content)
	}
	return strings.Join(parts, "\n\n")
}
