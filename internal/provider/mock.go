package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/pkg/utils"
)

const (
	mockModel            = "mock-model"
	mockFocusLimit       = 3
	mockMinSentenceRunes = 10
	mockExcludeSpan      = 20
)

// mockExcludePatterns mark contact and copyright boilerplate.
var mockExcludePatterns = []string{
	"contact", "phone", "email", "address", "copyright",
	"联系", "电话", "邮箱", "地址", "版权",
}

// Mock is an offline provider with deterministic, well-formed output. It is used when no
// credentials are configured and in tests.
type Mock struct {
	latency time.Duration
}

var _ Provider = (*Mock)(nil)

// NewMock returns a Mock that waits latency before answering each call.
func NewMock(latency time.Duration) *Mock {
	return &Mock{latency: latency}
}

// Name implements Provider.
func (m *Mock) Name() string { return string(models.ProviderMock) }

func (m *Mock) wait(ctx context.Context) error {
	if m.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GenerateCompletion answers a quiz prompt with a JSON question array and anything else
// with a canned reply.
func (m *Mock) GenerateCompletion(ctx context.Context, messages []Message) (*Completion, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	content := "This is a simulated AI response. A configured provider would answer here."
	if req, ok := parseQuizPrompt(lastUserMessage(messages)); ok {
		data, err := json.Marshal(mockQuestions(req))
		if err != nil {
			return nil, fmt.Errorf("failed to encode mock questions: %w", err)
		}
		content = string(data)
	}
	return &Completion{
		Content: content,
		Model:   mockModel,
		Usage:   &Usage{PromptTokens: 50, CompletionTokens: 30, TotalTokens: 80},
	}, nil
}

func lastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// SuggestAnnotations marks the first sentences as focus and contact or copyright text as
// exclude.
func (m *Mock) SuggestAnnotations(ctx context.Context, text string) ([]models.AnnotationSuggestion, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	var out []models.AnnotationSuggestion
	for _, sentence := range splitSentences(text) {
		if len(out) == mockFocusLimit {
			break
		}
		s := strings.TrimSpace(sentence)
		if utf8.RuneCountInString(s) <= mockMinSentenceRunes {
			continue
		}
		start := strings.Index(text, s)
		if start < 0 {
			continue
		}
		out = append(out, models.AnnotationSuggestion{
			Kind:        models.AnnotationFocus,
			Text:        s,
			StartOffset: start,
			EndOffset:   start + len(s),
			Confidence:  1 - 0.05*float64(len(out)),
			Reason:      "Contains key information suitable for questions",
		})
	}

	for _, pattern := range mockExcludePatterns {
		start := indexFold(text, pattern)
		if start < 0 {
			continue
		}
		end := start + mockExcludeSpan
		if end > len(text) {
			end = len(text)
		}
		for end < len(text) && end > start+len(pattern) && !utf8.RuneStart(text[end]) {
			end--
		}
		out = append(out, models.AnnotationSuggestion{
			Kind:        models.AnnotationExclude,
			Text:        text[start:end],
			StartOffset: start,
			EndOffset:   end,
			Confidence:  0.9,
			Reason:      "Contact details or boilerplate, not suitable for questions",
		})
	}
	return out, nil
}

// splitSentences splits on ASCII and CJK sentence terminators, dropping them.
func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '.', '!', '?', '。', '！', '？':
			return true
		}
		return false
	})
}

// indexFold is a case-insensitive strings.Index for ASCII patterns.
func indexFold(s, pattern string) int {
	n := len(pattern)
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], pattern) {
			return i
		}
	}
	return -1
}

// GenerateQuiz returns template questions, splitting Count evenly across the requested types.
func (m *Mock) GenerateQuiz(ctx context.Context, req QuizRequest) ([]models.QuestionCandidate, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return mockQuestions(req), nil
}

func mockQuestions(req QuizRequest) []models.QuestionCandidate {
	types := req.QuestionTypes
	if len(types) == 0 {
		types = []models.QuestionKind{models.QuestionMCQ}
	}
	difficulty := req.Difficulty
	if difficulty == "" {
		difficulty = models.DifficultyMedium
	}
	per, remainder := req.Count/len(types), req.Count%len(types)

	out := make([]models.QuestionCandidate, 0, req.Count)
	for i, kind := range types {
		n := per
		if i < remainder {
			n++
		}
		for j := 0; j < n; j++ {
			q := models.QuestionCandidate{Kind: kind, Difficulty: difficulty}
			num := len(out) + 1
			switch kind {
			case models.QuestionMCQ:
				q.Stem = fmt.Sprintf("Question %d: which statement about the document is correct?", num)
				q.Options = []string{"Option A", "Option B", "Option C", "Option D"}
				q.CorrectAnswer = "A"
				q.Explanation = "Explanation for the multiple choice question."
			case models.QuestionFillBlank:
				q.Stem = fmt.Sprintf("Question %d: fill in the correct ___.", num)
				q.CorrectAnswer = "answer"
				q.Explanation = "Explanation for the fill in the blank question."
			default:
				q.Stem = fmt.Sprintf("Question %d: briefly answer the related question.", num)
				q.CorrectAnswer = "reference answer"
				q.Explanation = "Key points for the short answer question."
			}
			out = append(out, q)
		}
	}
	return out
}

// EvaluateAnswer scores by edit-distance similarity to the reference answer.
func (m *Mock) EvaluateAnswer(ctx context.Context, question, correctAnswer, userAnswer string) (*models.Evaluation, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	score := utils.SimilarityPercent(strings.ToLower(correctAnswer), strings.ToLower(userAnswer))
	return &models.Evaluation{Score: score, Feedback: evaluationFeedback(score)}, nil
}
