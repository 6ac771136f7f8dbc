// Package provider abstracts the LLM backends used for annotation suggestions, quiz
// generation and answer evaluation.
//
// Implementations are independent types behind the Provider interface: Mock works offline
// with deterministic output, Gemini and OpenAI call their vendor APIs. Factory picks one per
// configured provider row and caches it.
package provider

import (
	"context"
	"strings"

	"github.com/hyperjump/manabu/internal/models"
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn sent to a provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage reports token counts when the backend returns them.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Completion is a provider's raw text reply.
type Completion struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
}

// QuizRequest asks a provider for a question set over Content.
type QuizRequest struct {
	Content       string
	QuestionTypes []models.QuestionKind
	Count         int
	Difficulty    models.Difficulty
}

// Provider is the capability surface every LLM backend implements.
type Provider interface {
	Name() string
	GenerateCompletion(ctx context.Context, messages []Message) (*Completion, error)
	SuggestAnnotations(ctx context.Context, text string) ([]models.AnnotationSuggestion, error)
	GenerateQuiz(ctx context.Context, req QuizRequest) ([]models.QuestionCandidate, error)
	EvaluateAnswer(ctx context.Context, question, correctAnswer, userAnswer string) (*models.Evaluation, error)
}

// NormalizeKind maps the question type spellings providers return onto QuestionKind.
func NormalizeKind(s string) (models.QuestionKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mcq", "multiple_choice", "multiple-choice", "choice":
		return models.QuestionMCQ, true
	case "fill", "fill_blank", "fill-blank", "fill_in_blank", "blank":
		return models.QuestionFillBlank, true
	case "short", "short_answer", "short-answer":
		return models.QuestionShortAnswer, true
	default:
		return "", false
	}
}

// evaluationFeedback returns the feedback band for a 0..100 score.
func evaluationFeedback(score int) string {
	switch {
	case score >= 90:
		return "Excellent, the answer is accurate."
	case score >= 70:
		return "Mostly correct, with room for improvement."
	case score >= 50:
		return "Partially correct; review the related material."
	default:
		return "Not accurate enough; study the key points again."
	}
}
