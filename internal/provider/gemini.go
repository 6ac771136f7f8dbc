package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/models"
)

const defaultGeminiModel = "gemini-1.5-flash"

// Gemini calls Google's Gemini API through the generative-ai-go client.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

var _ Provider = (*Gemini)(nil)

// NewGemini creates a Gemini client from cfg. cfg.BaseURL overrides the API endpoint.
func NewGemini(ctx context.Context, cfg models.ProviderConfig) (*Gemini, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, fmt.Errorf("gemini: API key is empty")
	}
	opts := []option.ClientOption{option.WithAPIKey(key)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithEndpoint(base))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	g := &Gemini{
		client:      client,
		model:       strings.TrimSpace(cfg.Model),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     time.Duration(cfg.Timeout) * time.Millisecond,
	}
	if g.model == "" {
		g.model = defaultGeminiModel
	}
	return g, nil
}

// Name implements Provider.
func (g *Gemini) Name() string { return string(models.ProviderGemini) }

// Close releases the client's connections.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// GenerateCompletion sends system messages as the system instruction and the remaining
// turns as one prompt.
func (g *Gemini) GenerateCompletion(ctx context.Context, messages []Message) (*Completion, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	m := g.client.GenerativeModel(g.model)
	if g.temperature > 0 {
		m.SetTemperature(float32(g.temperature))
	}
	if g.maxTokens > 0 {
		m.SetMaxOutputTokens(int32(g.maxTokens))
	}

	var system []genai.Part
	turns := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, genai.Text(msg.Content))
			continue
		}
		turns = append(turns, msg)
	}
	if len(system) > 0 {
		m.SystemInstruction = &genai.Content{Parts: system}
	}
	prompt := formatMessages(turns)
	if len(turns) == 1 {
		prompt = turns[0].Content
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, classifyGemini(err)
	}
	text := firstText(resp)
	if text == "" {
		return nil, apperr.Provider(apperr.ReasonInvalidResponse, "gemini returned an empty response", nil)
	}

	out := &Completion{Content: text, Model: g.model}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = &Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

// SuggestAnnotations implements Provider.
func (g *Gemini) SuggestAnnotations(ctx context.Context, text string) ([]models.AnnotationSuggestion, error) {
	return completionSuggest(ctx, g, text)
}

// GenerateQuiz implements Provider.
func (g *Gemini) GenerateQuiz(ctx context.Context, req QuizRequest) ([]models.QuestionCandidate, error) {
	return completionQuiz(ctx, g, req)
}

// EvaluateAnswer implements Provider.
func (g *Gemini) EvaluateAnswer(ctx context.Context, question, correctAnswer, userAnswer string) (*models.Evaluation, error) {
	return completionEvaluate(ctx, g, question, correctAnswer, userAnswer)
}
