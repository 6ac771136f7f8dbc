package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/models"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAI calls an OpenAI-compatible chat completions endpoint. It serves the openai, azure
// and local provider types; the latter two set BaseURL.
type OpenAI struct {
	kind        models.ProviderType
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpc       *http.Client
}

var _ Provider = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI-compatible client. httpc may be nil.
func NewOpenAI(kind models.ProviderType, cfg models.ProviderConfig, httpc *http.Client) (*OpenAI, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" && kind != models.ProviderLocal {
		return nil, fmt.Errorf("%s: API key is empty", kind)
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		if kind != models.ProviderOpenAI {
			return nil, fmt.Errorf("%s: base URL is required", kind)
		}
		base = defaultOpenAIBaseURL
	}
	if httpc == nil {
		httpc = &http.Client{}
	}
	if cfg.Timeout > 0 {
		c := *httpc
		c.Timeout = time.Duration(cfg.Timeout) * time.Millisecond
		httpc = &c
	}
	o := &OpenAI{
		kind:        kind,
		apiKey:      key,
		baseURL:     base,
		model:       strings.TrimSpace(cfg.Model),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpc:       httpc,
	}
	if o.model == "" {
		o.model = defaultOpenAIModel
	}
	return o, nil
}

// Name implements Provider.
func (o *OpenAI) Name() string { return string(o.kind) }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// GenerateCompletion implements Provider.
func (o *OpenAI) GenerateCompletion(ctx context.Context, messages []Message) (*Completion, error) {
	body := chatRequest{Model: o.model, Messages: messages, MaxTokens: o.maxTokens}
	if o.temperature > 0 {
		t := o.temperature
		body.Temperature = &t
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Provider(apperr.ReasonUnavailable, o.Name()+" request timed out", err)
		}
		return nil, apperr.Provider(apperr.ReasonGeneric, o.Name()+" request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Provider(apperr.ReasonGeneric, o.Name()+" response could not be read", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(o.Name(), resp.StatusCode, fmt.Errorf("%s", truncateBody(raw, 512)))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, apperr.Provider(apperr.ReasonInvalidResponse, o.Name()+" returned malformed JSON", err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return nil, apperr.Provider(apperr.ReasonInvalidResponse, o.Name()+" returned an empty response", nil)
	}

	out := &Completion{Content: cr.Choices[0].Message.Content, Model: cr.Model}
	if out.Model == "" {
		out.Model = o.model
	}
	if cr.Usage != nil {
		out.Usage = &Usage{
			PromptTokens:     cr.Usage.PromptTokens,
			CompletionTokens: cr.Usage.CompletionTokens,
			TotalTokens:      cr.Usage.TotalTokens,
		}
	}
	return out, nil
}

func truncateBody(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// SuggestAnnotations implements Provider.
func (o *OpenAI) SuggestAnnotations(ctx context.Context, text string) ([]models.AnnotationSuggestion, error) {
	return completionSuggest(ctx, o, text)
}

// GenerateQuiz implements Provider.
func (o *OpenAI) GenerateQuiz(ctx context.Context, req QuizRequest) ([]models.QuestionCandidate, error) {
	return completionQuiz(ctx, o, req)
}

// EvaluateAnswer implements Provider.
func (o *OpenAI) EvaluateAnswer(ctx context.Context, question, correctAnswer, userAnswer string) (*models.Evaluation, error) {
	return completionEvaluate(ctx, o, question, correctAnswer, userAnswer)
}
