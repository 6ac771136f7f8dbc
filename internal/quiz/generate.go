package quiz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/jobs"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/provider"
)

// GenerateJobType is the job type of quiz generation.
const GenerateJobType = "quiz.generate"

// generatePayload carries the prompt inputs from Generate to the job.
type generatePayload struct {
	Content    string
	Count      int
	Kind       models.QuestionKind
	Difficulty models.Difficulty
	ProviderID string
}

// generateHandler runs quiz generation jobs for a Service.
type generateHandler struct {
	s *Service
}

var _ jobs.Handler = generateHandler{}

// Handler returns the job handler that completes queued generations.
func (s *Service) Handler() jobs.Handler {
	return generateHandler{s: s}
}

func (h generateHandler) Type() string { return GenerateJobType }

// Run asks the provider for questions, parses them and completes the quiz.
func (h generateHandler) Run(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(generatePayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	p, err := h.s.providers.Get(ctx, payload.ProviderID)
	if err != nil {
		return fmt.Errorf("failed to resolve provider: %w", err)
	}

	prompt := provider.BuildQuizPrompt(provider.QuizRequest{
		Content:       payload.Content,
		QuestionTypes: []models.QuestionKind{payload.Kind},
		Count:         payload.Count,
		Difficulty:    payload.Difficulty,
	})
	resp, err := p.GenerateCompletion(ctx, []provider.Message{{Role: provider.RoleUser, Content: prompt}})
	if err != nil {
		return err
	}

	candidates := ParseQuestions(resp.Content, payload.Kind)
	if len(candidates) == 0 {
		return errors.New("no questions could be parsed from the provider response")
	}
	if len(candidates) > payload.Count {
		candidates = candidates[:payload.Count]
	}

	questions := make([]models.Question, len(candidates))
	for i, c := range candidates {
		difficulty := c.Difficulty
		if !validDifficulty(difficulty) {
			difficulty = payload.Difficulty
		}
		questions[i] = models.Question{
			ID:            uuid.New().String(),
			QuizID:        job.ID,
			Kind:          c.Kind,
			Stem:          c.Stem,
			Options:       c.Options,
			CorrectAnswer: c.CorrectAnswer,
			Explanation:   c.Explanation,
			Difficulty:    difficulty,
			Points:        h.s.points,
			Order:         i + 1,
		}
	}

	quiz, err := h.s.store.CompleteQuiz(ctx, job.ID, questions)
	if err != nil {
		return err
	}
	if h.s.logger != nil {
		h.s.logger.Info("quiz generated", zap.String("quiz_id", quiz.ID), zap.String("provider", p.Name()),
			zap.Int("questions", quiz.QuestionCount), zap.Int("total_points", quiz.TotalPoints))
	}
	return nil
}

// Fail marks the quiz failed with err's message.
func (h generateHandler) Fail(ctx context.Context, job jobs.Job, err error) {
	if ferr := h.s.store.FailQuiz(ctx, job.ID, err.Error()); ferr != nil && h.s.logger != nil {
		h.s.logger.Error("failed to mark quiz failed", zap.String("quiz_id", job.ID), zap.Error(ferr))
	}
	if h.s.logger != nil {
		h.s.logger.Warn("quiz generation failed", zap.String("quiz_id", job.ID), zap.Error(err))
	}
}
