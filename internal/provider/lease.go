package provider

import (
	"context"
	"sync"

	"github.com/hyperjump/manabu/internal/models"
)

// cached wraps a provider held in the Factory cache. Once retired it is closed as soon as
// no call is running on it.
type cached struct {
	Provider

	mu       sync.Mutex
	inflight int
	retired  bool
	closed   bool
}

func (c *cached) acquire() {
	c.mu.Lock()
	c.inflight++
	c.mu.Unlock()
}

func (c *cached) release() {
	c.mu.Lock()
	c.inflight--
	closeNow := c.retired && c.inflight == 0 && !c.closed
	if closeNow {
		c.closed = true
	}
	c.mu.Unlock()
	if closeNow {
		closeProvider(c.Provider)
	}
}

// retire marks c as dropped from the cache and closes it when idle.
func (c *cached) retire() {
	c.mu.Lock()
	c.retired = true
	closeNow := c.inflight == 0 && !c.closed
	if closeNow {
		c.closed = true
	}
	c.mu.Unlock()
	if closeNow {
		closeProvider(c.Provider)
	}
}

func (c *cached) GenerateCompletion(ctx context.Context, messages []Message) (*Completion, error) {
	c.acquire()
	defer c.release()
	return c.Provider.GenerateCompletion(ctx, messages)
}

func (c *cached) SuggestAnnotations(ctx context.Context, text string) ([]models.AnnotationSuggestion, error) {
	c.acquire()
	defer c.release()
	return c.Provider.SuggestAnnotations(ctx, text)
}

func (c *cached) GenerateQuiz(ctx context.Context, req QuizRequest) ([]models.QuestionCandidate, error) {
	c.acquire()
	defer c.release()
	return c.Provider.GenerateQuiz(ctx, req)
}

func (c *cached) EvaluateAnswer(ctx context.Context, question, correctAnswer, userAnswer string) (*models.Evaluation, error) {
	c.acquire()
	defer c.release()
	return c.Provider.EvaluateAnswer(ctx, question, correctAnswer, userAnswer)
}
