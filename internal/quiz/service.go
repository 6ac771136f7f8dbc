// Package quiz generates question sets from documents through an LLM provider and manages
// the resulting quizzes.
//
// Generation is asynchronous: Generate persists a quiz in the generating state and queues a
// job; the job moves it to completed or failed. Callers poll Get to observe the outcome.
package quiz

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/jobs"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/provider"
	"github.com/hyperjump/manabu/internal/storage"
)

const (
	defaultPointsPerQuestion = 10
	defaultMaxQuestions      = 50
)

// ProviderSource resolves a provider id (empty for the default) to a Provider.
type ProviderSource interface {
	Get(ctx context.Context, providerID string) (provider.Provider, error)
}

// GenerateRequest describes a quiz to generate.
type GenerateRequest struct {
	DocumentID    string              `json:"documentId"`
	QuestionCount int                 `json:"questionCount"`
	QuestionType  models.QuestionKind `json:"questionType"`
	Difficulty    models.Difficulty   `json:"difficulty"`
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	ProviderID    string              `json:"providerId"`
}

// Service implements quiz generation, CRUD and answer evaluation.
type Service struct {
	store     storage.Storage
	providers ProviderSource
	jobs      jobs.Submitter
	logger    *zap.Logger
	points    int
	maxCount  int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a logger for generation events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithPointsPerQuestion sets the points assigned to each generated question.
func WithPointsPerQuestion(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.points = n
		}
	}
}

// WithMaxQuestions sets the largest question count a request may ask for.
func WithMaxQuestions(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxCount = n
		}
	}
}

// NewService returns a quiz service. Register Handler() with the job runner before
// calling Generate.
func NewService(store storage.Storage, providers ProviderSource, submitter jobs.Submitter, opts ...Option) *Service {
	s := &Service{
		store:     store,
		providers: providers,
		jobs:      submitter,
		points:    defaultPointsPerQuestion,
		maxCount:  defaultMaxQuestions,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validKind(k models.QuestionKind) bool {
	switch k {
	case models.QuestionMCQ, models.QuestionFillBlank, models.QuestionShortAnswer:
		return true
	}
	return false
}

func validDifficulty(d models.Difficulty) bool {
	switch d {
	case models.DifficultyEasy, models.DifficultyMedium, models.DifficultyHard:
		return true
	}
	return false
}

// Generate validates req, stores a generating quiz and queues its generation. The returned
// quiz has no questions yet.
func (s *Service) Generate(ctx context.Context, userID string, req GenerateRequest) (*models.Quiz, error) {
	if !validKind(req.QuestionType) {
		return nil, apperr.Validation("unknown question type: %q", req.QuestionType)
	}
	if req.QuestionCount < 1 || req.QuestionCount > s.maxCount {
		return nil, apperr.Validation("question count must be between 1 and %d", s.maxCount)
	}
	if req.Difficulty == "" {
		req.Difficulty = models.DifficultyMedium
	}
	if !validDifficulty(req.Difficulty) {
		return nil, apperr.Validation("unknown difficulty: %q", req.Difficulty)
	}

	doc, err := s.store.GetDocument(ctx, userID, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if !models.DocumentIsCompleted(doc) {
		return nil, apperr.InvalidState("document %s is %s; quizzes need a processed document", doc.ID, doc.Status)
	}

	focus, err := s.store.ListAnnotationsByDocument(ctx, userID, doc.ID, models.AnnotationFocus)
	if err != nil {
		return nil, err
	}
	content, source := selectContent(doc, focus)

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = doc.OriginalFilename + " - Generated quiz"
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = describeSource(source, req.QuestionCount, req.QuestionType)
	}

	quiz := &models.Quiz{
		ID:           uuid.New().String(),
		DocumentID:   doc.ID,
		UserID:       userID,
		Title:        title,
		Description:  description,
		Status:       models.QuizGenerating,
		QuestionType: req.QuestionType,
		Difficulty:   req.Difficulty,
		Questions:    []models.Question{},
		Metadata: map[string]interface{}{
			"contentSource":  source,
			"requestedCount": req.QuestionCount,
		},
	}
	if req.ProviderID != "" {
		quiz.Metadata["providerId"] = req.ProviderID
	}
	if err := s.store.CreateQuiz(ctx, quiz); err != nil {
		return nil, err
	}

	job := jobs.Job{
		Type: GenerateJobType,
		ID:   quiz.ID,
		Payload: generatePayload{
			Content:    content,
			Count:      req.QuestionCount,
			Kind:       req.QuestionType,
			Difficulty: req.Difficulty,
			ProviderID: req.ProviderID,
		},
	}
	if err := s.jobs.Submit(ctx, job); err != nil {
		_ = s.store.FailQuiz(context.Background(), quiz.ID, "could not queue generation: "+err.Error())
		return nil, fmt.Errorf("failed to queue quiz generation: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("quiz generation queued", zap.String("quiz_id", quiz.ID), zap.String("document_id", doc.ID),
			zap.String("source", source), zap.Int("count", req.QuestionCount))
	}
	return quiz, nil
}

// selectContent joins the focus annotations in offset order, or falls back to the whole
// canonical text when there are none.
func selectContent(doc *models.Document, focus []*models.Annotation) (content, source string) {
	if len(focus) == 0 {
		return doc.CanonicalText, models.ContentFromFullText
	}
	parts := make([]string, len(focus))
	for i, a := range focus {
		parts[i] = a.Text
	}
	return strings.Join(parts, "\n\n"), models.ContentFromAnnotations
}

func describeSource(source string, count int, kind models.QuestionKind) string {
	from := "full document text"
	if source == models.ContentFromAnnotations {
		from = "focus annotations"
	}
	return fmt.Sprintf("Generated from %s: %d %s questions", from, count, kind)
}

// List returns the user's quizzes, newest first. documentID filters when non-empty.
func (s *Service) List(ctx context.Context, userID, documentID string) ([]*models.Quiz, error) {
	if documentID != "" {
		if _, err := s.store.GetDocument(ctx, userID, documentID); err != nil {
			return nil, err
		}
	}
	return s.store.ListQuizzes(ctx, userID, documentID)
}

// Get returns a quiz with its question rows.
func (s *Service) Get(ctx context.Context, userID, id string) (*models.Quiz, error) {
	return s.store.GetQuiz(ctx, userID, id)
}

// Update changes the title and description. Nil fields keep their value.
func (s *Service) Update(ctx context.Context, userID, id string, title, description *string) (*models.Quiz, error) {
	quiz, err := s.store.GetQuiz(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if title != nil {
		t := strings.TrimSpace(*title)
		if t == "" {
			return nil, apperr.Validation("title cannot be empty")
		}
		quiz.Title = t
	}
	if description != nil {
		quiz.Description = *description
	}
	if err := s.store.UpdateQuizDetails(ctx, userID, id, quiz.Title, quiz.Description); err != nil {
		return nil, err
	}
	return s.store.GetQuiz(ctx, userID, id)
}

// Remove deletes a quiz with its questions and attempts.
func (s *Service) Remove(ctx context.Context, userID, id string) error {
	return s.store.DeleteQuiz(ctx, userID, id)
}

// EvaluateAnswer asks the default provider to score answer against the question's
// reference answer. Provider failures are returned as provider errors.
func (s *Service) EvaluateAnswer(ctx context.Context, userID, questionID, answer string) (*models.Evaluation, error) {
	q, err := s.store.GetQuestion(ctx, userID, questionID)
	if err != nil {
		return nil, err
	}
	return s.evaluateWith(ctx, q, answer)
}

func (s *Service) evaluateWith(ctx context.Context, q *models.Question, answer string) (*models.Evaluation, error) {
	p, err := s.providers.Get(ctx, "")
	if err != nil {
		return nil, err
	}
	ev, err := p.EvaluateAnswer(ctx, q.Stem, q.CorrectAnswer, answer)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindProvider {
			return nil, err
		}
		return nil, apperr.Provider(apperr.ReasonGeneric, "answer evaluation failed", err)
	}
	return ev, nil
}
