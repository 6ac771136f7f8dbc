// Package attempt runs the quiz attempt state machine: start, answer, finish.
//
// An attempt is in_progress until Finish moves it to submitted; answers can only be
// recorded while it is in progress. A user has at most one in_progress attempt per quiz.
package attempt

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/storage"
)

const fallbackPointsPerQuestion = 10

// Service implements the attempt lifecycle.
type Service struct {
	store  storage.Storage
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a logger for lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService returns an attempt service.
func NewService(store storage.Storage, opts ...Option) *Service {
	s := &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start returns the user's in_progress attempt on the quiz, creating one if there is none.
// The quiz must be owned and completed.
func (s *Service) Start(ctx context.Context, userID, quizID string) (*models.QuizAttempt, error) {
	quiz, err := s.store.GetQuiz(ctx, userID, quizID)
	if err != nil {
		return nil, err
	}
	if quiz.Status != models.QuizCompleted {
		return nil, apperr.InvalidState("quiz %s is %s and cannot be attempted", quiz.ID, quiz.Status)
	}

	if open, err := s.store.FindInProgressAttempt(ctx, userID, quizID); err != nil || open != nil {
		return open, err
	}

	a := &models.QuizAttempt{
		ID:        uuid.New().String(),
		QuizID:    quizID,
		UserID:    userID,
		Status:    models.AttemptInProgress,
		Answers:   []models.AttemptAnswer{},
		StartedAt: s.now(),
	}
	if err := s.store.CreateAttempt(ctx, a); err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			// Lost a race with a concurrent Start.
			if open, ferr := s.store.FindInProgressAttempt(ctx, userID, quizID); ferr == nil && open != nil {
				return open, nil
			}
		}
		return nil, err
	}
	if s.logger != nil {
		s.logger.Debug("attempt started", zap.String("attempt_id", a.ID), zap.String("quiz_id", quizID))
	}
	return a, nil
}

// openAttempt returns an owned attempt that is still in progress.
func (s *Service) openAttempt(ctx context.Context, userID, attemptID string) (*models.QuizAttempt, error) {
	a, err := s.store.GetAttempt(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Status != models.AttemptInProgress {
		return nil, apperr.InvalidState("attempt %s is %s", a.ID, a.Status)
	}
	return a, nil
}

// SubmitAnswer grades answer against the question and records it, replacing any earlier
// answer to the same question.
func (s *Service) SubmitAnswer(ctx context.Context, userID, attemptID, questionID, answer string) (*models.QuizAttempt, error) {
	a, err := s.openAttempt(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	q, err := s.store.GetQuestion(ctx, userID, questionID)
	if err != nil {
		return nil, err
	}
	if q.QuizID != a.QuizID {
		return nil, apperr.NotFound("question", questionID)
	}

	graded := Grade(q, answer)
	return s.store.UpdateAttempt(ctx, userID, attemptID, func(a *models.QuizAttempt) error {
		for i := range a.Answers {
			if a.Answers[i].QuestionID == questionID {
				a.Answers[i] = graded
				return nil
			}
		}
		a.Answers = append(a.Answers, graded)
		return nil
	})
}

// Grade scores one answer. Both sides are trimmed and lowercased; mcq needs equality,
// fill_blank and short_answer accept containment either way. A blank answer is wrong.
func Grade(q *models.Question, answer string) models.AttemptAnswer {
	user := strings.ToLower(strings.TrimSpace(answer))
	correct := strings.ToLower(strings.TrimSpace(q.CorrectAnswer))

	ok := false
	if user != "" && correct != "" {
		switch q.Kind {
		case models.QuestionMCQ:
			ok = user == correct
		default:
			ok = strings.Contains(user, correct) || strings.Contains(correct, user)
		}
	}

	out := models.AttemptAnswer{QuestionID: q.ID, Answer: answer, IsCorrect: ok}
	if ok {
		out.Points = q.Points
		out.Feedback = "Correct"
	} else {
		out.Feedback = "Correct answer: " + q.CorrectAnswer
	}
	return out
}

// Finish scores the attempt and moves it to submitted. A second Finish, or one racing
// another, fails with InvalidState.
func (s *Service) Finish(ctx context.Context, userID, attemptID string, timeSpent *int) (*models.QuizAttempt, error) {
	a, err := s.openAttempt(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	quiz, err := s.store.GetQuiz(ctx, userID, a.QuizID)
	if err != nil {
		return nil, err
	}

	ts := s.now()
	finished, err := s.store.UpdateAttempt(ctx, userID, attemptID, func(a *models.QuizAttempt) error {
		score := 0
		for _, ans := range a.Answers {
			score += ans.Points
		}
		total := quiz.TotalPoints
		if total <= 0 {
			total = quiz.QuestionCount * fallbackPointsPerQuestion
		}
		percentage := 0.0
		if total > 0 {
			percentage = float64(score) / float64(total) * 100
		}

		a.Status = models.AttemptSubmitted
		a.Score = score
		a.TotalPoints = total
		a.Percentage = percentage
		a.GradingMethod = models.GradingAuto
		a.SubmittedAt = &ts
		a.GradedAt = &ts
		if timeSpent != nil {
			spent := *timeSpent
			a.TimeSpent = &spent
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Info("attempt finished", zap.String("attempt_id", finished.ID), zap.Int("score", finished.Score),
			zap.Int("total", finished.TotalPoints), zap.Float64("percentage", finished.Percentage))
	}
	return finished, nil
}

// Get returns an attempt owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (*models.QuizAttempt, error) {
	return s.store.GetAttempt(ctx, userID, id)
}

// List returns the user's attempts, newest first. quizID filters when non-empty.
func (s *Service) List(ctx context.Context, userID, quizID string) ([]*models.QuizAttempt, error) {
	if quizID != "" {
		if _, err := s.store.GetQuiz(ctx, userID, quizID); err != nil {
			return nil, err
		}
	}
	return s.store.ListAttempts(ctx, userID, quizID)
}
