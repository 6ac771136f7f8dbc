package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/models"
)

const quizColumns = `id, document_id, user_id, title, description, status, question_type, difficulty,
	question_count, questions, total_points, generation_error, metadata, created_at, updated_at`

const questionColumns = `id, quiz_id, kind, stem, options, correct_answer, explanation, difficulty, points, question_order`

func scanQuiz(row rowScanner) (*models.Quiz, error) {
	var q models.Quiz
	var description, questions, genErr, metadata sql.NullString
	err := row.Scan(&q.ID, &q.DocumentID, &q.UserID, &q.Title, &description, &q.Status, &q.QuestionType,
		&q.Difficulty, &q.QuestionCount, &questions, &q.TotalPoints, &genErr, &metadata, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	q.Description = description.String
	q.GenerationError = genErr.String
	if err := unmarshalJSON(questions, &q.Questions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal questions: %w", err)
	}
	if err := unmarshalJSON(metadata, &q.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &q, nil
}

func scanQuestion(row rowScanner) (models.Question, error) {
	var q models.Question
	var options, explanation, difficulty sql.NullString
	err := row.Scan(&q.ID, &q.QuizID, &q.Kind, &q.Stem, &options, &q.CorrectAnswer, &explanation, &difficulty,
		&q.Points, &q.Order)
	if err != nil {
		return q, err
	}
	q.Explanation = explanation.String
	q.Difficulty = models.Difficulty(difficulty.String)
	if err := unmarshalJSON(options, &q.Options); err != nil {
		return q, fmt.Errorf("failed to unmarshal options: %w", err)
	}
	return q, nil
}

// CreateQuiz inserts a quiz header.
func (s *SQLStorage) CreateQuiz(ctx context.Context, quiz *models.Quiz) error {
	questionsJSON, err := marshalJSON(quiz.Questions)
	if err != nil {
		return fmt.Errorf("failed to marshal questions: %w", err)
	}
	metadataJSON, err := marshalJSON(quiz.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	ts := now()
	quiz.CreatedAt = ts
	quiz.UpdatedAt = ts
	_, err = s.db.ExecContext(ctx, s.q(
		`INSERT INTO quizzes (`+quizColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		quiz.ID, quiz.DocumentID, quiz.UserID, quiz.Title, quiz.Description, quiz.Status, quiz.QuestionType,
		quiz.Difficulty, quiz.QuestionCount, questionsJSON, quiz.TotalPoints, quiz.GenerationError, metadataJSON,
		quiz.CreatedAt, quiz.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert quiz: %w", err)
	}
	return nil
}

// GetQuiz returns a quiz owned by userID with its question rows.
func (s *SQLStorage) GetQuiz(ctx context.Context, userID, id string) (*models.Quiz, error) {
	quiz, err := scanQuiz(s.db.QueryRowContext(ctx, s.q(
		`SELECT `+quizColumns+` FROM quizzes WHERE id = ? AND user_id = ?`), id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("quiz", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}
	return s.withQuestionRows(ctx, quiz)
}

// GetQuizByID returns a quiz regardless of owner.
func (s *SQLStorage) GetQuizByID(ctx context.Context, id string) (*models.Quiz, error) {
	quiz, err := scanQuiz(s.db.QueryRowContext(ctx, s.q(
		`SELECT `+quizColumns+` FROM quizzes WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("quiz", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}
	return s.withQuestionRows(ctx, quiz)
}

// Question rows are authoritative once they exist.
func (s *SQLStorage) withQuestionRows(ctx context.Context, quiz *models.Quiz) (*models.Quiz, error) {
	questions, err := s.ListQuestions(ctx, quiz.ID)
	if err != nil {
		return nil, err
	}
	if len(questions) > 0 {
		quiz.Questions = questions
	}
	if quiz.Questions == nil {
		quiz.Questions = []models.Question{}
	}
	return quiz, nil
}

// UpdateQuizDetails changes the title and description.
func (s *SQLStorage) UpdateQuizDetails(ctx context.Context, userID, id, title, description string) error {
	result, err := s.db.ExecContext(ctx, s.q(
		`UPDATE quizzes SET title = ?, description = ?, updated_at = ? WHERE id = ? AND user_id = ?`),
		title, description, now(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to update quiz: %w", err)
	}
	return expectAffected(result, "quiz", id)
}

// CompleteQuiz replaces the quiz's questions, stores the totals and marks it completed.
func (s *SQLStorage) CompleteQuiz(ctx context.Context, quizID string, questions []models.Question) (*models.Quiz, error) {
	total := 0
	for i := range questions {
		questions[i].QuizID = quizID
		total += questions[i].Points
	}
	questionsJSON, err := marshalJSON(questions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal questions: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM questions WHERE quiz_id = ?`), quizID); err != nil {
			return fmt.Errorf("failed to clear questions: %w", err)
		}
		for _, q := range questions {
			optionsJSON, err := marshalJSON(q.Options)
			if err != nil {
				return fmt.Errorf("failed to marshal options: %w", err)
			}
			_, err = tx.ExecContext(ctx, s.q(
				`INSERT INTO questions (`+questionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				q.ID, q.QuizID, q.Kind, q.Stem, optionsJSON, q.CorrectAnswer, q.Explanation, q.Difficulty,
				q.Points, q.Order)
			if err != nil {
				return fmt.Errorf("failed to insert question: %w", err)
			}
		}
		result, err := tx.ExecContext(ctx, s.q(
			`UPDATE quizzes SET status = ?, questions = ?, question_count = ?, total_points = ?,
			 generation_error = '', updated_at = ? WHERE id = ?`),
			models.QuizCompleted, questionsJSON, len(questions), total, now(), quizID)
		if err != nil {
			return fmt.Errorf("failed to complete quiz: %w", err)
		}
		return expectAffected(result, "quiz", quizID)
	})
	if err != nil {
		return nil, err
	}
	return s.GetQuizByID(ctx, quizID)
}

// FailQuiz marks the quiz failed with a message.
func (s *SQLStorage) FailQuiz(ctx context.Context, quizID, generationError string) error {
	result, err := s.db.ExecContext(ctx, s.q(
		`UPDATE quizzes SET status = ?, generation_error = ?, updated_at = ? WHERE id = ?`),
		models.QuizFailed, generationError, now(), quizID)
	if err != nil {
		return fmt.Errorf("failed to mark quiz failed: %w", err)
	}
	return expectAffected(result, "quiz", quizID)
}

// DeleteQuiz removes a quiz with its questions and attempts.
func (s *SQLStorage) DeleteQuiz(ctx context.Context, userID, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRowContext(ctx, s.q(`SELECT user_id FROM quizzes WHERE id = ?`), id).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != userID) {
			return apperr.NotFound("quiz", id)
		}
		if err != nil {
			return fmt.Errorf("failed to load quiz: %w", err)
		}
		for _, stmt := range []string{
			`DELETE FROM quiz_attempts WHERE quiz_id = ?`,
			`DELETE FROM questions WHERE quiz_id = ?`,
			`DELETE FROM quizzes WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, s.q(stmt), id); err != nil {
				return fmt.Errorf("failed to delete quiz: %w", err)
			}
		}
		return nil
	})
}

// ListQuizzes returns the user's quizzes, newest first, without question rows.
func (s *SQLStorage) ListQuizzes(ctx context.Context, userID, documentID string) ([]*models.Quiz, error) {
	query := `SELECT ` + quizColumns + ` FROM quizzes WHERE user_id = ?`
	args := []any{userID}
	if documentID != "" {
		query += ` AND document_id = ?`
		args = append(args, documentID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list quizzes: %w", err)
	}
	defer rows.Close()

	var list []*models.Quiz
	for rows.Next() {
		quiz, err := scanQuiz(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quiz: %w", err)
		}
		list = append(list, quiz)
	}
	return list, rows.Err()
}

// ListQuestions returns a quiz's question rows by order.
func (s *SQLStorage) ListQuestions(ctx context.Context, quizID string) ([]models.Question, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT `+questionColumns+` FROM questions WHERE quiz_id = ? ORDER BY question_order ASC`), quizID)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var list []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		list = append(list, q)
	}
	return list, rows.Err()
}

// GetQuestion returns a question whose quiz is owned by userID.
func (s *SQLStorage) GetQuestion(ctx context.Context, userID, questionID string) (*models.Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx, s.q(
		`SELECT q.id, q.quiz_id, q.kind, q.stem, q.options, q.correct_answer, q.explanation, q.difficulty,
			q.points, q.question_order
		 FROM questions q JOIN quizzes z ON z.id = q.quiz_id
		 WHERE q.id = ? AND z.user_id = ?`), questionID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("question", questionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return &q, nil
}

// CountQuizzes returns the number of quizzes across all users.
func (s *SQLStorage) CountQuizzes(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM quizzes`)
}
