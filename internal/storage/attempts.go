package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/models"
)

const attemptColumns = `id, quiz_id, user_id, status, answers, score, total_points, percentage, grading_method,
	started_at, submitted_at, graded_at, time_spent, created_at, updated_at`

func scanAttempt(row rowScanner) (*models.QuizAttempt, error) {
	var a models.QuizAttempt
	var answers, grading sql.NullString
	var submitted, graded sql.NullTime
	var spent sql.NullInt64
	err := row.Scan(&a.ID, &a.QuizID, &a.UserID, &a.Status, &answers, &a.Score, &a.TotalPoints, &a.Percentage,
		&grading, &a.StartedAt, &submitted, &graded, &spent, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.GradingMethod = models.GradingMethod(grading.String)
	a.SubmittedAt = timePtr(submitted)
	a.GradedAt = timePtr(graded)
	a.TimeSpent = intPtr(spent)
	if err := unmarshalJSON(answers, &a.Answers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal answers: %w", err)
	}
	if a.Answers == nil {
		a.Answers = []models.AttemptAnswer{}
	}
	return &a, nil
}

// CreateAttempt inserts a new attempt.
func (s *SQLStorage) CreateAttempt(ctx context.Context, a *models.QuizAttempt) error {
	answersJSON, err := marshalJSON(a.Answers)
	if err != nil {
		return fmt.Errorf("failed to marshal answers: %w", err)
	}
	ts := now()
	a.CreatedAt = ts
	a.UpdatedAt = ts
	if a.StartedAt.IsZero() {
		a.StartedAt = ts
	}
	_, err = s.db.ExecContext(ctx, s.q(
		`INSERT INTO quiz_attempts (`+attemptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.QuizID, a.UserID, a.Status, answersJSON, a.Score, a.TotalPoints, a.Percentage, a.GradingMethod,
		a.StartedAt, nullTime(a.SubmittedAt), nullTime(a.GradedAt), nullInt(a.TimeSpent), a.CreatedAt, a.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.Conflict("attempt already in progress for quiz %s", a.QuizID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

// GetAttempt returns an attempt owned by userID.
func (s *SQLStorage) GetAttempt(ctx context.Context, userID, id string) (*models.QuizAttempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, s.q(
		`SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = ? AND user_id = ?`), id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("attempt", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return a, nil
}

// FindInProgressAttempt returns the user's open attempt on quizID, or nil.
func (s *SQLStorage) FindInProgressAttempt(ctx context.Context, userID, quizID string) (*models.QuizAttempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, s.q(
		`SELECT `+attemptColumns+` FROM quiz_attempts WHERE quiz_id = ? AND user_id = ? AND status = ?`),
		quizID, userID, models.AttemptInProgress))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find attempt: %w", err)
	}
	return a, nil
}

// UpdateAttempt applies fn to the user's in_progress attempt and stores the result. The read
// and the write share one transaction with the attempt locked, so concurrent updates to one
// attempt apply one after another. A finished attempt gives InvalidState without calling fn.
func (s *SQLStorage) UpdateAttempt(ctx context.Context, userID, id string, fn func(a *models.QuizAttempt) error) (*models.QuizAttempt, error) {
	var out *models.QuizAttempt
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.lockScope(ctx, tx, "attempt:"+id); err != nil {
			return fmt.Errorf("failed to lock attempt: %w", err)
		}
		a, err := scanAttempt(tx.QueryRowContext(ctx, s.q(
			`SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = ? AND user_id = ?`), id, userID))
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("attempt", id)
		}
		if err != nil {
			return fmt.Errorf("failed to get attempt: %w", err)
		}
		if a.Status != models.AttemptInProgress {
			return apperr.InvalidState("attempt %s is %s", a.ID, a.Status)
		}
		if err := fn(a); err != nil {
			return err
		}

		answersJSON, err := marshalJSON(a.Answers)
		if err != nil {
			return fmt.Errorf("failed to marshal answers: %w", err)
		}
		a.UpdatedAt = now()
		_, err = tx.ExecContext(ctx, s.q(
			`UPDATE quiz_attempts SET status = ?, answers = ?, score = ?, total_points = ?, percentage = ?,
			 grading_method = ?, submitted_at = ?, graded_at = ?, time_spent = ?, updated_at = ?
			 WHERE id = ? AND user_id = ?`),
			a.Status, answersJSON, a.Score, a.TotalPoints, a.Percentage, a.GradingMethod, nullTime(a.SubmittedAt),
			nullTime(a.GradedAt), nullInt(a.TimeSpent), a.UpdatedAt, a.ID, a.UserID)
		if err != nil {
			return fmt.Errorf("failed to update attempt: %w", err)
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListAttempts returns the user's attempts, newest first. quizID filters when non-empty.
func (s *SQLStorage) ListAttempts(ctx context.Context, userID, quizID string) ([]*models.QuizAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM quiz_attempts WHERE user_id = ?`
	args := []any{userID}
	if quizID != "" {
		query += ` AND quiz_id = ?`
		args = append(args, quizID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var list []*models.QuizAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
