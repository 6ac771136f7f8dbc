package models

import "time"

// AttemptStatus is the lifecycle state of a quiz attempt.
type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
	AttemptGraded     AttemptStatus = "graded"
)

// GradingMethod records how an attempt was scored.
type GradingMethod string

const (
	GradingAuto       GradingMethod = "auto"
	GradingManual     GradingMethod = "manual"
	GradingAIAssisted GradingMethod = "ai_assisted"
)

// AttemptAnswer is the graded answer to one question. Answers are unique by QuestionID.
type AttemptAnswer struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
	IsCorrect  bool   `json:"isCorrect"`
	Points     int    `json:"points"`
	Feedback   string `json:"feedback"`
}

// QuizAttempt is one user's pass through a quiz.
type QuizAttempt struct {
	ID            string          `json:"id" db:"id"`
	QuizID        string          `json:"quizId" db:"quiz_id"`
	UserID        string          `json:"userId" db:"user_id"`
	Status        AttemptStatus   `json:"status" db:"status"`
	Answers       []AttemptAnswer `json:"answers" db:"answers"`
	Score         int             `json:"score" db:"score"`
	TotalPoints   int             `json:"totalPoints" db:"total_points"`
	Percentage    float64         `json:"percentage" db:"percentage"`
	GradingMethod GradingMethod   `json:"gradingMethod,omitempty" db:"grading_method"`
	StartedAt     time.Time       `json:"startedAt" db:"started_at"`
	SubmittedAt   *time.Time      `json:"submittedAt,omitempty" db:"submitted_at"`
	GradedAt      *time.Time      `json:"gradedAt,omitempty" db:"graded_at"`
	TimeSpent     *int            `json:"timeSpent,omitempty" db:"time_spent"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time       `json:"updatedAt" db:"updated_at"`
}
