package models

import "time"

// QuizStatus is the generation state of a quiz.
type QuizStatus string

const (
	QuizGenerating QuizStatus = "generating"
	QuizCompleted  QuizStatus = "completed"
	QuizFailed     QuizStatus = "failed"
)

// QuestionKind is the answer format of a question.
type QuestionKind string

const (
	QuestionMCQ         QuestionKind = "mcq"
	QuestionFillBlank   QuestionKind = "fill_blank"
	QuestionShortAnswer QuestionKind = "short_answer"
)

// Difficulty of generated questions.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Content sources recorded in quiz metadata.
const (
	ContentFromAnnotations = "annotations"
	ContentFromFullText    = "full_text"
)

// Question is one persisted quiz question.
type Question struct {
	ID            string       `json:"id" db:"id"`
	QuizID        string       `json:"quizId" db:"quiz_id"`
	Kind          QuestionKind `json:"kind" db:"kind"`
	Stem          string       `json:"stem" db:"stem"`
	Options       []string     `json:"options,omitempty" db:"options"`
	CorrectAnswer string       `json:"correctAnswer" db:"correct_answer"`
	Explanation   string       `json:"explanation,omitempty" db:"explanation"`
	Difficulty    Difficulty   `json:"difficulty,omitempty" db:"difficulty"`
	Points        int          `json:"points" db:"points"`
	Order         int          `json:"order" db:"question_order"`
}

// Quiz is a generated question set over one document. Questions is a denormalized
// view of the persisted question rows and must not be read until Status is completed.
type Quiz struct {
	ID              string                 `json:"id" db:"id"`
	DocumentID      string                 `json:"documentId" db:"document_id"`
	UserID          string                 `json:"userId" db:"user_id"`
	Title           string                 `json:"title" db:"title"`
	Description     string                 `json:"description" db:"description"`
	Status          QuizStatus             `json:"status" db:"status"`
	QuestionType    QuestionKind           `json:"questionType" db:"question_type"`
	Difficulty      Difficulty             `json:"difficulty" db:"difficulty"`
	QuestionCount   int                    `json:"questionCount" db:"question_count"`
	Questions       []Question             `json:"questions" db:"questions"`
	TotalPoints     int                    `json:"totalPoints" db:"total_points"`
	GenerationError string                 `json:"generationError,omitempty" db:"generation_error"`
	Metadata        map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt       time.Time              `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time              `json:"updatedAt" db:"updated_at"`
}

// QuestionCandidate is a question recovered from a provider response before persistence.
type QuestionCandidate struct {
	Kind          QuestionKind `json:"kind"`
	Stem          string       `json:"question"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correctAnswer"`
	Explanation   string       `json:"explanation,omitempty"`
	Difficulty    Difficulty   `json:"difficulty,omitempty"`
}

// Evaluation is a provider-scored answer.
type Evaluation struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}
