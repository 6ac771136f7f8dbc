// Package storage defines the persistence interfaces for documents, annotations, quizzes,
// attempts and providers.
//
// Every user-scoped lookup takes the caller's user id and reports a missing row and a row
// owned by someone else the same way: an apperr NotFound error.
package storage

import (
	"context"

	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/offset"
)

// DocumentRepository persists uploaded documents and their processing results.
type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, userID, id string) (*models.Document, error)
	// GetDocumentByID loads a document without an ownership check. Background jobs only.
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	RenameDocument(ctx context.Context, userID, id, originalFilename string) error
	// SetDocumentStatus records a processing state transition and optional error message.
	SetDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, processingError string) error
	// CompleteDocument stores the canonical text, blocks and metadata and marks the
	// document completed.
	CompleteDocument(ctx context.Context, id, canonicalText string, blocks []models.Block, metadata map[string]interface{}) error
	// DeleteDocument removes a document and everything derived from it.
	DeleteDocument(ctx context.Context, userID, id string) error
	ListDocuments(ctx context.Context, userID string, offset, limit int) ([]*models.Document, int64, error)
	// SearchDocuments matches the filename or canonical text with a substring match.
	SearchDocuments(ctx context.Context, userID, query string, offset, limit int) ([]*models.Document, int64, error)
	DocumentStats(ctx context.Context, userID string) (*models.DocumentStats, error)
	CountDocuments(ctx context.Context) (int64, error)
}

// AnnotationRepository persists annotations and enforces coverage replacement.
type AnnotationRepository interface {
	// ReplaceOverlapping deletes every annotation in a's (document, user) scope whose range
	// overlaps a and inserts a, in one transaction. It returns the evicted ids.
	ReplaceOverlapping(ctx context.Context, a *models.Annotation) ([]string, error)
	// UpdateReplacingOverlapping updates a and evicts other annotations it now overlaps,
	// in one transaction.
	UpdateReplacingOverlapping(ctx context.Context, a *models.Annotation) ([]string, error)
	GetAnnotation(ctx context.Context, userID, id string) (*models.Annotation, error)
	FindOverlapping(ctx context.Context, userID, documentID string, r offset.Range) ([]*models.Annotation, error)
	DeleteAnnotation(ctx context.Context, userID, id string) error
	DeleteAnnotationsByDocument(ctx context.Context, userID, documentID string) (int64, error)
	// ListAnnotationsByDocument orders by start offset ascending. kind filters when non-empty.
	ListAnnotationsByDocument(ctx context.Context, userID, documentID string, kind models.AnnotationKind) ([]*models.Annotation, error)
	// ListAnnotations orders by creation time descending.
	ListAnnotations(ctx context.Context, userID string) ([]*models.Annotation, error)
	CountAnnotations(ctx context.Context) (int64, error)
}

// QuizRepository persists quizzes and their question rows.
type QuizRepository interface {
	CreateQuiz(ctx context.Context, quiz *models.Quiz) error
	// GetQuiz loads a quiz with its question rows.
	GetQuiz(ctx context.Context, userID, id string) (*models.Quiz, error)
	GetQuizByID(ctx context.Context, id string) (*models.Quiz, error)
	UpdateQuizDetails(ctx context.Context, userID, id, title, description string) error
	// CompleteQuiz inserts questions, syncs the denormalized questions view and totals,
	// and marks the quiz completed, in one transaction.
	CompleteQuiz(ctx context.Context, quizID string, questions []models.Question) (*models.Quiz, error)
	FailQuiz(ctx context.Context, quizID, generationError string) error
	DeleteQuiz(ctx context.Context, userID, id string) error
	// ListQuizzes orders by creation time descending. documentID filters when non-empty.
	ListQuizzes(ctx context.Context, userID, documentID string) ([]*models.Quiz, error)
	ListQuestions(ctx context.Context, quizID string) ([]models.Question, error)
	// GetQuestion loads a question by id, scoped to the quiz owner.
	GetQuestion(ctx context.Context, userID, questionID string) (*models.Question, error)
	CountQuizzes(ctx context.Context) (int64, error)
}

// AttemptRepository persists quiz attempts.
type AttemptRepository interface {
	// CreateAttempt returns an apperr Conflict error when the user already has an
	// in_progress attempt for the quiz.
	CreateAttempt(ctx context.Context, a *models.QuizAttempt) error
	GetAttempt(ctx context.Context, userID, id string) (*models.QuizAttempt, error)
	// FindInProgressAttempt returns nil, nil when there is none.
	FindInProgressAttempt(ctx context.Context, userID, quizID string) (*models.QuizAttempt, error)
	// UpdateAttempt runs fn on the attempt under a lock and stores the result if the attempt
	// is still in_progress; otherwise InvalidState.
	UpdateAttempt(ctx context.Context, userID, id string, fn func(a *models.QuizAttempt) error) (*models.QuizAttempt, error)
	ListAttempts(ctx context.Context, userID, quizID string) ([]*models.QuizAttempt, error)
}

// ProviderRepository persists LLM provider configurations.
type ProviderRepository interface {
	// CreateProvider returns an apperr Conflict error when the name is taken.
	CreateProvider(ctx context.Context, p *models.Provider) error
	GetProvider(ctx context.Context, id string) (*models.Provider, error)
	UpdateProvider(ctx context.Context, p *models.Provider) error
	DeleteProvider(ctx context.Context, id string) error
	// ListProviders orders by priority descending, then name.
	ListProviders(ctx context.Context) ([]*models.Provider, error)
	// DefaultProvider returns the active default provider, else the highest priority active
	// one, else nil, nil.
	DefaultProvider(ctx context.Context) (*models.Provider, error)
	// SetDefaultProvider makes id the only default provider.
	SetDefaultProvider(ctx context.Context, id string) error
}

// Storage is the full persistence surface.
type Storage interface {
	DocumentRepository
	AnnotationRepository
	QuizRepository
	AttemptRepository
	ProviderRepository
	Close() error
}
