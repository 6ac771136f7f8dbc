package models

import "time"

// AnnotationKind marks whether a span drives question generation or is excluded from it.
type AnnotationKind string

const (
	AnnotationFocus   AnnotationKind = "focus"
	AnnotationExclude AnnotationKind = "exclude"
)

// AnnotationSource records who created an annotation.
type AnnotationSource string

const (
	SourceManual      AnnotationSource = "manual"
	SourceAISuggested AnnotationSource = "ai_suggested"
)

// Annotation is a user's mark over [StartOffset, EndOffset) of a document's canonical text.
type Annotation struct {
	ID          string                 `json:"id" db:"id"`
	DocumentID  string                 `json:"documentId" db:"document_id"`
	UserID      string                 `json:"userId" db:"user_id"`
	Kind        AnnotationKind         `json:"kind" db:"kind"`
	Text        string                 `json:"text" db:"text"`
	StartOffset int                    `json:"startOffset" db:"start_offset"`
	EndOffset   int                    `json:"endOffset" db:"end_offset"`
	Source      AnnotationSource       `json:"source" db:"source"`
	Confidence  *float64               `json:"confidence,omitempty" db:"confidence"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time              `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time              `json:"updatedAt" db:"updated_at"`
}

// AnnotationSuggestion is a candidate annotation proposed by a provider. It is not persisted
// until accepted.
type AnnotationSuggestion struct {
	Kind        AnnotationKind `json:"kind"`
	Text        string         `json:"text"`
	StartOffset int            `json:"startOffset"`
	EndOffset   int            `json:"endOffset"`
	Confidence  float64        `json:"confidence"`
	Reason      string         `json:"reason,omitempty"`
}
