// Package models defines the plain data structures for documents, annotations, quizzes,
// attempts, and LLM providers. Derived values are computed by pure functions in derive.go.
package models

import "time"

// DocumentStatus is the processing state of an uploaded document.
type DocumentStatus string

const (
	DocumentUploading  DocumentStatus = "uploading"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// BlockKind classifies a span of canonical text.
type BlockKind string

const (
	BlockParagraph BlockKind = "paragraph"
	BlockHeading   BlockKind = "heading"
	BlockList      BlockKind = "list"
	BlockTable     BlockKind = "table"
)

// Block is a structurally classified span of a document's canonical text.
// StartOffset and EndOffset are half-open byte offsets into CanonicalText.
type Block struct {
	BlockID     string                 `json:"blockId"`
	Kind        BlockKind              `json:"kind"`
	Text        string                 `json:"text"`
	StartOffset int                    `json:"startOffset"`
	EndOffset   int                    `json:"endOffset"`
	Page        *int                   `json:"page,omitempty"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
}

// Document is an uploaded file and, once processed, its canonical text and blocks.
type Document struct {
	ID               string                 `json:"id" db:"id"`
	UserID           string                 `json:"userId" db:"user_id"`
	Filename         string                 `json:"filename" db:"filename"`
	OriginalFilename string                 `json:"originalFilename" db:"original_filename"`
	MimeType         string                 `json:"mimeType" db:"mime_type"`
	Extension        string                 `json:"extension" db:"extension"`
	Size             int64                  `json:"size" db:"size"`
	StoragePath      string                 `json:"-" db:"storage_path"`
	Status           DocumentStatus         `json:"status" db:"status"`
	ProcessingError  string                 `json:"processingError,omitempty" db:"processing_error"`
	CanonicalText    string                 `json:"canonicalText,omitempty" db:"canonical_text"`
	Blocks           []Block                `json:"blocks,omitempty" db:"blocks"`
	Metadata         map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt        time.Time              `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time              `json:"updatedAt" db:"updated_at"`
}

// DocumentStats summarizes one user's documents.
type DocumentStats struct {
	TotalFiles      int64  `json:"totalFiles"`
	TotalSize       int64  `json:"totalSize"`
	ProcessingFiles int64  `json:"processingFiles"`
	CompletedFiles  int64  `json:"completedFiles"`
	FailedFiles     int64  `json:"failedFiles"`
	DiskUsageBytes  *int64 `json:"diskUsageBytes,omitempty"`
}

// ProcessingStatus is the pollable state of a document's background processing.
type ProcessingStatus struct {
	Status DocumentStatus `json:"status"`
	Error  string         `json:"error,omitempty"`
}
