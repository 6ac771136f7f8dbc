package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/models"
)

const documentColumns = `id, user_id, filename, original_filename, mime_type, extension, size,
	storage_path, status, processing_error, canonical_text, blocks, metadata, created_at, updated_at`

// Listing skips the canonical text and blocks.
const documentSummaryColumns = `id, user_id, filename, original_filename, mime_type, extension, size,
	storage_path, status, processing_error, '' AS canonical_text, '' AS blocks, metadata, created_at, updated_at`

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var mimeType, ext, storagePath, procErr, text, blocks, metadata sql.NullString
	err := row.Scan(&doc.ID, &doc.UserID, &doc.Filename, &doc.OriginalFilename, &mimeType, &ext, &doc.Size,
		&storagePath, &doc.Status, &procErr, &text, &blocks, &metadata, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.MimeType = mimeType.String
	doc.Extension = ext.String
	doc.StoragePath = storagePath.String
	doc.ProcessingError = procErr.String
	doc.CanonicalText = text.String
	if err := unmarshalJSON(blocks, &doc.Blocks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal blocks: %w", err)
	}
	if err := unmarshalJSON(metadata, &doc.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &doc, nil
}

// CreateDocument inserts a document. CreatedAt and UpdatedAt are set.
func (s *SQLStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	metadataJSON, err := marshalJSON(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	blocksJSON, err := marshalJSON(doc.Blocks)
	if err != nil {
		return fmt.Errorf("failed to marshal blocks: %w", err)
	}

	ts := now()
	doc.CreatedAt = ts
	doc.UpdatedAt = ts

	_, err = s.db.ExecContext(ctx, s.q(
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		doc.ID, doc.UserID, doc.Filename, doc.OriginalFilename, doc.MimeType, doc.Extension, doc.Size,
		doc.StoragePath, doc.Status, doc.ProcessingError, doc.CanonicalText, blocksJSON, metadataJSON,
		doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// GetDocument returns a document owned by userID.
func (s *SQLStorage) GetDocument(ctx context.Context, userID, id string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx, s.q(
		`SELECT `+documentColumns+` FROM documents WHERE id = ? AND user_id = ?`), id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// GetDocumentByID returns a document regardless of owner.
func (s *SQLStorage) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx, s.q(
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// RenameDocument changes the display filename.
func (s *SQLStorage) RenameDocument(ctx context.Context, userID, id, originalFilename string) error {
	result, err := s.db.ExecContext(ctx, s.q(
		`UPDATE documents SET original_filename = ?, updated_at = ? WHERE id = ? AND user_id = ?`),
		originalFilename, now(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to rename document: %w", err)
	}
	return expectAffected(result, "document", id)
}

// SetDocumentStatus updates the status and processing error.
func (s *SQLStorage) SetDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, processingError string) error {
	result, err := s.db.ExecContext(ctx, s.q(
		`UPDATE documents SET status = ?, processing_error = ?, updated_at = ? WHERE id = ?`),
		status, processingError, now(), id)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	return expectAffected(result, "document", id)
}

// CompleteDocument stores parse output and marks the document completed.
func (s *SQLStorage) CompleteDocument(ctx context.Context, id, canonicalText string, blocks []models.Block, metadata map[string]interface{}) error {
	blocksJSON, err := marshalJSON(blocks)
	if err != nil {
		return fmt.Errorf("failed to marshal blocks: %w", err)
	}
	metadataJSON, err := marshalJSON(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	result, err := s.db.ExecContext(ctx, s.q(
		`UPDATE documents SET status = ?, processing_error = '', canonical_text = ?, blocks = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`),
		models.DocumentCompleted, canonicalText, blocksJSON, metadataJSON, now(), id)
	if err != nil {
		return fmt.Errorf("failed to complete document: %w", err)
	}
	return expectAffected(result, "document", id)
}

// DeleteDocument removes the document with its annotations, quizzes, questions and attempts.
func (s *SQLStorage) DeleteDocument(ctx context.Context, userID, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM quiz_attempts WHERE quiz_id IN (SELECT id FROM quizzes WHERE document_id = ?)`,
			`DELETE FROM questions WHERE quiz_id IN (SELECT id FROM quizzes WHERE document_id = ?)`,
			`DELETE FROM quizzes WHERE document_id = ?`,
			`DELETE FROM annotations WHERE document_id = ?`,
		}
		var owner string
		err := tx.QueryRowContext(ctx, s.q(`SELECT user_id FROM documents WHERE id = ?`), id).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != userID) {
			return apperr.NotFound("document", id)
		}
		if err != nil {
			return fmt.Errorf("failed to load document: %w", err)
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, s.q(stmt), id); err != nil {
				return fmt.Errorf("failed to delete document dependents: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM documents WHERE id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		return nil
	})
}

// ListDocuments returns a page of the user's documents, newest first, and the total count.
func (s *SQLStorage) ListDocuments(ctx context.Context, userID string, offset, limit int) ([]*models.Document, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM documents WHERE user_id = ?`), userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}
	docs, err := s.queryDocuments(ctx,
		`SELECT `+documentSummaryColumns+` FROM documents WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// SearchDocuments returns documents whose filename or canonical text contains query.
func (s *SQLStorage) SearchDocuments(ctx context.Context, userID, query string, offset, limit int) ([]*models.Document, int64, error) {
	pattern := likePattern(query)
	where := ` FROM documents WHERE user_id = ? AND (original_filename LIKE ? ESCAPE '\' OR canonical_text LIKE ? ESCAPE '\')`
	if s.driver == DriverPostgres {
		where = ` FROM documents WHERE user_id = ? AND (original_filename ILIKE ? ESCAPE '\' OR canonical_text ILIKE ? ESCAPE '\')`
	}
	var total int64
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*)`+where), userID, pattern, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}
	docs, err := s.queryDocuments(ctx,
		`SELECT `+documentSummaryColumns+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, pattern, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

func (s *SQLStorage) queryDocuments(ctx context.Context, query string, args ...any) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DocumentStats counts the user's documents by status and sums their sizes.
func (s *SQLStorage) DocumentStats(ctx context.Context, userID string) (*models.DocumentStats, error) {
	var stats models.DocumentStats
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT COUNT(*),
			CAST(COALESCE(SUM(size), 0) AS BIGINT),
			COUNT(CASE WHEN status IN ('uploading', 'processing') THEN 1 END),
			COUNT(CASE WHEN status = 'completed' THEN 1 END),
			COUNT(CASE WHEN status = 'failed' THEN 1 END)
		 FROM documents WHERE user_id = ?`), userID,
	).Scan(&stats.TotalFiles, &stats.TotalSize, &stats.ProcessingFiles, &stats.CompletedFiles, &stats.FailedFiles)
	if err != nil {
		return nil, fmt.Errorf("failed to compute document stats: %w", err)
	}
	return &stats, nil
}

// CountDocuments returns the number of documents across all users.
func (s *SQLStorage) CountDocuments(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM documents`)
}

func (s *SQLStorage) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, s.q(query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

func expectAffected(result sql.Result, entity, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound(entity, id)
	}
	return nil
}
