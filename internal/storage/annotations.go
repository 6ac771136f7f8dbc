package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/offset"
)

const annotationColumns = `id, document_id, user_id, kind, text, start_offset, end_offset, source,
	confidence, metadata, created_at, updated_at`

func scanAnnotation(row rowScanner) (*models.Annotation, error) {
	var a models.Annotation
	var confidence sql.NullFloat64
	var metadata sql.NullString
	err := row.Scan(&a.ID, &a.DocumentID, &a.UserID, &a.Kind, &a.Text, &a.StartOffset, &a.EndOffset, &a.Source,
		&confidence, &metadata, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Confidence = floatPtr(confidence)
	if err := unmarshalJSON(metadata, &a.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &a, nil
}

// ReplaceOverlapping evicts annotations overlapping a and inserts a.
func (s *SQLStorage) ReplaceOverlapping(ctx context.Context, a *models.Annotation) ([]string, error) {
	return s.replaceOverlapping(ctx, a, false)
}

// UpdateReplacingOverlapping evicts other annotations overlapping a's new range and updates a.
func (s *SQLStorage) UpdateReplacingOverlapping(ctx context.Context, a *models.Annotation) ([]string, error) {
	return s.replaceOverlapping(ctx, a, true)
}

func (s *SQLStorage) replaceOverlapping(ctx context.Context, a *models.Annotation, update bool) ([]string, error) {
	metadataJSON, err := marshalJSON(a.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	var evicted []string
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.lockScope(ctx, tx, "annotations:"+a.DocumentID+":"+a.UserID); err != nil {
			return fmt.Errorf("failed to lock annotation scope: %w", err)
		}

		// Half-open overlap: existing.start < new.end AND new.start < existing.end.
		rows, err := tx.QueryContext(ctx, s.q(
			`SELECT id FROM annotations
			 WHERE document_id = ? AND user_id = ? AND start_offset < ? AND end_offset > ? AND id <> ?`),
			a.DocumentID, a.UserID, a.EndOffset, a.StartOffset, a.ID)
		if err != nil {
			return fmt.Errorf("failed to find overlapping annotations: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			evicted = append(evicted, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range evicted {
			if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM annotations WHERE id = ?`), id); err != nil {
				return fmt.Errorf("failed to evict annotation %s: %w", id, err)
			}
		}

		ts := now()
		a.UpdatedAt = ts
		if update {
			result, err := tx.ExecContext(ctx, s.q(
				`UPDATE annotations SET kind = ?, text = ?, start_offset = ?, end_offset = ?, confidence = ?,
				 metadata = ?, updated_at = ? WHERE id = ? AND user_id = ?`),
				a.Kind, a.Text, a.StartOffset, a.EndOffset, nullFloat(a.Confidence), metadataJSON, a.UpdatedAt,
				a.ID, a.UserID)
			if err != nil {
				return fmt.Errorf("failed to update annotation: %w", err)
			}
			return expectAffected(result, "annotation", a.ID)
		}

		a.CreatedAt = ts
		_, err = tx.ExecContext(ctx, s.q(
			`INSERT INTO annotations (`+annotationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			a.ID, a.DocumentID, a.UserID, a.Kind, a.Text, a.StartOffset, a.EndOffset, a.Source,
			nullFloat(a.Confidence), metadataJSON, a.CreatedAt, a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert annotation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evicted, nil
}

// GetAnnotation returns an annotation owned by userID.
func (s *SQLStorage) GetAnnotation(ctx context.Context, userID, id string) (*models.Annotation, error) {
	a, err := scanAnnotation(s.db.QueryRowContext(ctx, s.q(
		`SELECT `+annotationColumns+` FROM annotations WHERE id = ? AND user_id = ?`), id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("annotation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get annotation: %w", err)
	}
	return a, nil
}

// FindOverlapping returns annotations in the scope that overlap r, ordered by start offset.
func (s *SQLStorage) FindOverlapping(ctx context.Context, userID, documentID string, r offset.Range) ([]*models.Annotation, error) {
	return s.queryAnnotations(ctx,
		`SELECT `+annotationColumns+` FROM annotations
		 WHERE document_id = ? AND user_id = ? AND start_offset < ? AND end_offset > ?
		 ORDER BY start_offset ASC`,
		documentID, userID, r.End, r.Start)
}

// DeleteAnnotation removes one annotation.
func (s *SQLStorage) DeleteAnnotation(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx, s.q(`DELETE FROM annotations WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete annotation: %w", err)
	}
	return expectAffected(result, "annotation", id)
}

// DeleteAnnotationsByDocument removes all of the user's annotations on a document and
// returns how many were removed.
func (s *SQLStorage) DeleteAnnotationsByDocument(ctx context.Context, userID, documentID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.q(
		`DELETE FROM annotations WHERE document_id = ? AND user_id = ?`), documentID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete annotations: %w", err)
	}
	return result.RowsAffected()
}

// ListAnnotationsByDocument returns the user's annotations on a document by start offset.
func (s *SQLStorage) ListAnnotationsByDocument(ctx context.Context, userID, documentID string, kind models.AnnotationKind) ([]*models.Annotation, error) {
	if kind != "" {
		return s.queryAnnotations(ctx,
			`SELECT `+annotationColumns+` FROM annotations
			 WHERE document_id = ? AND user_id = ? AND kind = ? ORDER BY start_offset ASC`,
			documentID, userID, kind)
	}
	return s.queryAnnotations(ctx,
		`SELECT `+annotationColumns+` FROM annotations
		 WHERE document_id = ? AND user_id = ? ORDER BY start_offset ASC`,
		documentID, userID)
}

// ListAnnotations returns all of the user's annotations, newest first.
func (s *SQLStorage) ListAnnotations(ctx context.Context, userID string) ([]*models.Annotation, error) {
	return s.queryAnnotations(ctx,
		`SELECT `+annotationColumns+` FROM annotations WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID)
}

// CountAnnotations returns the number of annotations across all users.
func (s *SQLStorage) CountAnnotations(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM annotations`)
}

func (s *SQLStorage) queryAnnotations(ctx context.Context, query string, args ...any) ([]*models.Annotation, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list annotations: %w", err)
	}
	defer rows.Close()

	var list []*models.Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan annotation: %w", err)
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
