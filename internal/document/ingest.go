package document

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/fileid"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/parser"
)

const (
	metaKeySourcePath  = "sourcePath"
	metaKeySourceMtime = "sourceMtime"
	metaKeySourceSize  = "sourceSize"
)

// Ingest turns a file on disk into a document owned by userID, as if it had been uploaded.
// The document id is derived from the path, so ingesting a changed file replaces the
// earlier document (dropping its annotations and quizzes) and ingesting an unchanged one
// is a no-op that returns the existing document.
func (s *Service) Ingest(ctx context.Context, userID, path string) (*models.Document, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if _, ok := parser.DetectFormat("", absPath); !ok {
		return nil, apperr.UnsupportedFormat("", ext)
	}

	id := fileid.DocumentID(userID, absPath)
	existing, err := s.store.GetDocument(ctx, userID, id)
	switch {
	case err == nil && unchanged(existing, absPath, info):
		if s.index != nil && models.DocumentIsCompleted(existing) {
			// Repopulates an index that was rebuilt empty.
			_ = s.index.Index(ctx, existing)
		}
		if s.logger != nil {
			s.logger.Debug("skipping unchanged file", zap.String("path", absPath))
		}
		return existing, nil
	case err == nil:
		if err := s.Remove(ctx, userID, id); err != nil {
			return nil, fmt.Errorf("failed to replace document: %w", err)
		}
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	metadata := map[string]interface{}{
		metaKeySourcePath: absPath,
		// Strings avoid float64 precision loss in JSON; UnixNano exceeds 53 bits.
		metaKeySourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
		metaKeySourceSize:  strconv.FormatInt(info.Size(), 10),
	}
	doc, err := s.accept(ctx, userID, id, filepath.Base(absPath), mime.TypeByExtension(ext), data, metadata)
	if err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Debug("file ingested", zap.String("path", absPath), zap.String("document_id", doc.ID))
	}
	return doc, nil
}

// Forget removes the document ingested from path, if any.
func (s *Service) Forget(ctx context.Context, userID, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	err = s.Remove(ctx, userID, fileid.DocumentID(userID, absPath))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}

// IngestDirectory walks dir recursively and ingests each regular file with a supported
// extension (restricted further to allowedExts when non-empty). It returns the number of
// files ingested and the first error.
func (s *Service) IngestDirectory(ctx context.Context, userID, dir string, allowedExts []string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !Ingestible(path, allowedExts) {
			return nil
		}
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		if _, err := s.Ingest(ctx, userID, path); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

// Ingestible reports whether path has an extension the parser supports and, when
// allowedExts is non-empty, one of those.
func Ingestible(path string, allowedExts []string) bool {
	if _, ok := parser.DetectFormat("", path); !ok {
		return false
	}
	if len(allowedExts) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	for _, a := range allowedExts {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == ext {
			return true
		}
	}
	return false
}

// unchanged reports whether doc was ingested from path with the file's current mtime and
// size.
func unchanged(doc *models.Document, path string, info os.FileInfo) bool {
	if doc.Metadata == nil || doc.Metadata[metaKeySourcePath] != path {
		return false
	}
	if models.DocumentIsFailed(doc) {
		return false
	}
	return metadataInt64(doc.Metadata, metaKeySourceMtime) == info.ModTime().UnixNano() &&
		metadataInt64(doc.Metadata, metaKeySourceSize) == info.Size()
}

func metadataInt64(m map[string]interface{}, key string) int64 {
	switch n := m[key].(type) {
	case string:
		x, _ := strconv.ParseInt(n, 10, 64)
		return x
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
