// Package document handles uploads and their background parsing into canonical text.
//
// Upload stores the raw bytes and a processing row, then queues a parse job; the job
// writes the canonical text and blocks and indexes them for search. Status is observed by
// polling ProcessingStatus.
package document

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/blob"
	"github.com/hyperjump/manabu/internal/jobs"
	"github.com/hyperjump/manabu/internal/keyword"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/parser"
	"github.com/hyperjump/manabu/internal/storage"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	titleBoost      = 2.0
)

// Content is the parsed text of a completed document.
type Content struct {
	CanonicalText string         `json:"canonicalText"`
	Blocks        []models.Block `json:"blocks"`
}

// Service implements document upload, processing and queries.
type Service struct {
	store     storage.Storage
	blobs     *blob.Store
	jobs      jobs.Submitter
	parser    *parser.Parser
	index     keyword.Index
	maxUpload int64
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a logger for processing events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithIndex sets the full-text index. Without one, Search uses a substring query.
func WithIndex(idx keyword.Index) Option {
	return func(s *Service) { s.index = idx }
}

// WithMaxUploadBytes rejects uploads larger than n bytes. Zero means no limit.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Service) { s.maxUpload = n }
}

// NewService returns a document service. Register Handler() with the job runner before
// uploading.
func NewService(store storage.Storage, blobs *blob.Store, submitter jobs.Submitter, opts ...Option) *Service {
	s := &Service{
		store:  store,
		blobs:  blobs,
		jobs:   submitter,
		parser: parser.NewParser(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// cleanFilename drops any directory part and control characters from a client filename.
func cleanFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// Upload stores data and queues it for parsing. The returned document is processing.
func (s *Service) Upload(ctx context.Context, userID, filename, mimeType string, data []byte) (*models.Document, error) {
	return s.accept(ctx, userID, "", filename, mimeType, data, nil)
}

// accept validates and stores a new document, then queues its parse job. An empty id gets
// a generated one.
func (s *Service) accept(ctx context.Context, userID, id, filename, mimeType string, data []byte, metadata map[string]interface{}) (*models.Document, error) {
	name := cleanFilename(filename)
	if name == "" {
		return nil, apperr.Validation("filename is required")
	}
	if len(data) == 0 {
		return nil, apperr.Validation("file %s is empty", name)
	}
	if s.maxUpload > 0 && int64(len(data)) > s.maxUpload {
		return nil, apperr.Validation("file %s is %d bytes; the limit is %d", name, len(data), s.maxUpload)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := parser.DetectFormat(mimeType, name); !ok {
		return nil, apperr.UnsupportedFormat(mimeType, ext)
	}

	stored, path, err := s.blobs.Save(userID, name, data)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.New().String()
	}
	doc := &models.Document{
		ID:               id,
		UserID:           userID,
		Filename:         stored,
		OriginalFilename: name,
		MimeType:         mimeType,
		Extension:        ext,
		Size:             int64(len(data)),
		StoragePath:      path,
		Status:           models.DocumentProcessing,
		Metadata:         metadata,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		_ = s.blobs.Delete(path)
		return nil, err
	}

	if err := s.jobs.Submit(ctx, jobs.Job{Type: ParseJobType, ID: doc.ID}); err != nil {
		_ = s.store.SetDocumentStatus(context.Background(), doc.ID, models.DocumentFailed, "could not queue processing: "+err.Error())
		return nil, fmt.Errorf("failed to queue document processing: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("document uploaded", zap.String("document_id", doc.ID), zap.String("filename", name),
			zap.Int64("size", doc.Size))
	}
	return doc, nil
}

// Get returns a document owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (*models.Document, error) {
	return s.store.GetDocument(ctx, userID, id)
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}

// List returns one page of the user's documents, newest first, and the total count.
// Canonical text and blocks are not loaded.
func (s *Service) List(ctx context.Context, userID string, page, limit int) ([]*models.Document, int64, error) {
	page, limit = normalizePage(page, limit)
	return s.store.ListDocuments(ctx, userID, (page-1)*limit, limit)
}

// Content returns the canonical text and blocks, or InvalidState until processing completes.
func (s *Service) Content(ctx context.Context, userID, id string) (*Content, error) {
	doc, err := s.store.GetDocument(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !models.DocumentIsCompleted(doc) {
		return nil, apperr.InvalidState("document %s is %s; content is available once processing completes", doc.ID, doc.Status)
	}
	blocks := doc.Blocks
	if blocks == nil {
		blocks = []models.Block{}
	}
	return &Content{CanonicalText: doc.CanonicalText, Blocks: blocks}, nil
}

// ProcessingStatus returns the pollable processing state.
func (s *Service) ProcessingStatus(ctx context.Context, userID, id string) (*models.ProcessingStatus, error) {
	doc, err := s.store.GetDocument(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return &models.ProcessingStatus{Status: doc.Status, Error: doc.ProcessingError}, nil
}

// Stats summarizes the user's documents, including the disk space their uploads use.
func (s *Service) Stats(ctx context.Context, userID string) (*models.DocumentStats, error) {
	stats, err := s.store.DocumentStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	usage, err := storage.DiskUsageBytes(s.blobs.UserDir(userID))
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to measure upload disk usage", zap.String("user_id", userID), zap.Error(err))
		}
		return stats, nil
	}
	stats.DiskUsageBytes = &usage
	return stats, nil
}

// Search finds the user's documents by filename or text. The index is used when present,
// retrying with typo tolerance when an exact first page finds nothing; without it, or when
// it fails, a substring match over the database is used.
func (s *Service) Search(ctx context.Context, userID string, q models.SearchQuery) (*models.SearchResponse, error) {
	q.Query = strings.TrimSpace(q.Query)
	if err := q.Validate(); err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	start := time.Now()

	resp := &models.SearchResponse{Query: q.Query, Page: q.Page, Limit: q.Limit, Results: []*models.SearchResult{}}
	var err error
	if s.index != nil {
		err = s.searchIndex(ctx, userID, q, resp)
		if err != nil && s.logger != nil {
			s.logger.Warn("index search failed, using database search", zap.Error(err))
		}
	}
	if s.index == nil || err != nil {
		if err := s.searchDatabase(ctx, userID, q, resp); err != nil {
			return nil, err
		}
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

func (s *Service) searchIndex(ctx context.Context, userID string, q models.SearchQuery, resp *models.SearchResponse) error {
	opts := &keyword.SearchOptions{TitleBoost: titleBoost, FuzzyEnabled: q.Fuzzy}
	page, err := s.index.SearchPage(ctx, userID, q.Query, q.Offset(), q.Limit, opts)
	if err != nil {
		return err
	}
	if page.Total == 0 && !q.Fuzzy && q.Page == 1 {
		opts.FuzzyEnabled = true
		if page, err = s.index.SearchPage(ctx, userID, q.Query, 0, q.Limit, opts); err != nil {
			return err
		}
		resp.AutoFuzzy = page.Total > 0
	}

	resp.Total = int(page.Total)
	for _, hit := range page.Hits {
		doc, err := s.store.GetDocument(ctx, userID, hit.ID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				resp.Total--
				continue
			}
			return err
		}
		resp.Results = append(resp.Results, &models.SearchResult{
			Document: summary(doc),
			Score:    hit.Score,
			Snippet:  hit.Snippet,
			Rank:     q.Offset() + len(resp.Results) + 1,
		})
	}
	return nil
}

func (s *Service) searchDatabase(ctx context.Context, userID string, q models.SearchQuery, resp *models.SearchResponse) error {
	docs, total, err := s.store.SearchDocuments(ctx, userID, q.Query, q.Offset(), q.Limit)
	if err != nil {
		return err
	}
	resp.Total = int(total)
	resp.AutoFuzzy = false
	resp.Results = make([]*models.SearchResult, len(docs))
	for i, doc := range docs {
		resp.Results[i] = &models.SearchResult{Document: doc, Rank: q.Offset() + i + 1}
	}
	return nil
}

// summary drops the parsed text from a document for list responses.
func summary(doc *models.Document) *models.Document {
	out := *doc
	out.CanonicalText = ""
	out.Blocks = nil
	return &out
}

// Rename changes the original filename shown to the user.
func (s *Service) Rename(ctx context.Context, userID, id, name string) (*models.Document, error) {
	name = cleanFilename(name)
	if name == "" {
		return nil, apperr.Validation("filename is required")
	}
	if err := s.store.RenameDocument(ctx, userID, id, name); err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if s.index != nil && models.DocumentIsCompleted(doc) {
		if err := s.index.Index(ctx, doc); err != nil && s.logger != nil {
			s.logger.Warn("failed to reindex renamed document", zap.String("document_id", id), zap.Error(err))
		}
	}
	return doc, nil
}

// Remove deletes a document with its annotations, quizzes and attempts, its upload and its
// index entry.
func (s *Service) Remove(ctx context.Context, userID, id string) error {
	doc, err := s.store.GetDocument(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, userID, id); err != nil {
		return err
	}
	if err := s.blobs.Delete(doc.StoragePath); err != nil && s.logger != nil {
		s.logger.Warn("failed to delete upload", zap.String("document_id", id), zap.Error(err))
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, id); err != nil && s.logger != nil {
			s.logger.Warn("failed to delete document from index", zap.String("document_id", id), zap.Error(err))
		}
	}
	if s.logger != nil {
		s.logger.Info("document removed", zap.String("document_id", id))
	}
	return nil
}
