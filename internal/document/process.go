package document

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/jobs"
	"github.com/hyperjump/manabu/internal/models"
)

// ParseJobType is the job type of document parsing.
const ParseJobType = "document.parse"

type parseHandler struct {
	s *Service
}

var _ jobs.Handler = parseHandler{}

// Handler returns the job handler that parses uploaded documents.
func (s *Service) Handler() jobs.Handler {
	return parseHandler{s: s}
}

func (h parseHandler) Type() string { return ParseJobType }

// Run parses the stored upload, completes the document and indexes its text.
func (h parseHandler) Run(ctx context.Context, job jobs.Job) error {
	s := h.s
	doc, err := s.store.GetDocumentByID(ctx, job.ID)
	if err != nil {
		return err
	}
	data, err := s.blobs.Read(doc.StoragePath)
	if err != nil {
		return err
	}
	res, err := s.parser.Parse(data, doc.MimeType, doc.OriginalFilename)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("processing cancelled: %w", err)
	}

	metadata := make(map[string]interface{}, len(doc.Metadata)+len(res.Metadata))
	for k, v := range doc.Metadata {
		metadata[k] = v
	}
	for k, v := range res.Metadata {
		metadata[k] = v
	}
	if err := s.store.CompleteDocument(ctx, doc.ID, res.CanonicalText, res.Blocks, metadata); err != nil {
		return err
	}

	doc.CanonicalText = res.CanonicalText
	doc.Status = models.DocumentCompleted
	if s.index != nil {
		// Index failures do not fail processing.
		if err := s.index.Index(ctx, doc); err != nil && s.logger != nil {
			s.logger.Warn("failed to index document", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}
	if s.logger != nil {
		s.logger.Info("document processed", zap.String("document_id", doc.ID),
			zap.Int("blocks", len(res.Blocks)), zap.Int("bytes", len(res.CanonicalText)))
	}
	return nil
}

// Fail marks the document failed with err's message.
func (h parseHandler) Fail(ctx context.Context, job jobs.Job, err error) {
	if ferr := h.s.store.SetDocumentStatus(ctx, job.ID, models.DocumentFailed, err.Error()); ferr != nil && h.s.logger != nil {
		h.s.logger.Error("failed to mark document failed", zap.String("document_id", job.ID), zap.Error(ferr))
	}
	if h.s.logger != nil {
		h.s.logger.Warn("document processing failed", zap.String("document_id", job.ID), zap.Error(err))
	}
}
