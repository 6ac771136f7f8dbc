// Package annotation manages focus and exclude marks over a document's canonical text.
//
// Annotations in one (document, user) scope never overlap. A new or moved annotation
// evicts every annotation it overlaps; there is no merging or splitting.
package annotation

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/offset"
	"github.com/hyperjump/manabu/internal/provider"
	"github.com/hyperjump/manabu/internal/storage"
)

// ProviderSource resolves a provider id (empty for the default) to a Provider.
type ProviderSource interface {
	Get(ctx context.Context, providerID string) (provider.Provider, error)
}

// CreateInput describes one annotation to create. Text is filled from the canonical text
// when empty.
type CreateInput struct {
	DocumentID  string                  `json:"documentId"`
	Kind        models.AnnotationKind   `json:"kind"`
	Text        string                  `json:"text"`
	StartOffset int                     `json:"startOffset"`
	EndOffset   int                     `json:"endOffset"`
	Source      models.AnnotationSource `json:"source"`
	Confidence  *float64                `json:"confidence"`
	Metadata    map[string]interface{}  `json:"metadata"`
}

// UpdateInput changes an annotation. Nil fields keep their value.
type UpdateInput struct {
	Kind        *models.AnnotationKind `json:"kind"`
	Text        *string                `json:"text"`
	StartOffset *int                   `json:"startOffset"`
	EndOffset   *int                   `json:"endOffset"`
	Confidence  *float64               `json:"confidence"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// Service implements annotation CRUD and provider suggestions.
type Service struct {
	store     storage.Storage
	providers ProviderSource
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a logger for eviction and suggestion events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService returns an annotation service. providers may be nil when suggestions are not
// used.
func NewService(store storage.Storage, providers ProviderSource, opts ...Option) *Service {
	s := &Service{store: store, providers: providers}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validKind(k models.AnnotationKind) bool {
	return k == models.AnnotationFocus || k == models.AnnotationExclude
}

func validSource(src models.AnnotationSource) bool {
	return src == models.SourceManual || src == models.SourceAISuggested
}

func validConfidence(c *float64) error {
	if c != nil && (*c < 0 || *c > 1) {
		return apperr.InvalidRangef("confidence %v is outside [0,1]", *c)
	}
	return nil
}

// annotatable returns the owned document, or InvalidState while it has no canonical text.
func (s *Service) annotatable(ctx context.Context, userID, documentID string) (*models.Document, error) {
	doc, err := s.store.GetDocument(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}
	if !models.DocumentIsCompleted(doc) {
		return nil, apperr.InvalidState("document %s is %s and has no canonical text yet", doc.ID, doc.Status)
	}
	return doc, nil
}

// Create validates in and stores it, evicting every overlapping annotation in the same
// scope in one transaction.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*models.Annotation, error) {
	doc, err := s.annotatable(ctx, userID, in.DocumentID)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, userID, doc, in)
}

func (s *Service) create(ctx context.Context, userID string, doc *models.Document, in CreateInput) (*models.Annotation, error) {
	if !validKind(in.Kind) {
		return nil, apperr.Validation("unknown annotation kind: %q", in.Kind)
	}
	r := offset.New(in.StartOffset, in.EndOffset)
	slice, err := offset.Slice(doc.CanonicalText, r)
	if err != nil {
		return nil, err
	}
	if err := validConfidence(in.Confidence); err != nil {
		return nil, err
	}

	source := in.Source
	if source == "" {
		source = models.SourceManual
	}
	if !validSource(source) {
		return nil, apperr.Validation("unknown annotation source: %q", source)
	}
	text := in.Text
	if strings.TrimSpace(text) == "" {
		text = slice
	}

	a := &models.Annotation{
		ID:          uuid.New().String(),
		DocumentID:  doc.ID,
		UserID:      userID,
		Kind:        in.Kind,
		Text:        text,
		StartOffset: r.Start,
		EndOffset:   r.End,
		Source:      source,
		Confidence:  in.Confidence,
		Metadata:    in.Metadata,
	}
	evicted, err := s.store.ReplaceOverlapping(ctx, a)
	if err != nil {
		return nil, err
	}
	s.logEvicted(a.ID, evicted)
	return a, nil
}

func (s *Service) logEvicted(id string, evicted []string) {
	if len(evicted) > 0 && s.logger != nil {
		s.logger.Debug("annotations evicted", zap.String("by", id), zap.Strings("evicted", evicted))
	}
}

// CreateBatch creates inputs in order, each in its own transaction. Later items may evict
// earlier ones; the returned slice holds the survivors in input order. It stops at the
// first error, keeping what was already stored.
func (s *Service) CreateBatch(ctx context.Context, userID string, inputs []CreateInput) ([]*models.Annotation, error) {
	docs := make(map[string]*models.Document)
	created := make([]*models.Annotation, 0, len(inputs))
	for _, in := range inputs {
		doc, ok := docs[in.DocumentID]
		if !ok {
			var err error
			if doc, err = s.annotatable(ctx, userID, in.DocumentID); err != nil {
				return nil, err
			}
			docs[in.DocumentID] = doc
		}
		a, err := s.create(ctx, userID, doc, in)
		if err != nil {
			return nil, err
		}
		created = append(created, a)
	}

	survivors := created[:0]
	for _, a := range created {
		if _, err := s.store.GetAnnotation(ctx, userID, a.ID); err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				continue
			}
			return nil, err
		}
		survivors = append(survivors, a)
	}
	return survivors, nil
}

// Get returns an annotation owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (*models.Annotation, error) {
	return s.store.GetAnnotation(ctx, userID, id)
}

// Update applies in. A range change re-runs overlap eviction against the other annotations
// in the scope.
func (s *Service) Update(ctx context.Context, userID, id string, in UpdateInput) (*models.Annotation, error) {
	a, err := s.store.GetAnnotation(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	doc, err := s.annotatable(ctx, userID, a.DocumentID)
	if err != nil {
		return nil, err
	}

	if in.Kind != nil {
		if !validKind(*in.Kind) {
			return nil, apperr.Validation("unknown annotation kind: %q", *in.Kind)
		}
		a.Kind = *in.Kind
	}
	moved := false
	if in.StartOffset != nil && *in.StartOffset != a.StartOffset {
		a.StartOffset, moved = *in.StartOffset, true
	}
	if in.EndOffset != nil && *in.EndOffset != a.EndOffset {
		a.EndOffset, moved = *in.EndOffset, true
	}
	slice, err := offset.Slice(doc.CanonicalText, offset.New(a.StartOffset, a.EndOffset))
	if err != nil {
		return nil, err
	}
	switch {
	case in.Text != nil && strings.TrimSpace(*in.Text) != "":
		a.Text = *in.Text
	case moved:
		a.Text = slice
	}
	if in.Confidence != nil {
		if err := validConfidence(in.Confidence); err != nil {
			return nil, err
		}
		a.Confidence = in.Confidence
	}
	if in.Metadata != nil {
		a.Metadata = in.Metadata
	}

	evicted, err := s.store.UpdateReplacingOverlapping(ctx, a)
	if err != nil {
		return nil, err
	}
	s.logEvicted(a.ID, evicted)
	return s.store.GetAnnotation(ctx, userID, id)
}

// Remove deletes one annotation.
func (s *Service) Remove(ctx context.Context, userID, id string) error {
	return s.store.DeleteAnnotation(ctx, userID, id)
}

// RemoveByDocument deletes the user's annotations on a document and returns how many were
// removed.
func (s *Service) RemoveByDocument(ctx context.Context, userID, documentID string) (int64, error) {
	if _, err := s.store.GetDocument(ctx, userID, documentID); err != nil {
		return 0, err
	}
	return s.store.DeleteAnnotationsByDocument(ctx, userID, documentID)
}

// ListByDocument returns the user's annotations on a document ordered by start offset.
func (s *Service) ListByDocument(ctx context.Context, userID, documentID string) ([]*models.Annotation, error) {
	if _, err := s.store.GetDocument(ctx, userID, documentID); err != nil {
		return nil, err
	}
	return s.store.ListAnnotationsByDocument(ctx, userID, documentID, "")
}

// ListAll returns every annotation of the user, newest first.
func (s *Service) ListAll(ctx context.Context, userID string) ([]*models.Annotation, error) {
	return s.store.ListAnnotations(ctx, userID)
}
