package annotation

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/offset"
)

// Suggest asks the default provider for annotation candidates on a processed document.
// Candidates whose range does not fit the canonical text are dropped. Nothing is stored.
func (s *Service) Suggest(ctx context.Context, userID, documentID string) ([]models.AnnotationSuggestion, error) {
	if s.providers == nil {
		return nil, errors.New("annotation suggestions are not configured")
	}
	doc, err := s.annotatable(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}
	p, err := s.providers.Get(ctx, "")
	if err != nil {
		return nil, err
	}
	raw, err := p.SuggestAnnotations(ctx, doc.CanonicalText)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindProvider {
			return nil, err
		}
		return nil, apperr.Provider(apperr.ReasonGeneric, "annotation suggestion failed", err)
	}

	out := make([]models.AnnotationSuggestion, 0, len(raw))
	for _, sg := range raw {
		if !validKind(sg.Kind) {
			continue
		}
		text, err := offset.Slice(doc.CanonicalText, offset.New(sg.StartOffset, sg.EndOffset))
		if err != nil {
			continue
		}
		if sg.Text == "" {
			sg.Text = text
		}
		out = append(out, sg)
	}
	if s.logger != nil {
		s.logger.Debug("annotation suggestions", zap.String("document_id", doc.ID), zap.String("provider", p.Name()),
			zap.Int("returned", len(raw)), zap.Int("kept", len(out)))
	}
	return out, nil
}

// AcceptSuggestions stores chosen suggestions through CreateBatch with source ai_suggested.
func (s *Service) AcceptSuggestions(ctx context.Context, userID, documentID string, picked []models.AnnotationSuggestion) ([]*models.Annotation, error) {
	inputs := make([]CreateInput, len(picked))
	for i, sg := range picked {
		confidence := sg.Confidence
		inputs[i] = CreateInput{
			DocumentID:  documentID,
			Kind:        sg.Kind,
			Text:        sg.Text,
			StartOffset: sg.StartOffset,
			EndOffset:   sg.EndOffset,
			Source:      models.SourceAISuggested,
			Confidence:  &confidence,
		}
		if sg.Reason != "" {
			inputs[i].Metadata = map[string]interface{}{"reason": sg.Reason}
		}
	}
	return s.CreateBatch(ctx, userID, inputs)
}
