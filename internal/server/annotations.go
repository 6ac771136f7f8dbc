package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyperjump/manabu/internal/annotation"
	"github.com/hyperjump/manabu/internal/models"
)

type annotationList struct {
	Annotations []*models.Annotation `json:"annotations"`
}

func annotationsOrEmpty(list []*models.Annotation) []*models.Annotation {
	if list == nil {
		return []*models.Annotation{}
	}
	return list
}

func (s *Server) handleCreateAnnotation(w http.ResponseWriter, r *http.Request) {
	var in annotation.CreateInput
	if !s.decode(w, r, &in) {
		return
	}
	a, err := s.svc.Annotations.Create(r.Context(), userFrom(r), in)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, a)
}

func (s *Server) handleCreateAnnotationBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Annotations []annotation.CreateInput `json:"annotations"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Annotations) == 0 {
		s.respondError(w, http.StatusBadRequest, "annotations must not be empty")
		return
	}
	list, err := s.svc.Annotations.CreateBatch(r.Context(), userFrom(r), req.Annotations)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, annotationList{Annotations: annotationsOrEmpty(list)})
}

func (s *Server) handleListAnnotations(w http.ResponseWriter, r *http.Request) {
	var (
		list []*models.Annotation
		err  error
	)
	if docID := r.URL.Query().Get("documentId"); docID != "" {
		list, err = s.svc.Annotations.ListByDocument(r.Context(), userFrom(r), docID)
	} else {
		list, err = s.svc.Annotations.ListAll(r.Context(), userFrom(r))
	}
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, annotationList{Annotations: annotationsOrEmpty(list)})
}

func (s *Server) handleGetAnnotation(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Annotations.Get(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleUpdateAnnotation(w http.ResponseWriter, r *http.Request) {
	var in annotation.UpdateInput
	if !s.decode(w, r, &in) {
		return
	}
	a, err := s.svc.Annotations.Update(r.Context(), userFrom(r), chi.URLParam(r, "id"), in)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAnnotation(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Annotations.Remove(r.Context(), userFrom(r), chi.URLParam(r, "id")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListDocumentAnnotations(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Annotations.ListByDocument(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, annotationList{Annotations: annotationsOrEmpty(list)})
}

func (s *Server) handleDeleteDocumentAnnotations(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.Annotations.RemoveByDocument(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) handleSuggestAnnotations(w http.ResponseWriter, r *http.Request) {
	suggestions, err := s.svc.Annotations.Suggest(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if suggestions == nil {
		suggestions = []models.AnnotationSuggestion{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"suggestions": suggestions})
}

func (s *Server) handleAcceptSuggestions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Suggestions []models.AnnotationSuggestion `json:"suggestions"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Suggestions) == 0 {
		s.respondError(w, http.StatusBadRequest, "suggestions must not be empty")
		return
	}
	list, err := s.svc.Annotations.AcceptSuggestions(r.Context(), userFrom(r), chi.URLParam(r, "id"), req.Suggestions)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, annotationList{Annotations: annotationsOrEmpty(list)})
}
