package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/models"
)

const (
	multipartMemory = 8 << 20
	// multipartSlack covers form boundaries and headers on top of the file limit.
	multipartSlack = 1 << 20
)

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartSlack)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "expected multipart form with a file field")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	s.logger.Debug("upload request", zap.String("filename", header.Filename), zap.Int("size", len(data)))
	doc, err := s.svc.Documents.Upload(r.Context(), userFrom(r), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, doc)
}

type documentList struct {
	Documents []*models.Document `json:"documents"`
	Total     int64              `json:"total"`
	Page      int                `json:"page"`
	Limit     int                `json:"limit"`
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 10)
	docs, total, err := s.svc.Documents.List(r.Context(), userFrom(r), page, limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, documentList{Documents: docs, Total: total, Page: page, Limit: limit})
}

func (s *Server) handleSearchDocuments(w http.ResponseWriter, r *http.Request) {
	q := models.SearchQuery{
		Query: r.URL.Query().Get("q"),
		Page:  queryInt(r, "page", 1),
		Limit: queryInt(r, "limit", 10),
		Fuzzy: r.URL.Query().Get("fuzzy") == "true",
	}
	s.logger.Debug("search request", zap.String("query", q.Query), zap.Int("limit", q.Limit))
	resp, err := s.svc.Documents.Search(r.Context(), userFrom(r), q)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDocumentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Documents.Stats(r.Context(), userFrom(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.Documents.Get(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleRenameDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OriginalFilename string `json:"originalFilename"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	doc, err := s.svc.Documents.Rename(r.Context(), userFrom(r), chi.URLParam(r, "id"), req.OriginalFilename)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.svc.Documents.Remove(r.Context(), userFrom(r), id); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDocumentStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Documents.ProcessingStatus(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleDocumentContent(w http.ResponseWriter, r *http.Request) {
	content, err := s.svc.Documents.Content(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, content)
}
