package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/quiz"
)

func (s *Server) handleGenerateQuiz(w http.ResponseWriter, r *http.Request) {
	var req quiz.GenerateRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.Debug("generate quiz request", zap.String("document_id", req.DocumentID),
		zap.Int("count", req.QuestionCount), zap.String("type", string(req.QuestionType)))
	q, err := s.svc.Quizzes.Generate(r.Context(), userFrom(r), req)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, q)
}

func (s *Server) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Quizzes.List(r.Context(), userFrom(r), r.URL.Query().Get("documentId"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Quiz{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"quizzes": list})
}

func (s *Server) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	q, err := s.svc.Quizzes.Get(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, q)
}

func (s *Server) handleUpdateQuiz(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	q, err := s.svc.Quizzes.Update(r.Context(), userFrom(r), chi.URLParam(r, "id"), req.Title, req.Description)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, q)
}

func (s *Server) handleDeleteQuiz(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Quizzes.Remove(r.Context(), userFrom(r), chi.URLParam(r, "id")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Attempts.Start(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, a)
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Attempts.List(r.Context(), userFrom(r), r.URL.Query().Get("quizId"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if list == nil {
		list = []*models.QuizAttempt{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"attempts": list})
}

func (s *Server) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Attempts.Get(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QuestionID string `json:"questionId"`
		Answer     string `json:"answer"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.QuestionID == "" {
		s.respondError(w, http.StatusBadRequest, "questionId is required")
		return
	}
	a, err := s.svc.Attempts.SubmitAnswer(r.Context(), userFrom(r), chi.URLParam(r, "id"), req.QuestionID, req.Answer)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleFinishAttempt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TimeSpent *int `json:"timeSpent"`
	}
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	a, err := s.svc.Attempts.Finish(r.Context(), userFrom(r), chi.URLParam(r, "id"), req.TimeSpent)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleEvaluateAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Answer string `json:"answer"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	ev, err := s.svc.Quizzes.EvaluateAnswer(r.Context(), userFrom(r), chi.URLParam(r, "id"), req.Answer)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ev)
}
