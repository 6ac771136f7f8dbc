// Package server provides the HTTP API for manabu.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/annotation"
	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/attempt"
	"github.com/hyperjump/manabu/internal/config"
	"github.com/hyperjump/manabu/internal/document"
	"github.com/hyperjump/manabu/internal/provider"
	"github.com/hyperjump/manabu/internal/quiz"
)

// UserIDHeader carries the id of the already authenticated caller.
const UserIDHeader = "X-User-ID"

const defaultRequestTimeout = 60 * time.Second

// WatchService manages the inbox directories. Implemented by *watcher.Watcher.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Services bundles the domain services the API exposes.
type Services struct {
	Documents   *document.Service
	Annotations *annotation.Service
	Quizzes     *quiz.Service
	Attempts    *attempt.Service
	Providers   *provider.Service
}

// Server is the HTTP server for the manabu API.
type Server struct {
	svc           Services
	config        *config.ServerConfig
	maxUpload     int64
	logger        *zap.Logger
	server        *http.Server
	watch         WatchService
	configPath    string
	watchConfig   *config.Config
	watchConfigMu sync.Mutex
}

// NewServer creates a server with the given dependencies. watch may be nil when no inbox is
// configured; configPath and fullConfig, when set, persist inbox directory changes.
func NewServer(svc Services, cfg *config.ServerConfig, maxUpload int64, logger *zap.Logger, watch WatchService, configPath string, fullConfig *config.Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:         svc,
		config:      cfg,
		maxUpload:   maxUpload,
		logger:      logger,
		watch:       watch,
		configPath:  configPath,
		watchConfig: fullConfig,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	timeout := defaultRequestTimeout
	if s.config != nil && s.config.RequestTimeout > 0 {
		timeout = s.config.RequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireUser)

		r.Route("/documents", func(r chi.Router) {
			r.Use(middleware.Compress(5))
			r.Post("/", s.handleUploadDocument)
			r.Get("/", s.handleListDocuments)
			r.Get("/search", s.handleSearchDocuments)
			r.Get("/stats", s.handleDocumentStats)
			r.Get("/{id}", s.handleGetDocument)
			r.Patch("/{id}", s.handleRenameDocument)
			r.Delete("/{id}", s.handleDeleteDocument)
			r.Get("/{id}/status", s.handleDocumentStatus)
			r.Get("/{id}/content", s.handleDocumentContent)
			r.Get("/{id}/annotations", s.handleListDocumentAnnotations)
			r.Delete("/{id}/annotations", s.handleDeleteDocumentAnnotations)
			r.Post("/{id}/annotations/suggest", s.handleSuggestAnnotations)
			r.Post("/{id}/annotations/accept", s.handleAcceptSuggestions)
		})

		r.Route("/annotations", func(r chi.Router) {
			r.Post("/", s.handleCreateAnnotation)
			r.Post("/batch", s.handleCreateAnnotationBatch)
			r.Get("/", s.handleListAnnotations)
			r.Get("/{id}", s.handleGetAnnotation)
			r.Patch("/{id}", s.handleUpdateAnnotation)
			r.Delete("/{id}", s.handleDeleteAnnotation)
		})

		r.Route("/quizzes", func(r chi.Router) {
			r.Post("/generate", s.handleGenerateQuiz)
			r.Get("/", s.handleListQuizzes)
			r.Get("/{id}", s.handleGetQuiz)
			r.Patch("/{id}", s.handleUpdateQuiz)
			r.Delete("/{id}", s.handleDeleteQuiz)
			r.Post("/{id}/attempts", s.handleStartAttempt)
		})

		r.Route("/attempts", func(r chi.Router) {
			r.Get("/", s.handleListAttempts)
			r.Get("/{id}", s.handleGetAttempt)
			r.Post("/{id}/answers", s.handleSubmitAnswer)
			r.Post("/{id}/finish", s.handleFinishAttempt)
		})

		r.Post("/questions/{id}/evaluate", s.handleEvaluateAnswer)

		r.Route("/providers", func(r chi.Router) {
			r.Post("/", s.handleCreateProvider)
			r.Get("/", s.handleListProviders)
			r.Post("/test", s.handleTestProvider)
			r.Post("/refresh", s.handleRefreshProviders)
			r.Get("/{id}", s.handleGetProvider)
			r.Patch("/{id}", s.handleUpdateProvider)
			r.Delete("/{id}", s.handleDeleteProvider)
			r.Patch("/{id}/default", s.handleSetDefaultProvider)
			r.Patch("/{id}/status", s.handleToggleProviderStatus)
		})

		r.Route("/watch/directories", func(r chi.Router) {
			r.Get("/", s.handleWatchDirectoriesList)
			r.Post("/", s.handleWatchDirectoriesAdd)
			r.Delete("/", s.handleWatchDirectoriesRemove)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type userKey struct{}

// requireUser rejects requests without a user id header.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserIDHeader)
		if userID == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + UserIDHeader + " header"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps a service error to its status. Unclassified errors are logged and their
// message is not exposed.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		s.respondError(w, status, "internal server error")
		return
	}
	body := map[string]string{"error": err.Error()}
	if reason := apperr.ReasonOf(err); reason != "" {
		body["reason"] = string(reason)
	}
	s.respondJSON(w, status, body)
}

// decode reads a JSON body into v, reporting a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
