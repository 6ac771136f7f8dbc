package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/provider"
)

// Provider responses never carry the stored API key.

func maskedList(list []*models.Provider) []*models.Provider {
	out := make([]*models.Provider, len(list))
	for i, p := range list {
		out[i] = provider.Masked(p)
	}
	return out
}

func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var in provider.CreateInput
	if !s.decode(w, r, &in) {
		return
	}
	p, err := s.svc.Providers.Create(r.Context(), in)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, provider.Masked(p))
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Providers.List(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"providers": maskedList(list)})
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Providers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, provider.Masked(p))
}

func (s *Server) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	var in provider.UpdateInput
	if !s.decode(w, r, &in) {
		return
	}
	p, err := s.svc.Providers.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, provider.Masked(p))
}

func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Providers.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSetDefaultProvider(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Providers.SetDefault(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, provider.Masked(p))
}

func (s *Server) handleToggleProviderStatus(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Providers.ToggleStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, provider.Masked(p))
}

func (s *Server) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	var in provider.TestInput
	if !s.decode(w, r, &in) {
		return
	}
	s.respondJSON(w, http.StatusOK, s.svc.Providers.TestConnection(r.Context(), in))
}

func (s *Server) handleRefreshProviders(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	s.svc.Providers.Refresh(id)
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}
