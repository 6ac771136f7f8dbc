package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/storage"
)

// testPrompt is the completion sent by TestConnection.
const testPrompt = "Reply with the single word: ok"

// CreateInput holds the fields of a new provider.
type CreateInput struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Type        models.ProviderType   `json:"type"`
	Config      models.ProviderConfig `json:"config"`
	Status      models.ProviderStatus `json:"status"`
	Priority    int                   `json:"priority"`
	IsDefault   bool                  `json:"isDefault"`
}

// UpdateInput holds the fields to change; nil fields are left unchanged.
type UpdateInput struct {
	Name        *string                `json:"name"`
	Description *string                `json:"description"`
	Type        *models.ProviderType   `json:"type"`
	Config      *models.ProviderConfig `json:"config"`
	Status      *models.ProviderStatus `json:"status"`
	Priority    *int                   `json:"priority"`
	IsDefault   *bool                  `json:"isDefault"`
}

// TestInput describes a provider configuration to probe without saving it.
type TestInput struct {
	Type   models.ProviderType   `json:"type"`
	Config models.ProviderConfig `json:"config"`
}

// TestResult is the outcome of TestConnection.
type TestResult struct {
	Success   bool   `json:"success"`
	LatencyMs int64  `json:"latencyMs"`
	Response  string `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Service manages provider rows and keeps the factory cache in step with them.
type Service struct {
	repo    storage.ProviderRepository
	factory *Factory
	logger  *zap.Logger
}

// NewService returns a provider admin service.
func NewService(repo storage.ProviderRepository, factory *Factory, logger *zap.Logger) *Service {
	return &Service{repo: repo, factory: factory, logger: logger}
}

func validType(t models.ProviderType) bool {
	switch t {
	case models.ProviderGemini, models.ProviderOpenAI, models.ProviderAzure, models.ProviderClaude,
		models.ProviderLocal, models.ProviderMock:
		return true
	}
	return false
}

func validStatus(s models.ProviderStatus) bool {
	switch s {
	case models.ProviderActive, models.ProviderInactive, models.ProviderMaintenance:
		return true
	}
	return false
}

// Create adds a provider. The first provider, or one created with IsDefault, becomes the
// only default.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Provider, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("provider name is required")
	}
	if !validType(in.Type) {
		return nil, apperr.Validation("unknown provider type: %s", in.Type)
	}
	status := in.Status
	if status == "" {
		status = models.ProviderActive
	}
	if !validStatus(status) {
		return nil, apperr.Validation("unknown provider status: %s", status)
	}

	existing, err := s.repo.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	p := &models.Provider{
		ID:          uuid.New().String(),
		Name:        name,
		Description: in.Description,
		Type:        in.Type,
		Config:      in.Config,
		Status:      status,
		Priority:    in.Priority,
		IsDefault:   in.IsDefault || len(existing) == 0,
	}
	if err := s.repo.CreateProvider(ctx, p); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Info("provider created", zap.String("id", p.ID), zap.String("name", p.Name), zap.String("type", string(p.Type)))
	}
	return p, nil
}

// List returns providers by priority descending, then name.
func (s *Service) List(ctx context.Context) ([]*models.Provider, error) {
	return s.repo.ListProviders(ctx)
}

// Get returns one provider.
func (s *Service) Get(ctx context.Context, id string) (*models.Provider, error) {
	return s.repo.GetProvider(ctx, id)
}

// Update applies in to the provider and drops its cached instance. An empty or masked API
// key keeps the stored one.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*models.Provider, error) {
	p, err := s.repo.GetProvider(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.Validation("provider name is required")
		}
		p.Name = name
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.Type != nil {
		if !validType(*in.Type) {
			return nil, apperr.Validation("unknown provider type: %s", *in.Type)
		}
		p.Type = *in.Type
	}
	if in.Config != nil {
		cfg := *in.Config
		if cfg.APIKey == "" || strings.HasPrefix(cfg.APIKey, "****") {
			cfg.APIKey = p.Config.APIKey
		}
		p.Config = cfg
	}
	if in.Status != nil {
		if !validStatus(*in.Status) {
			return nil, apperr.Validation("unknown provider status: %s", *in.Status)
		}
		p.Status = *in.Status
	}
	if in.Priority != nil {
		p.Priority = *in.Priority
	}
	if in.IsDefault != nil {
		p.IsDefault = *in.IsDefault
	}
	if err := s.repo.UpdateProvider(ctx, p); err != nil {
		return nil, err
	}
	s.factory.Refresh(id)
	return p, nil
}

// Remove deletes a provider and drops its cached instance.
func (s *Service) Remove(ctx context.Context, id string) error {
	if err := s.repo.DeleteProvider(ctx, id); err != nil {
		return err
	}
	s.factory.Refresh(id)
	return nil
}

// SetDefault makes id the only default provider.
func (s *Service) SetDefault(ctx context.Context, id string) (*models.Provider, error) {
	if err := s.repo.SetDefaultProvider(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetProvider(ctx, id)
}

// ToggleStatus switches an active provider to inactive and any other status to active.
func (s *Service) ToggleStatus(ctx context.Context, id string) (*models.Provider, error) {
	p, err := s.repo.GetProvider(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == models.ProviderActive {
		p.Status = models.ProviderInactive
	} else {
		p.Status = models.ProviderActive
	}
	if err := s.repo.UpdateProvider(ctx, p); err != nil {
		return nil, err
	}
	s.factory.Refresh(id)
	return p, nil
}

// TestConnection builds a provider from in and sends a short completion. Failures are
// reported in the result, not as an error.
func (s *Service) TestConnection(ctx context.Context, in TestInput) *TestResult {
	if !validType(in.Type) {
		return &TestResult{Error: fmt.Sprintf("unknown provider type: %s", in.Type)}
	}
	p, err := s.factory.Build(ctx, s.factory.withDefaults(&models.Provider{Type: in.Type, Config: in.Config}))
	if err != nil {
		return &TestResult{Error: err.Error()}
	}
	defer closeProvider(p)

	start := time.Now()
	resp, err := p.GenerateCompletion(ctx, []Message{{Role: RoleUser, Content: testPrompt}})
	result := &TestResult{LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.Response = resp.Content
	return result
}

// Refresh drops the cached instance of id, or every cached instance when id is empty, so the
// next call rebuilds from the stored config.
func (s *Service) Refresh(id string) {
	if id == "" {
		s.factory.RefreshAll()
		return
	}
	s.factory.Refresh(id)
}

// Masked returns a copy of p with the API key hidden.
func Masked(p *models.Provider) *models.Provider {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Config.APIKey = models.MaskAPIKey(p.Config.APIKey)
	return &cp
}
