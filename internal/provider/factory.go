package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/config"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/storage"
)

// configCacheKey caches the provider built from the config file when no row exists.
const configCacheKey = "config"

// BuildFunc constructs a Provider for a provider row.
type BuildFunc func(ctx context.Context, p *models.Provider) (Provider, error)

// Factory resolves provider rows to Provider instances and caches one instance per row.
type Factory struct {
	repo     storage.ProviderRepository
	defaults config.ProviderConfig
	httpc    *http.Client
	logger   *zap.Logger
	build    BuildFunc
	mock     *Mock

	mu    sync.Mutex
	cache map[string]*cached
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithLogger sets a logger for fallback and cache events.
func WithLogger(l *zap.Logger) FactoryOption {
	return func(f *Factory) { f.logger = l }
}

// WithHTTPClient sets the client used by OpenAI-compatible providers.
func WithHTTPClient(c *http.Client) FactoryOption {
	return func(f *Factory) { f.httpc = c }
}

// WithBuilder replaces the constructor used for provider rows.
func WithBuilder(b BuildFunc) FactoryOption {
	return func(f *Factory) { f.build = b }
}

// NewFactory returns a Factory reading rows from repo. defaults supplies credentials and
// settings for rows that leave them empty.
func NewFactory(repo storage.ProviderRepository, defaults config.ProviderConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		repo:     repo,
		defaults: defaults,
		mock:     NewMock(defaults.MockLatency),
		cache:    make(map[string]*cached),
	}
	f.build = f.Build
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get returns the provider for providerID, or the default provider when providerID is
// empty. It falls back to Mock when no active row or credentials exist and when
// construction fails. Errors from the returned provider's calls are not handled here.
func (f *Factory) Get(ctx context.Context, providerID string) (Provider, error) {
	row, err := f.selectRow(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		if !f.hasGlobalCredentials() {
			f.debug("no active provider configured, using mock")
			return f.mock, nil
		}
		row = &models.Provider{ID: configCacheKey, Type: models.ProviderType(f.defaults.DefaultType), Status: models.ProviderActive}
	}
	if row.Type == models.ProviderMock {
		return f.mock, nil
	}
	if !f.usable(row) {
		f.debug("provider has no credentials, using mock", zap.String("provider", row.Name))
		return f.mock, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.cache[row.ID]; ok {
		return p, nil
	}
	p, err := f.build(ctx, f.withDefaults(row))
	if err != nil {
		if f.logger != nil {
			f.logger.Warn("failed to create provider, using mock", zap.String("provider", row.Name), zap.String("type", string(row.Type)), zap.Error(err))
		}
		return f.mock, nil
	}
	c := &cached{Provider: p}
	f.cache[row.ID] = c
	return c, nil
}

func (f *Factory) selectRow(ctx context.Context, providerID string) (*models.Provider, error) {
	if providerID == "" {
		row, err := f.repo.DefaultProvider(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load default provider: %w", err)
		}
		return row, nil
	}
	row, err := f.repo.GetProvider(ctx, providerID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			f.debug("provider not found, using mock", zap.String("id", providerID))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load provider: %w", err)
	}
	if !models.ProviderIsActive(row) {
		f.debug("provider is not active, using mock", zap.String("id", providerID))
		return nil, nil
	}
	return row, nil
}

func (f *Factory) hasGlobalCredentials() bool {
	return f.defaults.APIKey != "" || f.defaults.OpenAIAPIKey != ""
}

// globalKey returns the configured key for a provider type.
func (f *Factory) globalKey(t models.ProviderType) string {
	switch t {
	case models.ProviderGemini:
		return f.defaults.APIKey
	case models.ProviderOpenAI, models.ProviderAzure:
		return f.defaults.OpenAIAPIKey
	}
	return ""
}

func (f *Factory) usable(p *models.Provider) bool {
	if p.Type == models.ProviderLocal {
		return true
	}
	return strings.TrimSpace(p.Config.APIKey) != "" || f.globalKey(p.Type) != ""
}

// withDefaults fills empty row settings from the config file.
func (f *Factory) withDefaults(p *models.Provider) *models.Provider {
	cp := *p
	c := &cp.Config
	if c.APIKey == "" {
		c.APIKey = f.globalKey(cp.Type)
	}
	if models.ProviderType(f.defaults.DefaultType) == cp.Type {
		if c.Model == "" {
			c.Model = f.defaults.Model
		}
		if c.BaseURL == "" {
			c.BaseURL = f.defaults.BaseURL
		}
	}
	if c.Temperature == 0 {
		c.Temperature = f.defaults.Temperature
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = f.defaults.MaxTokens
	}
	if c.Timeout == 0 {
		c.Timeout = int(f.defaults.Timeout.Milliseconds())
	}
	return &cp
}

// Build constructs an uncached provider for p.
func (f *Factory) Build(ctx context.Context, p *models.Provider) (Provider, error) {
	switch p.Type {
	case models.ProviderMock:
		return f.mock, nil
	case models.ProviderGemini:
		return NewGemini(ctx, p.Config)
	case models.ProviderOpenAI, models.ProviderAzure, models.ProviderLocal:
		return NewOpenAI(p.Type, p.Config, f.httpc)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", p.Type)
	}
}

// Refresh drops the cached instance for id so the next Get rebuilds it. The dropped
// instance is closed once its running calls return.
func (f *Factory) Refresh(id string) {
	f.mu.Lock()
	c, ok := f.cache[id]
	delete(f.cache, id)
	f.mu.Unlock()
	if ok {
		c.retire()
	}
	f.debug("provider cache cleared", zap.String("id", id))
}

// RefreshAll drops every cached instance.
func (f *Factory) RefreshAll() {
	f.mu.Lock()
	old := f.cache
	f.cache = make(map[string]*cached)
	f.mu.Unlock()
	for _, c := range old {
		c.retire()
	}
	f.debug("all provider caches cleared")
}

// Cached reports whether an instance for id is cached.
func (f *Factory) Cached(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.cache[id]
	return ok
}

func closeProvider(p Provider) {
	if c, ok := p.(io.Closer); ok {
		_ = c.Close()
	}
}

func (f *Factory) debug(msg string, fields ...zap.Field) {
	if f.logger != nil {
		f.logger.Debug(msg, fields...)
	}
}
