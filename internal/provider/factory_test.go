package provider

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/config"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/storage"
)

func newTestRepo(t *testing.T) *storage.SQLStorage {
	t.Helper()
	s, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// countingBuilder returns a distinct Mock per call and counts calls.
func countingBuilder(calls *int32) BuildFunc {
	return func(ctx context.Context, p *models.Provider) (Provider, error) {
		atomic.AddInt32(calls, 1)
		return NewMock(0), nil
	}
}

func TestFactory_fallsBackToMockWithoutConfig(t *testing.T) {
	f := NewFactory(newTestRepo(t), config.ProviderConfig{})
	p, err := f.Get(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())
}

func TestFactory_cachesPerProvider(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateProvider(ctx, &models.Provider{
		ID: "p1", Name: "gem", Type: models.ProviderGemini, Status: models.ProviderActive,
		Config: models.ProviderConfig{APIKey: "k"}, IsDefault: true,
	}))

	var calls int32
	f := NewFactory(repo, config.ProviderConfig{}, WithBuilder(countingBuilder(&calls)), WithLogger(zap.NewNop()))

	first, err := f.Get(ctx, "")
	require.NoError(t, err)
	second, err := f.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.True(t, f.Cached("p1"))

	f.Refresh("p1")
	assert.False(t, f.Cached("p1"))
	third, err := f.Get(ctx, "p1")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	f.RefreshAll()
	assert.False(t, f.Cached("p1"))
}

// blockingProvider holds GenerateCompletion open until release is closed.
type blockingProvider struct {
	*Mock
	entered chan struct{}
	release chan struct{}
	closed  atomic.Bool
}

func (b *blockingProvider) GenerateCompletion(ctx context.Context, messages []Message) (*Completion, error) {
	close(b.entered)
	<-b.release
	if b.closed.Load() {
		return nil, errors.New("client closed")
	}
	return &Completion{Content: "ok"}, nil
}

func (b *blockingProvider) Close() error {
	b.closed.Store(true)
	return nil
}

func TestFactory_refreshWaitsForRunningCalls(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateProvider(ctx, &models.Provider{
		ID: "p1", Name: "gem", Type: models.ProviderGemini, Status: models.ProviderActive,
		Config: models.ProviderConfig{APIKey: "k"}, IsDefault: true,
	}))
	bp := &blockingProvider{Mock: NewMock(0), entered: make(chan struct{}), release: make(chan struct{})}
	f := NewFactory(repo, config.ProviderConfig{}, WithBuilder(func(context.Context, *models.Provider) (Provider, error) {
		return bp, nil
	}))

	p, err := f.Get(ctx, "p1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.GenerateCompletion(ctx, []Message{{Role: RoleUser, Content: "hi"}})
		done <- err
	}()
	<-bp.entered

	f.Refresh("p1")
	assert.False(t, f.Cached("p1"))
	assert.False(t, bp.closed.Load(), "a running call keeps the client open")

	close(bp.release)
	require.NoError(t, <-done)
	assert.True(t, bp.closed.Load(), "the client is closed once the call returns")
}

func TestFactory_refreshClosesIdleProvider(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateProvider(ctx, &models.Provider{
		ID: "p1", Name: "gem", Type: models.ProviderGemini, Status: models.ProviderActive,
		Config: models.ProviderConfig{APIKey: "k"}, IsDefault: true,
	}))
	bp := &blockingProvider{Mock: NewMock(0)}
	f := NewFactory(repo, config.ProviderConfig{}, WithBuilder(func(context.Context, *models.Provider) (Provider, error) {
		return bp, nil
	}))

	_, err := f.Get(ctx, "")
	require.NoError(t, err)
	f.RefreshAll()
	assert.True(t, bp.closed.Load())
}

func TestFactory_selection(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateProvider(ctx, &models.Provider{
		ID: "off", Name: "off", Type: models.ProviderGemini, Status: models.ProviderInactive,
		Config: models.ProviderConfig{APIKey: "k"},
	}))
	require.NoError(t, repo.CreateProvider(ctx, &models.Provider{
		ID: "nokey", Name: "nokey", Type: models.ProviderOpenAI, Status: models.ProviderActive,
	}))

	var calls int32
	f := NewFactory(repo, config.ProviderConfig{}, WithBuilder(countingBuilder(&calls)))

	for _, id := range []string{"off", "nokey", "missing"} {
		p, err := f.Get(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, "mock", p.Name(), id)
	}
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))

	// A global key makes the keyless row usable.
	f = NewFactory(repo, config.ProviderConfig{OpenAIAPIKey: "sk"}, WithBuilder(countingBuilder(&calls)))
	_, err := f.Get(ctx, "nokey")
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestFactory_constructionFailureUsesMock(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateProvider(ctx, &models.Provider{
		ID: "p", Name: "p", Type: models.ProviderGemini, Status: models.ProviderActive,
		Config: models.ProviderConfig{APIKey: "k"},
	}))
	f := NewFactory(repo, config.ProviderConfig{}, WithBuilder(func(context.Context, *models.Provider) (Provider, error) {
		return nil, errors.New("boom")
	}))
	p, err := f.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())
	assert.False(t, f.Cached("p"))
}

func TestFactory_configProviderWithoutRows(t *testing.T) {
	var seen *models.Provider
	f := NewFactory(newTestRepo(t), config.ProviderConfig{DefaultType: "gemini", APIKey: "g", Model: "gemini-x"},
		WithBuilder(func(_ context.Context, p *models.Provider) (Provider, error) {
			seen = p
			return NewMock(0), nil
		}))
	_, err := f.Get(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, models.ProviderGemini, seen.Type)
	assert.Equal(t, "g", seen.Config.APIKey)
	assert.Equal(t, "gemini-x", seen.Config.Model)
}

func TestService_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	svc := NewService(repo, NewFactory(repo, config.ProviderConfig{}), zap.NewNop())

	first, err := svc.Create(ctx, CreateInput{Name: "primary", Type: models.ProviderMock})
	require.NoError(t, err)
	assert.True(t, first.IsDefault, "first provider becomes default")
	assert.Equal(t, models.ProviderActive, first.Status)

	second, err := svc.Create(ctx, CreateInput{Name: "backup", Type: models.ProviderOpenAI, Config: models.ProviderConfig{APIKey: "sk-secret-1234"}})
	require.NoError(t, err)
	assert.False(t, second.IsDefault)

	_, err = svc.Create(ctx, CreateInput{Name: "primary", Type: models.ProviderMock})
	assert.True(t, errors.Is(err, apperr.ErrConflict), "duplicate name: %v", err)

	_, err = svc.Create(ctx, CreateInput{Name: "x", Type: "bogus"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	masked := "****1234"
	updated, err := svc.Update(ctx, second.ID, UpdateInput{Config: &models.ProviderConfig{APIKey: masked, Model: "gpt-x"}})
	require.NoError(t, err)
	assert.Equal(t, "sk-secret-1234", updated.Config.APIKey, "masked key keeps the stored one")
	assert.Equal(t, "gpt-x", updated.Config.Model)
	assert.Equal(t, masked, Masked(updated).Config.APIKey)

	toggled, err := svc.ToggleStatus(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderInactive, toggled.Status)
	toggled, err = svc.ToggleStatus(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderActive, toggled.Status)

	def, err := svc.SetDefault(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, def.IsDefault)
	got, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDefault)

	require.NoError(t, svc.Remove(ctx, first.ID))
	_, err = svc.Get(ctx, first.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestService_TestConnection(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewService(repo, NewFactory(repo, config.ProviderConfig{}), nil)

	res := svc.TestConnection(context.Background(), TestInput{Type: models.ProviderMock})
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Response)

	res = svc.TestConnection(context.Background(), TestInput{Type: models.ProviderClaude, Config: models.ProviderConfig{APIKey: "k"}})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unsupported")

	res = svc.TestConnection(context.Background(), TestInput{Type: models.ProviderGemini})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}
