package quiz

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/jobs"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/provider"
	"github.com/hyperjump/manabu/internal/storage"
)

// stubProvider wraps Mock and overrides completions.
type stubProvider struct {
	*provider.Mock
	reply   string
	err     error
	panicky bool
	prompts []string
}

func (p *stubProvider) GenerateCompletion(ctx context.Context, messages []provider.Message) (*provider.Completion, error) {
	if p.panicky {
		panic("provider exploded")
	}
	p.prompts = append(p.prompts, messages[len(messages)-1].Content)
	if p.err != nil {
		return nil, p.err
	}
	if p.reply == "" {
		return p.Mock.GenerateCompletion(ctx, messages)
	}
	return &provider.Completion{Content: p.reply}, nil
}

type stubSource struct{ p provider.Provider }

func (s stubSource) Get(context.Context, string) (provider.Provider, error) { return s.p, nil }

type fixture struct {
	store  *storage.SQLStorage
	runner *jobs.Runner
	svc    *Service
	prov   *stubProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	prov := &stubProvider{Mock: provider.NewMock(0)}
	runner := jobs.NewRunner(jobs.WithWorkers(1))
	svc := NewService(store, stubSource{p: prov}, runner, WithLogger(zap.NewNop()))
	require.NoError(t, runner.Register(svc.Handler()))
	runner.Start()
	t.Cleanup(runner.Stop)
	return &fixture{store: store, runner: runner, svc: svc, prov: prov}
}

func (f *fixture) seedDocument(t *testing.T, id, userID, text string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.CreateDocument(ctx, &models.Document{
		ID: id, UserID: userID, Filename: id + ".txt", OriginalFilename: "biology.txt",
		MimeType: "text/plain", Extension: ".txt", Status: models.DocumentProcessing,
	}))
	if text != "" {
		require.NoError(t, f.store.CompleteDocument(ctx, id, text, nil, nil))
	}
}

func TestGenerate_fromFullText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDocument(t, "d1", "alice", "Cells divide by mitosis. DNA stores genetic information.")

	placeholder, err := f.svc.Generate(ctx, "alice", GenerateRequest{DocumentID: "d1", QuestionCount: 3, QuestionType: models.QuestionMCQ})
	require.NoError(t, err)
	assert.Equal(t, models.QuizGenerating, placeholder.Status)
	assert.Equal(t, "biology.txt - Generated quiz", placeholder.Title)
	assert.Equal(t, "Generated from full document text: 3 mcq questions", placeholder.Description)
	assert.Equal(t, models.ContentFromFullText, placeholder.Metadata["contentSource"])

	f.runner.Stop()

	quiz, err := f.svc.Get(ctx, "alice", placeholder.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuizCompleted, quiz.Status)
	require.Len(t, quiz.Questions, 3)
	assert.Equal(t, 3, quiz.QuestionCount)
	assert.Equal(t, 30, quiz.TotalPoints)
	for i, q := range quiz.Questions {
		assert.Equal(t, i+1, q.Order)
		assert.Equal(t, 10, q.Points)
		assert.Equal(t, models.QuestionMCQ, q.Kind)
		assert.Equal(t, models.DifficultyMedium, q.Difficulty)
	}
	require.Len(t, f.prov.prompts, 1)
	assert.Contains(t, f.prov.prompts[0], "DNA stores genetic information.")
}

func TestGenerate_usesFocusAnnotationsInOffsetOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	text := "Alpha facts here. Beta facts here. Gamma facts here."
	f.seedDocument(t, "d1", "alice", text)
	for _, a := range []*models.Annotation{
		{ID: "a2", Kind: models.AnnotationFocus, Text: "Gamma facts here.", StartOffset: 35, EndOffset: 52},
		{ID: "a1", Kind: models.AnnotationFocus, Text: "Alpha facts here.", StartOffset: 0, EndOffset: 17},
		{ID: "a3", Kind: models.AnnotationExclude, Text: "Beta facts here.", StartOffset: 18, EndOffset: 34},
	} {
		a.DocumentID, a.UserID, a.Source = "d1", "alice", models.SourceManual
		_, err := f.store.ReplaceOverlapping(ctx, a)
		require.NoError(t, err)
	}

	quiz, err := f.svc.Generate(ctx, "alice", GenerateRequest{DocumentID: "d1", QuestionCount: 2, QuestionType: models.QuestionFillBlank, Difficulty: models.DifficultyHard})
	require.NoError(t, err)
	assert.Equal(t, "Generated from focus annotations: 2 fill_blank questions", quiz.Description)
	f.runner.Stop()

	require.Len(t, f.prov.prompts, 1)
	assert.Contains(t, f.prov.prompts[0], "Alpha facts here.\n\nGamma facts here.")
	assert.NotContains(t, f.prov.prompts[0], "Beta facts here.")
}

func TestGenerate_validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDocument(t, "ready", "alice", "Some text.")
	f.seedDocument(t, "pending", "alice", "")

	tests := []struct {
		name string
		user string
		req  GenerateRequest
		want error
	}{
		{"bad type", "alice", GenerateRequest{DocumentID: "ready", QuestionCount: 1, QuestionType: "essay"}, apperr.ErrValidation},
		{"zero count", "alice", GenerateRequest{DocumentID: "ready", QuestionCount: 0, QuestionType: models.QuestionMCQ}, apperr.ErrValidation},
		{"too many", "alice", GenerateRequest{DocumentID: "ready", QuestionCount: 51, QuestionType: models.QuestionMCQ}, apperr.ErrValidation},
		{"bad difficulty", "alice", GenerateRequest{DocumentID: "ready", QuestionCount: 1, QuestionType: models.QuestionMCQ, Difficulty: "insane"}, apperr.ErrValidation},
		{"other user", "bob", GenerateRequest{DocumentID: "ready", QuestionCount: 1, QuestionType: models.QuestionMCQ}, apperr.ErrNotFound},
		{"not processed", "alice", GenerateRequest{DocumentID: "pending", QuestionCount: 1, QuestionType: models.QuestionMCQ}, apperr.ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Generate(ctx, tt.user, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGenerate_providerFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDocument(t, "d1", "alice", "Some text.")
	f.prov.err = apperr.Provider(apperr.ReasonRateLimit, "gemini rate limit exceeded", nil)

	quiz, err := f.svc.Generate(ctx, "alice", GenerateRequest{DocumentID: "d1", QuestionCount: 2, QuestionType: models.QuestionMCQ})
	require.NoError(t, err)
	f.runner.Stop()

	got, err := f.svc.Get(ctx, "alice", quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuizFailed, got.Status)
	assert.Contains(t, got.GenerationError, "rate limit")
}

func TestGenerate_panicMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDocument(t, "d1", "alice", "Some text.")
	f.prov.panicky = true

	quiz, err := f.svc.Generate(ctx, "alice", GenerateRequest{DocumentID: "d1", QuestionCount: 1, QuestionType: models.QuestionMCQ})
	require.NoError(t, err)
	f.runner.Stop()

	got, err := f.svc.Get(ctx, "alice", quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuizFailed, got.Status)
	assert.Contains(t, got.GenerationError, "provider exploded")
}

func TestGenerate_capsToRequestedCountAndUsesLineFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDocument(t, "d1", "alice", "Some text.")
	f.prov.reply = "1. First?\nA. one\nB. two\n2. Second?\nA. x\n3. Third?"

	quiz, err := f.svc.Generate(ctx, "alice", GenerateRequest{DocumentID: "d1", QuestionCount: 2, QuestionType: models.QuestionMCQ})
	require.NoError(t, err)
	f.runner.Stop()

	got, err := f.svc.Get(ctx, "alice", quiz.ID)
	require.NoError(t, err)
	require.Equal(t, models.QuizCompleted, got.Status)
	require.Len(t, got.Questions, 2)
	assert.Equal(t, "First?", got.Questions[0].Stem)
	assert.Equal(t, []string{"one", "two"}, got.Questions[0].Options)
	assert.Equal(t, 20, got.TotalPoints)
}

func TestGenerate_unparseableReplyFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDocument(t, "d1", "alice", "Some text.")
	f.prov.reply = "I cannot help with that."

	quiz, err := f.svc.Generate(ctx, "alice", GenerateRequest{DocumentID: "d1", QuestionCount: 2, QuestionType: models.QuestionMCQ})
	require.NoError(t, err)
	f.runner.Stop()

	got, err := f.svc.Get(ctx, "alice", quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuizFailed, got.Status)
}

func TestQuiz_ListUpdateRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDocument(t, "d1", "alice", "Some text.")
	quiz, err := f.svc.Generate(ctx, "alice", GenerateRequest{DocumentID: "d1", QuestionCount: 1, QuestionType: models.QuestionShortAnswer})
	require.NoError(t, err)
	f.runner.Stop()

	list, err := f.svc.List(ctx, "alice", "d1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	_, err = f.svc.List(ctx, "bob", "d1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	title := "Chapter 1"
	updated, err := f.svc.Update(ctx, "alice", quiz.ID, &title, nil)
	require.NoError(t, err)
	assert.Equal(t, "Chapter 1", updated.Title)

	empty := " "
	_, err = f.svc.Update(ctx, "alice", quiz.ID, &empty, nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	require.NoError(t, f.svc.Remove(ctx, "alice", quiz.ID))
	_, err = f.svc.Get(ctx, "alice", quiz.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEvaluateAnswer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDocument(t, "d1", "alice", "Some text.")
	quiz, err := f.svc.Generate(ctx, "alice", GenerateRequest{DocumentID: "d1", QuestionCount: 1, QuestionType: models.QuestionFillBlank})
	require.NoError(t, err)
	f.runner.Stop()

	got, err := f.svc.Get(ctx, "alice", quiz.ID)
	require.NoError(t, err)
	require.Len(t, got.Questions, 1)
	qid := got.Questions[0].ID

	ev, err := f.svc.EvaluateAnswer(ctx, "alice", qid, "answer")
	require.NoError(t, err)
	assert.Equal(t, 100, ev.Score)

	_, err = f.svc.EvaluateAnswer(ctx, "bob", qid, "answer")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEvaluateAnswer_wrapsProviderFailure(t *testing.T) {
	boom := errors.New("connection reset")
	svc := NewService(nil, stubSource{p: failingEvaluator{provider.NewMock(0), boom}}, nil)
	_, err := svc.evaluateWith(context.Background(), &models.Question{Stem: "q", CorrectAnswer: "a"}, "b")
	assert.ErrorIs(t, err, apperr.ErrProvider)
	assert.ErrorIs(t, err, boom)
}

type failingEvaluator struct {
	*provider.Mock
	err error
}

func (f failingEvaluator) EvaluateAnswer(context.Context, string, string, string) (*models.Evaluation, error) {
	return nil, f.err
}

func TestParseQuestions(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		requested models.QuestionKind
		wantLen   int
		wantKind  models.QuestionKind
	}{
		{"requested kind overrides reply", `[{"type":"mcq","question":"Q"}]`, models.QuestionShortAnswer, 1, models.QuestionShortAnswer},
		{"reply kind kept without request", `[{"type":"short","question":"Q"}]`, "", 1, models.QuestionShortAnswer},
		{"json object defaults kind", `{"questions":[{"question":"Q"}]}`, models.QuestionFillBlank, 1, models.QuestionFillBlank},
		{"fenced", "```json\n[{\"question\":\"Q\"}]\n```", models.QuestionMCQ, 1, models.QuestionMCQ},
		{"lines", "1、What?\n2. Why?", models.QuestionShortAnswer, 2, models.QuestionShortAnswer},
		{"nothing", "no questions here", models.QuestionMCQ, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseQuestions(tt.raw, tt.requested)
			require.Len(t, got, tt.wantLen)
			if tt.wantLen > 0 {
				assert.Equal(t, tt.wantKind, got[0].Kind)
			}
		})
	}

	got := ParseQuestions("1. Q?\nA. a\nB. b", models.QuestionFillBlank)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Options, "options are only collected for mcq")
}
