package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/annotation"
	"github.com/hyperjump/manabu/internal/attempt"
	"github.com/hyperjump/manabu/internal/blob"
	"github.com/hyperjump/manabu/internal/config"
	"github.com/hyperjump/manabu/internal/document"
	"github.com/hyperjump/manabu/internal/jobs"
	"github.com/hyperjump/manabu/internal/keyword"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/provider"
	"github.com/hyperjump/manabu/internal/quiz"
	"github.com/hyperjump/manabu/internal/storage"
)

const lesson = "Photosynthesis basics\n\nPlants convert light into chemical energy.\n\nChlorophyll absorbs red and blue light."

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

type testServer struct {
	handler http.Handler
	srv     *Server
}

func newTestServer(t *testing.T, watch WatchService, configPath string, cfg *config.Config) *testServer {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	blobs, err := blob.NewStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)
	index, err := keyword.NewMemIndex()
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	logger := zap.NewNop()
	factory := provider.NewFactory(store, config.ProviderConfig{}, provider.WithLogger(logger))
	runner := jobs.NewRunner(jobs.WithWorkers(2), jobs.WithLogger(logger))
	docs := document.NewService(store, blobs, runner, document.WithIndex(index), document.WithMaxUploadBytes(1<<20))
	quizzes := quiz.NewService(store, factory, runner, quiz.WithLogger(logger))
	require.NoError(t, runner.Register(docs.Handler()))
	require.NoError(t, runner.Register(quizzes.Handler()))
	runner.Start()
	t.Cleanup(runner.Stop)

	svc := Services{
		Documents:   docs,
		Annotations: annotation.NewService(store, factory),
		Quizzes:     quizzes,
		Attempts:    attempt.NewService(store),
		Providers:   provider.NewService(store, factory, logger),
	}
	srv := NewServer(svc, &config.ServerConfig{Port: 8080}, 1<<20, logger, watch, configPath, cfg)
	return &testServer{handler: srv.Handler(), srv: srv}
}

func (ts *testServer) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	r := httptest.NewRequest(method, path, rd)
	if user != "" {
		r.Header.Set(UserIDHeader, user)
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func (ts *testServer) upload(t *testing.T, user, filename, contentType, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	r.Header.Set(UserIDHeader, user)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v), w.Body.String())
}

// uploadProcessed uploads content and waits until processing completes.
func (ts *testServer) uploadProcessed(t *testing.T, user, filename, content string) *models.Document {
	t.Helper()
	w := ts.upload(t, user, filename, "text/plain", content)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var doc models.Document
	decodeBody(t, w, &doc)
	require.Eventually(t, func() bool {
		w := ts.do(t, http.MethodGet, "/api/v1/documents/"+doc.ID+"/status", user, nil)
		var st models.ProcessingStatus
		_ = json.NewDecoder(w.Body).Decode(&st)
		return st.Status == models.DocumentCompleted
	}, 5*time.Second, 20*time.Millisecond)
	return &doc
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil, "", nil)
	w := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRequireUser(t *testing.T) {
	ts := newTestServer(t, nil, "", nil)
	w := ts.do(t, http.MethodGet, "/api/v1/documents", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), UserIDHeader)
}

func TestDocuments_uploadAndRead(t *testing.T) {
	ts := newTestServer(t, nil, "", nil)
	doc := ts.uploadProcessed(t, "alice", "lesson.txt", lesson)

	w := ts.do(t, http.MethodGet, "/api/v1/documents/"+doc.ID+"/content", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var content document.Content
	decodeBody(t, w, &content)
	assert.Equal(t, lesson, content.CanonicalText)
	require.NotEmpty(t, content.Blocks)
	for _, b := range content.Blocks {
		assert.Equal(t, b.Text, content.CanonicalText[b.StartOffset:b.EndOffset])
	}

	w = ts.do(t, http.MethodGet, "/api/v1/documents?page=1&limit=5", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list documentList
	decodeBody(t, w, &list)
	assert.EqualValues(t, 1, list.Total)
	require.Len(t, list.Documents, 1)
	assert.Empty(t, list.Documents[0].CanonicalText)

	w = ts.do(t, http.MethodGet, "/api/v1/documents/search?q=chlorophyll", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.SearchResponse
	decodeBody(t, w, &resp)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, doc.ID, resp.Results[0].Document.ID)

	w = ts.do(t, http.MethodGet, "/api/v1/documents/stats", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.DocumentStats
	decodeBody(t, w, &stats)
	assert.EqualValues(t, 1, stats.CompletedFiles)

	w = ts.do(t, http.MethodPatch, "/api/v1/documents/"+doc.ID, "alice", map[string]string{"originalFilename": "plants.txt"})
	require.Equal(t, http.StatusOK, w.Code)
	var renamed models.Document
	decodeBody(t, w, &renamed)
	assert.Equal(t, "plants.txt", renamed.OriginalFilename)
}

func TestDocuments_otherUserGets404(t *testing.T) {
	ts := newTestServer(t, nil, "", nil)
	doc := ts.uploadProcessed(t, "alice", "lesson.txt", lesson)

	for _, path := range []string{
		"/api/v1/documents/" + doc.ID,
		"/api/v1/documents/" + doc.ID + "/status",
		"/api/v1/documents/" + doc.ID + "/content",
		"/api/v1/documents/" + doc.ID + "/annotations",
	} {
		w := ts.do(t, http.MethodGet, path, "bob", nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
	w := ts.do(t, http.MethodDelete, "/api/v1/documents/"+doc.ID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocuments_uploadErrors(t *testing.T) {
	ts := newTestServer(t, nil, "", nil)

	w := ts.upload(t, "alice", "photo.png", "image/png", "\x89PNG")
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = ts.upload(t, "alice", "empty.txt", "text/plain", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/documents", bytes.NewBufferString("{}"))
	r.Header.Set(UserIDHeader, "alice")
	r.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnnotations_overlapEviction(t *testing.T) {
	ts := newTestServer(t, nil, "", nil)
	doc := ts.uploadProcessed(t, "alice", "lesson.txt", lesson)

	w := ts.do(t, http.MethodPost, "/api/v1/annotations", "alice", annotation.CreateInput{
		DocumentID: doc.ID, Kind: models.AnnotationFocus, StartOffset: 0, EndOffset: 10,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first models.Annotation
	decodeBody(t, w, &first)
	assert.Equal(t, lesson[0:10], first.Text)

	w = ts.do(t, http.MethodPost, "/api/v1/annotations/batch", "alice", map[string]interface{}{
		"annotations": []annotation.CreateInput{
			{DocumentID: doc.ID, Kind: models.AnnotationExclude, StartOffset: 5, EndOffset: 15},
			{DocumentID: doc.ID, Kind: models.AnnotationFocus, StartOffset: 15, EndOffset: 20},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/v1/documents/"+doc.ID+"/annotations", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list annotationList
	decodeBody(t, w, &list)
	require.Len(t, list.Annotations, 2)
	assert.Equal(t, 5, list.Annotations[0].StartOffset)
	assert.Equal(t, 15, list.Annotations[1].StartOffset)

	w = ts.do(t, http.MethodGet, "/api/v1/annotations/"+first.ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/annotations", "alice", annotation.CreateInput{
		DocumentID: doc.ID, Kind: models.AnnotationFocus, StartOffset: 50, EndOffset: 5000,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/v1/documents/"+doc.ID+"/annotations", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":2}`, w.Body.String())
}

func TestAnnotations_suggestAndAccept(t *testing.T) {
	ts := newTestServer(t, nil, "", nil)
	doc := ts.uploadProcessed(t, "alice", "lesson.txt", lesson)

	w := ts.do(t, http.MethodPost, "/api/v1/documents/"+doc.ID+"/annotations/suggest", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Suggestions []models.AnnotationSuggestion `json:"suggestions"`
	}
	decodeBody(t, w, &out)
	require.NotEmpty(t, out.Suggestions)

	w = ts.do(t, http.MethodPost, "/api/v1/documents/"+doc.ID+"/annotations/accept", "alice",
		map[string]interface{}{"suggestions": out.Suggestions[:1]})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var list annotationList
	decodeBody(t, w, &list)
	require.Len(t, list.Annotations, 1)
	assert.Equal(t, models.SourceAISuggested, list.Annotations[0].Source)
}

func TestQuizFlow(t *testing.T) {
	ts := newTestServer(t, nil, "", nil)
	doc := ts.uploadProcessed(t, "alice", "lesson.txt", lesson)

	w := ts.do(t, http.MethodPost, "/api/v1/quizzes/generate", "alice", quiz.GenerateRequest{
		DocumentID: doc.ID, QuestionCount: 2, QuestionType: models.QuestionFillBlank,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var q models.Quiz
	decodeBody(t, w, &q)
	assert.Equal(t, models.QuizGenerating, q.Status)

	require.Eventually(t, func() bool {
		w := ts.do(t, http.MethodGet, "/api/v1/quizzes/"+q.ID, "alice", nil)
		_ = json.NewDecoder(w.Body).Decode(&q)
		return q.Status == models.QuizCompleted
	}, 5*time.Second, 20*time.Millisecond)
	require.Len(t, q.Questions, 2)

	w = ts.do(t, http.MethodPost, "/api/v1/questions/"+q.Questions[0].ID+"/evaluate", "alice", map[string]string{"answer": "answer"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ev models.Evaluation
	decodeBody(t, w, &ev)
	assert.Equal(t, 100, ev.Score)

	w = ts.do(t, http.MethodPost, "/api/v1/quizzes/"+q.ID+"/attempts", "alice", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var a models.QuizAttempt
	decodeBody(t, w, &a)
	assert.Equal(t, models.AttemptInProgress, a.Status)

	w = ts.do(t, http.MethodPost, "/api/v1/attempts/"+a.ID+"/answers", "alice",
		map[string]string{"questionId": q.Questions[0].ID, "answer": "Answer"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = ts.do(t, http.MethodPost, "/api/v1/attempts/"+a.ID+"/answers", "alice",
		map[string]string{"questionId": q.Questions[1].ID, "answer": "nope"})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/attempts/"+a.ID+"/finish", "alice", map[string]int{"timeSpent": 42})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeBody(t, w, &a)
	assert.Equal(t, models.AttemptSubmitted, a.Status)
	assert.Equal(t, 10, a.Score)
	assert.Equal(t, 20, a.TotalPoints)
	assert.InDelta(t, 50.0, a.Percentage, 0.001)

	w = ts.do(t, http.MethodPost, "/api/v1/attempts/"+a.ID+"/finish", "alice", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/attempts?quizId="+q.ID, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), a.ID)

	w = ts.do(t, http.MethodGet, "/api/v1/attempts/"+a.ID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPatch, "/api/v1/quizzes/"+q.ID, "alice", map[string]string{"title": "Plants"})
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &q)
	assert.Equal(t, "Plants", q.Title)

	w = ts.do(t, http.MethodDelete, "/api/v1/quizzes/"+q.ID, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodGet, "/api/v1/quizzes?documentId="+doc.ID, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"quizzes":[]}`, w.Body.String())
}

func TestQuiz_generateValidation(t *testing.T) {
	ts := newTestServer(t, nil, "", nil)
	doc := ts.uploadProcessed(t, "alice", "lesson.txt", lesson)

	w := ts.do(t, http.MethodPost, "/api/v1/quizzes/generate", "alice", quiz.GenerateRequest{
		DocumentID: doc.ID, QuestionCount: 0, QuestionType: models.QuestionMCQ,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/quizzes/generate", "bob", quiz.GenerateRequest{
		DocumentID: doc.ID, QuestionCount: 3, QuestionType: models.QuestionMCQ,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProviders(t *testing.T) {
	ts := newTestServer(t, nil, "", nil)

	w := ts.do(t, http.MethodPost, "/api/v1/providers", "admin", provider.CreateInput{
		Name: "offline", Type: models.ProviderMock,
		Config: models.ProviderConfig{APIKey: "abcd12345678", Model: "mock-model"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p models.Provider
	decodeBody(t, w, &p)
	assert.True(t, p.IsDefault)
	assert.Equal(t, "****5678", p.Config.APIKey)

	w = ts.do(t, http.MethodPost, "/api/v1/providers", "admin", provider.CreateInput{Name: "offline", Type: models.ProviderMock})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/providers", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "abcd12345678")

	w = ts.do(t, http.MethodPatch, "/api/v1/providers/"+p.ID+"/status", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &p)
	assert.Equal(t, models.ProviderInactive, p.Status)

	w = ts.do(t, http.MethodPost, "/api/v1/providers/test", "admin", provider.TestInput{Type: models.ProviderMock})
	require.Equal(t, http.StatusOK, w.Code)
	var res provider.TestResult
	decodeBody(t, w, &res)
	assert.True(t, res.Success)

	w = ts.do(t, http.MethodPost, "/api/v1/providers/refresh", "admin", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/v1/providers/"+p.ID, "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodGet, "/api/v1/providers/"+p.ID, "admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleWatchDirectories(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	cfg := &config.Config{}
	mock := &mockWatchService{dirs: []string{"/tmp/inbox"}}
	ts := newTestServer(t, mock, configPath, cfg)

	w := ts.do(t, http.MethodGet, "/api/v1/watch/directories", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"directories":["/tmp/inbox"]}`, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/v1/watch/directories", "alice", map[string]string{"path": dir})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, mock.dirs, dir)
	saved, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(saved), dir)

	w = ts.do(t, http.MethodPost, "/api/v1/watch/directories", "alice", map[string]string{"path": filepath.Join(dir, "missing")})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/v1/watch/directories?path="+dir, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, mock.dirs, dir)
}

func TestHandleWatchDirectories_notEnabled(t *testing.T) {
	ts := newTestServer(t, nil, "", nil)
	w := ts.do(t, http.MethodGet, "/api/v1/watch/directories", "alice", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}
