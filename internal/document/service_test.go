package document

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/blob"
	"github.com/hyperjump/manabu/internal/fileid"
	"github.com/hyperjump/manabu/internal/jobs"
	"github.com/hyperjump/manabu/internal/keyword"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/storage"
)

const biology = "Cell biology basics\n\nMitochondria produce energy for the cell.\n\nChloroplasts capture light."

// inlineRunner runs each job as soon as it is submitted, the way a runner would.
type inlineRunner struct {
	handler jobs.Handler
}

func (r *inlineRunner) Submit(ctx context.Context, job jobs.Job) error {
	if err := r.handler.Run(ctx, job); err != nil {
		r.handler.Fail(ctx, job, err)
	}
	return nil
}

type fixture struct {
	svc   *Service
	store *storage.SQLStorage
	blobs *blob.Store
	index *keyword.BleveIndex
}

func newFixture(t *testing.T, opts ...Option) *fixture {
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

	runner := &inlineRunner{}
	opts = append([]Option{WithIndex(index), WithLogger(zap.NewNop())}, opts...)
	svc := NewService(store, blobs, runner, opts...)
	runner.handler = svc.Handler()
	return &fixture{svc: svc, store: store, blobs: blobs, index: index}
}

func TestUpload_processesWithRunner(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer store.Close()
	blobs, err := blob.NewStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	runner := jobs.NewRunner(jobs.WithWorkers(2))
	svc := NewService(store, blobs, runner)
	require.NoError(t, runner.Register(svc.Handler()))
	runner.Start()

	ctx := context.Background()
	doc, err := svc.Upload(ctx, "alice", "notes.txt", "text/plain", []byte(biology))
	require.NoError(t, err)
	assert.Equal(t, models.DocumentProcessing, doc.Status)
	assert.Equal(t, "notes.txt", doc.OriginalFilename)
	assert.Equal(t, ".txt", doc.Extension)
	assert.Equal(t, int64(len(biology)), doc.Size)

	runner.Stop()

	status, err := svc.ProcessingStatus(ctx, "alice", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentCompleted, status.Status)
	assert.Empty(t, status.Error)

	content, err := svc.Content(ctx, "alice", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, biology, content.CanonicalText)
	require.Len(t, content.Blocks, 3)
	for _, b := range content.Blocks {
		assert.Equal(t, b.Text, content.CanonicalText[b.StartOffset:b.EndOffset])
	}
}

func TestUpload_validation(t *testing.T) {
	f := newFixture(t, WithMaxUploadBytes(16))
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, "alice", "", "text/plain", []byte("x"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.Upload(ctx, "alice", "a.txt", "text/plain", nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.Upload(ctx, "alice", "a.txt", "text/plain", []byte("this is more than sixteen bytes"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.Upload(ctx, "alice", "archive.zip", "application/zip", []byte("PK"))
	assert.ErrorIs(t, err, apperr.ErrUnsupportedFormat)

	docs, total, err := f.svc.List(ctx, "alice", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, docs)
}

func TestUpload_cleansFilename(t *testing.T) {
	f := newFixture(t)
	doc, err := f.svc.Upload(context.Background(), "alice", "../../etc/notes\x00.md", "", []byte("# Notes\n\nBody"))
	require.NoError(t, err)
	assert.Equal(t, "notes.md", doc.OriginalFilename)
	assert.Equal(t, f.blobs.UserDir("alice"), filepath.Dir(doc.StoragePath))
}

func TestUpload_parseFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.svc.Upload(ctx, "alice", "broken.docx", "", []byte("not a zip archive"))
	require.NoError(t, err)

	status, err := f.svc.ProcessingStatus(ctx, "alice", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentFailed, status.Status)
	assert.Contains(t, status.Error, "DOCX")

	_, err = f.svc.Content(ctx, "alice", doc.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestGetAndList_ownership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ids []string
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		doc, err := f.svc.Upload(ctx, "alice", name, "text/plain", []byte("text of "+name))
		require.NoError(t, err)
		ids = append(ids, doc.ID)
	}

	_, err := f.svc.Get(ctx, "bob", ids[0])
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	page, total, err := f.svc.List(ctx, "alice", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, page, 2)
	assert.Empty(t, page[0].CanonicalText)

	page, _, err = f.svc.List(ctx, "alice", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	_, total, err = f.svc.List(ctx, "bob", 0, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSearch_usesIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.svc.Upload(ctx, "alice", "cell_biology.txt", "text/plain", []byte(biology))
	require.NoError(t, err)
	_, err = f.svc.Upload(ctx, "bob", "other.txt", "text/plain", []byte("Mitochondria again."))
	require.NoError(t, err)

	resp, err := f.svc.Search(ctx, "alice", models.SearchQuery{Query: "mitochondria"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, doc.ID, resp.Results[0].Document.ID)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Empty(t, resp.Results[0].Document.CanonicalText)
	assert.NotEmpty(t, resp.Results[0].Snippet)
	assert.False(t, resp.AutoFuzzy)

	resp, err = f.svc.Search(ctx, "alice", models.SearchQuery{Query: "cell"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)

	resp, err = f.svc.Search(ctx, "alice", models.SearchQuery{Query: "mitochondira"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.AutoFuzzy)

	_, err = f.svc.Search(ctx, "alice", models.SearchQuery{Query: "  "})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSearch_databaseFallback(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer store.Close()
	blobs, err := blob.NewStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)
	runner := &inlineRunner{}
	svc := NewService(store, blobs, runner)
	runner.handler = svc.Handler()

	ctx := context.Background()
	_, err = svc.Upload(ctx, "alice", "notes.txt", "text/plain", []byte(biology))
	require.NoError(t, err)

	resp, err := svc.Search(ctx, "alice", models.SearchQuery{Query: "Chloroplasts"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "notes.txt", resp.Results[0].Document.OriginalFilename)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Upload(ctx, "alice", "good.txt", "text/plain", []byte("hello world"))
	require.NoError(t, err)
	_, err = f.svc.Upload(ctx, "alice", "bad.docx", "", []byte("junk"))
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalFiles)
	assert.Equal(t, int64(15), stats.TotalSize)
	assert.Equal(t, int64(1), stats.CompletedFiles)
	assert.Equal(t, int64(1), stats.FailedFiles)
	require.NotNil(t, stats.DiskUsageBytes)
	assert.Equal(t, int64(15), *stats.DiskUsageBytes)
}

func TestRename(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.svc.Upload(ctx, "alice", "notes.txt", "text/plain", []byte(biology))
	require.NoError(t, err)

	renamed, err := f.svc.Rename(ctx, "alice", doc.ID, "genetics.txt")
	require.NoError(t, err)
	assert.Equal(t, "genetics.txt", renamed.OriginalFilename)

	resp, err := f.svc.Search(ctx, "alice", models.SearchQuery{Query: "genetics"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)

	_, err = f.svc.Rename(ctx, "alice", doc.ID, " ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.Rename(ctx, "bob", doc.ID, "x.txt")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRemove_cascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.svc.Upload(ctx, "alice", "notes.txt", "text/plain", []byte(biology))
	require.NoError(t, err)
	_, err = f.store.ReplaceOverlapping(ctx, &models.Annotation{
		ID: "a1", DocumentID: doc.ID, UserID: "alice", Kind: models.AnnotationFocus,
		Text: "Cell", StartOffset: 0, EndOffset: 4, Source: models.SourceManual,
	})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Remove(ctx, "bob", doc.ID), apperr.ErrNotFound)
	require.NoError(t, f.svc.Remove(ctx, "alice", doc.ID))

	_, err = f.svc.Get(ctx, "alice", doc.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.store.GetAnnotation(ctx, "alice", "a1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = os.Stat(doc.StoragePath)
	assert.True(t, os.IsNotExist(err), "upload is deleted")
	n, err := f.index.DocCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIngest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inbox := t.TempDir()
	path := filepath.Join(inbox, "lecture.md")
	require.NoError(t, os.WriteFile(path, []byte("# Lecture\n\nEnzymes speed up reactions."), 0644))

	doc, err := f.svc.Ingest(ctx, "alice", path)
	require.NoError(t, err)
	assert.Equal(t, fileid.DocumentID("alice", path), doc.ID)

	got, err := f.svc.Get(ctx, "alice", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentCompleted, got.Status)
	assert.Equal(t, path, got.Metadata[metaKeySourcePath])
	assert.Equal(t, "markdown", got.Metadata["format"])

	again, err := f.svc.Ingest(ctx, "alice", path)
	require.NoError(t, err)
	assert.Equal(t, got.CreatedAt, again.CreatedAt, "unchanged file is skipped")

	later := time.Now().Add(time.Minute)
	require.NoError(t, os.WriteFile(path, []byte("# Lecture\n\nEnzymes lower activation energy."), 0644))
	require.NoError(t, os.Chtimes(path, later, later))
	replaced, err := f.svc.Ingest(ctx, "alice", path)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, replaced.ID)

	content, err := f.svc.Content(ctx, "alice", doc.ID)
	require.NoError(t, err)
	assert.Contains(t, content.CanonicalText, "activation energy")

	require.NoError(t, f.svc.Forget(ctx, "alice", path))
	_, err = f.svc.Get(ctx, "alice", doc.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, f.svc.Forget(ctx, "alice", path), "forgetting twice is fine")
}

func TestIngest_rejectsUnsupported(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0644))

	_, err := f.svc.Ingest(context.Background(), "alice", path)
	assert.ErrorIs(t, err, apperr.ErrUnsupportedFormat)
}

func TestIngestDirectory(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.md"), []byte("beta"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.png"), []byte("png"), 0644))

	n, err := f.svc.IngestDirectory(context.Background(), "alice", dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.svc.IngestDirectory(context.Background(), "alice", dir, []string{"md"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIngestible(t *testing.T) {
	tests := []struct {
		path    string
		allowed []string
		want    bool
	}{
		{"notes.txt", nil, true},
		{"notes.TXT", []string{".txt"}, true},
		{"notes.md", []string{"txt"}, false},
		{"image.png", nil, false},
		{"archive.zip", []string{"zip"}, false},
	}
	for _, tt := range tests {
		if got := Ingestible(tt.path, tt.allowed); got != tt.want {
			t.Errorf("Ingestible(%q, %v): got %v, want %v", tt.path, tt.allowed, got, tt.want)
		}
	}
}
